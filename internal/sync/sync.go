package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	gosync "sync"
	"time"

	"github.com/conorfennell/knoldeck/internal/gitsource"
	"github.com/conorfennell/knoldeck/internal/knol"
	"github.com/conorfennell/knoldeck/internal/parser"
	"github.com/conorfennell/knoldeck/internal/storage"
)

var (
	// ErrEmptyPath is returned when a source is added without a path.
	ErrEmptyPath = errors.New("sync: source path cannot be empty")
	// ErrSourceExists is returned when a source with the same path is already registered.
	ErrSourceExists = errors.New("sync: source already exists")
)

// Syncer reconciles card sources into the database.
type Syncer struct {
	mu       gosync.Mutex
	db       *storage.DB
	reposDir string
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Syncer that clones git sources under reposDir.
func New(db *storage.DB, reposDir string, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		db:       db,
		reposDir: reposDir,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SourceType reports whether path looks like a git remote or a local directory.
func SourceType(path string) string {
	if strings.HasSuffix(path, ".git") || strings.HasPrefix(path, "git@") || strings.HasPrefix(path, "https://") {
		return storage.SourceGit
	}
	return storage.SourceLocal
}

// AddSource registers a new source. Local paths are stored as absolute paths.
func (s *Syncer) AddSource(ctx context.Context, path string) (storage.Source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return storage.Source{}, ErrEmptyPath
	}
	sourceType := SourceType(path)
	if sourceType == storage.SourceLocal {
		abs, err := filepath.Abs(path)
		if err != nil {
			return storage.Source{}, fmt.Errorf("resolving %s: %w", path, err)
		}
		path = abs
	}

	if _, err := s.db.FindSourceByPath(ctx, path); err == nil {
		return storage.Source{}, fmt.Errorf("%w: %s", ErrSourceExists, path)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return storage.Source{}, err
	}

	id, err := s.db.InsertSource(ctx, path, sourceType)
	if err != nil {
		return storage.Source{}, err
	}
	s.logger.Info("Source added", "id", id, "type", sourceType, "path", path)
	return storage.Source{ID: id, Path: path, Type: sourceType}, nil
}

// Report summarizes one sync run.
type Report struct {
	Sources  int `json:"sources"`
	Parsed   int `json:"parsed_cards"`
	Inserted int `json:"inserted"`
	Deleted  int `json:"orphaned_deleted"`
	Errors   int `json:"errors"`
}

func (r *Report) add(o Report) {
	r.Parsed += o.Parsed
	r.Inserted += o.Inserted
	r.Deleted += o.Deleted
	r.Errors += o.Errors
}

// RunSync iterates over all sources and reconciles them. A failing source is
// logged and counted; it does not stop the others. Concurrent calls are
// serialized.
//
// Orphans are pruned only after every source has been scanned, so a card that
// one source dropped but another still holds is handed over instead of
// deleted. A source whose scan was incomplete prunes nothing.
func (s *Syncer) RunSync(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Starting sync process for all sources...")
	sources, err := s.db.GetAllSources(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to get sources: %w", err)
	}

	var report Report
	report.Sources = len(sources)
	if len(sources) == 0 {
		s.logger.Info("No sources configured. Add one with --add-source <path/or/url.git>")
		return report, nil
	}

	now := s.now()
	found := make(holders)
	var scans []scanResult
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.logger.Info("Syncing source", "id", source.ID, "type", source.Type, "path", source.Path)

		root := source.Path
		if source.Type == storage.SourceGit {
			localRepoPath, err := gitURLToLocalPath(s.reposDir, source.Path)
			if err != nil {
				s.logger.Error("Error determining local path for git repo", "url", source.Path, "error", err)
				report.Errors++
				continue
			}
			if err := os.MkdirAll(filepath.Dir(localRepoPath), os.ModePerm); err != nil {
				s.logger.Error("Failed to create repos directory", "error", err)
				report.Errors++
				continue
			}
			if err := gitsource.Sync(ctx, s.logger, source.Path, localRepoPath); err != nil {
				s.logger.Error("Error syncing git repo", "url", source.Path, "error", err)
				report.Errors++
				continue
			}
			root = localRepoPath
		}

		scan := s.scan(ctx, source, root, found, now)
		report.add(scan.report)
		scans = append(scans, scan)
	}

	for _, scan := range scans {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.add(s.prune(ctx, scan, found, now))
	}

	s.logger.Info("Sync process complete.",
		"sources", report.Sources,
		"inserted", report.Inserted,
		"deleted", report.Deleted,
		"errors", report.Errors,
	)
	return report, nil
}

// holders maps a card hash to the sources that contain it, in scan order.
type holders map[string][]int64

func (h holders) has(hash string, sourceID int64) bool {
	return slices.Contains(h[hash], sourceID)
}

type scanResult struct {
	source   storage.Source
	root     string
	complete bool
	report   Report
}

// scan inserts cards found under root that are not stored yet and records
// every hash it sees in found. Existing cards keep their review state.
func (s *Syncer) scan(ctx context.Context, source storage.Source, root string, found holders, now time.Time) scanResult {
	result := scanResult{source: source, root: root, complete: true}
	report := &result.report

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}

		fileCards, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			s.logger.Warn("Failed to parse file, keeping its stored cards", "path", path, "error", parseErr)
			report.Errors++
			result.complete = false
		}
		for _, card := range fileCards {
			card.Hash = knol.Hash(card)
			report.Parsed++
			if found.has(card.Hash, source.ID) {
				continue
			}
			seen := len(found[card.Hash]) > 0
			found[card.Hash] = append(found[card.Hash], source.ID)
			if seen {
				// An earlier source already stored or refreshed it this run.
				continue
			}

			existing, findErr := s.db.FindCard(ctx, card.Hash)
			switch {
			case errors.Is(findErr, storage.ErrNotFound):
				s.logger.Debug("New card found, inserting...", "hash", knol.Short(card.Hash, 12), "deck", card.Deck)
				if err := s.db.InsertCard(ctx, card, source.ID, now); err != nil {
					s.logger.Warn("Failed to insert card", "hash", card.Hash, "error", err)
					report.Errors++
					continue
				}
				report.Inserted++
			case findErr != nil:
				s.logger.Warn("Failed to look up card", "hash", card.Hash, "error", findErr)
				report.Errors++
			case existing.Card.Deck != card.Deck:
				if err := s.db.UpdateCardDeck(ctx, card.Hash, card.Deck); err != nil {
					s.logger.Warn("Failed to move card to deck", "hash", card.Hash, "deck", card.Deck, "error", err)
					report.Errors++
				}
			}
		}
		return nil
	})

	if walkErr != nil {
		s.logger.Error("Error walking directory", "path", root, "error", walkErr)
		report.Errors++
		result.complete = false
	}
	return result
}

// prune deletes stored cards of a fully scanned source that no source holds
// any more. Cards still held by another source are moved to it.
func (s *Syncer) prune(ctx context.Context, scan scanResult, found holders, now time.Time) Report {
	var report Report
	source := scan.source
	if !scan.complete {
		s.logger.Warn("Skipping orphan cleanup after an incomplete scan", "source_id", source.ID, "path", scan.root)
		return report
	}

	dbCards, err := s.db.ListCards(ctx, storage.CardFilter{SourceID: source.ID})
	if err != nil {
		s.logger.Error("Error getting cards for source", "source_id", source.ID, "error", err)
		report.Errors++
		return report
	}

	for _, rec := range dbCards {
		hash := rec.Card.Hash
		if found.has(hash, source.ID) {
			continue
		}
		if others := found[hash]; len(others) > 0 {
			s.logger.Info("Card moved to another source", "hash", knol.Short(hash, 12), "source_id", others[0])
			if err := s.db.UpdateCardSource(ctx, hash, others[0]); err != nil {
				s.logger.Warn("Failed to move card to source", "hash", hash, "error", err)
				report.Errors++
			}
			continue
		}
		s.logger.Info("Orphaned card, deleting", "hash", knol.Short(hash, 12))
		if err := s.db.DeleteCard(ctx, hash); err != nil {
			s.logger.Warn("Failed to delete orphaned card", "hash", hash, "error", err)
			report.Errors++
			continue
		}
		report.Deleted++
	}

	if err := s.db.UpdateSourceLastScanned(ctx, source.ID, now); err != nil {
		s.logger.Warn("Failed to update last scanned for source", "source_id", source.ID, "error", err)
	}

	s.logger.Info("reconciliation complete",
		"path", scan.root,
		"parsed_cards", scan.report.Parsed,
		"inserted", scan.report.Inserted,
		"orphaned_deleted", report.Deleted,
		"errors", scan.report.Errors+report.Errors,
	)
	return report
}

func gitURLToLocalPath(baseDir, repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err != nil || (parsedURL.Scheme != "https" && parsedURL.Scheme != "http") {
		if strings.Contains(repoURL, "@") {
			parts := strings.Split(repoURL, ":")
			if len(parts) == 2 {
				hostAndUser := strings.Split(parts[0], "@")
				if len(hostAndUser) == 2 {
					host := hostAndUser[1]
					repoPath := strings.TrimSuffix(parts[1], ".git")
					return filepath.Join(baseDir, host, repoPath), nil
				}
			}
		}
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}

	sanitizedPath := strings.TrimSuffix(parsedURL.Path, ".git")
	return filepath.Join(baseDir, parsedURL.Host, sanitizedPath), nil
}
