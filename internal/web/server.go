package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/conorfennell/knoldeck/internal/review"
	"github.com/conorfennell/knoldeck/internal/sm2"
	"github.com/conorfennell/knoldeck/internal/storage"
	"github.com/conorfennell/knoldeck/internal/sync"
)

const maxBodyBytes = 1 << 20

// Server holds the dependencies for the HTTP server.
type Server struct {
	db      *storage.DB
	reviews *review.Service
	syncer  *sync.Syncer
	logger  *slog.Logger
	router  *http.ServeMux
}

// NewServer creates and configures a new server.
func NewServer(db *storage.DB, reviews *review.Service, syncer *sync.Syncer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		db:      db,
		reviews: reviews,
		syncer:  syncer,
		logger:  logger,
		router:  http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("GET /healthz", s.handleHealth())

	s.router.HandleFunc("GET /api/decks", s.handleGetDecks())
	s.router.HandleFunc("GET /api/stats", s.handleGetStats())
	s.router.HandleFunc("GET /api/cards/due", s.handleGetDue())
	s.router.HandleFunc("GET /api/cards/{hash}", s.handleGetCard())
	s.router.HandleFunc("GET /api/cards/{hash}/preview", s.handleGetPreview())
	s.router.HandleFunc("POST /api/cards/{hash}/review", s.handlePostReview())

	// Source management routes
	s.router.HandleFunc("GET /api/sources", s.handleGetSources())
	s.router.HandleFunc("POST /api/sources", s.handlePostSource())
	s.router.HandleFunc("DELETE /api/sources/{id}", s.handleDeleteSource())
	s.router.HandleFunc("POST /api/sync", s.handlePostSync())
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

// writeError maps domain errors onto HTTP statuses. Anything unexpected is
// logged and reported as a 500 without details.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"
	switch {
	case errors.Is(err, sm2.ErrInvalidQuality):
		status, msg = http.StatusBadRequest, "invalid rating: quality_rating must be between 1 and 4"
	case errors.Is(err, review.ErrInvalidRequest), errors.Is(err, sync.ErrEmptyPath):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, storage.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, storage.ErrConflict), errors.Is(err, sync.ErrSourceExists):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, context.Canceled):
		return
	default:
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// cardSummary is the listing form of a card; the answer is left out so a due
// list can be shown question first.
type cardSummary struct {
	Hash         string    `json:"hash"`
	Question     string    `json:"question"`
	Deck         string    `json:"deck"`
	DueDate      time.Time `json:"due_date"`
	IntervalDays int       `json:"interval_days"`
	EaseFactor   float64   `json:"ease_factor"`
	Repetitions  int       `json:"repetitions"`
}

func summarize(rec storage.CardRecord) cardSummary {
	return cardSummary{
		Hash:         rec.Card.Hash,
		Question:     rec.Card.Question,
		Deck:         rec.Card.Deck,
		DueDate:      rec.State.DueDate,
		IntervalDays: rec.State.IntervalDays,
		EaseFactor:   rec.State.EaseFactor,
		Repetitions:  rec.State.Repetitions,
	}
}

type cardDetail struct {
	cardSummary
	Answer         string     `json:"answer"`
	Context        string     `json:"context,omitempty"`
	LastReviewedAt *time.Time `json:"last_reviewed_at"`
	Difficulty     string     `json:"difficulty"`
	Retention      float64    `json:"retention"`
	Due            bool       `json:"due"`
}

// handleGetDue lists the cards due now, optionally for one deck.
func (s *Server) handleGetDue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := review.DueQuery{Deck: r.URL.Query().Get("deck")}
		if v := r.URL.Query().Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 1 {
				s.badRequest(w, "limit must be a positive integer")
				return
			}
			q.Limit = limit
		}

		due, err := s.reviews.Due(r.Context(), q)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out := make([]cardSummary, len(due))
		for i, rec := range due {
			out[i] = summarize(rec)
		}
		s.writeJSON(w, http.StatusOK, out)
	}
}

// handleGetCard renders both sides of a card with its schedule.
func (s *Server) handleGetCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := s.reviews.Card(r.Context(), r.PathValue("hash"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, cardDetail{
			cardSummary:    summarize(d.Record),
			Answer:         d.Record.Card.Answer,
			Context:        d.Record.Card.Context,
			LastReviewedAt: d.Record.State.LastReviewedAt,
			Difficulty:     d.Difficulty,
			Retention:      d.Retention,
			Due:            d.Due,
		})
	}
}

func (s *Server) handleGetPreview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		preview, err := s.reviews.Preview(r.Context(), r.PathValue("hash"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, preview)
	}
}

// handlePostReview processes a review and returns the card's new schedule.
func (s *Server) handlePostReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req review.Request
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, sm2.ErrInvalidQuality) {
				s.writeError(w, r, err)
				return
			}
			s.badRequest(w, "invalid request body")
			return
		}

		res, err := s.reviews.Review(r.Context(), r.PathValue("hash"), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleGetStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := s.reviews.Stats(r.Context(), r.URL.Query().Get("deck"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, st)
	}
}

func (s *Server) handleGetDecks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decks, err := s.db.Decks(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if decks == nil {
			decks = []storage.DeckSummary{}
		}
		s.writeJSON(w, http.StatusOK, decks)
	}
}

type sourceView struct {
	ID          int64      `json:"id"`
	Path        string     `json:"path"`
	Type        string     `json:"type"`
	LastScanned *time.Time `json:"last_scanned"`
}

func (s *Server) listSources(ctx context.Context) ([]sourceView, error) {
	sources, err := s.db.GetAllSources(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]sourceView, len(sources))
	for i, src := range sources {
		out[i] = sourceView{ID: src.ID, Path: src.Path, Type: src.Type}
		if src.LastScanned.Valid {
			t := src.LastScanned.Time
			out[i].LastScanned = &t
		}
	}
	return out, nil
}

// handleGetSources lists every configured source.
func (s *Server) handleGetSources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := s.listSources(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, sources)
	}
}

// handlePostSource adds a new source and returns the updated source list.
func (s *Server) handlePostSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
			s.badRequest(w, "invalid request body")
			return
		}

		if _, err := s.syncer.AddSource(r.Context(), body.Path); err != nil {
			s.writeError(w, r, err)
			return
		}

		sources, err := s.listSources(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, sources)
	}
}

// handleDeleteSource deletes a source together with its cards.
func (s *Server) handleDeleteSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			s.badRequest(w, "invalid source ID")
			return
		}

		if err := s.db.DeleteSource(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handlePostSync triggers a manual sync and returns its report.
func (s *Server) handlePostSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Run in the foreground to make the caller wait.
		report, err := s.syncer.RunSync(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, report)
	}
}
