// Package review applies SM-2 reviews to stored cards and answers due-card
// queries.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/sm2"
	"github.com/conorfennell/knoldeck/internal/storage"
	"github.com/conorfennell/knoldeck/internal/validation"
)

const (
	// DefaultDueLimit caps due-card queries that do not ask for a size.
	DefaultDueLimit = 20
	// MaxDueLimit is the largest accepted due-card limit.
	MaxDueLimit = 100

	maxSaveAttempts = 3
)

// ErrInvalidRequest is returned for malformed requests other than a bad rating.
var ErrInvalidRequest = errors.New("review: invalid request")

// Store is the persistence the service needs.
type Store interface {
	FindCard(ctx context.Context, hash string) (*storage.CardRecord, error)
	ListCards(ctx context.Context, filter storage.CardFilter) ([]storage.CardRecord, error)
	SaveReview(ctx context.Context, hash string, version int64, state sm2.ReviewState, log domain.ReviewLog) error
	CountReviews(ctx context.Context, deck string, since time.Time) (storage.ReviewCounts, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// Service reviews cards and lists the ones that are due.
type Service struct {
	store        Store
	clock        Clock
	logger       *slog.Logger
	defaultLimit int
}

// NewService creates a Service. A nil clock uses SystemClock, a nil logger
// uses slog.Default and a non-positive defaultLimit uses DefaultDueLimit.
func NewService(store Store, clock Clock, logger *slog.Logger, defaultLimit int) *Service {
	if clock == nil {
		clock = SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultDueLimit
	}
	return &Service{
		store:        store,
		clock:        clock,
		logger:       logger,
		defaultLimit: min(defaultLimit, MaxDueLimit),
	}
}

// Request is a single review submitted by the user.
type Request struct {
	QualityRating    sm2.Quality `json:"quality_rating" validate:"required,min=1,max=4"`
	TimeSpentSeconds float64     `json:"time_spent_seconds" validate:"min=0"`
}

// Result is the card's schedule after a review.
type Result struct {
	Hash           string    `json:"hash"`
	NewEaseFactor  float64   `json:"new_ease_factor"`
	NewInterval    int       `json:"new_interval_days"`
	Repetitions    int       `json:"repetitions"`
	NextReviewDate time.Time `json:"next_review_date"`
}

func (s *Service) validateRequest(req Request) error {
	err := validation.Struct(req)
	if err == nil {
		return nil
	}
	var verr *validation.Error
	if errors.As(err, &verr) && verr.Has("QualityRating") {
		return fmt.Errorf("%w: %d", sm2.ErrInvalidQuality, int(req.QualityRating))
	}
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}

// Review records a review of the card identified by hash. Invalid ratings are
// rejected before anything is read or written. A concurrent review of the same
// card is retried against the fresh state; storage.ErrConflict is returned if
// that keeps failing.
func (s *Service) Review(ctx context.Context, hash string, req Request) (Result, error) {
	if err := s.validateRequest(req); err != nil {
		return Result{}, err
	}

	for attempt := 1; ; attempt++ {
		rec, err := s.store.FindCard(ctx, hash)
		if err != nil {
			return Result{}, err
		}

		now := s.clock.Now()
		next, err := sm2.Review(rec.State, req.QualityRating, now)
		if err != nil {
			return Result{}, err
		}

		log := domain.ReviewLog{
			CardHash:         hash,
			ReviewedAt:       now,
			Quality:          int(req.QualityRating),
			TimeSpentSeconds: req.TimeSpentSeconds,
			WasCorrect:       req.QualityRating.Passed(),
		}
		err = s.store.SaveReview(ctx, hash, rec.Version, next, log)
		if errors.Is(err, storage.ErrConflict) && attempt < maxSaveAttempts {
			s.logger.Warn("Concurrent review, retrying", "hash", hash, "attempt", attempt)
			continue
		}
		if err != nil {
			return Result{}, err
		}

		s.logger.Info("Card reviewed",
			"hash", hash,
			"quality", req.QualityRating.String(),
			"interval_days", next.IntervalDays,
			"ease_factor", next.EaseFactor,
		)
		return Result{
			Hash:           hash,
			NewEaseFactor:  next.EaseFactor,
			NewInterval:    next.IntervalDays,
			Repetitions:    next.Repetitions,
			NextReviewDate: next.DueDate,
		}, nil
	}
}

// DueQuery selects due cards. Limit 0 means the service default.
type DueQuery struct {
	Deck  string `validate:"max=200"`
	Limit int    `validate:"min=0,max=100"`
}

// Due returns the cards due now, oldest due date first.
func (s *Service) Due(ctx context.Context, q DueQuery) ([]storage.CardRecord, error) {
	if err := validation.Struct(q); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	limit := q.Limit
	if limit == 0 {
		limit = s.defaultLimit
	}

	now := s.clock.Now()
	recs, err := s.store.ListCards(ctx, storage.CardFilter{Deck: q.Deck, DueAt: now})
	if err != nil {
		return nil, err
	}

	entries := make([]sm2.Entry, len(recs))
	byHash := make(map[string]storage.CardRecord, len(recs))
	for i, rec := range recs {
		entries[i] = sm2.Entry{ID: rec.Card.Hash, State: rec.State}
		byHash[rec.Card.Hash] = rec
	}

	ids := sm2.DueCards(entries, now, limit)
	due := make([]storage.CardRecord, len(ids))
	for i, id := range ids {
		due[i] = byHash[id]
	}
	return due, nil
}

// Detail is a card with derived scheduling information.
type Detail struct {
	Record     storage.CardRecord
	Difficulty string
	Retention  float64
	Due        bool
}

// Card returns a single card with its difficulty label and estimated retention.
func (s *Service) Card(ctx context.Context, hash string) (Detail, error) {
	rec, err := s.store.FindCard(ctx, hash)
	if err != nil {
		return Detail{}, err
	}
	now := s.clock.Now()
	return Detail{
		Record:     *rec,
		Difficulty: sm2.DifficultyLabel(rec.State.EaseFactor),
		Retention:  sm2.Retention(rec.State, now),
		Due:        rec.State.IsDue(now),
	}, nil
}

// Preview returns the schedule each rating would produce, keyed by rating name.
func (s *Service) Preview(ctx context.Context, hash string) (map[string]sm2.ReviewState, error) {
	rec, err := s.store.FindCard(ctx, hash)
	if err != nil {
		return nil, err
	}
	outcomes := sm2.Preview(rec.State, s.clock.Now())
	out := make(map[string]sm2.ReviewState, len(outcomes))
	for q, st := range outcomes {
		out[q.String()] = st
	}
	return out, nil
}

// Stats summarizes a deck, or every card when deck is empty.
type Stats struct {
	TotalCards    int     `json:"total_cards"`
	DueToday      int     `json:"due_today"` // due as of now
	ReviewsToday  int     `json:"reviews_today"`
	CorrectToday  int     `json:"correct_today"`
	AccuracyToday float64 `json:"accuracy_today"` // percent passed, one decimal
}

// Stats counts cards and today's reviews. The day starts at midnight in the
// clock's location.
func (s *Service) Stats(ctx context.Context, deck string) (Stats, error) {
	now := s.clock.Now()
	recs, err := s.store.ListCards(ctx, storage.CardFilter{Deck: deck})
	if err != nil {
		return Stats{}, err
	}

	st := Stats{TotalCards: len(recs)}
	for _, rec := range recs {
		if rec.State.IsDue(now) {
			st.DueToday++
		}
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	counts, err := s.store.CountReviews(ctx, deck, dayStart)
	if err != nil {
		return Stats{}, err
	}
	st.ReviewsToday = counts.Total
	st.CorrectToday = counts.Correct
	if counts.Total > 0 {
		pct := float64(counts.Correct) / float64(counts.Total) * 100
		st.AccuracyToday = math.Round(pct*10) / 10
	}
	return st, nil
}
