package review

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/sm2"
	"github.com/conorfennell/knoldeck/internal/storage"
)

var now = time.Date(2026, 6, 2, 14, 0, 0, 0, time.UTC)

func fixedClock() Clock {
	return ClockFunc(func() time.Time { return now })
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *storage.DB) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "review.db"))
	if err != nil {
		t.Fatalf("storage.Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewService(db, fixedClock(), discardLogger(), 0), db
}

func addCard(t *testing.T, db *storage.DB, hash, deck string, due time.Time) {
	t.Helper()
	card := domain.Card{Question: "Q " + hash, Answer: "A", Deck: deck, Hash: hash}
	if err := db.InsertCard(context.Background(), card, 0, due); err != nil {
		t.Fatalf("InsertCard(%s) failed: %v", hash, err)
	}
}

func TestReview(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)
	addCard(t, db, "h1", "go", now)

	res, err := svc.Review(ctx, "h1", Request{QualityRating: sm2.Easy, TimeSpentSeconds: 3})
	if err != nil {
		t.Fatalf("Review() failed: %v", err)
	}
	if res.Repetitions != 1 || res.NewInterval != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.NewEaseFactor < 2.59 || res.NewEaseFactor > 2.61 {
		t.Errorf("NewEaseFactor = %v, want 2.6", res.NewEaseFactor)
	}
	if !res.NextReviewDate.Equal(now.AddDate(0, 0, 1)) {
		t.Errorf("NextReviewDate = %v, want %v", res.NextReviewDate, now.AddDate(0, 0, 1))
	}

	logs, err := db.ReviewLogs(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Quality != 4 || !logs[0].WasCorrect || logs[0].TimeSpentSeconds != 3 {
		t.Errorf("unexpected review logs: %+v", logs)
	}
}

func TestReviewRejectsInvalidRating(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)
	addCard(t, db, "h1", "go", now)

	for _, q := range []sm2.Quality{0, 5} {
		_, err := svc.Review(ctx, "h1", Request{QualityRating: q})
		if !errors.Is(err, sm2.ErrInvalidQuality) {
			t.Errorf("Review(quality=%d) error = %v, want ErrInvalidQuality", int(q), err)
		}
	}

	_, err := svc.Review(ctx, "h1", Request{QualityRating: sm2.Good, TimeSpentSeconds: -1})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("negative time spent error = %v, want ErrInvalidRequest", err)
	}

	rec, err := db.FindCard(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Version != 0 || rec.State.LastReviewedAt != nil {
		t.Errorf("rejected reviews changed the card: %+v", rec)
	}
	logs, _ := db.ReviewLogs(ctx, "h1")
	if len(logs) != 0 {
		t.Errorf("rejected reviews wrote %d logs", len(logs))
	}
}

func TestReviewUnknownCard(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Review(context.Background(), "nope", Request{QualityRating: sm2.Good})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Review(unknown) error = %v, want storage.ErrNotFound", err)
	}
}

// conflictStore fails SaveReview with ErrConflict a fixed number of times.
type conflictStore struct {
	Store
	conflicts int
	saves     int
}

func (c *conflictStore) SaveReview(ctx context.Context, hash string, version int64, state sm2.ReviewState, log domain.ReviewLog) error {
	c.saves++
	if c.conflicts > 0 {
		c.conflicts--
		return storage.ErrConflict
	}
	return c.Store.SaveReview(ctx, hash, version, state, log)
}

func TestReviewRetriesConflicts(t *testing.T) {
	ctx := context.Background()
	_, db := newTestService(t)
	addCard(t, db, "h1", "go", now)

	t.Run("recovers", func(t *testing.T) {
		store := &conflictStore{Store: db, conflicts: 1}
		svc := NewService(store, fixedClock(), discardLogger(), 0)
		if _, err := svc.Review(ctx, "h1", Request{QualityRating: sm2.Good}); err != nil {
			t.Fatalf("Review() failed: %v", err)
		}
		if store.saves != 2 {
			t.Errorf("saves = %d, want 2", store.saves)
		}
	})

	t.Run("gives up", func(t *testing.T) {
		store := &conflictStore{Store: db, conflicts: maxSaveAttempts}
		svc := NewService(store, fixedClock(), discardLogger(), 0)
		_, err := svc.Review(ctx, "h1", Request{QualityRating: sm2.Good})
		if !errors.Is(err, storage.ErrConflict) {
			t.Errorf("Review() error = %v, want ErrConflict", err)
		}
		if store.saves != maxSaveAttempts {
			t.Errorf("saves = %d, want %d", store.saves, maxSaveAttempts)
		}
	})
}

func TestDue(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)
	addCard(t, db, "future", "go", now.Add(time.Hour))
	addCard(t, db, "b", "go", now.Add(-time.Hour))
	addCard(t, db, "a", "go", now.Add(-3*time.Hour))
	addCard(t, db, "r", "rust", now.Add(-2*time.Hour))

	t.Run("all decks", func(t *testing.T) {
		due, err := svc.Due(ctx, DueQuery{})
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"a", "r", "b"}
		if len(due) != len(want) {
			t.Fatalf("Due() returned %d cards, want %d", len(due), len(want))
		}
		for i, h := range want {
			if due[i].Card.Hash != h {
				t.Errorf("due[%d] = %s, want %s", i, due[i].Card.Hash, h)
			}
		}
	})

	t.Run("deck and limit", func(t *testing.T) {
		due, err := svc.Due(ctx, DueQuery{Deck: "go", Limit: 1})
		if err != nil {
			t.Fatal(err)
		}
		if len(due) != 1 || due[0].Card.Hash != "a" {
			t.Errorf("Due(go, 1) = %+v, want [a]", due)
		}
	})

	t.Run("limit out of range", func(t *testing.T) {
		if _, err := svc.Due(ctx, DueQuery{Limit: 101}); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("Due(limit=101) error = %v, want ErrInvalidRequest", err)
		}
	})

	t.Run("default limit", func(t *testing.T) {
		small := NewService(db, fixedClock(), discardLogger(), 2)
		due, err := small.Due(ctx, DueQuery{})
		if err != nil {
			t.Fatal(err)
		}
		if len(due) != 2 {
			t.Errorf("Due() with default limit 2 returned %d cards", len(due))
		}
	})
}

func TestCardAndPreview(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)
	addCard(t, db, "h1", "go", now)

	detail, err := svc.Card(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if detail.Difficulty != "easy" || detail.Retention != 0 || !detail.Due {
		t.Errorf("unexpected detail: %+v", detail)
	}

	preview, err := svc.Preview(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"again", "hard", "good", "easy"} {
		if _, ok := preview[name]; !ok {
			t.Errorf("preview is missing %q", name)
		}
	}
	if preview["again"].Repetitions != 0 || preview["good"].Repetitions != 1 {
		t.Errorf("unexpected preview: %+v", preview)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)
	addCard(t, db, "h1", "go", now)
	addCard(t, db, "h2", "go", now)
	addCard(t, db, "h3", "go", now.Add(48*time.Hour))

	if _, err := svc.Review(ctx, "h1", Request{QualityRating: sm2.Good}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Review(ctx, "h2", Request{QualityRating: sm2.Again}); err != nil {
		t.Fatal(err)
	}

	st, err := svc.Stats(ctx, "go")
	if err != nil {
		t.Fatal(err)
	}
	want := Stats{TotalCards: 3, DueToday: 0, ReviewsToday: 2, CorrectToday: 1, AccuracyToday: 50}
	if st != want {
		t.Errorf("Stats() = %+v, want %+v", st, want)
	}

	if _, err := svc.Review(ctx, "h3", Request{QualityRating: sm2.Hard}); err != nil {
		t.Fatal(err)
	}
	st, err = svc.Stats(ctx, "go")
	if err != nil {
		t.Fatal(err)
	}
	if st.ReviewsToday != 3 || st.AccuracyToday != 33.3 {
		t.Errorf("Stats() after a third review = %+v, want accuracy_today 33.3", st)
	}
}
