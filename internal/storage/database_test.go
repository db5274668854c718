package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/sm2"
)

var now = time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedCard(t *testing.T, db *DB, sourceID int64, hash, deck string, at time.Time) {
	t.Helper()
	card := domain.Card{Question: "Q " + hash, Answer: "A " + hash, Deck: deck, Hash: hash}
	if err := db.InsertCard(context.Background(), card, sourceID, at); err != nil {
		t.Fatalf("InsertCard(%s) failed: %v", hash, err)
	}
}

func TestInsertAndFindCard(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	seedCard(t, db, 0, "h1", "go", now)

	rec, err := db.FindCard(ctx, "h1")
	if err != nil {
		t.Fatalf("FindCard() failed: %v", err)
	}
	if rec.Card.Question != "Q h1" || rec.Card.Deck != "go" {
		t.Errorf("unexpected card: %+v", rec.Card)
	}
	if rec.State.EaseFactor != sm2.InitialEaseFactor || rec.State.IntervalDays != 0 || rec.State.Repetitions != 0 {
		t.Errorf("expected a fresh review state, got %+v", rec.State)
	}
	if !rec.State.DueDate.Equal(now) {
		t.Errorf("DueDate = %v, want %v", rec.State.DueDate, now)
	}
	if rec.State.LastReviewedAt != nil {
		t.Errorf("LastReviewedAt = %v, want nil", rec.State.LastReviewedAt)
	}

	if _, err := db.FindCard(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindCard(missing) error = %v, want ErrNotFound", err)
	}
}

func TestListCards(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	seedCard(t, db, 0, "late", "go", now.Add(2*time.Hour))
	seedCard(t, db, 0, "early", "go", now.Add(-time.Hour))
	seedCard(t, db, 0, "other", "rust", now.Add(-2*time.Hour))

	t.Run("all cards ordered by due date", func(t *testing.T) {
		cards, err := db.ListCards(ctx, CardFilter{})
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"other", "early", "late"}
		if len(cards) != len(want) {
			t.Fatalf("got %d cards, want %d", len(cards), len(want))
		}
		for i, h := range want {
			if cards[i].Card.Hash != h {
				t.Errorf("cards[%d] = %s, want %s", i, cards[i].Card.Hash, h)
			}
		}
	})

	t.Run("deck and due filter", func(t *testing.T) {
		cards, err := db.ListCards(ctx, CardFilter{Deck: "go", DueAt: now})
		if err != nil {
			t.Fatal(err)
		}
		if len(cards) != 1 || cards[0].Card.Hash != "early" {
			t.Errorf("got %+v, want only 'early'", cards)
		}
	})
}

func TestSaveReview(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	seedCard(t, db, 0, "h1", "go", now)

	rec, err := db.FindCard(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	next, err := sm2.Review(rec.State, sm2.Good, now)
	if err != nil {
		t.Fatal(err)
	}
	log := domain.ReviewLog{CardHash: "h1", ReviewedAt: now, Quality: 3, TimeSpentSeconds: 2.5, WasCorrect: true}

	if err := db.SaveReview(ctx, "h1", rec.Version, next, log); err != nil {
		t.Fatalf("SaveReview() failed: %v", err)
	}

	got, err := db.FindCard(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != rec.Version+1 {
		t.Errorf("Version = %d, want %d", got.Version, rec.Version+1)
	}
	if got.State.Repetitions != 1 || got.State.IntervalDays != 1 {
		t.Errorf("unexpected stored state: %+v", got.State)
	}
	if got.State.LastReviewedAt == nil || !got.State.LastReviewedAt.Equal(now) {
		t.Errorf("LastReviewedAt = %v, want %v", got.State.LastReviewedAt, now)
	}

	t.Run("stale version conflicts", func(t *testing.T) {
		err := db.SaveReview(ctx, "h1", rec.Version, next, log)
		if !errors.Is(err, ErrConflict) {
			t.Errorf("SaveReview with stale version error = %v, want ErrConflict", err)
		}
		logs, err := db.ReviewLogs(ctx, "h1")
		if err != nil {
			t.Fatal(err)
		}
		if len(logs) != 1 {
			t.Errorf("got %d review logs, want 1", len(logs))
		}
	})

	t.Run("missing card", func(t *testing.T) {
		err := db.SaveReview(ctx, "nope", 0, next, log)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("SaveReview on missing card error = %v, want ErrNotFound", err)
		}
	})

	t.Run("counts", func(t *testing.T) {
		counts, err := db.CountReviews(ctx, "", now.Add(-time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if counts.Total != 1 || counts.Correct != 1 {
			t.Errorf("CountReviews = %+v, want 1/1", counts)
		}
		counts, err = db.CountReviews(ctx, "rust", now.Add(-time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if counts.Total != 0 {
			t.Errorf("CountReviews(rust) = %+v, want 0", counts)
		}
	})
}

func TestSourcesCascade(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	id, err := db.InsertSource(ctx, "/notes", SourceLocal)
	if err != nil {
		t.Fatalf("InsertSource() failed: %v", err)
	}
	seedCard(t, db, id, "h1", "notes", now)
	seedCard(t, db, id, "h2", "notes", now)

	src, err := db.FindSourceByPath(ctx, "/notes")
	if err != nil {
		t.Fatal(err)
	}
	if src.ID != id || src.Type != SourceLocal || src.LastScanned.Valid {
		t.Errorf("unexpected source: %+v", src)
	}

	if err := db.UpdateSourceLastScanned(ctx, id, now); err != nil {
		t.Fatal(err)
	}
	sources, err := db.GetAllSources(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 1 || !sources[0].LastScanned.Valid {
		t.Errorf("unexpected sources: %+v", sources)
	}

	cards, err := db.ListCards(ctx, CardFilter{SourceID: id})
	if err != nil || len(cards) != 2 {
		t.Fatalf("ListCards by source = %d cards, %v; want 2", len(cards), err)
	}

	decks, err := db.Decks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(decks) != 1 || decks[0].Name != "notes" || decks[0].Cards != 2 {
		t.Errorf("Decks = %+v", decks)
	}

	if err := db.DeleteSource(ctx, id); err != nil {
		t.Fatalf("DeleteSource() failed: %v", err)
	}
	if _, err := db.FindCard(ctx, "h1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("card survived source deletion: %v", err)
	}
	if err := db.DeleteSource(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteSource error = %v, want ErrNotFound", err)
	}
}

func TestDeleteCardRemovesLogs(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	seedCard(t, db, 0, "h1", "go", now)
	rec, _ := db.FindCard(ctx, "h1")
	next, _ := sm2.Review(rec.State, sm2.Again, now)
	if err := db.SaveReview(ctx, "h1", rec.Version, next, domain.ReviewLog{CardHash: "h1", ReviewedAt: now, Quality: 1}); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteCard(ctx, "h1"); err != nil {
		t.Fatal(err)
	}
	logs, err := db.ReviewLogs(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 0 {
		t.Errorf("got %d logs after card deletion, want 0", len(logs))
	}
}

func TestUpdateCardSource(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	first, err := db.InsertSource(ctx, "/first", SourceLocal)
	if err != nil {
		t.Fatal(err)
	}
	second, err := db.InsertSource(ctx, "/second", SourceLocal)
	if err != nil {
		t.Fatal(err)
	}
	seedCard(t, db, first, "h1", "notes", now)

	if err := db.UpdateCardSource(ctx, "h1", second); err != nil {
		t.Fatalf("UpdateCardSource() failed: %v", err)
	}
	rec, err := db.FindCard(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.SourceID.Int64 != second {
		t.Errorf("SourceID = %v, want %d", rec.SourceID, second)
	}

	if err := db.DeleteSource(ctx, first); err != nil {
		t.Fatal(err)
	}
	if _, err := db.FindCard(ctx, "h1"); err != nil {
		t.Errorf("card was removed with its former source: %v", err)
	}
	if err := db.UpdateCardSource(ctx, "missing", second); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateCardSource(missing) error = %v, want ErrNotFound", err)
	}
}
