package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/sm2"
)

// CardRecord is a stored card with its review state.
type CardRecord struct {
	Card     domain.Card
	State    sm2.ReviewState
	Version  int64
	SourceID sql.NullInt64 // Use NullInt64 for nullable source_id
}

// CardFilter narrows ListCards. Zero values match everything.
type CardFilter struct {
	Deck     string
	SourceID int64
	DueAt    time.Time // only cards with due_date <= DueAt
}

const cardColumns = `hash, question, answer, context, deck, ease_factor, interval_days,
	repetitions, due_date, last_review, version, source_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (CardRecord, error) {
	var (
		rec        CardRecord
		lastReview sql.NullTime
	)
	err := row.Scan(
		&rec.Card.Hash,
		&rec.Card.Question,
		&rec.Card.Answer,
		&rec.Card.Context,
		&rec.Card.Deck,
		&rec.State.EaseFactor,
		&rec.State.IntervalDays,
		&rec.State.Repetitions,
		&rec.State.DueDate,
		&lastReview,
		&rec.Version,
		&rec.SourceID,
	)
	if err != nil {
		return CardRecord{}, err
	}
	if lastReview.Valid {
		t := lastReview.Time
		rec.State.LastReviewedAt = &t
	}
	return rec, nil
}

// InsertCard inserts a new card with a fresh review state due at now.
func (db *DB) InsertCard(ctx context.Context, card domain.Card, sourceID int64, now time.Time) error {
	state := sm2.NewReviewState(now)
	var source any
	if sourceID != 0 {
		source = sourceID
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO cards (hash, question, answer, context, deck, ease_factor, interval_days,
			repetitions, due_date, source_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		card.Hash,
		card.Question,
		card.Answer,
		card.Context,
		card.Deck,
		state.EaseFactor,
		state.IntervalDays,
		state.Repetitions,
		utc(state.DueDate),
		source,
	)
	if err != nil {
		return fmt.Errorf("failed to insert card %s: %w", card.Hash, err)
	}
	return nil
}

// UpdateCardDeck refreshes the deck of an existing card. Content changes
// produce a new hash, so the deck is the only mutable field.
func (db *DB) UpdateCardDeck(ctx context.Context, hash, deck string) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE cards SET deck = ? WHERE hash = ?`, deck, hash)
	if err != nil {
		return fmt.Errorf("failed to update deck for card %s: %w", hash, err)
	}
	return nil
}

// UpdateCardSource hands a card over to another source. The review state
// is untouched.
func (db *DB) UpdateCardSource(ctx context.Context, hash string, sourceID int64) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE cards SET source_id = ? WHERE hash = ?`, sourceID, hash)
	if err != nil {
		return fmt.Errorf("failed to move card %s to source %d: %w", hash, sourceID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindCard retrieves a card and its review state by hash.
func (db *DB) FindCard(ctx context.Context, hash string) (*CardRecord, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE hash = ?`, hash)
	rec, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("card %s: %w", hash, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find card by hash %s: %w", hash, err)
	}
	return &rec, nil
}

// ListCards returns the cards matching filter ordered by due date, then
// insertion order.
func (db *DB) ListCards(ctx context.Context, filter CardFilter) ([]CardRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.Deck != "" {
		where = append(where, "deck = ?")
		args = append(args, filter.Deck)
	}
	if filter.SourceID != 0 {
		where = append(where, "source_id = ?")
		args = append(args, filter.SourceID)
	}
	if !filter.DueAt.IsZero() {
		where = append(where, "due_date <= ?")
		args = append(args, utc(filter.DueAt))
	}

	query := `SELECT ` + cardColumns + ` FROM cards`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY due_date, rowid`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	var cards []CardRecord
	for rows.Next() {
		rec, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		cards = append(cards, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate card rows: %w", err)
	}
	return cards, nil
}

// SaveReview writes the new review state of a card and its review log in one
// transaction. The update only applies when the stored version still equals
// version; otherwise ErrConflict is returned and nothing is written.
func (db *DB) SaveReview(ctx context.Context, hash string, version int64, state sm2.ReviewState, log domain.ReviewLog) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin review transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE cards
		SET ease_factor = ?, interval_days = ?, repetitions = ?, due_date = ?, last_review = ?,
			version = version + 1
		WHERE hash = ? AND version = ?
	`,
		state.EaseFactor,
		state.IntervalDays,
		state.Repetitions,
		utc(state.DueDate),
		nullTime(state.LastReviewedAt),
		hash,
		version,
	)
	if err != nil {
		return fmt.Errorf("failed to update review state for hash %s: %w", hash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for hash %s: %w", hash, err)
	}
	if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM cards WHERE hash = ?`, hash).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("card %s: %w", hash, ErrNotFound)
		}
		return fmt.Errorf("card %s at version %d: %w", hash, version, ErrConflict)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO review_logs (card_hash, reviewed_at, quality, time_spent_seconds, was_correct)
		VALUES (?, ?, ?, ?, ?)
	`,
		log.CardHash,
		utc(log.ReviewedAt),
		log.Quality,
		log.TimeSpentSeconds,
		log.WasCorrect,
	)
	if err != nil {
		return fmt.Errorf("failed to insert review log for hash %s: %w", hash, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit review for hash %s: %w", hash, err)
	}
	return nil
}

// DeleteCard removes a card, its review state and its review logs.
func (db *DB) DeleteCard(ctx context.Context, hash string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM cards WHERE hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("failed to delete card with hash %s: %w", hash, err)
	}
	return nil
}

// ReviewLogs returns the review history of a card, oldest first.
func (db *DB) ReviewLogs(ctx context.Context, hash string) ([]domain.ReviewLog, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT card_hash, reviewed_at, quality, time_spent_seconds, was_correct
		FROM review_logs WHERE card_hash = ? ORDER BY reviewed_at, id
	`, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get review logs for hash %s: %w", hash, err)
	}
	defer rows.Close()

	var logs []domain.ReviewLog
	for rows.Next() {
		var l domain.ReviewLog
		if err := rows.Scan(&l.CardHash, &l.ReviewedAt, &l.Quality, &l.TimeSpentSeconds, &l.WasCorrect); err != nil {
			return nil, fmt.Errorf("failed to scan review log row: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ReviewCounts summarizes review logs.
type ReviewCounts struct {
	Total   int
	Correct int
}

// CountReviews counts reviews at or after since, optionally for one deck.
func (db *DB) CountReviews(ctx context.Context, deck string, since time.Time) (ReviewCounts, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(r.was_correct), 0)
		FROM review_logs r JOIN cards c ON c.hash = r.card_hash
		WHERE r.reviewed_at >= ?`
	args := []any{utc(since)}
	if deck != "" {
		query += ` AND c.deck = ?`
		args = append(args, deck)
	}

	var counts ReviewCounts
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&counts.Total, &counts.Correct); err != nil {
		return ReviewCounts{}, fmt.Errorf("failed to count reviews: %w", err)
	}
	return counts, nil
}

// DeckSummary is the number of cards in a deck.
type DeckSummary struct {
	Name  string `json:"name"`
	Cards int    `json:"cards"`
}

// Decks lists every deck with its card count, alphabetically.
func (db *DB) Decks(ctx context.Context) ([]DeckSummary, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT deck, COUNT(*) FROM cards GROUP BY deck ORDER BY deck`)
	if err != nil {
		return nil, fmt.Errorf("failed to list decks: %w", err)
	}
	defer rows.Close()

	var decks []DeckSummary
	for rows.Next() {
		var d DeckSummary
		if err := rows.Scan(&d.Name, &d.Cards); err != nil {
			return nil, fmt.Errorf("failed to scan deck row: %w", err)
		}
		decks = append(decks, d)
	}
	return decks, rows.Err()
}
