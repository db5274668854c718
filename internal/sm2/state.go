package sm2

import "time"

const (
	// InitialEaseFactor is the ease factor of a card that has never been reviewed.
	InitialEaseFactor = 2.5
	// MinEaseFactor is the floor the ease factor never drops below.
	MinEaseFactor = 1.3
)

// ReviewState is the scheduling state owned by a single flashcard.
type ReviewState struct {
	EaseFactor     float64    `json:"ease_factor"`
	IntervalDays   int        `json:"interval_days"`
	Repetitions    int        `json:"repetitions"`
	DueDate        time.Time  `json:"due_date"`
	LastReviewedAt *time.Time `json:"last_reviewed_at"` // nil before the first review.
}

// NewReviewState returns the state of a freshly created card, due at now.
func NewReviewState(now time.Time) ReviewState {
	return ReviewState{
		EaseFactor: InitialEaseFactor,
		DueDate:    now,
	}
}

// IsDue reports whether the card should be reviewed at now.
func (s ReviewState) IsDue(now time.Time) bool {
	return !s.DueDate.After(now)
}
