package sm2

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// Review applies a single review to state and returns the resulting state.
// The input is not modified. An invalid quality returns an error wrapping
// ErrInvalidQuality and a zero ReviewState.
func Review(state ReviewState, quality Quality, now time.Time) (ReviewState, error) {
	if !quality.IsValid() {
		return ReviewState{}, fmt.Errorf("%w: %d", ErrInvalidQuality, int(quality))
	}

	next := state
	if quality.Passed() {
		next.Repetitions++
		switch next.Repetitions {
		case 1:
			next.IntervalDays = 1
		case 2:
			next.IntervalDays = 6
		default:
			next.IntervalDays = int(math.Round(float64(state.IntervalDays) * state.EaseFactor))
		}
	} else {
		next.Repetitions = 0
		next.IntervalDays = 1
	}
	if next.IntervalDays < 0 {
		next.IntervalDays = 0
	}

	next.EaseFactor = nextEaseFactor(state.EaseFactor, quality)
	next.DueDate = now.AddDate(0, 0, next.IntervalDays)
	reviewed := now
	next.LastReviewedAt = &reviewed

	return next, nil
}

// nextEaseFactor is the SM-2 ease update, floored at MinEaseFactor.
func nextEaseFactor(ease float64, quality Quality) float64 {
	d := 5 - quality.grade()
	ease += 0.1 - d*(0.08+d*0.02)
	return math.Max(MinEaseFactor, ease)
}

// Preview returns the state each rating would produce.
func Preview(state ReviewState, now time.Time) map[Quality]ReviewState {
	out := make(map[Quality]ReviewState, len(Qualities))
	for _, q := range Qualities {
		out[q], _ = Review(state, q, now)
	}
	return out
}

// Entry pairs a card identifier with its scheduling state.
type Entry struct {
	ID    string
	State ReviewState
}

// DueCards returns the ids of cards due at now, oldest due date first. Cards
// with equal due dates keep their input order. A positive limit caps the result.
func DueCards(cards []Entry, now time.Time, limit int) []string {
	due := make([]Entry, 0, len(cards))
	for _, c := range cards {
		if c.State.IsDue(now) {
			due = append(due, c)
		}
	}

	slices.SortStableFunc(due, func(a, b Entry) int {
		return a.State.DueDate.Compare(b.State.DueDate)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	ids := make([]string, len(due))
	for i, c := range due {
		ids[i] = c.ID
	}
	return ids
}

// DifficultyLabel buckets an ease factor into "easy", "medium" or "hard".
func DifficultyLabel(ease float64) string {
	switch {
	case ease >= 2.5:
		return "easy"
	case ease >= 2.0:
		return "medium"
	default:
		return "hard"
	}
}

// Retention estimates the probability of recall at now with the forgetting
// curve R = e^(-t/S), where t is days since the last review and S the current
// interval. Cards never reviewed, or with a zero interval, report 0.
func Retention(state ReviewState, now time.Time) float64 {
	if state.LastReviewedAt == nil || state.IntervalDays <= 0 {
		return 0
	}
	elapsed := now.Sub(*state.LastReviewedAt).Hours() / 24
	if elapsed < 0 {
		elapsed = 0
	}
	r := math.Exp(-elapsed / float64(state.IntervalDays))
	return math.Round(r*100) / 100
}
