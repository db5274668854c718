package domain

import "time"

// Card represents a single question-answer-context entry.
type Card struct {
	Question string
	Answer   string
	Context  string
	Deck     string
	Hash     string
}

// ReviewLog records a single review event for a card.
// Quality uses the four-button scale:
// 1: Again
// 2: Hard
// 3: Good
// 4: Easy
type ReviewLog struct {
	CardHash         string
	ReviewedAt       time.Time
	Quality          int
	TimeSpentSeconds float64
	WasCorrect       bool
}
