package knol

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/conorfennell/knoldeck/internal/domain"
)

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// normalizePart lowercases a field, unifies line endings and trims
// surrounding whitespace.
func normalizePart(part string) string {
	p := lineEndings.Replace(part)
	return strings.TrimSpace(strings.ToLower(p))
}

// Normalize joins the card's question, answer and context after cleaning each
// one. The deck is left out so moving a card between decks keeps its review
// history.
func Normalize(card domain.Card) string {
	return strings.Join([]string{
		normalizePart(card.Question),
		normalizePart(card.Answer),
		normalizePart(card.Context),
	}, "\n")
}

// Hash returns the hex SHA-256 of the normalized card.
func Hash(card domain.Card) string {
	sum := sha256.Sum256([]byte(Normalize(card)))
	return hex.EncodeToString(sum[:])
}

// Short returns the first n characters of a hash, or the hash itself when it
// is shorter.
func Short(hash string, n int) string {
	if n <= 0 || len(hash) <= n {
		return hash
	}
	return hash[:n]
}
