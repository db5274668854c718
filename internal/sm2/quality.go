package sm2

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Quality is the user's self-assessed recall for a single review.
type Quality int

const (
	Again Quality = iota + 1 // Forgot the card.
	Hard                     // Recalled, but not well enough to keep the streak.
	Good                     // Recalled with some effort.
	Easy                     // Recalled effortlessly.
)

// passThreshold is the lowest quality that counts as a successful recall.
const passThreshold = Good

var qualityNames = [...]string{Again: "again", Hard: "hard", Good: "good", Easy: "easy"}

// Qualities lists every valid rating in ascending order.
var Qualities = []Quality{Again, Hard, Good, Easy}

// IsValid reports whether q is one of Again, Hard, Good or Easy.
func (q Quality) IsValid() bool {
	return q >= Again && q <= Easy
}

// grade maps the rating onto the 0-5 SM-2 response scale. Easy is a perfect
// response; the other ratings keep their value.
func (q Quality) grade() float64 {
	if q == Easy {
		return 5
	}
	return float64(q)
}

// Passed reports whether q counts as a successful recall.
func (q Quality) Passed() bool {
	return q >= passThreshold
}

func (q Quality) String() string {
	if q.IsValid() {
		return qualityNames[q]
	}
	return fmt.Sprintf("Quality(%d)", int(q))
}

// ParseQuality accepts either the numeric rating ("1".."4") or its name,
// case-insensitively.
func ParseQuality(s string) (Quality, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		q := Quality(n)
		if !q.IsValid() {
			return 0, fmt.Errorf("%w: %d", ErrInvalidQuality, n)
		}
		return q, nil
	}
	for _, q := range Qualities {
		if qualityNames[q] == s {
			return q, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidQuality, s)
}

// MarshalJSON encodes the rating as its integer value.
func (q Quality) MarshalJSON() ([]byte, error) {
	if !q.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuality, int(q))
	}
	return strconv.AppendInt(nil, int64(q), 10), nil
}

// UnmarshalJSON accepts an integer rating. Out of range values are rejected
// rather than clamped.
func (q *Quality) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidQuality, data)
	}
	v := Quality(n)
	if !v.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidQuality, n)
	}
	*q = v
	return nil
}
