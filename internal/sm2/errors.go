package sm2

import "errors"

// ErrInvalidQuality is returned when a quality rating is outside Again..Easy.
// Check with errors.Is; callers should surface it as an invalid rating.
var ErrInvalidQuality = errors.New("sm2: invalid quality rating")
