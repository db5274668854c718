// Package sm2 schedules flashcard reviews with a variant of the SuperMemo-2
// algorithm.
//
// Everything here is pure: Review and DueCards take all of their inputs as
// arguments and return new values, so they are safe to call concurrently.
// Persisting the result, and serializing concurrent reviews of the same card,
// is the caller's job.
package sm2
