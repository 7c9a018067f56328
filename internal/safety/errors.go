package safety

import (
	"errors"
	"fmt"
)

// ErrEmptyText is returned when asked to moderate empty or whitespace-only
// text. No provider is called.
var ErrEmptyText = errors.New("safety: empty text")

// ErrMalformedScores marks a provider response carrying a score outside
// [0, 1].
var ErrMalformedScores = errors.New("malformed category scores")

// ModerationError reports that the score provider failed during the second
// stage, so no verdict exists. It always wraps a *provider.Error. Callers
// must not treat it as a safe verdict.
type ModerationError struct {
	Err error
}

func (e *ModerationError) Error() string {
	return fmt.Sprintf("safety: moderation unavailable: %v", e.Err)
}

func (e *ModerationError) Unwrap() error { return e.Err }

// IsModerationError reports whether err carries a [*ModerationError].
func IsModerationError(err error) bool {
	var me *ModerationError
	return errors.As(err, &me)
}
