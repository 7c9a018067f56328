// Package mock provides a test double for the audio.Normalizer interface.
//
// The mock returns Result (or the output of NormalizeFunc) and records every
// call so tests can assert that rejected uploads never reach later stages.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hushgate/pkg/audio"
)

// NormalizeCall records a single invocation of Normalizer.Normalize.
type NormalizeCall struct {
	Raw            []byte
	DeclaredFormat string
}

// Normalizer is a mock implementation of audio.Normalizer.
type Normalizer struct {
	mu sync.Mutex

	// Result is returned when NormalizeFunc is nil. A zero Result echoes the
	// raw bytes back as canonical PCM.
	Result audio.PCM

	// Err, if non-nil, is returned from Normalize.
	Err error

	// NormalizeFunc, if set, overrides Result and Err.
	NormalizeFunc func(ctx context.Context, raw []byte, declaredFormat string) (audio.PCM, error)

	// Calls records every call to Normalize.
	Calls []NormalizeCall
}

// Normalize records the call and returns the configured response.
func (n *Normalizer) Normalize(ctx context.Context, raw []byte, declaredFormat string) (audio.PCM, error) {
	n.mu.Lock()
	n.Calls = append(n.Calls, NormalizeCall{Raw: append([]byte(nil), raw...), DeclaredFormat: declaredFormat})
	fn, res, err := n.NormalizeFunc, n.Result, n.Err
	n.mu.Unlock()

	if fn != nil {
		return fn(ctx, raw, declaredFormat)
	}
	if err != nil {
		return audio.PCM{}, err
	}
	if res.Data == nil {
		return audio.PCM{Data: append([]byte(nil), raw...), Format: audio.Canonical}, nil
	}
	return res, nil
}

// CallCount returns the number of Normalize invocations. Thread-safe.
func (n *Normalizer) CallCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Calls)
}

// Ensure Normalizer implements audio.Normalizer at compile time.
var _ audio.Normalizer = (*Normalizer)(nil)
