package resilience

import (
	"context"

	"github.com/MrWong99/hushgate/pkg/provider"
	"github.com/MrWong99/hushgate/pkg/provider/transcription"
)

// TranscriptionFallback implements [transcription.Provider] with automatic
// failover across multiple transcription backends. Each backend has its own
// circuit breaker.
type TranscriptionFallback struct {
	group *FallbackGroup[transcription.Provider]
}

// Compile-time interface assertion.
var _ transcription.Provider = (*TranscriptionFallback)(nil)

// NewTranscriptionFallback creates a [TranscriptionFallback] with primary as
// the preferred backend.
func NewTranscriptionFallback(primary transcription.Provider, primaryName string, cfg FallbackConfig) *TranscriptionFallback {
	return &TranscriptionFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcription provider as a fallback.
func (f *TranscriptionFallback) AddFallback(name string, p transcription.Provider) {
	f.group.AddFallback(name, p)
}

// Breakers returns the per-backend breakers in try order.
func (f *TranscriptionFallback) Breakers() []*CircuitBreaker { return f.group.Breakers() }

// Transcribe sends the request to the first healthy backend. If it fails,
// subsequent fallbacks are tried. When every backend fails the error wraps
// [ErrAllFailed] and the last backend's *provider.Error.
func (f *TranscriptionFallback) Transcribe(ctx context.Context, req transcription.Request) (transcription.Result, error) {
	res, err := ExecuteWithResult(ctx, f.group, func(p transcription.Provider) (transcription.Result, error) {
		return p.Transcribe(ctx, req)
	})
	if err != nil {
		return transcription.Result{}, provider.Wrap(f.group.Names()[0], "transcribe", err)
	}
	return res, nil
}
