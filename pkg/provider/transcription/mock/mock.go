// Package mock provides a test double for the transcription.Provider
// interface.
//
// Example:
//
//	p := &mock.Provider{Result: transcription.Result{Transcript: "hello"}}
//	res, _ := p.Transcribe(ctx, req)
//	// p.CallCount() == 1
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hushgate/pkg/provider/transcription"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	Req transcription.Request
}

// Provider is a mock implementation of transcription.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when TranscribeFunc is nil.
	Result transcription.Result

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeFunc, if set, overrides Result and TranscribeErr.
	TranscribeFunc func(ctx context.Context, req transcription.Request) (transcription.Result, error)

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the configured response.
func (p *Provider) Transcribe(ctx context.Context, req transcription.Request) (transcription.Result, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Req: req})
	fn, res, err := p.TranscribeFunc, p.Result, p.TranscribeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return transcription.Result{}, err
	}
	return res, nil
}

// CallCount returns the number of Transcribe invocations. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements transcription.Provider at compile time.
var _ transcription.Provider = (*Provider)(nil)
