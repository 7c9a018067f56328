// Package mock provides a test double for the moderation.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Scores: moderation.Scores{moderation.CategoryHate: 0.01}}
//	scores, _ := p.Classify(ctx, "hello")
//	// p.CallCount() == 1
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hushgate/pkg/provider/moderation"
)

// ClassifyCall records a single invocation of Provider.Classify.
type ClassifyCall struct {
	// Text is the text passed to Classify.
	Text string
}

// Provider is a mock implementation of moderation.Provider.
type Provider struct {
	mu sync.Mutex

	// Scores is returned (cloned) by Classify when ClassifyFunc is nil.
	Scores moderation.Scores

	// ClassifyErr, if non-nil, is returned as the error from Classify.
	ClassifyErr error

	// ClassifyFunc, if set, overrides Scores and ClassifyErr.
	ClassifyFunc func(ctx context.Context, text string) (moderation.Scores, error)

	// ClassifyCalls records every call to Classify.
	ClassifyCalls []ClassifyCall
}

// Classify records the call and returns the configured response.
func (p *Provider) Classify(ctx context.Context, text string) (moderation.Scores, error) {
	p.mu.Lock()
	p.ClassifyCalls = append(p.ClassifyCalls, ClassifyCall{Text: text})
	fn := p.ClassifyFunc
	scores, err := p.Scores.Clone(), p.ClassifyErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	if err != nil {
		return nil, err
	}
	if scores == nil {
		scores = moderation.Scores{}
	}
	return scores, nil
}

// CallCount returns the number of Classify invocations. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ClassifyCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ClassifyCalls = nil
}

// Ensure Provider implements moderation.Provider at compile time.
var _ moderation.Provider = (*Provider)(nil)
