// Package mock provides a test double for the audit.Recorder interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hushgate/internal/audit"
)

// Recorder is a mock implementation of audit.Recorder.
type Recorder struct {
	mu sync.Mutex

	// Err, if non-nil, is returned from Record after the record is stored.
	Err error

	// Records holds every record passed to Record.
	Records []audit.Record
}

// Record stores r and returns Err.
func (m *Recorder) Record(_ context.Context, r audit.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = append(m.Records, r)
	return m.Err
}

// All returns a copy of the recorded records. Thread-safe.
func (m *Recorder) All() []audit.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Record(nil), m.Records...)
}

// CallCount returns the number of Record invocations. Thread-safe.
func (m *Recorder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Records)
}

// Reset clears all recorded calls. Thread-safe.
func (m *Recorder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = nil
}

// Ensure Recorder implements audit.Recorder at compile time.
var _ audit.Recorder = (*Recorder)(nil)
