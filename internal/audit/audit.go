// Package audit keeps a trail of moderation decisions.
//
// Every verdict the gateway produces (cache hits excluded) becomes one
// [Record]. Records hold the decision and the audio fingerprint, never the
// moderated text or transcript.
//
// Two stores are provided: [FileStore] appends JSON lines to a local file and
// [PostgresStore] inserts into a verdict_audit table. [Multi] fans out to
// several stores.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/hushgate/internal/safety"
)

// Source tells what kind of input a verdict was produced for.
type Source string

const (
	SourceText  Source = "text"
	SourceAudio Source = "audio"
)

// Record is one audited decision.
type Record struct {
	ID          string        `json:"id"`
	Time        time.Time     `json:"time"`
	Source      Source        `json:"source"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	Method      safety.Method `json:"detection_method"`
	Flagged     bool          `json:"flagged"`
	Reason      string        `json:"reason"`
	Categories  []string      `json:"categories"`

	// TraceID links the record to the request trace. Empty outside a trace.
	TraceID string `json:"trace_id,omitempty"`
}

// NewRecord builds a Record for v with a fresh random ID. fingerprint is
// empty for text moderation.
func NewRecord(source Source, fingerprint string, v safety.Verdict, now time.Time) Record {
	cats := v.FlaggedCategories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	return Record{
		ID:          uuid.NewString(),
		Time:        now.UTC(),
		Source:      source,
		Fingerprint: fingerprint,
		Method:      v.Method,
		Flagged:     v.Flagged,
		Reason:      v.Reason,
		Categories:  names,
	}
}

// Recorder persists audit records. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, r Record) error
}

type multi []Recorder

// Multi returns a Recorder that writes to every recorder in rs. All writes
// are attempted; their errors are joined.
func Multi(rs ...Recorder) Recorder {
	out := make(multi, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Record implements [Recorder].
func (m multi) Record(ctx context.Context, r Record) error {
	var errs []error
	for _, rec := range m {
		if err := rec.Record(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every record.
type Nop struct{}

// Record implements [Recorder].
func (Nop) Record(context.Context, Record) error { return nil }
