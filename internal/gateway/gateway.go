// Package gateway orchestrates the public operations of the service.
//
//   - [Gateway.Moderate] runs text through the [safety.Fuser].
//   - [Gateway.TranscribeAndModerate] normalizes a voice note, fingerprints
//     the canonical PCM and looks the pair (transcription, verdict) up in the
//     result cache. On a miss it transcribes and moderates the transcript
//     exactly once per fingerprint, however many callers are waiting.
//   - [Gateway.Transcribe] transcribes without moderating.
//
// With [WithVerdictCache], verdicts are also cached by a digest of the
// moderated text, so the same text (typed, or transcribed from different
// audio) reaches the score provider once per TTL.
//
// A failed transcription or moderation fails the whole call and nothing is
// cached, so a retry starts clean. Every freshly produced verdict is written
// to the audit trail; cache hits are not.
//
// Gateway is safe for concurrent use.
package gateway

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/blake2b"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/hushgate/internal/audit"
	"github.com/MrWong99/hushgate/internal/cache"
	"github.com/MrWong99/hushgate/internal/observe"
	"github.com/MrWong99/hushgate/internal/safety"
	"github.com/MrWong99/hushgate/pkg/audio"
	"github.com/MrWong99/hushgate/pkg/provider"
	"github.com/MrWong99/hushgate/pkg/provider/transcription"
)

// ErrInvalidOptions is returned for transcription options outside their
// allowed ranges. It is raised before any decoding or provider call.
var ErrInvalidOptions = errors.New("gateway: invalid transcription options")

// defaultTranscriberName labels metrics and errors when no name is configured.
const defaultTranscriberName = "transcription"

var languageRE = regexp.MustCompile(`^[a-z]{2}$`)

// TranscriptionOptions tune one transcription request.
type TranscriptionOptions struct {
	// Language is an ISO 639-1 code. Empty means the gateway default, then
	// auto-detect.
	Language string `json:"language,omitempty"`

	// Prompt is context for the recogniser, at most
	// [transcription.MaxPromptLength] characters. Empty means the gateway
	// default.
	Prompt string `json:"prompt,omitempty"`

	// Temperature is the sampling temperature in [0, 1]. Nil means the
	// gateway default.
	Temperature *float64 `json:"temperature,omitempty"`

	// ResponseFormat selects the rendered output shape. It never changes what
	// is transcribed or cached.
	ResponseFormat transcription.ResponseFormat `json:"response_format,omitempty"`
}

// Validate checks o and returns an error wrapping [ErrInvalidOptions].
func (o TranscriptionOptions) Validate() error {
	var errs []error
	if o.Language != "" && !languageRE.MatchString(o.Language) {
		errs = append(errs, fmt.Errorf("language %q is not an ISO 639-1 code", o.Language))
	}
	if n := utf8.RuneCountInString(o.Prompt); n > transcription.MaxPromptLength {
		errs = append(errs, fmt.Errorf("prompt has %d characters, max %d", n, transcription.MaxPromptLength))
	}
	if t := o.Temperature; t != nil && (math.IsNaN(*t) || *t < 0 || *t > 1) {
		errs = append(errs, fmt.Errorf("temperature %v outside [0, 1]", *t))
	}
	if o.ResponseFormat != "" && !o.ResponseFormat.IsValid() {
		errs = append(errs, fmt.Errorf("unknown response format %q", o.ResponseFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, errors.Join(errs...))
	}
	return nil
}

// AudioInput is one voice note to transcribe and moderate.
type AudioInput struct {
	Data []byte

	// Format is the declared container: an extension, file name or MIME type.
	Format string

	Options TranscriptionOptions
}

// Entry is the cached unit: the transcription of one fingerprint and the
// verdict on its transcript.
type Entry struct {
	Transcription transcription.Result `json:"transcription"`
	Verdict       safety.Verdict       `json:"verdict"`
}

// Result is returned by [Gateway.TranscribeAndModerate].
type Result struct {
	// Fingerprint is the hex digest of the canonical PCM.
	Fingerprint   string               `json:"fingerprint"`
	Transcription transcription.Result `json:"transcription"`
	Verdict       safety.Verdict       `json:"verdict"`

	// Cached is true when the pair was served from the cache.
	Cached bool `json:"cached"`

	// ResponseFormat is the format requested with the input.
	ResponseFormat transcription.ResponseFormat `json:"-"`
}

// Transcript is returned by [Gateway.Transcribe].
type Transcript struct {
	Fingerprint   string               `json:"fingerprint"`
	Transcription transcription.Result `json:"transcription"`

	// Cached is true when the transcription came from a live result cache
	// entry.
	Cached bool `json:"cached"`

	ResponseFormat transcription.ResponseFormat `json:"-"`
}

// Render formats t in format, or in t.ResponseFormat when format is empty.
func (t Transcript) Render(format transcription.ResponseFormat) (string, error) {
	if format == "" {
		format = t.ResponseFormat
	}
	return transcription.Render(t.Transcription, format)
}

// Gateway wires normalizer, transcriber, fuser, caches and audit trail.
type Gateway struct {
	normalizer      audio.Normalizer
	transcriber     transcription.Provider
	transcriberName string
	fuser           *safety.Fuser
	cache           *cache.Cache[Entry]
	verdicts        *cache.Cache[safety.Verdict]
	recorder        audit.Recorder
	metrics         *observe.Metrics
	defaults        TranscriptionOptions
	now             func() time.Time
}

// Option is a functional option for [New].
type Option func(*Gateway)

// WithRecorder sets the audit trail. The default discards records.
func WithRecorder(r audit.Recorder) Option {
	return func(g *Gateway) { g.recorder = r }
}

// WithMetrics sets the metrics instance. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithTranscriberName labels the transcription provider in metrics and
// errors.
func WithTranscriberName(name string) Option {
	return func(g *Gateway) { g.transcriberName = name }
}

// WithVerdictCache caches verdicts by text digest in c. Without it every
// text reaches the fuser.
func WithVerdictCache(c *cache.Cache[safety.Verdict]) Option {
	return func(g *Gateway) { g.verdicts = c }
}

// WithDefaults sets the options applied when a request leaves a field empty.
func WithDefaults(o TranscriptionOptions) Option {
	return func(g *Gateway) { g.defaults = o }
}

// WithClock overrides the time source for audit records.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New creates a Gateway. All four collaborators are required.
func New(n audio.Normalizer, t transcription.Provider, f *safety.Fuser, c *cache.Cache[Entry], opts ...Option) (*Gateway, error) {
	switch {
	case n == nil:
		return nil, errors.New("gateway: normalizer is required")
	case t == nil:
		return nil, errors.New("gateway: transcription provider is required")
	case f == nil:
		return nil, errors.New("gateway: fuser is required")
	case c == nil:
		return nil, errors.New("gateway: cache is required")
	}
	g := &Gateway{
		normalizer:      n,
		transcriber:     t,
		transcriberName: defaultTranscriberName,
		fuser:           f,
		cache:           c,
		recorder:        audit.Nop{},
		now:             time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	if err := g.defaults.Validate(); err != nil {
		return nil, fmt.Errorf("gateway: defaults: %w", err)
	}
	return g, nil
}

// Cache returns the result cache, for stats and administrative clears.
func (g *Gateway) Cache() *cache.Cache[Entry] { return g.cache }

// VerdictCache returns the text verdict cache, or nil when none is set.
func (g *Gateway) VerdictCache() *cache.Cache[safety.Verdict] { return g.verdicts }

// Moderate runs text through the fuser. Empty text fails with
// [safety.ErrEmptyText]; a provider failure with [*safety.ModerationError].
// Verdicts served from the verdict cache are not audited again.
func (g *Gateway) Moderate(ctx context.Context, text string) (safety.Verdict, error) {
	g.metrics.InFlight.Add(ctx, 1)
	defer g.metrics.InFlight.Add(ctx, -1)

	if strings.TrimSpace(text) == "" {
		return safety.Verdict{}, safety.ErrEmptyText
	}
	return g.moderateText(ctx, text, func(ctx context.Context, v safety.Verdict) {
		g.record(ctx, audit.SourceText, "", v)
	})
}

// moderateText evaluates text, through the verdict cache when one is set.
// fresh, if non-nil, runs once per actual evaluation, never for callers
// served from the cache or sharing another caller's evaluation. The returned
// verdict is never shared with the cache.
func (g *Gateway) moderateText(ctx context.Context, text string, fresh func(context.Context, safety.Verdict)) (safety.Verdict, error) {
	eval := func(ctx context.Context) (safety.Verdict, error) {
		v, err := g.fuser.Evaluate(ctx, text)
		if err == nil && fresh != nil {
			fresh(ctx, v)
		}
		return v, err
	}
	if g.verdicts == nil {
		return eval(ctx)
	}
	v, _, err := g.verdicts.GetOrCompute(ctx, textKey(text), eval)
	if err != nil {
		return safety.Verdict{}, err
	}
	return v.Clone(), nil
}

// textKey is the hex BLAKE2b-256 digest of text.
func textKey(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// TranscribeAndModerate transcribes in.Data and moderates the transcript.
//
// Unsupported formats, oversized or malformed uploads and invalid options
// are rejected before any provider call. Identical audio (same canonical
// PCM) with the same language, prompt and temperature is served from the
// cache until the entry expires.
func (g *Gateway) TranscribeAndModerate(ctx context.Context, in AudioInput) (res Result, err error) {
	g.metrics.InFlight.Add(ctx, 1)
	defer g.metrics.InFlight.Add(ctx, -1)

	ctx, span := observe.StartSpan(ctx, "gateway.TranscribeAndModerate",
		trace.WithAttributes(
			attribute.String("audio.format", in.Format),
			attribute.Int("audio.bytes", len(in.Data)),
		))
	defer func() { observe.EndSpan(span, err) }()

	pcm, fp, opts, err := g.prepare(ctx, in)
	if err != nil {
		return Result{}, err
	}
	span.SetAttributes(attribute.String("audio.fingerprint", fp))
	log := observe.Logger(ctx).With("fingerprint", fp[:12])

	entry, cached, err := g.cache.GetOrCompute(ctx, cacheKey(fp, opts), func(ctx context.Context) (Entry, error) {
		return g.compute(ctx, fp, pcm, opts)
	})
	if err != nil {
		log.Warn("transcribe and moderate failed", "err", err)
		return Result{}, err
	}
	span.SetAttributes(attribute.Bool("cache.hit", cached))
	log.Debug("voice note moderated", "cached", cached, "flagged", entry.Verdict.Flagged)

	return Result{
		Fingerprint:    fp,
		Transcription:  cloneTranscription(entry.Transcription),
		Verdict:        entry.Verdict.Clone(),
		Cached:         cached,
		ResponseFormat: in.Options.ResponseFormat,
	}, nil
}

// Transcribe transcribes in.Data without moderating it. A live result cache
// entry for the same audio and options is reused; a fresh transcription is
// not cached, since cache entries always carry a verdict.
func (g *Gateway) Transcribe(ctx context.Context, in AudioInput) (res Transcript, err error) {
	g.metrics.InFlight.Add(ctx, 1)
	defer g.metrics.InFlight.Add(ctx, -1)

	ctx, span := observe.StartSpan(ctx, "gateway.Transcribe",
		trace.WithAttributes(
			attribute.String("audio.format", in.Format),
			attribute.Int("audio.bytes", len(in.Data)),
		))
	defer func() { observe.EndSpan(span, err) }()

	pcm, fp, opts, err := g.prepare(ctx, in)
	if err != nil {
		return Transcript{}, err
	}
	span.SetAttributes(attribute.String("audio.fingerprint", fp))

	out := Transcript{Fingerprint: fp, ResponseFormat: in.Options.ResponseFormat}
	if entry, ok := g.cache.Get(cacheKey(fp, opts)); ok {
		out.Transcription = cloneTranscription(entry.Transcription)
		out.Cached = true
		return out, nil
	}
	out.Transcription, err = g.transcribe(ctx, pcm, opts)
	if err != nil {
		return Transcript{}, err
	}
	return out, nil
}

// prepare validates the options, normalizes the audio and fingerprints it.
func (g *Gateway) prepare(ctx context.Context, in AudioInput) (audio.PCM, string, TranscriptionOptions, error) {
	if err := in.Options.Validate(); err != nil {
		return audio.PCM{}, "", TranscriptionOptions{}, err
	}
	opts := g.resolve(in.Options)

	pcm, err := g.normalize(ctx, in)
	if err != nil {
		return audio.PCM{}, "", TranscriptionOptions{}, err
	}
	return pcm, audio.FingerprintOf(pcm).String(), opts, nil
}

func (g *Gateway) normalize(ctx context.Context, in AudioInput) (audio.PCM, error) {
	start := time.Now()
	pcm, err := g.normalizer.Normalize(ctx, in.Data, in.Format)
	g.metrics.NormalizeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return audio.PCM{}, err
	}
	return pcm, nil
}

// compute runs once per cache miss per key.
func (g *Gateway) compute(ctx context.Context, fp string, pcm audio.PCM, opts TranscriptionOptions) (Entry, error) {
	tr, err := g.transcribe(ctx, pcm, opts)
	if err != nil {
		return Entry{}, err
	}

	var v safety.Verdict
	if strings.TrimSpace(tr.Transcript) == "" {
		v = safety.NoSpeechVerdict()
		g.metrics.RecordVerdict(ctx, string(v.Method), v.Flagged)
	} else {
		v, err = g.moderateText(ctx, tr.Transcript, nil)
		if err != nil {
			return Entry{}, err
		}
	}
	g.record(ctx, audit.SourceAudio, fp, v)
	return Entry{Transcription: tr, Verdict: v}, nil
}

func (g *Gateway) transcribe(ctx context.Context, pcm audio.PCM, opts TranscriptionOptions) (transcription.Result, error) {
	ctx, span := observe.StartSpan(ctx, "transcription.Transcribe",
		trace.WithAttributes(attribute.String("provider", g.transcriberName)))
	start := time.Now()
	tr, err := g.transcriber.Transcribe(ctx, transcription.Request{
		Audio:       pcm,
		Language:    opts.Language,
		Prompt:      opts.Prompt,
		Temperature: *opts.Temperature,
	})
	g.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
	observe.EndSpan(span, err)

	if err != nil {
		g.metrics.RecordProviderRequest(ctx, g.transcriberName, "transcription", "error")
		g.metrics.RecordProviderError(ctx, g.transcriberName, "transcription")
		return transcription.Result{}, provider.Wrap(g.transcriberName, "transcribe", err)
	}
	g.metrics.RecordProviderRequest(ctx, g.transcriberName, "transcription", "ok")
	if preview := previewText(tr.Transcript, 50); preview != "" {
		observe.Logger(ctx).Debug("transcribed", "chars", len(tr.Transcript), "preview", preview)
	}
	return tr, nil
}

// record writes one audit record. Audit failures are logged, never returned.
func (g *Gateway) record(ctx context.Context, src audit.Source, fp string, v safety.Verdict) {
	rec := audit.NewRecord(src, fp, v, g.now())
	rec.TraceID = observe.CorrelationID(ctx)
	if err := g.recorder.Record(ctx, rec); err != nil {
		observe.Logger(ctx).Error("audit record failed", "source", src, "err", err)
	}
}

// resolve fills empty fields of o from the gateway defaults. The returned
// Temperature is never nil.
func (g *Gateway) resolve(o TranscriptionOptions) TranscriptionOptions {
	if o.Language == "" {
		o.Language = g.defaults.Language
	}
	if o.Prompt == "" {
		o.Prompt = g.defaults.Prompt
	}
	if o.Prompt == "" {
		o.Prompt = transcription.DefaultPrompt
	}
	if o.Temperature == nil {
		t := 0.0
		if g.defaults.Temperature != nil {
			t = *g.defaults.Temperature
		}
		o.Temperature = &t
	}
	return o
}

// cacheKey joins the fields that change what is transcribed. The response
// format is not part of the key.
func cacheKey(fp string, o TranscriptionOptions) string {
	return strings.Join([]string{
		fp,
		o.Language,
		strconv.FormatFloat(*o.Temperature, 'g', -1, 64),
		o.Prompt,
	}, "|")
}

// Render formats the transcription of r in format, or in r.ResponseFormat
// when format is empty.
func Render(r Result, format transcription.ResponseFormat) (string, error) {
	if format == "" {
		format = r.ResponseFormat
	}
	return transcription.Render(r.Transcription, format)
}

func cloneTranscription(r transcription.Result) transcription.Result {
	if r.Segments != nil {
		r.Segments = append([]transcription.Segment(nil), r.Segments...)
	}
	return r
}

func previewText(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
