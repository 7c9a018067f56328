package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"unicode/utf8"
)

// DefaultMaxUploadBytes is the largest upload accepted by [FormatRouter]
// unless overridden.
const DefaultMaxUploadBytes = 25 << 20

// ErrEmptyAudio is returned for uploads that contain no bytes or decode to no
// samples.
var ErrEmptyAudio = errors.New("audio: empty input")

// ErrTooLarge is returned for uploads above the configured size limit.
var ErrTooLarge = errors.New("audio: upload exceeds size limit")

// ---- WAV --------------------------------------------------------------------

// WAVNormalizer decodes RIFF/WAVE uploads in pure Go.
type WAVNormalizer struct{}

// Ensure WAVNormalizer implements Normalizer at compile time.
var _ Normalizer = WAVNormalizer{}

// Normalize implements [Normalizer]. declaredFormat must resolve to wav.
func (WAVNormalizer) Normalize(ctx context.Context, raw []byte, declaredFormat string) (PCM, error) {
	c, err := ParseContainer(declaredFormat)
	if err != nil {
		return PCM{}, err
	}
	if c != ContainerWAV {
		return PCM{}, &UnsupportedFormatError{Declared: declaredFormat}
	}
	if err := ctx.Err(); err != nil {
		return PCM{}, err
	}
	p, err := DecodeWAV(raw)
	if err != nil {
		return PCM{}, err
	}
	return ToCanonical(p)
}

// ---- external decoder ---------------------------------------------------------

// CommandNormalizer decodes compressed containers by piping the upload
// through ffmpeg and reading raw canonical PCM from its stdout.
type CommandNormalizer struct {
	// Path is the ffmpeg binary. Defaults to "ffmpeg" resolved via $PATH.
	Path string
}

// Ensure CommandNormalizer implements Normalizer at compile time.
var _ Normalizer = (*CommandNormalizer)(nil)

// Normalize implements [Normalizer].
func (n *CommandNormalizer) Normalize(ctx context.Context, raw []byte, declaredFormat string) (PCM, error) {
	if _, err := ParseContainer(declaredFormat); err != nil {
		return PCM{}, err
	}
	bin := n.Path
	if bin == "" {
		bin = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, bin,
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", "pipe:0",
		"-vn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", fmt.Sprint(Canonical.Channels),
		"-ar", fmt.Sprint(Canonical.SampleRate),
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(raw)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return PCM{}, ctxErr
		}
		msg := truncateRunes(strings.TrimSpace(stderr.String()), maxStderrRunes)
		return PCM{}, fmt.Errorf("audio: decode %s: %w: %s", declaredFormat, err, msg)
	}
	return PCM{Data: stdout.Bytes()[:stdout.Len()&^1], Format: Canonical}, nil
}

// maxStderrRunes bounds how much decoder output ends up in an error.
const maxStderrRunes = 200

// truncateRunes cuts s to at most n runes, never splitting one.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// ---- router -----------------------------------------------------------------

// FormatRouter validates uploads against the allow-list and size limit and
// dispatches them to the normalizer responsible for their container.
type FormatRouter struct {
	maxBytes int
	wav      Normalizer
	fallback Normalizer
}

// Ensure FormatRouter implements Normalizer at compile time.
var _ Normalizer = (*FormatRouter)(nil)

// RouterOption is a functional option for [FormatRouter].
type RouterOption func(*FormatRouter)

// WithMaxBytes overrides [DefaultMaxUploadBytes]. Values <= 0 are ignored.
func WithMaxBytes(n int) RouterOption {
	return func(r *FormatRouter) {
		if n > 0 {
			r.maxBytes = n
		}
	}
}

// WithWAVNormalizer replaces the normalizer used for wav uploads.
func WithWAVNormalizer(n Normalizer) RouterOption {
	return func(r *FormatRouter) { r.wav = n }
}

// WithCompressedNormalizer sets the normalizer for every non-wav container.
// Without one, compressed uploads fail with a decode error.
func WithCompressedNormalizer(n Normalizer) RouterOption {
	return func(r *FormatRouter) { r.fallback = n }
}

// NewFormatRouter returns a router with a [WAVNormalizer] and no compressed
// decoder unless options say otherwise.
func NewFormatRouter(opts ...RouterOption) *FormatRouter {
	r := &FormatRouter{maxBytes: DefaultMaxUploadBytes, wav: WAVNormalizer{}}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Normalize implements [Normalizer]. Format and size checks run before any
// decoding.
func (r *FormatRouter) Normalize(ctx context.Context, raw []byte, declaredFormat string) (PCM, error) {
	c, err := ParseContainer(declaredFormat)
	if err != nil {
		return PCM{}, err
	}
	if len(raw) == 0 {
		return PCM{}, ErrEmptyAudio
	}
	if len(raw) > r.maxBytes {
		return PCM{}, fmt.Errorf("%w: %d bytes > %d", ErrTooLarge, len(raw), r.maxBytes)
	}

	next := r.fallback
	if c == ContainerWAV {
		next = r.wav
	}
	if next == nil {
		return PCM{}, fmt.Errorf("audio: no decoder configured for %s", c)
	}

	p, err := next.Normalize(ctx, raw, string(c))
	if err != nil {
		return PCM{}, err
	}
	if len(p.Data) == 0 {
		return PCM{}, ErrEmptyAudio
	}
	return p, nil
}
