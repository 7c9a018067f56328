// Package audio turns uploaded voice notes into canonical PCM and derives a
// content fingerprint from it.
//
// Every accepted upload is decoded to the same representation: 16-bit signed
// little-endian samples, mono, 16 kHz ([Canonical]). Two uploads that decode to
// identical canonical PCM share a [Fingerprint] regardless of their original
// container, which is what makes downstream result caching content-addressed.
package audio

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Format describes the sample rate and channel count of an audio stream.
// Samples are always 16-bit signed little-endian.
type Format struct {
	SampleRate int
	Channels   int
}

// Canonical is the format every normalizer produces.
var Canonical = Format{SampleRate: 16000, Channels: 1}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// PCM is decoded audio. Data holds interleaved 16-bit little-endian samples.
type PCM struct {
	Data   []byte
	Format Format
}

// Duration returns the play time of p.
func (p PCM) Duration() time.Duration {
	if p.Format.SampleRate <= 0 || p.Format.Channels <= 0 {
		return 0
	}
	frames := len(p.Data) / (2 * p.Format.Channels)
	return time.Duration(frames) * time.Second / time.Duration(p.Format.SampleRate)
}

// Normalizer decodes raw upload bytes in a declared container format into
// canonical PCM.
//
// Implementations return *UnsupportedFormatError for formats outside their
// allow-list and a plain error for malformed input. Normalize never contacts a
// remote service.
type Normalizer interface {
	Normalize(ctx context.Context, raw []byte, declaredFormat string) (PCM, error)
}

// Container is a normalised upload format name, the lower-case file extension
// without the leading dot.
type Container string

const (
	ContainerMP3  Container = "mp3"
	ContainerMP4  Container = "mp4"
	ContainerMPEG Container = "mpeg"
	ContainerMPGA Container = "mpga"
	ContainerM4A  Container = "m4a"
	ContainerWAV  Container = "wav"
	ContainerWEBM Container = "webm"
)

// SupportedContainers is the fixed upload allow-list.
var SupportedContainers = []Container{
	ContainerMP3, ContainerMP4, ContainerMPEG, ContainerMPGA,
	ContainerM4A, ContainerWAV, ContainerWEBM,
}

// mimeContainers maps common MIME types to their container.
var mimeContainers = map[string]Container{
	"audio/mpeg":     ContainerMP3,
	"audio/mp3":      ContainerMP3,
	"audio/mp4":      ContainerMP4,
	"video/mp4":      ContainerMP4,
	"audio/mpga":     ContainerMPGA,
	"audio/m4a":      ContainerM4A,
	"audio/x-m4a":    ContainerM4A,
	"audio/wav":      ContainerWAV,
	"audio/wave":     ContainerWAV,
	"audio/x-wav":    ContainerWAV,
	"audio/vnd.wave": ContainerWAV,
	"audio/webm":     ContainerWEBM,
	"video/webm":     ContainerWEBM,
}

// ParseContainer maps a declared format (extension with or without dot, a
// file name, or a MIME type) to a supported [Container]. It returns
// *UnsupportedFormatError when the declaration is not on the allow-list.
func ParseContainer(declared string) (Container, error) {
	d := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(d, ';'); i >= 0 {
		d = strings.TrimSpace(d[:i])
	}
	if c, ok := mimeContainers[d]; ok {
		return c, nil
	}
	if i := strings.LastIndexByte(d, '.'); i >= 0 {
		d = d[i+1:]
	}
	for _, c := range SupportedContainers {
		if Container(d) == c {
			return c, nil
		}
	}
	return "", &UnsupportedFormatError{Declared: declared}
}

// UnsupportedFormatError reports an upload whose declared format is not on
// the allow-list. It is raised before any decoding or provider call.
type UnsupportedFormatError struct {
	Declared string
}

// Error implements the error interface.
func (e *UnsupportedFormatError) Error() string {
	allowed := make([]string, len(SupportedContainers))
	for i, c := range SupportedContainers {
		allowed[i] = "." + string(c)
	}
	return fmt.Sprintf("audio: unsupported format %q; supported: %s", e.Declared, strings.Join(allowed, ", "))
}
