package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE

	wavHeaderSize = 44
)

// ErrMalformedWAV is returned by [DecodeWAV] for input that is not a usable
// RIFF/WAVE stream.
var ErrMalformedWAV = errors.New("audio: malformed wav")

// EncodeWAV wraps 16-bit PCM in a minimal RIFF/WAVE container. The result is
// what transcription backends receive as the uploaded file.
func EncodeWAV(p PCM) []byte {
	const bps = 16
	byteRate := p.Format.SampleRate * p.Format.Channels * bps / 8
	blockAlign := p.Format.Channels * bps / 8
	dataSize := len(p.Data)

	buf := make([]byte, wavHeaderSize+dataSize)
	le := binary.LittleEndian

	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], 16)
	le.PutUint16(buf[20:22], wavFormatPCM)
	le.PutUint16(buf[22:24], uint16(p.Format.Channels))
	le.PutUint32(buf[24:28], uint32(p.Format.SampleRate))
	le.PutUint32(buf[28:32], uint32(byteRate))
	le.PutUint16(buf[32:34], uint16(blockAlign))
	le.PutUint16(buf[34:36], bps)

	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[wavHeaderSize:], p.Data)
	return buf
}

type wavFmt struct {
	format        uint16
	channels      int
	sampleRate    int
	bitsPerSample int
}

// DecodeWAV parses a RIFF/WAVE stream holding integer PCM (8, 16, 24 or 32
// bit) or 32-bit float samples and returns it as 16-bit PCM in its original
// rate and channel layout. Unknown chunks are skipped.
func DecodeWAV(data []byte) (PCM, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return PCM{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrMalformedWAV)
	}

	var (
		fmtChunk *wavFmt
		samples  []byte
		found    bool
	)
	le := binary.LittleEndian
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(le.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if size < 0 || end > len(data) {
			if id != "data" {
				return PCM{}, fmt.Errorf("%w: chunk %q overruns input", ErrMalformedWAV, id)
			}
			// Streaming writers leave the data size unset; take the rest.
			end = len(data)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return PCM{}, fmt.Errorf("%w: fmt chunk too short", ErrMalformedWAV)
			}
			f := &wavFmt{
				format:        le.Uint16(data[body:]),
				channels:      int(le.Uint16(data[body+2:])),
				sampleRate:    int(le.Uint32(data[body+4:])),
				bitsPerSample: int(le.Uint16(data[body+14:])),
			}
			if f.format == wavFormatExtensible && size >= 26 {
				// Sub-format GUID starts with the plain format code.
				f.format = le.Uint16(data[body+24:])
			}
			fmtChunk = f
		case "data":
			samples = data[body:end]
			found = true
		}

		off = end + (size & 1)
		if found && fmtChunk != nil {
			break
		}
	}

	if fmtChunk == nil {
		return PCM{}, fmt.Errorf("%w: no fmt chunk", ErrMalformedWAV)
	}
	if !found {
		return PCM{}, fmt.Errorf("%w: no data chunk", ErrMalformedWAV)
	}
	if fmtChunk.channels <= 0 || fmtChunk.sampleRate <= 0 {
		return PCM{}, fmt.Errorf("%w: invalid channels=%d rate=%d", ErrMalformedWAV, fmtChunk.channels, fmtChunk.sampleRate)
	}

	pcm16, err := to16Bit(samples, fmtChunk)
	if err != nil {
		return PCM{}, err
	}
	return PCM{
		Data:   pcm16,
		Format: Format{SampleRate: fmtChunk.sampleRate, Channels: fmtChunk.channels},
	}, nil
}

// to16Bit converts raw sample data described by f into 16-bit little-endian
// PCM.
func to16Bit(raw []byte, f *wavFmt) ([]byte, error) {
	le := binary.LittleEndian
	width := f.bitsPerSample / 8

	switch {
	case f.format == wavFormatPCM && f.bitsPerSample == 16:
		return raw[:len(raw)&^1], nil
	case f.format == wavFormatPCM && (f.bitsPerSample == 8 || f.bitsPerSample == 24 || f.bitsPerSample == 32):
	case f.format == wavFormatFloat && f.bitsPerSample == 32:
	default:
		return nil, fmt.Errorf("%w: unsupported encoding format=%d bits=%d", ErrMalformedWAV, f.format, f.bitsPerSample)
	}

	n := len(raw) / width
	out := make([]byte, n*2)
	for i := range n {
		s := raw[i*width:]
		var v int16
		switch {
		case f.format == wavFormatFloat:
			v = clamp16(math.Round(float64(math.Float32frombits(le.Uint32(s))) * math.MaxInt16))
		case width == 1:
			v = int16(int(s[0])-128) << 8
		case width == 3:
			v = int16(uint16(s[1]) | uint16(s[2])<<8)
		case width == 4:
			v = int16(le.Uint32(s) >> 16)
		}
		le.PutUint16(out[i*2:], uint16(v))
	}
	return out, nil
}
