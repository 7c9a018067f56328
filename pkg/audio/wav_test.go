package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/hushgate/pkg/audio"
)

func TestEncodeWAV_Header(t *testing.T) {
	pcm := audio.PCM{Data: samplesToBytes([]int16{1, 2, 3, 4}), Format: audio.Canonical}
	wav := audio.EncodeWAV(pcm)

	if len(wav) != 44+8 {
		t.Fatalf("len = %d, want 52", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad header magic: %q", wav[:44])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d, want 16000", rate)
	}
}

func TestDecodeWAV_RoundTrip(t *testing.T) {
	in := audio.PCM{Data: sine(441, 44100, 2), Format: audio.Format{SampleRate: 44100, Channels: 2}}
	out, err := audio.DecodeWAV(audio.EncodeWAV(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Format != in.Format {
		t.Errorf("format = %s, want %s", out.Format, in.Format)
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Error("sample data differs after round trip")
	}
}

// buildWAV assembles a RIFF file from a fmt chunk and extra chunks placed
// before the data chunk.
func buildWAV(format, channels, rate, bits int, extra []byte, data []byte) []byte {
	var b bytes.Buffer
	le := binary.LittleEndian
	b.WriteString("RIFF")
	_ = binary.Write(&b, le, uint32(0))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	_ = binary.Write(&b, le, uint32(16))
	_ = binary.Write(&b, le, uint16(format))
	_ = binary.Write(&b, le, uint16(channels))
	_ = binary.Write(&b, le, uint32(rate))
	_ = binary.Write(&b, le, uint32(rate*channels*bits/8))
	_ = binary.Write(&b, le, uint16(channels*bits/8))
	_ = binary.Write(&b, le, uint16(bits))
	b.Write(extra)
	b.WriteString("data")
	_ = binary.Write(&b, le, uint32(len(data)))
	b.Write(data)
	return b.Bytes()
}

func TestDecodeWAV_SkipsUnknownOddChunk(t *testing.T) {
	// LIST chunk with odd size is followed by one pad byte.
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	data := samplesToBytes([]int16{7, -7})
	out, err := audio.DecodeWAV(buildWAV(1, 1, 8000, 16, list, data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := bytesToSamples(out.Data); len(got) != 2 || got[0] != 7 || got[1] != -7 {
		t.Errorf("samples = %v, want [7 -7]", got)
	}
}

func TestDecodeWAV_EightBit(t *testing.T) {
	out, err := audio.DecodeWAV(buildWAV(1, 1, 8000, 8, nil, []byte{128, 255, 0}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := bytesToSamples(out.Data)
	want := []int16{0, 127 << 8, -128 << 8}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDecodeWAV_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not riff", []byte("OggS0000WAVEfmt ")},
		{"no data chunk", buildWAV(1, 1, 8000, 16, nil, nil)[:36]},
		{"unsupported bits", buildWAV(1, 1, 8000, 12, nil, []byte{0, 0})},
		{"zero channels", buildWAV(1, 0, 8000, 16, nil, []byte{0, 0})},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := audio.DecodeWAV(tc.data)
			if !errors.Is(err, audio.ErrMalformedWAV) {
				t.Errorf("expected ErrMalformedWAV, got %v", err)
			}
		})
	}
}
