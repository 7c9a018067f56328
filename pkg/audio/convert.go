package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ToCanonical converts p to the [Canonical] format: channels are averaged
// into mono first, then the result is resampled to 16 kHz. Input already in
// canonical form is returned unchanged. A trailing partial frame is dropped.
func ToCanonical(p PCM) (PCM, error) {
	if p.Format.SampleRate <= 0 || p.Format.Channels <= 0 {
		return PCM{}, fmt.Errorf("audio: invalid source format %s", p.Format)
	}
	if p.Format == Canonical {
		return PCM{Data: p.Data[:len(p.Data)&^1], Format: Canonical}, nil
	}

	mono := DownmixToMono(p.Data, p.Format.Channels)
	return PCM{
		Data:   ResampleMono16(mono, p.Format.SampleRate, Canonical.SampleRate),
		Format: Canonical,
	}, nil
}

// DownmixToMono averages the channels of interleaved 16-bit PCM into a single
// channel. Averaging uses int32 arithmetic so it cannot overflow.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm[:len(pcm)&^1]
	}
	frameSize := 2 * channels
	frames := len(pcm) / frameSize
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		base := i * frameSize
		for c := range channels {
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[base+2*c:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/int32(channels))))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. If the rates match the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	sample := func(i int) float64 {
		if i >= srcSamples {
			i = srcSamples - 1
		}
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	out := make([]byte, dstSamples*2)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		v := sample(idx)*(1-frac) + sample(idx+1)*frac
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16(math.Round(v))))
	}
	return out
}

func clamp16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// formatString returns e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
