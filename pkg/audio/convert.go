package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Converter converts frames to the mono format a recognizer expects. It logs
// once on the first format mismatch and once on the first malformed frame.
// Create one per stream; not designed for shared use across goroutines.
type Converter struct {
	// SampleRate is the target rate in Hz. Output is always mono.
	SampleRate int

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Target returns the converter's output format.
func (c *Converter) Target() Format {
	return Format{SampleRate: c.SampleRate, Channels: 1}
}

// Convert returns frame in the target format. Frames already in the target
// format are returned unchanged. Frames whose data does not hold a whole
// number of sample frames come back with nil Data.
func (c *Converter) Convert(frame Frame) Frame {
	channels := max(frame.Channels, 1)
	if len(frame.Data)%(2*channels) != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio: dropping misaligned PCM frame",
				"bytes", len(frame.Data),
				"channels", channels,
			)
		})
		return Frame{SampleRate: c.SampleRate, Channels: 1, Timestamp: frame.Timestamp}
	}

	if channels == 1 && frame.SampleRate == c.SampleRate {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Info("audio: converting microphone format",
			"from", formatString(frame.SampleRate, channels),
			"to", formatString(c.SampleRate, 1),
		)
	})

	pcm := frame.Data
	switch {
	case channels == 2:
		pcm = StereoToMono(pcm)
	case channels > 2:
		pcm = downmix(pcm, channels)
	}
	pcm = ResampleMono16(pcm, frame.SampleRate, c.SampleRate)

	return Frame{
		Data:       pcm,
		SampleRate: c.SampleRate,
		Channels:   1,
		Timestamp:  frame.Timestamp,
	}
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
func StereoToMono(pcm []byte) []byte {
	return downmix(pcm, 2)
}

// downmix averages each interleaved group of channels into one sample.
func downmix(pcm []byte, channels int) []byte {
	width := 2 * channels
	frames := len(pcm) / width
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(sample(pcm, i*channels+ch))
		}
		avg := clamp16(sum / int32(channels))
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. Invalid rates or equal rates return the input unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sample(pcm, idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sample(pcm, idx+1)
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func clamp16(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
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
