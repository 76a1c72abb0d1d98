package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// FormatConverter converts planar buffers to a target format. It logs a
// warning on the first mismatch. Create one per stream; it is not safe for
// concurrent use.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
}

// Convert returns planar at the target format. If from already matches the
// target, planar is returned unchanged.
// Conversion order: resample first, then channel convert.
func (c *FormatConverter) Convert(planar [][]float32, from Format) [][]float32 {
	if from == c.Target {
		return planar
	}
	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting", "from", from, "to", c.Target)
	})

	if from.SampleRate != c.Target.SampleRate {
		resampled := make([][]float32, len(planar))
		for ch, s := range planar {
			resampled[ch] = Resample(s, from.SampleRate, c.Target.SampleRate)
		}
		planar = resampled
	}
	if len(planar) != c.Target.Channels {
		planar = Remix(planar, c.Target.Channels)
	}
	return planar
}

// Remix converts planar to channels channels. Downmixing to mono averages
// every input channel; any other change repeats the input channels
// cyclically.
func Remix(planar [][]float32, channels int) [][]float32 {
	if len(planar) == channels || len(planar) == 0 || channels <= 0 {
		return planar
	}
	frames := len(planar[0])
	out := NewPlanar(channels, frames)
	if channels == 1 {
		scale := 1 / float32(len(planar))
		for _, in := range planar {
			for i, v := range in {
				out[0][i] += v * scale
			}
		}
		return out
	}
	for ch := range out {
		copy(out[ch], planar[ch%len(planar)])
	}
	return out
}

// Resample converts samples from srcRate to dstRate using linear
// interpolation. If the rates match or are invalid, samples is returned
// unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	ratio := float64(srcRate) / float64(dstRate)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx] + (samples[idx+1]-samples[idx])*frac
	}
	return out
}
