package enhance

import "fmt"

const (
	// MinSampleRate is the lowest supported stream rate in Hz.
	MinSampleRate = 8000

	// MaxSampleRate is the highest supported stream rate in Hz.
	MaxSampleRate = 192000

	// MaxChannels is the highest supported channel count.
	MaxChannels = 16
)

// ProcessorConfig describes the audio a [Processor] is initialized for.
type ProcessorConfig struct {
	// SampleRate in Hz, within [MinSampleRate, MaxSampleRate].
	SampleRate int

	// NumChannels in [1, MaxChannels]. Every process call must supply
	// exactly this many channels.
	NumChannels int

	// NumFrames is the frames per channel of every process call, or the
	// upper bound when AllowVariableFrames is set. At most one second.
	NumFrames int

	// AllowVariableFrames accepts any call size up to NumFrames at the cost
	// of a full native window of extra delay.
	AllowVariableFrames bool
}

// Validate reports ErrAudioConfigUnsupported for values outside the
// supported ranges.
func (c ProcessorConfig) Validate() error {
	switch {
	case c.SampleRate < MinSampleRate || c.SampleRate > MaxSampleRate:
		return fmt.Errorf("%w: sample rate %d outside [%d, %d]", ErrAudioConfigUnsupported, c.SampleRate, MinSampleRate, MaxSampleRate)
	case c.NumChannels < 1 || c.NumChannels > MaxChannels:
		return fmt.Errorf("%w: %d channels outside [1, %d]", ErrAudioConfigUnsupported, c.NumChannels, MaxChannels)
	case c.NumFrames < 1 || c.NumFrames > c.SampleRate:
		return fmt.Errorf("%w: %d frames outside [1, %d]", ErrAudioConfigUnsupported, c.NumFrames, c.SampleRate)
	}
	return nil
}

// WithChannels returns a copy of c with n channels.
func (c ProcessorConfig) WithChannels(n int) ProcessorConfig {
	c.NumChannels = n
	return c
}

// WithVariableFrames returns a copy of c that accepts call sizes up to
// maxFrames.
func (c ProcessorConfig) WithVariableFrames(maxFrames int) ProcessorConfig {
	c.NumFrames = maxFrames
	c.AllowVariableFrames = true
	return c
}

// checkFrames validates a call size against c.
func (c ProcessorConfig) checkFrames(frames int) error {
	if c.AllowVariableFrames {
		if frames < 0 || frames > c.NumFrames {
			return fmt.Errorf("%w: %d frames, want at most %d", ErrAudioConfigMismatch, frames, c.NumFrames)
		}
		return nil
	}
	if frames != c.NumFrames {
		return fmt.Errorf("%w: %d frames, want %d", ErrAudioConfigMismatch, frames, c.NumFrames)
	}
	return nil
}
