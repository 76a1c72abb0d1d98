package audio

import (
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Clip is a fully decoded audio file.
type Clip struct {
	Format

	// BitDepth is the source file's bit depth.
	BitDepth int

	// Samples holds one slice per channel.
	Samples [][]float32
}

// Frames returns the clip length in frames.
func (c *Clip) Frames() int {
	if len(c.Samples) == 0 {
		return 0
	}
	return len(c.Samples[0])
}

// ReadWAV decodes a PCM WAV file into a planar clip.
func ReadWAV(r io.ReadSeeker) (*Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("audio: invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("audio: decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return nil, errors.New("audio: empty wav buffer")
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		return nil, fmt.Errorf("audio: wav has %d channels", channels)
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = int(dec.BitDepth)
	}
	if bitDepth <= 0 {
		bitDepth = 16
	}
	rate := int(dec.SampleRate)
	if rate == 0 {
		rate = buf.Format.SampleRate
	}

	scale := float32(int(1) << (bitDepth - 1))
	frames := len(buf.Data) / channels
	clip := &Clip{
		Format:   Format{SampleRate: rate, Channels: channels},
		BitDepth: bitDepth,
		Samples:  NewPlanar(channels, frames),
	}
	for i := range frames {
		for ch := range channels {
			clip.Samples[ch][i] = float32(buf.Data[i*channels+ch]) / scale
		}
	}
	return clip, nil
}

// WriteWAV encodes clip as integer PCM WAV at bitDepth (16, 24 or 32).
// Samples outside [-1, 1] are clamped.
func WriteWAV(w io.WriteSeeker, clip *Clip, bitDepth int) error {
	switch bitDepth {
	case 16, 24, 32:
	default:
		return fmt.Errorf("audio: unsupported wav bit depth %d", bitDepth)
	}
	channels := len(clip.Samples)
	if channels == 0 {
		return errors.New("audio: clip has no channels")
	}

	frames := clip.Frames()
	peak := float64(int64(1)<<(bitDepth-1)) - 1
	data := make([]int, frames*channels)
	for ch, s := range clip.Samples {
		for i, v := range s {
			x := math.Round(float64(v) * (peak + 1))
			data[i*channels+ch] = int(max(min(x, peak), -peak-1))
		}
	}

	enc := wav.NewEncoder(w, clip.SampleRate, bitDepth, channels, 1)
	err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: clip.SampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	})
	if err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: finish wav: %w", err)
	}
	return nil
}
