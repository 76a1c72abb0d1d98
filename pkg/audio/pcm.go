package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SampleFormat is the wire encoding of one sample.
type SampleFormat int

const (
	// Float32LE is IEEE 754 single precision, little-endian.
	Float32LE SampleFormat = iota

	// Int16LE is signed 16-bit PCM, little-endian.
	Int16LE
)

// ParseSampleFormat maps "f32" and "s16" to their formats.
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch s {
	case "", "f32", "float32":
		return Float32LE, nil
	case "s16", "int16":
		return Int16LE, nil
	default:
		return 0, fmt.Errorf("audio: unknown sample format %q", s)
	}
}

// String returns the short name of f.
func (f SampleFormat) String() string {
	switch f {
	case Float32LE:
		return "f32"
	case Int16LE:
		return "s16"
	default:
		return "unknown"
	}
}

// Size returns the encoded size of one sample in bytes.
func (f SampleFormat) Size() int {
	if f == Int16LE {
		return 2
	}
	return 4
}

// Decode converts b into samples. len(dst) must be at least
// len(b)/f.Size(). It returns the number of samples written.
func (f SampleFormat) Decode(dst []float32, b []byte) (int, error) {
	size := f.Size()
	if len(b)%size != 0 {
		return 0, fmt.Errorf("audio: %d bytes is not a whole number of %s samples", len(b), f)
	}
	n := len(b) / size
	if n > len(dst) {
		return 0, fmt.Errorf("audio: %d samples exceed buffer of %d", n, len(dst))
	}
	switch f {
	case Int16LE:
		for i := range n {
			dst[i] = Int16ToFloat32(int16(binary.LittleEndian.Uint16(b[i*2:])))
		}
	default:
		for i := range n {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		}
	}
	return n, nil
}

// AppendEncode appends the encoding of samples to b.
func (f SampleFormat) AppendEncode(b []byte, samples []float32) []byte {
	switch f {
	case Int16LE:
		for _, s := range samples {
			b = binary.LittleEndian.AppendUint16(b, uint16(Float32ToInt16(s)))
		}
	default:
		for _, s := range samples {
			b = binary.LittleEndian.AppendUint32(b, math.Float32bits(s))
		}
	}
	return b
}

// Int16ToFloat32 scales a 16-bit sample to [-1, 1).
func Int16ToFloat32(s int16) float32 {
	return float32(s) / 32768
}

// Float32ToInt16 scales s to 16 bits, clamping values outside [-1, 1].
func Float32ToInt16(s float32) int16 {
	v := math.Round(float64(s) * 32768)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	case math.IsNaN(v):
		return 0
	}
	return int16(v)
}
