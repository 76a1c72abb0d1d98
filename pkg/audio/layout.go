// Package audio holds the buffer layouts, sample codecs and file formats
// clearvox moves audio through.
//
// Samples are float32 in [-1, 1]. A planar buffer is one slice per channel.
// An interleaved buffer stores frame after frame with channels interleaved.
// A sequential buffer stores all frames of channel 0, then all frames of
// channel 1 and so on.
package audio

// Layout is the arrangement of samples in a flat buffer.
type Layout int

const (
	// Interleaved stores L R L R ...
	Interleaved Layout = iota

	// Sequential stores L L ... R R ...
	Sequential

	// Planar uses one slice per channel.
	Planar
)

// String returns the name of l as used in configuration.
func (l Layout) String() string {
	switch l {
	case Interleaved:
		return "interleaved"
	case Sequential:
		return "sequential"
	case Planar:
		return "planar"
	default:
		return "unknown"
	}
}

// NewPlanar allocates channels zeroed slices of frames samples.
func NewPlanar(channels, frames int) [][]float32 {
	out := make([][]float32, channels)
	backing := make([]float32, channels*frames)
	for ch := range out {
		out[ch] = backing[ch*frames : (ch+1)*frames : (ch+1)*frames]
	}
	return out
}

// Deinterleave copies the interleaved samples in src into the planar dst.
// len(src) must be len(dst) * len(dst[0]).
func Deinterleave(dst [][]float32, src []float32) {
	channels := len(dst)
	if channels == 0 {
		return
	}
	if channels == 1 {
		copy(dst[0], src)
		return
	}
	for ch, out := range dst {
		for i := range out {
			out[i] = src[i*channels+ch]
		}
	}
}

// Interleave copies the planar samples in src into the interleaved dst.
func Interleave(dst []float32, src [][]float32) {
	channels := len(src)
	if channels == 0 {
		return
	}
	if channels == 1 {
		copy(dst, src[0])
		return
	}
	for ch, in := range src {
		for i, v := range in {
			dst[i*channels+ch] = v
		}
	}
}

// SequentialViews points views[ch] at channel ch of the sequential buffer
// buf, which holds frames frames per channel, and returns views. It does
// not copy.
func SequentialViews(views [][]float32, buf []float32, frames int) [][]float32 {
	for ch := range views {
		views[ch] = buf[ch*frames : (ch+1)*frames : (ch+1)*frames]
	}
	return views
}
