package reframe

// DelayLine delays a window stream by a whole number of windows. It keeps
// the dry signal aligned with a kernel that reports its output that many
// windows late.
type DelayLine struct {
	slots [][][]float32 // [slot][channel][frame]
	next  int
}

// NewDelayLine creates a delay of windows windows of channels x frames.
// A zero-window line copies its input straight through.
func NewDelayLine(windows, channels, frames int) *DelayLine {
	d := &DelayLine{slots: make([][][]float32, windows)}
	for i := range d.slots {
		d.slots[i] = make([][]float32, channels)
		for ch := range d.slots[i] {
			d.slots[i][ch] = make([]float32, frames)
		}
	}
	return d
}

// Windows returns the delay length in windows.
func (d *DelayLine) Windows() int { return len(d.slots) }

// Shift stores in and writes the window received Windows() calls earlier
// into out. in and out must not alias.
func (d *DelayLine) Shift(in, out [][]float32) {
	if len(d.slots) == 0 {
		for ch := range in {
			copy(out[ch], in[ch])
		}
		return
	}
	slot := d.slots[d.next]
	for ch := range in {
		copy(out[ch], slot[ch])
		copy(slot[ch], in[ch])
	}
	d.next = (d.next + 1) % len(d.slots)
}

// Reset fills the line with silence.
func (d *DelayLine) Reset() {
	for _, slot := range d.slots {
		for _, ch := range slot {
			clear(ch)
		}
	}
	d.next = 0
}
