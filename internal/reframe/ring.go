package reframe

// ring is a fixed-capacity multichannel sample FIFO. All channels advance
// together, so a single head and length describe every channel.
type ring struct {
	data [][]float32
	head int
	size int
}

func newRing(channels, capacity int) *ring {
	data := make([][]float32, channels)
	for ch := range data {
		data[ch] = make([]float32, capacity)
	}
	return &ring{data: data}
}

func (r *ring) capacity() int { return len(r.data[0]) }

// Len returns the number of buffered frames.
func (r *ring) Len() int { return r.size }

// push appends src[ch][:n] to every channel. The caller guarantees space.
func (r *ring) push(src [][]float32, n int) {
	c := r.capacity()
	tail := (r.head + r.size) % c
	first := min(n, c-tail)
	for ch, dst := range r.data {
		copy(dst[tail:tail+first], src[ch][:first])
		copy(dst[:n-first], src[ch][first:n])
	}
	r.size += n
}

func (r *ring) pushSilence(n int) {
	c := r.capacity()
	tail := (r.head + r.size) % c
	first := min(n, c-tail)
	for _, dst := range r.data {
		clear(dst[tail : tail+first])
		clear(dst[:n-first])
	}
	r.size += n
}

// pop moves n frames of every channel into dst[ch][:n]. The caller
// guarantees n <= Len.
func (r *ring) pop(dst [][]float32, n int) {
	c := r.capacity()
	first := min(n, c-r.head)
	for ch, src := range r.data {
		copy(dst[ch][:first], src[r.head:r.head+first])
		copy(dst[ch][first:n], src[:n-first])
	}
	r.head = (r.head + n) % c
	r.size -= n
}

func (r *ring) reset() {
	r.head = 0
	r.size = 0
}
