package enhance

import (
	"math"
	"sync/atomic"
)

// atomicFloat32 stores a float32 as its bit pattern so readers never see a
// torn value.
type atomicFloat32 struct {
	bits atomic.Uint32
}

func (f *atomicFloat32) Load() float32 {
	return math.Float32frombits(f.bits.Load())
}

func (f *atomicFloat32) Store(v float32) {
	f.bits.Store(math.Float32bits(v))
}
