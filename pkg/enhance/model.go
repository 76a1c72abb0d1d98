package enhance

import (
	"fmt"
	"math"
	"time"
	"unsafe"
)

// WeightAlignment is the byte alignment [NewModel] requires of model weights.
const WeightAlignment = 64

// maxDelayWindows bounds the algorithmic delay a model may declare.
const maxDelayWindows = 64

// Kernel is the numerical enhancement core a [Model] instantiates per
// stream. Implementations are owned by one processor and called from its
// audio goroutine only.
type Kernel interface {
	// Enhance processes one native window per channel in place. The output
	// lags the input by the model's DelayWindows windows. It must not block
	// or allocate.
	Enhance(window [][]float32)

	// Reset clears all internal state, including any delayed audio.
	Reset()
}

// KernelConfig describes the stream a kernel is created for.
type KernelConfig struct {
	SampleRate   int
	Channels     int
	WindowFrames int
	DelayWindows int

	// Weights is the model's weight blob. Kernels must treat it as read-only;
	// it is shared by every processor of the model.
	Weights []byte
}

// KernelFactory creates a kernel for one stream.
type KernelFactory func(KernelConfig) (Kernel, error)

// ModelInfo is the metadata a model is loaded with.
type ModelInfo struct {
	// ID names the model, e.g. "clearvox-l-48khz".
	ID string

	// SampleRate is the rate the model was trained at.
	SampleRate int

	// Window is the native window duration, e.g. 10ms.
	Window time.Duration

	// DelayWindows is the algorithmic delay of the kernel in windows.
	DelayWindows int

	// Version is the model format version. It must equal
	// [CompatibleModelVersion].
	Version int

	// FixedParameters pins parameters to values callers cannot change.
	FixedParameters map[Parameter]float32
}

// Model is an immutable, loaded enhancement model. It is safe for concurrent
// use and may back any number of processors; each processor keeps its model
// alive for as long as the processor is reachable.
type Model struct {
	info    ModelInfo
	weights []byte
	factory KernelFactory
}

// NewModel validates info and weights and returns a shareable model. The
// factory is probed once with the native configuration so weights it rejects
// fail here rather than at initialization.
func NewModel(info ModelInfo, weights []byte, factory KernelFactory) (*Model, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: kernel factory is nil", ErrInvalidArgument)
	}
	if err := validateInfo(info); err != nil {
		return nil, err
	}
	if len(weights) > 0 && uintptr(unsafe.Pointer(unsafe.SliceData(weights)))%WeightAlignment != 0 {
		return nil, fmt.Errorf("%w: weights must be %d-byte aligned", ErrModelDataUnaligned, WeightAlignment)
	}

	m := &Model{
		info:    info,
		weights: weights,
		factory: factory,
	}
	m.info.FixedParameters = make(map[Parameter]float32, len(info.FixedParameters))
	for p, v := range info.FixedParameters {
		m.info.FixedParameters[p] = v
	}

	if _, err := m.newKernel(m.info.SampleRate, 1, m.OptimalNumFrames(m.info.SampleRate)); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelInvalid, info.ID, err)
	}
	return m, nil
}

func validateInfo(info ModelInfo) error {
	switch {
	case info.ID == "":
		return fmt.Errorf("%w: id is required", ErrModelInvalid)
	case info.SampleRate < MinSampleRate || info.SampleRate > MaxSampleRate:
		return fmt.Errorf("%w: sample rate %d outside [%d, %d]", ErrModelInvalid, info.SampleRate, MinSampleRate, MaxSampleRate)
	case info.Window <= 0 || framesFor(info.SampleRate, info.Window) < 1:
		return fmt.Errorf("%w: window %v is too short", ErrModelInvalid, info.Window)
	case info.DelayWindows < 0 || info.DelayWindows > maxDelayWindows:
		return fmt.Errorf("%w: delay windows %d outside [0, %d]", ErrModelInvalid, info.DelayWindows, maxDelayWindows)
	case info.Version != compatibleModelVersion:
		return fmt.Errorf("%w: model version %d, engine supports %d", ErrModelVersionUnsupported, info.Version, compatibleModelVersion)
	}
	for p, v := range info.FixedParameters {
		if !p.valid() {
			return fmt.Errorf("%w: fixed parameter %d unknown", ErrModelInvalid, p)
		}
		if err := p.check(v); err != nil {
			return fmt.Errorf("%w: fixed %v", ErrModelInvalid, err)
		}
	}
	return nil
}

// ID returns the model identifier.
func (m *Model) ID() string { return m.info.ID }

// Info returns a copy of the model metadata.
func (m *Model) Info() ModelInfo {
	info := m.info
	info.FixedParameters = make(map[Parameter]float32, len(m.info.FixedParameters))
	for p, v := range m.info.FixedParameters {
		info.FixedParameters[p] = v
	}
	return info
}

// OptimalSampleRate returns the rate the model runs at without resampling
// inside the kernel.
func (m *Model) OptimalSampleRate() int { return m.info.SampleRate }

// OptimalNumFrames returns the native window length in frames at
// sampleRate. Calls of exactly this size add no reframing delay.
func (m *Model) OptimalNumFrames(sampleRate int) int {
	return max(framesFor(sampleRate, m.info.Window), 1)
}

// OptimalConfig returns a mono configuration at the optimal rate and frame
// count.
func (m *Model) OptimalConfig() ProcessorConfig {
	return ProcessorConfig{
		SampleRate:  m.info.SampleRate,
		NumChannels: 1,
		NumFrames:   m.OptimalNumFrames(m.info.SampleRate),
	}
}

// nativeDelay is the output delay of a processor configured with
// OptimalConfig.
func (m *Model) nativeDelay() int {
	return m.info.DelayWindows * m.OptimalNumFrames(m.info.SampleRate)
}

func (m *Model) fixed(p Parameter) (float32, bool) {
	v, ok := m.info.FixedParameters[p]
	return v, ok
}

func (m *Model) newKernel(sampleRate, channels, window int) (Kernel, error) {
	k, err := m.factory(KernelConfig{
		SampleRate:   sampleRate,
		Channels:     channels,
		WindowFrames: window,
		DelayWindows: m.info.DelayWindows,
		Weights:      m.weights,
	})
	if err != nil {
		return nil, err
	}
	if k == nil {
		return nil, fmt.Errorf("kernel factory returned nil kernel")
	}
	return k, nil
}

// AlignedBuffer returns a zeroed n-byte slice whose first byte is
// [WeightAlignment]-byte aligned, suitable for model weights.
func AlignedBuffer(n int) []byte {
	if n <= 0 {
		return nil
	}
	raw := make([]byte, n+WeightAlignment)
	off := int(uintptr(unsafe.Pointer(unsafe.SliceData(raw))) % WeightAlignment)
	if off != 0 {
		off = WeightAlignment - off
	}
	return raw[off : off+n : off+n]
}

func framesFor(sampleRate int, window time.Duration) int {
	return int(math.Round(float64(sampleRate) * window.Seconds()))
}
