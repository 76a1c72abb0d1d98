package enhance

import "errors"

var (
	// ErrInvalidArgument is returned for malformed arguments such as an
	// unknown parameter identifier or a nil model.
	ErrInvalidArgument = errors.New("enhance: invalid argument")

	// ErrNotInitialized is returned by process calls before a successful
	// [Processor.Initialize].
	ErrNotInitialized = errors.New("enhance: processor not initialized")

	// ErrAudioConfigUnsupported is returned by [Processor.Initialize] for a
	// configuration outside the supported ranges.
	ErrAudioConfigUnsupported = errors.New("enhance: audio config unsupported")

	// ErrAudioConfigMismatch is returned by process calls whose channel or
	// frame count disagrees with the initialized configuration.
	ErrAudioConfigMismatch = errors.New("enhance: audio config mismatch")

	// ErrChannelLimitExceeded is returned by planar processing with more than
	// [MaxChannels] channels.
	ErrChannelLimitExceeded = errors.New("enhance: channel limit exceeded")

	// ErrParameterOutOfRange is returned when a parameter value lies outside
	// its documented range or is NaN.
	ErrParameterOutOfRange = errors.New("enhance: parameter out of range")

	// ErrParameterFixed is returned when setting a parameter the model pins.
	ErrParameterFixed = errors.New("enhance: parameter fixed by model")

	// ErrEnhancementNotAllowed is returned by process calls while the license
	// gate bypasses. The buffer still holds the delayed passthrough audio.
	ErrEnhancementNotAllowed = errors.New("enhance: enhancement not allowed")

	// ErrProcessorClosed is returned by writes through a context whose
	// processor has been closed.
	ErrProcessorClosed = errors.New("enhance: processor closed")

	// ErrModelInvalid is returned by [NewModel] for inconsistent metadata or
	// weights the kernel factory rejects.
	ErrModelInvalid = errors.New("enhance: model invalid")

	// ErrModelVersionUnsupported is returned by [NewModel] when the model was
	// built for an incompatible engine.
	ErrModelVersionUnsupported = errors.New("enhance: model version unsupported")

	// ErrModelDataUnaligned is returned by [NewModel] for a weight buffer that
	// is not [WeightAlignment]-byte aligned.
	ErrModelDataUnaligned = errors.New("enhance: model data unaligned")

	// ErrInternal is returned when the kernel fails during processing. The
	// buffer then holds the delayed passthrough audio.
	ErrInternal = errors.New("enhance: internal error")
)
