package enhance

import (
	"fmt"
	"math"
)

// Parameter identifies a runtime-tunable enhancement parameter.
type Parameter int

const (
	// ParamBypass in [0, 1]. Values of 0.5 and above pass audio through,
	// delayed like enhanced audio. Default 0.
	ParamBypass Parameter = iota

	// ParamEnhancementLevel in [0, 1] blends the delay-aligned input (0) with
	// the fully enhanced signal (1). Default 1.
	ParamEnhancementLevel

	// ParamVoiceGain in [0.1, 4] is a linear gain on the enhanced signal.
	// Default 1.
	ParamVoiceGain

	numParams
)

type paramDef struct {
	name     string
	min, max float32
	def      float32
}

var paramDefs = [numParams]paramDef{
	ParamBypass:           {name: "bypass", min: 0, max: 1, def: 0},
	ParamEnhancementLevel: {name: "enhancement_level", min: 0, max: 1, def: 1},
	ParamVoiceGain:        {name: "voice_gain", min: 0.1, max: 4, def: 1},
}

func (p Parameter) valid() bool { return p >= 0 && p < numParams }

// String returns the configuration name of p.
func (p Parameter) String() string {
	if !p.valid() {
		return fmt.Sprintf("parameter(%d)", int(p))
	}
	return paramDefs[p].name
}

// Range returns the inclusive bounds of p.
func (p Parameter) Range() (lo, hi float32) {
	if !p.valid() {
		return 0, 0
	}
	return paramDefs[p].min, paramDefs[p].max
}

// Default returns the value p starts with.
func (p Parameter) Default() float32 {
	if !p.valid() {
		return 0
	}
	return paramDefs[p].def
}

func (p Parameter) check(v float32) error {
	ps := paramDefs[p]
	if math.IsNaN(float64(v)) || v < ps.min || v > ps.max {
		return fmt.Errorf("%w: %s=%v outside [%v, %v]", ErrParameterOutOfRange, ps.name, v, ps.min, ps.max)
	}
	return nil
}

// ParseParameter maps a configuration name such as "voice_gain" to its
// [Parameter].
func ParseParameter(name string) (Parameter, error) {
	for p := range numParams {
		if paramDefs[p].name == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown parameter %q", ErrInvalidArgument, name)
}

// VadParameter identifies a voice activity detection parameter.
type VadParameter int

const (
	// VadSpeechHoldDuration in seconds, within [0, 20 native windows]. Speech
	// continues after the signal drops for as long as at least half of the
	// votes in this span were positive. Rounded to whole windows. Default
	// 0.05.
	VadSpeechHoldDuration VadParameter = iota

	// VadSensitivity in [1, 15]. A window votes for speech when its energy
	// exceeds 10^-sensitivity. Default 6.
	VadSensitivity

	// VadMinimumSpeechDuration in seconds, within [0, 1]. Speech is reported
	// only after this many consecutive positive votes. Rounded to whole
	// windows. Default 0.
	VadMinimumSpeechDuration

	numVadParams
)

// maxHoldWindows bounds VadSpeechHoldDuration in native windows.
const maxHoldWindows = 20

var vadDefs = [numVadParams]paramDef{
	VadSpeechHoldDuration:    {name: "speech_hold_duration", min: 0, def: 0.05},
	VadSensitivity:           {name: "sensitivity", min: 1, max: 15, def: 6},
	VadMinimumSpeechDuration: {name: "minimum_speech_duration", min: 0, max: 1, def: 0},
}

func (p VadParameter) valid() bool { return p >= 0 && p < numVadParams }

// String returns the configuration name of p.
func (p VadParameter) String() string {
	if !p.valid() {
		return fmt.Sprintf("vad_parameter(%d)", int(p))
	}
	return vadDefs[p].name
}

// Default returns the value p starts with.
func (p VadParameter) Default() float32 {
	if !p.valid() {
		return 0
	}
	return vadDefs[p].def
}

// isDuration reports whether p is a duration rounded to whole windows.
func (p VadParameter) isDuration() bool {
	return p == VadSpeechHoldDuration || p == VadMinimumSpeechDuration
}

// bounds returns the range of p for a model with the given window length
// in seconds.
func (p VadParameter) bounds(window float64) (lo, hi float32) {
	ps := vadDefs[p]
	if p == VadSpeechHoldDuration {
		return ps.min, float32(maxHoldWindows * window)
	}
	return ps.min, ps.max
}

// ParseVadParameter maps a configuration name such as "sensitivity" to its
// [VadParameter].
func ParseVadParameter(name string) (VadParameter, error) {
	for p := range numVadParams {
		if vadDefs[p].name == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown vad parameter %q", ErrInvalidArgument, name)
}

// windowsFor converts seconds to whole windows, rounding half up.
func windowsFor(seconds float32, window float64) int {
	if window <= 0 {
		return 0
	}
	return int(math.Floor(float64(seconds)/window + 0.5))
}
