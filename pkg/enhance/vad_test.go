package enhance_test

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/MrWong99/clearvox/pkg/enhance"
	"github.com/MrWong99/clearvox/pkg/enhance/mock"
)

// feedVotes processes one native window per vote, loud for true and silent
// for false, and returns the prediction after each window.
func feedVotes(t *testing.T, p *enhance.Processor, votes []bool) []bool {
	t.Helper()
	vad := p.VadContext()
	got := make([]bool, len(votes))
	for i, v := range votes {
		level := float32(0)
		if v {
			level = 0.1
		}
		buf := [][]float32{slices.Repeat([]float32{level}, testWindow)}
		if err := p.ProcessPlanar(buf); err != nil {
			t.Fatalf("window %d: %v", i, err)
		}
		got[i] = vad.IsSpeechDetected()
	}
	return got
}

func votes(pattern string) []bool {
	out := make([]bool, len(pattern))
	for i, c := range pattern {
		out[i] = c == '+'
	}
	return out
}

func newVadProcessor(t *testing.T) *enhance.Processor {
	t.Helper()
	p := newProcessor(t, newModel(t, &mock.Factory{Scale: 1}, 0))
	initialize(t, p, enhance.ProcessorConfig{SampleRate: testRate, NumChannels: 1, NumFrames: testWindow})
	return p
}

func TestVad_HoldMajority(t *testing.T) {
	t.Parallel()
	p := newVadProcessor(t)
	// Default hold of 0.05s is 5 windows of 10ms.
	got := feedVotes(t, p, votes("+++------"))
	want := votes("++++++---")
	if !slices.Equal(got, want) {
		t.Errorf("speech = %v, want %v", got, want)
	}
}

func TestVad_NoHold(t *testing.T) {
	t.Parallel()
	p := newVadProcessor(t)
	if err := p.VadContext().SetParameter(enhance.VadSpeechHoldDuration, 0); err != nil {
		t.Fatal(err)
	}
	got := feedVotes(t, p, votes("++-+-"))
	if want := votes("++-+-"); !slices.Equal(got, want) {
		t.Errorf("speech = %v, want %v", got, want)
	}
}

func TestVad_MinimumSpeechDuration(t *testing.T) {
	t.Parallel()
	p := newVadProcessor(t)
	vad := p.VadContext()
	if err := vad.SetParameter(enhance.VadMinimumSpeechDuration, 0.03); err != nil {
		t.Fatal(err)
	}
	if err := vad.SetParameter(enhance.VadSpeechHoldDuration, 0); err != nil {
		t.Fatal(err)
	}
	got := feedVotes(t, p, votes("++-+++++-"))
	if want := votes("-----+++-"); !slices.Equal(got, want) {
		t.Errorf("speech = %v, want %v", got, want)
	}
}

func TestVad_Sensitivity(t *testing.T) {
	t.Parallel()
	p := newVadProcessor(t)
	vad := p.VadContext()
	// 0.1 amplitude is 1e-2 energy: above 1e-1 threshold fails.
	if err := vad.SetParameter(enhance.VadSensitivity, 1); err != nil {
		t.Fatal(err)
	}
	if got := feedVotes(t, p, votes("+++")); slices.Contains(got, true) {
		t.Errorf("speech at sensitivity 1 = %v, want none", got)
	}
	if err := vad.SetParameter(enhance.VadSensitivity, 3); err != nil {
		t.Fatal(err)
	}
	if got := feedVotes(t, p, votes("+")); !got[0] {
		t.Error("no speech at sensitivity 3")
	}
}

func TestVad_ParameterRounding(t *testing.T) {
	t.Parallel()
	vad := newVadProcessor(t).VadContext()
	tests := []struct {
		p    enhance.VadParameter
		set  float32
		want float64
	}{
		{enhance.VadSpeechHoldDuration, 0.034, 0.03},
		{enhance.VadSpeechHoldDuration, 0.035, 0.04},
		{enhance.VadSpeechHoldDuration, 0.2, 0.2},
		{enhance.VadMinimumSpeechDuration, 0.004, 0},
		{enhance.VadMinimumSpeechDuration, 1, 1},
		{enhance.VadSensitivity, 7.5, 7.5},
	}
	for _, tt := range tests {
		if err := vad.SetParameter(tt.p, tt.set); err != nil {
			t.Fatalf("SetParameter(%s, %v): %v", tt.p, tt.set, err)
		}
		got, err := vad.Parameter(tt.p)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(float64(got)-tt.want) > 1e-6 {
			t.Errorf("%s set to %v reads %v, want %v", tt.p, tt.set, got, tt.want)
		}
	}
}

func TestVad_ParameterErrors(t *testing.T) {
	t.Parallel()
	vad := newVadProcessor(t).VadContext()
	tests := []struct {
		p    enhance.VadParameter
		v    float32
		want error
	}{
		{enhance.VadSpeechHoldDuration, 0.25, enhance.ErrParameterOutOfRange},
		{enhance.VadSpeechHoldDuration, -0.01, enhance.ErrParameterOutOfRange},
		{enhance.VadSensitivity, 0.5, enhance.ErrParameterOutOfRange},
		{enhance.VadSensitivity, 16, enhance.ErrParameterOutOfRange},
		{enhance.VadMinimumSpeechDuration, 1.1, enhance.ErrParameterOutOfRange},
		{enhance.VadSensitivity, float32(math.NaN()), enhance.ErrParameterOutOfRange},
		{enhance.VadParameter(9), 0, enhance.ErrInvalidArgument},
	}
	for _, tt := range tests {
		if err := vad.SetParameter(tt.p, tt.v); !errors.Is(err, tt.want) {
			t.Errorf("SetParameter(%s, %v) err = %v, want %v", tt.p, tt.v, err, tt.want)
		}
	}
	if got, _ := vad.Parameter(enhance.VadSensitivity); got != 6 {
		t.Errorf("sensitivity = %v after failed sets, want 6", got)
	}
}

func TestVad_ResetClearsPrediction(t *testing.T) {
	t.Parallel()
	p := newVadProcessor(t)
	if got := feedVotes(t, p, votes("++")); !got[1] {
		t.Fatal("no speech after loud windows")
	}
	if err := p.Reset(); err != nil {
		t.Fatal(err)
	}
	if p.VadContext().IsSpeechDetected() {
		t.Error("speech still detected after Reset")
	}
}

func TestVad_StaleWhenIdle(t *testing.T) {
	t.Parallel()
	p := newVadProcessor(t)
	feedVotes(t, p, votes("+"))
	vad := p.VadContext()
	for range 3 {
		if !vad.IsSpeechDetected() {
			t.Fatal("prediction changed without processing")
		}
	}
}

func TestParseParameterNames(t *testing.T) {
	t.Parallel()
	for _, p := range []enhance.Parameter{enhance.ParamBypass, enhance.ParamEnhancementLevel, enhance.ParamVoiceGain} {
		got, err := enhance.ParseParameter(p.String())
		if err != nil || got != p {
			t.Errorf("ParseParameter(%q) = %v, %v", p.String(), got, err)
		}
	}
	for _, p := range []enhance.VadParameter{enhance.VadSpeechHoldDuration, enhance.VadSensitivity, enhance.VadMinimumSpeechDuration} {
		got, err := enhance.ParseVadParameter(p.String())
		if err != nil || got != p {
			t.Errorf("ParseVadParameter(%q) = %v, %v", p.String(), got, err)
		}
	}
	if _, err := enhance.ParseParameter("volume"); !errors.Is(err, enhance.ErrInvalidArgument) {
		t.Errorf("unknown name err = %v", err)
	}
}
