package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/clearvox/pkg/audio"
)

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func TestFormat_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Format{SampleRate: 48000, Channels: 1}, "48000Hz mono"},
		{audio.Format{SampleRate: 44100, Channels: 2}, "44100Hz stereo"},
		{audio.Format{SampleRate: 16000, Channels: 6}, "16000Hz 6ch"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestResample_SameRate(t *testing.T) {
	t.Parallel()
	in := []float32{0.1, 0.2, 0.3}
	out := audio.Resample(in, 48000, 48000)
	if &out[0] != &in[0] {
		t.Error("same-rate resample should return input unchanged")
	}
}

func TestResample_Upsample(t *testing.T) {
	t.Parallel()
	in := []float32{0, 1}
	out := audio.Resample(in, 8000, 16000)
	if len(out) != 4 {
		t.Fatalf("len = %d, want 4", len(out))
	}
	want := []float32{0, 0.5, 1, 1}
	for i := range want {
		if !approx(out[i], want[i]) {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestResample_Downsample(t *testing.T) {
	t.Parallel()
	in := make([]float32, 480)
	out := audio.Resample(in, 48000, 16000)
	if len(out) != 160 {
		t.Errorf("len = %d, want 160", len(out))
	}
}

func TestResample_ZeroRate(t *testing.T) {
	t.Parallel()
	in := []float32{0.5}
	if out := audio.Resample(in, 0, 16000); len(out) != 1 {
		t.Errorf("zero source rate should return input, got %d samples", len(out))
	}
	if out := audio.Resample(in, 16000, 0); len(out) != 1 {
		t.Errorf("zero target rate should return input, got %d samples", len(out))
	}
}

func TestRemix_StereoToMono(t *testing.T) {
	t.Parallel()
	out := audio.Remix([][]float32{{0.2, -0.4}, {0.4, 0}}, 1)
	if len(out) != 1 {
		t.Fatalf("channels = %d, want 1", len(out))
	}
	want := []float32{0.3, -0.2}
	for i := range want {
		if !approx(out[0][i], want[i]) {
			t.Errorf("out[0][%d] = %v, want %v", i, out[0][i], want[i])
		}
	}
}

func TestRemix_MonoToStereo(t *testing.T) {
	t.Parallel()
	out := audio.Remix([][]float32{{0.1, 0.2}}, 2)
	if len(out) != 2 {
		t.Fatalf("channels = %d, want 2", len(out))
	}
	for ch := range out {
		if out[ch][0] != 0.1 || out[ch][1] != 0.2 {
			t.Errorf("channel %d = %v, want [0.1 0.2]", ch, out[ch])
		}
	}
}

func TestFormatConverter_NoOp(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 1}}
	in := [][]float32{{1, 2, 3}}
	out := conv.Convert(in, audio.Format{SampleRate: 48000, Channels: 1})
	if &out[0][0] != &in[0][0] {
		t.Error("matching format should return input unchanged")
	}
}

func TestFormatConverter_FullConversion(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	in := audio.NewPlanar(2, 480)
	out := conv.Convert(in, audio.Format{SampleRate: 48000, Channels: 2})
	if len(out) != 1 {
		t.Fatalf("channels = %d, want 1", len(out))
	}
	if len(out[0]) != 160 {
		t.Errorf("frames = %d, want 160", len(out[0]))
	}
}
