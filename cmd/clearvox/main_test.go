package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/clearvox/pkg/audio"
)

const testConfigYAML = `
server:
  listen_addr: 127.0.0.1:0
  log_level: warn
license:
  key: 1.offline.test
model:
  id: passthrough-16k
  kernel: passthrough
  sample_rate: 16000
  window: 10ms
  delay_windows: 2
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testConfigYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeSine writes a 16-bit WAV with a 440 Hz tone on every channel.
func writeSine(t *testing.T, path string, rate, channels, frames int) *audio.Clip {
	t.Helper()
	clip := &audio.Clip{
		Format:   audio.Format{SampleRate: rate, Channels: channels},
		BitDepth: 16,
		Samples:  audio.NewPlanar(channels, frames),
	}
	for ch := range channels {
		for i := range frames {
			v := 0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)+float64(ch))
			clip.Samples[ch][i] = float32(math.Round(v*32768) / 32768)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := audio.WriteWAV(f, clip, 16); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	return clip
}

func readClip(t *testing.T, path string) *audio.Clip {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	clip, err := audio.ReadWAV(f)
	if err != nil {
		t.Fatalf("ReadWAV %s: %v", path, err)
	}
	return clip
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(io.Discard)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestEnhance_DelayCompensated(t *testing.T) {
	cfg := writeConfig(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "voice.wav")
	// 1234 frames is not a multiple of the 160-frame window.
	want := writeSine(t, in, 16000, 2, 1234)

	outDir := filepath.Join(dir, "out")
	out, err := execute(t, "--config", cfg, "enhance", "--out", outDir, in)
	if err != nil {
		t.Fatalf("enhance: %v\n%s", err, out)
	}
	if !strings.Contains(out, "delay 320") {
		t.Errorf("output %q does not report the 320-frame delay", out)
	}

	got := readClip(t, filepath.Join(outDir, "voice.wav"))
	if got.Format != want.Format || got.Frames() != want.Frames() {
		t.Fatalf("output %v/%d frames, want %v/%d", got.Format, got.Frames(), want.Format, want.Frames())
	}
	for ch := range want.Samples {
		for i, v := range want.Samples[ch] {
			if got.Samples[ch][i] != v {
				t.Fatalf("ch %d sample %d = %v, want %v", ch, i, got.Samples[ch][i], v)
			}
		}
	}
}

func TestEnhance_ManyFiles(t *testing.T) {
	cfg := writeConfig(t)
	dir := t.TempDir()
	var inputs []string
	for _, name := range []string{"a.wav", "b.wav", "c.wav", "d.wav"} {
		p := filepath.Join(dir, name)
		writeSine(t, p, 16000, 1, 800)
		inputs = append(inputs, p)
	}

	args := append([]string{"--config", cfg, "enhance", "--jobs", "2"}, inputs...)
	if out, err := execute(t, args...); err != nil {
		t.Fatalf("enhance: %v\n%s", err, out)
	}
	for _, in := range inputs {
		out := strings.TrimSuffix(in, ".wav") + ".enhanced.wav"
		if got := readClip(t, out); got.Frames() != 800 {
			t.Errorf("%s: %d frames, want 800", out, got.Frames())
		}
	}
}

func TestEnhance_Resample(t *testing.T) {
	cfg := writeConfig(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "voice.wav")
	writeSine(t, in, 16000, 1, 1600)

	outDir := filepath.Join(dir, "out")
	if out, err := execute(t, "--config", cfg, "enhance", "-o", outDir, "--rate", "8000", "--bit-depth", "24", in); err != nil {
		t.Fatalf("enhance: %v\n%s", err, out)
	}
	got := readClip(t, filepath.Join(outDir, "voice.wav"))
	if got.SampleRate != 8000 || got.BitDepth != 24 {
		t.Errorf("output %v at %d bits, want 8000 Hz at 24 bits", got.Format, got.BitDepth)
	}
}

func TestEnhance_Errors(t *testing.T) {
	cfg := writeConfig(t)
	dir := t.TempDir()

	if _, err := execute(t, "--config", cfg, "enhance", filepath.Join(dir, "missing.wav")); err == nil {
		t.Error("missing input accepted")
	}

	bogus := filepath.Join(dir, "bogus.wav")
	if err := os.WriteFile(bogus, []byte("not a wav file"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "--config", cfg, "enhance", bogus); err == nil {
		t.Error("invalid wav accepted")
	}

	if _, err := execute(t, "--config", cfg, "enhance"); err == nil {
		t.Error("enhance without inputs accepted")
	}
}

func TestInfo(t *testing.T) {
	cfg := writeConfig(t)
	out, err := execute(t, "--config", cfg, "info")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	for _, want := range []string{"engine version", "passthrough-16k", "16000 Hz", "320 frames"} {
		if !strings.Contains(out, want) {
			t.Errorf("info output missing %q:\n%s", want, out)
		}
	}
}

func TestInfo_EngineOnly(t *testing.T) {
	out, err := execute(t, "--config", filepath.Join(t.TempDir(), "none.yaml"), "info", "--engine")
	if err != nil {
		t.Fatalf("info --engine: %v", err)
	}
	if !strings.Contains(out, "engine version") || strings.Contains(out, "kernel") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestServe_MissingConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "none.yaml"), "serve")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("serve = %v, want not found error", err)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	f := &rootFlags{configPath: writeConfig(t), level: new(slog.LevelVar), logOut: io.Discard}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, f, time.Hour) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runServe: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runServe did not return")
	}
}
