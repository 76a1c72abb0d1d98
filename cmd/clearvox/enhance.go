package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/clearvox/internal/app"
	"github.com/MrWong99/clearvox/internal/config"
	"github.com/MrWong99/clearvox/pkg/audio"
	"github.com/MrWong99/clearvox/pkg/enhance"
)

// enhanceOptions holds the flags of the enhance command.
type enhanceOptions struct {
	outDir   string
	jobs     int
	rate     int
	bitDepth int
}

func newEnhanceCmd(f *rootFlags) *cobra.Command {
	var o enhanceOptions
	cmd := &cobra.Command{
		Use:   "enhance <input.wav>...",
		Short: "Enhance WAV files offline",
		Long: `Enhance WAV files offline.

Each file runs through its own processor on the shared model. The output is
delay-compensated so it lines up sample for sample with the input. Without
--out, results are written next to the input as <name>.enhanced.wav.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.loadConfig()
			if err != nil {
				return err
			}
			reg := config.NewRegistry()
			app.RegisterBuiltins(reg)
			application, err := app.New(cfg, reg)
			if err != nil {
				return err
			}
			defer application.Shutdown(context.WithoutCancel(cmd.Context()))

			if o.outDir != "" {
				if err := os.MkdirAll(o.outDir, 0o755); err != nil {
					return fmt.Errorf("create output dir: %w", err)
				}
			}

			var mu sync.Mutex
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(max(o.jobs, 1))
			for _, in := range args {
				g.Go(func() error {
					out := outputPath(o.outDir, in)
					res, err := enhanceFile(ctx, application, in, out, o)
					if err != nil {
						return fmt.Errorf("%s: %w", in, err)
					}
					mu.Lock()
					defer mu.Unlock()
					fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s, %d frames, delay %d)\n",
						in, out, res.format, res.frames, res.delay)
					return nil
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVarP(&o.outDir, "out", "o", "", "output directory")
	cmd.Flags().IntVarP(&o.jobs, "jobs", "j", runtime.NumCPU(), "files processed concurrently")
	cmd.Flags().IntVar(&o.rate, "rate", 0, "processing and output sample rate in Hz (default: input rate)")
	cmd.Flags().IntVar(&o.bitDepth, "bit-depth", 0, "output bit depth: 16, 24 or 32 (default: input depth)")
	return cmd
}

// outputPath places the result of in under dir, or next to in when dir is
// empty.
func outputPath(dir, in string) string {
	base := filepath.Base(in)
	if dir != "" {
		return filepath.Join(dir, base)
	}
	ext := filepath.Ext(base)
	return filepath.Join(filepath.Dir(in), strings.TrimSuffix(base, ext)+".enhanced"+ext)
}

type fileResult struct {
	format audio.Format
	frames int
	delay  int
}

func enhanceFile(ctx context.Context, a *app.App, inPath, outPath string, o enhanceOptions) (fileResult, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return fileResult{}, err
	}
	clip, err := audio.ReadWAV(in)
	in.Close()
	if err != nil {
		return fileResult{}, err
	}

	target := audio.Format{
		SampleRate: clip.SampleRate,
		Channels:   min(clip.Channels, enhance.MaxChannels),
	}
	if o.rate > 0 {
		target.SampleRate = o.rate
	}
	conv := &audio.FormatConverter{Target: target}
	samples := conv.Convert(clip.Samples, clip.Format)

	p, err := a.NewProcessor()
	if err != nil {
		return fileResult{}, err
	}
	defer p.Close()

	frames := a.Model().OptimalNumFrames(target.SampleRate)
	if err := p.Initialize(enhance.ProcessorConfig{
		SampleRate:  target.SampleRate,
		NumChannels: target.Channels,
		NumFrames:   frames,
	}); err != nil {
		return fileResult{}, err
	}

	enhanced, err := processClip(ctx, p, samples, frames)
	if err != nil {
		return fileResult{}, err
	}

	bitDepth := o.bitDepth
	if bitDepth == 0 {
		bitDepth = clip.BitDepth
		if bitDepth != 24 && bitDepth != 32 {
			bitDepth = 16
		}
	}
	out, err := os.Create(outPath)
	if err != nil {
		return fileResult{}, err
	}
	werr := audio.WriteWAV(out, &audio.Clip{Format: target, BitDepth: bitDepth, Samples: enhanced}, bitDepth)
	if err := errors.Join(werr, out.Close()); err != nil {
		return fileResult{}, err
	}

	res := fileResult{format: target, frames: len(enhanced[0]), delay: p.OutputDelay()}
	slog.Debug("file enhanced", "in", inPath, "out", outPath, "format", target, "frames", res.frames, "delay", res.delay)
	return res, nil
}

// processClip runs samples through p in calls of frames. The first
// OutputDelay frames of output are dropped and the input is padded with
// silence to flush the tail, so the result is aligned with samples.
func processClip(ctx context.Context, p *enhance.Processor, samples [][]float32, frames int) ([][]float32, error) {
	channels := len(samples)
	total := len(samples[0])
	out := audio.NewPlanar(channels, total)
	buf := audio.NewPlanar(channels, frames)

	// written is the output position of buf[ch][0].
	written := -p.OutputDelay()
	for pos := 0; written < total; pos += frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for ch := range channels {
			n := 0
			if pos < total {
				n = copy(buf[ch], samples[ch][pos:])
			}
			clear(buf[ch][n:])
		}

		err := p.ProcessPlanar(buf)
		switch {
		case err == nil, errors.Is(err, enhance.ErrEnhancementNotAllowed):
		case errors.Is(err, enhance.ErrInternal):
			slog.Warn("kernel fault, block passed through", "processor", p.ID(), "pos", pos, "err", err)
		default:
			return nil, err
		}

		start := max(-written, 0)
		end := min(frames, total-written)
		if end > start {
			for ch := range channels {
				copy(out[ch][written+start:written+end], buf[ch][start:end])
			}
		}
		written += frames
	}
	return out, nil
}
