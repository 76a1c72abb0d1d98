package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/clearvox/internal/app"
	"github.com/MrWong99/clearvox/internal/config"
	"github.com/MrWong99/clearvox/pkg/enhance"
)

func newInfoCmd(f *rootFlags) *cobra.Command {
	var engineOnly bool
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print engine and model information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "engine version\t%s\n", enhance.SDKVersion())
			fmt.Fprintf(w, "model format\t%d\n", enhance.CompatibleModelVersion())
			if engineOnly {
				return w.Flush()
			}

			cfg, err := f.loadConfig()
			if err != nil {
				return err
			}
			reg := config.NewRegistry()
			app.RegisterBuiltins(reg)
			model, err := app.LoadModel(cfg.Model, reg)
			if err != nil {
				return err
			}
			info := model.Info()
			opt := model.OptimalConfig()
			fmt.Fprintf(w, "model\t%s\n", info.ID)
			fmt.Fprintf(w, "kernel\t%s\n", cfg.Model.Kernel)
			fmt.Fprintf(w, "optimal sample rate\t%d Hz\n", opt.SampleRate)
			fmt.Fprintf(w, "optimal frames\t%d\n", opt.NumFrames)
			fmt.Fprintf(w, "window\t%v\n", info.Window)
			fmt.Fprintf(w, "native delay\t%d frames\n", info.DelayWindows*opt.NumFrames)
			for _, p := range []enhance.Parameter{enhance.ParamBypass, enhance.ParamEnhancementLevel, enhance.ParamVoiceGain} {
				if v, ok := info.FixedParameters[p]; ok {
					fmt.Fprintf(w, "fixed %s\t%v\n", p, v)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&engineOnly, "engine", false, "print engine information only, without loading a model")
	return cmd
}
