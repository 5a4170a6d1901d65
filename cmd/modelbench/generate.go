package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"modelbench/internal/generation"
	"modelbench/internal/manager"
)

type generateFlags struct {
	preset      string
	topK        int
	temperature float64
	seed        int
	maxTokens   int
	noStream    bool
	metrics     string
	limit       int
}

func newGenerateCmd(opts *globalOptions) *cobra.Command {
	f := &generateFlags{}
	cmd := &cobra.Command{
		Use:   "generate [prompt...]",
		Short: "Run one prompt and print performance metrics",
		Long: `Loads the model, runs one streaming generation and prints the response
followed by prefill and decode metrics. The artifact is downloaded first when
it is missing and a token is available. Use "-" to read the prompt from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			a, err := opts.newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			cfg, err := f.sampling(cmd, a.cfg.SamplingFor)
			if err != nil {
				return err
			}
			token, err := a.token(opts.token)
			if err != nil {
				return err
			}
			mgr := a.newManager(token, false)
			defer mgr.Close()

			if err := mgr.Bootstrap(cmd.Context()); err != nil {
				return err
			}
			if snap := mgr.Snapshot(); snap.State != manager.StateReady {
				if snap.State == manager.StateNeedToken {
					return errors.New("artifact is not downloaded: run pull or pass --token")
				}
				return fmt.Errorf("engine not ready (%s): %s", snap.State, snap.Err)
			}

			events, err := mgr.Submit(cmd.Context(), prompt, cfg)
			if err != nil {
				return err
			}
			return f.render(cmd.OutOrStdout(), events)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.preset, "preset", "p", "", "sampling preset (see presets)")
	fl.IntVar(&f.topK, "top-k", 0, "override top_k")
	fl.Float64Var(&f.temperature, "temperature", 0, "override temperature")
	fl.IntVar(&f.seed, "seed", 0, "override seed")
	fl.IntVar(&f.maxTokens, "max-tokens", 0, "override max_tokens")
	fl.BoolVar(&f.noStream, "no-stream", false, "print the response once it is complete")
	fl.StringVar(&f.metrics, "metrics", "detailed", "metrics output: detailed|basic|none")
	fl.IntVar(&f.limit, "limit", generation.DisplayLimit, "characters of the response shown with --no-stream (0 = all)")
	return cmd
}

// sampling resolves the preset and applies explicitly set flags on top.
func (f *generateFlags) sampling(cmd *cobra.Command, preset func(string) (generation.SamplingConfig, error)) (generation.SamplingConfig, error) {
	cfg, err := preset(f.preset)
	if err != nil {
		return cfg, err
	}
	fl := cmd.Flags()
	if fl.Changed("top-k") {
		cfg.TopK = f.topK
	}
	if fl.Changed("temperature") {
		cfg.Temperature = f.temperature
	}
	if fl.Changed("seed") {
		cfg.Seed = f.seed
	}
	if fl.Changed("max-tokens") {
		cfg.MaxTokens = f.maxTokens
	}
	return cfg, cfg.Validate()
}

// render writes the stream to w and returns an error for a failed run.
func (f *generateFlags) render(w io.Writer, events <-chan generation.Event) error {
	for ev := range events {
		switch e := ev.(type) {
		case generation.TokenGenerated:
			if !f.noStream {
				fmt.Fprint(w, e.Text)
			}
		case generation.Completed:
			if f.noStream {
				fmt.Fprint(w, generation.TruncateForDisplay(e.FullText, f.limit))
			}
			fmt.Fprintln(w)
			switch f.metrics {
			case "none":
			case "basic":
				fmt.Fprintln(w, e.Metrics.Basic().String())
			default:
				fmt.Fprintln(w)
				fmt.Fprintln(w, e.Metrics.Report())
			}
			return nil
		case generation.Failed:
			fmt.Fprintln(w)
			if e.Cancelled {
				return fmt.Errorf("generation cancelled: %s", e.Message)
			}
			return errors.New(e.Message)
		}
	}
	return errors.New("generation stream ended without a result")
}

// readPrompt joins args, or reads stdin when the only argument is "-".
func readPrompt(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", err
		}
		args = []string{string(b)}
	}
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		return "", errors.New("prompt is empty")
	}
	return prompt, nil
}
