package main

import (
	"fmt"
	"runtime"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"modelbench/internal/generation"
)

func newPresetsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the sampling presets",
		Long:  `Lists the built-in sampling presets together with any defined in the config file.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			all := cfg.AllPresets()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTOP_K\tTEMPERATURE\tMAX_TOKENS\tDESCRIPTION")
			for _, name := range generation.PresetNames(all) {
				p := all[name]
				fmt.Fprintf(tw, "%s\t%d\t%.2f\t%d\t%s\n", name, p.Sampling.TopK, p.Sampling.Temperature, p.Sampling.MaxTokens, p.Description)
			}
			return tw.Flush()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "modelbench %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
