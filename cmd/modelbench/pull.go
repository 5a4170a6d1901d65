package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"modelbench/internal/artifact"
	"modelbench/internal/ui"
)

func newPullCmd(opts *globalOptions) *cobra.Command {
	var (
		retries  int
		noResume bool
		quiet    bool
	)
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Download or resume the model artifact",
		Long: `Downloads the configured model artifact into the data directory.
A partial file left by an interrupted run is resumed with a range request,
and the finished file is checked against the expected size and checksum.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			st, err := a.store.State()
			if err != nil {
				return err
			}
			if st.Kind == artifact.Complete {
				fmt.Fprintf(cmd.OutOrStdout(), "Already downloaded: %s\n", a.store.Path())
				return nil
			}
			if noResume && st.Kind == artifact.Partial {
				if _, err := a.store.Remove(); err != nil {
					return err
				}
			}
			token, err := a.token(opts.token)
			if err != nil {
				return err
			}
			policy := a.cfg.RetryPolicy()
			if cmd.Flags().Changed("retries") {
				policy.MaxRetries = retries
			}

			var sink artifact.ProgressFunc
			var bar *ui.ProgressBar
			if !quiet {
				bar = ui.NewProgressBar(cmd.ErrOrStderr(), a.store.Descriptor().ExpectedSize, a.store.Descriptor().Name)
				sink = bar.Sink()
			}
			path, err := artifact.DownloadWithRetry(cmd.Context(), a.dl, token, sink, policy)
			if bar != nil {
				bar.Finish()
			}
			if err != nil {
				return fmt.Errorf("%s: %w", artifact.KindOf(err), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %s to %s\n", ui.FormatBytes(a.store.Descriptor().ExpectedSize), path)
			return nil
		},
	}
	cmd.Flags().IntVar(&retries, "retries", 3, "retries after transient failures (overrides config)")
	cmd.Flags().BoolVar(&noResume, "no-resume", false, "discard a partial file and start over")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not render a progress bar")
	return cmd
}
