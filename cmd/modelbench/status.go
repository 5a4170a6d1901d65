package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"modelbench/internal/artifact"
	"modelbench/internal/ui"
)

// artifactReport is the JSON form of "status --json".
type artifactReport struct {
	Name         string  `json:"name"`
	Path         string  `json:"path"`
	State        string  `json:"state"`
	BytesOnDisk  int64   `json:"bytes_on_disk"`
	ExpectedSize int64   `json:"expected_size"`
	Fraction     float64 `json:"fraction"`
	Verified     *bool   `json:"verified,omitempty"`
	VerifyError  string  `json:"verify_error,omitempty"`
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var (
		asJSON bool
		verify bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the artifact state on disk",
		Long: `Shows whether the model artifact is absent, partially downloaded or
complete. With --verify the file is also checked against the expected size
and checksum.`,
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
			desc := a.store.Descriptor()
			rep := artifactReport{
				Name:         desc.Name,
				Path:         a.store.Path(),
				State:        st.Kind.String(),
				BytesOnDisk:  st.BytesOnDisk,
				ExpectedSize: desc.ExpectedSize,
				Fraction:     min(1, float64(st.BytesOnDisk)/float64(desc.ExpectedSize)),
			}
			if verify && st.Kind != artifact.Absent {
				ok, verr := a.store.VerifyIntegrity()
				rep.Verified = &ok
				if verr != nil {
					rep.VerifyError = verr.Error()
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "Artifact:\t%s\n", rep.Name)
			fmt.Fprintf(tw, "Path:\t%s\n", rep.Path)
			fmt.Fprintf(tw, "State:\t%s\n", rep.State)
			fmt.Fprintf(tw, "On disk:\t%s of %s (%.1f%%)\n", ui.FormatBytes(rep.BytesOnDisk), ui.FormatBytes(rep.ExpectedSize), rep.Fraction*100)
			if rep.Verified != nil {
				v := "ok"
				if !*rep.Verified {
					v = "FAILED: " + rep.VerifyError
				}
				fmt.Fprintf(tw, "Integrity:\t%s\n", v)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().BoolVar(&verify, "verify", false, "check size and checksum")
	return cmd
}

func newRmCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm",
		Short: "Delete the downloaded artifact",
		Long:  `Deletes the model artifact, complete or partial, from the data directory.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			removed, err := a.store.Remove()
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", a.store.Path())
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Nothing to remove at %s\n", a.store.Path())
			}
			return nil
		},
	}
}
