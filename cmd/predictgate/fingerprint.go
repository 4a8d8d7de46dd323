package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pario-ai/predictgate/pkg/fingerprint"
)

func newFingerprintCmd() *cobra.Command {
	var canonical bool

	cmd := &cobra.Command{
		Use:   "fingerprint [json]",
		Short: "Print the cache fingerprint of a JSON payload (argument or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			if len(args) == 1 {
				raw = []byte(args[0])
			} else {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				raw = []byte(strings.TrimSpace(string(b)))
			}

			fp, err := fingerprint.FromJSON(raw)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, fp)
			if canonical {
				c, err := fingerprint.CanonicalJSON(raw)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(c))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&canonical, "canonical", false, "also print the canonical JSON that is hashed")
	return cmd
}
