package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

const defaultConfigPath = "predictgate.yaml"

func main() {
	root := &cobra.Command{
		Use:           "predictgate",
		Short:         "predictgate: caching, rate-limiting proxy for a prediction service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newCacheCmd(),
		newAuditCmd(),
		newFingerprintCmd(),
		newPredictCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
