package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "vibelog",
		Short:   "VibeLog AI generation orchestration service",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newCostsCmd(),
		newCacheCmd(),
		newSpendCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
