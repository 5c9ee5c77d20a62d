package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/vectorize/internal/storage"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "vectorize\n")
			_, _ = fmt.Fprintf(out, "Version: %s\n", version)
			_, _ = fmt.Fprintf(out, "Build Time: %s\n", buildTime)
			_, _ = fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
			_, _ = fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
		},
	}
}
