package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/plugboard/internal/generate"
)

// workerCmd serves one generation request for generate --fork: a YAML
// request on stdin, a YAML reply on stdout.
var workerCmd = &cobra.Command{
	Use:    "generate-worker",
	Short:  "Serve one generation pass over stdio",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		g := generate.New(
			generate.WithTracer(tracer),
			generate.WithCollectPolicy(cfg.Generate.Collect.Policy()),
		)
		return generate.RunWorker(cmd.Context(), g, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
