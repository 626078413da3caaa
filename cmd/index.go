package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/plugboard/internal/index"
)

var indexWatch bool

var indexCmd = &cobra.Command{
	Use:   "index [artifact-dir...]",
	Short: "Recompute the Plug-Component index of artifact directories",
	Long: `Set the Plug-Component attribute of each artifact's plug-manifest.yaml to the
sorted list of descriptor files present under its PLUG-INF/ directory.
Directories default to registry.artifacts, then generate.out.

With --watch, keep the index in step with the descriptor directory until
interrupted.`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVarP(&indexWatch, "watch", "w", false, "recompute whenever descriptor files change")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	dirs := args
	if len(dirs) == 0 {
		dirs = cfg.ArtifactDirs()
	}
	if len(dirs) == 0 {
		return fmt.Errorf("no artifact directories given or configured")
	}

	w := cmd.OutOrStdout()
	report := func(c index.Change) {
		state := "unchanged"
		if c.Changed {
			state = "updated"
		}
		fmt.Fprintf(w, "%s: %d descriptors, manifest %s\n", c.Root, len(index.Split(c.Value)), state)
	}

	if !indexWatch {
		for _, dir := range dirs {
			s := index.NewSyncer(dir)
			c, err := s.Sync()
			s.Close()
			if err != nil {
				return fmt.Errorf("indexing %s: %w", dir, err)
			}
			report(c)
		}
		return nil
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	for _, dir := range dirs {
		s := index.NewSyncer(dir)
		events := s.Subscribe(ctx)
		g.Go(func() error {
			defer s.Close()
			return s.Watch(ctx, cfg.Watch.Debounce)
		})
		g.Go(func() error {
			for ev := range events {
				report(ev.Payload)
			}
			return nil
		})
	}
	return g.Wait()
}
