package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/plugboard/internal/config"
	"github.com/zjrosen/plugboard/internal/discover"
	"github.com/zjrosen/plugboard/internal/generate"
	"github.com/zjrosen/plugboard/internal/index"
	"github.com/zjrosen/plugboard/internal/log"
	"github.com/zjrosen/plugboard/internal/watcher"
)

// ErrStale is returned by generate --check when the artifact on disk does
// not match a fresh pass.
var ErrStale = errors.New("descriptors are out of date; run plugboard generate")

var (
	genRoots []string
	genLink  []string
	genOut   string
	genCheck bool
	genFork  bool
	genWatch bool
	genSave  bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a descriptor for every plug under the scan roots",
	Long: `Scan the configured roots for types marked //plug:socket, describe each one
through an isolated linkage context, write the descriptors to <out>/PLUG-INF/
and update the Plug-Component index in <out>/plug-manifest.yaml.

Only plugs compiled into this binary can be described. Any failure aborts
the pass and nothing is written.

Examples:
  # Use roots from the config file
  plugboard generate

  # Scan a directory, giving its import path
  plugboard generate --root ./plugins=github.com/acme/app/plugins --out ./build

  # Fail with a diff when the committed descriptors are stale
  plugboard generate --check

  # Regenerate whenever a Go file under the roots changes
  plugboard generate --watch`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringArrayVarP(&genRoots, "root", "r", nil,
		"scan root as dir=import/path (repeatable, replaces generate.roots)")
	generateCmd.Flags().StringArrayVarP(&genLink, "link", "l", nil,
		"extra import path prefix visible to the pass (repeatable)")
	generateCmd.Flags().StringVar(&genOut, "out", "", "artifact directory (overrides generate.out)")
	generateCmd.Flags().BoolVar(&genCheck, "check", false, "compare with the artifact on disk instead of writing")
	generateCmd.Flags().BoolVar(&genFork, "fork", false, "run the pass in a child process")
	generateCmd.Flags().BoolVarP(&genWatch, "watch", "w", false, "regenerate when sources change")
	generateCmd.Flags().BoolVar(&genSave, "save", false, "store --root values in the config file")
	generateCmd.MarkFlagsMutuallyExclusive("check", "watch")
	rootCmd.AddCommand(generateCmd)
}

// passFunc runs one generation pass.
type passFunc func(context.Context, generate.Request) (*generate.Result, error)

// newWorker builds the child process used by --fork.
var newWorker = func() (generate.Worker, error) {
	return generate.SelfWorker(workerCmd.Name(), "--config", configPath())
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	req, out, err := generateRequest()
	if err != nil {
		return err
	}
	if genSave {
		if len(genRoots) == 0 {
			return fmt.Errorf("--save needs at least one --root")
		}
		if err := config.SetGenerateRoots(configPath(), req.Roots); err != nil {
			return fmt.Errorf("saving roots: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved %d scan roots to %s\n", len(req.Roots), configPath())
	}

	run, err := passRunner()
	if err != nil {
		return err
	}
	if genWatch {
		return watchGenerate(cmd, run, req, out)
	}
	return generateOnce(cmd, run, req, out)
}

func generateRequest() (generate.Request, string, error) {
	req := generate.Request{
		Roots: cfg.Generate.Roots,
		Link:  append(slices.Clone(cfg.Generate.Link), genLink...),
	}
	if len(genRoots) > 0 {
		req.Roots = nil
		for _, s := range genRoots {
			r, err := parseRoot(s)
			if err != nil {
				return req, "", err
			}
			req.Roots = append(req.Roots, r)
		}
		if err := config.ValidateGenerate(config.GenerateConfig{Roots: req.Roots}); err != nil {
			return req, "", err
		}
	}
	if len(req.Roots) == 0 {
		return req, "", fmt.Errorf("no scan roots: pass --root dir=import/path or set generate.roots")
	}
	out := cfg.Generate.Out
	if genOut != "" {
		out = genOut
	}
	if out == "" {
		out = "."
	}
	return req, out, nil
}

func parseRoot(s string) (discover.Root, error) {
	dir, importPath, ok := strings.Cut(s, "=")
	if !ok || dir == "" || importPath == "" {
		return discover.Root{}, fmt.Errorf("invalid --root %q, want dir=import/path", s)
	}
	return discover.Root{Dir: dir, ImportPath: importPath}, nil
}

func passRunner() (passFunc, error) {
	if genFork || cfg.Generate.Fork {
		wk, err := newWorker()
		if err != nil {
			return nil, err
		}
		return wk.Generate, nil
	}
	g := generate.New(
		generate.WithTracer(tracer),
		generate.WithCollectPolicy(cfg.Generate.Collect.Policy()),
	)
	return g.Generate, nil
}

func generateOnce(cmd *cobra.Command, run passFunc, req generate.Request, out string) error {
	res, err := run(cmd.Context(), req)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	descs := res.Map()
	if genCheck {
		return checkArtifact(w, out, descs)
	}

	st, err := index.WriteDescriptors(filepath.Join(out, index.Dir), descs)
	if err != nil {
		return err
	}
	syncer := index.NewSyncer(out)
	defer syncer.Close()
	change, err := syncer.Sync()
	if err != nil {
		return err
	}
	manifest := "unchanged"
	if change.Changed {
		manifest = "updated"
	}
	fmt.Fprintf(w, "%d descriptors in %s (%d written, %d unchanged, %d removed), manifest %s\n",
		len(descs), out, st.Written, st.Unchanged, st.Removed, manifest)
	return nil
}

// checkArtifact prints a diff for every descriptor file and the manifest
// index that a write would change.
func checkArtifact(w io.Writer, out string, descs map[string]string) error {
	ids := make([]string, 0, len(descs))
	for id := range descs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	files, err := index.Plan(ids)
	if err != nil {
		return err
	}

	fsys := os.DirFS(out)
	stale := false
	report := func(name, got, want string) {
		stale = true
		fmt.Fprintf(w, "--- a/%s\n+++ b/%s\n%s", name, name, lineDiff(got, want))
	}

	expected := make(map[string]bool, len(files))
	var paths []string
	for _, id := range ids {
		name := path.Join(index.Dir, files[id])
		expected[name] = true
		paths = append(paths, name)
		got, err := fs.ReadFile(fsys, name)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if string(got) != descs[id] {
			report(name, string(got), descs[id])
		}
	}

	onDisk, err := fs.Glob(fsys, path.Join(index.Dir, "*"+index.Ext))
	if err != nil {
		return err
	}
	for _, name := range onDisk {
		if expected[name] {
			continue
		}
		got, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		report(name, string(got), "")
	}

	slices.Sort(paths)
	want := strings.Join(paths, ",")
	got, _, err := index.ReadManifest(fsys)
	if err != nil {
		return err
	}
	if got != want {
		report(index.ManifestFile, index.Attribute+": "+got+"\n", index.Attribute+": "+want+"\n")
	}

	if stale {
		return ErrStale
	}
	fmt.Fprintf(w, "%d descriptors in %s are up to date\n", len(descs), out)
	return nil
}

func watchGenerate(cmd *cobra.Command, run passFunc, req generate.Request, out string) error {
	dirs := make([]string, 0, len(req.Roots))
	for _, r := range req.Roots {
		dirs = append(dirs, r.Dir)
	}
	wcfg := watcher.DefaultConfig(dirs...)
	wcfg.Suffixes = []string{".go"}
	if cfg.Watch.Debounce > 0 {
		wcfg.DebounceDur = cfg.Watch.Debounce
	}
	wt, err := watcher.New(wcfg)
	if err != nil {
		return err
	}
	defer func() { _ = wt.Stop() }()
	changes, err := wt.Start()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	pass := func() {
		if err := generateOnce(cmd, run, req, out); err != nil {
			log.ErrorErr(log.CatGenerate, "generation pass failed", err)
			fmt.Fprintf(cmd.ErrOrStderr(), "generate: %v\n", err)
		}
	}
	pass()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			pass()
		}
	}
}
