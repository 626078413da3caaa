// Package config provides configuration types and defaults for plugboard.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zjrosen/plugboard/internal/discover"
	"github.com/zjrosen/plugboard/internal/gctrack"
	"github.com/zjrosen/plugboard/internal/log"
	"github.com/zjrosen/plugboard/internal/tracing"
)

// Config holds all configuration options for plugboard.
type Config struct {
	Generate GenerateConfig `mapstructure:"generate"`
	Registry RegistryConfig `mapstructure:"registry"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Tracing  tracing.Config `mapstructure:"tracing"`
}

// GenerateConfig configures descriptor generation.
type GenerateConfig struct {
	// Roots are the source trees scanned for plug markers.
	Roots []discover.Root `mapstructure:"roots"`
	// Link lists extra import path prefixes visible to a pass, typically the
	// packages declaring sockets implemented under Roots.
	Link []string `mapstructure:"link"`
	// Out is the artifact directory receiving PLUG-INF and the manifest.
	Out string `mapstructure:"out"`
	// Fork runs each pass in a child process.
	Fork    bool          `mapstructure:"fork"`
	Collect CollectConfig `mapstructure:"collect"`
}

// CollectConfig bounds the wait for a pass's linkage context to be
// collected when it claimed native libraries.
type CollectConfig struct {
	Pause time.Duration `mapstructure:"pause"`
	Max   time.Duration `mapstructure:"max"`
}

// Policy converts c to a gctrack policy.
func (c CollectConfig) Policy() gctrack.Policy {
	return gctrack.Policy{Pause: c.Pause, Max: c.Max}
}

// RegistryConfig lists the artifact directories the standalone strategy
// scans.
type RegistryConfig struct {
	Artifacts []string `mapstructure:"artifacts"`
}

// WatchConfig configures --watch modes.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// DefaultTracesFilePath returns ~/.config/plugboard/traces/traces.jsonl,
// or "" if the home directory is unknown.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "plugboard", "traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	tc := tracing.DefaultConfig()
	tc.FilePath = DefaultTracesFilePath()
	return Config{
		Generate: GenerateConfig{
			Out: ".",
			Collect: CollectConfig{
				Pause: gctrack.DefaultPolicy.Pause,
				Max:   gctrack.DefaultPolicy.Max,
			},
		},
		Watch:   WatchConfig{Debounce: 300 * time.Millisecond},
		Tracing: tc,
	}
}

// Validate checks every section and joins the problems found.
func Validate(cfg Config) error {
	return errors.Join(
		ValidateGenerate(cfg.Generate),
		ValidateRegistry(cfg.Registry),
		ValidateWatch(cfg.Watch),
		ValidateTracing(cfg.Tracing),
	)
}

// ValidateGenerate checks generate configuration. Empty roots are valid
// here; the generate command requires them.
func ValidateGenerate(g GenerateConfig) error {
	seen := make(map[string]int, len(g.Roots))
	for i, r := range g.Roots {
		if r.Dir == "" {
			return fmt.Errorf("generate.roots[%d]: dir is required", i)
		}
		if r.ImportPath == "" {
			return fmt.Errorf("generate.roots[%d]: import_path is required", i)
		}
		if strings.Contains(r.ImportPath, " ") {
			return fmt.Errorf("generate.roots[%d]: import_path %q contains a space", i, r.ImportPath)
		}
		if j, dup := seen[r.ImportPath]; dup {
			return fmt.Errorf("generate.roots[%d]: import_path %q already used by roots[%d]", i, r.ImportPath, j)
		}
		seen[r.ImportPath] = i
	}
	for i, l := range g.Link {
		if strings.TrimSpace(l) == "" {
			return fmt.Errorf("generate.link[%d] is empty", i)
		}
	}
	if g.Collect.Pause < 0 || g.Collect.Max < 0 {
		return fmt.Errorf("generate.collect durations must not be negative")
	}
	return nil
}

// ValidateRegistry checks registry configuration.
func ValidateRegistry(r RegistryConfig) error {
	for i, a := range r.Artifacts {
		if a == "" {
			return fmt.Errorf("registry.artifacts[%d] is empty", i)
		}
	}
	return nil
}

// ValidateWatch checks watch configuration.
func ValidateWatch(w WatchConfig) error {
	if w.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative, got %v", w.Debounce)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tc tracing.Config) error {
	if tc.SampleRate < 0.0 || tc.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tc.SampleRate)
	}

	switch tc.Exporter {
	case "", "none", "file", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tc.Exporter)
	}

	// Only validate path requirements when tracing is enabled
	if tc.Enabled {
		if tc.Exporter == "file" && tc.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tc.Exporter == "otlp" && tc.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}
	return nil
}

// ArtifactDirs returns the registry artifacts, falling back to the generate
// output directory when none are configured.
func (c Config) ArtifactDirs() []string {
	if len(c.Registry.Artifacts) > 0 {
		return c.Registry.Artifacts
	}
	if c.Generate.Out != "" {
		return []string{c.Generate.Out}
	}
	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# plugboard configuration
# Lookup order: --config, ./.plugboard.yaml, ~/.config/plugboard/config.yaml

generate:
  # Source trees scanned for //plug:socket markers. import_path is the
  # import path of dir itself.
  roots: []
  #  - dir: ./plugins
  #    import_path: github.com/acme/app/plugins

  # Extra import path prefixes visible while generating, usually the
  # packages that declare the sockets.
  link: []

  # Artifact directory receiving PLUG-INF/ and plug-manifest.yaml.
  out: .

  # Run each generation pass in a child process.
  fork: false

  # Bounded wait for a pass's linkage context to be released when it
  # loaded native libraries.
  collect:
    pause: 50ms
    max: 2s

registry:
  # Artifact directories scanned by 'plugboard list' and 'plugboard lookup'.
  # Defaults to generate.out when empty.
  artifacts: []

watch:
  debounce: 300ms

tracing:
  enabled: false
  exporter: file
  # file_path: ~/.config/plugboard/traces/traces.jsonl
  otlp_endpoint: localhost:4317
  sample_rate: 1.0
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "created default config", "path", configPath)
	return nil
}
