package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/plugboard/internal/config"
	"github.com/zjrosen/plugboard/internal/format"
	"github.com/zjrosen/plugboard/internal/handle"
	"github.com/zjrosen/plugboard/internal/log"
	"github.com/zjrosen/plugboard/internal/registry"
	"github.com/zjrosen/plugboard/internal/tracing"
)

// localConfig is checked before the user config.
const localConfig = ".plugboard.yaml"

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	outputFmt string
	cfg       config.Config

	tracer      trace.Tracer = tracing.Noop()
	provider    *tracing.Provider
	stopLogging = func() {}
)

var rootCmd = &cobra.Command{
	Use:   "plugboard",
	Short: "Generate, index and resolve plug descriptors",
	Long: `plugboard discovers types marked with //plug:socket, records each one as an
XML descriptor under PLUG-INF/, keeps the artifact manifest's Plug-Component
index in step with those files, and resolves sockets back to live instances.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./.plugboard.yaml, then ~/.config/plugboard/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write debug logs (path from PLUGBOARD_LOG, default debug.log)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table",
		"output format for listings (json, yaml, table)")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("generate.out", defaults.Generate.Out)
	viper.SetDefault("generate.collect.pause", defaults.Generate.Collect.Pause)
	viper.SetDefault("generate.collect.max", defaults.Generate.Collect.Max)
	viper.SetDefault("watch.debounce", defaults.Watch.Debounce)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .plugboard.yaml (current directory)
		// 2. ~/.config/plugboard/config.yaml (user config)
		if _, err := os.Stat(localConfig); err == nil {
			viper.SetConfigFile(localConfig)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "plugboard"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// No config file found anywhere - create default at ./.plugboard.yaml
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if writeErr := config.WriteDefaultConfig(localConfig); writeErr == nil {
				viper.SetConfigFile(localConfig)
				_ = viper.ReadInConfig()
			}
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// configPath is the file --save writes to.
func configPath() string {
	if p := viper.ConfigFileUsed(); p != "" {
		return p
	}
	return localConfig
}

func setup(cmd *cobra.Command, _ []string) error {
	if debugFlag || os.Getenv("PLUGBOARD_DEBUG") != "" {
		logPath := os.Getenv("PLUGBOARD_LOG")
		if logPath == "" {
			logPath = "debug.log"
		}
		cleanup, err := log.Init(logPath)
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		stopLogging = cleanup
		log.Info(log.CatCLI, "plugboard starting", "command", cmd.CommandPath(), "config", viper.ConfigFileUsed())
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	p, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	provider, tracer = p, p.Tracer()
	return nil
}

// teardown flushes traces and closes the log. It is safe to call when setup
// never ran.
func teardown(ctx context.Context) error {
	defer func() {
		stopLogging()
		stopLogging = func() {}
	}()
	if provider == nil {
		return nil
	}
	err := provider.Shutdown(context.WithoutCancel(ctx))
	provider, tracer = nil, tracing.Noop()
	if err != nil {
		log.ErrorErr(log.CatTrace, "tracing shutdown failed", err)
	}
	return err
}

// newRegistry resolves sockets from the configured artifact directories.
func newRegistry() *registry.Registry {
	artifacts := make([]registry.Artifact, 0, len(cfg.ArtifactDirs()))
	for _, dir := range cfg.ArtifactDirs() {
		artifacts = append(artifacts, registry.DirArtifact(dir))
	}
	return registry.New(registry.WithArtifacts(artifacts...), registry.WithTracer(tracer))
}

// formatters resolves output formats from the descriptors embedded in the
// binary, independent of the configured artifacts.
var formatters = registry.New(registry.WithArtifacts(format.Artifact()))

func render(cmd *cobra.Command, t format.Table) error {
	h, err := format.Lookup(cmd.Context(), formatters, outputFmt)
	if err != nil {
		return err
	}
	return handle.Use(h, func(f format.Formatter) error {
		return f.Render(cmd.OutOrStdout(), t)
	})
}

// Execute runs the root command. SIGINT and SIGTERM cancel its context,
// which ends --watch loops.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := rootCmd.ExecuteContext(ctx)
	if terr := teardown(ctx); err == nil {
		err = terr
	}
	return err
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
