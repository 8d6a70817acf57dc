package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/menta2k/capturegate"
	"github.com/menta2k/capturegate/internal/config"
	"github.com/menta2k/capturegate/internal/utils"
	"github.com/menta2k/capturegate/pkg/client"
	"github.com/menta2k/capturegate/pkg/detection"
	"github.com/menta2k/capturegate/pkg/llamacpp"
	"github.com/menta2k/capturegate/pkg/ollama"
)

var (
	// cfg is the effective configuration, loaded before any subcommand runs
	cfg *config.Config

	configPath string
	logLevel   string
	backend    string
	serverURL  string
	model      string
	outDir     string
)

var rootCmd = &cobra.Command{
	Use:           "capture-gate",
	Short:         "Decide whether a portrait photo may be captured",
	Version:       capturegate.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogging(logLevel); err != nil {
			return err
		}

		var err error
		cfg, err = loadConfig(configPath)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("backend") {
			cfg.Vision.Backend = backend
			if !flags.Changed("url") {
				cfg.Vision.URL = config.DefaultURL(backend)
			}
		}
		if flags.Changed("url") {
			cfg.Vision.URL = serverURL
		}
		if flags.Changed("model") {
			cfg.Vision.Model = model
		}
		if flags.Changed("out") {
			cfg.Output.OutputDir = outDir
		}
		return cfg.Validate()
	},
}

// Execute runs the root command with a context cancelled on SIGINT or SIGTERM
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		log.Fatal(err)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default: "+config.GetConfigPath()+" when present)")
	pf.StringVar(&logLevel, "log-level", "info", "log level: debug|info|warn|error")
	pf.StringVar(&backend, "backend", "llamacpp", "vision backend: ollama or llamacpp")
	pf.StringVar(&serverURL, "url", "", "vision server URL (defaults: ollama=http://localhost:11434, llamacpp=http://localhost:8080)")
	pf.StringVar(&model, "model", "openbmb/minicpm-v4.5", "vision model name")
	pf.StringVarP(&outDir, "out", "o", "./out", "output directory for captures and overlays")
}

func setupLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}

// loadConfig reads path, or the default config file if it exists, or falls back to defaults
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	if def := config.GetConfigPath(); utils.FileExists(def) {
		slog.Debug("config: loading default file", "path", def)
		return config.LoadFromFile(def)
	}
	return config.Default(), nil
}

func newVisionClient(vc config.VisionConfig) (client.VisionClient, error) {
	url := vc.URL
	if url == "" {
		url = config.DefaultURL(vc.Backend)
	}
	switch vc.Backend {
	case "ollama":
		c, err := ollama.NewClient(url)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return c, nil
	case "llamacpp":
		c, err := llamacpp.NewClient(url)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown backend: %s (use 'ollama' or 'llamacpp')", vc.Backend)
	}
}

// newGate builds the capture gate from the effective configuration
func newGate() (*capturegate.Gate, error) {
	vc, err := newVisionClient(cfg.Vision)
	if err != nil {
		return nil, err
	}
	detector := detection.NewDetector(vc, cfg.Vision.Model)
	detector.SetMinConfidence(cfg.Vision.MinConfidence)
	if cfg.Vision.Prompt != "" {
		detector.SetPrompt(cfg.Vision.Prompt)
	}

	opts := capturegate.Options{
		SendFormat:   cfg.Processing.SendFormat,
		SendSize:     cfg.Processing.SendSize,
		SendQuality:  cfg.Processing.SendQuality,
		MinImageSize: cfg.Processing.MinImageSize,
	}
	slog.Debug("gate: configured",
		"backend", cfg.Vision.Backend,
		"url", cfg.Vision.URL,
		"model", cfg.Vision.Model,
		"min_overlap", cfg.Gate.MinOverlapPercent,
		"min_luminosity", cfg.Gate.MinLuminosity)
	return capturegate.NewWithConfig(detector, cfg.Gate, opts), nil
}
