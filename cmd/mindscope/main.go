// Command mindscope is the main entry point for the MindScope voice-emotion
// inference server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	cli "github.com/spf13/pflag"

	"github.com/MrWong99/mindscope/internal/app"
	"github.com/MrWong99/mindscope/internal/config"
	"github.com/MrWong99/mindscope/internal/observe"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := cli.StringP("config", "c", "mindscope.yaml", "path to the YAML configuration file")
	envFile := cli.StringP("env", "e", ".env", "dotenv file loaded before the config is expanded")
	listenAddr := cli.StringP("listen", "l", "", "override server.listen_addr")
	logLevel := cli.String("log-level", "", "override server.log_level (debug, info, warn, error)")
	logFormat := cli.String("log-format", "", "override server.log_format (text, json, pretty)")
	watchInterval := cli.Duration("watch", 5*time.Second, "config reload poll interval; 0 disables reloading")
	autoStart := cli.Bool("auto-start", false, "start analysis as soon as the server is up")
	replay := cli.String("replay", "", "analyse this WAV file instead of the configured capture device")
	traceSample := cli.Float64("trace-sample", 1, "share of analysis traces to keep, in (0, 1]")
	cli.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	// Variables already set in the environment win over the file.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "mindscope: load %s: %v\n", *envFile, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, fromFile, err := loadConfig(*configPath, cli.CommandLine.Changed("config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "mindscope: %v\n", err)
		return 1
	}
	overrides := func(c *config.Config) {
		if *listenAddr != "" {
			c.Server.ListenAddr = *listenAddr
		}
		if *logLevel != "" {
			c.Server.LogLevel = config.LogLevel(*logLevel)
		}
		if *logFormat != "" {
			c.Server.LogFormat = config.LogFormat(*logFormat)
		}
		if *autoStart {
			c.Engine.AutoStart = true
		}
		if *replay != "" {
			c.Capture.Device = config.DeviceWAV
			c.Capture.Fallback = nil
			c.Capture.WAV.Path = *replay
		}
	}
	overrides(cfg)
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "mindscope: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(slog.New(newLogHandler(os.Stderr, cfg.Server.LogFormat, level)))

	slog.Info("mindscope starting",
		"version", version,
		"config", configSource(*configPath, fromFile),
		"listen_addr", cfg.Server.ListenAddr,
		"device", cfg.Capture.Device,
		"fallback", cfg.Capture.Fallback,
		"interval", cfg.Engine.Interval,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:      "mindscope",
		ServiceVersion:   version,
		TraceSampleRatio: *traceSample,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if fromFile && *watchInterval > 0 {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			overrides(old)
			overrides(new)
			application.ApplyConfig(old, new, level)
		}, config.WithInterval(*watchInterval))
		if err != nil {
			slog.Warn("config reloading disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path. A missing file is only an error when the path was
// given explicitly; otherwise the defaults are used.
func loadConfig(path string, explicit bool) (cfg *config.Config, fromFile bool, err error) {
	cfg, err = config.Load(path)
	switch {
	case err == nil:
		return cfg, true, nil
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		return config.Default(), false, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, false, fmt.Errorf("config file %q not found", path)
	default:
		return nil, false, err
	}
}

func configSource(path string, fromFile bool) string {
	if fromFile {
		return path
	}
	return "(defaults)"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogHandler builds the slog handler for format. The level is shared so
// config reloads can change it at runtime.
func newLogHandler(w io.Writer, format config.LogFormat, level slog.Leveler) slog.Handler {
	switch format {
	case config.LogFormatJSON:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case config.LogFormatPretty:
		return tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.TimeOnly})
	default:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
}
