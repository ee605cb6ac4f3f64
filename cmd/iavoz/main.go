// Command iavoz is the tutor backend: it issues realtime session tokens,
// judges learner utterances and transcribes recorded speech.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/MrWong99/iavoz/internal/app"
	"github.com/MrWong99/iavoz/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config is parsed")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "iavoz: load %s: %v\n", *envFile, err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// ── Load configuration ────────────────────────────────────────────────────
	// The watcher's callback is bound once the app exists; it only fires from
	// Watcher.Run, which the app starts.
	var application *app.App
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		application.Reload(old, new)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "iavoz: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "iavoz: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()
	level.Set(app.SlogLevel(cfg.Server.LogLevel))

	slog.Info("iavoz starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Sentry ────────────────────────────────────────────────────────────────
	if cfg.Server.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Server.SentryDSN,
			Environment:      cfg.Server.Environment,
			AttachStacktrace: true,
		}); err != nil {
			slog.Error("failed to initialise sentry", "err", err)
			return 1
		}
		defer sentry.Flush(2 * time.Second)
		slog.Info("sentry error reporting enabled", "environment", cfg.Server.Environment)
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cfg)

	application, err = app.New(ctx, cfg, providers,
		app.WithLevelVar(level),
		app.WithWatcher(watcher),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		return 1
	}
	slog.Info("adiós")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          iavoz · startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Realtime", cfg.Providers.Realtime.Name, cfg.Providers.Realtime.Model)
	printProvider("Grammar", cfg.Providers.Grammar.Name, cfg.Providers.Grammar.Model)
	fmt.Printf("║  %-12s    : %-19d ║\n", "Fallbacks", len(cfg.Providers.GrammarFallbacks))
	printProvider("Transcribe", cfg.Providers.Transcribe.Name, cfg.Providers.Transcribe.Model)
	journal := "memory"
	if cfg.Journal.PostgresDSN != "" {
		journal = "postgres"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", "Journal", journal)
	fmt.Printf("║  %-12s    : %-19s ║\n", "Corrections", onOff(cfg.Tutor.CorrectionsEnabled))
	fmt.Printf("║  %-12s    : %-19s ║\n", "Read aloud", onOff(cfg.Tutor.ReadCorrectionsAloud))
	fmt.Printf("║  %-12s    : %-19s ║\n", "Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
