package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/worldtracker/internal/app"
	"github.com/MrWong99/worldtracker/internal/config"
)

// shutdownTimeout bounds the final push and teardown.
const shutdownTimeout = 15 * time.Second

func serveCmd(configPath *string) *cobra.Command {
	var (
		contextID string
		noStdio   bool
		noHTTP    bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the review tools over MCP stdio and metrics, health and the status feed over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath, contextID, app.RunOptions{Stdio: !noStdio, HTTP: !noHTTP})
		},
	}
	cmd.Flags().StringVar(&contextID, "context", "", "conversation context to activate on startup")
	cmd.Flags().BoolVar(&noStdio, "no-stdio", false, "do not serve MCP on stdin/stdout")
	cmd.Flags().BoolVar(&noHTTP, "no-http", false, "do not serve HTTP")
	return cmd
}

func runServe(ctx context.Context, configPath, contextID string, opts app.RunOptions) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, lv := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	slog.Info("worldtracker starting",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := newApp(ctx, cfg, app.WithLogLevel(lv))
	if err != nil {
		return err
	}
	printStartupSummary(cfg, opts)

	watcher, err := config.NewWatcher(configPath, application.Reload)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	if contextID != "" {
		if err := application.Session().SwitchContext(ctx, contextID); err != nil {
			slog.Warn("initial context switch failed", "context", contextID, "err", err)
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx, opts)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// loadConfig loads the config at path with a friendlier message for a
// missing file.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", path)
	}
	return cfg, err
}

// newApp builds the providers named in cfg and the application around them.
func newApp(ctx context.Context, cfg *config.Config, opts ...app.Option) (*app.App, error) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return nil, err
	}
	opts = append(opts, app.WithVersion(version))
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialise application: %w", err)
	}
	return application, nil
}

// printStartupSummary writes a short overview to stderr; stdout is reserved
// for MCP.
func printStartupSummary(cfg *config.Config, opts app.RunOptions) {
	w := os.Stderr
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║      worldtracker startup summary     ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow("Oracle", providerLabel(cfg.Oracle.Name, cfg.Oracle.Model))
	printRow("Fallbacks", fmt.Sprintf("%d", len(cfg.Oracle.Fallbacks)))
	printRow("Store", providerLabel(cfg.Store.Name, ""))
	mirror := cfg.Persistence.MirrorPath
	if mirror == "" {
		mirror = "(memory)"
	}
	printRow("Mirror", mirror)
	printRow("Resolver", map[bool]string{true: "alias + phonetic", false: "alias"}[cfg.Resolver.Phonetic])
	if opts.HTTP {
		printRow("Listen addr", cfg.Server.ListenAddr)
	} else {
		printRow("Listen addr", "(disabled)")
	}
	printRow("MCP stdio", map[bool]string{true: "enabled", false: "(disabled)"}[opts.Stdio])
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(os.Stderr, "║  %-12s    : %-19s ║\n", kind, value)
}

func providerLabel(name, model string) string {
	switch {
	case name == "":
		return "(not configured)"
	case model != "":
		return name + " / " + model
	}
	return name
}
