// reportd is the central reports server.
// It serves the public feed, the management dashboards and the form actions,
// and runs the session and audit cleanup on the elected replica.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/centralreports/reportd/internal/api"
	"github.com/centralreports/reportd/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reportd",
		Short:         "Central reports server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       api.Version,
	}
	serve := newServeCmd()
	root.RunE = serve.RunE
	root.AddCommand(
		serve,
		newMigrateCmd(),
		newCreateAccountCmd(),
		newCreateUnitCmd(),
		newReapCmd(),
		newHealthcheckCmd(),
	)
	return root
}

// loadConfig resolves and loads reportd.yaml plus the environment, and
// installs the context-aware JSON logger at the configured level.
func loadConfig() (*config.Config, error) {
	path := config.ResolvePath()
	cfg, err := config.Load(path)
	if err != nil {
		setupLogging("info")
		slog.Error("failed to load config", "path", path, "error", err)
		return nil, err
	}
	setupLogging(cfg.Log.Level)
	if path != "" {
		slog.Info("config loaded", "path", path)
	}
	return cfg, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(api.NewContextHandler(base)))
}
