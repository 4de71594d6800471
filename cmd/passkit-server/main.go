package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"passkit/metrics"
)

func parseFlags(args []string) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("passkit-server", flag.ContinueOnError)
	fs.StringVarP(&f.ConfigFile, "config", "c", "", "JSON config file (env vars still override it)")
	fs.StringVar(&f.Profile, "profile", "", "built-in profile: development, testing, staging or production")
	fs.StringVar(&f.PassesDir, "passes", "", "directory of pass type YAML files")
	fs.StringVar(&f.Rewards, "rewards", "", "rewards YAML file")
	fs.StringVar(&f.Quests, "quests", "", "quests YAML file")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if f.ConfigFile != "" && f.Profile != "" {
		return f, errors.New("--config and --profile are mutually exclusive")
	}
	return f, nil
}

func main() {
	// A missing .env file is fine; real environments set variables directly.
	_ = godotenv.Load()

	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := BuildApp(ctx, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := app.Config
	log := app.Logger
	log.Info("starting passkit server",
		"profile", cfg.Profile,
		"address", cfg.Server.Address,
		"storage_adapter", cfg.Storage.Adapter,
		"passes", app.Engine.Service.PassTypes(),
		"dispatch_mode", cfg.Settings.DispatchMode)

	if app.Analytics != nil {
		go app.Analytics.Start(ctx)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("metrics listening", "address", cfg.Metrics.Address, "path", cfg.Metrics.Path)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	srv := app.Server
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error("failed to start server", "error", err)
		cleanup()
		os.Exit(1)
	}

	log.Info("shutting down server", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during server shutdown", "error", err)
	}
	log.Info("server stopped")
}
