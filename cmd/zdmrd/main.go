// Command zdmrd is the Z-DMR background daemon: it owns the SQLite store,
// drives the Engine's admission loop, and exposes the loopback Control API.
// Structured the way danzo's cmd/root.go wires its root command, but as a
// long-lived service rather than a one-shot CLI invocation, since spec.md's
// Engine outlives any single request.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/z-dmr/zdmr/internal/api"
	"github.com/z-dmr/zdmr/internal/bandwidth"
	"github.com/z-dmr/zdmr/internal/config"
	"github.com/z-dmr/zdmr/internal/engine"
	"github.com/z-dmr/zdmr/internal/metrics"
	"github.com/z-dmr/zdmr/internal/progress"
	"github.com/z-dmr/zdmr/internal/store"
	"github.com/z-dmr/zdmr/internal/zdmrlog"
)

// zdmrdVersion is stamped by the release build; left as "dev" otherwise,
// mirroring danzo's DanzoVersion convention.
var zdmrdVersion = "dev"

func main() {
	root := &cobra.Command{
		Use:     "zdmrd",
		Short:   "Z-DMR download engine daemon",
		Version: zdmrdVersion,
		RunE:    run,
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	if err := zdmrlog.Init(cfg.Debug, filepath.Join(cfg.DataDir, "logs")); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "zdmr.sqlite3"))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if err := st.NonTerminalToQueued(time.Now().UTC()); err != nil {
		return fmt.Errorf("resetting in-flight downloads: %w", err)
	}

	settings, err := st.GetSettings()
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	limiter := bandwidth.New(settings.GlobalBandwidthBPS)

	bus := progress.New()
	bus.Start()
	defer bus.Stop()

	eng := engine.New(st, limiter, zdmrdVersion, settings.MaxConcurrent, bus, log.Logger)

	metrics.Register()

	port := cfg.Port
	if port == 0 {
		port = settings.LocalAPIPort
	}
	srv := api.New(eng, st, bus, func() string { return currentToken(st) }, log.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng.Start(ctx)
	defer eng.Stop()

	log.Info().Int("port", port).Str("data_dir", cfg.DataDir).Msg("zdmrd listening")
	if err := srv.Serve(ctx, port); err != nil {
		return fmt.Errorf("serving control api: %w", err)
	}
	return nil
}

// currentToken re-reads Settings on every auth check so a token rotated
// through the control API (POST /settings) takes effect without a restart.
func currentToken(st *store.Store) string {
	settings, err := st.GetSettings()
	if err != nil || settings == nil {
		return ""
	}
	return settings.LocalAPIToken
}
