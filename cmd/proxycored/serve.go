package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"proxycore/internal/adminapi"
	"proxycore/internal/config"
	"proxycore/internal/filter"
	"proxycore/internal/flow"
	"proxycore/internal/flowlog"
	"proxycore/internal/logging"
	"proxycore/internal/master"
	"proxycore/internal/playback/server"
	"proxycore/internal/sticky"
	"proxycore/internal/upstream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the admin API and run the flow master",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := config.Load()
	logging.Configure(logging.DefaultConfig())
	log := logging.New("cmd")

	m, err := buildMaster(cfg)
	if err != nil {
		log.WithError(err).Error("failed to configure flow master")
		os.Exit(1)
	}

	e := echo.New()
	e.Use(middleware.Logger())
	adminapi.SetupRoutes(e, &adminapi.Handlers{Master: m}, cfg.JWTSigningKey)

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("admin API starting")
		if err := e.Start(cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("admin API stopped unexpectedly")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("admin API shutdown failed")
	}
}

// buildMaster wires a *master.Master from cfg: its filters, its modes, a
// live-upstream client for replay_request, and — if cfg.ServerPlaybackPath
// is set — a server-playback engine loaded from a recorded flow log.
func buildMaster(cfg config.Config) (*master.Master, error) {
	m := master.New()
	m.Upstream = upstream.New(0)
	m.Modes = master.Modes{
		Anticache:             cfg.Anticache,
		Anticomp:              cfg.Anticomp,
		RefreshServerPlayback: cfg.RefreshServerPlayback,
		KillNonreplay:         cfg.KillNonreplay,
	}

	if cfg.InterceptFilter != "" {
		pred, err := filter.Parse(cfg.InterceptFilter)
		if err != nil {
			return nil, fmt.Errorf("intercept filter: %w", err)
		}
		m.SetIntercept(pred)
	}

	if cfg.LimitFilter != "" {
		if err := m.Store.SetLimit(filter.Parse, cfg.LimitFilter); err != nil {
			return nil, fmt.Errorf("limit filter: %w", err)
		}
	}

	if cfg.StickyCookie != "" {
		pred, err := filter.Parse(cfg.StickyCookie)
		if err != nil {
			return nil, fmt.Errorf("sticky cookie filter: %w", err)
		}
		m.CookieJar = sticky.NewCookieJar(pred)
	}

	if cfg.StickyAuth != "" {
		pred, err := filter.Parse(cfg.StickyAuth)
		if err != nil {
			return nil, fmt.Errorf("sticky auth filter: %w", err)
		}
		m.AuthMemory = sticky.NewAuthMemory(pred)
	}

	if cfg.ServerPlaybackPath != "" {
		recorded, err := loadRecordedFlows(cfg.ServerPlaybackPath)
		if err != nil {
			return nil, fmt.Errorf("server playback log: %w", err)
		}
		m.Server = server.New(recorded, cfg.PlaybackHeaders)
	}

	return m, nil
}

// loadRecordedFlows reads every flow snapshot from the flow log at path and
// restores it, for use as server.New's recorded-flows input.
func loadRecordedFlows(path string) ([]*flow.Flow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	snapshots, err := flowlog.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}

	flows := make([]*flow.Flow, len(snapshots))
	for i, snap := range snapshots {
		fl := &flow.Flow{}
		fl.Restore(snap)
		flows[i] = fl
	}
	return flows, nil
}
