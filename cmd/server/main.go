package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/api"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/config"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/engine"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/stream"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/upstream"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides server.addr)")
	cfgPath := flag.String("config", "configs/rfa.yaml", "Path to YAML config (empty for defaults)")
	flag.Parse()

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	boot := *loader.Config()
	cfg := &boot
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: cfg.Logging.SlogLevel()}
	if cfg.Logging.JSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
	loader.SetLogger(slog.Default().With("component", "config"))

	// ── Upstreams ────────────────────────────────────────────────────────────
	ch, err := stream.NewWSChannel(cfg.Stream.URL, stream.Options{
		ReconnectInitial: cfg.Stream.ReconnectInitial(),
		ReconnectMax:     cfg.Stream.ReconnectMax(),
		ReadLimit:        cfg.Stream.ReadLimitBytes,
		Logger:           slog.Default().With("component", "stream"),
	})
	if err != nil {
		slog.Error("invalid stream endpoint", "err", err)
		os.Exit(1)
	}
	fetcher := upstream.NewMetricsClient(cfg.Poller.URL, cfg.Poller.Timeout(), nil)

	// ── Engine ────────────────────────────────────────────────────────────────
	engOpts, err := engine.OptionsFromConfig(cfg)
	if err != nil {
		slog.Error("failed to compile alert rules", "err", err)
		os.Exit(1)
	}
	engOpts.Channel = ch
	engOpts.Fetcher = fetcher
	if cfg.Thresholds.URL != "" {
		engOpts.Thresholds = upstream.NewThresholdsClient(cfg.Thresholds.URL, cfg.Thresholds.Timeout(), nil)
	}
	eng, err := engine.New(engOpts)
	if err != nil {
		slog.Error("failed to build engine", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Stream.Autostart {
		if err := eng.StartIngest(ctx); err != nil {
			slog.Warn("stream autostart failed", "err", err)
		}
	}
	if cfg.Poller.Autostart {
		if err := eng.StartPolling(ctx); err != nil {
			slog.Warn("poller autostart failed", "err", err)
		}
	}

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		if newCfg.Capacity != cfg.Capacity || newCfg.Stream.URL != cfg.Stream.URL || newCfg.Poller.URL != cfg.Poller.URL {
			slog.Warn("capacity and endpoint changes take effect after restart")
		}
		if err := eng.Reconfigure(ctx, newCfg); err != nil {
			slog.Warn("hot-reload skipped", "err", err)
			return
		}
		slog.Info("config hot-reloaded", "alert_rules", len(newCfg.Alerts.Rules))
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     api.New(eng, loader),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Server.Addr, "stream", cfg.Stream.URL, "poller", cfg.Poller.URL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	if err := eng.Close(shutCtx); err != nil {
		slog.Warn("engine close", "err", err)
	}
	cancel()
	slog.Info("goodbye")
}
