package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/abdalla-omar/perkmanager/dashboard/internal/live"
	"github.com/abdalla-omar/perkmanager/dashboard/internal/server"
	"github.com/abdalla-omar/perkmanager/dashboard/internal/session"
	"github.com/abdalla-omar/perkmanager/dashboard/internal/view"
	apiclient "github.com/abdalla-omar/perkmanager/pkg/api/client"
	"github.com/abdalla-omar/perkmanager/pkg/config"
	"github.com/abdalla-omar/perkmanager/pkg/logger"
)

func main() {
	cfg, err := config.LoadDashboardConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New("dashboard", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api, err := apiclient.New(cfg.APIBaseURL,
		apiclient.WithLogger(log),
		apiclient.WithMetrics(apiclient.NewMetrics(prometheus.DefaultRegisterer)),
	)
	if err != nil {
		log.Error("failed to configure api client", "error", err)
		os.Exit(1)
	}

	store, err := newSessionStore(cfg, log)
	if err != nil {
		log.Error("failed to configure session store", "error", err)
		os.Exit(1)
	}
	sessions, err := session.New(store, cfg.SessionSecret, cfg.CookieName, cfg.CookieSecure, cfg.SessionTTL, log)
	if err != nil {
		store.Close()
		log.Error("failed to configure sessions", "error", err)
		os.Exit(1)
	}
	defer sessions.Close()

	hub := live.NewHub()
	defer hub.Close()

	if cfg.RelayEvents {
		if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
			defer rdb.Close()
			relay := live.NewRelay(rdb, cfg.EventChannel, hub, renderVotes, log)
			go func() {
				if err := relay.Run(ctx); err != nil {
					log.Warn("event relay stopped", "error", err)
				}
			}()
		} else {
			log.Warn("event relay requested without REDIS_ADDR; vote patches come from this process only")
			cfg.RelayEvents = false
		}
	}

	srv, err := server.New(cfg, api, sessions, hub, log)
	if err != nil {
		log.Error("failed to configure dashboard", "error", err)
		os.Exit(1)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("dashboard starting", "addr", cfg.Addr, "api", api.BaseURL())
		errorCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("dashboard stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

func newSessionStore(cfg config.DashboardConfig, log *slog.Logger) (session.Store, error) {
	if strings.EqualFold(cfg.SessionStore, "redis") {
		store, err := session.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SessionTTL)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := session.NewMemoryStore(cfg.SessionTTL, cfg.SweepSchedule, log)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func renderVotes(p apiclient.Perk) (string, error) {
	var buf bytes.Buffer
	if err := view.RenderVotes(&buf, p); err != nil {
		return "", err
	}
	return buf.String(), nil
}
