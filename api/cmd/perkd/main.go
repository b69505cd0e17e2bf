package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdalla-omar/perkmanager/api/internal/app/migrate"
	"github.com/abdalla-omar/perkmanager/api/internal/events"
	httpx "github.com/abdalla-omar/perkmanager/api/internal/http"
	"github.com/abdalla-omar/perkmanager/api/internal/jobs"
	"github.com/abdalla-omar/perkmanager/api/internal/repository"
	"github.com/abdalla-omar/perkmanager/api/internal/repository/memory"
	"github.com/abdalla-omar/perkmanager/api/internal/repository/postgres"
	"github.com/abdalla-omar/perkmanager/api/internal/service/perk"
	"github.com/abdalla-omar/perkmanager/api/internal/service/user"
	"github.com/abdalla-omar/perkmanager/pkg/config"
	"github.com/abdalla-omar/perkmanager/pkg/logger"
)

type store interface {
	repository.UserRepository
	repository.PerkRepository
	repository.VoteRepository
}

func main() {
	cfg, err := config.LoadAPIConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New("perkd", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repo     store
		dbHealth func(context.Context) error
	)
	switch strings.ToLower(cfg.Store) {
	case "memory":
		repo = memory.New()
		log.Warn("using in-memory store; data is lost on restart")
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		runner, err := migrate.New(pool, cfg.DatabaseURL, log)
		if err != nil {
			log.Error("failed to configure migrations", "error", err)
			os.Exit(1)
		}
		defer runner.Close()
		if err := runner.Ping(ctx); err != nil {
			log.Error("database ping failed", "error", err)
			os.Exit(1)
		}
		if err := runner.Ensure(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		repo = postgres.New(pool)
		dbHealth = pool.Ping
	default:
		log.Error("unsupported store", "store", cfg.Store)
		os.Exit(1)
	}

	publisher := events.Fanout{events.NewLogPublisher(log)}
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisPub, err := events.NewRedisPublisher(addr, cfg.RedisPassword, cfg.RedisDB, cfg.EventChannel)
		if err != nil {
			log.Warn("redis event publisher unavailable", "error", err)
		} else {
			defer redisPub.Close()
			publisher = append(publisher, redisPub)
		}
	}

	userSvc := user.New(repo, repo, publisher, log)
	perkSvc := perk.New(repo, repo, repo, publisher, log)

	scheduler := jobs.NewScheduler(log)
	if spec := strings.TrimSpace(cfg.ExpirySchedule); spec != "" {
		if err := scheduler.ScheduleExpiry(ctx, spec, jobs.NewExpiryJob(perkSvc, publisher, log)); err != nil {
			log.Error("failed to schedule expiry job", "error", err)
			os.Exit(1)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	limiter := httpx.NewMemoryLimiter()
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisLimiter(addr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, userSvc, perkSvc, limiter, dbHealth)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("perk api starting", "addr", cfg.Addr, "store", cfg.Store)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("perk api stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
