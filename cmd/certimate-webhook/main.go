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

	"github.com/kdwycz/certimate-webhook/internal/config"
	"github.com/kdwycz/certimate-webhook/internal/domain"
	"github.com/kdwycz/certimate-webhook/internal/engine"
	httpx "github.com/kdwycz/certimate-webhook/internal/http"
	"github.com/kdwycz/certimate-webhook/internal/logger"
	syncsvc "github.com/kdwycz/certimate-webhook/internal/service/sync"
	"github.com/kdwycz/certimate-webhook/internal/ws"
)

func main() {
	configPath := config.GetString("CONFIG_FILE", "config.yml")
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.New("certimate-webhook", slog.LevelInfo).Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	log := logger.New("certimate-webhook", logger.ParseLevel(cfg.Server.LogLevel))

	topology, err := domain.NewTopology(cfg.ServerGroups, cfg.Mappings)
	if err != nil {
		log.Error("invalid topology", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub()
	eng := engine.NewAnsible(cfg.Server.PlaybookDir, cfg.Server.PlaybookFile, log)
	syncSvc := syncsvc.New(topology, eng, hub, log, cfg.Sync.GroupTimeout(), cfg.Sync.JobHistory)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimit.RedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimit.RedisPassword, cfg.RateLimit.RedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, syncSvc, hub, limiter, cfg.Server.WebhookPath, cfg.Server.WebhookSecret, cfg.RateLimit.WebhookPerMinute)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("webhook server starting", "addr", cfg.Server.Addr(), "domains", topology.Domains())
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		syncSvc.Wait()
		log.Info("webhook server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
