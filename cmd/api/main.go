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

	"github.com/splax/creditledger/internal/app/bootstrap"
	httpx "github.com/splax/creditledger/internal/http"
	"github.com/splax/creditledger/internal/service/auth"
	"github.com/splax/creditledger/internal/service/billing"
	"github.com/splax/creditledger/internal/service/webhook"
	"github.com/splax/creditledger/internal/ws"
	"github.com/splax/creditledger/pkg/config"
	"github.com/splax/creditledger/pkg/logger"
)

func main() {
	config.LoadEnvFiles()
	bootLog := logger.New("api", slog.LevelInfo)
	if err := config.LoadFile(os.Getenv("CONFIG_FILE")); err != nil {
		bootLog.Error("failed to load config file", "error", err)
		os.Exit(1)
	}
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Warn("store close failed", "error", err)
		}
	}()

	processor, err := bootstrap.NewProcessor(cfg, log)
	if err != nil {
		log.Error("failed to configure payment processor", "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub(log)
	defer hub.Close()

	authSvc := auth.New(store, log, cfg)
	billingSvc := billing.New(store, store, processor, hub, log, cfg)
	webhookSvc := webhook.New(billingSvc, log, cfg)
	if !webhookSvc.Enabled() {
		log.Warn("stripe webhook secret not set; relying on /verify for settlement")
	}

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, billingSvc, webhookSvc, hub, limiter, store.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "store", cfg.StoreDriver, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
