package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"

	"hostlink-platform/internal/auth"
	"hostlink-platform/internal/config"
	"hostlink-platform/internal/earnings"
	"hostlink-platform/internal/httpapi"
	"hostlink-platform/internal/presence"
	"hostlink-platform/internal/pricing"
	"hostlink-platform/internal/relay"
	"hostlink-platform/internal/rtc"
	"hostlink-platform/internal/signaling"
	"hostlink-platform/pkg/logger"
	"hostlink-platform/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	var issuer rtc.Issuer
	if cfg.RTC.TokenServiceURL != "" {
		issuer = rtc.NewHTTPIssuer(cfg.RTC.TokenServiceURL, cfg.RTC.AppID, cfg.RTC.ServiceKey)
	} else {
		// Local stub for dev environments without the external token service.
		log.Warn("rtc token service not configured, using static issuer")
		issuer = rtc.NewStaticIssuer(cfg.RTC.AppID, cfg.RTC.ServiceKey)
	}

	hub := relay.NewHub(rdb, log)
	go hub.Run(rootCtx)

	tracker := presence.NewTracker(rdb, cfg.Signaling.PresenceTTL)

	priceSvc := pricing.NewService(pricing.NewPostgresRepo(db))
	callSvc := signaling.NewService(signaling.NewPostgresStore(db), issuer, signaling.ServiceConfig{
		RequestTTL:    cfg.Signaling.RequestTTL,
		CredentialTTL: cfg.RTC.CredentialTTL,
		Notifier:      hub,
		Rates:         priceSvc,
		Gate:          newRedisSessionGate(rdb, cfg.Signaling.MaxActiveCallsPerHost),
	})
	earnSvc := earnings.NewService(earnings.NewPostgresRepo(db))

	go runExpirySweep(rootCtx, log, callSvc, cfg.Signaling.SweepInterval)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, httpapi.Handlers{
		Auth:          authManager,
		Calls:         callSvc,
		Pricing:       priceSvc,
		Earnings:      earnSvc,
		Presence:      tracker,
		Issuer:        issuer,
		CredentialTTL: cfg.RTC.CredentialTTL,
	}, hub, tracker)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

// runExpirySweep periodically marks pending requests past their TTL as
// expired. Read paths filter on expires_at themselves; this only keeps the
// table tidy.
func runExpirySweep(ctx context.Context, log *slog.Logger, svc *signaling.Service, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.ExpireStale(ctx)
			if err != nil {
				log.Warn("expiry sweep failed", "err", err)
				continue
			}
			if n > 0 {
				log.Info("expired stale call requests", "count", n)
			}
		}
	}
}
