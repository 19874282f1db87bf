package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/iliyamo/lmeve2/internal/config"
	"github.com/iliyamo/lmeve2/internal/database"
	"github.com/iliyamo/lmeve2/internal/esi"
	"github.com/iliyamo/lmeve2/internal/handler"
	"github.com/iliyamo/lmeve2/internal/logging"
	"github.com/iliyamo/lmeve2/internal/middleware"
	"github.com/iliyamo/lmeve2/internal/queue"
	"github.com/iliyamo/lmeve2/internal/router"
	"github.com/iliyamo/lmeve2/internal/service"
	"github.com/iliyamo/lmeve2/internal/settings"
	"github.com/iliyamo/lmeve2/internal/status"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := config.Load() // Load environment config
	if err != nil {
		return err
	}
	logger, closer, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer closer.Close()
	if cfg.EphemeralSecret {
		logger.Warn("JWT_SECRET not set; using a per-process secret, tokens die on restart")
	}

	dir, err := settings.ResolveDir(cfg.StorageDir)
	if err != nil {
		return err
	}
	store := settings.NewFileStore(dir)
	resolver := settings.NewResolver(store, settings.BuiltinDefaults)
	gw := handler.Gateway{Resolver: resolver, Opener: database.MySQL{}}

	clock := clockwork.NewRealClock()
	esiOpts := esi.Options{
		SSOBaseURL: cfg.SSOBaseURL,
		ESIBaseURL: cfg.ESIBaseURL,
		Timeout:    cfg.HTTPTimeout,
		Breaker:    esi.NewBreaker(),
	}
	pub := queue.NewPublisher(cfg.AMQPURL, logger)
	rdb := config.NewRedisClient()
	if rdb != nil {
		defer rdb.Close()
	}

	ipClient := &http.Client{Timeout: cfg.IPLookupTimeout}
	prober := &status.LiveProber{
		Resolver:    resolver,
		Opener:      gw.Opener,
		ESI:         esiOpts,
		IPLookupURL: cfg.IPLookupURL,
		HTTPClient:  ipClient,
	}
	agg := status.NewAggregator(statusCache(config.LoadStatusCacheConfig(), rdb, dir, cfg.StatusTTL, logger), prober, status.Options{
		TTL:             cfg.StatusTTL,
		ProbeTimeout:    cfg.HTTPTimeout,
		IPLookupTimeout: cfg.IPLookupTimeout,
		Clock:           clock,
		Logger:          logger,
	})
	host := &status.Host{
		PublicIP:   prober.PublicIP,
		Timeout:    cfg.IPLookupTimeout,
		Clock:      clock,
		Started:    clock.Now(),
		StorageDir: dir,
	}
	oauth := &service.OAuthService{
		Resolver:  resolver,
		Opener:    gw.Opener,
		ESI:       esiOpts,
		Publisher: pub,
		Clock:     clock,
		Logger:    logger,
	}

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	router.Use(e, cfg, logger)
	router.RegisterRoutes(e, handler.NewHealthHandler(gw, logger), handler.NewStatusHandler(agg, host, logger))
	router.RegisterSettings(e, handler.NewSettingsHandler(gw, logger))
	router.RegisterAuth(e,
		handler.NewAuthHandler(cfg, gw, clock, logger),
		handler.NewUserHandler(cfg, gw, logger),
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, logger),
		cfg.JWTSecret,
	)
	router.RegisterRecords(e, handler.NewRecordHandler(gw, pub, clock, logger))
	router.RegisterOAuth(e, handler.NewOAuthHandler(cfg, oauth, logger))

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := ":" + cfg.Port // Address string with port
	logger.Info("listening", "addr", addr, "env", cfg.Env, "settings", store.Path(), "redis", rdb != nil)
	errc := make(chan error, 1)
	go func() { errc <- e.Start(addr) }()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(sctx)
}

// statusCache picks the aggregate cache backend. Redis keys expire a little
// after the TTL so stale entries do not pile up.
func statusCache(cc config.StatusCacheConfig, rdb *redis.Client, dir string, ttl time.Duration, logger *log.Logger) status.Cache {
	switch {
	case cc.Backend == "redis" && rdb == nil:
		logger.Warn("STATUS_CACHE_BACKEND=redis but redis is unavailable; using file cache")
	case cc.Backend != "file" && rdb != nil:
		return status.NewRedisCache(rdb, cc.Key, 2*ttl)
	}
	return status.NewFileCache(dir)
}
