package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AINF-EPAMIG/gestao-sub001/api"
	"github.com/AINF-EPAMIG/gestao-sub001/config"
	"github.com/AINF-EPAMIG/gestao-sub001/domain"
	"github.com/AINF-EPAMIG/gestao-sub001/reconcile"
	"github.com/AINF-EPAMIG/gestao-sub001/storage"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	logger.SetFormatter(&log.JSONFormatter{})

	layout, err := domain.LoadLayout(cfg.LayoutFile)
	if err != nil {
		log.Fatalf("layout: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	metrics := reconcile.NewMetrics(prometheus.DefaultRegisterer)
	opts := []reconcile.Option{reconcile.WithMetrics(metrics)}

	var store reconcile.Store
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		logger.Warn("using in-memory placement store, data is lost on restart")
		store = storage.NewMemory()
	default:
		tables, err := storage.NewTables(cfg.Storage.ConnectionString, cfg.Storage.PlacementsTable)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		store = tables
		queue, err := storage.NewRepairQueue(cfg.Storage.ConnectionString, cfg.Storage.RepairQueue)
		if err != nil {
			log.Fatalf("repair queue: %v", err)
		}
		opts = append(opts, reconcile.WithRepairQueue(queue, reconcile.RepairSenderConfig{
			Workers:        cfg.Repair.Workers,
			Buffer:         cfg.Repair.Buffer,
			EnqueueTimeout: cfg.Repair.EnqueueTimeout,
			HandoffTimeout: cfg.Repair.HandoffTimeout,
		}))
	}

	var (
		rc      *redis.Client
		cache   *storage.SnapshotCache
		deduper api.Deduper
	)
	if cfg.Redis.URL != "" {
		redisOpts, err := config.RedisOptions(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(redisOpts)
		defer rc.Close()
		cache = storage.NewSnapshotCache(rc, cfg.Redis.SnapshotTTL)
		deduper = api.NewRedisDeduper(rc, cfg.Redis.DeduperTTL)
		opts = append(opts, reconcile.WithNotifier(storage.NewNotifier(rc, cache, cfg.Redis.ChangesChannel)))
	} else {
		logger.Warn("REDIS_CONNECTION_STRING not set, snapshot cache and move deduplication disabled")
	}

	svc := reconcile.NewService(layout, store, logger, opts...)
	defer svc.Close()

	if rc != nil {
		// another instance changed a board: warm the shared cache once more
		go storage.SubscribeChanges(ctx, logger, rc, cfg.Redis.ChangesChannel, func(ctx context.Context, board string) {
			gen, err := cache.Generation(ctx, board)
			if err != nil {
				logger.WithError(err).WithField("board", board).Warn("cache generation read failed")
				return
			}
			snap, err := svc.Snapshot(ctx, board)
			if err != nil {
				logger.WithError(err).WithField("board", board).Warn("snapshot refresh failed")
				return
			}
			if _, err := cache.Store(ctx, snap, gen); err != nil {
				logger.WithError(err).WithField("board", board).Warn("snapshot cache refresh failed")
			}
		})
	}

	auth, err := newAuth(cfg.Auth)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding, "Idempotency-Key"},
	}))
	e.Use(echoprometheus.NewMiddleware("board_api"))
	e.GET("/metrics", echoprometheus.NewHandler())

	var snapshots api.SnapshotCache
	if cache != nil {
		snapshots = cache
	}
	api.Register(e, svc, snapshots, auth, deduper, logger)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("shutdown failed")
		}
	}()

	logger.Infof("board api listening on %s, boards: %v", cfg.ListenAddr, layout.Names())
	if err := e.Start(cfg.ListenAddr); err != nil && ctx.Err() == nil {
		logger.Fatal(err)
	}
}

func newAuth(cfg config.Auth) (*api.Auth, error) {
	if cfg.SharedSecret != "" {
		log.Warn("LOCAL_AUTH_SHARED_SECRET set, accepting HS256 tokens")
		return api.NewAuth(nil, api.AuthConfig{
			Audience:     cfg.Audience,
			SharedSecret: []byte(cfg.SharedSecret),
		}), nil
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, api.AuthConfig{
		Audience:    cfg.Audience,
		Issuer:      "https://" + cfg.Domain + "/",
		KeyCacheTTL: cfg.KeyCacheTTL,
	}), nil
}
