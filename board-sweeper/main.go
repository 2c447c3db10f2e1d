package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/AINF-EPAMIG/gestao-sub001/config"
	"github.com/AINF-EPAMIG/gestao-sub001/domain"
	"github.com/AINF-EPAMIG/gestao-sub001/reconcile"
	"github.com/AINF-EPAMIG/gestao-sub001/storage"
)

func main() {
	cfg, err := config.LoadSweeper()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	logger.SetFormatter(&log.JSONFormatter{})
	logger.Info("board sweeper starting")

	layout, err := domain.LoadLayout(cfg.LayoutFile)
	if err != nil {
		log.Fatalf("layout: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// no repair queue here: lanes failing during a sweep are retried on the
	// next tick instead of being queued back to ourselves
	opts := []reconcile.Option{reconcile.WithMetrics(reconcile.NewMetrics(prometheus.DefaultRegisterer))}
	if cfg.Redis.URL != "" {
		redisOpts, err := config.RedisOptions(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc := redis.NewClient(redisOpts)
		defer rc.Close()
		cache := storage.NewSnapshotCache(rc, cfg.Redis.SnapshotTTL)
		opts = append(opts, reconcile.WithNotifier(storage.NewNotifier(rc, cache, cfg.Redis.ChangesChannel)))
	}

	w := &worker{
		boards:       layout.Names(),
		logger:       logger,
		interval:     cfg.Interval,
		pollInterval: cfg.PollInterval,
		maxDequeue:   int64(cfg.MaxDequeue),
	}
	var store reconcile.Store
	if cfg.Storage.Backend == config.StorageMemory {
		logger.Warn("in-memory storage selected, sweeping an empty store without repair queue")
		store = storage.NewMemory()
	} else {
		tables, err := storage.NewTables(cfg.Storage.ConnectionString, cfg.Storage.PlacementsTable)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		store = tables
		queue, err := storage.NewRepairQueue(cfg.Storage.ConnectionString, cfg.Storage.RepairQueue)
		if err != nil {
			log.Fatalf("repair queue: %v", err)
		}
		w.queue = queue
	}
	svc := reconcile.NewService(layout, store, logger, opts...)
	defer svc.Close()
	w.svc = svc

	if err := w.run(ctx); err != nil {
		logger.WithError(err).Error("board sweeper stopped")
		return
	}
	logger.Info("board sweeper stopped")
}
