package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"credanchor/internal/credential/events"
	"credanchor/internal/credential/lock"
	"credanchor/internal/credential/store"
	"credanchor/internal/platform/config"
	"credanchor/internal/platform/database"
	"credanchor/internal/platform/kafka/producer"
	"credanchor/internal/platform/redis"
)

// infra holds optional backing services. Each one falls back to an
// in-process implementation when it is not configured.
type infra struct {
	registry *prometheus.Registry

	db       *database.Pool
	redis    *redis.Client
	producer *producer.Producer

	store  store.Store
	locker lock.Locker
	sink   events.Sink
}

func buildInfra(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{registry: prometheus.NewRegistry()}
	in.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.Database.URL
	dbCfg.SQLitePath = cfg.Database.SQLitePath
	db, err := database.New(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	in.db = db
	switch {
	case db == nil:
		log.Warn("no database configured, credentials are kept in memory")
		in.store = store.NewInMemoryStore()
	case db.Driver() == database.DriverPostgres:
		log.Info("credential store ready", "driver", db.Driver())
		in.store = store.NewPostgres(db.DB())
	default:
		log.Info("credential store ready", "driver", db.Driver(), "path", cfg.Database.SQLitePath)
		in.store = store.NewSQLite(db.DB())
	}

	rc, err := redis.New(ctx, cfg.Redis, in.registry)
	if err != nil {
		in.Close(log)
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	in.redis = rc
	if rc != nil {
		log.Info("using redis credential lock")
		in.locker = lock.NewRedis(rc.Client, cfg.Redis.LockTTL, 50*time.Millisecond)
	} else {
		log.Warn("no redis configured, credential locks are process-local")
		in.locker = lock.NewLocal()
	}

	if brokers := producer.ParseBrokers(cfg.Kafka.Brokers); len(brokers) > 0 {
		p, err := producer.New(producer.Config{Brokers: brokers, ClientID: "credanchor"}, log)
		if err != nil {
			in.Close(log)
			return nil, fmt.Errorf("create kafka producer: %w", err)
		}
		in.producer = p
		in.sink = events.NewKafkaSink(p, cfg.Kafka.Topic)
		log.Info("publishing credential events to kafka", "topic", cfg.Kafka.Topic)
	} else {
		in.sink = events.NewMemorySink()
	}
	return in, nil
}

func (in *infra) Close(log *slog.Logger) {
	if in.producer != nil {
		if err := in.producer.Close(); err != nil {
			log.Warn("close kafka producer", "error", err)
		}
	}
	if in.redis != nil {
		if err := in.redis.Close(); err != nil {
			log.Warn("close redis", "error", err)
		}
	}
	if err := in.db.Close(); err != nil {
		log.Warn("close database", "error", err)
	}
}
