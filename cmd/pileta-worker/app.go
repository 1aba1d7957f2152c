package main

import (
	"context"
	"fmt"
	"time"

	"github.com/agroyard/piletas/config"
	"github.com/agroyard/piletas/internal/broker/kafka"
	"github.com/agroyard/piletas/internal/cache/rediscache"
	"github.com/agroyard/piletas/internal/clock"
	"github.com/agroyard/piletas/internal/integrations/yardapi"
	"github.com/agroyard/piletas/internal/integrations/yardapi/fake"
	"github.com/agroyard/piletas/internal/integrations/yardapi/yardhttp"
	"github.com/agroyard/piletas/internal/services/pileorder"
	"github.com/agroyard/piletas/internal/services/sweeper"
	"github.com/agroyard/piletas/internal/storage/pgpiletas"
)

type workerFactories struct {
	newStorage     func(cfg *config.Config) (repo pileorder.Repository, closeFn func(), err error)
	newProducer    func(cfg *config.Config) sweeper.Producer
	newRateLimiter func(cfg *config.Config) sweeper.RateLimiter
	newYardClient  func(cfg *config.Config) yardapi.Client
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (pileorder.Repository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgpiletas.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) sweeper.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) sweeper.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newYardClient: func(cfg *config.Config) yardapi.Client {
			// The fake serves deterministic units so the worker runs
			// without the upstream yard system.
			if cfg.Piletas.YardAPIBaseURL != "" && cfg.Piletas.YardAPIMode == "http" {
				return yardhttp.New(cfg.Piletas.YardAPIBaseURL, cfg.Piletas.YardAPIKey)
			}
			return fake.New()
		},
	}
}

func buildSweeper(cfg *config.Config, f workerFactories) (*sweeper.Sweeper, func(), error) {
	topic := cfg.Kafka.DisplayOrderChangedTopicName
	if topic == "" {
		topic = "display_order.changed"
	}

	sweepInterval := time.Duration(cfg.Piletas.SweepIntervalSeconds) * time.Second
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	concurrency := cfg.Piletas.SweepConcurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	fetchLimitPerMin := int64(cfg.Piletas.SweepFetchRateLimitPerMinute)
	if fetchLimitPerMin <= 0 {
		fetchLimitPerMin = 30
	}
	lastOrderTTL := time.Duration(cfg.Piletas.LastOrderTTLSeconds) * time.Second
	if lastOrderTTL <= 0 {
		lastOrderTTL = 10 * time.Minute
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return nil, nil, err
	}

	producer := f.newProducer(cfg)
	rl := f.newRateLimiter(cfg)
	clk := clock.New(cfg.Piletas.Timezone)

	orderSvc := pileorder.New(repo, f.newYardClient(cfg), nil, clk).
		WithLastOrderTTL(lastOrderTTL)

	sw := sweeper.New(orderSvc, producer, rl, topic, cfg.Piletas.Categories).
		WithSettings(sweepInterval, concurrency, fetchLimitPerMin)
	return sw, closeFn, nil
}

func RunPileWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	sw, closeFn, err := buildSweeper(cfg, f)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return sw.Run(ctx)
}
