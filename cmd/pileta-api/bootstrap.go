package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agroyard/piletas/config"
	"github.com/agroyard/piletas/internal/broker/kafka"
	"github.com/agroyard/piletas/internal/cache/rediscache"
	"github.com/agroyard/piletas/internal/clock"
	"github.com/agroyard/piletas/internal/integrations/yardapi"
	"github.com/agroyard/piletas/internal/integrations/yardapi/fake"
	"github.com/agroyard/piletas/internal/integrations/yardapi/yardhttp"
	"github.com/agroyard/piletas/internal/services/pileorder"
	"github.com/agroyard/piletas/internal/services/timers"
	"github.com/agroyard/piletas/internal/storage/pgpiletas"
)

type pileAPIApp struct {
	ctx        context.Context
	cancel     context.CancelFunc
	opts       pileAPIOpts
	timers     *timers.Service
	order      *pileorder.Service
	consumer   *kafka.Consumer
	closeDB    func()
	closeCache func() error
}

func mustBootstrapPileAPI() *pileAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to parse config, %v", err))
	}

	httpAddr := cfg.Piletas.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.Piletas.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "pileta-api"
	}
	topic := cfg.Kafka.UnitStatusChangedTopicName
	if topic == "" {
		topic = "unit.status_changed"
	}

	debounce := time.Duration(cfg.Piletas.UpdateDebounceSeconds) * time.Second
	if debounce <= 0 {
		debounce = 5 * time.Second
	}
	lastOrderTTL := time.Duration(cfg.Piletas.LastOrderTTLSeconds) * time.Second
	if lastOrderTTL <= 0 {
		lastOrderTTL = 10 * time.Minute
	}

	st := mustOpenPostgresWithRetry(connString(cfg), 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	clk := clock.New(cfg.Piletas.Timezone)

	timersSvc := timers.New(st, clk)
	orderSvc := pileorder.New(st, newYardClient(cfg), rc, clk).
		WithDebounce(debounce).
		WithLastOrderTTL(lastOrderTTL)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &pileAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: pileAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		timers:     timersSvc,
		order:      orderSvc,
		consumer:   consumer,
		closeDB:    st.Close,
		closeCache: rc.Close,
	}
}

func connString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

// newYardClient picks the yard API client. Fake serves deterministic
// units so the whole stack runs without the upstream yard system.
func newYardClient(cfg *config.Config) yardapi.Client {
	if cfg.Piletas.YardAPIBaseURL != "" && cfg.Piletas.YardAPIMode == "http" {
		return yardhttp.New(cfg.Piletas.YardAPIBaseURL, cfg.Piletas.YardAPIKey)
	}
	return fake.New()
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgpiletas.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgpiletas.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *pileAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
	if a.closeCache != nil {
		_ = a.closeCache()
	}
}

func (a *pileAPIApp) Run() error {
	return runPileAPI(a.ctx, a.opts, a.timers, a.order, a.consumer)
}
