package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Piletas  PiletasConfig  `yaml:"piletas"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                         string `yaml:"host"`
	Port                         int    `yaml:"port"`
	UnitStatusChangedTopicName   string `yaml:"unit_status_changed_topic_name"`
	DisplayOrderChangedTopicName string `yaml:"display_order_changed_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type PiletasConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	// Categories to sweep. Defaults to azucar+melaza when empty.
	Categories []string `yaml:"categories"`

	// Timezone for timer start times, e.g. "America/Guatemala".
	// Falls back to UTC when empty or unknown.
	Timezone string `yaml:"timezone"`

	UpdateDebounceSeconds int `yaml:"update_debounce_seconds"`
	LastOrderTTLSeconds   int `yaml:"last_order_ttl_seconds"`

	SweepIntervalSeconds         int `yaml:"sweep_interval_seconds"`
	SweepConcurrency             int `yaml:"sweep_concurrency"`
	SweepFetchRateLimitPerMinute int `yaml:"sweep_fetch_rate_limit_per_minute"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	YardAPIBaseURL string `yaml:"yard_api_base_url"`
	YardAPIKey     string `yaml:"yard_api_key"`
	// "http" | "fake". Fake serves deterministic units for local runs.
	YardAPIMode string `yaml:"yard_api_mode"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
