package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  unit_status_changed_topic_name: "unit.status_changed"
  display_order_changed_topic_name: "display_order.changed"
redis:
  host: "localhost"
  port: 6379
piletas:
  http_addr: ":8080"
  kafka_consumer_group: "pileta-api"
  categories: ["azucar", "melaza"]
  timezone: "America/Guatemala"
  update_debounce_seconds: 5
  last_order_ttl_seconds: 600
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "unit.status_changed", cfg.Kafka.UnitStatusChangedTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.Piletas.HTTPAddr)
	require.Equal(t, []string{"azucar", "melaza"}, cfg.Piletas.Categories)
	require.Equal(t, 5, cfg.Piletas.UpdateDebounceSeconds)
}
