package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: 9090
storage:
  driver: memory
  lock_timeout: 750ms
mysql:
  host: db
  password: ""
notify:
  provider: nats
  nats:
    url: nats://localhost:4222
ledger:
  max_amount: 500000
  bounds:
    withdrawal:
      min: 100
      max: 200000
  fees:
    withdrawal:
      wire:
        fixed: 2500
        percentage: "0.5"
  daily_limits:
    savings: 100000
  daily_window_tz: Africa/Lagos
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("COREBANK_MYSQL_PASSWORD", "from-env")

	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 750*time.Millisecond, cfg.Storage.LockTimeout)
	assert.Equal(t, "db", cfg.MySQL.Host)
	assert.Equal(t, "from-env", cfg.MySQL.Password)
	assert.Equal(t, "nats", cfg.Notify.Provider)
	assert.Equal(t, "nats://localhost:4222", cfg.Notify.NATS.URL)

	assert.Equal(t, int64(500000), cfg.Ledger.MaxAmount)
	assert.Equal(t, AmountBounds{Min: 100, Max: 200000}, cfg.Ledger.Bounds["withdrawal"])
	assert.Equal(t, FeeRule{Fixed: 2500, Percentage: "0.5"}, cfg.Ledger.Fees["withdrawal"]["wire"])
	assert.Equal(t, int64(100000), cfg.Ledger.DailyLimits["savings"])
	assert.Equal(t, "Africa/Lagos", cfg.Ledger.DailyWindowTZ)

	// defaults
	assert.Equal(t, int64(1), cfg.Ledger.MinAmount)
	assert.Equal(t, "ledger.transaction", cfg.Notify.Topic)
	assert.Equal(t, "AUTH", cfg.Codes.Prefix)
	assert.Equal(t, 24*time.Hour, cfg.Codes.DefaultExpiry)
	assert.Equal(t, 100, cfg.Jobs.OutboxBatch)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"driver":   "storage:\n  driver: postgres\n",
		"provider": "storage:\n  driver: memory\nnotify:\n  provider: rabbitmq\n",
		"bounds":   "storage:\n  driver: memory\nledger:\n  min_amount: 10\n  max_amount: 5\n",
		"timezone": "storage:\n  driver: memory\nledger:\n  daily_window_tz: Mars/Olympus\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSampleConfigLoads(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Ledger.Fees)
}
