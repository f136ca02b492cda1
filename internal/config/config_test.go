package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(EnvMap{"RPC_URL": "http://localhost:8545"})
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8545", cfg.RPCURL)
	assert.Equal(t, 30*time.Second, cfg.RPCTimeout)
	assert.Equal(t, DriverMySQL, cfg.DBDriver)
	assert.NotEmpty(t, cfg.DBDSN)
	assert.Nil(t, cfg.StartBlock)
	assert.Equal(t, uint64(12), cfg.Confirmations)
	assert.Equal(t, uint64(2), cfg.ConfirmationWindowFactor)
	assert.Equal(t, 300*time.Millisecond, cfg.PollInterval)
	assert.Zero(t, cfg.BlockWaitTimeout)
	assert.Equal(t, 4, cfg.ReceiptWorkerDivisor)
	assert.Equal(t, 32, cfg.ReceiptMaxWorkers)
	assert.Equal(t, int32(18), cfg.NativeDecimals)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(EnvMap{
		"RPC_URL":            "http://node:8545",
		"RPC_RATE_LIMIT":     "25.5",
		"DB_DRIVER":          "SQLite",
		"DB_DSN":             ":memory:",
		"START_BLOCK":        "0",
		"CONFIRMATIONS":      "6",
		"POLL_INTERVAL":      "1s",
		"BLOCK_WAIT_TIMEOUT": "2m",
		"KAFKA_BROKERS":      "k1:9092, k2:9092,",
		"LOG_FORMAT":         "json",
	})
	require.NoError(t, err)

	assert.Equal(t, 25.5, cfg.RPCRateLimit)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, ":memory:", cfg.DBDSN)
	require.NotNil(t, cfg.StartBlock)
	assert.Equal(t, uint64(0), *cfg.StartBlock)
	assert.Equal(t, uint64(6), cfg.Confirmations)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.BlockWaitTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadRequiresRPCURL(t *testing.T) {
	_, err := Load(EnvMap{})
	assert.ErrorContains(t, err, "RPC_URL")

	_, err = Load(nil)
	assert.Error(t, err)
}

func TestLoadReportsEveryInvalidKey(t *testing.T) {
	_, err := Load(EnvMap{
		"RPC_URL":                "http://node:8545",
		"DB_DRIVER":              "postgres",
		"START_BLOCK":            "latest",
		"POLL_INTERVAL":          "fast",
		"RECEIPT_WORKER_DIVISOR": "0",
		"RPC_RATE_LIMIT":         "-1",
	})
	require.Error(t, err)
	for _, key := range []string{"DB_DRIVER", "START_BLOCK", "POLL_INTERVAL", "RECEIPT_WORKER_DIVISOR", "RPC_RATE_LIMIT"} {
		assert.ErrorContains(t, err, key)
	}
}
