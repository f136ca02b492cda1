package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

type Config struct {
	RPCURL       string
	RPCTimeout   time.Duration
	RPCRateLimit float64
	RPCRateBurst int

	DBDriver string
	DBDSN    string

	RedisAddr     string
	TokenCacheTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	HTTPAddr     string
	OtelEndpoint string

	// StartBlock is used only when the ledger is empty; nil follows the
	// chain head.
	StartBlock               *uint64
	Confirmations            uint64
	ConfirmationWindowFactor uint64
	PollInterval             time.Duration
	BlockWaitTimeout         time.Duration
	ReceiptWorkerDivisor     int
	ReceiptMaxWorkers        int
	NativeDecimals           int32

	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
}

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			continue
		}
		env[key] = value
	}
	return env
}

func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}
	p := parser{source: source}

	rpcURL := p.str("RPC_URL", "")
	if rpcURL == "" {
		return Config{}, errors.New("RPC_URL is required")
	}

	cfg := Config{
		RPCURL:                   rpcURL,
		RPCTimeout:               p.duration("RPC_TIMEOUT", 30*time.Second),
		RPCRateLimit:             p.float("RPC_RATE_LIMIT", 0),
		RPCRateBurst:             int(p.uint("RPC_RATE_BURST", 1)),
		DBDriver:                 strings.ToLower(p.str("DB_DRIVER", DriverMySQL)),
		RedisAddr:                p.str("REDIS_ADDR", ""),
		TokenCacheTTL:            p.duration("TOKEN_CACHE_TTL", time.Hour),
		KafkaBrokers:             p.list("KAFKA_BROKERS"),
		KafkaTopic:               p.str("KAFKA_TOPIC", "ethledger-events"),
		HTTPAddr:                 p.str("HTTP_ADDR", ":8080"),
		OtelEndpoint:             p.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Confirmations:            p.uint("CONFIRMATIONS", 12),
		ConfirmationWindowFactor: p.uint("CONFIRMATION_WINDOW_FACTOR", 2),
		PollInterval:             p.duration("POLL_INTERVAL", 300*time.Millisecond),
		BlockWaitTimeout:         p.duration("BLOCK_WAIT_TIMEOUT", 0),
		ReceiptWorkerDivisor:     int(p.uint("RECEIPT_WORKER_DIVISOR", 4)),
		ReceiptMaxWorkers:        int(p.uint("RECEIPT_MAX_WORKERS", 32)),
		NativeDecimals:           int32(p.uint("NATIVE_DECIMALS", 18)),
		LogLevel:                 p.str("LOG_LEVEL", "info"),
		LogFormat:                p.str("LOG_FORMAT", "text"),
		LogFile:                  p.str("LOG_FILE", ""),
		LogMaxSizeMB:             int(p.uint("LOG_MAX_SIZE_MB", 100)),
		LogMaxBackups:            int(p.uint("LOG_MAX_BACKUPS", 5)),
	}
	if raw := p.str("START_BLOCK", ""); raw != "" {
		start, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			p.fail("START_BLOCK", err)
		} else {
			cfg.StartBlock = &start
		}
	}

	switch cfg.DBDriver {
	case DriverMySQL:
		cfg.DBDSN = p.str("DB_DSN", "root:@tcp(127.0.0.1:3306)/ethledger")
	case DriverSQLite:
		cfg.DBDSN = p.str("DB_DSN", "ethledger.db")
	default:
		p.errs = append(p.errs, fmt.Errorf("invalid DB_DRIVER %q: want %s or %s", cfg.DBDriver, DriverMySQL, DriverSQLite))
	}
	if cfg.ReceiptWorkerDivisor == 0 {
		p.errs = append(p.errs, errors.New("RECEIPT_WORKER_DIVISOR must be positive"))
	}
	if cfg.NativeDecimals > 77 {
		p.errs = append(p.errs, errors.New("NATIVE_DECIMALS must not exceed 77"))
	}

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parser collects every invalid key instead of stopping at the first one.
type parser struct {
	source EnvSource
	errs   []error
}

func (p *parser) fail(key string, err error) {
	p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
}

func (p *parser) str(key, defaultValue string) string {
	raw, ok := p.source.Lookup(key)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return defaultValue
	}
	return raw
}

func (p *parser) uint(key string, defaultValue uint64) uint64 {
	raw := p.str(key, "")
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseUint(raw, 10, 31)
	if err != nil {
		p.fail(key, err)
		return defaultValue
	}
	return value
}

func (p *parser) float(key string, defaultValue float64) float64 {
	raw := p.str(key, "")
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 {
		if err == nil {
			err = errors.New("must not be negative")
		}
		p.fail(key, err)
		return defaultValue
	}
	return value
}

func (p *parser) duration(key string, defaultValue time.Duration) time.Duration {
	raw := p.str(key, "")
	if raw == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value < 0 {
		if err == nil {
			err = errors.New("must not be negative")
		}
		p.fail(key, err)
		return defaultValue
	}
	return value
}

func (p *parser) list(key string) []string {
	raw := p.str(key, "")
	if raw == "" {
		return nil
	}
	var values []string
	for _, item := range strings.Split(raw, ",") {
		if value := strings.TrimSpace(item); value != "" {
			values = append(values, value)
		}
	}
	return values
}
