package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"ethledger/internal/application"
	"ethledger/internal/config"
	"ethledger/internal/domain"
	"ethledger/internal/infrastructure/ethrpc"
	"ethledger/internal/infrastructure/kafka"
	"ethledger/internal/infrastructure/logging"
	"ethledger/internal/infrastructure/mysql"
	"ethledger/internal/infrastructure/sqlite"
	"ethledger/internal/infrastructure/telemetry"
	"ethledger/internal/interfaces/httpapi"

	"github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// options override the environment for one-off runs.
type options struct {
	Debug      bool   `long:"debug" description:"log at debug level"`
	LogLevel   string `long:"log-level" description:"log level (debug, info, warn, error)"`
	StartBlock string `long:"start-block" description:"first block to ingest when the ledger is empty"`
	HTTPAddr   string `long:"http-addr" description:"listen address for health and metrics"`
}

type ledgerStore interface {
	application.Ledger
	io.Closer
}

func main() {
	var opts options
	if _, err := flags.ParseArgs(&opts, os.Args[1:]); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		log.Fatalf("flags error: %v", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := applyOptions(&cfg, opts); err != nil {
		log.Fatalf("flags error: %v", err)
	}

	logger, logCloser, err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		log.Fatalf("logging error: %v", err)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ingester stopped", "err", err)
		cancel()
		if logCloser != nil {
			_ = logCloser.Close()
		}
		os.Exit(1)
	}
	logger.Info("ingester stopped")
}

func applyOptions(cfg *config.Config, opts options) error {
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.Debug {
		cfg.LogLevel = "debug"
	}
	if opts.HTTPAddr != "" {
		cfg.HTTPAddr = opts.HTTPAddr
	}
	if opts.StartBlock != "" {
		start, err := strconv.ParseUint(opts.StartBlock, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid --start-block: %w", err)
		}
		cfg.StartBlock = &start
	}
	return nil
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	shutdownTracing, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "ethledger-ingester",
		ServiceVersion: version,
		Endpoint:       cfg.OtelEndpoint,
	})
	if err != nil {
		logger.Warn("tracing disabled", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(shutdownCtx); err != nil {
				logger.Warn("tracing shutdown failed", "err", err)
			}
		}()
	}

	rpcClient, err := ethrpc.NewClient(ethrpc.Config{
		URL:       cfg.RPCURL,
		Timeout:   cfg.RPCTimeout,
		RateLimit: cfg.RPCRateLimit,
		RateBurst: cfg.RPCRateBurst,
	})
	if err != nil {
		return fmt.Errorf("rpc client: %w", err)
	}

	ledger, err := openLedger(cfg, logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	var publisher application.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		defer producer.Close()
		publisher = producer
		logger.Info("publishing ledger events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	metrics := httpapi.NewMetrics()
	server, err := httpapi.NewServer(cfg, ledger, rpcClient, metrics, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	ingester, err := application.NewIngester(rpcClient, ledger, publisher, metrics, logger, application.IngesterConfig{
		StartBlock: cfg.StartBlock,
		Confirmations: domain.ConfirmationPolicy{
			Depth:  cfg.Confirmations,
			Factor: cfg.ConfirmationWindowFactor,
		},
		PollInterval:         cfg.PollInterval,
		BlockWaitTimeout:     cfg.BlockWaitTimeout,
		ReceiptWorkerDivisor: cfg.ReceiptWorkerDivisor,
		ReceiptMaxWorkers:    cfg.ReceiptMaxWorkers,
		NativeDecimals:       cfg.NativeDecimals,
	})
	if err != nil {
		return fmt.Errorf("ingester: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		return server.ListenAndServe(gctx, cfg.HTTPAddr)
	})
	g.Go(func() error {
		err := ingester.Run(gctx)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return errors.New("ingestion ended unexpectedly")
		}
		return err
	})
	return g.Wait()
}

func openLedger(cfg config.Config, logger *slog.Logger) (ledgerStore, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		repo, err := sqlite.NewRepository(cfg.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("sqlite ledger: %w", err)
		}
		logger.Info("ledger opened", "driver", cfg.DBDriver, "path", cfg.DBDSN)
		return repo, nil
	default:
		base, err := mysql.NewRepository(cfg.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("mysql ledger: %w", err)
		}
		cached, err := mysql.NewCachedRepository(base, mysql.CacheConfig{Addr: cfg.RedisAddr, TTL: cfg.TokenCacheTTL})
		if err != nil {
			logger.Warn("token cache disabled", "err", err)
			return base, nil
		}
		logger.Info("ledger opened", "driver", cfg.DBDriver, "token_cache", cfg.RedisAddr != "")
		return cached, nil
	}
}
