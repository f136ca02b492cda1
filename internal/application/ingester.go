package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"ethledger/internal/domain"
	"ethledger/internal/transfer"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type IngesterConfig struct {
	StartBlock           *uint64
	Confirmations        domain.ConfirmationPolicy
	PollInterval         time.Duration
	BlockWaitTimeout     time.Duration
	ReceiptWorkerDivisor int
	ReceiptMaxWorkers    int
	NativeDecimals       int32
}

// Ingester drives block ingestion one block at a time. The cursor only
// moves after a block's writes have committed, so a crash can repeat a
// block but never skip one.
type Ingester struct {
	reader    ChainReader
	ledger    Ledger
	publisher EventPublisher
	observer  IngestObserver
	waiter    *BlockWaiter
	receipts  *ReceiptFetcher
	cursor    *Cursor
	cfg       IngesterConfig
	logger    *slog.Logger
}

func NewIngester(reader ChainReader, ledger Ledger, publisher EventPublisher, observer IngestObserver, logger *slog.Logger, cfg IngesterConfig) (*Ingester, error) {
	if reader == nil || ledger == nil {
		return nil, errors.New("ingester dependencies must not be nil")
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.NativeDecimals == 0 {
		cfg.NativeDecimals = 18
	}
	return &Ingester{
		reader:    reader,
		ledger:    ledger,
		publisher: publisher,
		observer:  observer,
		waiter:    NewBlockWaiter(reader, cfg.PollInterval, cfg.BlockWaitTimeout, logger),
		receipts:  NewReceiptFetcher(reader, cfg.ReceiptWorkerDivisor, cfg.ReceiptMaxWorkers, logger),
		cursor:    NewCursor(ledger, reader, cfg.StartBlock),
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Run resolves the cursor once and then ingests blocks until ctx is done or
// a block fails.
func (i *Ingester) Run(ctx context.Context) error {
	next, err := i.cursor.NextBlockNumber(ctx)
	if err != nil {
		return err
	}
	i.logger.Info("ingestion starting", "block", next)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := i.ProcessBlock(ctx, next); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("block %d: %w", next, err)
		}
		next++
	}
}

// ProcessBlock waits for block number, classifies its transactions and
// commits the block, its transactions and the confirmation sweep together.
func (i *Ingester) ProcessBlock(ctx context.Context, number uint64) (stats BlockStats, err error) {
	ctx, span := otel.Tracer("ethledger/application").Start(ctx, "ingest.block")
	span.SetAttributes(attribute.Int64("block.number", int64(number)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	stats.Number = number
	waitStart := time.Now()
	chainBlock, err := i.waiter.Wait(ctx, number)
	if err != nil {
		return stats, err
	}
	stats.WaitTime = time.Since(waitStart)
	processStart := time.Now()

	var candidates []string
	for _, tx := range chainBlock.Transactions {
		if transfer.IsCandidate(tx.Input) {
			candidates = append(candidates, tx.Hash)
		}
	}
	stats.Candidates = len(candidates)

	batch, err := i.receipts.Fetch(ctx, candidates)
	if err != nil {
		return stats, err
	}
	stats.SkippedReceipts = batch.Skipped

	rows := make([]domain.Transaction, 0, len(chainBlock.Transactions))
	for _, tx := range chainBlock.Transactions {
		row := i.plainTransaction(chainBlock, tx)
		if receipt, ok := batch.Receipts[tx.Hash]; ok {
			if err := i.applyTransfer(ctx, &row, tx, receipt); err != nil {
				return stats, err
			}
		}
		if row.IsToken {
			stats.TokenTxns++
		}
		rows = append(rows, row)
	}
	stats.TotalTxns = len(rows)

	block := domain.Block{
		Number:      chainBlock.Number,
		Hash:        chainBlock.Hash,
		Timestamp:   chainBlock.Timestamp,
		TotalTxns:   stats.TotalTxns,
		TokenTxns:   stats.TokenTxns,
		FullyParsed: true,
	}
	err = i.ledger.WithBlock(ctx, func(w BlockWriter) error {
		blockID, err := w.InsertBlock(ctx, block)
		if err != nil {
			return fmt.Errorf("insert block: %w", err)
		}
		if len(rows) > 0 {
			if err := w.BulkInsertTransactions(ctx, blockID, rows); err != nil {
				return fmt.Errorf("insert transactions: %w", err)
			}
		}
		confirmed, err := w.AdvanceConfirmations(ctx, blockID, i.cfg.Confirmations)
		if err != nil {
			return fmt.Errorf("advance confirmations: %w", err)
		}
		stats.Confirmed = confirmed
		return nil
	})
	if err != nil {
		return stats, err
	}
	stats.ProcessTime = time.Since(processStart)

	if err := i.publisher.PublishBlock(ctx, block); err != nil {
		i.publishFailed("block", err)
	}
	span.SetAttributes(
		attribute.Int("block.txns", stats.TotalTxns),
		attribute.Int("block.token_txns", stats.TokenTxns),
	)
	if i.observer != nil {
		i.observer.OnBlockProcessed(stats)
	}
	i.logger.Info("block ingested",
		"block", number,
		"txns", stats.TotalTxns,
		"token_txns", stats.TokenTxns,
		"skipped_receipts", stats.SkippedReceipts,
		"confirmed", stats.Confirmed,
		"wait", stats.WaitTime,
		"process", stats.ProcessTime,
	)
	return stats, nil
}

func (i *Ingester) plainTransaction(block domain.ChainBlock, tx domain.ChainTransaction) domain.Transaction {
	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	return domain.Transaction{
		Hash:        tx.Hash,
		BlockNumber: block.Number,
		From:        transfer.ChecksumAddress(tx.From),
		To:          transfer.ChecksumAddress(tx.To),
		Quantity:    decimal.NewFromBigInt(value, -i.cfg.NativeDecimals),
		Input:       tx.Input,
		Created:     block.Timestamp,
	}
}

// applyTransfer turns row into a token transfer when the receipt carries a
// standard Transfer event. Undecodable candidates stay plain transfers.
func (i *Ingester) applyTransfer(ctx context.Context, row *domain.Transaction, tx domain.ChainTransaction, receipt *domain.Receipt) error {
	decoded, ok, err := transfer.Decode(tx, receipt)
	if err != nil {
		i.logger.Warn("transfer not decoded", "tx_hash", tx.Hash, "err", err)
		return nil
	}
	if !ok {
		return nil
	}

	token, created, err := i.ledger.GetOrCreateToken(ctx, decoded.Contract)
	if err != nil {
		return fmt.Errorf("resolve token %s: %w", decoded.Contract, err)
	}
	if created {
		i.logger.Info("token discovered", "wallet", token.Wallet, "token_id", token.ID)
		if err := i.publisher.PublishTokenDiscovered(ctx, token); err != nil {
			i.publishFailed("token", err)
		}
	}

	tokenID := token.ID
	row.IsToken = true
	row.TokenID = &tokenID
	row.TokenQuantity = decoded.Amount
	row.From = decoded.From
	row.To = decoded.To
	row.Quantity = TokenQuantity(decoded.Amount, token)
	return nil
}

// TokenQuantity scales a raw token amount by the token's decimals. Tokens
// whose decimals are still unknown keep the raw amount.
func TokenQuantity(amount *big.Int, token domain.Token) decimal.Decimal {
	if !token.Resolved() {
		return decimal.NewFromBigInt(amount, 0)
	}
	return decimal.NewFromBigInt(amount, -int32(*token.Decimals))
}

func (i *Ingester) publishFailed(event string, err error) {
	i.logger.Warn("event publish failed", "event", event, "err", err)
	if i.observer != nil {
		i.observer.OnPublishFailed(event)
	}
}
