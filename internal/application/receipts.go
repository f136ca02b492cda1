package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ethledger/internal/domain"
	"ethledger/internal/pool"
)

const (
	defaultReceiptWorkerDivisor = 4
	defaultReceiptMaxWorkers    = 32
)

// ReceiptBatch holds the receipts retrieved for one block, keyed by
// transaction hash. Hashes whose receipt was missing or undecodable are
// absent from Receipts and counted in Skipped.
type ReceiptBatch struct {
	Receipts map[string]*domain.Receipt
	Skipped  int
}

// ReceiptFetcher retrieves receipts concurrently on a pool sized by the
// batch: max(1, n/divisor), never more than maxWorkers.
type ReceiptFetcher struct {
	reader     ChainReader
	divisor    int
	maxWorkers int
	logger     *slog.Logger
}

func NewReceiptFetcher(reader ChainReader, divisor, maxWorkers int, logger *slog.Logger) *ReceiptFetcher {
	if divisor <= 0 {
		divisor = defaultReceiptWorkerDivisor
	}
	if maxWorkers <= 0 {
		maxWorkers = defaultReceiptMaxWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReceiptFetcher{reader: reader, divisor: divisor, maxWorkers: maxWorkers, logger: logger}
}

func (f *ReceiptFetcher) Workers(n int) int {
	return pool.Size(n, f.divisor, f.maxWorkers)
}

// Fetch waits for every lookup to finish before returning. A transport
// failure on any hash fails the whole batch, but only after its siblings
// have completed.
func (f *ReceiptFetcher) Fetch(ctx context.Context, hashes []string) (ReceiptBatch, error) {
	batch := ReceiptBatch{Receipts: make(map[string]*domain.Receipt, len(hashes))}
	if len(hashes) == 0 {
		return batch, nil
	}

	results := pool.Process(ctx, f.Workers(len(hashes)), hashes, f.reader.FetchReceipt)

	var fatal error
	for _, result := range results {
		switch {
		case result.Err == nil && result.Value != nil:
			batch.Receipts[result.Task] = result.Value
		case result.Err == nil:
			batch.Skipped++
			f.logger.Warn("receipt not available", "tx_hash", result.Task)
		case errors.Is(result.Err, domain.ErrMalformedResponse):
			batch.Skipped++
			f.logger.Warn("receipt skipped", "tx_hash", result.Task, "err", result.Err)
		case fatal == nil:
			fatal = fmt.Errorf("receipt %s: %w", result.Task, result.Err)
		}
	}
	if fatal != nil {
		return ReceiptBatch{}, fatal
	}
	return batch, nil
}
