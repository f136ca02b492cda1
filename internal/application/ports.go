package application

import (
	"context"
	"time"

	"ethledger/internal/domain"
)

// ChainReader is the subset of the node API the ingester depends on.
// Implementations must be safe for concurrent use.
type ChainReader interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FetchBlock(ctx context.Context, number uint64) (domain.ChainBlock, error)
	FetchReceipt(ctx context.Context, txHash string) (*domain.Receipt, error)
}

// BlockWriter is the write surface available inside a single block
// transaction. Nothing is visible to readers until the enclosing
// Ledger.WithBlock call returns nil.
type BlockWriter interface {
	InsertBlock(ctx context.Context, block domain.Block) (uint64, error)
	BulkInsertTransactions(ctx context.Context, blockID uint64, txns []domain.Transaction) error
	AdvanceConfirmations(ctx context.Context, blockID uint64, policy domain.ConfirmationPolicy) (int64, error)
}

type Ledger interface {
	// WithBlock commits everything fn wrote, or nothing if fn fails.
	WithBlock(ctx context.Context, fn func(BlockWriter) error) error
	// GetOrCreateToken returns the token registered for wallet, inserting an
	// unresolved placeholder first when none exists. created reports whether
	// the placeholder was inserted by this call.
	GetOrCreateToken(ctx context.Context, wallet string) (token domain.Token, created bool, err error)
	// MaxParsedBlock returns the highest fully parsed block, ok is false on
	// an empty store.
	MaxParsedBlock(ctx context.Context) (number uint64, ok bool, err error)
	Ping(ctx context.Context) error
}

type EventPublisher interface {
	PublishBlock(ctx context.Context, block domain.Block) error
	PublishTokenDiscovered(ctx context.Context, token domain.Token) error
}

type IngestObserver interface {
	OnBlockProcessed(stats BlockStats)
	OnPublishFailed(event string)
}

// BlockStats summarises one ingestion cycle.
type BlockStats struct {
	Number          uint64
	TotalTxns       int
	TokenTxns       int
	Candidates      int
	SkippedReceipts int
	Confirmed       int64
	WaitTime        time.Duration
	ProcessTime     time.Duration
}

type noopPublisher struct{}

func (noopPublisher) PublishBlock(context.Context, domain.Block) error          { return nil }
func (noopPublisher) PublishTokenDiscovered(context.Context, domain.Token) error { return nil }
