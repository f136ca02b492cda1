package application

import (
	"context"
	"fmt"
)

type parsedBlockSource interface {
	MaxParsedBlock(ctx context.Context) (uint64, bool, error)
}

type headSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// Cursor decides where ingestion resumes: one past the highest parsed block,
// or on an empty store the configured start block, falling back to the
// chain head.
type Cursor struct {
	store      parsedBlockSource
	head       headSource
	startBlock *uint64
}

func NewCursor(store parsedBlockSource, head headSource, startBlock *uint64) *Cursor {
	return &Cursor{store: store, head: head, startBlock: startBlock}
}

func (c *Cursor) NextBlockNumber(ctx context.Context) (uint64, error) {
	last, ok, err := c.store.MaxParsedBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	if ok {
		return last + 1, nil
	}
	if c.startBlock != nil {
		return *c.startBlock, nil
	}
	head, err := c.head.LatestBlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("read chain head: %w", err)
	}
	return head, nil
}
