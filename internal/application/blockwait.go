package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ethledger/internal/domain"

	"github.com/cenkalti/backoff/v4"
)

// ErrBlockWaitTimeout is returned when a block did not appear within the
// configured wait bound.
var ErrBlockWaitTimeout = errors.New("timed out waiting for block")

// BlockWaiter polls the node until a block exists. Only "not found" is
// retried; any other failure ends the wait.
type BlockWaiter struct {
	reader   ChainReader
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

func NewBlockWaiter(reader ChainReader, interval, timeout time.Duration, logger *slog.Logger) *BlockWaiter {
	if interval <= 0 {
		interval = 300 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BlockWaiter{reader: reader, interval: interval, timeout: timeout, logger: logger}
}

func (w *BlockWaiter) Wait(ctx context.Context, number uint64) (domain.ChainBlock, error) {
	waitCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	attempts := 0
	operation := func() (domain.ChainBlock, error) {
		attempts++
		block, err := w.reader.FetchBlock(waitCtx, number)
		if err == nil {
			return block, nil
		}
		if errors.Is(err, domain.ErrBlockNotFound) {
			return domain.ChainBlock{}, err
		}
		return domain.ChainBlock{}, backoff.Permanent(err)
	}
	notify := func(err error, next time.Duration) {
		if attempts == 1 {
			w.logger.Debug("waiting for block", "block", number, "retry_in", next)
		}
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(w.interval), waitCtx)
	block, err := backoff.RetryNotifyWithData(operation, policy, notify)
	if err != nil {
		if ctx.Err() == nil && waitCtx.Err() != nil {
			return domain.ChainBlock{}, ErrBlockWaitTimeout
		}
		return domain.ChainBlock{}, err
	}
	if attempts > 1 {
		w.logger.Debug("block available", "block", number, "attempts", attempts)
	}
	return block, nil
}
