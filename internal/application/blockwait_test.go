package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"ethledger/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockWaiterRetriesUntilMined(t *testing.T) {
	chain := newFakeChain()
	chain.blocks[12] = domain.ChainBlock{Number: 12, Hash: "0x12"}
	chain.notFound[12] = 3

	block, err := NewBlockWaiter(chain, time.Millisecond, 0, quietLogger()).Wait(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, "0x12", block.Hash)
	assert.Equal(t, 4, chain.blockCalls[12])
}

func TestBlockWaiterDoesNotRetryOtherErrors(t *testing.T) {
	chain := newFakeChain()
	boom := errors.New("connection refused")
	chain.blockErrs[12] = boom

	_, err := NewBlockWaiter(chain, time.Millisecond, 0, quietLogger()).Wait(context.Background(), 12)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, chain.blockCalls[12])
}

func TestBlockWaiterTimeout(t *testing.T) {
	chain := newFakeChain()

	_, err := NewBlockWaiter(chain, 5*time.Millisecond, 30*time.Millisecond, quietLogger()).Wait(context.Background(), 99)
	assert.ErrorIs(t, err, ErrBlockWaitTimeout)
	assert.Greater(t, chain.blockCalls[99], 1)
}

func TestBlockWaiterHonoursCancellation(t *testing.T) {
	chain := newFakeChain()
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := NewBlockWaiter(chain, 5*time.Millisecond, time.Minute, quietLogger()).Wait(ctx, 99)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrBlockWaitTimeout)
}
