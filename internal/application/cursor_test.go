package application

import (
	"context"
	"errors"
	"testing"

	"ethledger/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{ err error }

func (s failingStore) MaxParsedBlock(context.Context) (uint64, bool, error) { return 0, false, s.err }

func TestCursorNextBlockNumber(t *testing.T) {
	start := uint64(500)

	t.Run("resumes after highest parsed block", func(t *testing.T) {
		ledger := newFakeLedger()
		ledger.blocks = []domain.Block{{Number: 40}, {Number: 41}}
		next, err := NewCursor(ledger, newFakeChain(), &start).NextBlockNumber(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(42), next)
	})

	t.Run("empty store uses start block", func(t *testing.T) {
		next, err := NewCursor(newFakeLedger(), newFakeChain(), &start).NextBlockNumber(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(500), next)
	})

	t.Run("explicit genesis start", func(t *testing.T) {
		zero := uint64(0)
		next, err := NewCursor(newFakeLedger(), newFakeChain(), &zero).NextBlockNumber(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(0), next)
	})

	t.Run("empty store without start follows head", func(t *testing.T) {
		chain := newFakeChain()
		chain.head = 19000000
		next, err := NewCursor(newFakeLedger(), chain, nil).NextBlockNumber(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(19000000), next)
	})

	t.Run("store failure", func(t *testing.T) {
		_, err := NewCursor(failingStore{err: errors.New("gone")}, newFakeChain(), nil).NextBlockNumber(context.Background())
		assert.Error(t, err)
	})
}
