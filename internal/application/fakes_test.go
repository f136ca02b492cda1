package application

import (
	"context"
	"errors"
	"sort"
	"sync"

	"ethledger/internal/domain"
)

type fakeChain struct {
	mu           sync.Mutex
	head         uint64
	blocks       map[uint64]domain.ChainBlock
	blockErrs    map[uint64]error
	notFound     map[uint64]int
	receipts     map[string]*domain.Receipt
	receiptErrs  map[string]error
	blockCalls   map[uint64]int
	receiptCalls map[string]int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		blocks:       make(map[uint64]domain.ChainBlock),
		blockErrs:    make(map[uint64]error),
		notFound:     make(map[uint64]int),
		receipts:     make(map[string]*domain.Receipt),
		receiptErrs:  make(map[string]error),
		blockCalls:   make(map[uint64]int),
		receiptCalls: make(map[string]int),
	}
}

func (c *fakeChain) LatestBlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *fakeChain) FetchBlock(ctx context.Context, number uint64) (domain.ChainBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockCalls[number]++
	if err, ok := c.blockErrs[number]; ok {
		return domain.ChainBlock{}, err
	}
	if c.notFound[number] > 0 {
		c.notFound[number]--
		return domain.ChainBlock{}, domain.ErrBlockNotFound
	}
	block, ok := c.blocks[number]
	if !ok {
		return domain.ChainBlock{}, domain.ErrBlockNotFound
	}
	return block, nil
}

func (c *fakeChain) FetchReceipt(ctx context.Context, txHash string) (*domain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiptCalls[txHash]++
	if err, ok := c.receiptErrs[txHash]; ok {
		return nil, err
	}
	return c.receipts[txHash], nil
}

// fakeLedger stages writes per WithBlock call and applies them only when
// the callback succeeds, mirroring a database transaction.
type fakeLedger struct {
	mu          sync.Mutex
	blocks      []domain.Block
	txns        []domain.Transaction
	tokens      map[string]domain.Token
	nextTokenID uint64
	confirmed   map[string]bool
	windows     [][2]uint64
	bulkCalls   int
	failInsert  error
	tokenErr    error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		tokens:      make(map[string]domain.Token),
		confirmed:   make(map[string]bool),
		nextTokenID: 1,
	}
}

type stagedWrites struct {
	ledger    *fakeLedger
	blocks    []domain.Block
	txns      []domain.Transaction
	windows   [][2]uint64
	bulkCalls int
}

func (s *stagedWrites) InsertBlock(ctx context.Context, block domain.Block) (uint64, error) {
	if s.ledger.failInsert != nil {
		return 0, s.ledger.failInsert
	}
	s.blocks = append(s.blocks, block)
	return block.Number, nil
}

func (s *stagedWrites) BulkInsertTransactions(ctx context.Context, blockID uint64, txns []domain.Transaction) error {
	s.bulkCalls++
	for _, tx := range txns {
		for _, existing := range s.ledger.txns {
			if existing.Hash == tx.Hash {
				return errors.New("duplicate transaction hash " + tx.Hash)
			}
		}
	}
	s.txns = append(s.txns, txns...)
	return nil
}

func (s *stagedWrites) AdvanceConfirmations(ctx context.Context, blockID uint64, policy domain.ConfirmationPolicy) (int64, error) {
	from, to, ok := policy.Window(blockID)
	if !ok {
		return 0, nil
	}
	s.windows = append(s.windows, [2]uint64{from, to})
	var n int64
	for _, tx := range append(s.ledger.txns, s.txns...) {
		if tx.BlockNumber >= from && tx.BlockNumber <= to && !s.ledger.confirmed[tx.Hash] {
			n++
		}
	}
	return n, nil
}

func (l *fakeLedger) WithBlock(ctx context.Context, fn func(BlockWriter) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	staged := &stagedWrites{ledger: l}
	if err := fn(staged); err != nil {
		return err
	}
	l.blocks = append(l.blocks, staged.blocks...)
	l.txns = append(l.txns, staged.txns...)
	l.bulkCalls += staged.bulkCalls
	for _, window := range staged.windows {
		l.windows = append(l.windows, window)
		for _, tx := range l.txns {
			if tx.BlockNumber >= window[0] && tx.BlockNumber <= window[1] {
				l.confirmed[tx.Hash] = true
			}
		}
	}
	return nil
}

func (l *fakeLedger) GetOrCreateToken(ctx context.Context, wallet string) (domain.Token, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tokenErr != nil {
		return domain.Token{}, false, l.tokenErr
	}
	if token, ok := l.tokens[wallet]; ok {
		return token, false, nil
	}
	token := domain.Token{ID: l.nextTokenID, Wallet: wallet}
	l.nextTokenID++
	l.tokens[wallet] = token
	return token, true, nil
}

func (l *fakeLedger) MaxParsedBlock(ctx context.Context) (uint64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.blocks) == 0 {
		return 0, false, nil
	}
	numbers := make([]uint64, 0, len(l.blocks))
	for _, block := range l.blocks {
		numbers = append(numbers, block.Number)
	}
	sort.Slice(numbers, func(a, b int) bool { return numbers[a] < numbers[b] })
	return numbers[len(numbers)-1], true, nil
}

func (l *fakeLedger) Ping(ctx context.Context) error { return nil }

type fakePublisher struct {
	mu     sync.Mutex
	blocks []domain.Block
	tokens []domain.Token
	err    error
}

func (p *fakePublisher) PublishBlock(ctx context.Context, block domain.Block) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.blocks = append(p.blocks, block)
	return nil
}

func (p *fakePublisher) PublishTokenDiscovered(ctx context.Context, token domain.Token) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.tokens = append(p.tokens, token)
	return nil
}

type fakeObserver struct {
	processed      []BlockStats
	publishFailure map[string]int
}

func (o *fakeObserver) OnBlockProcessed(stats BlockStats) {
	o.processed = append(o.processed, stats)
}

func (o *fakeObserver) OnPublishFailed(event string) {
	if o.publishFailure == nil {
		o.publishFailure = make(map[string]int)
	}
	o.publishFailure[event]++
}
