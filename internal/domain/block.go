package domain

import "time"

// Block is one ingested chain block.
type Block struct {
	Number      uint64
	Hash        string
	Timestamp   time.Time
	TotalTxns   int
	TokenTxns   int
	FullyParsed bool
}

// ChainBlock is a block as returned by the node, with full transaction bodies.
type ChainBlock struct {
	Number       uint64
	Hash         string
	Timestamp    time.Time
	Transactions []ChainTransaction
}
