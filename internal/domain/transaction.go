package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// ChainTransaction is a transaction body as returned by the node.
type ChainTransaction struct {
	Hash  string
	From  string
	To    string
	Value *big.Int
	Input string
}

// Transaction is a ledger row. Quantity is already scaled to human units when
// the scale is known; TokenQuantity always holds the raw integer token amount.
type Transaction struct {
	Hash          string
	BlockNumber   uint64
	From          string
	To            string
	Quantity      decimal.Decimal
	Input         string
	Created       time.Time
	Confirmed     bool
	IsToken       bool
	TokenID       *uint64
	TokenQuantity *big.Int
}
