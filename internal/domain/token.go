package domain

import "github.com/shopspring/decimal"

// Token is an ERC-20 contract seen in at least one transfer. Symbol, Decimals
// and TotalSupply stay nil until an external resolver back-fills them.
type Token struct {
	ID          uint64
	Wallet      string
	Symbol      *string
	Decimals    *uint8
	TotalSupply *decimal.Decimal
}

// Resolved reports whether the token's decimal scale is known.
func (t Token) Resolved() bool {
	return t.Decimals != nil
}
