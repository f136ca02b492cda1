// Package transfer detects and decodes ERC-20 transfer calls from raw
// transaction call data and receipt logs without an ABI decoder.
package transfer

import (
	"math/big"
	"strings"

	"ethledger/internal/domain"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// TransferSelector is the method id of transfer(address,uint256).
	TransferSelector = hexutil.Encode(crypto.Keccak256([]byte("transfer(address,uint256)"))[:4])
	// TransferTopic is the signature hash of Transfer(address,address,uint256).
	TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")).Hex()
)

// transferTopicCount is signature, from, to. Variants indexing the amount
// are not transfers for our purposes.
const transferTopicCount = 3

// Transfer is a decoded token movement.
type Transfer struct {
	Contract string
	From     string
	To       string
	Amount   *big.Int
}

// IsCandidate reports whether input calls transfer(address,uint256).
func IsCandidate(input string) bool {
	return len(input) >= len(TransferSelector) && strings.EqualFold(input[:len(TransferSelector)], TransferSelector)
}

// Decode classifies a candidate's receipt. ok is false when the receipt does
// not carry a standard Transfer event as its first log; err is set when the
// event is there but its fields cannot be decoded.
//
// The token contract is taken from the outer transaction recipient, which
// misattributes transfers routed through proxies.
func Decode(tx domain.ChainTransaction, receipt *domain.Receipt) (Transfer, bool, error) {
	if receipt == nil || len(receipt.Logs) == 0 {
		return Transfer{}, false, nil
	}
	topics := receipt.Logs[0].Topics
	if len(topics) != transferTopicCount || !strings.EqualFold(topics[0], TransferTopic) {
		return Transfer{}, false, nil
	}
	from, err := AddressFromTopic(topics[1])
	if err != nil {
		return Transfer{}, false, err
	}
	to, err := AddressFromTopic(topics[2])
	if err != nil {
		return Transfer{}, false, err
	}
	amount, err := AmountFromInput(tx.Input)
	if err != nil {
		return Transfer{}, false, err
	}
	return Transfer{
		Contract: ChecksumAddress(tx.To),
		From:     from,
		To:       to,
		Amount:   amount,
	}, true, nil
}
