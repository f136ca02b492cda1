package domain

// Receipt is the part of a transaction receipt the transfer decoder reads.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	BlockHash   string
	Status      uint64
	Logs        []ReceiptLog
}

// ReceiptLog is one event emitted by a transaction, in emission order.
// Topics[0] is the event signature hash.
type ReceiptLog struct {
	BlockNumber uint64
	TxHash      string
	LogIndex    uint64
	Address     string
	Data        string
	Topics      []string
}
