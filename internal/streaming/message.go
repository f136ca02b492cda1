// Package streaming defines the ledger events published after ingestion.
package streaming

import (
	"encoding/json"
	"errors"
)

type MessageType string

const (
	// MessageTypeBlock follows every committed block.
	MessageTypeBlock MessageType = "block"
	// MessageTypeToken announces a placeholder token awaiting metadata.
	MessageTypeToken MessageType = "token"
)

type Message struct {
	Type        MessageType `json:"type"`
	TraceID     string      `json:"trace_id,omitempty"`
	BlockNumber uint64      `json:"block_number,omitempty"`
	BlockHash   string      `json:"block_hash,omitempty"`
	BlockTime   int64       `json:"block_time,omitempty"`
	TotalTxns   int         `json:"total_txns,omitempty"`
	TokenTxns   int         `json:"token_txns,omitempty"`
	TokenID     uint64      `json:"token_id,omitempty"`
	Wallet      string      `json:"wallet,omitempty"`
}

func Encode(msg Message) ([]byte, error) {
	if err := validate(msg); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if err := validate(msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func validate(msg Message) error {
	switch msg.Type {
	case MessageTypeBlock:
		if msg.BlockHash == "" {
			return errors.New("block_hash is required")
		}
	case MessageTypeToken:
		if msg.Wallet == "" || msg.TokenID == 0 {
			return errors.New("token wallet and id are required")
		}
	case "":
		return errors.New("message type is required")
	default:
		return errors.New("unknown message type " + string(msg.Type))
	}
	return nil
}
