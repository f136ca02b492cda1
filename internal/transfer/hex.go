package transfer

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const addressHexLen = 40

// amountSuffixLen is the number of trailing call data hex characters holding
// the transfer amount. Only the low 12 bytes of the uint256 word are read, so
// amounts of 2^96 and above are truncated.
const amountSuffixLen = 24

var (
	ErrInvalidHex   = errors.New("invalid hex value")
	ErrShortInput   = errors.New("call data too short for amount")
	ErrWideTopic    = errors.New("topic does not hold a 20 byte address")
	zeroAddressBody = strings.Repeat("0", addressHexLen)
)

// TrimHexZeros returns hx without leading zero nibbles, always 0x-prefixed.
// A zero value collapses to "0x0", or to the 40 zero nibble address when
// asAddress is set. Addresses shorter than 40 nibbles are re-padded on the
// left.
func TrimHexZeros(hx string, asAddress bool) (string, error) {
	body := strip0x(hx)
	for i := 0; i < len(body); i++ {
		if !isHexDigit(body[i]) {
			return "", fmt.Errorf("%w: %q", ErrInvalidHex, hx)
		}
	}
	body = strings.TrimLeft(body, "0")
	if body == "" {
		if asAddress {
			return "0x" + zeroAddressBody, nil
		}
		return "0x0", nil
	}
	if asAddress && len(body) < addressHexLen {
		body = zeroAddressBody[:addressHexLen-len(body)] + body
	}
	return "0x" + body, nil
}

// AddressFromTopic recovers a checksummed address from a 32 byte, left zero
// padded log topic.
func AddressFromTopic(topic string) (string, error) {
	trimmed, err := TrimHexZeros(topic, true)
	if err != nil {
		return "", err
	}
	if len(trimmed)-2 > addressHexLen {
		return "", fmt.Errorf("%w: %s", ErrWideTopic, topic)
	}
	return common.HexToAddress(trimmed).Hex(), nil
}

// AddressTopic encodes an address the way indexed event arguments are
// stored: left padded to 32 bytes.
func AddressTopic(address string) string {
	return common.BytesToHash(common.HexToAddress(address).Bytes()).Hex()
}

// AmountFromInput reads the raw token amount from the tail of transfer call
// data.
func AmountFromInput(input string) (*big.Int, error) {
	body := strip0x(input)
	if len(body) < amountSuffixLen {
		return nil, fmt.Errorf("%w: %d hex chars", ErrShortInput, len(body))
	}
	trimmed, err := TrimHexZeros(body[len(body)-amountSuffixLen:], false)
	if err != nil {
		return nil, err
	}
	amount, ok := new(big.Int).SetString(strip0x(trimmed), 16)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHex, trimmed)
	}
	return amount, nil
}

// ChecksumAddress applies EIP-55 casing. Empty input (contract creation
// recipients) stays empty.
func ChecksumAddress(address string) string {
	if strings.TrimSpace(address) == "" {
		return ""
	}
	return common.HexToAddress(address).Hex()
}

func strip0x(value string) string {
	if len(value) >= 2 && value[0] == '0' && (value[1] == 'x' || value[1] == 'X') {
		return value[2:]
	}
	return value
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
