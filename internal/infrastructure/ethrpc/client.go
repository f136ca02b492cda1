package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"ethledger/internal/domain"

	"golang.org/x/time/rate"
)

var (
	// ErrBlockNotFound is returned while the requested height is not mined yet.
	ErrBlockNotFound = domain.ErrBlockNotFound
	// ErrMalformedResponse marks responses that could not be decoded.
	ErrMalformedResponse = domain.ErrMalformedResponse

	errNullResult = errors.New("rpc result is null")
)

// Client is a minimal Ethereum JSON-RPC client. It is safe for concurrent use.
type Client struct {
	url        string
	httpClient *http.Client
	idCounter  uint64
	limiter    *rate.Limiter
}

type Config struct {
	URL     string
	Timeout time.Duration
	// RateLimit caps requests per second; zero disables limiting.
	RateLimit float64
	RateBurst int
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("rpc url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := &Client{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return client, nil
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &result); err != nil {
		return 0, err
	}
	value, err := parseHexUint(result)
	if err != nil {
		return 0, fmt.Errorf("%w: block number: %v", ErrMalformedResponse, err)
	}
	return value, nil
}

// FetchBlock returns block number with full transaction bodies, or
// ErrBlockNotFound when the node does not have it yet.
func (c *Client) FetchBlock(ctx context.Context, number uint64) (domain.ChainBlock, error) {
	var result rpcBlock
	err := c.call(ctx, "eth_getBlockByNumber", []any{formatHexUint(number), true}, &result)
	if errors.Is(err, errNullResult) {
		return domain.ChainBlock{}, ErrBlockNotFound
	}
	if err != nil {
		return domain.ChainBlock{}, err
	}
	block, err := result.toDomain()
	if err != nil {
		return domain.ChainBlock{}, fmt.Errorf("%w: block %d: %v", ErrMalformedResponse, number, err)
	}
	return block, nil
}

// FetchReceipt returns nil without error when the node has no receipt for
// txHash.
func (c *Client) FetchReceipt(ctx context.Context, txHash string) (*domain.Receipt, error) {
	var result rpcReceipt
	err := c.call(ctx, "eth_getTransactionReceipt", []any{txHash}, &result)
	if errors.Is(err, errNullResult) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	receipt, err := result.toDomain()
	if err != nil {
		return nil, fmt.Errorf("%w: receipt %s: %v", ErrMalformedResponse, txHash, err)
	}
	return &receipt, nil
}

type rpcBlock struct {
	Number       string           `json:"number"`
	Hash         string           `json:"hash"`
	Timestamp    string           `json:"timestamp"`
	Transactions []rpcTransaction `json:"transactions"`
}

type rpcTransaction struct {
	Hash  string  `json:"hash"`
	From  string  `json:"from"`
	To    *string `json:"to"`
	Value string  `json:"value"`
	Input string  `json:"input"`
}

type rpcReceipt struct {
	TxHash      string   `json:"transactionHash"`
	BlockNumber string   `json:"blockNumber"`
	BlockHash   string   `json:"blockHash"`
	Status      string   `json:"status"`
	Logs        []rpcLog `json:"logs"`
}

type rpcLog struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	TxHash      string   `json:"transactionHash"`
	LogIndex    string   `json:"logIndex"`
}

func (b rpcBlock) toDomain() (domain.ChainBlock, error) {
	number, err := parseHexUint(b.Number)
	if err != nil {
		return domain.ChainBlock{}, err
	}
	timestamp, err := parseHexUint(b.Timestamp)
	if err != nil {
		return domain.ChainBlock{}, err
	}
	txs := make([]domain.ChainTransaction, 0, len(b.Transactions))
	for _, tx := range b.Transactions {
		value, err := parseHexBig(tx.Value)
		if err != nil {
			return domain.ChainBlock{}, fmt.Errorf("tx %s value: %w", tx.Hash, err)
		}
		var to string
		if tx.To != nil {
			to = *tx.To
		}
		txs = append(txs, domain.ChainTransaction{
			Hash:  tx.Hash,
			From:  tx.From,
			To:    to,
			Value: value,
			Input: tx.Input,
		})
	}
	return domain.ChainBlock{
		Number:       number,
		Hash:         b.Hash,
		Timestamp:    time.Unix(int64(timestamp), 0).UTC(),
		Transactions: txs,
	}, nil
}

func (r rpcReceipt) toDomain() (domain.Receipt, error) {
	receipt := domain.Receipt{
		TxHash:    r.TxHash,
		BlockHash: r.BlockHash,
		Logs:      make([]domain.ReceiptLog, 0, len(r.Logs)),
	}
	var err error
	if r.BlockNumber != "" {
		if receipt.BlockNumber, err = parseHexUint(r.BlockNumber); err != nil {
			return domain.Receipt{}, err
		}
	}
	if r.Status != "" {
		if receipt.Status, err = parseHexUint(r.Status); err != nil {
			return domain.Receipt{}, err
		}
	}
	for _, log := range r.Logs {
		entry := domain.ReceiptLog{
			BlockNumber: receipt.BlockNumber,
			TxHash:      log.TxHash,
			Address:     strings.ToLower(log.Address),
			Data:        log.Data,
			Topics:      log.Topics,
		}
		if log.LogIndex != "" {
			if entry.LogIndex, err = parseHexUint(log.LogIndex); err != nil {
				return domain.Receipt{}, err
			}
		}
		receipt.Logs = append(receipt.Logs, entry)
	}
	return receipt, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	id := atomic.AddUint64(&c.idCounter, 1)
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: rpc status %d", method, resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, method, err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("%s: %w", method, decoded.Error)
	}
	if result == nil {
		return nil
	}
	if len(decoded.Result) == 0 {
		return fmt.Errorf("%w: %s: result is empty", ErrMalformedResponse, method)
	}
	if bytes.Equal(decoded.Result, []byte("null")) {
		return errNullResult
	}
	if err := json.Unmarshal(decoded.Result, result); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, method, err)
	}
	return nil
}

func parseHexUint(value string) (uint64, error) {
	trimmed := strings.TrimPrefix(value, "0x")
	if trimmed == "" {
		return 0, errors.New("empty hex value")
	}
	return strconv.ParseUint(trimmed, 16, 64)
}

func parseHexBig(value string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(value, "0x")
	if trimmed == "" {
		return new(big.Int), nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", value)
	}
	return parsed, nil
}

func formatHexUint(value uint64) string {
	return fmt.Sprintf("0x%x", value)
}
