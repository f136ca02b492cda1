package ethrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	mu        sync.Mutex
	responses map[string]string
	calls     map[string]int
}

func newFakeNode(t *testing.T, responses map[string]string) (*Client, *fakeNode) {
	t.Helper()
	node := &fakeNode{responses: responses, calls: make(map[string]int)}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		node.mu.Lock()
		node.calls[req.Method]++
		body, ok := node.responses[req.Method]
		node.mu.Unlock()
		if !ok {
			http.Error(w, "unexpected method", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{URL: server.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)
	return client, node
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestLatestBlockNumber(t *testing.T) {
	client, _ := newFakeNode(t, map[string]string{
		"eth_blockNumber": `{"jsonrpc":"2.0","id":1,"result":"0x10d4f"}`,
	})
	got, err := client.LatestBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(68943), got)
}

func TestFetchBlock(t *testing.T) {
	client, _ := newFakeNode(t, map[string]string{
		"eth_getBlockByNumber": `{"jsonrpc":"2.0","id":1,"result":{
			"number":"0x64","hash":"0xblock","timestamp":"0x5f5e1000",
			"transactions":[
				{"hash":"0xaa","from":"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed","to":"0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359","value":"0xde0b6b3a7640000","input":"0x"},
				{"hash":"0xbb","from":"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed","to":null,"value":"0x0","input":"0x6080"}
			]}}`,
	})

	block, err := client.FetchBlock(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), block.Number)
	assert.Equal(t, "0xblock", block.Hash)
	assert.Equal(t, time.Unix(0x5f5e1000, 0).UTC(), block.Timestamp)
	require.Len(t, block.Transactions, 2)
	assert.Equal(t, "1000000000000000000", block.Transactions[0].Value.String())
	assert.Equal(t, "", block.Transactions[1].To)
	assert.Equal(t, "0x6080", block.Transactions[1].Input)
}

func TestFetchBlockNotMined(t *testing.T) {
	client, _ := newFakeNode(t, map[string]string{
		"eth_getBlockByNumber": `{"jsonrpc":"2.0","id":1,"result":null}`,
	})
	_, err := client.FetchBlock(context.Background(), 100)
	assert.ErrorIs(t, err, ErrBlockNotFound)
}

func TestFetchBlockRPCErrorIsNotNotFound(t *testing.T) {
	client, _ := newFakeNode(t, map[string]string{
		"eth_getBlockByNumber": `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"header not found"}}`,
	})
	_, err := client.FetchBlock(context.Background(), 100)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBlockNotFound)

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32000, rpcErr.Code)
}

func TestFetchReceipt(t *testing.T) {
	client, _ := newFakeNode(t, map[string]string{
		"eth_getTransactionReceipt": `{"jsonrpc":"2.0","id":1,"result":{
			"transactionHash":"0xaa","blockNumber":"0x64","blockHash":"0xblock","status":"0x1",
			"logs":[{"address":"0xDBF03B407C01E7CD3CBEA99509D93F8DDDC8C6FB","topics":["0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef","0x01","0x02"],"data":"0x","logIndex":"0x3","transactionHash":"0xaa"}]}}`,
	})

	receipt, err := client.FetchReceipt(context.Background(), "0xaa")
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, uint64(1), receipt.Status)
	require.Len(t, receipt.Logs, 1)
	assert.Equal(t, uint64(3), receipt.Logs[0].LogIndex)
	assert.Equal(t, uint64(100), receipt.Logs[0].BlockNumber)
	assert.Equal(t, "0xdbf03b407c01e7cd3cbea99509d93f8dddc8c6fb", receipt.Logs[0].Address)
	assert.Len(t, receipt.Logs[0].Topics, 3)
}

func TestFetchReceiptAbsent(t *testing.T) {
	client, _ := newFakeNode(t, map[string]string{
		"eth_getTransactionReceipt": `{"jsonrpc":"2.0","id":1,"result":null}`,
	})
	receipt, err := client.FetchReceipt(context.Background(), "0xaa")
	require.NoError(t, err)
	assert.Nil(t, receipt)
}

func TestMalformedResponses(t *testing.T) {
	tests := map[string]string{
		"broken envelope": `{"jsonrpc":"2.0","id":1,"result":`,
		"wrong shape":     `{"jsonrpc":"2.0","id":1,"result":"0x1"}`,
		"bad hex field":   `{"jsonrpc":"2.0","id":1,"result":{"transactionHash":"0xaa","status":"0xzz","logs":[]}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			client, _ := newFakeNode(t, map[string]string{"eth_getTransactionReceipt": body})
			_, err := client.FetchReceipt(context.Background(), "0xaa")
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestHTTPStatusIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{URL: server.URL})
	require.NoError(t, err)
	_, err = client.FetchReceipt(context.Background(), "0xaa")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedResponse)
	assert.Contains(t, err.Error(), "502")
}

func TestRateLimitedClientStillServes(t *testing.T) {
	client, node := newFakeNode(t, map[string]string{
		"eth_blockNumber": `{"jsonrpc":"2.0","id":1,"result":"0x1"}`,
	})
	limited, err := NewClient(Config{URL: client.url, RateLimit: 1000, RateBurst: 2})
	require.NoError(t, err)
	require.NotNil(t, limited.limiter)

	for i := 0; i < 3; i++ {
		_, err := limited.LatestBlockNumber(context.Background())
		require.NoError(t, err)
	}
	node.mu.Lock()
	defer node.mu.Unlock()
	assert.Equal(t, 3, node.calls["eth_blockNumber"])
}
