package rpc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/metrics"
	pkgrpc "github.com/gordonmurray/eth-blockchain-pipeline/pkg/rpc"
)

// Compile-time check to ensure Client implements pkgrpc.EthClient interface.
var _ pkgrpc.EthClient = (*Client)(nil)

// maxHeaderBatch is the number of eth_getBlockByNumber calls sent in one batch request.
const maxHeaderBatch = 100

// Client wraps the Ethereum RPC client with convenience methods for indexing.
// Every call is bounded by the request timeout and recorded in the RPC metrics.
type Client struct {
	eth     *ethclient.Client
	rpc     *rpc.Client
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewClient creates a new RPC client connected to the given endpoint.
func NewClient(ctx context.Context, endpoint string, timeout time.Duration, m *metrics.Metrics) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}

	return NewClientWithRPC(rpcClient, timeout, m), nil
}

// NewClientWithRPC wraps an already connected go-ethereum RPC client.
func NewClientWithRPC(rpcClient *rpc.Client, timeout time.Duration, m *metrics.Metrics) *Client {
	return &Client{
		eth:     ethclient.NewClient(rpcClient),
		rpc:     rpcClient,
		timeout: timeout,
		metrics: m,
	}
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.eth.Close()
}

// BlockNumber returns the most recent block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.call(ctx, "eth_blockNumber", func(ctx context.Context) error {
		var err error
		head, err = c.eth.BlockNumber(ctx)
		return err
	})
	return head, err
}

// GetLogs retrieves logs matching the given filter query.
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.call(ctx, "eth_getLogs", func(ctx context.Context) error {
		var err error
		logs, err = c.eth.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

// GetBlockHeader retrieves the header for a specific block number.
func (c *Client) GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error) {
	var header *types.Header
	err := c.call(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		var err error
		header, err = c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNum))
		return err
	})
	return header, err
}

// BatchGetBlockHeaders retrieves headers for multiple block numbers in batch calls
// of at most maxHeaderBatch requests. A block unknown to the node yields ethereum.NotFound.
func (c *Client) BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error) {
	allResults := make([]*types.Header, 0, len(blockNums))

	for i := 0; i < len(blockNums); i += maxHeaderBatch {
		end := min(i+maxHeaderBatch, len(blockNums))
		chunk := blockNums[i:end]

		batch := make([]rpc.BatchElem, len(chunk))
		results := make([]*types.Header, len(chunk))

		for j, blockNum := range chunk {
			batch[j] = rpc.BatchElem{
				Method: "eth_getBlockByNumber",
				Args:   []any{toBlockNumArg(blockNum), false}, // false = don't include transactions
				Result: &results[j],
			}
		}

		err := c.call(ctx, "eth_getBlockByNumber_batch", func(ctx context.Context) error {
			if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
				return err
			}
			for j, elem := range batch {
				if elem.Error != nil {
					return fmt.Errorf("block %d: %w", chunk[j], elem.Error)
				}
				if results[j] == nil {
					return fmt.Errorf("block %d: %w", chunk[j], ethereum.NotFound)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		allResults = append(allResults, results...)
	}

	return allResults, nil
}

// call runs fn with the request timeout applied and records the outcome.
func (c *Client) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	if c.metrics != nil {
		c.metrics.RPCRequest(method, time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// toBlockNumArg converts a block number to hex format.
func toBlockNumArg(blockNum uint64) string {
	return fmt.Sprintf("0x%x", blockNum)
}
