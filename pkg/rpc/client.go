package rpc

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// EthClient defines the interface for the ledger RPC operations the indexer needs.
// This abstraction allows for easier testing and alternative implementations.
type EthClient interface {
	// Close closes the RPC client connection.
	Close()

	// BlockNumber returns the current chain head height (eth_blockNumber).
	BlockNumber(ctx context.Context) (uint64, error)

	// GetLogs retrieves logs matching the given filter query.
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)

	// GetBlockHeader retrieves the header for a specific block number.
	GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error)

	// BatchGetBlockHeaders retrieves headers for multiple block numbers using batch calls.
	// The result has the same length and order as blockNums.
	BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error)
}
