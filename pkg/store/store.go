// Package store defines the persistence contract of the indexer.
package store

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Store persists raw logs, decoded purchases, checkpoints and the tracked
// block window. Implementations must make WriteBatch, Rewind and
// ResetCheckpoint atomic.
type Store interface {
	// WriteBatch inserts the batch entries in a single transaction. Rows whose
	// (tx hash, log index) already exist are skipped.
	WriteBatch(ctx context.Context, batch *Batch) (WriteResult, error)

	// GetCheckpoint returns the named checkpoint, or nil when none was stored.
	GetCheckpoint(ctx context.Context, name string) (*Checkpoint, error)

	// SetCheckpoint moves the named checkpoint forward. A height lower than the
	// stored one fails with ErrCheckpointRegression.
	SetCheckpoint(ctx context.Context, name string, height uint64, hash common.Hash) error

	// ResetCheckpoint sets the named checkpoint to height unconditionally and
	// drops tracked blocks above it. Indexed data is left in place.
	ResetCheckpoint(ctx context.Context, name string, height uint64) error

	// Rewind deletes raw logs, purchases and tracked blocks above height and
	// resets the named checkpoint to height.
	Rewind(ctx context.Context, name string, height uint64, hash common.Hash) error

	// TrackedBlocks returns the tracked block window, newest first.
	TrackedBlocks(ctx context.Context) ([]TrackedBlock, error)

	// RawLogs returns the raw logs in [fromBlock, toBlock] ordered by block
	// number and log index.
	RawLogs(ctx context.Context, fromBlock, toBlock uint64) ([]RawLog, error)

	// QueryPurchases returns purchases matching filter ordered by block number
	// and log index.
	QueryPurchases(ctx context.Context, filter PurchaseFilter) ([]*Purchase, error)

	// Stats returns summary counts of the stored data.
	Stats(ctx context.Context) (Stats, error)

	// Close releases the underlying connections.
	Close() error
}
