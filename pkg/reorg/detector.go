package reorg

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/checkpoint"
)

// Guard verifies that a newly fetched range extends the indexed chain.
type Guard interface {
	// Enabled reports whether linkage checks are performed at all.
	Enabled() bool

	// Verify checks that first, the header of the first block of the range,
	// links to cp. It returns the checkpoint to continue from when the indexed
	// data was rewound, nil when the chain links, or an error.
	Verify(ctx context.Context, cp checkpoint.Checkpoint, first *types.Header) (*checkpoint.Checkpoint, error)
}
