// Package reorg detects chain reorganizations below the checkpoint and applies
// the configured policy.
package reorg

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/checkpoint"
	internalcommon "github.com/gordonmurray/eth-blockchain-pipeline/internal/common"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/logger"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/metrics"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/config"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/reorg"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/rpc"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/store"
)

var _ reorg.Guard = (*Guard)(nil)

// Store is the part of store.Store the guard needs.
type Store interface {
	TrackedBlocks(ctx context.Context) ([]store.TrackedBlock, error)
	Rewind(ctx context.Context, name string, height uint64, hash common.Hash) error
}

// Guard compares the chain served by the node with the tracked block window.
type Guard struct {
	policy         string
	checkpointName string
	store          Store
	rpc            rpc.EthClient
	log            *logger.Logger
	metrics        *metrics.Metrics
}

// NewGuard creates a guard applying cfg.Policy to the checkpoint named checkpointName.
func NewGuard(
	cfg config.ReorgConfig,
	checkpointName string,
	st Store,
	rpcClient rpc.EthClient,
	log *logger.Logger,
	m *metrics.Metrics,
) *Guard {
	g := &Guard{
		policy:         cfg.Policy,
		checkpointName: checkpointName,
		store:          st,
		rpc:            rpcClient,
		log:            log,
		metrics:        m,
	}

	if m != nil {
		m.ComponentHealthSet(internalcommon.ComponentReorg, true)
	}
	g.log.Infow("reorg guard initialized", "policy", g.policy, "track_blocks", cfg.TrackBlocks)

	return g
}

// Enabled implements reorg.Guard.
func (g *Guard) Enabled() bool {
	return g.policy != config.ReorgPolicyOff
}

// Verify implements reorg.Guard. A checkpoint without a known hash always links.
func (g *Guard) Verify(
	ctx context.Context,
	cp checkpoint.Checkpoint,
	first *types.Header,
) (*checkpoint.Checkpoint, error) {
	if !g.Enabled() || cp.Fresh || cp.Hash == (common.Hash{}) || first == nil {
		return nil, nil
	}
	if first.ParentHash == cp.Hash {
		return nil, nil
	}

	g.log.Warnw("range does not link to checkpoint",
		"checkpoint", cp.Height,
		"checkpoint_hash", cp.Hash.Hex(),
		"block", first.Number.Uint64(),
		"parent_hash", first.ParentHash.Hex(),
	)
	if g.metrics != nil {
		g.metrics.ReorgsDetected.Inc()
	}

	ancestor, err := g.findCommonAncestor(ctx)
	if err != nil {
		if g.metrics != nil {
			g.metrics.ComponentHealthSet(internalcommon.ComponentReorg, false)
		}
		return nil, err
	}

	detected := NewReorgError(ancestor.Number+1, fmt.Sprintf("checkpoint_hash=%s parent_hash=%s common_ancestor=%d",
		cp.Hash.Hex(), first.ParentHash.Hex(), ancestor.Number))

	if g.policy != config.ReorgPolicyRewind {
		g.log.Errorw("reorg detected, halting; reset the checkpoint to resume",
			"first_reorg_block", ancestor.Number+1,
			"checkpoint", cp.Height,
		)
		if g.metrics != nil {
			g.metrics.ComponentHealthSet(internalcommon.ComponentReorg, false)
		}
		return nil, fmt.Errorf("%w: %w", ErrReorgHalted, detected)
	}

	if err := g.store.Rewind(ctx, g.checkpointName, ancestor.Number, ancestor.Hash); err != nil {
		return nil, fmt.Errorf("failed to rewind to block %d after %w: %w", ancestor.Number, detected, err)
	}

	g.log.Warnw("rewound indexed data after reorg",
		"first_reorg_block", ancestor.Number+1,
		"checkpoint", ancestor.Number,
		"dropped_blocks", cp.Height-ancestor.Number,
	)

	return &checkpoint.Checkpoint{Height: ancestor.Number, Hash: ancestor.Hash}, nil
}

// findCommonAncestor returns the newest tracked block that is still canonical.
func (g *Guard) findCommonAncestor(ctx context.Context) (store.TrackedBlock, error) {
	tracked, err := g.store.TrackedBlocks(ctx)
	if err != nil {
		return store.TrackedBlock{}, fmt.Errorf("failed to load tracked blocks: %w", err)
	}

	head, err := g.rpc.BlockNumber(ctx)
	if err != nil {
		return store.TrackedBlock{}, fmt.Errorf("failed to get chain head: %w", err)
	}

	// The node may have fewer blocks than were tracked.
	candidates := make([]store.TrackedBlock, 0, len(tracked))
	blockNums := make([]uint64, 0, len(tracked))
	for _, b := range tracked {
		if b.Number <= head {
			candidates = append(candidates, b)
			blockNums = append(blockNums, b.Number)
		}
	}

	if len(candidates) == 0 {
		return store.TrackedBlock{}, fmt.Errorf("%w: %d tracked blocks, none at or below head %d",
			ErrReorgTooDeep, len(tracked), head)
	}

	headers, err := g.rpc.BatchGetBlockHeaders(ctx, blockNums)
	if err != nil {
		return store.TrackedBlock{}, fmt.Errorf("failed to fetch tracked block headers: %w", err)
	}

	for i, b := range candidates {
		if i < len(headers) && headers[i] != nil && headers[i].Hash() == b.Hash {
			return b, nil
		}
		g.log.Debugw("tracked block replaced", "block", b.Number, "tracked_hash", b.Hash.Hex())
	}

	oldest := candidates[len(candidates)-1].Number
	return store.TrackedBlock{}, fmt.Errorf("%w: no canonical block among %d tracked blocks down to %d",
		ErrReorgTooDeep, len(candidates), oldest)
}
