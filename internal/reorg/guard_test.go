package reorg_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/gordonmurray/eth-blockchain-pipeline/internal/checkpoint"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/logger"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/metrics"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/reorg"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/rpc/rpctest"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/store/sqlite"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/store/storetest"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/config"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const checkpointName = "purchase_indexer"

type fixture struct {
	chain   *rpctest.Chain
	store   *sqlite.Store
	metrics *metrics.Metrics
}

// setupFixture indexes blocks [from, to] of a chain with head 30: one purchase
// per block, every block tracked, checkpoint at to.
func setupFixture(t *testing.T, from, to uint64) *fixture {
	t.Helper()
	ctx := context.Background()

	cfg := config.StorageConfig{DSN: filepath.Join(t.TempDir(), "reorg.db")}
	cfg.ApplyDefaults()
	st, err := sqlite.New(cfg.SQLitePath(), cfg, logger.NewNopLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	chain := rpctest.NewChain(30)

	batch := &store.Batch{FromBlock: from, ToBlock: to}
	for n := from; n <= to; n++ {
		batch.Entries = append(batch.Entries, storetest.NewEntry(n, 0, &storetest.Buyer, int64(n)))
		h := chain.Header(n)
		batch.Blocks = append(batch.Blocks, store.TrackedBlock{Number: n, Hash: h.Hash(), ParentHash: h.ParentHash})
	}
	_, err = st.WriteBatch(ctx, batch)
	require.NoError(t, err)
	require.NoError(t, st.SetCheckpoint(ctx, checkpointName, to, chain.Header(to).Hash()))

	return &fixture{chain: chain, store: st, metrics: metrics.New()}
}

func (f *fixture) guard(policy string) *reorg.Guard {
	cfg := config.ReorgConfig{Policy: policy}
	cfg.ApplyDefaults()
	return reorg.NewGuard(cfg, checkpointName, f.store, f.chain, logger.NewNopLogger(), f.metrics)
}

func (f *fixture) checkpoint(t *testing.T) checkpoint.Checkpoint {
	t.Helper()
	cp, err := checkpoint.New(f.store, checkpointName, 0, logger.NewNopLogger()).Get(context.Background())
	require.NoError(t, err)
	return cp
}

func TestGuard_Verify_Linked(t *testing.T) {
	f := setupFixture(t, 1, 10)
	g := f.guard(config.ReorgPolicyHalt)

	rewound, err := g.Verify(context.Background(), f.checkpoint(t), f.chain.Header(11))
	require.NoError(t, err)
	require.Nil(t, rewound)

	require.Zero(t, f.chain.Calls(rpctest.MethodBlockNumber))
	require.Zero(t, testutil.ToFloat64(f.metrics.ReorgsDetected))
}

func TestGuard_Verify_SkipsUnknownHash(t *testing.T) {
	f := setupFixture(t, 1, 10)
	g := f.guard(config.ReorgPolicyHalt)
	f.chain.Reorg(5)

	tests := []struct {
		name string
		cp   checkpoint.Checkpoint
	}{
		{name: "fresh checkpoint", cp: checkpoint.Checkpoint{Height: 10, Fresh: true}},
		{name: "checkpoint after reset", cp: checkpoint.Checkpoint{Height: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rewound, err := g.Verify(context.Background(), tt.cp, f.chain.Header(11))
			require.NoError(t, err)
			require.Nil(t, rewound)
		})
	}
}

func TestGuard_Verify_Halt(t *testing.T) {
	f := setupFixture(t, 1, 10)
	g := f.guard(config.ReorgPolicyHalt)
	require.True(t, g.Enabled())

	f.chain.Reorg(8)

	rewound, err := g.Verify(context.Background(), f.checkpoint(t), f.chain.Header(11))
	require.Nil(t, rewound)
	require.ErrorIs(t, err, reorg.ErrReorgHalted)

	var detected *reorg.ReorgDetectedError
	require.True(t, errors.As(err, &detected))
	require.Equal(t, uint64(8), detected.FirstReorgBlock)

	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ReorgsDetected))

	// Nothing was deleted and the checkpoint did not move.
	cp := f.checkpoint(t)
	require.Equal(t, uint64(10), cp.Height)
	logs, err := f.store.RawLogs(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, logs, 10)
}

func TestGuard_Verify_Rewind(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, 1, 10)
	g := f.guard(config.ReorgPolicyRewind)

	f.chain.Reorg(8)

	rewound, err := g.Verify(ctx, f.checkpoint(t), f.chain.Header(11))
	require.NoError(t, err)
	require.NotNil(t, rewound)
	require.Equal(t, uint64(7), rewound.Height)
	require.Equal(t, f.chain.Header(7).Hash(), rewound.Hash)

	cp := f.checkpoint(t)
	require.Equal(t, uint64(7), cp.Height)
	require.Equal(t, f.chain.Header(7).Hash(), cp.Hash)

	logs, err := f.store.RawLogs(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, logs, 7)

	tracked, err := f.store.TrackedBlocks(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(7), tracked[0].Number)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(7), stats.Purchases)

	// The next range now links.
	again, err := g.Verify(ctx, cp, f.chain.Header(8))
	require.NoError(t, err)
	require.Nil(t, again)
}

func TestGuard_Verify_TooDeep(t *testing.T) {
	f := setupFixture(t, 5, 10)
	g := f.guard(config.ReorgPolicyRewind)

	f.chain.Reorg(3)

	rewound, err := g.Verify(context.Background(), f.checkpoint(t), f.chain.Header(11))
	require.Nil(t, rewound)
	require.ErrorIs(t, err, reorg.ErrReorgTooDeep)
	require.Equal(t, uint64(10), f.checkpoint(t).Height)
}

func TestGuard_Verify_Off(t *testing.T) {
	f := setupFixture(t, 1, 10)
	g := f.guard(config.ReorgPolicyOff)
	require.False(t, g.Enabled())

	f.chain.Reorg(8)

	rewound, err := g.Verify(context.Background(), f.checkpoint(t), f.chain.Header(11))
	require.NoError(t, err)
	require.Nil(t, rewound)
	require.Zero(t, f.chain.Calls(rpctest.MethodGetBlockByNumber))
}

func TestGuard_Verify_RPCFailure(t *testing.T) {
	f := setupFixture(t, 1, 10)
	g := f.guard(config.ReorgPolicyHalt)

	f.chain.Reorg(8)
	rpcErr := errors.New("connection reset by peer")
	f.chain.FailNext(rpctest.MethodGetBlockByNumber, rpcErr)

	_, err := g.Verify(context.Background(), f.checkpoint(t), f.chain.Header(11))
	require.ErrorIs(t, err, rpcErr)
	require.NotErrorIs(t, err, reorg.ErrReorgHalted)
}

func TestReorgDetectedError(t *testing.T) {
	err := reorg.NewReorgError(42, "hash mismatch")
	require.EqualError(t, err, "reorg detected at block 42: hash mismatch")

	wrapped := errors.Join(reorg.ErrReorgHalted, err)
	var detected *reorg.ReorgDetectedError
	require.True(t, errors.As(wrapped, &detected))
	require.Equal(t, uint64(42), detected.FirstReorgBlock)
}
