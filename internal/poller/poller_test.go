package poller_test

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/checkpoint"
	internalcommon "github.com/gordonmurray/eth-blockchain-pipeline/internal/common"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/decoder"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/fetcher"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/logger"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/metrics"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/poller"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/reorg"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/rpc/rpctest"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/store/sqlite"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/config"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/store"
	storemocks "github.com/gordonmurray/eth-blockchain-pipeline/pkg/store/mocks"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const checkpointName = "purchase_indexer"

var (
	contract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	buyer    = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	price    = big.NewInt(5_000_000_000_000_000)
)

func fastRetry(attempts int) *config.RetryConfig {
	return &config.RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    internalcommon.NewDuration(time.Millisecond),
		MaxBackoff:        internalcommon.NewDuration(5 * time.Millisecond),
		BackoffMultiplier: 2,
	}
}

func word(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func purchaseLog(block uint64, productID int64) types.Log {
	data := append(word(price), word(big.NewInt(2))...)
	data = append(data, word(big.NewInt(1_700_000_000))...)

	return types.Log{
		Address:     contract,
		BlockNumber: block,
		Topics: []common.Hash{
			decoder.EventTopic,
			common.BytesToHash(buyer.Bytes()),
			common.BigToHash(big.NewInt(productID)),
		},
		Data: data,
	}
}

type harness struct {
	chain       *rpctest.Chain
	store       *sqlite.Store
	checkpoints *checkpoint.Store
	metrics     *metrics.Metrics
	cfg         poller.Config
	reorgCfg    config.ReorgConfig
}

func newHarness(t *testing.T, head uint64) *harness {
	t.Helper()

	storageCfg := config.StorageConfig{DSN: filepath.Join(t.TempDir(), "poller.db")}
	storageCfg.ApplyDefaults()
	st, err := sqlite.New(storageCfg.SQLitePath(), storageCfg, logger.NewNopLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reorgCfg := config.ReorgConfig{}
	reorgCfg.ApplyDefaults()

	return &harness{
		chain:       rpctest.NewChain(head),
		store:       st,
		checkpoints: checkpoint.New(st, checkpointName, 1, logger.NewNopLogger()),
		metrics:     metrics.New(),
		reorgCfg:    reorgCfg,
		cfg: poller.Config{
			PollInterval:      time.Hour,
			ConfirmationDepth: 2,
			MaxBlockRange:     100,
			StartBlock:        1,
			TrackBlocks:       64,
			WriteTimeout:      5 * time.Second,
			RPCRetry:          fastRetry(5),
			WriteRetry:        fastRetry(5),
		},
	}
}

func (h *harness) fetcher() *fetcher.LogFetcher {
	return fetcher.NewLogFetcher(fetcher.Config{Address: contract, Topic: decoder.EventTopic}, logger.NewNopLogger(), h.chain)
}

func (h *harness) poller() *poller.Poller {
	return h.pollerWith(h.fetcher(), h.store)
}

func (h *harness) pollerWith(f poller.Fetcher, w poller.Writer) *poller.Poller {
	guard := reorg.NewGuard(h.reorgCfg, checkpointName, h.store, h.chain, logger.NewNopLogger(), h.metrics)
	return poller.New(h.cfg, f, decoder.New(logger.NewNopLogger()), w, h.checkpoints, guard, logger.NewNopLogger(), h.metrics)
}

func (h *harness) checkpoint(t *testing.T) checkpoint.Checkpoint {
	t.Helper()
	cp, err := h.checkpoints.Get(context.Background())
	require.NoError(t, err)
	return cp
}

func (h *harness) purchases(t *testing.T) []*store.Purchase {
	t.Helper()
	purchases, err := h.store.QueryPurchases(context.Background(), store.PurchaseFilter{Limit: 1000})
	require.NoError(t, err)
	return purchases
}

// staticFetcher serves a fixed result built from chain headers.
type staticFetcher struct {
	head  uint64
	logs  []store.RawLog
	chain *rpctest.Chain
	err   error
	calls int
}

func (f *staticFetcher) Head(context.Context) (uint64, error) {
	return f.head, nil
}

func (f *staticFetcher) Fetch(_ context.Context, from, to uint64) (*fetcher.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	result := &fetcher.Result{FromBlock: from, ToBlock: to, Logs: f.logs}
	for n := from; n <= to; n++ {
		result.Headers = append(result.Headers, f.chain.Header(n))
	}
	return result, nil
}

// flakyWriter fails the first failures writes.
type flakyWriter struct {
	poller.Writer
	failures int
	calls    int
}

func (w *flakyWriter) WriteBatch(ctx context.Context, batch *store.Batch) (store.WriteResult, error) {
	w.calls++
	if w.calls <= w.failures {
		return store.WriteResult{}, &store.WriteError{Op: "write batch", Err: errors.New("database is locked")}
	}
	return w.Writer.WriteBatch(ctx, batch)
}

func TestPoller_RunCycle_IndexesPurchases(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 20)
	h.chain.AddLog(purchaseLog(3, 1))
	h.chain.AddLog(purchaseLog(7, 2))
	h.chain.AddLog(purchaseLog(7, 3))
	// Beyond the confirmed head.
	h.chain.AddLog(purchaseLog(19, 4))

	p := h.poller()
	result, err := p.RunCycle(ctx)
	require.NoError(t, err)
	require.True(t, result.HasRange)
	require.Equal(t, poller.Range{From: 1, To: 18}, result.Range)
	require.Equal(t, uint64(20), result.Head)
	require.Equal(t, 3, result.Logs)
	require.Equal(t, 3, result.RawLogsInserted)
	require.Equal(t, 3, result.PurchasesInserted)
	require.Zero(t, result.DecodeErrors)
	require.True(t, result.CaughtUp)

	cp := h.checkpoint(t)
	require.False(t, cp.Fresh)
	require.Equal(t, uint64(18), cp.Height)
	require.Equal(t, h.chain.Header(18).Hash(), cp.Hash)

	purchases := h.purchases(t)
	require.Len(t, purchases, 3)
	first := purchases[0]
	require.Equal(t, buyer, first.Buyer)
	require.Equal(t, big.NewInt(1), first.ProductID)
	require.Equal(t, "5000000000000000", first.Price.String())
	require.Equal(t, uint64(2), first.Quantity)
	require.Equal(t, uint64(1_700_000_000), first.Timestamp)
	require.Equal(t, uint64(3), first.BlockNumber)

	require.Equal(t, float64(3), testutil.ToFloat64(h.metrics.PurchasesIndexed))
	require.Equal(t, float64(3), testutil.ToFloat64(h.metrics.EventsIndexed))
	require.Equal(t, float64(18), testutil.ToFloat64(h.metrics.BlocksProcessed))
	require.Equal(t, float64(18), testutil.ToFloat64(h.metrics.CurrentBlock))
	require.Equal(t, float64(20), testutil.ToFloat64(h.metrics.ChainHead))
	require.Equal(t, float64(2), testutil.ToFloat64(h.metrics.LagBlocks))

	status := p.Status()
	require.Equal(t, uint64(18), status.Checkpoint)
	require.Equal(t, uint64(20), status.Head)
	require.Equal(t, uint64(2), status.Lag())
	require.Equal(t, uint64(1), status.Cycles)
	require.Empty(t, status.LastError)
}

func TestPoller_RunCycle_Idempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 20)
	h.chain.AddLog(purchaseLog(3, 1))
	h.chain.AddLog(purchaseLog(9, 2))

	_, err := h.poller().RunCycle(ctx)
	require.NoError(t, err)

	// Reprocess the same range from scratch.
	require.NoError(t, h.checkpoints.Reset(ctx, 0))

	result, err := h.poller().RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, result.Logs)
	require.Zero(t, result.RawLogsInserted)
	require.Zero(t, result.PurchasesInserted)

	stats, err := h.store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), stats.RawLogs)
	require.Equal(t, uint64(2), stats.Purchases)
	require.Equal(t, uint64(18), h.checkpoint(t).Height)
}

func TestPoller_RunCycle_EmptyRange(t *testing.T) {
	ctx := context.Background()

	t.Run("head below confirmations", func(t *testing.T) {
		h := newHarness(t, 1)
		p := h.poller()

		result, err := p.RunCycle(ctx)
		require.NoError(t, err)
		require.False(t, result.HasRange)
		require.True(t, result.CaughtUp)
		require.Zero(t, h.chain.Calls(rpctest.MethodGetLogs))

		cp := h.checkpoint(t)
		require.True(t, cp.Fresh)
		require.Positive(t, testutil.ToFloat64(h.metrics.LastCycle))
	})

	t.Run("caught up", func(t *testing.T) {
		h := newHarness(t, 10)
		p := h.poller()

		_, err := p.RunCycle(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, h.chain.Calls(rpctest.MethodGetLogs))

		result, err := p.RunCycle(ctx)
		require.NoError(t, err)
		require.False(t, result.HasRange)
		require.Equal(t, 1, h.chain.Calls(rpctest.MethodGetLogs))
		require.Equal(t, uint64(8), h.checkpoint(t).Height)

		stats, err := h.store.Stats(ctx)
		require.NoError(t, err)
		require.Zero(t, stats.RawLogs)
		require.Equal(t, uint64(2), p.Status().Cycles)
	})
}

func TestPoller_RunCycle_NonMatchingLogStoredRawOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)

	matching := purchaseLog(4, 1)
	matching = h.chain.AddLog(matching)

	other := purchaseLog(5, 2)
	other.Topics[0] = common.HexToHash("0x1234")
	other = h.chain.AddLog(other)

	truncated := purchaseLog(6, 3)
	truncated.Data = truncated.Data[:64]
	truncated = h.chain.AddLog(truncated)

	toRaw := func(l types.Log) store.RawLog {
		return store.RawLog{
			BlockNumber: l.BlockNumber,
			BlockHash:   l.BlockHash,
			TxHash:      l.TxHash,
			LogIndex:    l.Index,
			Address:     l.Address,
			Topics:      l.Topics,
			Data:        l.Data,
		}
	}

	f := &staticFetcher{
		head:  10,
		chain: h.chain,
		logs:  []store.RawLog{toRaw(matching), toRaw(other), toRaw(truncated)},
	}

	result, err := h.pollerWith(f, h.store).RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, result.RawLogsInserted)
	require.Equal(t, 1, result.PurchasesInserted)
	require.Equal(t, 1, result.DecodeErrors)
	require.Equal(t, float64(1), testutil.ToFloat64(h.metrics.DecodeErrors))

	purchases := h.purchases(t)
	require.Len(t, purchases, 1)
	require.Equal(t, matching.TxHash, purchases[0].TxHash)
}

func TestPoller_RunCycle_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 20)
	h.chain.AddLog(purchaseLog(5, 1))
	h.chain.FailNext(rpctest.MethodGetLogs, syscall.ECONNRESET, syscall.ECONNREFUSED, errors.New("503 service unavailable"))

	p := h.poller()
	result, err := p.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.PurchasesInserted)

	require.Equal(t, 4, h.chain.Calls(rpctest.MethodGetLogs))
	require.Equal(t, float64(3), testutil.ToFloat64(h.metrics.Retries.WithLabelValues("fetch")))
	require.Len(t, h.purchases(t), 1)
	require.Equal(t, uint64(18), h.checkpoint(t).Height)
	require.Equal(t, uint64(1), p.Status().Cycles)
}

func TestPoller_RunCycle_DefersAfterRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 20)
	h.cfg.RPCRetry = fastRetry(3)
	h.chain.AddLog(purchaseLog(5, 1))
	h.chain.FailNext(rpctest.MethodGetLogs, syscall.ECONNRESET, syscall.ECONNRESET, syscall.ECONNRESET)

	p := h.poller()
	_, err := p.RunCycle(ctx)
	require.Error(t, err)
	require.False(t, poller.IsFatal(err))
	require.ErrorIs(t, err, syscall.ECONNRESET)

	var stageErr *poller.StageError
	require.True(t, errors.As(err, &stageErr))
	require.Equal(t, poller.StateFetch, stageErr.Stage)

	require.True(t, h.checkpoint(t).Fresh)
	require.Empty(t, h.purchases(t))
	require.NotEmpty(t, p.Status().LastError)

	// The next cycle picks up the same range.
	result, err := p.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, poller.Range{From: 1, To: 18}, result.Range)
	require.Len(t, h.purchases(t), 1)
	require.Empty(t, p.Status().LastError)
}

func TestPoller_RunCycle_MalformedResponseNotRetried(t *testing.T) {
	h := newHarness(t, 20)
	f := &staticFetcher{
		head:  20,
		chain: h.chain,
		err:   &fetcher.MalformedResponseError{FromBlock: 1, ToBlock: 18, Reason: "log 0x503/1 is marked removed"},
	}

	_, err := h.pollerWith(f, h.store).RunCycle(context.Background())
	require.Error(t, err)
	require.False(t, poller.IsFatal(err))

	var malformed *fetcher.MalformedResponseError
	require.True(t, errors.As(err, &malformed))
	require.Equal(t, 1, f.calls)
	require.True(t, h.checkpoint(t).Fresh)
}

func TestPoller_RunCycle_RetriesWrites(t *testing.T) {
	h := newHarness(t, 20)
	h.chain.AddLog(purchaseLog(5, 1))
	w := &flakyWriter{Writer: h.store, failures: 2}

	result, err := h.pollerWith(h.fetcher(), w).RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.PurchasesInserted)
	require.Equal(t, 3, w.calls)
	require.Equal(t, float64(2), testutil.ToFloat64(h.metrics.Retries.WithLabelValues("write")))
	require.Equal(t, uint64(18), h.checkpoint(t).Height)
}

func TestPoller_Run_CatchesUpWithoutSleeping(t *testing.T) {
	h := newHarness(t, 40)
	h.cfg.MaxBlockRange = 5
	h.cfg.ConfirmationDepth = 0
	for _, n := range []uint64{2, 11, 23, 39} {
		h.chain.AddLog(purchaseLog(n, int64(n)))
	}

	p := h.poller()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		return p.Status().Checkpoint == 40
	}, 10*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return p.Status().State == poller.StateSleep
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}

	require.Len(t, h.purchases(t), 4)
	require.Equal(t, uint64(40), h.checkpoint(t).Height)
	require.Equal(t, poller.StateIdle, p.Status().State)
	require.False(t, p.Status().Running)
}

func TestPoller_Run_CheckpointUnavailable(t *testing.T) {
	h := newHarness(t, 10)

	backend := storemocks.NewStore(t)
	backend.EXPECT().GetCheckpoint(mock.Anything, checkpointName).Return(nil, errors.New("unable to open database file")).Once()
	h.checkpoints = checkpoint.New(backend, checkpointName, 1, logger.NewNopLogger())

	p := h.poller()
	err := p.Run(context.Background())
	require.ErrorIs(t, err, checkpoint.ErrUnavailable)
	require.True(t, poller.IsFatal(err))
	require.NotEmpty(t, p.Status().LastError)
}

func TestPoller_RunCycle_CheckpointCallsHaveDeadline(t *testing.T) {
	h := newHarness(t, 10)
	h.cfg.WriteTimeout = time.Minute

	hasDeadline := mock.MatchedBy(func(ctx context.Context) bool {
		deadline, ok := ctx.Deadline()
		return ok && time.Until(deadline) <= time.Minute
	})

	backend := storemocks.NewStore(t)
	backend.EXPECT().GetCheckpoint(hasDeadline, checkpointName).Return(nil, nil).Once()
	backend.EXPECT().SetCheckpoint(hasDeadline, checkpointName, uint64(8), h.chain.Header(8).Hash()).Return(nil).Once()
	h.checkpoints = checkpoint.New(backend, checkpointName, 1, logger.NewNopLogger())

	result, err := h.poller().RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(8), result.Range.To)
}

func TestPoller_Run_HaltsOnReorg(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 20)
	h.chain.AddLog(purchaseLog(16, 1))

	_, err := h.poller().RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(18), h.checkpoint(t).Height)

	h.chain.Reorg(15)
	h.chain.Mine(5)

	err = h.poller().Run(ctx)
	require.ErrorIs(t, err, reorg.ErrReorgHalted)
	require.Equal(t, float64(1), testutil.ToFloat64(h.metrics.ReorgsDetected))

	cp := h.checkpoint(t)
	require.Equal(t, uint64(18), cp.Height)
	require.Len(t, h.purchases(t), 1)
}

func TestPoller_RunCycle_RewindsOnReorg(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 20)
	h.reorgCfg.Policy = config.ReorgPolicyRewind
	h.chain.AddLog(purchaseLog(3, 1))
	h.chain.AddLog(purchaseLog(16, 2))

	p := h.poller()
	_, err := p.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, h.purchases(t), 2)

	h.chain.Reorg(15)
	h.chain.AddLog(purchaseLog(17, 3))
	h.chain.Mine(1)

	result, err := p.RunCycle(ctx)
	require.NoError(t, err)
	require.True(t, result.Rewound)
	require.False(t, result.CaughtUp)
	require.Equal(t, uint64(14), h.checkpoint(t).Height)
	require.Equal(t, uint64(14), p.Status().Checkpoint)

	result, err = p.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, poller.Range{From: 15, To: 19}, result.Range)

	purchases := h.purchases(t)
	require.Len(t, purchases, 2)
	require.Equal(t, big.NewInt(1), purchases[0].ProductID)
	require.Equal(t, big.NewInt(3), purchases[1].ProductID)
	require.Equal(t, uint64(17), purchases[1].BlockNumber)

	cp := h.checkpoint(t)
	require.Equal(t, uint64(19), cp.Height)
	require.Equal(t, h.chain.Header(19).Hash(), cp.Hash)
}

func TestPoller_Run_StopsOnCancel(t *testing.T) {
	h := newHarness(t, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.poller().Run(ctx))
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{name: "checkpoint unavailable", err: checkpoint.ErrUnavailable, fatal: true},
		{name: "checkpoint regression", err: store.ErrCheckpointRegression, fatal: true},
		{name: "reorg halted", err: reorg.ErrReorgHalted, fatal: true},
		{name: "reorg too deep", err: reorg.ErrReorgTooDeep, fatal: true},
		{name: "wrapped", err: errors.Join(errors.New("cycle"), reorg.ErrReorgHalted), fatal: true},
		{name: "transient rpc", err: syscall.ECONNRESET},
		{name: "write", err: &store.WriteError{Op: "write batch", Err: errors.New("locked")}},
		{name: "malformed", err: &fetcher.MalformedResponseError{Reason: "duplicate log"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.fatal, poller.IsFatal(tt.err))
		})
	}
}
