// Package storetest holds the behavioural tests shared by every store.Store
// backend.
package storetest

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/store"
	"github.com/stretchr/testify/require"
)

const checkpointName = "purchase_indexer"

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

var (
	Contract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	Buyer    = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	Other    = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

// BlockHash returns a deterministic hash for block n.
func BlockHash(n uint64) common.Hash {
	return crypto.Keccak256Hash(new(big.Int).SetUint64(n).Bytes(), []byte("block"))
}

// NewEntry builds an entry for log logIndex of block. When buyer is non-nil
// the entry carries a purchase of productID.
func NewEntry(block uint64, logIndex uint, buyer *common.Address, productID int64) store.Entry {
	txHash := crypto.Keccak256Hash(new(big.Int).SetUint64(block).Bytes(), []byte{byte(logIndex)})
	entry := store.Entry{
		Log: store.RawLog{
			BlockNumber:    block,
			BlockHash:      BlockHash(block),
			TxHash:         txHash,
			TxIndex:        logIndex,
			LogIndex:       logIndex,
			Address:        Contract,
			Topics:         []common.Hash{crypto.Keccak256Hash([]byte("topic")), common.BigToHash(big.NewInt(productID))},
			Data:           []byte{0x01, 0x02, byte(logIndex)},
			BlockTimestamp: 1_700_000_000 + block*12,
		},
	}
	if buyer != nil {
		entry.Purchase = &store.Purchase{
			TxHash:      txHash,
			LogIndex:    logIndex,
			BlockNumber: block,
			Buyer:       *buyer,
			ProductID:   big.NewInt(productID),
			Price:       big.NewInt(5_000_000_000_000_000),
			Quantity:    2,
			Timestamp:   1_700_000_000,
		}
	}
	return entry
}

// Blocks returns tracked blocks for [from, to].
func Blocks(from, to uint64) []store.TrackedBlock {
	var blocks []store.TrackedBlock
	for n := from; n <= to; n++ {
		blocks = append(blocks, store.TrackedBlock{Number: n, Hash: BlockHash(n), ParentHash: BlockHash(n - 1)})
	}
	return blocks
}

// Run executes the shared suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"WriteBatchIsIdempotent", testWriteBatchIsIdempotent},
		{"WriteBatchRejectsForeignEntries", testWriteBatchRejectsForeignEntries},
		{"EmptyBatch", testEmptyBatch},
		{"CheckpointLifecycle", testCheckpointLifecycle},
		{"ResetCheckpoint", testResetCheckpoint},
		{"Rewind", testRewind},
		{"TrackedBlocksWindow", testTrackedBlocksWindow},
		{"QueryPurchases", testQueryPurchases},
		{"QueryPurchasesLookAhead", testQueryPurchasesLookAhead},
		{"Stats", testStats},
		{"LargeValues", testLargeValues},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

func testWriteBatchIsIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	batch := &store.Batch{
		FromBlock: 10,
		ToBlock:   12,
		Entries: []store.Entry{
			NewEntry(10, 0, &Buyer, 1),
			NewEntry(11, 0, nil, 0),
			NewEntry(12, 1, &Other, 2),
		},
		Blocks: Blocks(10, 12),
	}

	result, err := s.WriteBatch(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, store.WriteResult{RawLogsInserted: 3, PurchasesInserted: 2}, result)

	result, err = s.WriteBatch(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, store.WriteResult{}, result)

	logs, err := s.RawLogs(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	require.Equal(t, batch.Entries[0].Log.TxHash, logs[0].TxHash)
	require.Equal(t, batch.Entries[0].Log.Topics, logs[0].Topics)
	require.Equal(t, batch.Entries[0].Log.Data, logs[0].Data)
	require.Equal(t, batch.Entries[0].Log.BlockTimestamp, logs[0].BlockTimestamp)
	require.False(t, logs[0].IndexedAt.IsZero())

	purchases, err := s.QueryPurchases(ctx, store.PurchaseFilter{})
	require.NoError(t, err)
	require.Len(t, purchases, 2)

	// Every purchase has its raw log.
	identities := make(map[common.Hash]uint)
	for _, l := range logs {
		identities[l.TxHash] = l.LogIndex
	}
	for _, p := range purchases {
		logIndex, ok := identities[p.TxHash]
		require.True(t, ok)
		require.Equal(t, logIndex, p.LogIndex)
	}
}

func testWriteBatchRejectsForeignEntries(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.WriteBatch(ctx, &store.Batch{
		FromBlock: 10,
		ToBlock:   12,
		Entries:   []store.Entry{NewEntry(10, 0, &Buyer, 1), NewEntry(13, 0, &Buyer, 1)},
	})
	require.ErrorIs(t, err, store.ErrInvalidBatch)

	logs, err := s.RawLogs(ctx, 0, 100)
	require.NoError(t, err)
	require.Empty(t, logs)
}

func testEmptyBatch(t *testing.T, s store.Store) {
	ctx := context.Background()

	result, err := s.WriteBatch(ctx, &store.Batch{FromBlock: 5, ToBlock: 9, Blocks: Blocks(5, 9)})
	require.NoError(t, err)
	require.Zero(t, result)

	blocks, err := s.TrackedBlocks(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 5)
	require.Equal(t, uint64(9), blocks[0].Number)
}

func testCheckpointLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()

	cp, err := s.GetCheckpoint(ctx, checkpointName)
	require.NoError(t, err)
	require.Nil(t, cp)

	require.NoError(t, s.SetCheckpoint(ctx, checkpointName, 10, BlockHash(10)))
	require.NoError(t, s.SetCheckpoint(ctx, checkpointName, 10, BlockHash(10)))
	require.NoError(t, s.SetCheckpoint(ctx, checkpointName, 15, BlockHash(15)))

	err = s.SetCheckpoint(ctx, checkpointName, 14, BlockHash(14))
	require.ErrorIs(t, err, store.ErrCheckpointRegression)

	cp, err = s.GetCheckpoint(ctx, checkpointName)
	require.NoError(t, err)
	require.NotNil(t, cp)
	require.Equal(t, checkpointName, cp.Name)
	require.Equal(t, uint64(15), cp.Height)
	require.Equal(t, BlockHash(15), cp.Hash)
	require.False(t, cp.UpdatedAt.IsZero())

	// Checkpoints are independent per name.
	other, err := s.GetCheckpoint(ctx, "other")
	require.NoError(t, err)
	require.Nil(t, other)
}

func testResetCheckpoint(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.WriteBatch(ctx, &store.Batch{
		FromBlock: 1,
		ToBlock:   20,
		Entries:   []store.Entry{NewEntry(18, 0, &Buyer, 1)},
		Blocks:    Blocks(15, 20),
	})
	require.NoError(t, err)
	require.NoError(t, s.SetCheckpoint(ctx, checkpointName, 20, BlockHash(20)))

	require.NoError(t, s.ResetCheckpoint(ctx, checkpointName, 17))

	cp, err := s.GetCheckpoint(ctx, checkpointName)
	require.NoError(t, err)
	require.Equal(t, uint64(17), cp.Height)
	require.Equal(t, common.Hash{}, cp.Hash)

	blocks, err := s.TrackedBlocks(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	require.Equal(t, uint64(17), blocks[0].Number)

	// Data is kept; rewriting it later is a no-op.
	logs, err := s.RawLogs(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, logs, 1)

	// Reset on a missing checkpoint creates it.
	require.NoError(t, s.ResetCheckpoint(ctx, "fresh", 3))
	cp, err = s.GetCheckpoint(ctx, "fresh")
	require.NoError(t, err)
	require.Equal(t, uint64(3), cp.Height)
}

func testRewind(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.WriteBatch(ctx, &store.Batch{
		FromBlock: 1,
		ToBlock:   30,
		Entries: []store.Entry{
			NewEntry(10, 0, &Buyer, 1),
			NewEntry(20, 0, &Buyer, 2),
			NewEntry(21, 0, nil, 0),
			NewEntry(30, 0, &Other, 3),
		},
		Blocks: Blocks(18, 30),
	})
	require.NoError(t, err)
	require.NoError(t, s.SetCheckpoint(ctx, checkpointName, 30, BlockHash(30)))

	require.NoError(t, s.Rewind(ctx, checkpointName, 20, BlockHash(20)))

	cp, err := s.GetCheckpoint(ctx, checkpointName)
	require.NoError(t, err)
	require.Equal(t, uint64(20), cp.Height)
	require.Equal(t, BlockHash(20), cp.Hash)

	logs, err := s.RawLogs(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	purchases, err := s.QueryPurchases(ctx, store.PurchaseFilter{})
	require.NoError(t, err)
	require.Len(t, purchases, 2)
	require.Equal(t, uint64(20), purchases[1].BlockNumber)

	blocks, err := s.TrackedBlocks(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	require.Equal(t, uint64(20), blocks[0].Number)

	// The checkpoint moves forward again from the rewound height.
	require.NoError(t, s.SetCheckpoint(ctx, checkpointName, 21, BlockHash(21)))
}

func testTrackedBlocksWindow(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.WriteBatch(ctx, &store.Batch{FromBlock: 1, ToBlock: 10, Blocks: Blocks(1, 10)})
	require.NoError(t, err)

	// Upsert replaces the hash of an existing height.
	replaced := store.TrackedBlock{Number: 10, Hash: common.HexToHash("0xbeef"), ParentHash: BlockHash(9)}
	_, err = s.WriteBatch(ctx, &store.Batch{
		FromBlock:  10,
		ToBlock:    14,
		Blocks:     append([]store.TrackedBlock{replaced}, Blocks(11, 14)...),
		PruneBelow: 8,
	})
	require.NoError(t, err)

	blocks, err := s.TrackedBlocks(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 7)
	require.Equal(t, uint64(14), blocks[0].Number)
	require.Equal(t, uint64(8), blocks[len(blocks)-1].Number)
	require.Equal(t, replaced, blocks[4])
}

func testQueryPurchases(t *testing.T, s store.Store) {
	ctx := context.Background()

	var entries []store.Entry
	for i := range uint64(10) {
		buyer := Buyer
		if i%2 == 1 {
			buyer = Other
		}
		entries = append(entries, NewEntry(100+i, 0, &buyer, int64(i%3)))
	}
	_, err := s.WriteBatch(ctx, &store.Batch{FromBlock: 100, ToBlock: 109, Entries: entries})
	require.NoError(t, err)

	from, to := uint64(102), uint64(107)

	testCases := []struct {
		name   string
		filter store.PurchaseFilter
		blocks []uint64
	}{
		{name: "all", filter: store.PurchaseFilter{}, blocks: []uint64{100, 101, 102, 103, 104, 105, 106, 107, 108, 109}},
		{name: "buyer", filter: store.PurchaseFilter{Buyer: &Other}, blocks: []uint64{101, 103, 105, 107, 109}},
		{name: "product", filter: store.PurchaseFilter{ProductID: big.NewInt(2)}, blocks: []uint64{102, 105, 108}},
		{name: "range", filter: store.PurchaseFilter{FromBlock: &from, ToBlock: &to}, blocks: []uint64{102, 103, 104, 105, 106, 107}},
		{name: "page", filter: store.PurchaseFilter{Limit: 3, Offset: 2}, blocks: []uint64{102, 103, 104}},
		{name: "combined", filter: store.PurchaseFilter{Buyer: &Buyer, ProductID: big.NewInt(0), FromBlock: &from}, blocks: []uint64{106}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			purchases, err := s.QueryPurchases(ctx, tc.filter)
			require.NoError(t, err)

			blocks := make([]uint64, len(purchases))
			for i, p := range purchases {
				blocks[i] = p.BlockNumber
			}
			require.Equal(t, tc.blocks, blocks)
		})
	}
}

func testQueryPurchasesLookAhead(t *testing.T, s store.Store) {
	ctx := context.Background()

	const stored = store.MaxPurchaseLimit + 5
	entries := make([]store.Entry, 0, stored)
	for block := uint64(1); block <= stored; block++ {
		entries = append(entries, NewEntry(block, 0, &Buyer, 1))
	}
	_, err := s.WriteBatch(ctx, &store.Batch{FromBlock: 1, ToBlock: stored, Entries: entries})
	require.NoError(t, err)

	testCases := []struct {
		name   string
		filter store.PurchaseFilter
		want   int
	}{
		{name: "default page", filter: store.PurchaseFilter{}, want: store.DefaultPurchaseLimit},
		{name: "default page with look-ahead", filter: store.PurchaseFilter{LookAhead: true}, want: store.DefaultPurchaseLimit + 1},
		{name: "max page", filter: store.PurchaseFilter{Limit: store.MaxPurchaseLimit}, want: store.MaxPurchaseLimit},
		{name: "max page with look-ahead", filter: store.PurchaseFilter{Limit: store.MaxPurchaseLimit, LookAhead: true}, want: store.MaxPurchaseLimit + 1},
		{name: "over max is clamped", filter: store.PurchaseFilter{Limit: 5000}, want: store.MaxPurchaseLimit},
		{name: "look-ahead on last page", filter: store.PurchaseFilter{Limit: 10, Offset: stored - 4, LookAhead: true}, want: 4},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			purchases, err := s.QueryPurchases(ctx, tc.filter)
			require.NoError(t, err)
			require.Len(t, purchases, tc.want)
		})
	}
}

func testStats(t *testing.T, s store.Store) {
	ctx := context.Background()

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, store.Stats{}, stats)

	_, err = s.WriteBatch(ctx, &store.Batch{
		FromBlock: 5,
		ToBlock:   50,
		Entries: []store.Entry{
			NewEntry(5, 0, &Buyer, 1),
			NewEntry(5, 1, &Buyer, 2),
			NewEntry(20, 0, nil, 0),
			NewEntry(50, 0, &Other, 1),
		},
	})
	require.NoError(t, err)

	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, store.Stats{
		RawLogs:        4,
		Purchases:      3,
		DistinctBuyers: 2,
		MinBlock:       5,
		MaxBlock:       50,
	}, stats)
}

func testLargeValues(t *testing.T, s store.Store) {
	ctx := context.Background()

	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	entry := NewEntry(7, 0, &Buyer, 1)
	entry.Purchase.ProductID = maxUint256
	entry.Purchase.Price = new(big.Int).Set(maxUint256)

	_, err := s.WriteBatch(ctx, &store.Batch{FromBlock: 7, ToBlock: 7, Entries: []store.Entry{entry}})
	require.NoError(t, err)

	purchases, err := s.QueryPurchases(ctx, store.PurchaseFilter{ProductID: maxUint256})
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	require.Zero(t, maxUint256.Cmp(purchases[0].ProductID))
	require.Zero(t, maxUint256.Cmp(purchases[0].Price))
	require.Equal(t, Buyer, purchases[0].Buyer)
	require.Equal(t, uint64(2), purchases[0].Quantity)
	require.Equal(t, uint64(1_700_000_000), purchases[0].Timestamp)
}

// RequireWriteError asserts that err is a *store.WriteError.
func RequireWriteError(t *testing.T, err error) {
	t.Helper()

	var writeErr *store.WriteError
	require.True(t, errors.As(err, &writeErr), "expected *store.WriteError, got %v", err)
	require.NotEmpty(t, writeErr.Op)
}
