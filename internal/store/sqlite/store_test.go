package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gordonmurray/eth-blockchain-pipeline/internal/common"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/logger"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/metrics"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/store/storetest"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/config"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/store"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, maintenance *config.MaintenanceConfig) *Store {
	t.Helper()

	cfg := config.StorageConfig{Maintenance: maintenance}
	cfg.ApplyDefaults()

	s, err := New(filepath.Join(t.TempDir(), "purchases.db"), cfg, logger.NewNopLogger(), metrics.New())
	require.NoError(t, err)
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return newTestStore(t, nil)
	})
}

func TestNew_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "purchases.db")

	cfg := config.StorageConfig{}
	cfg.ApplyDefaults()

	s, err := New(path, cfg, logger.NewNopLogger(), nil)
	require.NoError(t, err)

	_, err = s.WriteBatch(ctx, &store.Batch{
		FromBlock: 1,
		ToBlock:   1,
		Entries:   []store.Entry{storetest.NewEntry(1, 0, &storetest.Buyer, 1)},
	})
	require.NoError(t, err)
	require.NoError(t, s.SetCheckpoint(ctx, "purchase_indexer", 1, storetest.BlockHash(1)))
	require.NoError(t, s.Close())

	s, err = New(path, cfg, logger.NewNopLogger(), nil)
	require.NoError(t, err)
	defer s.Close()

	cp, err := s.GetCheckpoint(ctx, "purchase_indexer")
	require.NoError(t, err)
	require.Equal(t, uint64(1), cp.Height)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.Purchases)
}

func TestStore_StoredForm(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	defer s.Close()

	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	entry := storetest.NewEntry(3, 0, &storetest.Buyer, 42)
	_, err := s.WriteBatch(ctx, &store.Batch{FromBlock: 3, ToBlock: 3, Entries: []store.Entry{entry}})
	require.NoError(t, err)

	var buyer, productID, price string
	var quantity, timestamp uint64
	err = s.db.QueryRow(`SELECT buyer_address, product_id, price_wei, quantity, event_timestamp FROM purchases`).
		Scan(&buyer, &productID, &price, &quantity, &timestamp)
	require.NoError(t, err)
	require.Equal(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", buyer)
	require.Equal(t, "42", productID)
	require.Equal(t, "5000000000000000", price)
	require.Equal(t, uint64(2), quantity)
	require.Equal(t, uint64(1_700_000_000), timestamp)

	var data string
	var indexedAt int64
	err = s.db.QueryRow(`SELECT data, indexed_at FROM raw_logs`).Scan(&data, &indexedAt)
	require.NoError(t, err)
	require.Equal(t, "0x010200", data)
	require.Equal(t, fixed.Unix(), indexedAt)
}

func TestStore_WriteErrorAfterClose(t *testing.T) {
	s := newTestStore(t, nil)
	require.NoError(t, s.Close())

	_, err := s.WriteBatch(context.Background(), &store.Batch{
		FromBlock: 1,
		ToBlock:   1,
		Entries:   []store.Entry{storetest.NewEntry(1, 0, nil, 0)},
	})
	storetest.RequireWriteError(t, err)

	err = s.SetCheckpoint(context.Background(), "purchase_indexer", 1, storetest.BlockHash(1))
	storetest.RequireWriteError(t, err)
}

func TestStore_WriteCancelledContext(t *testing.T) {
	s := newTestStore(t, nil)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.WriteBatch(ctx, &store.Batch{
		FromBlock: 1,
		ToBlock:   1,
		Entries:   []store.Entry{storetest.NewEntry(1, 0, nil, 0)},
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestStore_ReadsHonourContext(t *testing.T) {
	s := newTestStore(t, nil)
	defer s.Close()

	require.NoError(t, s.SetCheckpoint(context.Background(), "purchase_indexer", 5, storetest.BlockHash(5)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reads := map[string]func() error{
		"GetCheckpoint": func() error {
			_, err := s.GetCheckpoint(ctx, "purchase_indexer")
			return err
		},
		"TrackedBlocks": func() error {
			_, err := s.TrackedBlocks(ctx)
			return err
		},
		"RawLogs": func() error {
			_, err := s.RawLogs(ctx, 0, 10)
			return err
		},
		"QueryPurchases": func() error {
			_, err := s.QueryPurchases(ctx, store.PurchaseFilter{})
			return err
		},
	}

	for name, read := range reads {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, read(), context.Canceled)
		})
	}
}

func TestStore_Maintenance(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, &config.MaintenanceConfig{
		Enabled:           true,
		CheckInterval:     common.NewDuration(time.Hour),
		WALCheckpointMode: "TRUNCATE",
	})
	defer s.Close()

	require.NoError(t, s.Start(ctx))

	for i := range uint64(20) {
		_, err := s.WriteBatch(ctx, &store.Batch{
			FromBlock: i,
			ToBlock:   i,
			Entries:   []store.Entry{storetest.NewEntry(i, 0, &storetest.Buyer, 1)},
		})
		require.NoError(t, err)
	}

	require.NoError(t, s.Maintenance().RunMaintenance(ctx))
	require.Equal(t, uint64(1), s.Maintenance().Status().Runs)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(20), stats.RawLogs)
}
