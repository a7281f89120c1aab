package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/gordonmurray/eth-blockchain-pipeline/internal/common"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/logger"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/metrics"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/config"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func openMaintenanceDB(t *testing.T, journal string) (*sql.DB, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "indexer.db")

	cfg := config.DatabaseConfig{JournalMode: journal}
	cfg.ApplyDefaults()

	sqlDB, err := NewSQLiteDBFromConfig(dbPath, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	_, err = sqlDB.Exec(`CREATE TABLE purchases (tx_hash TEXT, log_index INTEGER, price TEXT)`)
	require.NoError(t, err)

	return sqlDB, dbPath
}

// writeRows inserts rows the way the store does: under the shared lock.
func writeRows(t *testing.T, m Maintenance, sqlDB *sql.DB, n int) {
	t.Helper()

	unlock := m.AcquireOperationLock()
	defer unlock()

	for i := range n {
		_, err := sqlDB.Exec(`INSERT INTO purchases VALUES (?, ?, ?)`, "0xabc", i, "5000000000000000")
		require.NoError(t, err)
	}
}

func TestMaintenanceCoordinator_RunMaintenance(t *testing.T) {
	tests := []struct {
		name    string
		journal string
	}{
		{name: "wal", journal: "WAL"},
		{name: "rollback journal skips checkpoint", journal: "DELETE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sqlDB, dbPath := openMaintenanceDB(t, tt.journal)
			m := metrics.New()

			coordinator := newMaintenanceCoordinator(dbPath, sqlDB,
				config.MaintenanceConfig{WALCheckpointMode: "TRUNCATE"}, logger.NewNopLogger(), m)

			writeRows(t, coordinator, sqlDB, 500)

			require.NoError(t, coordinator.RunMaintenance(t.Context()))

			status := coordinator.Status()
			require.Equal(t, uint64(1), status.Runs)
			require.False(t, status.LastRun.IsZero())
			require.NoError(t, status.LastError)
			require.Positive(t, status.DBSize)

			require.Equal(t, float64(1), testutil.ToFloat64(m.MaintenanceRuns.WithLabelValues("success")))
			require.Equal(t, float64(status.DBSize), testutil.ToFloat64(m.DBSize))
		})
	}
}

func TestMaintenanceCoordinator_WaitsForOperations(t *testing.T) {
	sqlDB, dbPath := openMaintenanceDB(t, "WAL")
	coordinator := newMaintenanceCoordinator(dbPath, sqlDB,
		config.MaintenanceConfig{WALCheckpointMode: "PASSIVE"}, logger.NewNopLogger(), nil)

	unlock := coordinator.AcquireOperationLock()

	done := make(chan error, 1)
	go func() { done <- coordinator.RunMaintenance(context.Background()) }()

	select {
	case <-done:
		t.Fatal("maintenance ran while a store operation held the lock")
	case <-time.After(100 * time.Millisecond):
	}

	unlock()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("maintenance did not run after the operation finished")
	}

	// operations proceed again once maintenance released the lock
	writeRows(t, coordinator, sqlDB, 1)
}

func TestMaintenanceCoordinator_Background(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.MaintenanceConfig
		wantRuns func(t *testing.T, runs uint64)
	}{
		{
			name: "periodic",
			cfg: config.MaintenanceConfig{
				Enabled:           true,
				CheckInterval:     common.NewDuration(20 * time.Millisecond),
				WALCheckpointMode: "TRUNCATE",
			},
			wantRuns: func(t *testing.T, runs uint64) { require.GreaterOrEqual(t, runs, uint64(2)) },
		},
		{
			name: "startup only",
			cfg: config.MaintenanceConfig{
				Enabled:           true,
				VacuumOnStartup:   true,
				CheckInterval:     common.NewDuration(time.Hour),
				WALCheckpointMode: "TRUNCATE",
			},
			wantRuns: func(t *testing.T, runs uint64) { require.Equal(t, uint64(1), runs) },
		},
		{
			name: "disabled",
			cfg: config.MaintenanceConfig{
				Enabled:       false,
				CheckInterval: common.NewDuration(time.Millisecond),
			},
			wantRuns: func(t *testing.T, runs uint64) { require.Zero(t, runs) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sqlDB, dbPath := openMaintenanceDB(t, "WAL")
			coordinator := newMaintenanceCoordinator(dbPath, sqlDB, tt.cfg, logger.NewNopLogger(), nil)

			require.NoError(t, coordinator.Start(t.Context()))
			time.Sleep(150 * time.Millisecond)
			require.NoError(t, coordinator.Stop())

			tt.wantRuns(t, coordinator.Status().Runs)
		})
	}
}

func TestMaintenanceCoordinator_CancelledContext(t *testing.T) {
	sqlDB, dbPath := openMaintenanceDB(t, "WAL")
	coordinator := newMaintenanceCoordinator(dbPath, sqlDB,
		config.MaintenanceConfig{WALCheckpointMode: "TRUNCATE"}, logger.NewNopLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, coordinator.RunMaintenance(ctx), context.Canceled)
	require.Zero(t, coordinator.Status().Runs)
}

func TestNewMaintenanceCoordinator_NilConfig(t *testing.T) {
	m := NewMaintenanceCoordinator("unused.db", nil, nil, logger.NewNopLogger(), nil)
	require.IsType(t, &NoOpMaintenance{}, m)

	require.NoError(t, m.Start(t.Context()))
	require.NoError(t, m.RunMaintenance(t.Context()))
	m.AcquireOperationLock()()
	require.NoError(t, m.Stop())
	require.Zero(t, m.Status().Runs)
}
