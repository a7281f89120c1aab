package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gordonmurray/eth-blockchain-pipeline/internal/common"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/logger"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/metrics"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/config"
)

type Maintenance interface {
	// Start begins background maintenance if enabled.
	Start(ctx context.Context) error
	// Stop stops background maintenance and waits for completion.
	Stop() error
	// AcquireOperationLock acquires a read lock for database operations.
	// Returns an unlock function that must be called when the operation completes.
	AcquireOperationLock() func()
	// Status returns the outcome of past maintenance runs.
	Status() MaintenanceStatus
	// RunMaintenance performs database maintenance operations (for manual invocation).
	RunMaintenance(ctx context.Context) error
}

// MaintenanceStatus provides visibility into maintenance operations.
type MaintenanceStatus struct {
	LastRun   time.Time
	Runs      uint64
	LastError error
	DBSize    int64
}

// NoOpMaintenance is used when maintenance is not configured.
type NoOpMaintenance struct{}

func (m *NoOpMaintenance) Start(ctx context.Context) error { return nil }
func (m *NoOpMaintenance) Stop() error { return nil }
func (m *NoOpMaintenance) RunMaintenance(ctx context.Context) error { return nil }
func (m *NoOpMaintenance) AcquireOperationLock() func() { return func() {} }
func (m *NoOpMaintenance) Status() MaintenanceStatus { return MaintenanceStatus{} }

// MaintenanceCoordinator serializes WAL checkpoints and VACUUM against
// store operations. Store operations hold the read side of opLock and
// maintenance holds the write side, so a run waits for in-flight writes and
// blocks new ones until it is done.
type MaintenanceCoordinator struct {
	db      *sql.DB
	config  config.MaintenanceConfig
	dbPath  string
	log     *logger.Logger
	metrics *metrics.Metrics

	opLock sync.RWMutex

	cancel context.CancelFunc
	wg     sync.WaitGroup

	statusLock sync.Mutex
	status     MaintenanceStatus
}

// NewMaintenanceCoordinator returns a NoOpMaintenance when cfg is nil.
func NewMaintenanceCoordinator(
	dbPath string,
	db *sql.DB,
	cfg *config.MaintenanceConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) Maintenance {
	if cfg == nil {
		return &NoOpMaintenance{}
	}

	return newMaintenanceCoordinator(dbPath, db, *cfg, log, m)
}

func newMaintenanceCoordinator(
	dbPath string,
	db *sql.DB,
	cfg config.MaintenanceConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *MaintenanceCoordinator {
	return &MaintenanceCoordinator{
		db:      db,
		config:  cfg,
		dbPath:  dbPath,
		log:     log.WithComponent(common.ComponentMaintenance),
		metrics: m,
	}
}

// Start begins background maintenance if enabled.
func (m *MaintenanceCoordinator) Start(ctx context.Context) error {
	if !m.config.Enabled {
		m.log.Info("background maintenance is disabled")
		return nil
	}

	ctx, m.cancel = context.WithCancel(ctx)

	if m.config.VacuumOnStartup {
		m.log.Info("running startup maintenance")
		if err := m.RunMaintenance(ctx); err != nil {
			m.log.Warnw("startup maintenance failed", "error", err)
		}
	}

	m.wg.Add(1)
	go m.worker(ctx, m.config.CheckInterval.Duration)

	m.log.Infow("background maintenance started",
		"interval", m.config.CheckInterval.Duration,
		"checkpoint_mode", m.config.WALCheckpointMode)

	return nil
}

// Stop stops background maintenance and waits for completion.
func (m *MaintenanceCoordinator) Stop() error {
	if m.cancel == nil {
		return nil
	}

	m.cancel()
	m.wg.Wait()
	m.log.Info("background maintenance stopped")

	return nil
}

func (m *MaintenanceCoordinator) worker(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.RunMaintenance(ctx); err != nil {
				m.log.Warnw("periodic maintenance failed", "error", err)
			}
		}
	}
}

// RunMaintenance checkpoints the WAL and vacuums the database while holding
// the exclusive side of the operation lock.
func (m *MaintenanceCoordinator) RunMaintenance(ctx context.Context) error {
	start := time.Now()

	m.opLock.Lock()
	defer m.opLock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	initialSize, err := DBTotalSize(m.dbPath)
	if err != nil {
		m.log.Warnw("failed to read database size", "error", err)
	}

	var runErr error
	if err := m.walCheckpoint(); err != nil {
		runErr = fmt.Errorf("WAL checkpoint failed: %w", err)
	}
	if err := m.vacuum(); err != nil && runErr == nil {
		runErr = err
	}

	finalSize, err := DBTotalSize(m.dbPath)
	if err != nil {
		m.log.Warnw("failed to read database size", "error", err)
	}

	duration := time.Since(start)

	m.statusLock.Lock()
	m.status.LastRun = time.Now().UTC()
	m.status.Runs++
	m.status.LastError = runErr
	m.status.DBSize = finalSize
	m.statusLock.Unlock()

	status := "success"
	if runErr != nil {
		status = "error"
	}
	if m.metrics != nil {
		m.metrics.ObserveMaintenance(status, duration, finalSize)
	}

	if runErr != nil {
		m.log.Warnw("maintenance completed with errors", "duration", duration, "error", runErr)
		return runErr
	}

	m.log.Infow("maintenance completed",
		"duration", duration,
		"size_before", initialSize,
		"size_after", finalSize)

	return nil
}

func (m *MaintenanceCoordinator) walCheckpoint() error {
	var mode string
	if err := m.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("failed to check journal mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		m.log.Debug("database not in WAL mode, skipping WAL checkpoint")
		return nil
	}

	var busy, logFrames, checkpointed int
	err := m.db.QueryRow(fmt.Sprintf("PRAGMA wal_checkpoint(%s)", m.config.WALCheckpointMode)).
		Scan(&busy, &logFrames, &checkpointed)
	if err != nil {
		return err
	}

	m.log.Debugw("WAL checkpoint complete",
		"mode", m.config.WALCheckpointMode,
		"busy", busy,
		"log_frames", logFrames,
		"checkpointed", checkpointed)

	return nil
}

func (m *MaintenanceCoordinator) vacuum() error {
	if err := Vacuum(m.db); err != nil {
		if strings.Contains(err.Error(), "database is locked") {
			return fmt.Errorf("cannot vacuum: database is locked (retry later)")
		}
		return err
	}
	return nil
}

// AcquireOperationLock acquires the shared side of the operation lock.
func (m *MaintenanceCoordinator) AcquireOperationLock() func() {
	m.opLock.RLock()
	return m.opLock.RUnlock
}

func (m *MaintenanceCoordinator) Status() MaintenanceStatus {
	m.statusLock.Lock()
	defer m.statusLock.Unlock()
	return m.status
}
