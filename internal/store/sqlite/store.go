// Package sqlite implements the purchase store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	icommon "github.com/gordonmurray/eth-blockchain-pipeline/internal/common"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/db"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/logger"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/metrics"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/config"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/store"
	"github.com/russross/meddler"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrations holds the schema of the SQLite backend.
var Migrations = db.Migrations{FS: migrationsFS, Root: "migrations"}

var _ store.Store = (*Store)(nil)

// Store is the SQLite implementation of store.Store.
type Store struct {
	db          *sql.DB
	path        string
	log         *logger.Logger
	maintenance db.Maintenance

	// now is replaced in tests.
	now func() time.Time
}

// New opens the database at path, applies pending migrations and prepares the
// maintenance coordinator. Background maintenance begins with Start.
func New(path string, cfg config.StorageConfig, log *logger.Logger, m *metrics.Metrics) (*Store, error) {
	sqlDB, err := db.NewSQLiteDBFromConfig(path, cfg.SQLite)
	if err != nil {
		return nil, err
	}

	log = log.WithComponent(icommon.ComponentStore)

	if err := db.RunMigrationsDB(log, sqlDB, db.DialectSQLite, Migrations); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", path, err)
	}

	return &Store{
		db:          sqlDB,
		path:        path,
		log:         log,
		maintenance: db.NewMaintenanceCoordinator(path, sqlDB, cfg.Maintenance, log, m),
		now:         time.Now,
	}, nil
}

// Start begins background maintenance when it is enabled.
func (s *Store) Start(ctx context.Context) error {
	return s.maintenance.Start(ctx)
}

// Maintenance exposes the maintenance coordinator.
func (s *Store) Maintenance() db.Maintenance {
	return s.maintenance
}

// WriteBatch implements store.Store.
func (s *Store) WriteBatch(ctx context.Context, batch *store.Batch) (store.WriteResult, error) {
	var result store.WriteResult

	if err := batch.Validate(); err != nil {
		return result, err
	}

	err := s.inTx(ctx, "write batch", func(tx *sql.Tx) error {
		indexedAt := s.now().UTC()

		for i := range batch.Entries {
			entry := &batch.Entries[i]

			inserted, err := insertIgnore(ctx, tx, "raw_logs", newRawLogRow(&entry.Log, indexedAt))
			if err != nil {
				return fmt.Errorf("raw log %s/%d: %w", entry.Log.TxHash.Hex(), entry.Log.LogIndex, err)
			}
			result.RawLogsInserted += inserted

			if entry.Purchase == nil {
				continue
			}
			inserted, err = insertIgnore(ctx, tx, "purchases", newPurchaseRow(entry.Purchase))
			if err != nil {
				return fmt.Errorf("purchase %s/%d: %w", entry.Purchase.TxHash.Hex(), entry.Purchase.LogIndex, err)
			}
			result.PurchasesInserted += inserted
		}

		for _, b := range batch.Blocks {
			const upsertBlock = `
				INSERT INTO tracked_blocks (block_number, block_hash, parent_hash)
				VALUES (?, ?, ?)
				ON CONFLICT(block_number) DO UPDATE SET
					block_hash = excluded.block_hash,
					parent_hash = excluded.parent_hash
			`
			if _, err := tx.ExecContext(ctx, upsertBlock, b.Number, b.Hash.Hex(), b.ParentHash.Hex()); err != nil {
				return fmt.Errorf("tracked block %d: %w", b.Number, err)
			}
		}

		if batch.PruneBelow > 0 {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM tracked_blocks WHERE block_number < ?`, batch.PruneBelow); err != nil {
				return fmt.Errorf("prune tracked blocks: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return store.WriteResult{}, err
	}

	s.log.Debugw("batch written",
		"from_block", batch.FromBlock,
		"to_block", batch.ToBlock,
		"raw_logs", result.RawLogsInserted,
		"purchases", result.PurchasesInserted)

	return result, nil
}

// insertIgnore inserts row unless a row with the same unique key exists and
// returns the number of inserted rows.
func insertIgnore(ctx context.Context, tx *sql.Tx, table string, row interface{}) (int, error) {
	columns, err := meddler.ColumnsQuoted(row, false)
	if err != nil {
		return 0, err
	}
	placeholders, err := meddler.PlaceholdersString(row, false)
	if err != nil {
		return 0, err
	}
	values, err := meddler.Values(row, false)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(transaction_hash, log_index) DO NOTHING",
		table, columns, placeholders)

	res, err := tx.ExecContext(ctx, query, values...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// GetCheckpoint implements store.Store.
func (s *Store) GetCheckpoint(ctx context.Context, name string) (*store.Checkpoint, error) {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	var row checkpointRow
	err := s.queryRow(ctx, &row,
		`SELECT name, block_number, block_hash, updated_at FROM checkpoints WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %q: %w", name, err)
	}
	return row.toCheckpoint(), nil
}

// SetCheckpoint implements store.Store.
func (s *Store) SetCheckpoint(ctx context.Context, name string, height uint64, hash common.Hash) error {
	return s.inTx(ctx, "set checkpoint", func(tx *sql.Tx) error {
		const upsert = `
			INSERT INTO checkpoints (name, block_number, block_hash, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				block_number = excluded.block_number,
				block_hash = excluded.block_hash,
				updated_at = excluded.updated_at
			WHERE excluded.block_number >= checkpoints.block_number
		`
		res, err := tx.ExecContext(ctx, upsert, name, height, hash.Hex(), s.now().Unix())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %q cannot move to %d", store.ErrCheckpointRegression, name, height)
		}
		return nil
	})
}

// ResetCheckpoint implements store.Store.
func (s *Store) ResetCheckpoint(ctx context.Context, name string, height uint64) error {
	return s.inTx(ctx, "reset checkpoint", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tracked_blocks WHERE block_number > ?`, height); err != nil {
			return err
		}
		return s.forceCheckpoint(ctx, tx, name, height, common.Hash{})
	})
}

// Rewind implements store.Store.
func (s *Store) Rewind(ctx context.Context, name string, height uint64, hash common.Hash) error {
	return s.inTx(ctx, "rewind", func(tx *sql.Tx) error {
		for _, table := range []string{"raw_logs", "purchases", "tracked_blocks"} {
			query := fmt.Sprintf("DELETE FROM %s WHERE block_number > ?", table)
			if _, err := tx.ExecContext(ctx, query, height); err != nil {
				return fmt.Errorf("%s: %w", table, err)
			}
		}
		return s.forceCheckpoint(ctx, tx, name, height, hash)
	})
}

func (s *Store) forceCheckpoint(ctx context.Context, tx *sql.Tx, name string, height uint64, hash common.Hash) error {
	const upsert = `
		INSERT INTO checkpoints (name, block_number, block_hash, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			block_number = excluded.block_number,
			block_hash = excluded.block_hash,
			updated_at = excluded.updated_at
	`
	_, err := tx.ExecContext(ctx, upsert, name, height, hash.Hex(), s.now().Unix())
	return err
}

// TrackedBlocks implements store.Store.
func (s *Store) TrackedBlocks(ctx context.Context) ([]store.TrackedBlock, error) {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	var rows []*trackedBlockRow
	err := s.queryAll(ctx, &rows,
		`SELECT block_number, block_hash, parent_hash FROM tracked_blocks ORDER BY block_number DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracked blocks: %w", err)
	}

	blocks := make([]store.TrackedBlock, len(rows))
	for i, r := range rows {
		blocks[i] = store.TrackedBlock{Number: r.Number, Hash: r.Hash, ParentHash: r.ParentHash}
	}
	return blocks, nil
}

// RawLogs implements store.Store.
func (s *Store) RawLogs(ctx context.Context, fromBlock, toBlock uint64) ([]store.RawLog, error) {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	var rows []*rawLogRow
	err := s.queryAll(ctx, &rows, `
		SELECT * FROM raw_logs
		WHERE block_number >= ? AND block_number <= ?
		ORDER BY block_number ASC, log_index ASC
	`, fromBlock, toBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw logs: %w", err)
	}

	logs := make([]store.RawLog, len(rows))
	for i, r := range rows {
		if logs[i], err = r.toRawLog(); err != nil {
			return nil, err
		}
	}
	return logs, nil
}

// QueryPurchases implements store.Store.
func (s *Store) QueryPurchases(ctx context.Context, filter store.PurchaseFilter) ([]*store.Purchase, error) {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	var (
		where []string
		args  []interface{}
	)
	if filter.Buyer != nil {
		where = append(where, "buyer_address = ?")
		args = append(args, filter.Buyer.Hex())
	}
	if filter.ProductID != nil {
		where = append(where, "product_id = ?")
		args = append(args, filter.ProductID.String())
	}
	if filter.FromBlock != nil {
		where = append(where, "block_number >= ?")
		args = append(args, *filter.FromBlock)
	}
	if filter.ToBlock != nil {
		where = append(where, "block_number <= ?")
		args = append(args, *filter.ToBlock)
	}

	query := "SELECT * FROM purchases"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY block_number ASC, log_index ASC LIMIT ? OFFSET ?"
	args = append(args, filter.RowLimit(), max(filter.Offset, 0))

	var rows []*purchaseRow
	if err := s.queryAll(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}

	purchases := make([]*store.Purchase, len(rows))
	for i, r := range rows {
		purchases[i] = r.toPurchase()
	}
	return purchases, nil
}

// Stats implements store.Store.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	var stats store.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MIN(block_number), 0), COALESCE(MAX(block_number), 0) FROM raw_logs
	`).Scan(&stats.RawLogs, &stats.MinBlock, &stats.MaxBlock)
	if err != nil {
		return stats, fmt.Errorf("failed to count raw logs: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT buyer_address) FROM purchases
	`).Scan(&stats.Purchases, &stats.DistinctBuyers)
	if err != nil {
		return stats, fmt.Errorf("failed to count purchases: %w", err)
	}

	return stats, nil
}

// Close stops maintenance and closes the database.
func (s *Store) Close() error {
	if err := s.maintenance.Stop(); err != nil {
		s.log.Warnw("failed to stop maintenance", "error", err)
	}
	return s.db.Close()
}

// queryRow scans the first row of query into dst. It returns sql.ErrNoRows
// when there is none.
func (s *Store) queryRow(ctx context.Context, dst interface{}, query string, args ...interface{}) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return meddler.ScanRow(rows, dst)
}

func (s *Store) queryAll(ctx context.Context, dst interface{}, query string, args ...interface{}) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return meddler.ScanAll(rows, dst)
}

// inTx runs fn in a transaction holding the shared maintenance lock. Failures
// are returned as *store.WriteError.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &store.WriteError{Op: op, Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Errorw("failed to rollback transaction", "op", op, "error", err)
		}
	}()

	if err := fn(tx); err != nil {
		if errors.Is(err, store.ErrCheckpointRegression) {
			return err
		}
		return &store.WriteError{Op: op, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &store.WriteError{Op: op, Err: fmt.Errorf("failed to commit transaction: %w", err)}
	}
	return nil
}
