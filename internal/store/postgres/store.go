// Package postgres implements the purchase store on PostgreSQL with gorm.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	icommon "github.com/gordonmurray/eth-blockchain-pipeline/internal/common"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/logger"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/metrics"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/retry"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/config"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/store"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const transactionBatchSize = 1000

var (
	_ store.Store = (*Store)(nil)

	identityColumns = []clause.Column{{Name: "transaction_hash"}, {Name: "log_index"}}
)

// Store is the PostgreSQL implementation of store.Store.
type Store struct {
	g   *gorm.DB
	log *logger.Logger
	now func() time.Time
}

// New connects to dsn and migrates the schema. The connection is retried
// per cfg.ConnectRetry while the server is unreachable.
func New(ctx context.Context, cfg config.StorageConfig, log *logger.Logger, m *metrics.Metrics) (*Store, error) {
	log = log.WithComponent(icommon.ComponentStore)

	var g *gorm.DB
	err := retry.New(cfg.ConnectRetry, log, m).Do(ctx, "connect postgres", nil, func() error {
		var err error
		g, err = Connect(cfg)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := g.WithContext(ctx).AutoMigrate(entities...); err != nil {
		if sqlDB, dbErr := g.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("failed to migrate postgres schema: %w", err)
	}

	log.Debug("migrated postgres entities")

	return &Store{g: g, log: log, now: time.Now}, nil
}

// Connect opens a gorm connection for cfg.DSN.
func Connect(cfg config.StorageConfig) (*gorm.DB, error) {
	gormLogLevel := gormlogger.Silent
	if cfg.LogQueries {
		gormLogLevel = gormlogger.Info
	}

	return gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:          gormlogger.Default.LogMode(gormLogLevel),
		CreateBatchSize: transactionBatchSize,
	})
}

// WriteBatch implements store.Store.
func (s *Store) WriteBatch(ctx context.Context, batch *store.Batch) (store.WriteResult, error) {
	var result store.WriteResult

	if err := batch.Validate(); err != nil {
		return result, err
	}

	indexedAt := s.now().UTC()
	rawLogs := make([]*RawLog, 0, len(batch.Entries))
	for i := range batch.Entries {
		row, err := newRawLog(&batch.Entries[i].Log, indexedAt)
		if err != nil {
			return result, err
		}
		rawLogs = append(rawLogs, row)
	}

	purchases := make([]*Purchase, 0, len(batch.Entries))
	for _, p := range batch.Purchases() {
		purchases = append(purchases, newPurchase(p))
	}

	blocks := make([]*TrackedBlock, len(batch.Blocks))
	for i, b := range batch.Blocks {
		blocks[i] = &TrackedBlock{BlockNumber: b.Number, BlockHash: b.Hash.Hex(), ParentHash: b.ParentHash.Hex()}
	}

	err := s.inTx(ctx, "write batch", func(tx *gorm.DB) error {
		if len(rawLogs) != 0 {
			res := tx.Clauses(clause.OnConflict{Columns: identityColumns, DoNothing: true}).Create(rawLogs)
			if res.Error != nil {
				return fmt.Errorf("raw logs: %w", res.Error)
			}
			result.RawLogsInserted = int(res.RowsAffected)
		}

		if len(purchases) != 0 {
			res := tx.Clauses(clause.OnConflict{Columns: identityColumns, DoNothing: true}).Create(purchases)
			if res.Error != nil {
				return fmt.Errorf("purchases: %w", res.Error)
			}
			result.PurchasesInserted = int(res.RowsAffected)
		}

		if len(blocks) != 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "block_number"}},
				DoUpdates: clause.AssignmentColumns([]string{"block_hash", "parent_hash"}),
			}).Create(blocks).Error
			if err != nil {
				return fmt.Errorf("tracked blocks: %w", err)
			}
		}

		if batch.PruneBelow > 0 {
			if err := tx.Where("block_number < ?", batch.PruneBelow).Delete(&TrackedBlock{}).Error; err != nil {
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

// GetCheckpoint implements store.Store.
func (s *Store) GetCheckpoint(ctx context.Context, name string) (*store.Checkpoint, error) {
	var row Checkpoint
	if err := s.g.WithContext(ctx).First(&row, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint %q: %w", name, err)
	}

	return &store.Checkpoint{
		Name:      row.Name,
		Height:    row.BlockNumber,
		Hash:      common.HexToHash(row.BlockHash),
		UpdatedAt: time.Unix(row.UpdatedAt, 0).UTC(),
	}, nil
}

// SetCheckpoint implements store.Store.
func (s *Store) SetCheckpoint(ctx context.Context, name string, height uint64, hash common.Hash) error {
	return s.inTx(ctx, "set checkpoint", func(tx *gorm.DB) error {
		row := &Checkpoint{Name: name, BlockNumber: height, BlockHash: hash.Hex(), UpdatedAt: s.now().Unix()}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"block_number", "block_hash", "updated_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "excluded.block_number >= checkpoints.block_number"},
			}},
		}).Create(row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %q cannot move to %d", store.ErrCheckpointRegression, name, height)
		}
		return nil
	})
}

// ResetCheckpoint implements store.Store.
func (s *Store) ResetCheckpoint(ctx context.Context, name string, height uint64) error {
	return s.inTx(ctx, "reset checkpoint", func(tx *gorm.DB) error {
		if err := tx.Where("block_number > ?", height).Delete(&TrackedBlock{}).Error; err != nil {
			return err
		}
		return s.forceCheckpoint(tx, name, height, common.Hash{})
	})
}

// Rewind implements store.Store.
func (s *Store) Rewind(ctx context.Context, name string, height uint64, hash common.Hash) error {
	return s.inTx(ctx, "rewind", func(tx *gorm.DB) error {
		for _, model := range []interface{}{&RawLog{}, &Purchase{}, &TrackedBlock{}} {
			if err := tx.Where("block_number > ?", height).Delete(model).Error; err != nil {
				return err
			}
		}
		return s.forceCheckpoint(tx, name, height, hash)
	})
}

func (s *Store) forceCheckpoint(tx *gorm.DB, name string, height uint64, hash common.Hash) error {
	row := &Checkpoint{Name: name, BlockNumber: height, BlockHash: hash.Hex(), UpdatedAt: s.now().Unix()}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"block_number", "block_hash", "updated_at"}),
	}).Create(row).Error
}

// TrackedBlocks implements store.Store.
func (s *Store) TrackedBlocks(ctx context.Context) ([]store.TrackedBlock, error) {
	var rows []TrackedBlock
	if err := s.g.WithContext(ctx).Order("block_number DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query tracked blocks: %w", err)
	}

	blocks := make([]store.TrackedBlock, len(rows))
	for i, r := range rows {
		blocks[i] = store.TrackedBlock{
			Number:     r.BlockNumber,
			Hash:       common.HexToHash(r.BlockHash),
			ParentHash: common.HexToHash(r.ParentHash),
		}
	}
	return blocks, nil
}

// RawLogs implements store.Store.
func (s *Store) RawLogs(ctx context.Context, fromBlock, toBlock uint64) ([]store.RawLog, error) {
	var rows []RawLog
	err := s.g.WithContext(ctx).
		Where("block_number >= ? AND block_number <= ?", fromBlock, toBlock).
		Order("block_number ASC, log_index ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query raw logs: %w", err)
	}

	logs := make([]store.RawLog, len(rows))
	for i := range rows {
		if logs[i], err = rows[i].toStore(); err != nil {
			return nil, err
		}
	}
	return logs, nil
}

// QueryPurchases implements store.Store.
func (s *Store) QueryPurchases(ctx context.Context, filter store.PurchaseFilter) ([]*store.Purchase, error) {
	q := s.g.WithContext(ctx).Model(&Purchase{})
	if filter.Buyer != nil {
		q = q.Where("buyer_address = ?", filter.Buyer.Hex())
	}
	if filter.ProductID != nil {
		q = q.Where("product_id = ?", filter.ProductID.String())
	}
	if filter.FromBlock != nil {
		q = q.Where("block_number >= ?", *filter.FromBlock)
	}
	if filter.ToBlock != nil {
		q = q.Where("block_number <= ?", *filter.ToBlock)
	}

	var rows []Purchase
	err := q.Order("block_number ASC, log_index ASC").
		Limit(filter.RowLimit()).
		Offset(max(filter.Offset, 0)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}

	purchases := make([]*store.Purchase, len(rows))
	for i := range rows {
		if purchases[i], err = rows[i].toStore(); err != nil {
			return nil, err
		}
	}
	return purchases, nil
}

// Stats implements store.Store.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	var stats store.Stats

	err := s.g.WithContext(ctx).Raw(`
		SELECT COUNT(*) AS raw_logs,
			COALESCE(MIN(block_number), 0) AS min_block,
			COALESCE(MAX(block_number), 0) AS max_block
		FROM raw_logs
	`).Row().Scan(&stats.RawLogs, &stats.MinBlock, &stats.MaxBlock)
	if err != nil {
		return stats, fmt.Errorf("failed to count raw logs: %w", err)
	}

	err = s.g.WithContext(ctx).Raw(`
		SELECT COUNT(*), COUNT(DISTINCT buyer_address) FROM purchases
	`).Row().Scan(&stats.Purchases, &stats.DistinctBuyers)
	if err != nil {
		return stats, fmt.Errorf("failed to count purchases: %w", err)
	}

	return stats, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.g.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) inTx(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	err := s.g.WithContext(ctx).Transaction(fn)
	if err == nil || errors.Is(err, store.ErrCheckpointRegression) {
		return err
	}
	return &store.WriteError{Op: op, Err: err}
}
