package store

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrCheckpointRegression is returned when a checkpoint update would move
	// the height backwards. Only Reset and Rewind may do that.
	ErrCheckpointRegression = errors.New("checkpoint regression")

	// ErrInvalidBatch is returned for a batch whose entries fall outside its range.
	ErrInvalidBatch = errors.New("invalid batch")
)

// RawLog is a matching log exactly as the node returned it.
// Its identity is (TxHash, LogIndex).
type RawLog struct {
	BlockNumber    uint64
	BlockHash      common.Hash
	TxHash         common.Hash
	TxIndex        uint
	LogIndex       uint
	Address        common.Address
	Topics         []common.Hash
	Data           []byte
	BlockTimestamp uint64
	IndexedAt      time.Time
}

// Purchase is a decoded PurchaseMade event. Its identity is (TxHash, LogIndex).
type Purchase struct {
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
	Buyer       common.Address
	ProductID   *big.Int
	Price       *big.Int
	Quantity    uint64
	Timestamp   uint64
}

// Checkpoint records the highest block height fully indexed under Name.
// Hash is the hash of that block, zero when unknown.
type Checkpoint struct {
	Name      string
	Height    uint64
	Hash      common.Hash
	UpdatedAt time.Time
}

// TrackedBlock is a recently indexed block kept for reorg detection.
type TrackedBlock struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
}

// Entry pairs a raw log with its decoded purchase. Purchase is nil when the
// log did not decode.
type Entry struct {
	Log      RawLog
	Purchase *Purchase
}

// Batch is the unit of work for one indexing cycle over [FromBlock, ToBlock].
type Batch struct {
	FromBlock uint64
	ToBlock   uint64
	Entries   []Entry
	// Blocks are upserted into the tracked block window.
	Blocks []TrackedBlock
	// PruneBelow drops tracked blocks with a lower number. Zero disables pruning.
	PruneBelow uint64
}

// Validate checks that every entry belongs to the batch range and that each
// purchase matches the identity of its raw log.
func (b *Batch) Validate() error {
	if b.FromBlock > b.ToBlock {
		return fmt.Errorf("%w: from block %d is after to block %d", ErrInvalidBatch, b.FromBlock, b.ToBlock)
	}
	for _, e := range b.Entries {
		if e.Log.BlockNumber < b.FromBlock || e.Log.BlockNumber > b.ToBlock {
			return fmt.Errorf("%w: log %s/%d at block %d outside [%d, %d]",
				ErrInvalidBatch, e.Log.TxHash.Hex(), e.Log.LogIndex, e.Log.BlockNumber, b.FromBlock, b.ToBlock)
		}
		if p := e.Purchase; p != nil && (p.TxHash != e.Log.TxHash || p.LogIndex != e.Log.LogIndex) {
			return fmt.Errorf("%w: purchase %s/%d does not match its raw log",
				ErrInvalidBatch, p.TxHash.Hex(), p.LogIndex)
		}
	}
	return nil
}

// Purchases returns the decoded purchases of the batch.
func (b *Batch) Purchases() []*Purchase {
	purchases := make([]*Purchase, 0, len(b.Entries))
	for _, e := range b.Entries {
		if e.Purchase != nil {
			purchases = append(purchases, e.Purchase)
		}
	}
	return purchases
}

// WriteResult counts rows that did not exist before the write.
type WriteResult struct {
	RawLogsInserted   int
	PurchasesInserted int
}

const (
	DefaultPurchaseLimit = 100
	MaxPurchaseLimit     = 1000
)

// PurchaseFilter selects purchases for the diagnostics API.
type PurchaseFilter struct {
	Buyer     *common.Address
	ProductID *big.Int
	FromBlock *uint64
	ToBlock   *uint64
	Limit     int
	Offset    int

	// LookAhead reads one row past the page so the caller can tell whether
	// another page exists. The extra row is not subject to MaxPurchaseLimit.
	LookAhead bool
}

// RowLimit is the number of rows a backend reads for the filter.
func (f PurchaseFilter) RowLimit() int {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultPurchaseLimit
	}
	limit = min(limit, MaxPurchaseLimit)
	if f.LookAhead {
		limit++
	}
	return limit
}

// Stats summarises the stored data.
type Stats struct {
	RawLogs        uint64
	Purchases      uint64
	DistinctBuyers uint64
	MinBlock       uint64
	MaxBlock       uint64
}

// WriteError wraps a storage failure with the operation that failed.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("storage write failed during %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
