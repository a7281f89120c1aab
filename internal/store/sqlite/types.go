package sqlite

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/store"
)

type rawLogRow struct {
	ID             int64          `meddler:"id,pk"`
	BlockNumber    uint64         `meddler:"block_number"`
	BlockHash      common.Hash    `meddler:"block_hash,hash"`
	TxHash         common.Hash    `meddler:"transaction_hash,hash"`
	TxIndex        uint           `meddler:"transaction_index"`
	LogIndex       uint           `meddler:"log_index"`
	Address        common.Address `meddler:"contract_address,address"`
	Topics         []common.Hash  `meddler:"topics,topics"`
	Data           string         `meddler:"data"`
	BlockTimestamp uint64         `meddler:"block_timestamp"`
	IndexedAt      int64          `meddler:"indexed_at"`
}

type purchaseRow struct {
	ID          int64          `meddler:"id,pk"`
	TxHash      common.Hash    `meddler:"transaction_hash,hash"`
	LogIndex    uint           `meddler:"log_index"`
	BlockNumber uint64         `meddler:"block_number"`
	Buyer       common.Address `meddler:"buyer_address,address"`
	ProductID   *big.Int       `meddler:"product_id,bigint"`
	Price       *big.Int       `meddler:"price_wei,bigint"`
	Quantity    uint64         `meddler:"quantity"`
	Timestamp   uint64         `meddler:"event_timestamp"`
}

type checkpointRow struct {
	Name      string      `meddler:"name"`
	Height    uint64      `meddler:"block_number"`
	Hash      common.Hash `meddler:"block_hash,hash"`
	UpdatedAt int64       `meddler:"updated_at"`
}

type trackedBlockRow struct {
	Number     uint64      `meddler:"block_number"`
	Hash       common.Hash `meddler:"block_hash,hash"`
	ParentHash common.Hash `meddler:"parent_hash,hash"`
}

func newRawLogRow(l *store.RawLog, indexedAt time.Time) *rawLogRow {
	return &rawLogRow{
		BlockNumber:    l.BlockNumber,
		BlockHash:      l.BlockHash,
		TxHash:         l.TxHash,
		TxIndex:        l.TxIndex,
		LogIndex:       l.LogIndex,
		Address:        l.Address,
		Topics:         l.Topics,
		Data:           hexutil.Encode(l.Data),
		BlockTimestamp: l.BlockTimestamp,
		IndexedAt:      indexedAt.Unix(),
	}
}

func (r *rawLogRow) toRawLog() (store.RawLog, error) {
	data, err := hexutil.Decode(r.Data)
	if err != nil {
		return store.RawLog{}, fmt.Errorf("invalid data of log %s/%d: %w", r.TxHash.Hex(), r.LogIndex, err)
	}
	return store.RawLog{
		BlockNumber:    r.BlockNumber,
		BlockHash:      r.BlockHash,
		TxHash:         r.TxHash,
		TxIndex:        r.TxIndex,
		LogIndex:       r.LogIndex,
		Address:        r.Address,
		Topics:         r.Topics,
		Data:           data,
		BlockTimestamp: r.BlockTimestamp,
		IndexedAt:      time.Unix(r.IndexedAt, 0).UTC(),
	}, nil
}

func newPurchaseRow(p *store.Purchase) *purchaseRow {
	return &purchaseRow{
		TxHash:      p.TxHash,
		LogIndex:    p.LogIndex,
		BlockNumber: p.BlockNumber,
		Buyer:       p.Buyer,
		ProductID:   p.ProductID,
		Price:       p.Price,
		Quantity:    p.Quantity,
		Timestamp:   p.Timestamp,
	}
}

func (r *purchaseRow) toPurchase() *store.Purchase {
	return &store.Purchase{
		TxHash:      r.TxHash,
		LogIndex:    r.LogIndex,
		BlockNumber: r.BlockNumber,
		Buyer:       r.Buyer,
		ProductID:   r.ProductID,
		Price:       r.Price,
		Quantity:    r.Quantity,
		Timestamp:   r.Timestamp,
	}
}

func (r *checkpointRow) toCheckpoint() *store.Checkpoint {
	return &store.Checkpoint{
		Name:      r.Name,
		Height:    r.Height,
		Hash:      r.Hash,
		UpdatedAt: time.Unix(r.UpdatedAt, 0).UTC(),
	}
}
