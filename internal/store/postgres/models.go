package postgres

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/store"
)

var entities = []interface{}{
	RawLog{},
	Purchase{},
	Checkpoint{},
	TrackedBlock{},
}

type RawLog struct {
	ID               uint64 `gorm:"primaryKey"`
	BlockNumber      uint64 `gorm:"not null;index"`
	BlockHash        string `gorm:"type:varchar(66);not null"`
	TransactionHash  string `gorm:"type:varchar(66);not null;uniqueIndex:idx_raw_logs_identity"`
	TransactionIndex uint   `gorm:"not null"`
	LogIndex         uint   `gorm:"not null;uniqueIndex:idx_raw_logs_identity"`
	ContractAddress  string `gorm:"type:varchar(42);not null;index"`
	Topics           string `gorm:"type:text;not null"`
	Data             string `gorm:"type:text;not null"`
	BlockTimestamp   uint64 `gorm:"not null"`
	IndexedAt        int64  `gorm:"not null"`
}

type Purchase struct {
	ID              uint64 `gorm:"primaryKey"`
	TransactionHash string `gorm:"type:varchar(66);not null;uniqueIndex:idx_purchases_identity"`
	LogIndex        uint   `gorm:"not null;uniqueIndex:idx_purchases_identity"`
	BlockNumber     uint64 `gorm:"not null;index"`
	BuyerAddress    string `gorm:"type:varchar(42);not null;index"`
	ProductID       string `gorm:"type:numeric(78,0);not null;index"`
	PriceWei        string `gorm:"type:numeric(78,0);not null"`
	Quantity        uint64 `gorm:"not null"`
	EventTimestamp  uint64 `gorm:"not null"`
}

type Checkpoint struct {
	Name        string `gorm:"primaryKey;type:varchar(64)"`
	BlockNumber uint64 `gorm:"not null"`
	BlockHash   string `gorm:"type:varchar(66);not null"`
	UpdatedAt   int64  `gorm:"not null;autoUpdateTime:false"`
}

type TrackedBlock struct {
	BlockNumber uint64 `gorm:"primaryKey;autoIncrement:false"`
	BlockHash   string `gorm:"type:varchar(66);not null"`
	ParentHash  string `gorm:"type:varchar(66);not null"`
}

func newRawLog(l *store.RawLog, indexedAt time.Time) (*RawLog, error) {
	topics := l.Topics
	if topics == nil {
		topics = []common.Hash{}
	}
	encoded, err := json.Marshal(topics)
	if err != nil {
		return nil, err
	}
	return &RawLog{
		BlockNumber:      l.BlockNumber,
		BlockHash:        l.BlockHash.Hex(),
		TransactionHash:  l.TxHash.Hex(),
		TransactionIndex: l.TxIndex,
		LogIndex:         l.LogIndex,
		ContractAddress:  l.Address.Hex(),
		Topics:           string(encoded),
		Data:             hexutil.Encode(l.Data),
		BlockTimestamp:   l.BlockTimestamp,
		IndexedAt:        indexedAt.Unix(),
	}, nil
}

func (r *RawLog) toStore() (store.RawLog, error) {
	var topics []common.Hash
	if err := json.Unmarshal([]byte(r.Topics), &topics); err != nil {
		return store.RawLog{}, fmt.Errorf("invalid topics of log %s/%d: %w", r.TransactionHash, r.LogIndex, err)
	}
	data, err := hexutil.Decode(r.Data)
	if err != nil {
		return store.RawLog{}, fmt.Errorf("invalid data of log %s/%d: %w", r.TransactionHash, r.LogIndex, err)
	}
	return store.RawLog{
		BlockNumber:    r.BlockNumber,
		BlockHash:      common.HexToHash(r.BlockHash),
		TxHash:         common.HexToHash(r.TransactionHash),
		TxIndex:        r.TransactionIndex,
		LogIndex:       r.LogIndex,
		Address:        common.HexToAddress(r.ContractAddress),
		Topics:         topics,
		Data:           data,
		BlockTimestamp: r.BlockTimestamp,
		IndexedAt:      time.Unix(r.IndexedAt, 0).UTC(),
	}, nil
}

func newPurchase(p *store.Purchase) *Purchase {
	return &Purchase{
		TransactionHash: p.TxHash.Hex(),
		LogIndex:        p.LogIndex,
		BlockNumber:     p.BlockNumber,
		BuyerAddress:    p.Buyer.Hex(),
		ProductID:       p.ProductID.String(),
		PriceWei:        p.Price.String(),
		Quantity:        p.Quantity,
		EventTimestamp:  p.Timestamp,
	}
}

func (p *Purchase) toStore() (*store.Purchase, error) {
	productID, ok := new(big.Int).SetString(p.ProductID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid product id %q", p.ProductID)
	}
	price, ok := new(big.Int).SetString(p.PriceWei, 10)
	if !ok {
		return nil, fmt.Errorf("invalid price %q", p.PriceWei)
	}
	return &store.Purchase{
		TxHash:      common.HexToHash(p.TransactionHash),
		LogIndex:    p.LogIndex,
		BlockNumber: p.BlockNumber,
		Buyer:       common.HexToAddress(p.BuyerAddress),
		ProductID:   productID,
		Price:       price,
		Quantity:    p.Quantity,
		Timestamp:   p.EventTimestamp,
	}, nil
}
