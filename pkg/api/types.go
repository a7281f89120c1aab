package api

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/poller"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/store"
)

const (
	defaultLimit = store.DefaultPurchaseLimit
	maxLimit     = store.MaxPurchaseLimit
)

// Purchase is the JSON form of a decoded purchase. Integer amounts are
// rendered as decimal strings since they may exceed 2^53.
type Purchase struct {
	TxHash      string `json:"tx_hash"`
	LogIndex    uint   `json:"log_index"`
	BlockNumber uint64 `json:"block_number"`
	Buyer       string `json:"buyer"`
	ProductID   string `json:"product_id"`
	Price       string `json:"price"`
	Quantity    uint64 `json:"quantity"`
	Timestamp   uint64 `json:"timestamp"`
}

// PurchasesResponse is returned by the purchases endpoint.
type PurchasesResponse struct {
	Purchases  []Purchase       `json:"purchases"`
	Pagination PaginationResult `json:"pagination"`
}

// PaginationResult contains pagination metadata.
type PaginationResult struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status     string    `json:"status"`
	State      string    `json:"state"`
	Checkpoint uint64    `json:"checkpoint"`
	LagBlocks  uint64    `json:"lag_blocks"`
	Timestamp  time.Time `json:"timestamp"`
}

// StatusResponse mirrors poller.Status.
type StatusResponse struct {
	State          string     `json:"state"`
	Running        bool       `json:"running"`
	Checkpoint     uint64     `json:"checkpoint"`
	CheckpointHash string     `json:"checkpoint_hash,omitempty"`
	Fresh          bool       `json:"fresh"`
	Head           uint64     `json:"head"`
	LagBlocks      uint64     `json:"lag_blocks"`
	Cycles         uint64     `json:"cycles"`
	LastCycle      *time.Time `json:"last_cycle,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	LastErrorAt    *time.Time `json:"last_error_at,omitempty"`
}

// StatsResponse represents storage statistics.
type StatsResponse struct {
	RawLogs        uint64 `json:"raw_logs"`
	Purchases      uint64 `json:"purchases"`
	DistinctBuyers uint64 `json:"distinct_buyers"`
	MinBlock       uint64 `json:"min_block"`
	MaxBlock       uint64 `json:"max_block"`
}

func newPurchase(p *store.Purchase) Purchase {
	out := Purchase{
		TxHash:      p.TxHash.Hex(),
		LogIndex:    p.LogIndex,
		BlockNumber: p.BlockNumber,
		Buyer:       p.Buyer.Hex(),
		Quantity:    p.Quantity,
		Timestamp:   p.Timestamp,
	}
	if p.ProductID != nil {
		out.ProductID = p.ProductID.String()
	}
	if p.Price != nil {
		out.Price = p.Price.String()
	}
	return out
}

func newStatusResponse(s poller.Status) StatusResponse {
	out := StatusResponse{
		State:      s.State,
		Running:    s.Running,
		Checkpoint: s.Checkpoint,
		Fresh:      s.Fresh,
		Head:       s.Head,
		LagBlocks:  s.Lag(),
		Cycles:     s.Cycles,
		LastError:  s.LastError,
	}
	if s.CheckpointHash != (common.Hash{}) {
		out.CheckpointHash = s.CheckpointHash.Hex()
	}
	if !s.LastCycle.IsZero() {
		t := s.LastCycle
		out.LastCycle = &t
	}
	if !s.LastErrorAt.IsZero() {
		t := s.LastErrorAt
		out.LastErrorAt = &t
	}
	return out
}

func newStatsResponse(s store.Stats) StatsResponse {
	return StatsResponse{
		RawLogs:        s.RawLogs,
		Purchases:      s.Purchases,
		DistinctBuyers: s.DistinctBuyers,
		MinBlock:       s.MinBlock,
		MaxBlock:       s.MaxBlock,
	}
}
