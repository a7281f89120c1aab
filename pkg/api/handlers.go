package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gordonmurray/eth-blockchain-pipeline/internal/common"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/logger"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/poller"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/store"
)

// StatusProvider exposes the state of the poll loop.
type StatusProvider interface {
	Status() poller.Status
}

// PurchaseReader is the read side of the store used by the API.
type PurchaseReader interface {
	QueryPurchases(ctx context.Context, filter store.PurchaseFilter) ([]*store.Purchase, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// Handler handles HTTP requests for the API.
type Handler struct {
	status StatusProvider
	reader PurchaseReader
	log    *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(status StatusProvider, reader PurchaseReader, log *logger.Logger) *Handler {
	return &Handler{
		status: status,
		reader: reader,
		log:    log,
	}
}

// Health reports whether the poll loop is running.
// @Summary Health check
// @Description Reports whether the poll loop is running
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Indexer is running"
// @Failure 503 {object} HealthResponse "Indexer is not running"
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	s := h.status.Status()

	response := HealthResponse{
		Status:     "ok",
		State:      s.State,
		Checkpoint: s.Checkpoint,
		LagBlocks:  s.Lag(),
		Timestamp:  time.Now(),
	}

	code := http.StatusOK
	if !s.Running {
		response.Status = "stopped"
		code = http.StatusServiceUnavailable
	}

	respondJSON(w, code, response)
}

// GetStatus returns the current state of the poll loop.
// @Summary Poll loop status
// @Description Current state of the poll loop, checkpoint and chain head
// @Tags Status
// @Produce json
// @Success 200 {object} StatusResponse "Poll loop status"
// @Router /status [get]
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, newStatusResponse(h.status.Status()))
}

// GetPurchases lists indexed purchases.
// @Summary List purchases
// @Description Indexed purchases ordered by block number and log index
// @Tags Purchases
// @Produce json
// @Param buyer query string false "Filter by buyer address"
// @Param product_id query string false "Filter by product id (decimal)"
// @Param from_block query integer false "Lowest block number"
// @Param to_block query integer false "Highest block number"
// @Param limit query int false "Maximum number of purchases to return" default(100)
// @Param offset query int false "Number of purchases to skip" default(0)
// @Success 200 {object} PurchasesResponse "Purchases with pagination info"
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /purchases [get]
func (h *Handler) GetPurchases(w http.ResponseWriter, r *http.Request) {
	filter, err := parsePurchaseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid query parameters: %v", err))
		return
	}

	limit := filter.Limit
	filter.LookAhead = true

	purchases, err := h.reader.QueryPurchases(r.Context(), filter)
	if err != nil {
		h.log.Errorf("Failed to query purchases: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to query purchases")
		return
	}

	hasMore := len(purchases) > limit
	if hasMore {
		purchases = purchases[:limit]
	}

	out := make([]Purchase, 0, len(purchases))
	for _, p := range purchases {
		out = append(out, newPurchase(p))
	}

	respondJSON(w, http.StatusOK, PurchasesResponse{
		Purchases: out,
		Pagination: PaginationResult{
			Limit:   limit,
			Offset:  filter.Offset,
			HasMore: hasMore,
		},
	})
}

// GetStats returns storage statistics.
// @Summary Storage statistics
// @Description Row counts and block bounds of the stored data
// @Tags Stats
// @Produce json
// @Success 200 {object} StatsResponse "Storage statistics"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /stats [get]
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reader.Stats(r.Context())
	if err != nil {
		h.log.Errorf("Failed to get stats: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	respondJSON(w, http.StatusOK, newStatsResponse(stats))
}

// parsePurchaseFilter parses HTTP query parameters into a PurchaseFilter.
func parsePurchaseFilter(r *http.Request) (store.PurchaseFilter, error) {
	q := r.URL.Query()
	filter := store.PurchaseFilter{Limit: defaultLimit}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > maxLimit {
			return filter, fmt.Errorf("invalid limit: must be between 1 and %d", maxLimit)
		}
		filter.Limit = limit
	}

	if offsetStr := q.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("invalid offset: must be non-negative")
		}
		filter.Offset = offset
	}

	if fromBlockStr := q.Get("from_block"); fromBlockStr != "" {
		fromBlock, err := strconv.ParseUint(fromBlockStr, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid from_block")
		}
		filter.FromBlock = &fromBlock
	}

	if toBlockStr := q.Get("to_block"); toBlockStr != "" {
		toBlock, err := strconv.ParseUint(toBlockStr, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid to_block")
		}
		filter.ToBlock = &toBlock
	}

	if filter.FromBlock != nil && filter.ToBlock != nil && *filter.FromBlock > *filter.ToBlock {
		return filter, fmt.Errorf("from_block cannot be greater than to_block")
	}

	if buyer := q.Get("buyer"); buyer != "" {
		addr, err := common.ParseAddress(buyer)
		if err != nil {
			return filter, fmt.Errorf("invalid buyer: %w", err)
		}
		filter.Buyer = &addr
	}

	if productID := q.Get("product_id"); productID != "" {
		id, ok := new(big.Int).SetString(productID, 10)
		if !ok || id.Sign() < 0 {
			return filter, fmt.Errorf("invalid product_id")
		}
		filter.ProductID = id
	}

	return filter, nil
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	// encode first so a failure can still change the status
	encoded, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	_, _ = w.Write(encoded)
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
