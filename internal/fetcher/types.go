package fetcher

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/store"
)

// Result contains the results of a log fetch over [FromBlock, ToBlock].
type Result struct {
	FromBlock uint64
	ToBlock   uint64
	// Logs are ordered by (block number, tx index, log index).
	Logs []store.RawLog
	// Headers holds one header per block of the range, in order.
	Headers []*types.Header
}

// Empty reports whether the result covers no blocks.
func (r *Result) Empty() bool {
	return r.FromBlock > r.ToBlock
}

// TrackedBlocks returns the last n headers of the range as tracked blocks.
func (r *Result) TrackedBlocks(n uint64) []store.TrackedBlock {
	headers := r.Headers
	if n < uint64(len(headers)) {
		headers = headers[uint64(len(headers))-n:]
	}

	blocks := make([]store.TrackedBlock, 0, len(headers))
	for _, h := range headers {
		blocks = append(blocks, store.TrackedBlock{
			Number:     h.Number.Uint64(),
			Hash:       h.Hash(),
			ParentHash: h.ParentHash,
		})
	}
	return blocks
}

// MalformedResponseError reports a node response that is internally
// inconsistent. The whole fetch is rejected and nothing is retried.
type MalformedResponseError struct {
	FromBlock uint64
	ToBlock   uint64
	Reason    string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response for blocks [%d, %d]: %s", e.FromBlock, e.ToBlock, e.Reason)
}
