package poller

import "github.com/gordonmurray/eth-blockchain-pipeline/internal/checkpoint"

// Range is an inclusive block range.
type Range struct {
	From uint64
	To   uint64
}

// Blocks returns the number of blocks in the range.
func (r Range) Blocks() uint64 {
	return r.To - r.From + 1
}

// PlanRange returns the next range to index after cp. Only blocks at least
// confirmations deep below head are eligible, and at most maxRange blocks are
// taken at once. It reports false when there is nothing to index.
func PlanRange(cp checkpoint.Checkpoint, head, confirmations, maxRange, start uint64) (Range, bool) {
	if head < confirmations || maxRange == 0 {
		return Range{}, false
	}
	safe := head - confirmations

	from := cp.Next(start)
	if from > safe {
		return Range{}, false
	}

	to := safe
	if span := safe - from; span >= maxRange {
		to = from + maxRange - 1
	}

	return Range{From: from, To: to}, true
}
