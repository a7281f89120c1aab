package reorg

import (
	"errors"
	"fmt"
)

var (
	// ErrReorgHalted is returned when a reorg is detected under the halt policy.
	// An operator has to reset the checkpoint before indexing resumes.
	ErrReorgHalted = errors.New("chain reorganization detected, indexing halted")

	// ErrReorgTooDeep is returned when none of the tracked blocks is still
	// part of the canonical chain.
	ErrReorgTooDeep = errors.New("chain reorganization deeper than the tracked block window")
)

// ReorgDetectedError describes where the indexed chain and the node diverge.
type ReorgDetectedError struct {
	// FirstReorgBlock is the first block whose hash changed.
	FirstReorgBlock uint64
	Details         string
}

func (e *ReorgDetectedError) Error() string {
	return fmt.Sprintf("reorg detected at block %d: %s", e.FirstReorgBlock, e.Details)
}

// NewReorgError creates a new ReorgDetectedError.
func NewReorgError(firstReorgBlock uint64, details string) error {
	return &ReorgDetectedError{
		FirstReorgBlock: firstReorgBlock,
		Details:         details,
	}
}
