// Package checkpoint tracks the highest block height that has been fully indexed.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/logger"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/store"
)

// ErrUnavailable wraps any storage failure while reading or writing the
// checkpoint. Indexing cannot continue safely without it.
var ErrUnavailable = errors.New("checkpoint store unavailable")

// Backend is the part of store.Store the checkpoint needs.
type Backend interface {
	GetCheckpoint(ctx context.Context, name string) (*store.Checkpoint, error)
	SetCheckpoint(ctx context.Context, name string, height uint64, hash common.Hash) error
	ResetCheckpoint(ctx context.Context, name string, height uint64) error
}

// Checkpoint is the indexing progress as seen by the poll loop.
type Checkpoint struct {
	Height    uint64
	Hash      common.Hash
	UpdatedAt time.Time
	// Fresh is set when nothing was stored yet and Height was derived from the start block.
	Fresh bool
}

// Next returns the first block that still needs indexing.
func (c Checkpoint) Next(start uint64) uint64 {
	if c.Fresh {
		return start
	}
	return c.Height + 1
}

// Store reads and advances a named checkpoint.
type Store struct {
	backend Backend
	name    string
	start   uint64
	log     *logger.Logger
}

// New creates a checkpoint store for name. start is the first block indexed
// when no checkpoint exists yet.
func New(backend Backend, name string, start uint64, log *logger.Logger) *Store {
	return &Store{
		backend: backend,
		name:    name,
		start:   start,
		log:     log,
	}
}

// Name returns the checkpoint name.
func (s *Store) Name() string {
	return s.name
}

// Start returns the configured start block.
func (s *Store) Start() uint64 {
	return s.start
}

// Get returns the stored checkpoint, or a fresh one positioned just before
// the start block when none exists.
func (s *Store) Get(ctx context.Context) (Checkpoint, error) {
	cp, err := s.backend.GetCheckpoint(ctx, s.name)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("%w: failed to read checkpoint %q: %w", ErrUnavailable, s.name, err)
	}

	if cp == nil {
		height := uint64(0)
		if s.start > 0 {
			height = s.start - 1
		}
		s.log.Infow("no checkpoint stored, starting fresh",
			"name", s.name,
			"start_block", s.start,
		)
		return Checkpoint{Height: height, Fresh: true}, nil
	}

	return Checkpoint{Height: cp.Height, Hash: cp.Hash, UpdatedAt: cp.UpdatedAt}, nil
}

// Set advances the checkpoint to height. Moving it backwards fails with
// store.ErrCheckpointRegression.
func (s *Store) Set(ctx context.Context, height uint64, hash common.Hash) error {
	err := s.backend.SetCheckpoint(ctx, s.name, height, hash)
	switch {
	case err == nil:
		s.log.Debugw("checkpoint advanced", "name", s.name, "height", height)
		return nil
	case errors.Is(err, store.ErrCheckpointRegression):
		return fmt.Errorf("checkpoint %q to %d: %w", s.name, height, err)
	default:
		return fmt.Errorf("%w: failed to write checkpoint %q: %w", ErrUnavailable, s.name, err)
	}
}

// Reset moves the checkpoint to height unconditionally. This is the only way
// to move it backwards outside a reorg rewind.
func (s *Store) Reset(ctx context.Context, height uint64) error {
	if err := s.backend.ResetCheckpoint(ctx, s.name, height); err != nil {
		return fmt.Errorf("%w: failed to reset checkpoint %q: %w", ErrUnavailable, s.name, err)
	}

	s.log.Warnw("checkpoint reset", "name", s.name, "height", height)
	return nil
}
