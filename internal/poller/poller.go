// Package poller drives indexing: one sequential cycle at a time it plans a
// block range, fetches and decodes its logs, writes them and advances the
// checkpoint.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/checkpoint"
	internalcommon "github.com/gordonmurray/eth-blockchain-pipeline/internal/common"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/fetcher"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/logger"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/metrics"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/reorg"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/retry"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/rpc"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/config"
	pkgreorg "github.com/gordonmurray/eth-blockchain-pipeline/pkg/reorg"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/store"
)

// Loop states.
const (
	StateIdle              = "idle"
	StateDetermineRange    = "determine_range"
	StateFetch             = "fetch"
	StateDecode            = "decode"
	StateWrite             = "write"
	StateAdvanceCheckpoint = "advance_checkpoint"
	StateSleep             = "sleep"
)

// Fetcher reads the chain.
type Fetcher interface {
	Head(ctx context.Context) (uint64, error)
	Fetch(ctx context.Context, from, to uint64) (*fetcher.Result, error)
}

// Decoder turns fetched logs into writer entries.
type Decoder interface {
	DecodeBatch(logs []store.RawLog) ([]store.Entry, int)
}

// Writer persists a batch atomically.
type Writer interface {
	WriteBatch(ctx context.Context, batch *store.Batch) (store.WriteResult, error)
}

// Checkpointer reads and advances the checkpoint.
type Checkpointer interface {
	Get(ctx context.Context) (checkpoint.Checkpoint, error)
	Set(ctx context.Context, height uint64, hash common.Hash) error
}

// Config holds the poll loop settings.
type Config struct {
	PollInterval      time.Duration
	ConfirmationDepth uint64
	MaxBlockRange     uint64
	StartBlock        uint64
	TrackBlocks       uint64
	WriteTimeout      time.Duration
	RPCRetry          *config.RetryConfig
	WriteRetry        *config.RetryConfig
}

// ConfigFrom extracts the poll loop settings from the service configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		PollInterval:      cfg.Indexer.PollInterval.Duration,
		ConfirmationDepth: cfg.Indexer.ConfirmationDepth,
		MaxBlockRange:     cfg.Indexer.MaxBlockRange,
		StartBlock:        cfg.Indexer.StartBlock,
		TrackBlocks:       cfg.Reorg.TrackBlocks,
		WriteTimeout:      cfg.Storage.WriteTimeout.Duration,
		RPCRetry:          cfg.RPC.Retry,
		WriteRetry:        cfg.Storage.Retry,
	}
}

// StageError is a cycle failure attributed to the stage where it happened.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must stop the loop instead of deferring the cycle.
func IsFatal(err error) bool {
	return errors.Is(err, checkpoint.ErrUnavailable) ||
		errors.Is(err, store.ErrCheckpointRegression) ||
		errors.Is(err, reorg.ErrReorgHalted) ||
		errors.Is(err, reorg.ErrReorgTooDeep)
}

// CycleResult describes one completed cycle.
type CycleResult struct {
	Head              uint64
	Range             Range
	HasRange          bool
	Logs              int
	DecodeErrors      int
	RawLogsInserted   int
	PurchasesInserted int
	// Rewound is set when the cycle rolled back indexed data after a reorg.
	Rewound bool
	// CaughtUp is set when no eligible block is left after this cycle.
	CaughtUp bool
}

// Poller is the single sequential worker of the indexing path.
type Poller struct {
	cfg         Config
	fetcher     Fetcher
	decoder     Decoder
	writer      Writer
	checkpoints Checkpointer
	guard       pkgreorg.Guard
	rpcRetry    *retry.Retrier
	writeRetry  *retry.Retrier
	log         *logger.Logger
	metrics     *metrics.Metrics

	// cp is the loop's view of the checkpoint, only touched by the loop itself.
	cp     checkpoint.Checkpoint
	loaded bool

	mu     sync.Mutex
	status Status
}

// New creates a poller. guard may be nil to skip reorg checks; m may be nil.
func New(
	cfg Config,
	f Fetcher,
	d Decoder,
	w Writer,
	cp Checkpointer,
	guard pkgreorg.Guard,
	log *logger.Logger,
	m *metrics.Metrics,
) *Poller {
	if m == nil {
		m = metrics.New()
	}

	return &Poller{
		cfg:         cfg,
		fetcher:     f,
		decoder:     d,
		writer:      w,
		checkpoints: cp,
		guard:       guard,
		rpcRetry:    retry.New(cfg.RPCRetry, log, m),
		writeRetry:  retry.New(cfg.WriteRetry, log, m),
		log:         log,
		metrics:     m,
		status:      Status{State: StateIdle},
	}
}

// Run loads the checkpoint and indexes until ctx is cancelled. A cycle that
// fails is deferred to the next poll; only fatal errors are returned.
// Cancellation returns nil.
func (p *Poller) Run(ctx context.Context) error {
	p.setRunning(true)
	defer p.setRunning(false)

	if err := p.load(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		p.fail(err)
		return err
	}

	p.log.Infow("poll loop started",
		"checkpoint", p.cp.Height,
		"fresh", p.cp.Fresh,
		"poll_interval", p.cfg.PollInterval,
		"max_block_range", p.cfg.MaxBlockRange,
		"confirmation_depth", p.cfg.ConfirmationDepth,
	)

	for {
		result, err := p.RunCycle(ctx)
		if ctx.Err() != nil {
			p.setState(StateIdle)
			p.log.Infow("poll loop stopped", "checkpoint", p.cp.Height)
			return nil
		}

		if err != nil {
			if IsFatal(err) {
				p.fail(err)
				p.setState(StateIdle)
				p.log.Errorw("poll loop halted", "error", err)
				return err
			}

			stage := StateIdle
			var stageErr *StageError
			if errors.As(err, &stageErr) {
				stage = stageErr.Stage
			}
			p.metrics.CycleErrorInc(stage)
			p.log.Warnw("cycle deferred", "stage", stage, "checkpoint", p.cp.Height, "error", err)
		} else if !result.CaughtUp {
			continue
		}

		p.setState(StateSleep)
		select {
		case <-ctx.Done():
			p.setState(StateIdle)
			p.log.Infow("poll loop stopped", "checkpoint", p.cp.Height)
			return nil
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// RunCycle executes one cycle. The checkpoint is loaded on first use.
func (p *Poller) RunCycle(ctx context.Context) (CycleResult, error) {
	start := time.Now()
	var result CycleResult

	if err := p.load(ctx); err != nil {
		return result, err
	}

	p.setState(StateDetermineRange)

	var head uint64
	err := p.rpcRetry.Do(ctx, "head", rpc.IsTransient, func() error {
		var err error
		head, err = p.fetcher.Head(ctx)
		return err
	})
	if err != nil {
		return p.cycleFailed(result, StateDetermineRange, err)
	}
	result.Head = head
	p.metrics.SetProgress(p.cp.Height, head)

	rng, ok := PlanRange(p.cp, head, p.cfg.ConfirmationDepth, p.cfg.MaxBlockRange, p.cfg.StartBlock)
	if !ok {
		result.CaughtUp = true
		p.cycleDone(start, result, store.WriteResult{})
		return result, nil
	}
	result.Range = rng
	result.HasRange = true

	p.setState(StateFetch)

	fetchStart := time.Now()
	var fetched *fetcher.Result
	err = p.rpcRetry.Do(ctx, "fetch", isRetryableFetch, func() error {
		var err error
		fetched, err = p.fetcher.Fetch(ctx, rng.From, rng.To)
		return err
	})
	p.metrics.ObserveFetch(time.Since(fetchStart))
	if err != nil {
		return p.cycleFailed(result, StateFetch, fmt.Errorf("blocks %d-%d: %w", rng.From, rng.To, err))
	}
	result.Logs = len(fetched.Logs)

	if p.guard != nil && p.guard.Enabled() && len(fetched.Headers) > 0 {
		rewound, err := p.guard.Verify(ctx, p.cp, fetched.Headers[0])
		if err != nil {
			return p.cycleFailed(result, StateFetch, err)
		}
		if rewound != nil {
			p.cp = *rewound
			p.updateStatus(func(s *Status) {
				s.Checkpoint = rewound.Height
				s.CheckpointHash = rewound.Hash
			})
			result.Rewound = true
			p.cycleDone(start, result, store.WriteResult{})
			return result, nil
		}
	}

	p.setState(StateDecode)

	entries, decodeErrors := p.decoder.DecodeBatch(fetched.Logs)
	result.DecodeErrors = decodeErrors
	p.metrics.DecodeErrors.Add(float64(decodeErrors))

	p.setState(StateWrite)

	batch := &store.Batch{
		FromBlock: rng.From,
		ToBlock:   rng.To,
		Entries:   entries,
		Blocks:    fetched.TrackedBlocks(p.cfg.TrackBlocks),
	}
	if rng.To+1 > p.cfg.TrackBlocks {
		batch.PruneBelow = rng.To + 1 - p.cfg.TrackBlocks
	}

	writeStart := time.Now()
	var written store.WriteResult
	err = p.writeRetry.Do(ctx, "write", isRetryableWrite, func() error {
		writeCtx, cancel := p.storeContext(ctx)
		defer cancel()

		var err error
		written, err = p.writer.WriteBatch(writeCtx, batch)
		return err
	})
	p.metrics.ObserveWrite(time.Since(writeStart))
	if err != nil {
		return p.cycleFailed(result, StateWrite, fmt.Errorf("blocks %d-%d: %w", rng.From, rng.To, err))
	}
	result.RawLogsInserted = written.RawLogsInserted
	result.PurchasesInserted = written.PurchasesInserted

	p.setState(StateAdvanceCheckpoint)

	lastHash := fetched.Headers[len(fetched.Headers)-1].Hash()
	setCtx, cancel := p.storeContext(ctx)
	err = p.checkpoints.Set(setCtx, rng.To, lastHash)
	cancel()
	if err != nil {
		return p.cycleFailed(result, StateAdvanceCheckpoint, err)
	}
	p.cp = checkpoint.Checkpoint{Height: rng.To, Hash: lastHash, UpdatedAt: time.Now()}
	p.updateStatus(func(s *Status) {
		s.Checkpoint = rng.To
		s.CheckpointHash = lastHash
	})

	result.CaughtUp = rng.To+p.cfg.ConfirmationDepth >= head
	p.metrics.SetProgress(rng.To, head)
	p.cycleDone(start, result, written)

	p.log.Infow("indexed blocks",
		"from_block", rng.From,
		"to_block", rng.To,
		"logs", result.Logs,
		"purchases_inserted", written.PurchasesInserted,
		"raw_logs_inserted", written.RawLogsInserted,
		"decode_errors", decodeErrors,
		"head", head,
	)

	return result, nil
}

// storeContext bounds a single storage call by the write timeout.
func (p *Poller) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.WriteTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.cfg.WriteTimeout)
}

// load reads the checkpoint once.
func (p *Poller) load(ctx context.Context) error {
	if p.loaded {
		return nil
	}

	getCtx, cancel := p.storeContext(ctx)
	defer cancel()

	cp, err := p.checkpoints.Get(getCtx)
	if err != nil {
		return err
	}
	p.cp = cp
	p.loaded = true

	p.updateStatus(func(s *Status) {
		s.Checkpoint = cp.Height
		s.CheckpointHash = cp.Hash
		s.Fresh = cp.Fresh
	})
	p.metrics.CurrentBlock.Set(float64(cp.Height))

	return nil
}

func (p *Poller) cycleFailed(result CycleResult, stage string, err error) (CycleResult, error) {
	if !IsFatal(err) {
		err = &StageError{Stage: stage, Err: err}
	}
	p.fail(err)
	p.metrics.ComponentHealthSet(internalcommon.ComponentPoller, false)
	return result, err
}

func (p *Poller) cycleDone(start time.Time, result CycleResult, written store.WriteResult) {
	blocks := uint64(0)
	if result.HasRange && !result.Rewound {
		blocks = result.Range.Blocks()
	}
	p.metrics.ObserveCycle(time.Since(start), written.RawLogsInserted, written.PurchasesInserted, blocks)
	p.metrics.ComponentHealthSet(internalcommon.ComponentPoller, true)

	p.updateStatus(func(s *Status) {
		s.Head = result.Head
		s.LastCycle = time.Now()
		s.LastError = ""
		s.Cycles++
		s.Fresh = p.cp.Fresh
	})
}

// isRetryableFetch retries transient RPC failures. Malformed responses are
// never retried, whatever their message contains.
func isRetryableFetch(err error) bool {
	var malformed *fetcher.MalformedResponseError
	if errors.As(err, &malformed) {
		return false
	}
	return rpc.IsTransient(err)
}

// isRetryableWrite retries every storage failure except cancellation and
// batches that can never be written.
func isRetryableWrite(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, store.ErrInvalidBatch)
}
