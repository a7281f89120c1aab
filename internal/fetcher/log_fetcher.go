package fetcher

import (
	"cmp"
	"context"
	"fmt"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/logger"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/rpc"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/store"
)

// Config holds the filter applied to every fetch.
type Config struct {
	Address common.Address
	Topic   common.Hash
}

// LogFetcher pulls matching logs and the headers of their blocks from the node.
type LogFetcher struct {
	cfg Config
	rpc rpc.EthClient
	log *logger.Logger
}

// NewLogFetcher creates a new log fetcher.
func NewLogFetcher(cfg Config, log *logger.Logger, rpcClient rpc.EthClient) *LogFetcher {
	return &LogFetcher{
		cfg: cfg,
		rpc: rpcClient,
		log: log,
	}
}

// Head returns the latest block height reported by the node.
func (lf *LogFetcher) Head(ctx context.Context) (uint64, error) {
	head, err := lf.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get chain head: %w", err)
	}
	return head, nil
}

// Fetch retrieves the configured event's logs over [from, to].
func (lf *LogFetcher) Fetch(ctx context.Context, from, to uint64) (*Result, error) {
	return lf.FetchLogs(ctx, from, to, lf.cfg.Address, lf.cfg.Topic)
}

// FetchLogs retrieves logs emitted by address with topic0 equal to signature
// over [from, to], together with the header of every block in the range.
// An inverted range returns an empty result without contacting the node.
//
// Headers are read before the logs and the last one is read again afterwards,
// so a reorg inside the range between the two calls is reported as a
// malformed response instead of silently dropping the new fork's logs.
func (lf *LogFetcher) FetchLogs(
	ctx context.Context,
	from, to uint64,
	address common.Address,
	signature common.Hash,
) (*Result, error) {
	result := &Result{FromBlock: from, ToBlock: to}
	if from > to {
		return result, nil
	}

	blockNums := make([]uint64, 0, to-from+1)
	for n := from; n <= to; n++ {
		blockNums = append(blockNums, n)
	}

	headers, err := lf.rpc.BatchGetBlockHeaders(ctx, blockNums)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch headers for blocks %d-%d: %w", from, to, err)
	}

	if err := validateHeaders(from, to, headers); err != nil {
		return nil, err
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{{signature}},
	}

	logs, err := lf.rpc.GetLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs for blocks %d-%d: %w", from, to, err)
	}

	tip, err := lf.rpc.GetBlockHeader(ctx, to)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read header of block %d: %w", to, err)
	}
	if tip == nil || tip.Hash() != headers[len(headers)-1].Hash() {
		return nil, &MalformedResponseError{
			FromBlock: from,
			ToBlock:   to,
			Reason:    fmt.Sprintf("block %d changed while fetching logs", to),
		}
	}

	rawLogs, err := toRawLogs(from, to, address, logs, headers)
	if err != nil {
		return nil, err
	}

	result.Logs = rawLogs
	result.Headers = headers

	lf.log.Debugw("fetched logs",
		"from_block", from,
		"to_block", to,
		"logs", len(rawLogs),
	)

	return result, nil
}

func validateHeaders(from, to uint64, headers []*types.Header) error {
	malformed := func(format string, args ...any) error {
		return &MalformedResponseError{FromBlock: from, ToBlock: to, Reason: fmt.Sprintf(format, args...)}
	}

	if uint64(len(headers)) != to-from+1 {
		return malformed("expected %d headers, got %d", to-from+1, len(headers))
	}

	for i, h := range headers {
		want := from + uint64(i)
		if h == nil || h.Number == nil || h.Number.Uint64() != want {
			return malformed("header at position %d is not block %d", i, want)
		}
		if i > 0 && h.ParentHash != headers[i-1].Hash() {
			return malformed("block %d does not link to block %d", want, want-1)
		}
	}

	return nil
}

func toRawLogs(
	from, to uint64,
	address common.Address,
	logs []types.Log,
	headers []*types.Header,
) ([]store.RawLog, error) {
	malformed := func(format string, args ...any) error {
		return &MalformedResponseError{FromBlock: from, ToBlock: to, Reason: fmt.Sprintf(format, args...)}
	}

	type identity struct {
		tx    common.Hash
		index uint
	}
	seen := make(map[identity]struct{}, len(logs))

	rawLogs := make([]store.RawLog, 0, len(logs))
	for _, l := range logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			return nil, malformed("log %s/%d at block %d is outside the range", l.TxHash.Hex(), l.Index, l.BlockNumber)
		}
		if l.Address != address {
			return nil, malformed("log %s/%d emitted by %s", l.TxHash.Hex(), l.Index, l.Address.Hex())
		}
		if l.Removed {
			return nil, malformed("log %s/%d is marked removed", l.TxHash.Hex(), l.Index)
		}
		if l.TxHash == (common.Hash{}) {
			return nil, malformed("log %d at block %d has no transaction hash", l.Index, l.BlockNumber)
		}

		header := headers[l.BlockNumber-from]
		if l.BlockHash != header.Hash() {
			return nil, malformed("log %s/%d references block hash %s, header is %s",
				l.TxHash.Hex(), l.Index, l.BlockHash.Hex(), header.Hash().Hex())
		}

		id := identity{tx: l.TxHash, index: l.Index}
		if _, ok := seen[id]; ok {
			return nil, malformed("duplicate log %s/%d", l.TxHash.Hex(), l.Index)
		}
		seen[id] = struct{}{}

		rawLogs = append(rawLogs, store.RawLog{
			BlockNumber:    l.BlockNumber,
			BlockHash:      l.BlockHash,
			TxHash:         l.TxHash,
			TxIndex:        l.TxIndex,
			LogIndex:       l.Index,
			Address:        l.Address,
			Topics:         slices.Clone(l.Topics),
			Data:           slices.Clone(l.Data),
			BlockTimestamp: header.Time,
		})
	}

	slices.SortStableFunc(rawLogs, compareLogs)

	return rawLogs, nil
}

func compareLogs(a, b store.RawLog) int {
	if c := cmp.Compare(a.BlockNumber, b.BlockNumber); c != 0 {
		return c
	}
	if c := cmp.Compare(a.TxIndex, b.TxIndex); c != 0 {
		return c
	}
	return cmp.Compare(a.LogIndex, b.LogIndex)
}
