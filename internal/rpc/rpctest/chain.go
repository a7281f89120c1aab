// Package rpctest provides an in-memory ledger for tests. A Chain implements
// the EthClient interface directly and can also be served over an in-process
// JSON-RPC server so the real client is exercised end to end.
package rpctest

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	pkgrpc "github.com/gordonmurray/eth-blockchain-pipeline/pkg/rpc"
)

const (
	MethodBlockNumber      = "eth_blockNumber"
	MethodGetLogs          = "eth_getLogs"
	MethodGetBlockByNumber = "eth_getBlockByNumber"

	// GenesisTime is the timestamp of block 0. Blocks are 12 seconds apart.
	GenesisTime = uint64(1_700_000_000)
	blockTime   = 12
)

var _ pkgrpc.EthClient = (*Chain)(nil)

// Chain is a linear chain of headers with attached logs.
type Chain struct {
	mu       sync.Mutex
	headers  []*types.Header
	logs     []types.Log
	fork     uint64
	failures map[string][]error
	calls    map[string]int
}

// NewChain creates a chain whose head is at height head (blocks 0..head).
func NewChain(head uint64) *Chain {
	c := &Chain{
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
	c.headers = append(c.headers, c.newHeader(0, common.Hash{}))
	c.mineLocked(head)
	return c
}

func (c *Chain) newHeader(number uint64, parent common.Hash) *types.Header {
	return &types.Header{
		ParentHash: parent,
		Number:     new(big.Int).SetUint64(number),
		Time:       GenesisTime + number*blockTime,
		Difficulty: big.NewInt(1),
		GasLimit:   30_000_000,
		Extra:      []byte(fmt.Sprintf("fork-%d", c.fork)),
	}
}

func (c *Chain) mineLocked(n uint64) {
	for range n {
		parent := c.headers[len(c.headers)-1]
		c.headers = append(c.headers, c.newHeader(parent.Number.Uint64()+1, parent.Hash()))
	}
}

// Mine appends n blocks.
func (c *Chain) Mine(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mineLocked(n)
}

// Head returns the current head height.
func (c *Chain) Head() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.headers) - 1)
}

// Header returns the header at height n, or nil beyond the head.
func (c *Chain) Header(n uint64) *types.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n >= uint64(len(c.headers)) {
		return nil
	}
	return types.CopyHeader(c.headers[n])
}

// AddLog attaches a log to block l.BlockNumber. Block hash, log index and
// transaction index are assigned from the chain, the transaction hash is
// derived when left empty. The stored log is returned.
func (c *Chain) AddLog(l types.Log) types.Log {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l.BlockNumber >= uint64(len(c.headers)) {
		panic(fmt.Sprintf("block %d beyond head %d", l.BlockNumber, len(c.headers)-1))
	}

	var index uint
	for _, existing := range c.logs {
		if existing.BlockNumber == l.BlockNumber {
			index++
		}
	}

	l.BlockHash = c.headers[l.BlockNumber].Hash()
	l.Index = index
	l.TxIndex = index
	if l.TxHash == (common.Hash{}) {
		var buf [24]byte
		binary.BigEndian.PutUint64(buf[0:], l.BlockNumber)
		binary.BigEndian.PutUint64(buf[8:], uint64(index))
		binary.BigEndian.PutUint64(buf[16:], c.fork)
		l.TxHash = crypto.Keccak256Hash([]byte("tx"), buf[:])
	}
	l.Topics = slices.Clone(l.Topics)
	l.Data = slices.Clone(l.Data)

	c.logs = append(c.logs, l)
	return l
}

// Reorg replaces every block from height from onwards with a sibling branch of
// the same length. Logs in replaced blocks are dropped.
func (c *Chain) Reorg(from uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if from == 0 || from >= uint64(len(c.headers)) {
		panic(fmt.Sprintf("cannot reorg from %d", from))
	}

	length := uint64(len(c.headers)) - from
	c.fork++
	c.headers = c.headers[:from]
	c.mineLocked(length)

	kept := c.logs[:0]
	for _, l := range c.logs {
		if l.BlockNumber < from {
			kept = append(kept, l)
		}
	}
	c.logs = kept
}

// FailNext makes the next len(errs) calls of method fail with errs in order.
func (c *Chain) FailNext(method string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[method] = append(c.failures[method], errs...)
}

// Calls returns how many times method was invoked, failed calls included.
func (c *Chain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *Chain) enter(method string) error {
	c.calls[method]++
	if queued := c.failures[method]; len(queued) > 0 {
		c.failures[method] = queued[1:]
		return queued[0]
	}
	return nil
}

// Close implements EthClient.
func (c *Chain) Close() {}

// BlockNumber implements EthClient.
func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(MethodBlockNumber); err != nil {
		return 0, err
	}
	return uint64(len(c.headers) - 1), ctx.Err()
}

// GetLogs implements EthClient. It honours the address list, the first topic
// position and the block range of query.
func (c *Chain) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(MethodGetLogs); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	from := uint64(0)
	if query.FromBlock != nil {
		from = query.FromBlock.Uint64()
	}
	to := uint64(len(c.headers) - 1)
	if query.ToBlock != nil && query.ToBlock.Uint64() < to {
		to = query.ToBlock.Uint64()
	}

	result := []types.Log{}
	for _, l := range c.logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if len(query.Addresses) > 0 && !slices.Contains(query.Addresses, l.Address) {
			continue
		}
		if len(query.Topics) > 0 && len(query.Topics[0]) > 0 {
			if len(l.Topics) == 0 || !slices.Contains(query.Topics[0], l.Topics[0]) {
				continue
			}
		}
		cp := l
		cp.Topics = slices.Clone(l.Topics)
		cp.Data = slices.Clone(l.Data)
		result = append(result, cp)
	}

	slices.SortStableFunc(result, func(a, b types.Log) int {
		if a.BlockNumber != b.BlockNumber {
			return int(a.BlockNumber) - int(b.BlockNumber)
		}
		return int(a.Index) - int(b.Index)
	})

	return result, nil
}

// GetBlockHeader implements EthClient.
func (c *Chain) GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(MethodGetBlockByNumber); err != nil {
		return nil, err
	}
	if blockNum >= uint64(len(c.headers)) {
		return nil, ethereum.NotFound
	}
	return types.CopyHeader(c.headers[blockNum]), ctx.Err()
}

// BatchGetBlockHeaders implements EthClient. One failure slot is consumed per batch.
func (c *Chain) BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(MethodGetBlockByNumber); err != nil {
		return nil, err
	}

	headers := make([]*types.Header, len(blockNums))
	for i, n := range blockNums {
		if n >= uint64(len(c.headers)) {
			return nil, fmt.Errorf("block %d: %w", n, ethereum.NotFound)
		}
		headers[i] = types.CopyHeader(c.headers[n])
	}
	return headers, ctx.Err()
}

// NewRPCClient serves the chain over an in-process JSON-RPC server under the
// eth namespace and returns a client connected to it.
func NewRPCClient(c *Chain) (*rpc.Client, func(), error) {
	server := rpc.NewServer()
	if err := server.RegisterName("eth", &ethService{chain: c}); err != nil {
		return nil, nil, err
	}

	client := rpc.DialInProc(server)
	return client, func() {
		client.Close()
		server.Stop()
	}, nil
}

// ethService exposes the chain with the JSON-RPC method names of a node.
type ethService struct {
	chain *Chain
}

type filterArg struct {
	Address   []common.Address `json:"address"`
	Topics    [][]common.Hash  `json:"topics"`
	FromBlock *hexutil.Big     `json:"fromBlock"`
	ToBlock   *hexutil.Big     `json:"toBlock"`
}

func (s *ethService) BlockNumber(ctx context.Context) (hexutil.Uint64, error) {
	head, err := s.chain.BlockNumber(ctx)
	return hexutil.Uint64(head), err
}

func (s *ethService) GetBlockByNumber(ctx context.Context, number rpc.BlockNumber, _ bool) (*types.Header, error) {
	if number < 0 {
		number = rpc.BlockNumber(s.chain.Head())
	}
	header, err := s.chain.GetBlockHeader(ctx, uint64(number))
	if err == ethereum.NotFound {
		return nil, nil
	}
	return header, err
}

func (s *ethService) GetLogs(ctx context.Context, crit filterArg) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		Addresses: crit.Address,
		Topics:    crit.Topics,
	}
	if crit.FromBlock != nil {
		query.FromBlock = crit.FromBlock.ToInt()
	}
	if crit.ToBlock != nil {
		query.ToBlock = crit.ToBlock.ToInt()
	}
	return s.chain.GetLogs(ctx, query)
}
