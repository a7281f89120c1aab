package fetcher_test

import (
	"context"
	"errors"
	"math/big"
	"syscall"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/fetcher"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/logger"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/rpc/rpctest"
	rpcmocks "github.com/gordonmurray/eth-blockchain-pipeline/pkg/rpc/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testTopic    = common.HexToHash("0x2c5b5fc5e5c3b1c85fba2c1d7a4c0b3e8b8d7f4b2f0e6b1d9a4c3b2e1f0d9c8b")
	otherTopic   = common.HexToHash("0x01")
)

func createTestHeader(number uint64, parent common.Hash) *types.Header {
	return &types.Header{
		Number:     new(big.Int).SetUint64(number),
		ParentHash: parent,
		Time:       1_700_000_000 + number*12,
		Difficulty: big.NewInt(1),
	}
}

func createTestHeaders(from, to uint64) []*types.Header {
	headers := make([]*types.Header, 0, to-from+1)
	parent := common.HexToHash("0xabcdef")
	for n := from; n <= to; n++ {
		h := createTestHeader(n, parent)
		headers = append(headers, h)
		parent = h.Hash()
	}
	return headers
}

func createTestLog(header *types.Header, txIndex, index uint) types.Log {
	return types.Log{
		Address:     testContract,
		Topics:      []common.Hash{testTopic},
		BlockNumber: header.Number.Uint64(),
		BlockHash:   header.Hash(),
		TxHash:      common.BigToHash(big.NewInt(int64(header.Number.Uint64()*1000 + uint64(txIndex)))),
		TxIndex:     txIndex,
		Index:       index,
	}
}

func setupTestLogFetcher(t *testing.T) (*fetcher.LogFetcher, *rpcmocks.EthClient) {
	t.Helper()

	mockRPC := rpcmocks.NewEthClient(t)
	lf := fetcher.NewLogFetcher(
		fetcher.Config{Address: testContract, Topic: testTopic},
		logger.NewNopLogger(),
		mockRPC,
	)
	return lf, mockRPC
}

func TestLogFetcher_Fetch_InvertedRange(t *testing.T) {
	lf, _ := setupTestLogFetcher(t)

	result, err := lf.Fetch(context.Background(), 11, 10)
	require.NoError(t, err)
	require.True(t, result.Empty())
	require.Empty(t, result.Logs)
	require.Empty(t, result.Headers)
}

func TestLogFetcher_Fetch_Success(t *testing.T) {
	lf, mockRPC := setupTestLogFetcher(t)
	ctx := context.Background()

	headers := createTestHeaders(100, 102)
	// Returned out of order on purpose.
	logs := []types.Log{
		createTestLog(headers[2], 0, 0),
		createTestLog(headers[0], 1, 3),
		createTestLog(headers[0], 0, 1),
		createTestLog(headers[0], 0, 0),
	}

	mockRPC.EXPECT().GetLogs(ctx, mock.MatchedBy(func(q ethereum.FilterQuery) bool {
		return q.FromBlock.Uint64() == 100 &&
			q.ToBlock.Uint64() == 102 &&
			len(q.Addresses) == 1 && q.Addresses[0] == testContract &&
			len(q.Topics) == 1 && len(q.Topics[0]) == 1 && q.Topics[0][0] == testTopic
	})).Return(logs, nil).Once()
	mockRPC.EXPECT().BatchGetBlockHeaders(ctx, []uint64{100, 101, 102}).Return(headers, nil).Once()
	mockRPC.EXPECT().GetBlockHeader(ctx, uint64(102)).Return(headers[2], nil).Once()

	result, err := lf.Fetch(ctx, 100, 102)
	require.NoError(t, err)
	require.Equal(t, uint64(100), result.FromBlock)
	require.Equal(t, uint64(102), result.ToBlock)
	require.Len(t, result.Headers, 3)
	require.Len(t, result.Logs, 4)

	type position struct {
		block          uint64
		txIndex, index uint
	}
	got := make([]position, 0, len(result.Logs))
	for _, l := range result.Logs {
		got = append(got, position{l.BlockNumber, l.TxIndex, l.LogIndex})
	}
	require.Equal(t, []position{
		{100, 0, 0},
		{100, 0, 1},
		{100, 1, 3},
		{102, 0, 0},
	}, got)

	require.Equal(t, headers[0].Time, result.Logs[0].BlockTimestamp)
	require.Equal(t, headers[2].Time, result.Logs[3].BlockTimestamp)
}

func TestLogFetcher_Fetch_NoLogs(t *testing.T) {
	lf, mockRPC := setupTestLogFetcher(t)
	ctx := context.Background()

	headers := createTestHeaders(5, 6)
	mockRPC.EXPECT().GetLogs(ctx, mock.Anything).Return([]types.Log{}, nil).Once()
	mockRPC.EXPECT().BatchGetBlockHeaders(ctx, []uint64{5, 6}).Return(headers, nil).Once()
	mockRPC.EXPECT().GetBlockHeader(ctx, uint64(6)).Return(headers[1], nil).Once()

	result, err := lf.Fetch(ctx, 5, 6)
	require.NoError(t, err)
	require.False(t, result.Empty())
	require.Empty(t, result.Logs)
	require.Len(t, result.Headers, 2)
}

func TestLogFetcher_Fetch_RPCErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("logs", func(t *testing.T) {
		lf, mockRPC := setupTestLogFetcher(t)
		mockRPC.EXPECT().BatchGetBlockHeaders(ctx, []uint64{1, 2}).Return(createTestHeaders(1, 2), nil).Once()
		mockRPC.EXPECT().GetLogs(ctx, mock.Anything).Return(nil, syscall.ECONNREFUSED).Once()

		result, err := lf.Fetch(ctx, 1, 2)
		require.Nil(t, result)
		require.ErrorIs(t, err, syscall.ECONNREFUSED)
		require.Contains(t, err.Error(), "failed to fetch logs")
	})

	t.Run("headers", func(t *testing.T) {
		lf, mockRPC := setupTestLogFetcher(t)
		mockRPC.EXPECT().BatchGetBlockHeaders(ctx, mock.Anything).Return(nil, ethereum.NotFound).Once()

		result, err := lf.Fetch(ctx, 1, 2)
		require.Nil(t, result)
		require.ErrorIs(t, err, ethereum.NotFound)
		require.Contains(t, err.Error(), "failed to fetch headers")
	})

	t.Run("tip re-read", func(t *testing.T) {
		lf, mockRPC := setupTestLogFetcher(t)
		mockRPC.EXPECT().BatchGetBlockHeaders(ctx, []uint64{1, 2}).Return(createTestHeaders(1, 2), nil).Once()
		mockRPC.EXPECT().GetLogs(ctx, mock.Anything).Return(nil, nil).Once()
		mockRPC.EXPECT().GetBlockHeader(ctx, uint64(2)).Return(nil, syscall.ECONNRESET).Once()

		result, err := lf.Fetch(ctx, 1, 2)
		require.Nil(t, result)
		require.ErrorIs(t, err, syscall.ECONNRESET)
	})
}

func TestLogFetcher_Fetch_ReorgDuringFetch(t *testing.T) {
	headers := createTestHeaders(10, 12)

	forked := types.CopyHeader(headers[2])
	forked.Extra = []byte("fork")

	tests := []struct {
		name string
		tip  *types.Header
	}{
		{name: "tip replaced", tip: forked},
		{name: "tip missing", tip: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lf, mockRPC := setupTestLogFetcher(t)
			ctx := context.Background()

			mockRPC.EXPECT().BatchGetBlockHeaders(ctx, []uint64{10, 11, 12}).Return(headers, nil).Once()
			mockRPC.EXPECT().GetLogs(ctx, mock.Anything).Return([]types.Log{}, nil).Once()
			mockRPC.EXPECT().GetBlockHeader(ctx, uint64(12)).Return(tt.tip, nil).Once()

			result, err := lf.Fetch(ctx, 10, 12)
			require.Nil(t, result)

			var malformed *fetcher.MalformedResponseError
			require.ErrorAs(t, err, &malformed)
			require.Contains(t, malformed.Reason, "block 12 changed while fetching logs")
		})
	}
}

func TestLogFetcher_Fetch_Malformed(t *testing.T) {
	headers := createTestHeaders(10, 12)

	tests := []struct {
		name    string
		logs    func() []types.Log
		headers func() []*types.Header
		reason  string
	}{
		{
			name: "log outside range",
			logs: func() []types.Log {
				l := createTestLog(headers[0], 0, 0)
				l.BlockNumber = 13
				return []types.Log{l}
			},
			reason: "outside the range",
		},
		{
			name: "log from another address",
			logs: func() []types.Log {
				l := createTestLog(headers[1], 0, 0)
				l.Address = common.HexToAddress("0x01")
				return []types.Log{l}
			},
			reason: "emitted by",
		},
		{
			name: "removed log",
			logs: func() []types.Log {
				l := createTestLog(headers[1], 0, 0)
				l.Removed = true
				return []types.Log{l}
			},
			reason: "marked removed",
		},
		{
			name: "missing transaction hash",
			logs: func() []types.Log {
				l := createTestLog(headers[1], 0, 0)
				l.TxHash = common.Hash{}
				return []types.Log{l}
			},
			reason: "no transaction hash",
		},
		{
			name: "block hash differs from header",
			logs: func() []types.Log {
				l := createTestLog(headers[1], 0, 0)
				l.BlockHash = common.HexToHash("0xbad")
				return []types.Log{l}
			},
			reason: "references block hash",
		},
		{
			name: "duplicate identity",
			logs: func() []types.Log {
				l := createTestLog(headers[2], 0, 0)
				return []types.Log{l, l}
			},
			reason: "duplicate log",
		},
		{
			name: "missing header",
			headers: func() []*types.Header {
				return headers[:2]
			},
			reason: "expected 3 headers, got 2",
		},
		{
			name: "header out of position",
			headers: func() []*types.Header {
				return []*types.Header{headers[0], headers[2], headers[1]}
			},
			reason: "is not block 11",
		},
		{
			name: "broken parent linkage",
			headers: func() []*types.Header {
				orphan := createTestHeader(12, common.HexToHash("0xdead"))
				return []*types.Header{headers[0], headers[1], orphan}
			},
			reason: "does not link",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lf, mockRPC := setupTestLogFetcher(t)
			ctx := context.Background()

			logs := []types.Log{}
			if tt.logs != nil {
				logs = tt.logs()
			}
			returned := headers
			if tt.headers != nil {
				returned = tt.headers()
			}

			mockRPC.EXPECT().BatchGetBlockHeaders(ctx, []uint64{10, 11, 12}).Return(returned, nil).Once()
			// header validation fails before the logs are read
			mockRPC.EXPECT().GetLogs(ctx, mock.Anything).Return(logs, nil).Maybe()
			mockRPC.EXPECT().GetBlockHeader(ctx, uint64(12)).Return(headers[2], nil).Maybe()

			result, err := lf.Fetch(ctx, 10, 12)
			require.Nil(t, result)

			var malformed *fetcher.MalformedResponseError
			require.True(t, errors.As(err, &malformed), "expected MalformedResponseError, got %v", err)
			require.Equal(t, uint64(10), malformed.FromBlock)
			require.Equal(t, uint64(12), malformed.ToBlock)
			require.Contains(t, malformed.Reason, tt.reason)
		})
	}
}

func TestLogFetcher_Head(t *testing.T) {
	lf, mockRPC := setupTestLogFetcher(t)
	ctx := context.Background()

	mockRPC.EXPECT().BlockNumber(ctx).Return(uint64(1234), nil).Once()
	head, err := lf.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1234), head)

	mockRPC.EXPECT().BlockNumber(ctx).Return(uint64(0), syscall.ECONNRESET).Once()
	_, err = lf.Head(ctx)
	require.ErrorIs(t, err, syscall.ECONNRESET)
}

func TestLogFetcher_FetchLogs_Chain(t *testing.T) {
	chain := rpctest.NewChain(20)
	chain.AddLog(types.Log{Address: testContract, Topics: []common.Hash{testTopic}, BlockNumber: 3, Data: []byte{1}})
	chain.AddLog(types.Log{Address: testContract, Topics: []common.Hash{otherTopic}, BlockNumber: 3})
	chain.AddLog(types.Log{Address: common.HexToAddress("0x02"), Topics: []common.Hash{testTopic}, BlockNumber: 4})
	chain.AddLog(types.Log{Address: testContract, Topics: []common.Hash{testTopic}, BlockNumber: 7, Data: []byte{2}})
	chain.AddLog(types.Log{Address: testContract, Topics: []common.Hash{testTopic}, BlockNumber: 15})

	lf := fetcher.NewLogFetcher(fetcher.Config{Address: testContract, Topic: testTopic}, logger.NewNopLogger(), chain)

	result, err := lf.Fetch(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, result.Headers, 10)
	require.Len(t, result.Logs, 2)

	require.Equal(t, uint64(3), result.Logs[0].BlockNumber)
	require.Equal(t, []byte{1}, result.Logs[0].Data)
	require.Equal(t, chain.Header(3).Hash(), result.Logs[0].BlockHash)
	require.Equal(t, rpctest.GenesisTime+3*12, result.Logs[0].BlockTimestamp)
	require.Equal(t, uint64(7), result.Logs[1].BlockNumber)

	require.Equal(t, 1, chain.Calls(rpctest.MethodGetLogs))
	// one batch for the range plus the re-read of block 10
	require.Equal(t, 2, chain.Calls(rpctest.MethodGetBlockByNumber))
}

func TestResult_TrackedBlocks(t *testing.T) {
	headers := createTestHeaders(1, 5)
	result := &fetcher.Result{FromBlock: 1, ToBlock: 5, Headers: headers}

	tests := []struct {
		name  string
		n     uint64
		first uint64
		count int
	}{
		{name: "window smaller than range", n: 2, first: 4, count: 2},
		{name: "window equal to range", n: 5, first: 1, count: 5},
		{name: "window larger than range", n: 64, first: 1, count: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks := result.TrackedBlocks(tt.n)
			require.Len(t, blocks, tt.count)
			require.Equal(t, tt.first, blocks[0].Number)

			last := blocks[len(blocks)-1]
			require.Equal(t, uint64(5), last.Number)
			require.Equal(t, headers[4].Hash(), last.Hash)
			require.Equal(t, headers[4].ParentHash, last.ParentHash)
		})
	}
}
