package store

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func entry(block uint64, txHash common.Hash, logIndex uint, decoded bool) Entry {
	e := Entry{Log: RawLog{BlockNumber: block, TxHash: txHash, LogIndex: logIndex}}
	if decoded {
		e.Purchase = &Purchase{TxHash: txHash, LogIndex: logIndex, BlockNumber: block, ProductID: big.NewInt(1), Price: big.NewInt(1)}
	}
	return e
}

func TestBatch_Validate(t *testing.T) {
	tx := common.HexToHash("0x01")

	mismatched := entry(10, tx, 0, true)
	mismatched.Purchase.LogIndex = 1

	testCases := []struct {
		name    string
		batch   Batch
		wantErr bool
	}{
		{name: "empty", batch: Batch{FromBlock: 5, ToBlock: 5}},
		{name: "in range", batch: Batch{FromBlock: 10, ToBlock: 12, Entries: []Entry{entry(10, tx, 0, true), entry(12, tx, 1, false)}}},
		{name: "inverted range", batch: Batch{FromBlock: 12, ToBlock: 10}, wantErr: true},
		{name: "below range", batch: Batch{FromBlock: 10, ToBlock: 12, Entries: []Entry{entry(9, tx, 0, false)}}, wantErr: true},
		{name: "above range", batch: Batch{FromBlock: 10, ToBlock: 12, Entries: []Entry{entry(13, tx, 0, false)}}, wantErr: true},
		{name: "purchase identity mismatch", batch: Batch{FromBlock: 10, ToBlock: 12, Entries: []Entry{mismatched}}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.batch.Validate()
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidBatch)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestBatch_Purchases(t *testing.T) {
	batch := Batch{
		FromBlock: 1,
		ToBlock:   3,
		Entries: []Entry{
			entry(1, common.HexToHash("0x01"), 0, true),
			entry(2, common.HexToHash("0x02"), 0, false),
			entry(3, common.HexToHash("0x03"), 0, true),
		},
	}

	purchases := batch.Purchases()
	require.Len(t, purchases, 2)
	require.Equal(t, uint64(1), purchases[0].BlockNumber)
	require.Equal(t, uint64(3), purchases[1].BlockNumber)
}

func TestWriteError(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("cycle: %w", &WriteError{Op: "write batch", Err: cause})

	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	require.Equal(t, "write batch", writeErr.Op)
	require.ErrorIs(t, err, cause)
	require.EqualError(t, err, "cycle: storage write failed during write batch: disk full")
}

func TestPurchaseFilter_RowLimit(t *testing.T) {
	testCases := []struct {
		name   string
		filter PurchaseFilter
		want   int
	}{
		{name: "unset", filter: PurchaseFilter{}, want: DefaultPurchaseLimit},
		{name: "negative", filter: PurchaseFilter{Limit: -3}, want: DefaultPurchaseLimit},
		{name: "explicit", filter: PurchaseFilter{Limit: 25}, want: 25},
		{name: "clamped", filter: PurchaseFilter{Limit: MaxPurchaseLimit + 1}, want: MaxPurchaseLimit},
		{name: "look-ahead", filter: PurchaseFilter{Limit: 25, LookAhead: true}, want: 26},
		{name: "look-ahead at max", filter: PurchaseFilter{Limit: MaxPurchaseLimit, LookAhead: true}, want: MaxPurchaseLimit + 1},
		{name: "look-ahead over max", filter: PurchaseFilter{Limit: 5000, LookAhead: true}, want: MaxPurchaseLimit + 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.filter.RowLimit())
		})
	}
}
