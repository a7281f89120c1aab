// Package decoder turns raw PurchaseMade logs into purchase records.
package decoder

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/logger"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/store"
)

const (
	// EventSignature is the canonical signature of the decoded event.
	EventSignature = "PurchaseMade(address,uint256,uint256,uint256,uint256)"

	purchaseMadeABI = `[{
		"type": "event",
		"name": "PurchaseMade",
		"anonymous": false,
		"inputs": [
			{"name": "buyer", "type": "address", "indexed": true},
			{"name": "productId", "type": "uint256", "indexed": true},
			{"name": "price", "type": "uint256", "indexed": false},
			{"name": "quantity", "type": "uint256", "indexed": false},
			{"name": "timestamp", "type": "uint256", "indexed": false}
		]
	}]`

	expectedTopics = 3
	payloadLength  = 3 * 32
	addressOffset  = common.HashLength - common.AddressLength
)

var (
	purchaseMade = mustParseEvent()

	// EventTopic is keccak256(EventSignature), the first topic of every
	// PurchaseMade log.
	EventTopic = purchaseMade.ID
)

func mustParseEvent() abi.Event {
	parsed, err := abi.JSON(strings.NewReader(purchaseMadeABI))
	if err != nil {
		panic(fmt.Sprintf("invalid PurchaseMade ABI: %v", err))
	}
	event := parsed.Events["PurchaseMade"]
	if event.Sig != EventSignature {
		panic(fmt.Sprintf("unexpected PurchaseMade signature %s", event.Sig))
	}
	return event
}

// DecodeError reports a log that carries the PurchaseMade topic but cannot be
// decoded. It is not fatal: the raw log is still stored.
type DecodeError struct {
	TxHash   common.Hash
	LogIndex uint
	Reason   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode PurchaseMade log %s/%d: %s", e.TxHash.Hex(), e.LogIndex, e.Reason)
}

// Decode returns the purchase carried by l, or nil when l is not a
// PurchaseMade log.
func Decode(l *store.RawLog) (*store.Purchase, error) {
	if len(l.Topics) == 0 || l.Topics[0] != EventTopic {
		return nil, nil
	}

	fail := func(format string, args ...interface{}) (*store.Purchase, error) {
		return nil, &DecodeError{TxHash: l.TxHash, LogIndex: l.LogIndex, Reason: fmt.Sprintf(format, args...)}
	}

	if len(l.Topics) != expectedTopics {
		return fail("expected %d topics, got %d", expectedTopics, len(l.Topics))
	}
	if len(l.Data) != payloadLength {
		return fail("expected %d bytes of data, got %d", payloadLength, len(l.Data))
	}

	buyerTopic := l.Topics[1]
	if !bytes.Equal(buyerTopic[:addressOffset], make([]byte, addressOffset)) {
		return fail("buyer topic %s is not a padded address", buyerTopic.Hex())
	}

	values, err := purchaseMade.Inputs.NonIndexed().Unpack(l.Data)
	if err != nil {
		return fail("unpack data: %v", err)
	}
	if len(values) != 3 { //nolint:mnd
		return fail("expected 3 data values, got %d", len(values))
	}

	price, ok := values[0].(*big.Int)
	if !ok {
		return fail("price has type %T", values[0])
	}
	quantity, err := toUint64("quantity", values[1])
	if err != nil {
		return fail("%v", err)
	}
	timestamp, err := toUint64("timestamp", values[2])
	if err != nil {
		return fail("%v", err)
	}

	return &store.Purchase{
		TxHash:      l.TxHash,
		LogIndex:    l.LogIndex,
		BlockNumber: l.BlockNumber,
		Buyer:       common.BytesToAddress(buyerTopic[addressOffset:]),
		ProductID:   new(big.Int).SetBytes(l.Topics[2].Bytes()),
		Price:       price,
		Quantity:    quantity,
		Timestamp:   timestamp,
	}, nil
}

// toUint64 accepts values that fit a signed 64-bit column.
func toUint64(field string, v interface{}) (uint64, error) {
	n, ok := v.(*big.Int)
	if !ok {
		return 0, fmt.Errorf("%s has type %T", field, v)
	}
	if n.BitLen() > 63 { //nolint:mnd
		return 0, fmt.Errorf("%s %s out of range", field, n)
	}
	return n.Uint64(), nil
}

// Decoder decodes batches of logs, logging and counting the failures.
type Decoder struct {
	log *logger.Logger
}

func New(log *logger.Logger) *Decoder {
	return &Decoder{log: log}
}

// DecodeBatch turns every log into a store entry. Logs that do not decode are
// kept as raw entries without a purchase; the number of decode errors is
// returned.
func (d *Decoder) DecodeBatch(logs []store.RawLog) ([]store.Entry, int) {
	entries := make([]store.Entry, len(logs))
	decodeErrors := 0

	for i := range logs {
		entries[i].Log = logs[i]

		purchase, err := Decode(&logs[i])
		if err != nil {
			decodeErrors++
			d.log.Warnw("skipping undecodable log",
				"block", logs[i].BlockNumber,
				"tx_hash", logs[i].TxHash.Hex(),
				"log_index", logs[i].LogIndex,
				"error", err)
			continue
		}
		entries[i].Purchase = purchase
	}

	return entries, decodeErrors
}
