//nolint:dupl
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

func init() {
	meddler.Default = meddler.SQLite
	meddler.Register("hash", HashMeddler{})
	meddler.Register("address", AddressMeddler{})
	meddler.Register("bigint", BigIntMeddler{})
	meddler.Register("topics", TopicsMeddler{})
}

// HashMeddler stores common.Hash values as 0x-prefixed hex strings.
type HashMeddler struct{}

func (h HashMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(sql.NullString), nil
}

func (h HashMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	ptr, ok := fieldAddr.(*common.Hash)
	if !ok {
		return fmt.Errorf("expected *common.Hash, got %T", fieldAddr)
	}
	if !ns.Valid {
		*ptr = common.Hash{}
		return nil
	}
	*ptr = common.HexToHash(ns.String)
	return nil
}

func (h HashMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	hash, ok := field.(common.Hash)
	if !ok {
		return nil, fmt.Errorf("expected common.Hash, got %T", field)
	}
	return hash.Hex(), nil
}

// AddressMeddler stores common.Address values in EIP-55 checksum form.
type AddressMeddler struct{}

func (a AddressMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(sql.NullString), nil
}

func (a AddressMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	ptr, ok := fieldAddr.(*common.Address)
	if !ok {
		return fmt.Errorf("expected *common.Address, got %T", fieldAddr)
	}
	if !ns.Valid {
		*ptr = common.Address{}
		return nil
	}
	*ptr = common.HexToAddress(ns.String)
	return nil
}

func (a AddressMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	address, ok := field.(common.Address)
	if !ok {
		return nil, fmt.Errorf("expected common.Address, got %T", field)
	}
	return address.Hex(), nil
}

// BigIntMeddler stores *big.Int values as base-10 text so uint256 values
// survive without precision loss.
type BigIntMeddler struct{}

func (b BigIntMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(sql.NullString), nil
}

func (b BigIntMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	ptr, ok := fieldAddr.(**big.Int)
	if !ok {
		return fmt.Errorf("expected **big.Int, got %T", fieldAddr)
	}
	if !ns.Valid {
		*ptr = nil
		return nil
	}
	v, ok := new(big.Int).SetString(ns.String, 10)
	if !ok {
		return fmt.Errorf("invalid decimal integer %q", ns.String)
	}
	*ptr = v
	return nil
}

func (b BigIntMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	v, ok := field.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("expected *big.Int, got %T", field)
	}
	if v == nil {
		return nil, nil
	}
	return v.String(), nil
}

// TopicsMeddler stores a topic list as a JSON array of hex strings.
type TopicsMeddler struct{}

func (t TopicsMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(sql.NullString), nil
}

func (t TopicsMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	ptr, ok := fieldAddr.(*[]common.Hash)
	if !ok {
		return fmt.Errorf("expected *[]common.Hash, got %T", fieldAddr)
	}
	if !ns.Valid || ns.String == "" {
		*ptr = nil
		return nil
	}
	return json.Unmarshal([]byte(ns.String), ptr)
}

func (t TopicsMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	topics, ok := field.([]common.Hash)
	if !ok {
		return nil, fmt.Errorf("expected []common.Hash, got %T", field)
	}
	if topics == nil {
		topics = []common.Hash{}
	}
	encoded, err := json.Marshal(topics)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}
