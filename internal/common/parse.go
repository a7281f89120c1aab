package common

import (
	"fmt"
	"strconv"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// ParseUint64orHex converts the given uint64 string into the number.
// It can parse the string with 0x prefix as well.
func ParseUint64orHex(val *string) (uint64, error) {
	if val == nil {
		return 0, nil
	}

	str := strings.TrimSpace(*val)
	base := 10

	if strings.HasPrefix(str, "0x") || strings.HasPrefix(str, "0X") {
		str = str[2:]
		base = 16
	}

	return strconv.ParseUint(str, base, 64)
}

// ParseAddress parses a 0x-prefixed, 40 hex character contract address.
func ParseAddress(s string) (ethcommon.Address, error) {
	s = strings.TrimSpace(s)
	if !ethcommon.IsHexAddress(s) || !strings.HasPrefix(strings.ToLower(s), "0x") {
		return ethcommon.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return ethcommon.HexToAddress(s), nil
}

func ToLowerWithTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
