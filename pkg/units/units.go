// Package units converts between human-readable amounts and integer base units.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// NativeDecimals is the number of base units (wei) per native coin exponent
const NativeDecimals = 18

// maxDigits is the decimal length of MaxUint256
const maxDigits = 78

// maxInput bounds the raw text accepted by the parsers
const maxInput = 128

// MaxUint256 is the largest amount the ledger stores
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// InRange reports whether v is a valid uint256
func InRange(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(MaxUint256) <= 0
}

// ParseNative parses a decimal native-currency amount such as "0.01" into wei
func ParseNative(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if len(s) > maxInput {
		return nil, fmt.Errorf("native amount is longer than %d characters", maxInput)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid native amount %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("native amount %q is negative", s)
	}
	if d.Sign() == 0 {
		return new(big.Int), nil
	}

	// the exponent must be bounded before Shift materializes 10^exp
	digits := int64(len(d.Coefficient().String()))
	scale := int64(d.Exponent()) + NativeDecimals
	if digits+scale > maxDigits {
		return nil, fmt.Errorf("native amount %q exceeds uint256", s)
	}
	if -scale >= digits {
		return nil, fmt.Errorf("native amount %q has more than %d decimal places", s, NativeDecimals)
	}

	wei := d.Shift(NativeDecimals)
	if !wei.IsInteger() {
		return nil, fmt.Errorf("native amount %q has more than %d decimal places", s, NativeDecimals)
	}
	v := wei.BigInt()
	if !InRange(v) {
		return nil, fmt.Errorf("native amount %q exceeds uint256", s)
	}
	return v, nil
}

// FormatNative renders wei as a decimal native-currency amount
func FormatNative(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -NativeDecimals).String()
}

// ParseAmount parses a base-10 integer amount in [0, MaxUint256]
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if len(s) > maxInput {
		return nil, fmt.Errorf("amount is longer than %d characters", maxInput)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount %q is negative", s)
	}
	if v.Cmp(MaxUint256) > 0 {
		return nil, fmt.Errorf("amount %q exceeds uint256", s)
	}
	return v, nil
}
