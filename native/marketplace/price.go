package marketplace

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceDecimals is the number of smallest units per whole currency unit,
// expressed as a power of ten.
const PriceDecimals = 9

var ErrInvalidPrice = errors.New("marketplace: invalid price")

// FormatPrice renders a price in whole currency units.
func FormatPrice(units uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -PriceDecimals).String()
}

// ParsePrice converts a whole-unit amount such as "1.5" into smallest units.
func ParsePrice(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidPrice)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPrice, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: negative amount %s", ErrInvalidPrice, s)
	}
	scaled := d.Shift(PriceDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: more than %d decimal places", ErrInvalidPrice, PriceDecimals)
	}
	value := scaled.BigInt()
	if !value.IsUint64() {
		return 0, fmt.Errorf("%w: %s overflows", ErrInvalidPrice, s)
	}
	return value.Uint64(), nil
}
