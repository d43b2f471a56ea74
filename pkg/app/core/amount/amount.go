// Package amount provides the integer monetary type shared by native currency
// and token balances.
//
// Values are counted in base units with a fixed decimal scale of 9
// (1.0 == 1_000_000_000 units), so comparisons and arithmetic are exact.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"math/bits"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits carried by one whole unit.
const Decimals = 9

// One is a single whole unit expressed in base units.
const One Amount = 1_000_000_000

// Amount is a non-negative count of base units.
type Amount uint64

var (
	ErrOverflow      = errors.New("amount overflow")
	ErrUnderflow     = errors.New("amount underflow")
	ErrInvalidAmount = errors.New("invalid amount")
)

// Parse converts a decimal string such as "2.5" into base units.
// Negative values, more than Decimals fractional digits and values that do not
// fit in 64 bits are rejected.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	if d.Sign() < 0 {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}

	shifted := d.Shift(Decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, s, Decimals)
	}

	units := shifted.BigInt()
	if !units.IsUint64() {
		return 0, fmt.Errorf("%w: %q", ErrOverflow, s)
	}
	return Amount(units.Uint64()), nil
}

// MustParse is Parse for constants and tests; it panics on error.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Units returns the raw base-unit count.
func (a Amount) Units() uint64 { return uint64(a) }

// Decimal returns the value as a decimal number of whole units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(a)), -Decimals)
}

// String formats the amount in whole units, e.g. "2.5".
func (a Amount) String() string {
	return a.Decimal().String()
}

// Add returns a+b or ErrOverflow.
func (a Amount) Add(b Amount) (Amount, error) {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %s + %s", ErrOverflow, a, b)
	}
	return Amount(sum), nil
}

// Sub returns a-b or ErrUnderflow when b > a.
func (a Amount) Sub(b Amount) (Amount, error) {
	diff, borrow := bits.Sub64(uint64(a), uint64(b), 0)
	if borrow != 0 {
		return 0, fmt.Errorf("%w: %s - %s", ErrUnderflow, a, b)
	}
	return Amount(diff), nil
}

// MulUint64 returns a*k or ErrOverflow.
func (a Amount) MulUint64(k uint64) (Amount, error) {
	hi, lo := bits.Mul64(uint64(a), k)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %s * %d", ErrOverflow, a, k)
	}
	return Amount(lo), nil
}

// MarshalText encodes the amount as a decimal string.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses a decimal string produced by MarshalText.
func (a *Amount) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
