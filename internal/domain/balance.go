package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BaseUnitDecimals is the number of implied decimal places in ledger amounts.
const BaseUnitDecimals = 7

// BaseUnits is a ledger amount scaled by 10^7.
// All amounts crossing the ledger boundary are strictly int64.
type BaseUnits int64

// Decimal returns the display value of the amount.
func (u BaseUnits) Decimal() decimal.Decimal {
	return decimal.New(int64(u), -BaseUnitDecimals)
}

// String formats the amount with exactly seven decimal places.
func (u BaseUnits) String() string {
	return FormatBalance(u)
}

// FormatBalance renders base units as a decimal string by placing the point
// seven digits from the right: 12345678901 -> "1234.5678901".
func FormatBalance(u BaseUnits) string {
	return u.Decimal().StringFixed(BaseUnitDecimals)
}

// ToBaseUnits converts a display value to base units, flooring any extra precision.
func ToBaseUnits(d decimal.Decimal) BaseUnits {
	return BaseUnits(d.Shift(BaseUnitDecimals).Floor().IntPart())
}

// ParseBaseUnits parses an integer amount as returned by the ledger.
func ParseBaseUnits(s string) (BaseUnits, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("parse amount %q: not an integer", s)
	}
	return BaseUnits(d.IntPart()), nil
}

// BalanceSnapshot is the pool state observed at one ledger sequence.
// It is an immutable value compared by field equality.
type BalanceSnapshot struct {
	LedgerSeq int64     `json:"ledger"`
	AssetA    BaseUnits `json:"asset_a"`
	AssetB    BaseUnits `json:"asset_b"`
}

// Validate rejects snapshots that cannot be priced.
func (s BalanceSnapshot) Validate() error {
	if s.AssetA <= 0 {
		return fmt.Errorf("%w: asset A = %s", ErrInvalidBalance, FormatBalance(s.AssetA))
	}
	if s.AssetB <= 0 {
		return fmt.Errorf("%w: asset B = %s", ErrInvalidBalance, FormatBalance(s.AssetB))
	}
	return nil
}

// HasBalanceChanged reports whether either pool amount differs from the previous
// snapshot. Without a previous snapshot nothing has changed yet.
func HasBalanceChanged(prev *BalanceSnapshot, next BalanceSnapshot) bool {
	if prev == nil {
		return false
	}
	return prev.AssetA != next.AssetA || prev.AssetB != next.AssetB
}
