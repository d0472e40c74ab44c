package strategy

import (
	"fmt"

	"ladder_go/internal/domain"

	"github.com/shopspring/decimal"
)

// PoolParams are the fixed weights and swap fee of the weighted pool.
// Asset A is the quote asset, asset B the base asset.
type PoolParams struct {
	WeightA decimal.Decimal
	WeightB decimal.Decimal
	SwapFee decimal.Decimal
}

// SpotPriceModel derives the spot price (asset A per asset B) from pool balances.
// It is stateless and safe for concurrent use.
type SpotPriceModel struct {
	params PoolParams
}

// NewSpotPriceModel creates a model for the given pool parameters.
func NewSpotPriceModel(params PoolParams) *SpotPriceModel {
	return &SpotPriceModel{params: params}
}

// Price computes (A/wA) / (B/wB) / (1 - fee).
func (m *SpotPriceModel) Price(assetA, assetB domain.BaseUnits) (decimal.Decimal, error) {
	snap := domain.BalanceSnapshot{AssetA: assetA, AssetB: assetB}
	if err := snap.Validate(); err != nil {
		return decimal.Zero, err
	}

	weightedA := assetA.Decimal().Div(m.params.WeightA)
	weightedB := assetB.Decimal().Div(m.params.WeightB)

	base := weightedA.Div(weightedB)
	return base.Div(decimal.NewFromInt(1).Sub(m.params.SwapFee)), nil
}

// PriceOf is a convenience wrapper for a full snapshot.
func (m *SpotPriceModel) PriceOf(s domain.BalanceSnapshot) (decimal.Decimal, error) {
	price, err := m.Price(s.AssetA, s.AssetB)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger %d: %w", s.LedgerSeq, err)
	}
	return price, nil
}
