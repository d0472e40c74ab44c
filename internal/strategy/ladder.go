package strategy

import (
	"fmt"

	"ladder_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Ladder is a symmetric set of buy and sell levels around a spot price.
// Buy levels descend in price, sell levels ascend; level 1 is closest to spot.
type Ladder struct {
	SpotPrice  decimal.Decimal
	BuyLevels  []domain.PriceLevel
	SellLevels []domain.PriceLevel
}

// NewLadder computes numLevels levels per side at constant step offsets:
// buy_i = spot * (1 - step*i), sell_i = spot * (1 + step*i).
func NewLadder(spot decimal.Decimal, numLevels int, step decimal.Decimal) (*Ladder, error) {
	if !spot.IsPositive() {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidSpotPrice, spot.String())
	}
	if numLevels < 1 {
		return nil, fmt.Errorf("%w: %d levels", domain.ErrInvalidLadder, numLevels)
	}
	if !step.IsPositive() {
		return nil, fmt.Errorf("%w: step %s", domain.ErrInvalidLadder, step.String())
	}

	one := decimal.NewFromInt(1)
	outer := step.Mul(decimal.NewFromInt(int64(numLevels)))
	if outer.GreaterThanOrEqual(one) {
		return nil, fmt.Errorf("%w: %d levels of %s reach a non-positive buy price",
			domain.ErrInvalidLadder, numLevels, step.String())
	}

	l := &Ladder{
		SpotPrice:  spot,
		BuyLevels:  make([]domain.PriceLevel, 0, numLevels),
		SellLevels: make([]domain.PriceLevel, 0, numLevels),
	}

	for i := 1; i <= numLevels; i++ {
		offset := step.Mul(decimal.NewFromInt(int64(i)))
		l.BuyLevels = append(l.BuyLevels, domain.PriceLevel{
			Price: spot.Mul(one.Sub(offset)),
			Index: i,
			Side:  domain.SideBuy,
		})
	}

	for i := 1; i <= numLevels; i++ {
		offset := step.Mul(decimal.NewFromInt(int64(i)))
		l.SellLevels = append(l.SellLevels, domain.PriceLevel{
			Price: spot.Mul(one.Add(offset)),
			Index: i,
			Side:  domain.SideSell,
		})
	}

	return l, nil
}

// LowerBound is the outermost buy price.
func (l *Ladder) LowerBound() decimal.Decimal {
	return l.BuyLevels[len(l.BuyLevels)-1].Price
}

// UpperBound is the outermost sell price.
func (l *Ladder) UpperBound() decimal.Decimal {
	return l.SellLevels[len(l.SellLevels)-1].Price
}

// IsWithinRange reports whether price lies inside the outermost band, bounds included.
func (l *Ladder) IsWithinRange(price decimal.Decimal) bool {
	return price.GreaterThanOrEqual(l.LowerBound()) && price.LessThanOrEqual(l.UpperBound())
}

// Levels returns buy levels followed by sell levels, the placement order.
func (l *Ladder) Levels() []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(l.BuyLevels)+len(l.SellLevels))
	out = append(out, l.BuyLevels...)
	return append(out, l.SellLevels...)
}
