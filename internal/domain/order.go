package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a ladder level or order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderStatus is the ledger-reported state of a resting order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusUnknown   OrderStatus = "unknown"
)

// ParseOrderStatus maps a ledger status string, treating anything unrecognised as unknown.
func ParseOrderStatus(s string) OrderStatus {
	switch OrderStatus(s) {
	case OrderStatusPending, OrderStatusFilled, OrderStatusCancelled:
		return OrderStatus(s)
	case "open":
		return OrderStatusPending
	default:
		return OrderStatusUnknown
	}
}

// OrderHandle identifies a submitted order on the ledger (transaction hash).
type OrderHandle string

// PriceLevel is one discrete step of the ladder. Never mutated after construction.
type PriceLevel struct {
	Price decimal.Decimal
	Index int // 1..N, 1 is closest to spot
	Side  Side
}

// Key returns the ladder slot label, e.g. "buy_3".
func (l PriceLevel) Key() string {
	return LevelKey(l.Side, l.Index)
}

// LevelKey builds the "{side}_{index}" label used by the active order set.
func LevelKey(side Side, index int) string {
	return string(side) + "_" + strconv.Itoa(index)
}

// OrderRequest is what the ledger client needs to submit a limit order.
type OrderRequest struct {
	Side   Side
	Amount BaseUnits // size in asset B
	Price  BaseUnits // asset A per asset B
}

// OrderReceipt is returned by the ledger for an accepted submission.
type OrderReceipt struct {
	Handle      OrderHandle
	SubmittedAt time.Time
}

// Order is a resting ladder order. Owned by the OrderManager once placed.
type Order struct {
	Handle   OrderHandle     `json:"handle"`
	Price    decimal.Decimal `json:"price"`
	Size     decimal.Decimal `json:"size"`
	Side     Side            `json:"side"`
	LevelKey string          `json:"level_key"`
	PlacedAt time.Time       `json:"placed_at"`
}
