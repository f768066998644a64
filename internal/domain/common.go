package domain

import "github.com/shopspring/decimal"

// Direction is the side of an order or position: +1 for long, -1 for short.
type Direction int

const (
	Long  Direction = 1
	Short Direction = -1
)

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	return -d
}

// Decimal returns the direction as a signed decimal multiplier.
func (d Direction) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(d))
}

// String returns a human-readable side name.
func (d Direction) String() string {
	if d == Long {
		return "long"
	}
	return "short"
}

// OrderType identifies the kind of an order request.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop-limit"
	OrderTypeModify    OrderType = "modify"
	OrderTypeClose     OrderType = "close"
	OrderTypeReduce    OrderType = "reduce"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusOpen      OrderStatus = "open"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// StopLossType selects how an attached stop-loss behaves.
type StopLossType string

const (
	StopLossFixed    StopLossType = "limit"
	StopLossTrailing StopLossType = "trailing"
)
