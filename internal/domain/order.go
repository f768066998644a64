package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order represents a request to transact. The id is assigned by the broker
// at acceptance, not at construction; optional prices are nil when absent.
type Order struct {
	ID         int64           `json:"id"`
	Instrument string          `json:"instrument"`
	Direction  Direction       `json:"direction"`
	Size       decimal.Decimal `json:"size"`
	Type       OrderType       `json:"type"`

	// Price is the reference price attached by the submitter (the mid at
	// submission time). Validation falls back to limit/stop prices when nil.
	Price      *decimal.Decimal `json:"price,omitempty"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice  *decimal.Decimal `json:"stop_price,omitempty"`

	// Attached exits, spawned as reduce-only children when this order fills.
	StopLossPrice   *decimal.Decimal `json:"stop_loss_price,omitempty"`
	StopLossType    StopLossType     `json:"stop_loss_type,omitempty"`
	StopDistance    *decimal.Decimal `json:"stop_distance,omitempty"`
	TakeProfitPrice *decimal.Decimal `json:"take_profit_price,omitempty"`

	ReduceOnly bool    `json:"reduce_only"`
	ParentID   int64   `json:"parent_id,omitempty"`  // order whose fill spawned this one
	RelatedID  int64   `json:"related_id,omitempty"` // target of a modify, or origin of a partial-fill split
	OCOIDs     []int64 `json:"oco_ids,omitempty"`    // siblings cancelled when this order fills or cancels

	Status     OrderStatus     `json:"status"`
	Reason     string          `json:"reason,omitempty"` // human-readable cancellation reason
	SubmitTime time.Time       `json:"submit_time"`
	FillPrice  decimal.Decimal `json:"fill_price"`
	FillTime   time.Time       `json:"fill_time"`
}

// ReferencePrice returns the price validation is performed against: the
// submitter's reference price when present, otherwise the limit price, then
// the stop price.
func (o *Order) ReferencePrice() *decimal.Decimal {
	switch {
	case o.Price != nil:
		return o.Price
	case o.LimitPrice != nil:
		return o.LimitPrice
	case o.StopPrice != nil:
		return o.StopPrice
	}
	return nil
}

// Copy returns a deep copy, safe to hand out to callers.
func (o *Order) Copy() *Order {
	c := *o
	c.Price = copyDecimal(o.Price)
	c.LimitPrice = copyDecimal(o.LimitPrice)
	c.StopPrice = copyDecimal(o.StopPrice)
	c.StopLossPrice = copyDecimal(o.StopLossPrice)
	c.StopDistance = copyDecimal(o.StopDistance)
	c.TakeProfitPrice = copyDecimal(o.TakeProfitPrice)
	if o.OCOIDs != nil {
		c.OCOIDs = append([]int64(nil), o.OCOIDs...)
	}
	return &c
}

func copyDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

// Dec is a convenience pointer constructor for optional order prices.
func Dec(d decimal.Decimal) *decimal.Decimal {
	return &d
}
