package virtual

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradesim/internal/domain"
	"tradesim/internal/ports"
)

// PlaceOrder accepts an order submission. Invalid orders transition
// straight to cancelled with a human-readable reason; only an unrecognized
// order type is surfaced as an error, since an undetected unknown type
// would leave the order stuck forever.
func (b *Broker) PlaceOrder(ctx context.Context, o *domain.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch o.Type {
	case domain.OrderTypeMarket, domain.OrderTypeLimit, domain.OrderTypeStop, domain.OrderTypeStopLimit:
		b.acceptOrder(ctx, o)
	case domain.OrderTypeModify:
		b.applyModify(ctx, o)
	case domain.OrderTypeClose:
		b.convertClose(ctx, o)
	case domain.OrderTypeReduce:
		o.Type = domain.OrderTypeMarket
		o.ReduceOnly = true
		b.acceptOrder(ctx, o)
	default:
		return fmt.Errorf("%w: %q", ports.ErrUnsupportedOrderType, o.Type)
	}
	return nil
}

// CancelOrder cancels a pending or open order, cascading to OCO siblings.
// Unknown or already-terminal ids fail silently; callers are expected to
// have read the bucket first.
func (b *Broker) CancelOrder(ctx context.Context, id int64, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[id]
	if !ok || o.Status.Terminal() {
		b.log.Debug(ctx, "cancel ignored, order not cancellable", map[string]interface{}{"order_id": id})
		return
	}
	if reason == "" {
		reason = "cancelled by user"
	}
	b.cancelLocked(ctx, o, reason)
}

// acceptOrder assigns a fresh id, registers the order as pending, then
// validates it. Validation failures cancel in place.
func (b *Broker) acceptOrder(ctx context.Context, o *domain.Order) {
	o.ID = b.allocateOrderID()
	if o.SubmitTime.IsZero() {
		o.SubmitTime = b.simTime
	}
	o.Status = domain.StatusPending
	b.orders[o.ID] = o
	b.byInstr[o.Instrument] = append(b.byInstr[o.Instrument], o.ID)

	if reason := b.validate(o); reason != "" {
		b.cancelLocked(ctx, o, reason)
		return
	}

	b.log.Info(ctx, "order accepted", map[string]interface{}{
		"order_id":   o.ID,
		"instrument": o.Instrument,
		"type":       string(o.Type),
		"side":       o.Direction.String(),
		"size":       o.Size.String(),
	})
}

// validate returns a cancellation reason, or "" when the order is sound.
// Violations are never silently corrected.
func (b *Broker) validate(o *domain.Order) string {
	if o.Instrument == "" {
		return "order has no instrument"
	}
	if o.Direction != domain.Long && o.Direction != domain.Short {
		return "order direction must be +1 or -1"
	}
	if !o.Size.IsPositive() {
		return "order size must be strictly positive"
	}
	if (o.Type == domain.OrderTypeLimit || o.Type == domain.OrderTypeStopLimit) && o.LimitPrice == nil {
		return "limit order has no limit price"
	}
	if (o.Type == domain.OrderTypeStop || o.Type == domain.OrderTypeStopLimit) && o.StopPrice == nil {
		return "stop order has no stop price"
	}

	ref := b.referencePrice(o)
	if ref == nil {
		if o.StopLossPrice != nil || o.TakeProfitPrice != nil || o.Type == domain.OrderTypeLimit {
			return "no reference price available to validate order"
		}
		return ""
	}
	dir := o.Direction.Decimal()

	// A long's stop-loss sits below the reference price, its take-profit
	// above; mirrored for shorts.
	if o.StopLossPrice != nil {
		if o.StopLossPrice.Sub(*ref).Mul(dir).Sign() >= 0 {
			return fmt.Sprintf("stop loss %s is on the wrong side of reference price %s", o.StopLossPrice, ref)
		}
	}
	if o.TakeProfitPrice != nil {
		if o.TakeProfitPrice.Sub(*ref).Mul(dir).Sign() <= 0 {
			return fmt.Sprintf("take profit %s is on the wrong side of reference price %s", o.TakeProfitPrice, ref)
		}
	}

	// A marketable limit crosses the book and is rejected rather than
	// treated as an implicit market order.
	if o.Type == domain.OrderTypeLimit {
		if o.LimitPrice.Sub(*ref).Mul(dir).Sign() > 0 {
			return fmt.Sprintf("limit price %s crosses the book (reference %s)", o.LimitPrice, ref)
		}
	}
	return ""
}

// referencePrice picks the price validation runs against: the live mid
// when paper trading, otherwise the order's own reference price.
func (b *Broker) referencePrice(o *domain.Order) *decimal.Decimal {
	if b.cfg.Paper {
		if mid, ok := b.lastPrices[o.Instrument]; ok {
			return &mid
		}
	}
	return o.ReferencePrice()
}

// applyModify mutates the target order in place. The modify request itself
// is tracked so callers can observe its outcome, but it never becomes a
// live order.
func (b *Broker) applyModify(ctx context.Context, o *domain.Order) {
	o.ID = b.allocateOrderID()
	if o.SubmitTime.IsZero() {
		o.SubmitTime = b.simTime
	}
	b.orders[o.ID] = o
	b.byInstr[o.Instrument] = append(b.byInstr[o.Instrument], o.ID)

	target, ok := b.orders[o.RelatedID]
	if !ok || target.Status.Terminal() {
		o.Status = domain.StatusCancelled
		o.Reason = fmt.Sprintf("modify target %d is not pending or open", o.RelatedID)
		b.log.Warn(ctx, "modify rejected", map[string]interface{}{"order_id": o.ID, "target_id": o.RelatedID})
		return
	}

	if o.LimitPrice != nil {
		target.LimitPrice = domain.Dec(*o.LimitPrice)
	}
	if o.StopPrice != nil {
		target.StopPrice = domain.Dec(*o.StopPrice)
	}
	if o.StopLossPrice != nil {
		target.StopLossPrice = domain.Dec(*o.StopLossPrice)
	}
	if o.TakeProfitPrice != nil {
		target.TakeProfitPrice = domain.Dec(*o.TakeProfitPrice)
	}
	if o.Size.IsPositive() {
		target.Size = o.Size
	}

	o.Status = domain.StatusFilled
	o.FillTime = b.simTime
	b.log.Info(ctx, "order modified", map[string]interface{}{"order_id": o.ID, "target_id": target.ID})
}

// convertClose turns a close request into a reduce-only market order
// against the current position.
func (b *Broker) convertClose(ctx context.Context, o *domain.Order) {
	key := o.Instrument
	if b.cfg.Hedging {
		key = b.positionKey(o.Instrument, o.Direction, true)
	}
	pos, ok := b.positions[key]
	if !ok {
		o.ID = b.allocateOrderID()
		if o.SubmitTime.IsZero() {
			o.SubmitTime = b.simTime
		}
		b.orders[o.ID] = o
		b.byInstr[o.Instrument] = append(b.byInstr[o.Instrument], o.ID)
		b.cancelLocked(ctx, o, "no open position to close")
		return
	}

	o.Type = domain.OrderTypeMarket
	o.Direction = pos.Direction().Opposite()
	o.Size = pos.NetSize.Abs()
	o.ReduceOnly = true
	b.acceptOrder(ctx, o)
}

// cancelLocked marks an order cancelled with a reason and cascades to its
// OCO siblings. Caller holds the lock.
func (b *Broker) cancelLocked(ctx context.Context, o *domain.Order, reason string) {
	o.Status = domain.StatusCancelled
	o.Reason = reason
	b.log.Info(ctx, "order cancelled", map[string]interface{}{
		"order_id":   o.ID,
		"instrument": o.Instrument,
		"reason":     reason,
	})
	for _, sib := range o.OCOIDs {
		if s, ok := b.orders[sib]; ok && !s.Status.Terminal() {
			b.cancelLocked(ctx, s, "linked order cancelled")
		}
	}
}

// spawnChildren synthesizes the reduce-only stop-loss and take-profit
// orders attached to a filled parent, linked OCO so that filling or
// cancelling one cancels the other.
func (b *Broker) spawnChildren(ctx context.Context, parent *domain.Order, size, fillPrice decimal.Decimal, now time.Time) {
	var sl, tp *domain.Order

	if parent.StopLossPrice != nil || (parent.StopLossType == domain.StopLossTrailing && parent.StopDistance != nil) {
		stopPrice := parent.StopLossPrice
		if stopPrice == nil {
			// Trailing stop given by distance only: seed it off the fill.
			p := fillPrice.Sub(parent.StopDistance.Mul(parent.Direction.Decimal()))
			stopPrice = &p
		}
		dist := parent.StopDistance
		if parent.StopLossType == domain.StopLossTrailing && dist == nil {
			d := fillPrice.Sub(*stopPrice).Abs()
			dist = &d
		}
		sl = &domain.Order{
			Instrument:   parent.Instrument,
			Direction:    parent.Direction.Opposite(),
			Size:         size,
			Type:         domain.OrderTypeStop,
			StopPrice:    domain.Dec(*stopPrice),
			StopLossType: parent.StopLossType,
			StopDistance: dist,
			ReduceOnly:   true,
			ParentID:     parent.ID,
			Status:       domain.StatusPending,
			SubmitTime:   now,
		}
		sl.ID = b.allocateOrderID()
		b.orders[sl.ID] = sl
		b.byInstr[sl.Instrument] = append(b.byInstr[sl.Instrument], sl.ID)
	}

	if parent.TakeProfitPrice != nil {
		tp = &domain.Order{
			Instrument: parent.Instrument,
			Direction:  parent.Direction.Opposite(),
			Size:       size,
			Type:       domain.OrderTypeLimit,
			LimitPrice: domain.Dec(*parent.TakeProfitPrice),
			ReduceOnly: true,
			ParentID:   parent.ID,
			Status:     domain.StatusPending,
			SubmitTime: now,
		}
		tp.ID = b.allocateOrderID()
		b.orders[tp.ID] = tp
		b.byInstr[tp.Instrument] = append(b.byInstr[tp.Instrument], tp.ID)
	}

	if sl != nil && tp != nil {
		sl.OCOIDs = append(sl.OCOIDs, tp.ID)
		tp.OCOIDs = append(tp.OCOIDs, sl.ID)
	}
	if sl != nil || tp != nil {
		fields := map[string]interface{}{"parent_id": parent.ID, "instrument": parent.Instrument}
		if sl != nil {
			fields["stop_loss_id"] = sl.ID
		}
		if tp != nil {
			fields["take_profit_id"] = tp.ID
		}
		b.log.Info(ctx, "exit orders spawned", fields)
	}
}
