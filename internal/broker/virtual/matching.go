package virtual

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradesim/internal/domain"
	"tradesim/internal/ports"
)

// Update advances the simulation by one step for one instrument. With a
// nil print the step is bar-driven; with a print, resting orders match the
// public trade. Missing market data skips the instrument's step rather
// than failing the batch.
func (b *Broker) Update(ctx context.Context, instrument string, now time.Time, print *domain.PublicTrade) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.After(b.simTime) {
		b.simTime = now
	}

	if print != nil {
		b.lastPrices[instrument] = print.Price
		b.promotePending(ctx, instrument, now)
		b.matchPrint(ctx, instrument, print, now)
		b.markToMarket(instrument, print.Price, now)
		b.checkMarginCall(ctx, now)
		return nil
	}

	candle, err := b.currentCandle(ctx, instrument, now)
	if err != nil {
		if errors.Is(err, ports.ErrInsufficientData) {
			b.log.Debug(ctx, "no market data for instrument, skipping step", map[string]interface{}{
				"instrument": instrument,
			})
			return nil
		}
		return err
	}
	b.lastPrices[instrument] = candle.Close

	b.promotePending(ctx, instrument, now)
	b.trailStops(instrument, candle)
	for _, id := range b.activeOrderIDs(instrument) {
		o := b.orders[id]
		if o.Status != domain.StatusOpen {
			continue
		}
		b.evalBar(ctx, o, candle, now)
	}

	b.markToMarket(instrument, candle.Close, now)
	b.checkMarginCall(ctx, now)
	return nil
}

// currentCandle returns the latest cached bar at or before the simulation
// clock, refetching from the data collaborator when the cache has run out.
// The series is never read past now.
func (b *Broker) currentCandle(ctx context.Context, instrument string, now time.Time) (*domain.Candle, error) {
	series := b.candles[instrument]
	if len(series) == 0 || now.After(series[len(series)-1].CloseTime) {
		fetched, err := b.data.Candles(ctx, instrument, b.cfg.Granularity, 0, time.Time{}, now)
		if err != nil {
			b.log.Warn(ctx, "candle fetch failed", map[string]interface{}{
				"instrument": instrument, "error": err.Error(),
			})
			return nil, ports.ErrInsufficientData
		}
		if len(fetched) > 0 {
			b.candles[instrument] = fetched
			series = fetched
		}
	}
	// Strictly before the clock: a bar opening exactly now has not yet
	// produced any trading the engine is allowed to see.
	for i := len(series) - 1; i >= 0; i-- {
		if series[i].OpenTime.Before(now) {
			return series[i], nil
		}
	}
	return nil, ports.ErrInsufficientData
}

// promotePending opens pending orders whose submission time has elapsed.
func (b *Broker) promotePending(ctx context.Context, instrument string, now time.Time) {
	for _, id := range b.activeOrderIDs(instrument) {
		o := b.orders[id]
		if o.Status == domain.StatusPending && now.After(o.SubmitTime) {
			o.Status = domain.StatusOpen
			b.log.Debug(ctx, "order opened", map[string]interface{}{"order_id": o.ID})
		}
	}
}

// trailStops ratchets trailing stop orders in the profitable direction
// before triggers are evaluated. A stop protecting a long only ever moves
// up; one protecting a short only ever moves down.
func (b *Broker) trailStops(instrument string, candle *domain.Candle) {
	for _, id := range b.activeOrderIDs(instrument) {
		o := b.orders[id]
		if o.Status != domain.StatusOpen || o.Type != domain.OrderTypeStop {
			continue
		}
		if o.StopLossType != domain.StopLossTrailing || o.StopDistance == nil || o.StopPrice == nil {
			continue
		}
		if o.Direction == domain.Short {
			if next := candle.High.Sub(*o.StopDistance); next.GreaterThan(*o.StopPrice) {
				o.StopPrice = domain.Dec(next)
			}
		} else {
			if next := candle.Low.Add(*o.StopDistance); next.LessThan(*o.StopPrice) {
				o.StopPrice = domain.Dec(next)
			}
		}
	}
}

// evalBar decides whether one open order triggers on the current bar and
// fills it.
func (b *Broker) evalBar(ctx context.Context, o *domain.Order, candle *domain.Candle, now time.Time) {
	switch o.Type {
	case domain.OrderTypeMarket:
		book, err := b.bookFor(ctx, o.Instrument, candle.Open)
		if err != nil {
			b.cancelLocked(ctx, o, fmt.Sprintf("market order could not price against book: %v", err))
			return
		}
		price, err := b.marketFillPrice(book, o.Direction, o.Size)
		if err != nil {
			b.cancelLocked(ctx, o, fmt.Sprintf("market order could not price against book: %v", err))
			return
		}
		b.fillOrder(ctx, o, price, now, false)

	case domain.OrderTypeStop:
		if candle.Contains(*o.StopPrice) {
			b.fillOrder(ctx, o, *o.StopPrice, now, false)
		}

	case domain.OrderTypeStopLimit:
		if candle.Contains(*o.StopPrice) {
			// Converts in place; the limit is evaluated this same pass.
			o.Type = domain.OrderTypeLimit
			b.evalBar(ctx, o, candle, now)
		}

	case domain.OrderTypeLimit:
		if limitReached(o, candle) {
			b.fillOrder(ctx, o, *o.LimitPrice, now, true)
		}
	}
}

// limitReached reports whether the bar's adverse extreme reached the limit
// price: the low for a buy, the high for a sell.
func limitReached(o *domain.Order, candle *domain.Candle) bool {
	if o.Direction == domain.Long {
		return candle.Low.LessThanOrEqual(*o.LimitPrice)
	}
	return candle.High.GreaterThanOrEqual(*o.LimitPrice)
}

// matchPrint matches a public trade print against the instrument's resting
// orders: limit orders partial-fill against the print's size, stops
// trigger on the print price, market orders fill off the live book.
func (b *Broker) matchPrint(ctx context.Context, instrument string, print *domain.PublicTrade, now time.Time) {
	remaining := print.Size

	for _, id := range b.activeOrderIDs(instrument) {
		o := b.orders[id]
		if o.Status != domain.StatusOpen {
			continue
		}

		switch o.Type {
		case domain.OrderTypeMarket:
			book, err := b.data.OrderBook(ctx, instrument)
			if err != nil {
				b.log.Warn(ctx, "order book unavailable, market order deferred", map[string]interface{}{
					"order_id": o.ID, "error": err.Error(),
				})
				continue
			}
			price, err := b.marketFillPrice(book, o.Direction, o.Size)
			if err != nil {
				b.cancelLocked(ctx, o, fmt.Sprintf("market order could not price against book: %v", err))
				continue
			}
			b.fillOrder(ctx, o, price, now, false)

		case domain.OrderTypeStop:
			if stopCrossed(o, print.Price) {
				b.fillOrder(ctx, o, *o.StopPrice, now, false)
			}

		case domain.OrderTypeStopLimit:
			if stopCrossed(o, print.Price) {
				o.Type = domain.OrderTypeLimit
			}
			if o.Type == domain.OrderTypeLimit && limitCrossed(o, print.Price) && remaining.IsPositive() {
				remaining = b.fillFromPrint(ctx, o, remaining, now)
			}

		case domain.OrderTypeLimit:
			if limitCrossed(o, print.Price) && remaining.IsPositive() {
				remaining = b.fillFromPrint(ctx, o, remaining, now)
			}
		}
	}
}

// fillFromPrint fills a resting limit order against a print, splitting the
// order when the print is smaller: the filled portion becomes a new order
// instance and the original shrinks in place. Returns the print size left.
func (b *Broker) fillFromPrint(ctx context.Context, o *domain.Order, available decimal.Decimal, now time.Time) decimal.Decimal {
	fillSize := decimal.Min(o.Size, available)

	// Checked before any split: a rejected fill must not shrink the resting
	// order, reach its OCO siblings through the clone, or consume liquidity
	// from the print.
	if _, reason := b.feasibleSize(o, fillSize, *o.LimitPrice); reason != "" {
		b.cancelLocked(ctx, o, reason)
		return available
	}

	if fillSize.LessThan(o.Size) {
		part := o.Copy()
		part.ID = b.allocateOrderID()
		part.Size = fillSize
		part.RelatedID = o.ID
		part.Status = domain.StatusOpen
		b.orders[part.ID] = part
		b.byInstr[part.Instrument] = append(b.byInstr[part.Instrument], part.ID)

		o.Size = o.Size.Sub(fillSize)
		b.fillOrder(ctx, part, *part.LimitPrice, now, true)
		b.log.Debug(ctx, "limit order partially filled", map[string]interface{}{
			"order_id": o.ID, "filled_as": part.ID, "filled": fillSize.String(), "remaining": o.Size.String(),
		})
	} else {
		b.fillOrder(ctx, o, *o.LimitPrice, now, true)
	}
	return available.Sub(fillSize)
}

func stopCrossed(o *domain.Order, price decimal.Decimal) bool {
	if o.Direction == domain.Long {
		return price.GreaterThanOrEqual(*o.StopPrice)
	}
	return price.LessThanOrEqual(*o.StopPrice)
}

func limitCrossed(o *domain.Order, price decimal.Decimal) bool {
	if o.Direction == domain.Long {
		return price.LessThanOrEqual(*o.LimitPrice)
	}
	return price.GreaterThanOrEqual(*o.LimitPrice)
}

// feasibleSize returns the executable size for a fill at price, or a
// cancellation reason when the fill must be rejected. Reduce-only fills
// cap at the open position (they can never flip it) and are exempt from
// the margin check, since they only shrink risk. Everything else must fit
// the post-fill account state: a fill netting down an opposite position
// frees margin and realizes PnL, so the check looks at the outcome, not
// the order's own notional.
func (b *Broker) feasibleSize(o *domain.Order, size, price decimal.Decimal) (decimal.Decimal, string) {
	key := b.positionKey(o.Instrument, o.Direction, o.ReduceOnly)
	if o.ReduceOnly {
		pos, ok := b.positions[key]
		if !ok || pos.Direction() == o.Direction || pos.NetSize.IsZero() {
			return decimal.Zero, "reduce-only order has no position to reduce"
		}
		return decimal.Min(size, pos.NetSize.Abs()), ""
	}

	postNAV, postUsed := b.simulatePostFill(key, o.Direction, size, price)
	if postUsed.GreaterThan(postNAV) {
		required := decimal.Max(decimal.Zero, postUsed.Sub(b.marginUsed()))
		return decimal.Zero, fmt.Sprintf("insufficient margin: required %s, available %s", required, b.marginAvailable())
	}
	return size, ""
}

// fillOrder executes a triggered order: feasibility check, commission,
// trade record, ledger update, child spawning and the OCO cascade. An
// infeasible fill cancels the order with a reason.
func (b *Broker) fillOrder(ctx context.Context, o *domain.Order, price decimal.Decimal, now time.Time, maker bool) {
	size, reason := b.feasibleSize(o, o.Size, price)
	if reason != "" {
		b.cancelLocked(ctx, o, reason)
		return
	}
	key := b.positionKey(o.Instrument, o.Direction, o.ReduceOnly)

	fee := b.cfg.Commission.Fee(size, price, maker)

	trade := &domain.Trade{
		ID:         b.allocateTradeID(),
		OrderID:    o.ID,
		Instrument: o.Instrument,
		Direction:  o.Direction,
		Size:       size,
		Price:      price,
		Time:       now,
		LastPrice:  b.lastPrices[o.Instrument],
		Fee:        fee,
		Maker:      maker,
	}
	b.trades[trade.ID] = trade
	b.fillSeq = append(b.fillSeq, trade.ID)

	o.Status = domain.StatusFilled
	o.FillPrice = price
	o.FillTime = now

	b.equity = b.equity.Sub(fee)
	b.applyFill(ctx, trade, key)

	if !o.ReduceOnly {
		b.spawnChildren(ctx, o, size, price, now)
	}
	for _, sib := range o.OCOIDs {
		if s, ok := b.orders[sib]; ok && !s.Status.Terminal() {
			b.cancelLocked(ctx, s, "linked order filled")
		}
	}

	b.log.Info(ctx, "order filled", map[string]interface{}{
		"order_id":   o.ID,
		"trade_id":   trade.ID,
		"instrument": o.Instrument,
		"side":       o.Direction.String(),
		"size":       size.String(),
		"price":      price.String(),
		"fee":        fee.String(),
		"maker":      maker,
	})
}

// marketFillPrice walks the book for a size-weighted average and, in
// backtests only, perturbs it by the direction-signed slippage impact.
func (b *Broker) marketFillPrice(book *domain.OrderBook, dir domain.Direction, size decimal.Decimal) (decimal.Decimal, error) {
	avg, err := book.AveragePrice(dir, size)
	if err != nil {
		return decimal.Zero, err
	}
	if !b.cfg.Paper && b.cfg.Slippage != nil {
		impact := b.cfg.Slippage(size).Mul(dir.Decimal())
		avg = avg.Mul(decimal.NewFromInt(1).Add(impact))
	}
	return avg, nil
}

// bookFor returns the book fills execute against: the live book in paper
// mode, otherwise a synthetic book around mid.
func (b *Broker) bookFor(ctx context.Context, instrument string, mid decimal.Decimal) (*domain.OrderBook, error) {
	if b.cfg.Paper {
		book, err := b.data.OrderBook(ctx, instrument)
		if err == nil {
			return book, nil
		}
		b.log.Warn(ctx, "live book unavailable, falling back to synthetic book", map[string]interface{}{
			"instrument": instrument, "error": err.Error(),
		})
	}
	return b.syntheticBook(instrument, mid), nil
}

func (b *Broker) syntheticBook(instrument string, mid decimal.Decimal) *domain.OrderBook {
	if b.cfg.SpreadPct.IsPositive() {
		return domain.NewSyntheticBookPct(instrument, mid, b.cfg.SpreadPct)
	}
	return domain.NewSyntheticBook(instrument, mid, b.cfg.Spread)
}
