package virtual

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradesim/internal/ports"
)

// CommissionScheme selects how fees are computed from a fill.
type CommissionScheme string

const (
	// CommissionPercentage charges rate/100 of the fill notional.
	CommissionPercentage CommissionScheme = "percentage"
	// CommissionFixedPerUnit charges rate per unit of size.
	CommissionFixedPerUnit CommissionScheme = "fixed_per_unit"
	// CommissionFlat charges rate per trade regardless of size.
	CommissionFlat CommissionScheme = "flat"
)

// CommissionSchedule is the account's fee policy. Maker and taker rates
// apply independently: limit fills add liquidity and pay the maker rate,
// market and stop fills take liquidity and pay the taker rate.
type CommissionSchedule struct {
	Scheme    CommissionScheme
	MakerRate decimal.Decimal
	TakerRate decimal.Decimal
}

// Validate checks the schedule at broker construction time.
func (s CommissionSchedule) Validate() error {
	switch s.Scheme {
	case CommissionPercentage, CommissionFixedPerUnit, CommissionFlat, "":
	default:
		return fmt.Errorf("%w: unknown commission scheme %q", ports.ErrConfigurationError, s.Scheme)
	}
	if s.MakerRate.IsNegative() || s.TakerRate.IsNegative() {
		return fmt.Errorf("%w: commission rates cannot be negative", ports.ErrConfigurationError)
	}
	return nil
}

// Fee computes the commission for a fill. An empty scheme charges nothing.
func (s CommissionSchedule) Fee(size, price decimal.Decimal, maker bool) decimal.Decimal {
	rate := s.TakerRate
	if maker {
		rate = s.MakerRate
	}
	switch s.Scheme {
	case CommissionPercentage:
		return rate.Div(decimal.NewFromInt(100)).Mul(size.Abs()).Mul(price)
	case CommissionFixedPerUnit:
		return rate.Mul(size.Abs())
	case CommissionFlat:
		return rate
	}
	return decimal.Zero
}
