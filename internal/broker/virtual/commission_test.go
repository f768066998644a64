package virtual

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tradesim/internal/domain"
	"tradesim/internal/ports"
)

func TestCommissionFee(t *testing.T) {
	cases := []struct {
		name     string
		schedule CommissionSchedule
		size     string
		price    string
		maker    bool
		want     string
	}{
		{
			name:     "percentage taker",
			schedule: CommissionSchedule{Scheme: CommissionPercentage, MakerRate: d("0.05"), TakerRate: d("0.1")},
			size:     "10", price: "100", maker: false, want: "1",
		},
		{
			name:     "percentage maker",
			schedule: CommissionSchedule{Scheme: CommissionPercentage, MakerRate: d("0.05"), TakerRate: d("0.1")},
			size:     "10", price: "100", maker: true, want: "0.5",
		},
		{
			name:     "fixed per unit",
			schedule: CommissionSchedule{Scheme: CommissionFixedPerUnit, TakerRate: d("0.25")},
			size:     "8", price: "100", maker: false, want: "2",
		},
		{
			name:     "flat per trade",
			schedule: CommissionSchedule{Scheme: CommissionFlat, TakerRate: d("1.5")},
			size:     "8", price: "100", maker: false, want: "1.5",
		},
		{
			name:     "empty scheme charges nothing",
			schedule: CommissionSchedule{},
			size:     "8", price: "100", maker: false, want: "0",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.schedule.Fee(d(tc.size), d(tc.price), tc.maker)
			require.True(t, got.Equal(d(tc.want)), "want %s, got %s", tc.want, got)
		})
	}
}

func TestCommissionScheduleValidate(t *testing.T) {
	require.NoError(t, CommissionSchedule{}.Validate())
	require.NoError(t, CommissionSchedule{Scheme: CommissionPercentage, TakerRate: d("0.1")}.Validate())

	err := CommissionSchedule{Scheme: "tiered"}.Validate()
	require.ErrorIs(t, err, ports.ErrConfigurationError)

	err = CommissionSchedule{Scheme: CommissionFlat, MakerRate: d("-1")}.Validate()
	require.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestCommissionDebitedFromEquity(t *testing.T) {
	bars := []*domain.Candle{flat(0, "100")}
	b := newTestBroker(t, Config{
		Commission: CommissionSchedule{Scheme: CommissionPercentage, TakerRate: d("0.1")},
	}, bars)

	place(t, b, marketOrder(domain.Long, "5"))
	step(t, b, bars[0])

	for _, tr := range b.Trades(testInstrument) {
		eqDec(t, "0.5", tr.Fee)
	}
	eqDec(t, "999.5", b.Balance())
}

func TestSlippageModels(t *testing.T) {
	eqDec(t, "0", NoSlippage(d("100")))

	prop := ProportionalSlippage(d("2"))
	eqDec(t, "0.001", prop(d("5")))
	eqDec(t, "0.002", prop(d("10")))

	fixed := FixedSlippage(d("10"))
	eqDec(t, "0.001", fixed(d("1")))
	eqDec(t, "0.001", fixed(d("1000000")))
}
