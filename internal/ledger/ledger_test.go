package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerRunningBalance(t *testing.T) {
	l := New()

	buy := l.Buy(50, 1000, 0) // 50 EUR/MWh * 1 MWh
	assert.Equal(t, TypeBuy, buy.Type)
	assert.InDelta(t, -50.0, buy.AmountFloat(), 1e-9)
	assert.InDelta(t, -50.0, buy.BalanceFloat(), 1e-9)
	assert.InDelta(t, 0.05, buy.UnitPrice.InexactFloat64(), 1e-12)

	sell := l.Sell(120, 500, 0)
	assert.Equal(t, TypeSell, sell.Type)
	assert.InDelta(t, 60.0, sell.AmountFloat(), 1e-9)
	assert.InDelta(t, 10.0, sell.BalanceFloat(), 1e-9)

	assert.Equal(t, 2, l.Len())
	assert.InDelta(t, 10.0, l.BalanceFloat(), 1e-9)

	last, ok := l.Last()
	require.True(t, ok)
	assert.Equal(t, 1, last.Seq)

	bought, sold := l.Totals()
	assert.InDelta(t, 50.0, bought.InexactFloat64(), 1e-9)
	assert.InDelta(t, 60.0, sold.InexactFloat64(), 1e-9)
}

func TestLedgerHistoryIsACopy(t *testing.T) {
	l := New()
	l.Sell(10, 100, 1)

	h := l.History()
	require.Len(t, h, 1)
	h[0].EnergyKWh = 999

	assert.InDelta(t, 100.0, l.History()[0].EnergyKWh, 1e-12)
}

func TestLedgerZeroPriceAndEmpty(t *testing.T) {
	l := New()
	_, ok := l.Last()
	assert.False(t, ok)

	tx := l.Buy(0, 250, 3)
	assert.True(t, tx.Amount.IsZero())
	assert.Equal(t, 3, tx.Day)
	assert.True(t, l.Balance().IsZero())
}

func TestLedgerNegativePriceBuyIsIncome(t *testing.T) {
	l := New()
	tx := l.Buy(-20, 1000, 0)
	assert.InDelta(t, 20.0, tx.AmountFloat(), 1e-9)
}
