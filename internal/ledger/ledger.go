package ledger

import (
	"math"

	"github.com/shopspring/decimal"
)

// TransactionType is the direction of a market transaction.
// Keep these values stable; they are intended for exported reports.
type TransactionType string

const (
	TypeBuy  TransactionType = "buy"
	TypeSell TransactionType = "sell"
)

var kWhPerMWh = decimal.NewFromInt(1000)

// Transaction is one immutable ledger entry.
// UnitPrice is in currency per kWh, Amount is signed (negative for purchases)
// and Balance is the running balance after this entry.
type Transaction struct {
	Seq       int
	Type      TransactionType
	Day       int
	UnitPrice decimal.Decimal
	EnergyKWh float64
	Amount    decimal.Decimal
	Balance   decimal.Decimal
}

// AmountFloat returns the signed amount as a float64.
func (t Transaction) AmountFloat() float64 {
	return t.Amount.InexactFloat64()
}

// BalanceFloat returns the running balance as a float64.
func (t Transaction) BalanceFloat() float64 {
	return t.Balance.InexactFloat64()
}

// Ledger is an append-only, ordered record of energy and capacity transactions.
// Amounts are kept as decimals so long runs do not accumulate float drift in the balance.
// A Ledger is not safe for concurrent use; each battery owns its own.
type Ledger struct {
	txs     []Transaction
	balance decimal.Decimal
}

func New() *Ledger {
	return &Ledger{}
}

// Buy records a purchase of energyKWh at pricePerMWh.
func (l *Ledger) Buy(pricePerMWh float64, energyKWh float64, day int) Transaction {
	return l.append(TypeBuy, pricePerMWh, energyKWh, day)
}

// Sell records a sale of energyKWh at pricePerMWh.
func (l *Ledger) Sell(pricePerMWh float64, energyKWh float64, day int) Transaction {
	return l.append(TypeSell, pricePerMWh, energyKWh, day)
}

func (l *Ledger) append(typ TransactionType, pricePerMWh float64, energyKWh float64, day int) Transaction {
	unit := decimal.NewFromFloat(sanitize(pricePerMWh)).Div(kWhPerMWh)
	amount := unit.Mul(decimal.NewFromFloat(math.Abs(sanitize(energyKWh))))
	if typ == TypeBuy {
		amount = amount.Neg()
	}
	l.balance = l.balance.Add(amount)

	tx := Transaction{
		Seq:       len(l.txs),
		Type:      typ,
		Day:       day,
		UnitPrice: unit,
		EnergyKWh: math.Abs(sanitize(energyKWh)),
		Amount:    amount,
		Balance:   l.balance,
	}
	l.txs = append(l.txs, tx)
	return tx
}

// Balance returns the current running balance.
func (l *Ledger) Balance() decimal.Decimal {
	return l.balance
}

// BalanceFloat returns the current running balance as a float64.
func (l *Ledger) BalanceFloat() float64 {
	return l.balance.InexactFloat64()
}

// Len returns the number of recorded transactions.
func (l *Ledger) Len() int {
	return len(l.txs)
}

// Last returns the most recent transaction, if any.
func (l *Ledger) Last() (Transaction, bool) {
	if len(l.txs) == 0 {
		return Transaction{}, false
	}
	return l.txs[len(l.txs)-1], true
}

// History returns a copy of all transactions in append order.
func (l *Ledger) History() []Transaction {
	out := make([]Transaction, len(l.txs))
	copy(out, l.txs)
	return out
}

// Totals sums purchases and sales separately.
func (l *Ledger) Totals() (bought, sold decimal.Decimal) {
	for _, tx := range l.txs {
		switch tx.Type {
		case TypeBuy:
			bought = bought.Add(tx.Amount.Neg())
		case TypeSell:
			sold = sold.Add(tx.Amount)
		}
	}
	return bought, sold
}

func sanitize(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}
