package broker

import (
	"time"

	"github.com/shopspring/decimal"
)

// BuildEquityCurve reconstructs portfolio equity at each transaction
// timestamp: cash plus holdings valued at the last price seen in the
// log for each symbol. Deterministic and side-effect free.
//
// Malformed records (missing timestamp, non-positive amount, unknown
// side) are skipped without emitting a point. Exactly one point is
// emitted per applied transaction, in log order.
func BuildEquityCurve(startingBalance decimal.Decimal, txs []Transaction) []EquityPoint {
	ordered := sortedByCreatedAt(txs)

	cash := startingBalance
	holdings := make(map[string]int64)
	lastPrice := make(map[string]decimal.Decimal)

	curve := make([]EquityPoint, 0, len(ordered))
	for _, tx := range ordered {
		if !tx.wellFormed() {
			continue
		}
		switch tx.Side {
		case SideBuy:
			cash = cash.Sub(tx.TotalAmount)
			holdings[tx.Symbol] += tx.Quantity
		case SideSell:
			cash = cash.Add(tx.TotalAmount)
			holdings[tx.Symbol] -= tx.Quantity
			if holdings[tx.Symbol] <= 0 {
				delete(holdings, tx.Symbol)
			}
		}
		lastPrice[tx.Symbol] = tx.Price

		equity := cash
		for sym, qty := range holdings {
			equity = equity.Add(lastPrice[sym].Mul(decimal.NewFromInt(qty)))
		}
		curve = append(curve, EquityPoint{Timestamp: tx.CreatedAt, Equity: equity})
	}

	if len(curve) == 0 {
		// Flat curve for an account that never traded.
		return []EquityPoint{{Timestamp: time.Now().UTC(), Equity: startingBalance}}
	}
	return curve
}
