package broker

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ReplayPositions reconstructs net quantity and weighted-average cost
// basis per symbol by folding over the transaction log in CreatedAt
// order. Pure function: identical input yields identical output.
//
// Accounting policy: a SELL that takes a symbol to zero (or below)
// deletes its state entirely, so re-entering the symbol later starts a
// fresh average-cost computation. Weighted-average-cost accounting,
// not FIFO lot tracking.
func ReplayPositions(txs []Transaction) map[string]Holding {
	ordered := sortedByCreatedAt(txs)

	book := make(map[string]Holding)
	for _, tx := range ordered {
		if !tx.wellFormed() {
			continue
		}
		h := book[tx.Symbol]
		switch tx.Side {
		case SideBuy:
			h.Quantity += tx.Quantity
			h.TotalCost = h.TotalCost.Add(tx.TotalAmount)
			book[tx.Symbol] = h
		case SideSell:
			avgCost := h.AvgCost() // zero when quantity is zero
			h.TotalCost = h.TotalCost.Sub(avgCost.Mul(decimal.NewFromInt(tx.Quantity)))
			h.Quantity -= tx.Quantity
			if h.Quantity <= 0 {
				delete(book, tx.Symbol) // full close resets cost basis
			} else {
				book[tx.Symbol] = h
			}
		}
	}

	for sym, h := range book {
		if h.Quantity <= 0 {
			delete(book, sym)
		}
	}
	return book
}

// NetQuantity returns the replayed signed quantity for one symbol.
// Used by the execution engine to validate SELL orders.
func NetQuantity(txs []Transaction, symbol string) int64 {
	var net int64
	for _, tx := range txs {
		if tx.Symbol != symbol || !tx.Side.Valid() {
			continue
		}
		if tx.Side == SideBuy {
			net += tx.Quantity
		} else {
			net -= tx.Quantity
		}
	}
	return net
}

// sortedByCreatedAt returns a copy ordered by CreatedAt ascending.
// The sort is stable: records with duplicate timestamps (possible at
// sub-resolution) keep their log order.
func sortedByCreatedAt(txs []Transaction) []Transaction {
	ordered := make([]Transaction, len(txs))
	copy(ordered, txs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})
	return ordered
}
