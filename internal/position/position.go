// Package position derives per-symbol holdings from the transaction ledger.
//
// Holdings are pure functions of the ledger: nothing here is cached or
// persisted, so two calls over the same ledger always agree.
package position

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/investsim/portfolio-engine/internal/model"
)

// Holdings aggregates transactions into per-symbol holdings.
//
// For each symbol, in chronological order:
//
//	netQuantity = max(0, Σ buy.Quantity - Σ sell.Quantity)
//	averageCost = Σ buy.Amount / Σ buy.Quantity
//
// Average cost is computed from buy legs only; sells reduce quantity but
// never re-base cost. Fully closed positions (netQuantity = 0) are omitted.
// Output is sorted by symbol for deterministic results.
func Holdings(txs []model.Transaction) []model.Holding {
	type agg struct {
		bought    int64
		sold      int64
		buyAmount decimal.Decimal
		buyShares int64
	}

	aggs := make(map[string]*agg)
	for _, tx := range txs {
		a, ok := aggs[tx.Symbol]
		if !ok {
			a = &agg{}
			aggs[tx.Symbol] = a
		}
		switch tx.Action {
		case model.Buy:
			a.bought += tx.Quantity
			a.buyAmount = a.buyAmount.Add(tx.Amount)
			a.buyShares += tx.Quantity
		case model.Sell:
			a.sold += tx.Quantity
		}
	}

	var holdings []model.Holding
	for symbol, a := range aggs {
		net := a.bought - a.sold
		if net <= 0 {
			continue
		}
		avgCost := decimal.Zero
		if a.buyShares > 0 {
			avgCost = a.buyAmount.Div(decimal.NewFromInt(a.buyShares))
		}
		holdings = append(holdings, model.Holding{
			Symbol:      symbol,
			NetQuantity: net,
			AverageCost: avgCost,
		})
	}

	sort.Slice(holdings, func(i, j int) bool {
		return holdings[i].Symbol < holdings[j].Symbol
	})
	return holdings
}

// Find returns the holding for symbol, or a zero holding when the position
// is not open.
func Find(holdings []model.Holding, symbol string) (model.Holding, bool) {
	for _, h := range holdings {
		if h.Symbol == symbol {
			return h, true
		}
	}
	return model.Holding{}, false
}
