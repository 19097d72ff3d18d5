// Package valuation marks holdings to market against a live quote source.
//
// Valuation never fails as a whole: a symbol the quote source cannot price
// is returned with PriceKnown=false and excluded from totals, so one dead
// feed does not take down the portfolio view.
package valuation

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/investsim/portfolio-engine/internal/model"
	"github.com/investsim/portfolio-engine/internal/quote"
)

var hundred = decimal.NewFromInt(100)

// Engine values holdings using an external quote source. It is stateless
// and safe for concurrent use.
type Engine struct {
	quotes quote.Source
}

// NewEngine creates a valuation engine over the given quote source.
func NewEngine(quotes quote.Source) *Engine {
	return &Engine{quotes: quotes}
}

// Value marks each holding to market:
//
//	marketValue   = netQuantity * currentPrice
//	unrealizedPnL = marketValue - netQuantity * averageCost
//
// Holdings the source cannot price come back with PriceKnown=false.
func (e *Engine) Value(ctx context.Context, holdings []model.Holding) []model.HoldingValue {
	values := make([]model.HoldingValue, 0, len(holdings))
	for _, h := range holdings {
		hv := model.HoldingValue{Holding: h}

		q, err := e.quotes.Quote(ctx, h.Symbol)
		if err != nil {
			slog.Warn("quote unavailable, holding excluded from totals", "symbol", h.Symbol, "err", err)
			values = append(values, hv)
			continue
		}

		qty := decimal.NewFromInt(h.NetQuantity)
		hv.PriceKnown = true
		hv.CurrentPrice = q.Price
		hv.MarketValue = q.Price.Mul(qty)
		hv.UnrealizedPnL = hv.MarketValue.Sub(h.AverageCost.Mul(qty))
		values = append(values, hv)
	}
	return values
}

// TotalValue returns availableCash plus the market value of every priced
// holding. Unpriced holdings contribute nothing rather than failing the sum.
func TotalValue(availableCash decimal.Decimal, values []model.HoldingValue) decimal.Decimal {
	total := availableCash
	for _, hv := range values {
		if hv.PriceKnown {
			total = total.Add(hv.MarketValue)
		}
	}
	return total
}

// Distribution returns the percentage each priced holding contributes to the
// total market value. When nothing is priced (or nothing is held) the whole
// portfolio is cash, reported as a single synthetic 100% entry.
func Distribution(values []model.HoldingValue) []model.DistributionEntry {
	total := decimal.Zero
	for _, hv := range values {
		if hv.PriceKnown {
			total = total.Add(hv.MarketValue)
		}
	}

	if total.IsZero() {
		return []model.DistributionEntry{{
			Symbol:         "CASH",
			MarketValue:    decimal.Zero,
			PercentOfTotal: hundred,
		}}
	}

	entries := make([]model.DistributionEntry, 0, len(values))
	for _, hv := range values {
		if !hv.PriceKnown {
			continue
		}
		entries = append(entries, model.DistributionEntry{
			Symbol:         hv.Symbol,
			MarketValue:    hv.MarketValue,
			PercentOfTotal: hv.MarketValue.Div(total).Mul(hundred).Round(2),
		})
	}
	return entries
}

// Valuation assembles the full mark-to-market view for an account.
func (e *Engine) Valuation(ctx context.Context, account *model.Account, holdings []model.Holding) model.Valuation {
	values := e.Value(ctx, holdings)
	return model.Valuation{
		AccountID:    account.AccountID,
		TotalValue:   TotalValue(account.AvailableCash, values),
		Holdings:     values,
		Distribution: Distribution(values),
	}
}

// ReturnRate returns (totalValue - initialCash) / initialCash * 100, or zero
// when initialCash is zero.
func ReturnRate(totalValue, initialCash decimal.Decimal) decimal.Decimal {
	if initialCash.IsZero() {
		return decimal.Zero
	}
	return totalValue.Sub(initialCash).Div(initialCash).Mul(hundred)
}
