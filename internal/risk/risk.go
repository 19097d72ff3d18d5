// Package risk computes risk-adjusted performance metrics from realized
// trade history.
//
// Every metric is a pure function of the ledger snapshot passed in; nothing
// is cached between calls. Sharpe and Calmar ratios are modeled as
// decimal.NullDecimal and left absent when their preconditions are not met
// (fewer than two realized trades, zero volatility, zero drawdown) — never a
// sentinel zero.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Standard deviation uses float64 internally for the square root, with the
// result immediately converted back to decimal.
package risk

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investsim/portfolio-engine/internal/model"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)

	// resultScale is the number of decimal places for derived ratios.
	resultScale int32 = 8
)

// Calculator derives a RiskMetrics snapshot from trade history.
// It is stateless and safe for concurrent use.
type Calculator struct {
	riskFreeRate decimal.Decimal
}

// NewCalculator creates a Calculator with the given risk-free rate, expressed
// in the same unit as per-trade realized gain/loss.
func NewCalculator(riskFreeRate decimal.Decimal) *Calculator {
	return &Calculator{riskFreeRate: riskFreeRate}
}

// NewDefaultCalculator returns a Calculator with a risk-free rate of 2.0.
func NewDefaultCalculator() *Calculator {
	return NewCalculator(decimal.NewFromInt(2))
}

// Metrics computes the full snapshot. totalValue and initialCash anchor the
// total/annualized return; everything else derives from the sell legs'
// realized gain/loss in timestamp order.
func (c *Calculator) Metrics(txs []model.Transaction, initialCash, totalValue decimal.Decimal) model.RiskMetrics {
	sells := sellsInOrder(txs)
	realized := realizedGains(sells)

	totalReturn := totalValue.Sub(initialCash)
	totalReturnPct := decimal.Zero
	if initialCash.IsPositive() {
		totalReturnPct = totalReturn.Div(initialCash).Mul(hundred)
	}
	// The return history spans a single nominal year, so the annualized
	// figure equals the total return percentage.
	annualized := totalReturnPct

	maxDD := maxDrawdown(sells)
	vol := volatility(realized)
	sharpe := sharpeRatio(realized, vol, c.riskFreeRate)

	calmar := decimal.NullDecimal{}
	if !maxDD.IsZero() {
		calmar = decimal.NullDecimal{
			Valid:   true,
			Decimal: annualized.Div(maxDD.Abs()).Round(resultScale),
		}
	}

	m := model.RiskMetrics{
		TotalReturn:          totalReturn,
		AnnualizedReturn:     annualized,
		MaxDrawdown:          maxDD,
		SharpeRatio:          sharpe,
		WinRate:              winRate(sells),
		Volatility:           vol,
		ProfitFactor:         profitFactor(realized),
		CalmarRatio:          calmar,
		MaxConsecutiveLosses: maxConsecutiveLosses(sells),
		AverageHoldingPeriod: averageHoldingPeriod(txs),
	}
	m.Grade = grade(m)
	return m
}

// sellsInOrder returns the sell legs sorted by timestamp.
func sellsInOrder(txs []model.Transaction) []model.Transaction {
	var sells []model.Transaction
	for _, tx := range txs {
		if tx.Action == model.Sell {
			sells = append(sells, tx)
		}
	}
	sort.SliceStable(sells, func(i, j int) bool {
		return sells[i].Timestamp.Before(sells[j].Timestamp)
	})
	return sells
}

// realizedGains extracts the populated realized gain/loss values.
func realizedGains(sells []model.Transaction) []decimal.Decimal {
	var gains []decimal.Decimal
	for _, tx := range sells {
		if tx.RealizedPnL.Valid {
			gains = append(gains, tx.RealizedPnL.Decimal)
		}
	}
	return gains
}

// winRate is profitable sells over total sells, as a percentage.
// Zero when there are no sells.
func winRate(sells []model.Transaction) decimal.Decimal {
	if len(sells) == 0 {
		return decimal.Zero
	}
	var wins int64
	for _, tx := range sells {
		if tx.RealizedPnL.Valid && tx.RealizedPnL.Decimal.IsPositive() {
			wins++
		}
	}
	return decimal.NewFromInt(wins).
		Div(decimal.NewFromInt(int64(len(sells)))).
		Mul(hundred)
}

// maxDrawdown walks sells in timestamp order, tracking the running sum of
// realized gain/loss and its peak. The result is the most negative
// peak-to-trough percentage observed, or zero when there are no sells.
func maxDrawdown(sells []model.Transaction) decimal.Decimal {
	running := decimal.Zero
	peak := decimal.Zero
	maxDD := decimal.Zero

	for _, tx := range sells {
		if !tx.RealizedPnL.Valid {
			continue
		}
		running = running.Add(tx.RealizedPnL.Decimal)
		if running.GreaterThan(peak) {
			peak = running
		}
		denom := peak
		if denom.LessThan(one) {
			denom = one
		}
		dd := running.Sub(peak).Div(denom).Mul(hundred)
		if dd.LessThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

// volatility is the sample standard deviation (n-1 denominator) of realized
// gain/loss values. Zero with fewer than two values.
func volatility(gains []decimal.Decimal) decimal.Decimal {
	if len(gains) < 2 {
		return decimal.Zero
	}

	mean := meanOf(gains)
	sumSq := decimal.Zero
	for _, g := range gains {
		diff := g.Sub(mean)
		sumSq = sumSq.Add(diff.Mul(diff))
	}
	variance := sumSq.Div(decimal.NewFromInt(int64(len(gains) - 1)))

	sd := math.Sqrt(variance.InexactFloat64())
	return decimal.NewFromFloat(sd).Round(resultScale)
}

// sharpeRatio is mean excess return over volatility. Absent with fewer than
// two realized values or zero volatility.
func sharpeRatio(gains []decimal.Decimal, vol, riskFreeRate decimal.Decimal) decimal.NullDecimal {
	if len(gains) < 2 || vol.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{
		Valid:   true,
		Decimal: meanOf(gains).Sub(riskFreeRate).Div(vol).Round(resultScale),
	}
}

// profitFactor is gross profit over gross loss. With no losses it is capped
// at 2.0 when any profit exists, 0 otherwise.
func profitFactor(gains []decimal.Decimal) decimal.Decimal {
	profit := decimal.Zero
	loss := decimal.Zero
	for _, g := range gains {
		if g.IsPositive() {
			profit = profit.Add(g)
		} else if g.IsNegative() {
			loss = loss.Add(g.Abs())
		}
	}

	if loss.IsZero() {
		if profit.IsPositive() {
			return decimal.NewFromInt(2)
		}
		return decimal.Zero
	}
	return profit.Div(loss).Round(resultScale)
}

// maxConsecutiveLosses counts the longest run of losing sells in timestamp
// order. A sell without a realized figure breaks the streak.
func maxConsecutiveLosses(sells []model.Transaction) int {
	maxStreak := 0
	streak := 0
	for _, tx := range sells {
		if tx.RealizedPnL.Valid && tx.RealizedPnL.Decimal.IsNegative() {
			streak++
			if streak > maxStreak {
				maxStreak = streak
			}
		} else {
			streak = 0
		}
	}
	return maxStreak
}

// averageHoldingPeriod is the quantity-weighted mean, in days, of the time
// between each sell and the weighted-average buy time of its symbol. The
// buy-time average is weighted by bought quantity across all buy legs,
// mirroring how average cost is derived.
func averageHoldingPeriod(txs []model.Transaction) decimal.Decimal {
	type buyAgg struct {
		qty         int64
		weightedSec float64
	}

	byTime := append([]model.Transaction(nil), txs...)
	sort.SliceStable(byTime, func(i, j int) bool {
		return byTime[i].Timestamp.Before(byTime[j].Timestamp)
	})

	buys := make(map[string]*buyAgg)
	var weightedDays float64
	var soldQty int64

	for _, tx := range byTime {
		switch tx.Action {
		case model.Buy:
			a, ok := buys[tx.Symbol]
			if !ok {
				a = &buyAgg{}
				buys[tx.Symbol] = a
			}
			a.qty += tx.Quantity
			a.weightedSec += float64(tx.Timestamp.Unix()) * float64(tx.Quantity)

		case model.Sell:
			a, ok := buys[tx.Symbol]
			if !ok || a.qty == 0 {
				continue
			}
			avgBuySec := a.weightedSec / float64(a.qty)
			held := float64(tx.Timestamp.Unix()) - avgBuySec
			if held < 0 {
				held = 0
			}
			weightedDays += held / float64(24*time.Hour/time.Second) * float64(tx.Quantity)
			soldQty += tx.Quantity
		}
	}

	if soldQty == 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(weightedDays / float64(soldQty)).Round(2)
}

func meanOf(values []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}
