package risk_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investsim/portfolio-engine/internal/model"
	"github.com/investsim/portfolio-engine/internal/risk"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func at(minute int) time.Time {
	return time.Date(2026, 3, 1, 9, minute, 0, 0, time.UTC)
}

func sellWithPnL(pnl float64, minute int) model.Transaction {
	return model.Transaction{
		AccountID:   "acct1",
		Symbol:      "AAPL",
		Action:      model.Sell,
		Quantity:    10,
		Price:       d(100),
		Amount:      d(1000),
		RealizedPnL: decimal.NullDecimal{Valid: true, Decimal: d(pnl)},
		Timestamp:   at(minute),
	}
}

func buyAt(symbol string, qty int64, ts time.Time) model.Transaction {
	return model.Transaction{
		AccountID: "acct1",
		Symbol:    symbol,
		Action:    model.Buy,
		Quantity:  qty,
		Price:     d(100),
		Amount:    d(100 * float64(qty)),
		Timestamp: ts,
	}
}

// Realized P&L sequence [+100, -50, -30, +20].
func scenarioTxs() []model.Transaction {
	return []model.Transaction{
		sellWithPnL(100, 0),
		sellWithPnL(-50, 1),
		sellWithPnL(-30, 2),
		sellWithPnL(20, 3),
	}
}

func TestMetrics_WinRateAndStreaks(t *testing.T) {
	c := risk.NewDefaultCalculator()
	m := c.Metrics(scenarioTxs(), d(100000), d(100040))

	if !m.WinRate.Equal(d(50)) {
		t.Errorf("expected win rate 50, got %s", m.WinRate)
	}
	if m.MaxConsecutiveLosses != 2 {
		t.Errorf("expected 2 consecutive losses, got %d", m.MaxConsecutiveLosses)
	}
	// 120 gross profit over 80 gross loss.
	if !m.ProfitFactor.Equal(d(1.5)) {
		t.Errorf("expected profit factor 1.5, got %s", m.ProfitFactor)
	}
}

func TestMetrics_MaxDrawdown(t *testing.T) {
	c := risk.NewDefaultCalculator()
	m := c.Metrics(scenarioTxs(), d(100000), d(100040))

	// Running value 100 → 50 → 20 → 40 against a peak of 100:
	// the trough at 20 is an 80% drawdown.
	if !m.MaxDrawdown.Equal(d(-80)) {
		t.Errorf("expected max drawdown -80, got %s", m.MaxDrawdown)
	}
	if !m.CalmarRatio.Valid {
		t.Error("expected calmar to be defined with a nonzero drawdown")
	}
}

func TestMetrics_VolatilityAndSharpe(t *testing.T) {
	c := risk.NewDefaultCalculator()
	m := c.Metrics(scenarioTxs(), d(100000), d(100040))

	// Sample stddev of [100,-50,-30,20] with n-1 denominator ≈ 66.8331.
	vol := m.Volatility.InexactFloat64()
	if vol < 66.83 || vol > 66.84 {
		t.Errorf("expected volatility ≈ 66.833, got %s", m.Volatility)
	}

	if !m.SharpeRatio.Valid {
		t.Fatal("expected sharpe to be defined")
	}
	// (mean 10 - risk-free 2) / 66.8331 ≈ 0.1197.
	sharpe := m.SharpeRatio.Decimal.InexactFloat64()
	if sharpe < 0.119 || sharpe > 0.120 {
		t.Errorf("expected sharpe ≈ 0.1197, got %s", m.SharpeRatio.Decimal)
	}
}

func TestMetrics_UndefinedBelowTwoTrades(t *testing.T) {
	c := risk.NewDefaultCalculator()
	m := c.Metrics([]model.Transaction{sellWithPnL(100, 0)}, d(100000), d(100100))

	if m.SharpeRatio.Valid {
		t.Error("sharpe must be undefined with a single realized trade")
	}
	if !m.Volatility.IsZero() {
		t.Errorf("expected zero volatility, got %s", m.Volatility)
	}
}

func TestMetrics_EmptyLedger(t *testing.T) {
	c := risk.NewDefaultCalculator()
	m := c.Metrics(nil, d(100000), d(100000))

	if m.SharpeRatio.Valid || m.CalmarRatio.Valid {
		t.Error("ratios must be undefined on an empty ledger")
	}
	if !m.WinRate.IsZero() || !m.MaxDrawdown.IsZero() || !m.ProfitFactor.IsZero() {
		t.Error("expected zero win rate, drawdown, and profit factor")
	}
	if m.MaxConsecutiveLosses != 0 {
		t.Errorf("expected zero loss streak, got %d", m.MaxConsecutiveLosses)
	}
}

func TestMetrics_ProfitFactorCapWithoutLosses(t *testing.T) {
	c := risk.NewDefaultCalculator()
	m := c.Metrics([]model.Transaction{
		sellWithPnL(100, 0),
		sellWithPnL(110, 1),
	}, d(100000), d(100210))

	// No losses: capped at 2.0 rather than infinity.
	if !m.ProfitFactor.Equal(d(2)) {
		t.Errorf("expected profit factor capped at 2, got %s", m.ProfitFactor)
	}
}

func TestMetrics_AverageHoldingPeriod(t *testing.T) {
	c := risk.NewDefaultCalculator()

	buy := buyAt("AAPL", 10, at(0))
	sell := sellWithPnL(50, 0)
	sell.Timestamp = at(0).Add(7 * 24 * time.Hour)

	m := c.Metrics([]model.Transaction{buy, sell}, d(100000), d(100050))
	if !m.AverageHoldingPeriod.Equal(d(7)) {
		t.Errorf("expected 7 day holding period, got %s", m.AverageHoldingPeriod)
	}
}

func TestMetrics_GradeBands(t *testing.T) {
	c := risk.NewDefaultCalculator()

	// Idle account: no trades, flat value. Only the untouched-drawdown
	// points land, which is deep in the poor band.
	idle := c.Metrics(nil, d(100000), d(100000))
	if idle.Grade != model.GradePoor {
		t.Errorf("idle account should grade poor, got %s", idle.Grade)
	}

	// Two solidly profitable sells and a 20%% total return: top band.
	strong := c.Metrics([]model.Transaction{
		sellWithPnL(100, 0),
		sellWithPnL(110, 1),
	}, d(100000), d(120000))
	if strong.Grade != model.GradeExcellent {
		t.Errorf("expected excellent, got %s", strong.Grade)
	}
}

func TestMetrics_Idempotent(t *testing.T) {
	c := risk.NewDefaultCalculator()
	txs := scenarioTxs()

	a := c.Metrics(txs, d(100000), d(100040))
	b := c.Metrics(txs, d(100000), d(100040))

	if !a.MaxDrawdown.Equal(b.MaxDrawdown) ||
		!a.Volatility.Equal(b.Volatility) ||
		!a.WinRate.Equal(b.WinRate) ||
		a.Grade != b.Grade {
		t.Error("identical ledgers must produce identical metrics")
	}
}
