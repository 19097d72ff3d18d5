// Package model defines the core domain types shared across the portfolio
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeAction is the direction of a trade.
type TradeAction string

const (
	Buy  TradeAction = "BUY"
	Sell TradeAction = "SELL"
)

// Valid reports whether the action is one of the two known directions.
func (a TradeAction) Valid() bool {
	return a == Buy || a == Sell
}

// Transaction is an immutable record of an executed trade. Once appended to
// the ledger these are never modified or deleted.
//
// Amount is the gross trade value (Quantity * Price); fees and tax are
// recorded alongside, never baked into Amount. RealizedPnL is set on sell
// legs only: amount - averageCost*quantity - fee - tax.
type Transaction struct {
	ID           string              `json:"id" db:"id"`
	AccountID    string              `json:"account_id" db:"account_id"`
	Symbol       string              `json:"symbol" db:"symbol"`
	Action       TradeAction         `json:"action" db:"action"`
	Quantity     int64               `json:"quantity" db:"quantity"`
	Price        decimal.Decimal     `json:"price" db:"price"`
	Amount       decimal.Decimal     `json:"amount" db:"amount"`
	Fee          decimal.Decimal     `json:"fee" db:"fee"`
	Tax          decimal.Decimal     `json:"tax" db:"tax"`
	RealizedPnL  decimal.NullDecimal `json:"realized_pnl" db:"realized_pnl"`
	Timestamp    time.Time           `json:"timestamp" db:"timestamp"`
	TournamentID string              `json:"tournament_id,omitempty" db:"tournament_id"`
}

// Holding is the derived net position for one symbol. Never persisted;
// always recomputed from the ledger.
type Holding struct {
	Symbol      string          `json:"symbol"`
	NetQuantity int64           `json:"net_quantity"`
	AverageCost decimal.Decimal `json:"average_cost"`
}

// CostBasis returns NetQuantity * AverageCost.
func (h Holding) CostBasis() decimal.Decimal {
	return h.AverageCost.Mul(decimal.NewFromInt(h.NetQuantity))
}

// Account is the mutable aggregate for one portfolio. AvailableCash moves by
// the gross amount on buys and by net proceeds on sells; TotalValue and
// ReturnRate are recomputed from holdings plus live quotes after each trade.
type Account struct {
	AccountID     string          `json:"account_id" db:"account_id"`
	TournamentID  string          `json:"tournament_id,omitempty" db:"tournament_id"`
	GroupID       string          `json:"group_id,omitempty" db:"group_id"`
	InitialCash   decimal.Decimal `json:"initial_cash" db:"initial_cash"`
	AvailableCash decimal.Decimal `json:"available_cash" db:"available_cash"`
	TotalValue    decimal.Decimal `json:"total_value" db:"total_value"`
	ReturnRate    decimal.Decimal `json:"return_rate" db:"return_rate"`
	LastUpdated   time.Time       `json:"last_updated" db:"last_updated"`
}

// Quote is a point-in-time price observation for one symbol.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// HoldingValue is one holding marked to market. PriceKnown is false when the
// quote source could not price the symbol; MarketValue and UnrealizedPnL are
// zero in that case and the holding is excluded from portfolio totals.
type HoldingValue struct {
	Holding
	PriceKnown    bool            `json:"price_known"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// DistributionEntry is one slice of the portfolio distribution.
type DistributionEntry struct {
	Symbol         string          `json:"symbol"`
	MarketValue    decimal.Decimal `json:"market_value"`
	PercentOfTotal decimal.Decimal `json:"percent_of_total"`
}

// Valuation is the full mark-to-market view of an account.
type Valuation struct {
	AccountID    string              `json:"account_id"`
	TotalValue   decimal.Decimal     `json:"total_value"`
	Holdings     []HoldingValue      `json:"holdings"`
	Distribution []DistributionEntry `json:"distribution"`
}

// InvestmentGrade is the qualitative rollup of the risk metrics.
type InvestmentGrade string

const (
	GradeExcellent    InvestmentGrade = "excellent"
	GradeGood         InvestmentGrade = "good"
	GradeAverage      InvestmentGrade = "average"
	GradeBelowAverage InvestmentGrade = "below_average"
	GradePoor         InvestmentGrade = "poor"
)

// RiskMetrics is a read-only snapshot of risk-adjusted performance, derived
// from realized trade history on request. SharpeRatio and CalmarRatio are
// NullDecimal: absent (Valid=false) when their preconditions are not met,
// never a sentinel zero.
type RiskMetrics struct {
	TotalReturn          decimal.Decimal     `json:"total_return"`
	AnnualizedReturn     decimal.Decimal     `json:"annualized_return"`
	MaxDrawdown          decimal.Decimal     `json:"max_drawdown"`
	SharpeRatio          decimal.NullDecimal `json:"sharpe_ratio"`
	WinRate              decimal.Decimal     `json:"win_rate"`
	Volatility           decimal.Decimal     `json:"volatility"`
	ProfitFactor         decimal.Decimal     `json:"profit_factor"`
	CalmarRatio          decimal.NullDecimal `json:"calmar_ratio"`
	MaxConsecutiveLosses int                 `json:"max_consecutive_losses"`
	AverageHoldingPeriod decimal.Decimal     `json:"average_holding_period_days"`
	Grade                InvestmentGrade     `json:"grade"`
}
