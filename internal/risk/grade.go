package risk

import (
	"github.com/shopspring/decimal"

	"github.com/investsim/portfolio-engine/internal/model"
)

// grade rolls the metrics up into a qualitative band via a weighted score
// out of 100. Each factor contributes to the denominator only when defined,
// so an absent Sharpe ratio shrinks the scale instead of dragging it down.
func grade(m model.RiskMetrics) model.InvestmentGrade {
	score := 0
	factors := 0

	// Annualized return, up to 30 points.
	score += tier(m.AnnualizedReturn, []tierStep{
		{15, 30}, {10, 25}, {5, 20}, {0, 15},
	}, 0)
	factors += 30

	// Sharpe ratio, up to 25 points — counted only when defined.
	if m.SharpeRatio.Valid {
		score += tierF(m.SharpeRatio.Decimal, []tierStepF{
			{2.0, 25}, {1.5, 20}, {1.0, 15}, {0.5, 10},
		}, 5)
		factors += 25
	}

	// Max drawdown, up to 20 points — closer to zero is better.
	score += tier(m.MaxDrawdown, []tierStep{
		{-5, 20}, {-10, 15}, {-20, 10}, {-30, 5},
	}, 0)
	factors += 20

	// Win rate, up to 15 points.
	score += tier(m.WinRate, []tierStep{
		{70, 15}, {60, 12}, {50, 10}, {40, 6},
	}, 3)
	factors += 15

	// Profit factor, up to 10 points.
	score += tierF(m.ProfitFactor, []tierStepF{
		{2.0, 10}, {1.5, 8}, {1.2, 6}, {1.0, 4},
	}, 0)
	factors += 10

	pct := float64(score) / float64(factors) * 100
	switch {
	case pct >= 90:
		return model.GradeExcellent
	case pct >= 80:
		return model.GradeGood
	case pct >= 70:
		return model.GradeAverage
	case pct >= 60:
		return model.GradeBelowAverage
	default:
		return model.GradePoor
	}
}

type tierStep struct {
	above  int64
	points int
}

func tier(v decimal.Decimal, steps []tierStep, fallback int) int {
	for _, s := range steps {
		if v.GreaterThan(decimal.NewFromInt(s.above)) {
			return s.points
		}
	}
	return fallback
}

type tierStepF struct {
	above  float64
	points int
}

func tierF(v decimal.Decimal, steps []tierStepF, fallback int) int {
	for _, s := range steps {
		if v.GreaterThan(decimal.NewFromFloat(s.above)) {
			return s.points
		}
	}
	return fallback
}
