// Package fees implements brokerage fee and transaction tax math plus the
// sell-feasibility cascade.
//
// Small sells can be pointless: the fixed minimum broker fee plus the
// proportional transaction tax can eat the entire proceeds. Rather than
// silently executing a loss-making sell, the calculator classifies a
// requested sell and, when the economics are poor, recommends the largest
// quantity that clears a configurable net-proceeds floor.
//
// All monetary values use shopspring/decimal — never float64 for money.
package fees

import (
	"github.com/shopspring/decimal"

	"github.com/investsim/portfolio-engine/internal/model"
)

// TradingFees is the frictional cost breakdown for one trade.
// Tax applies to sells only.
type TradingFees struct {
	BrokerFee decimal.Decimal `json:"broker_fee"`
	Tax       decimal.Decimal `json:"tax"`
}

// Total returns BrokerFee + Tax.
func (f TradingFees) Total() decimal.Decimal {
	return f.BrokerFee.Add(f.Tax)
}

// Viability classifies the economics of a sell at a given quantity and price.
type Viability string

const (
	// Viable: net proceeds meet the minimum floor.
	Viable Viability = "viable"
	// LowReturns: net proceeds are positive but below the floor.
	LowReturns Viability = "low_returns"
	// NotViable: fees and tax consume the entire proceeds (net <= 0).
	NotViable Viability = "not_viable"
)

// SuggestionOutcome is the decision of the sell-suggestion cascade.
type SuggestionOutcome string

const (
	// Approved: the requested sell is viable as-is and may execute.
	Approved SuggestionOutcome = "approved"
	// SuggestAlternative: the requested quantity clears break-even but not
	// the proceeds floor; a larger viable quantity exists.
	SuggestAlternative SuggestionOutcome = "suggest_alternative"
	// NotRecommended: proceeds are positive but below the floor and no
	// better quantity is available.
	NotRecommended SuggestionOutcome = "not_recommended"
	// Rejected: fees and tax make the sell valueless (net proceeds <= 0).
	Rejected SuggestionOutcome = "rejected"
	// InsufficientStock: requested quantity exceeds the held quantity.
	InsufficientStock SuggestionOutcome = "insufficient_stock"
)

// Suggestion is the full result of the sell-suggestion cascade. The engine
// never adjusts a user's requested quantity on its own; anything other than
// Approved is surfaced to the caller for explicit confirmation.
type Suggestion struct {
	Outcome           SuggestionOutcome `json:"outcome"`
	RequestedQuantity int64             `json:"requested_quantity"`
	NetProceeds       decimal.Decimal   `json:"net_proceeds"`
	SuggestedQuantity int64             `json:"suggested_quantity,omitempty"`
	SuggestedProceeds decimal.Decimal   `json:"suggested_proceeds,omitempty"`
	Reason            string            `json:"reason,omitempty"`
}

// MaxSellableStatus reports whether a viable quantity exists at all.
type MaxSellableStatus string

const (
	// QuantityFound: MaxSellable.Quantity clears the proceeds floor.
	QuantityFound MaxSellableStatus = "found"
	// BelowMinimum: no quantity up to the available amount clears the floor.
	BelowMinimum MaxSellableStatus = "below_minimum"
	// NoStock: nothing is held.
	NoStock MaxSellableStatus = "no_stock"
)

// MaxSellable is the result of scanning for the largest worthwhile quantity.
type MaxSellable struct {
	Status      MaxSellableStatus `json:"status"`
	Quantity    int64             `json:"quantity,omitempty"`
	NetProceeds decimal.Decimal   `json:"net_proceeds,omitempty"`
}

// Calculator computes fees, tax, and sell feasibility. It is stateless and
// safe for concurrent use.
type Calculator struct {
	brokerFeeRate      decimal.Decimal
	minimumBrokerFee   decimal.Decimal
	transactionTaxRate decimal.Decimal
	minNetProceeds     decimal.Decimal
}

// NewCalculator creates a Calculator with explicit rates. The tax rate
// applies to sells only; minNetProceeds is the floor below which a sell is
// classified LowReturns.
func NewCalculator(brokerFeeRate, minimumBrokerFee, transactionTaxRate, minNetProceeds decimal.Decimal) *Calculator {
	return &Calculator{
		brokerFeeRate:      brokerFeeRate,
		minimumBrokerFee:   minimumBrokerFee,
		transactionTaxRate: transactionTaxRate,
		minNetProceeds:     minNetProceeds,
	}
}

// NewDefaultCalculator returns a Calculator with Taiwan retail brokerage
// rates: 0.1425% broker fee with a 20 minimum, 0.3% transaction tax on
// sells, and a 100 net-proceeds floor.
func NewDefaultCalculator() *Calculator {
	return NewCalculator(
		decimal.NewFromFloat(0.001425),
		decimal.NewFromInt(20),
		decimal.NewFromFloat(0.003),
		decimal.NewFromInt(100),
	)
}

// Fees returns the broker fee and tax for a trade of the given gross amount.
// The broker fee is max(amount * brokerFeeRate, minimumBrokerFee); tax is
// amount * transactionTaxRate on sells, zero on buys.
func (c *Calculator) Fees(amount decimal.Decimal, action model.TradeAction) TradingFees {
	brokerFee := amount.Mul(c.brokerFeeRate)
	if brokerFee.LessThan(c.minimumBrokerFee) {
		brokerFee = c.minimumBrokerFee
	}

	tax := decimal.Zero
	if action == model.Sell {
		tax = amount.Mul(c.transactionTaxRate)
	}

	return TradingFees{BrokerFee: brokerFee, Tax: tax}
}

// NetProceeds returns amount - brokerFee - tax for a sell of the given
// quantity at the given price.
func (c *Calculator) NetProceeds(quantity int64, price decimal.Decimal) decimal.Decimal {
	amount := price.Mul(decimal.NewFromInt(quantity))
	return amount.Sub(c.Fees(amount, model.Sell).Total())
}

// SellViability classifies a sell of quantity shares at price.
// Net proceeds exactly at the floor classify as Viable.
func (c *Calculator) SellViability(quantity int64, price decimal.Decimal) (Viability, decimal.Decimal) {
	net := c.NetProceeds(quantity, price)
	switch {
	case net.LessThanOrEqual(decimal.Zero):
		return NotViable, net
	case net.LessThan(c.minNetProceeds):
		return LowReturns, net
	default:
		return Viable, net
	}
}

// MaxSellableQuantity scans quantities from available down to 1 and returns
// the largest whose net proceeds meet the floor. Net proceeds grow with
// quantity, so the scan stops at the first qualifying quantity.
func (c *Calculator) MaxSellableQuantity(available int64, price decimal.Decimal) MaxSellable {
	if available <= 0 {
		return MaxSellable{Status: NoStock}
	}

	for qty := available; qty >= 1; qty-- {
		net := c.NetProceeds(qty, price)
		if net.GreaterThanOrEqual(c.minNetProceeds) {
			return MaxSellable{Status: QuantityFound, Quantity: qty, NetProceeds: net}
		}
	}
	return MaxSellable{Status: BelowMinimum}
}

// SellSuggestion runs the full cascade for a requested sell:
//
//  1. requested > available           → InsufficientStock
//  2. viable at requested quantity    → Approved
//  3. low returns, better qty exists  → SuggestAlternative
//  4. low returns, no better qty      → NotRecommended
//  5. net proceeds <= 0               → Rejected
func (c *Calculator) SellSuggestion(requested, available int64, price decimal.Decimal) Suggestion {
	if requested > available {
		return Suggestion{
			Outcome:           InsufficientStock,
			RequestedQuantity: requested,
			Reason:            "requested quantity exceeds held quantity",
		}
	}

	viability, net := c.SellViability(requested, price)
	switch viability {
	case Viable:
		return Suggestion{
			Outcome:           Approved,
			RequestedQuantity: requested,
			NetProceeds:       net,
		}

	case LowReturns:
		if alt := c.MaxSellableQuantity(available, price); alt.Status == QuantityFound {
			return Suggestion{
				Outcome:           SuggestAlternative,
				RequestedQuantity: requested,
				NetProceeds:       net,
				SuggestedQuantity: alt.Quantity,
				SuggestedProceeds: alt.NetProceeds,
				Reason:            "net proceeds below minimum; a larger quantity clears the floor",
			}
		}
		return Suggestion{
			Outcome:           NotRecommended,
			RequestedQuantity: requested,
			NetProceeds:       net,
			Reason:            "net proceeds below minimum and no held quantity clears the floor",
		}

	default:
		return Suggestion{
			Outcome:           Rejected,
			RequestedQuantity: requested,
			NetProceeds:       net,
			Reason:            "fees and tax consume the entire proceeds",
		}
	}
}
