// Package quote abstracts the external live-price feed.
//
// The engine only needs one operation: a current price for a symbol. Quote
// lookups are the single I/O-bound step in the system, so every source takes
// a context and a failed lookup surfaces ErrUnavailable rather than blocking
// or failing the surrounding computation — valuation degrades per holding.
package quote

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investsim/portfolio-engine/internal/model"
)

// ErrUnavailable is returned when a source cannot price a symbol.
var ErrUnavailable = errors.New("quote: unavailable")

// Source provides current prices for symbols.
type Source interface {
	Quote(ctx context.Context, symbol string) (model.Quote, error)
}

// StaticSource serves quotes from a fixed in-memory table. Used for tests
// and development; prices can be updated at runtime.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticSource creates a StaticSource from an initial price table.
func NewStaticSource(prices map[string]decimal.Decimal) *StaticSource {
	table := make(map[string]decimal.Decimal, len(prices))
	for sym, p := range prices {
		table[sym] = p
	}
	return &StaticSource{prices: table}
}

// SetPrice adds or replaces the price for a symbol.
func (s *StaticSource) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

// Remove drops a symbol from the table; later lookups return ErrUnavailable.
func (s *StaticSource) Remove(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prices, symbol)
}

func (s *StaticSource) Quote(_ context.Context, symbol string) (model.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	price, ok := s.prices[symbol]
	if !ok {
		return model.Quote{}, ErrUnavailable
	}
	return model.Quote{
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.Now().UTC(),
	}, nil
}
