package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investsim/portfolio-engine/internal/model"
)

// HTTPSource fetches quotes from a JSON price endpoint:
//
//	GET {baseURL}/quote?symbol={symbol}
//	→ {"symbol": "...", "price": "123.45", "timestamp": "..."}
//
// Any transport error, non-200 status, or unparseable price maps to
// ErrUnavailable so callers degrade uniformly.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates an HTTPSource with a per-request timeout.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type quoteResponse struct {
	Symbol    string    `json:"symbol"`
	Price     string    `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *HTTPSource) Quote(ctx context.Context, symbol string) (model.Quote, error) {
	u := fmt.Sprintf("%s/quote?symbol=%s", s.baseURL, url.QueryEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Warn("quote fetch failed", "symbol", symbol, "err", err)
		return model.Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Quote{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var body quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	price, err := decimal.NewFromString(body.Price)
	if err != nil || price.LessThanOrEqual(decimal.Zero) {
		return model.Quote{}, fmt.Errorf("%w: bad price %q", ErrUnavailable, body.Price)
	}

	ts := body.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return model.Quote{Symbol: symbol, Price: price, Timestamp: ts}, nil
}
