package portfolio_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/investsim/portfolio-engine/internal/fees"
	"github.com/investsim/portfolio-engine/internal/model"
	"github.com/investsim/portfolio-engine/internal/portfolio"
	"github.com/investsim/portfolio-engine/internal/quote"
	"github.com/investsim/portfolio-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a test Service with in-memory store, static quotes,
// and a chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, *quote.StaticSource, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	quotes := quote.NewStaticSource(map[string]decimal.Decimal{
		"AAPL": d(10),
		"TSLA": d(200),
	})
	svc := portfolio.NewService(ms, fees.NewDefaultCalculator(), quotes, nil, d(100000))

	r := chi.NewRouter()
	r.Post("/api/v1/accounts", svc.CreateAccount)
	r.Get("/api/v1/accounts/{accountID}", svc.GetAccount)
	r.Get("/api/v1/accounts/{accountID}/holdings", svc.GetHoldings)
	r.Get("/api/v1/accounts/{accountID}/valuation", svc.GetValuation)
	r.Get("/api/v1/accounts/{accountID}/transactions", svc.GetTransactions)
	r.Get("/api/v1/accounts/{accountID}/risk", svc.GetRiskMetrics)
	r.Get("/api/v1/accounts/{accountID}/sell-check", svc.CheckSellFeasibility)
	r.Post("/api/v1/trade", svc.ExecuteTrade)

	return ms, quotes, r
}

// seedAccount creates a test account directly in the store-backed API.
func seedAccount(t *testing.T, router chi.Router, accountID string, cash float64) {
	t.Helper()
	body, _ := json.Marshal(portfolio.CreateAccountRequest{
		AccountID:   accountID,
		InitialCash: d(cash),
	})
	req := httptest.NewRequest("POST", "/api/v1/accounts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("failed to seed account: %d %s", w.Code, w.Body.String())
	}
}

func doTrade(t *testing.T, router chi.Router, req portfolio.TradeRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", "/api/v1/trade", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

func doGet(t *testing.T, router chi.Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// --- Trade execution tests ---

func TestExecuteTrade_BuyReducesCashByGrossAmount(t *testing.T) {
	_, _, router := newTestEnv(t)
	seedAccount(t, router, "acct1", 100000)

	// Buy 100 shares at $10: cash drops by exactly 1000. The broker fee is
	// recorded on the ledger entry, not deducted from cash.
	w := doTrade(t, router, portfolio.TradeRequest{
		AccountID: "acct1",
		Symbol:    "AAPL",
		Action:    model.Buy,
		Quantity:  100,
		Price:     d(10),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp portfolio.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if !resp.Account.AvailableCash.Equal(d(99000)) {
		t.Errorf("expected cash 99000, got %s", resp.Account.AvailableCash)
	}
	// 1000 * 0.1425% = 1.425, below the 20 floor.
	if !resp.Transaction.Fee.Equal(d(20)) {
		t.Errorf("expected minimum broker fee 20, got %s", resp.Transaction.Fee)
	}
	if !resp.Transaction.Tax.IsZero() {
		t.Errorf("buys must carry no tax, got %s", resp.Transaction.Tax)
	}
	if resp.Transaction.RealizedPnL.Valid {
		t.Error("buys must have null realized pnl")
	}
	// 100 shares quoted at 10: total value back to 99000 + 1000.
	if !resp.Account.TotalValue.Equal(d(100000)) {
		t.Errorf("expected total value 100000, got %s", resp.Account.TotalValue)
	}
}

func TestExecuteTrade_CashConservation(t *testing.T) {
	_, _, router := newTestEnv(t)
	seedAccount(t, router, "acct1", 100000)

	doTrade(t, router, portfolio.TradeRequest{
		AccountID: "acct1", Symbol: "AAPL", Action: model.Buy, Quantity: 100, Price: d(10),
	})
	w := doTrade(t, router, portfolio.TradeRequest{
		AccountID: "acct1", Symbol: "AAPL", Action: model.Sell, Quantity: 100, Price: d(10),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("round trip sell should be approved: %d %s", w.Code, w.Body.String())
	}

	var resp portfolio.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	// 100000 - 1000 + (1000 - 20 fee - 3 tax) = 99977.
	if !resp.Account.AvailableCash.Equal(d(99977)) {
		t.Errorf("expected cash 99977, got %s", resp.Account.AvailableCash)
	}
	// Flat price round trip loses exactly the frictional costs.
	if !resp.Transaction.RealizedPnL.Valid || !resp.Transaction.RealizedPnL.Decimal.Equal(d(-23)) {
		t.Errorf("expected realized pnl -23, got %+v", resp.Transaction.RealizedPnL)
	}
}

func TestExecuteTrade_InsufficientFunds(t *testing.T) {
	_, _, router := newTestEnv(t)
	seedAccount(t, router, "acct1", 1000)

	w := doTrade(t, router, portfolio.TradeRequest{
		AccountID: "acct1", Symbol: "AAPL", Action: model.Buy, Quantity: 200, Price: d(10),
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for insufficient funds, got %d", w.Code)
	}

	// Nothing was written.
	txs := doGet(t, router, "/api/v1/accounts/acct1/transactions")
	var ledger []model.Transaction
	json.Unmarshal(txs.Body.Bytes(), &ledger)
	if len(ledger) != 0 {
		t.Errorf("rejected trade must not reach the ledger, got %d entries", len(ledger))
	}
}

func TestExecuteTrade_InsufficientStock(t *testing.T) {
	_, _, router := newTestEnv(t)
	seedAccount(t, router, "acct1", 100000)

	doTrade(t, router, portfolio.TradeRequest{
		AccountID: "acct1", Symbol: "AAPL", Action: model.Buy, Quantity: 5, Price: d(10),
	})

	// Confirmation never pushes a sell past missing shares.
	w := doTrade(t, router, portfolio.TradeRequest{
		AccountID: "acct1", Symbol: "AAPL", Action: model.Sell, Quantity: 10, Price: d(10),
		Confirmed: true,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	var sugg fees.Suggestion
	json.Unmarshal(w.Body.Bytes(), &sugg)
	if sugg.Outcome != fees.InsufficientStock {
		t.Errorf("expected insufficient_stock, got %s", sugg.Outcome)
	}
}

func TestExecuteTrade_SellCascadeSurfacedAsConflict(t *testing.T) {
	_, _, router := newTestEnv(t)
	seedAccount(t, router, "acct1", 100000)

	doTrade(t, router, portfolio.TradeRequest{
		AccountID: "acct1", Symbol: "AAPL", Action: model.Buy, Quantity: 100, Price: d(10),
	})

	// Selling 5 at $10 nets 29.85, below the 100 floor. A larger viable
	// quantity exists, so the cascade suggests it instead of executing.
	w := doTrade(t, router, portfolio.TradeRequest{
		AccountID: "acct1", Symbol: "AAPL", Action: model.Sell, Quantity: 5, Price: d(10),
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	var sugg fees.Suggestion
	json.Unmarshal(w.Body.Bytes(), &sugg)
	if sugg.Outcome != fees.SuggestAlternative {
		t.Fatalf("expected suggest_alternative, got %s", sugg.Outcome)
	}
	if !sugg.NetProceeds.Equal(d(29.85)) {
		t.Errorf("expected net proceeds 29.85, got %s", sugg.NetProceeds)
	}
	if sugg.SuggestedQuantity != 100 {
		t.Errorf("expected suggested quantity 100, got %d", sugg.SuggestedQuantity)
	}

	// No ledger entry was written for the flagged sell.
	txs := doGet(t, router, "/api/v1/accounts/acct1/transactions")
	var ledger []model.Transaction
	json.Unmarshal(txs.Body.Bytes(), &ledger)
	if len(ledger) != 1 {
		t.Errorf("expected only the buy on the ledger, got %d entries", len(ledger))
	}
}

func TestExecuteTrade_ConfirmedOverridesNotRecommended(t *testing.T) {
	_, _, router := newTestEnv(t)
	seedAccount(t, router, "acct1", 100000)

	doTrade(t, router, portfolio.TradeRequest{
		AccountID: "acct1", Symbol: "AAPL", Action: model.Buy, Quantity: 5, Price: d(10),
	})

	// Only 5 shares held: no quantity clears the floor, so the sell is not
	// recommended and bounces without confirmation.
	w := doTrade(t, router, portfolio.TradeRequest{
		AccountID: "acct1", Symbol: "AAPL", Action: model.Sell, Quantity: 5, Price: d(10),
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 without confirmation, got %d", w.Code)
	}

	// The caller insists.
	w = doTrade(t, router, portfolio.TradeRequest{
		AccountID: "acct1", Symbol: "AAPL", Action: model.Sell, Quantity: 5, Price: d(10),
		Confirmed: true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("confirmed sell should execute, got %d: %s", w.Code, w.Body.String())
	}

	var resp portfolio.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	// 50 - 20 fee - 0.15 tax = 29.85 net; pnl = 50 - 50 - 20.15.
	if !resp.Transaction.RealizedPnL.Valid || !resp.Transaction.RealizedPnL.Decimal.Equal(d(-20.15)) {
		t.Errorf("expected realized pnl -20.15, got %+v", resp.Transaction.RealizedPnL)
	}
}

func TestExecuteTrade_PriceFromQuoteWhenOmitted(t *testing.T) {
	_, quotes, router := newTestEnv(t)
	seedAccount(t, router, "acct1", 100000)
	quotes.SetPrice("AAPL", d(12))

	w := doTrade(t, router, portfolio.TradeRequest{
		AccountID: "acct1", Symbol: "AAPL", Action: model.Buy, Quantity: 10,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp portfolio.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Transaction.Price.Equal(d(12)) {
		t.Errorf("expected quoted price 12, got %s", resp.Transaction.Price)
	}
	if !resp.Transaction.Amount.Equal(d(120)) {
		t.Errorf("expected amount 120, got %s", resp.Transaction.Amount)
	}
}

func TestExecuteTrade_QuoteUnavailable(t *testing.T) {
	_, _, router := newTestEnv(t)
	seedAccount(t, router, "acct1", 100000)

	w := doTrade(t, router, portfolio.TradeRequest{
		AccountID: "acct1", Symbol: "UNKNOWN", Action: model.Buy, Quantity: 10,
	})
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502 when no price is resolvable, got %d", w.Code)
	}
}

func TestExecuteTrade_Validation(t *testing.T) {
	_, _, router := newTestEnv(t)
	seedAccount(t, router, "acct1", 100000)

	cases := []struct {
		name string
		req  portfolio.TradeRequest
	}{
		{"missing account", portfolio.TradeRequest{Symbol: "AAPL", Action: model.Buy, Quantity: 1, Price: d(10)}},
		{"missing symbol", portfolio.TradeRequest{AccountID: "acct1", Action: model.Buy, Quantity: 1, Price: d(10)}},
		{"bad action", portfolio.TradeRequest{AccountID: "acct1", Symbol: "AAPL", Action: "HOLD", Quantity: 1, Price: d(10)}},
		{"zero quantity", portfolio.TradeRequest{AccountID: "acct1", Symbol: "AAPL", Action: model.Buy, Quantity: 0, Price: d(10)}},
		{"negative quantity", portfolio.TradeRequest{AccountID: "acct1", Symbol: "AAPL", Action: model.Buy, Quantity: -5, Price: d(10)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := doTrade(t, router, tc.req); w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestExecuteTrade_AccountNotFound(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doTrade(t, router, portfolio.TradeRequest{
		AccountID: "nobody", Symbol: "AAPL", Action: model.Buy, Quantity: 1, Price: d(10),
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestExecuteTrade_LedgerEntryCreated(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedAccount(t, router, "acct1", 100000)

	doTrade(t, router, portfolio.TradeRequest{
		AccountID: "acct1", Symbol: "AAPL", Action: model.Buy, Quantity: 10, Price: d(10),
	})

	entries, err := ms.Transactions(context.Background(), "acct1", "")
	if err != nil {
		t.Fatalf("failed to get ledger: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}

	e := entries[0]
	if e.ID == "" {
		t.Error("expected non-empty transaction id")
	}
	if e.Action != model.Buy || e.Quantity != 10 {
		t.Errorf("unexpected ledger entry: %+v", e)
	}
	if e.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}
}

// --- Query tests ---

func TestGetHoldings_IdempotentReads(t *testing.T) {
	_, _, router := newTestEnv(t)
	seedAccount(t, router, "acct1", 100000)

	doTrade(t, router, portfolio.TradeRequest{
		AccountID: "acct1", Symbol: "AAPL", Action: model.Buy, Quantity: 100, Price: d(10),
	})

	first := doGet(t, router, "/api/v1/accounts/acct1/holdings")
	second := doGet(t, router, "/api/v1/accounts/acct1/holdings")
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected 200s, got %d and %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Error("repeated reads over an unchanged ledger must agree")
	}

	var holdings []model.Holding
	json.Unmarshal(first.Body.Bytes(), &holdings)
	if len(holdings) != 1 || holdings[0].NetQuantity != 100 {
		t.Errorf("unexpected holdings: %+v", holdings)
	}
	if !holdings[0].AverageCost.Equal(d(10)) {
		t.Errorf("expected average cost 10, got %s", holdings[0].AverageCost)
	}
}

func TestGetValuation(t *testing.T) {
	_, _, router := newTestEnv(t)
	seedAccount(t, router, "acct1", 100000)

	doTrade(t, router, portfolio.TradeRequest{
		AccountID: "acct1", Symbol: "TSLA", Action: model.Buy, Quantity: 10, Price: d(200),
	})

	w := doGet(t, router, "/api/v1/accounts/acct1/valuation")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var v model.Valuation
	json.Unmarshal(w.Body.Bytes(), &v)

	// 98000 cash + 10 shares quoted at 200.
	if !v.TotalValue.Equal(d(100000)) {
		t.Errorf("expected total value 100000, got %s", v.TotalValue)
	}
	if len(v.Holdings) != 1 || !v.Holdings[0].PriceKnown {
		t.Fatalf("unexpected holdings: %+v", v.Holdings)
	}
	if !v.Holdings[0].MarketValue.Equal(d(2000)) {
		t.Errorf("expected market value 2000, got %s", v.Holdings[0].MarketValue)
	}
}

func TestGetRiskMetrics(t *testing.T) {
	_, _, router := newTestEnv(t)
	seedAccount(t, router, "acct1", 100000)

	doTrade(t, router, portfolio.TradeRequest{
		AccountID: "acct1", Symbol: "AAPL", Action: model.Buy, Quantity: 100, Price: d(10),
	})
	doTrade(t, router, portfolio.TradeRequest{
		AccountID: "acct1", Symbol: "AAPL", Action: model.Sell, Quantity: 100, Price: d(10),
	})

	w := doGet(t, router, "/api/v1/accounts/acct1/risk")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var m model.RiskMetrics
	json.Unmarshal(w.Body.Bytes(), &m)

	// One losing sell (round trip pays fees): zero win rate, no sharpe yet.
	if !m.WinRate.IsZero() {
		t.Errorf("expected win rate 0, got %s", m.WinRate)
	}
	if m.SharpeRatio.Valid {
		t.Error("sharpe must be undefined with one realized trade")
	}
	if m.Grade == "" {
		t.Error("expected a grade")
	}
}

func TestCheckSellFeasibility(t *testing.T) {
	_, _, router := newTestEnv(t)
	seedAccount(t, router, "acct1", 100000)

	doTrade(t, router, portfolio.TradeRequest{
		AccountID: "acct1", Symbol: "AAPL", Action: model.Buy, Quantity: 100, Price: d(10),
	})

	w := doGet(t, router, "/api/v1/accounts/acct1/sell-check?symbol=AAPL&quantity=100&price=10")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var sugg fees.Suggestion
	json.Unmarshal(w.Body.Bytes(), &sugg)
	if sugg.Outcome != fees.Approved {
		t.Errorf("expected approved, got %s", sugg.Outcome)
	}
	if !sugg.NetProceeds.Equal(d(977)) {
		t.Errorf("expected net proceeds 977, got %s", sugg.NetProceeds)
	}

	// The check is a pure query: the ledger is untouched.
	txs := doGet(t, router, "/api/v1/accounts/acct1/transactions")
	var ledger []model.Transaction
	json.Unmarshal(txs.Body.Bytes(), &ledger)
	if len(ledger) != 1 {
		t.Errorf("expected 1 ledger entry, got %d", len(ledger))
	}
}

func TestCreateAccount_DefaultCashAndConflict(t *testing.T) {
	_, _, router := newTestEnv(t)

	body, _ := json.Marshal(portfolio.CreateAccountRequest{AccountID: "acct1"})
	req := httptest.NewRequest("POST", "/api/v1/accounts", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var a model.Account
	json.Unmarshal(w.Body.Bytes(), &a)
	if !a.InitialCash.Equal(d(100000)) {
		t.Errorf("expected service default cash 100000, got %s", a.InitialCash)
	}

	// Duplicate ID.
	req = httptest.NewRequest("POST", "/api/v1/accounts", bytes.NewReader(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate account, got %d", w.Code)
	}
}
