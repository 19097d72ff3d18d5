// Package portfolio provides the HTTP handlers and business logic for
// account management, trade execution, sell-feasibility checks, valuation,
// and risk metrics.
//
// All monetary values use shopspring/decimal — never float64 for money.
package portfolio

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/investsim/portfolio-engine/internal/fees"
	"github.com/investsim/portfolio-engine/internal/metrics"
	"github.com/investsim/portfolio-engine/internal/model"
	"github.com/investsim/portfolio-engine/internal/position"
	"github.com/investsim/portfolio-engine/internal/quote"
	"github.com/investsim/portfolio-engine/internal/risk"
	"github.com/investsim/portfolio-engine/internal/store"
	"github.com/investsim/portfolio-engine/internal/valuation"
)

var (
	// ErrInsufficientFunds is returned when a buy's gross amount exceeds
	// available cash.
	ErrInsufficientFunds = errors.New("portfolio: insufficient funds")

	// ErrInsufficientStock is returned when a sell's quantity exceeds the
	// held quantity.
	ErrInsufficientStock = errors.New("portfolio: insufficient stock")
)

// Service handles portfolio operations. Trade execution is serialized per
// account: concurrent trades on different accounts proceed in parallel,
// trades on the same account queue on that account's lock.
type Service struct {
	store       store.Store
	fees        *fees.Calculator
	quotes      quote.Source
	engine      *valuation.Engine
	risk        *risk.Calculator
	wsHub       *WSHub // optional WebSocket hub for real-time broadcasts
	initialCash decimal.Decimal

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewService creates a new portfolio service. initialCash is the default
// starting cash for accounts created without an explicit amount. Pass nil
// for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, fc *fees.Calculator, quotes quote.Source, hub *WSHub, initialCash decimal.Decimal) *Service {
	return &Service{
		store:       st,
		fees:        fc,
		quotes:      quotes,
		engine:      valuation.NewEngine(quotes),
		risk:        risk.NewDefaultCalculator(),
		wsHub:       hub,
		initialCash: initialCash,
		locks:       make(map[string]*sync.Mutex),
	}
}

// accountLock returns the mutex serializing trades for one account.
func (s *Service) accountLock(accountID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	mu, ok := s.locks[accountID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[accountID] = mu
	}
	return mu
}

// --- Request/Response types ---

// CreateAccountRequest is the JSON body for account creation.
type CreateAccountRequest struct {
	AccountID    string          `json:"account_id"`
	TournamentID string          `json:"tournament_id,omitempty"`
	GroupID      string          `json:"group_id,omitempty"`
	InitialCash  decimal.Decimal `json:"initial_cash"` // 0 → service default
}

// TradeRequest is the JSON body for POST /trade. Price is optional: when
// zero the current quote is used. Confirmed lets the caller push through a
// sell the feasibility cascade flagged (never past insufficient stock).
type TradeRequest struct {
	AccountID    string            `json:"account_id"`
	Symbol       string            `json:"symbol"`
	Action       model.TradeAction `json:"action"`
	Quantity     int64             `json:"quantity"`
	Price        decimal.Decimal   `json:"price"`
	TournamentID string            `json:"tournament_id,omitempty"`
	Confirmed    bool              `json:"confirmed,omitempty"`
}

// TradeResponse is the JSON body returned from POST /trade.
type TradeResponse struct {
	Transaction model.Transaction `json:"transaction"`
	Account     model.Account     `json:"account"`
}

// --- HTTP Handlers ---

// CreateAccount handles POST /api/v1/accounts
func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		req.AccountID = uuid.New().String()
	}

	cash := req.InitialCash
	if cash.LessThanOrEqual(decimal.Zero) {
		cash = s.initialCash
	}

	account := &model.Account{
		AccountID:     req.AccountID,
		TournamentID:  req.TournamentID,
		GroupID:       req.GroupID,
		InitialCash:   cash,
		AvailableCash: cash,
		TotalValue:    cash,
		ReturnRate:    decimal.Zero,
		LastUpdated:   time.Now().UTC(),
	}

	if err := s.store.CreateAccount(r.Context(), account); err != nil {
		if errors.Is(err, store.ErrAccountExists) {
			writeError(w, "account already exists", http.StatusConflict)
			return
		}
		writeError(w, "failed to create account", http.StatusInternalServerError)
		return
	}

	slog.Info("account created",
		"account", account.AccountID,
		"tournament", account.TournamentID,
		"initial_cash", cash.String(),
	)

	writeJSON(w, http.StatusCreated, account)
}

// GetAccount handles GET /api/v1/accounts/{accountID}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// GetHoldings handles GET /api/v1/accounts/{accountID}/holdings
// Holdings are recomputed from the ledger on every call.
func (s *Service) GetHoldings(w http.ResponseWriter, r *http.Request) {
	account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	holdings, err := s.holdings(r, account.AccountID)
	if err != nil {
		writeError(w, "failed to load ledger", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, holdings)
}

// GetValuation handles GET /api/v1/accounts/{accountID}/valuation
// Symbols the quote source cannot price come back with price_known=false
// and are excluded from the total.
func (s *Service) GetValuation(w http.ResponseWriter, r *http.Request) {
	account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	holdings, err := s.holdings(r, account.AccountID)
	if err != nil {
		writeError(w, "failed to load ledger", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, s.engine.Valuation(r.Context(), account, holdings))
}

// GetTransactions handles GET /api/v1/accounts/{accountID}/transactions
func (s *Service) GetTransactions(w http.ResponseWriter, r *http.Request) {
	account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	txs, err := s.store.Transactions(r.Context(), account.AccountID, r.URL.Query().Get("tournament_id"))
	if err != nil {
		writeError(w, "failed to load ledger", http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// GetRiskMetrics handles GET /api/v1/accounts/{accountID}/risk
func (s *Service) GetRiskMetrics(w http.ResponseWriter, r *http.Request) {
	account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	txs, err := s.store.Transactions(r.Context(), account.AccountID, r.URL.Query().Get("tournament_id"))
	if err != nil {
		writeError(w, "failed to load ledger", http.StatusInternalServerError)
		return
	}

	values := s.engine.Value(r.Context(), position.Holdings(txs))
	totalValue := valuation.TotalValue(account.AvailableCash, values)

	writeJSON(w, http.StatusOK, s.risk.Metrics(txs, account.InitialCash, totalValue))
}

// CheckSellFeasibility handles
// GET /api/v1/accounts/{accountID}/sell-check?symbol=X&quantity=N&price=P
// Price is optional; when omitted the current quote is used. This is a pure
// query: nothing executes.
func (s *Service) CheckSellFeasibility(w http.ResponseWriter, r *http.Request) {
	account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}
	qty, err := strconv.ParseInt(r.URL.Query().Get("quantity"), 10, 64)
	if err != nil || qty <= 0 {
		writeError(w, "quantity must be a positive integer", http.StatusBadRequest)
		return
	}

	price := decimal.Zero
	if raw := r.URL.Query().Get("price"); raw != "" {
		if price, err = decimal.NewFromString(raw); err != nil || price.LessThanOrEqual(decimal.Zero) {
			writeError(w, "price must be a positive decimal", http.StatusBadRequest)
			return
		}
	} else {
		if price, err = s.resolvePrice(r, symbol); err != nil {
			writeError(w, "quote unavailable for "+symbol, http.StatusBadGateway)
			return
		}
	}

	holdings, err := s.holdings(r, account.AccountID)
	if err != nil {
		writeError(w, "failed to load ledger", http.StatusInternalServerError)
		return
	}

	available := int64(0)
	if h, ok := position.Find(holdings, symbol); ok {
		available = h.NetQuantity
	}

	writeJSON(w, http.StatusOK, s.fees.SellSuggestion(qty, available, price))
}

// ExecuteTrade handles POST /api/v1/trade
// Buys execute when cash covers the gross amount. Sells run the feasibility
// cascade first: only an approved sell executes automatically, anything else
// comes back as 409 with the suggestion for the caller to confirm or abandon.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}
	if !req.Action.Valid() {
		writeError(w, "action must be BUY or SELL", http.StatusBadRequest)
		return
	}
	if req.Quantity <= 0 {
		writeError(w, "quantity must be positive", http.StatusBadRequest)
		return
	}
	if req.Price.IsNegative() {
		writeError(w, "price must not be negative", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// Serialize per account.
	mu := s.accountLock(req.AccountID)
	mu.Lock()
	defer mu.Unlock()

	account, err := s.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}

	price := req.Price
	if price.IsZero() {
		if price, err = s.resolvePrice(r, req.Symbol); err != nil {
			writeError(w, "quote unavailable for "+req.Symbol, http.StatusBadGateway)
			return
		}
	}

	amount := price.Mul(decimal.NewFromInt(req.Quantity))
	tradeFees := s.fees.Fees(amount, req.Action)

	var realizedPnL decimal.NullDecimal
	cash := account.AvailableCash

	switch req.Action {
	case model.Buy:
		if amount.GreaterThan(account.AvailableCash) {
			metrics.TradeRejections.WithLabelValues("insufficient_funds").Inc()
			writeError(w, ErrInsufficientFunds.Error(), http.StatusConflict)
			return
		}
		cash = cash.Sub(amount)

	case model.Sell:
		txs, err := s.store.Transactions(ctx, req.AccountID, req.TournamentID)
		if err != nil {
			writeError(w, "failed to load ledger", http.StatusInternalServerError)
			return
		}
		holdings := position.Holdings(txs)

		available := int64(0)
		avgCost := decimal.Zero
		if h, ok := position.Find(holdings, req.Symbol); ok {
			available = h.NetQuantity
			avgCost = h.AverageCost
		}

		suggestion := s.fees.SellSuggestion(req.Quantity, available, price)
		switch {
		case suggestion.Outcome == fees.InsufficientStock:
			// Confirmation never overrides missing shares.
			metrics.TradeRejections.WithLabelValues("insufficient_stock").Inc()
			writeJSON(w, http.StatusConflict, suggestion)
			return
		case suggestion.Outcome != fees.Approved && !req.Confirmed:
			metrics.TradeRejections.WithLabelValues("sell_not_viable").Inc()
			writeJSON(w, http.StatusConflict, suggestion)
			return
		}

		net := amount.Sub(tradeFees.Total())
		cash = cash.Add(net)
		realizedPnL = decimal.NullDecimal{
			Valid:   true,
			Decimal: amount.Sub(avgCost.Mul(decimal.NewFromInt(req.Quantity))).Sub(tradeFees.Total()),
		}
	}

	// Create immutable ledger entry.
	tx := &model.Transaction{
		ID:           uuid.New().String(),
		AccountID:    req.AccountID,
		Symbol:       req.Symbol,
		Action:       req.Action,
		Quantity:     req.Quantity,
		Price:        price,
		Amount:       amount,
		Fee:          tradeFees.BrokerFee,
		Tax:          tradeFees.Tax,
		RealizedPnL:  realizedPnL,
		Timestamp:    time.Now().UTC(),
		TournamentID: req.TournamentID,
	}

	if err := s.store.AppendTransaction(ctx, tx); err != nil {
		writeError(w, "failed to record trade", http.StatusInternalServerError)
		return
	}

	// Revalue the account against the post-trade ledger.
	account.AvailableCash = cash
	txs, err := s.store.Transactions(ctx, req.AccountID, "")
	if err != nil {
		writeError(w, "failed to load ledger", http.StatusInternalServerError)
		return
	}
	values := s.engine.Value(ctx, position.Holdings(txs))
	account.TotalValue = valuation.TotalValue(cash, values)
	account.ReturnRate = valuation.ReturnRate(account.TotalValue, account.InitialCash)
	account.LastUpdated = tx.Timestamp

	if err := s.store.SaveAccount(ctx, account); err != nil {
		writeError(w, "failed to save account", http.StatusInternalServerError)
		return
	}

	slog.Info("trade executed",
		"trade_id", tx.ID,
		"account", req.AccountID,
		"symbol", req.Symbol,
		"action", string(req.Action),
		"qty", req.Quantity,
		"price", price.String(),
		"amount", amount.String(),
		"fee", tradeFees.BrokerFee.String(),
		"tax", tradeFees.Tax.String(),
	)

	metrics.TradesTotal.WithLabelValues(string(req.Action)).Inc()
	metrics.TradeLatency.WithLabelValues(string(req.Action)).Observe(time.Since(start).Seconds())

	// Broadcast the executed trade via WebSocket.
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:          "trade_executed",
			AccountID:     req.AccountID,
			Symbol:        req.Symbol,
			Action:        string(req.Action),
			Quantity:      req.Quantity,
			Price:         price.String(),
			AvailableCash: account.AvailableCash.String(),
			TotalValue:    account.TotalValue.String(),
		})
	}

	writeJSON(w, http.StatusOK, TradeResponse{Transaction: *tx, Account: *account})
}

// --- Helpers ---

// loadAccount resolves the {accountID} URL parameter, writing a 404 on
// failure. The second return is false when a response has been written.
func (s *Service) loadAccount(w http.ResponseWriter, r *http.Request) (*model.Account, bool) {
	accountID := chi.URLParam(r, "accountID")

	account, err := s.store.GetAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return nil, false
	}
	return account, true
}

func (s *Service) holdings(r *http.Request, accountID string) ([]model.Holding, error) {
	txs, err := s.store.Transactions(r.Context(), accountID, r.URL.Query().Get("tournament_id"))
	if err != nil {
		return nil, err
	}
	return position.Holdings(txs), nil
}

func (s *Service) resolvePrice(r *http.Request, symbol string) (decimal.Decimal, error) {
	q, err := s.quotes.Quote(r.Context(), symbol)
	if err != nil {
		metrics.QuoteLookups.WithLabelValues("unavailable").Inc()
		return decimal.Zero, err
	}
	metrics.QuoteLookups.WithLabelValues("ok").Inc()
	return q.Price, nil
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
