package store

import (
	"context"
	"errors"
	"fmt"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/investsim/portfolio-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision; the
// shopspring decimal codec is registered on every connection so values scan
// directly into decimal.Decimal.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresPool creates a pgx pool with the shopspring decimal codec
// registered on each connection.
func NewPostgresPool(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	config.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (account_id, tournament_id, group_id, initial_cash, available_cash, total_value, return_rate, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.AccountID, a.TournamentID, a.GroupID,
		a.InitialCash, a.AvailableCash, a.TotalValue, a.ReturnRate,
		a.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("create account %s: %w", a.AccountID, err)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	var a model.Account
	err := s.pool.QueryRow(ctx,
		`SELECT account_id, tournament_id, group_id, initial_cash, available_cash, total_value, return_rate, last_updated
		 FROM accounts WHERE account_id = $1`, accountID).
		Scan(&a.AccountID, &a.TournamentID, &a.GroupID,
			&a.InitialCash, &a.AvailableCash, &a.TotalValue, &a.ReturnRate,
			&a.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", accountID, err)
	}
	return &a, nil
}

func (s *PostgresStore) SaveAccount(ctx context.Context, a *model.Account) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts
		 SET available_cash = $2, total_value = $3, return_rate = $4, last_updated = $5
		 WHERE account_id = $1`,
		a.AccountID, a.AvailableCash, a.TotalValue, a.ReturnRate, a.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("save account %s: %w", a.AccountID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *PostgresStore) AppendTransaction(ctx context.Context, tx *model.Transaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (id, account_id, symbol, action, quantity, price, amount, fee, tax, realized_pnl, timestamp, tournament_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		tx.ID, tx.AccountID, tx.Symbol, string(tx.Action), tx.Quantity,
		tx.Price, tx.Amount, tx.Fee, tx.Tax, tx.RealizedPnL,
		tx.Timestamp, tx.TournamentID,
	)
	if err != nil {
		return fmt.Errorf("append transaction %s: %w", tx.ID, err)
	}
	return nil
}

func (s *PostgresStore) Transactions(ctx context.Context, accountID, tournamentID string) ([]model.Transaction, error) {
	query := `SELECT id, account_id, symbol, action, quantity, price, amount, fee, tax, realized_pnl, timestamp, tournament_id
	          FROM transactions WHERE account_id = $1`
	args := []any{accountID}
	if tournamentID != "" {
		query += ` AND tournament_id = $2`
		args = append(args, tournamentID)
	}
	query += ` ORDER BY timestamp`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var tx model.Transaction
		var action string
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Symbol, &action, &tx.Quantity,
			&tx.Price, &tx.Amount, &tx.Fee, &tx.Tax, &tx.RealizedPnL,
			&tx.Timestamp, &tx.TournamentID); err != nil {
			return nil, err
		}
		tx.Action = model.TradeAction(action)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}
