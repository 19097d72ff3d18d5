package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/investsim/portfolio-engine/internal/model"
)

// SQLiteStore implements Store on an embedded single-file database.
// Monetary values are stored as TEXT and parsed back into decimals to avoid
// any float round-tripping.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	account_id     TEXT PRIMARY KEY,
	tournament_id  TEXT NOT NULL DEFAULT '',
	group_id       TEXT NOT NULL DEFAULT '',
	initial_cash   TEXT NOT NULL,
	available_cash TEXT NOT NULL,
	total_value    TEXT NOT NULL,
	return_rate    TEXT NOT NULL,
	last_updated   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS transactions (
	id            TEXT PRIMARY KEY,
	account_id    TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	action        TEXT NOT NULL,
	quantity      INTEGER NOT NULL,
	price         TEXT NOT NULL,
	amount        TEXT NOT NULL,
	fee           TEXT NOT NULL,
	tax           TEXT NOT NULL,
	realized_pnl  TEXT,
	timestamp     TEXT NOT NULL,
	tournament_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions (account_id, timestamp);
`

// OpenSQLiteStore opens (creating if needed) the database at path and
// initializes the schema. SQLite performs best with a single writer.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", cleanPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (account_id, tournament_id, group_id, initial_cash, available_cash, total_value, return_rate, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AccountID, a.TournamentID, a.GroupID,
		a.InitialCash.String(), a.AvailableCash.String(), a.TotalValue.String(), a.ReturnRate.String(),
		a.LastUpdated.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create account %s: %w", a.AccountID, err)
	}
	return nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	var a model.Account
	var initial, available, total, rate, updated string

	err := s.db.QueryRowContext(ctx,
		`SELECT account_id, tournament_id, group_id, initial_cash, available_cash, total_value, return_rate, last_updated
		 FROM accounts WHERE account_id = ?`, accountID).
		Scan(&a.AccountID, &a.TournamentID, &a.GroupID, &initial, &available, &total, &rate, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", accountID, err)
	}

	if a.InitialCash, err = decimal.NewFromString(initial); err != nil {
		return nil, fmt.Errorf("parse initial_cash: %w", err)
	}
	if a.AvailableCash, err = decimal.NewFromString(available); err != nil {
		return nil, fmt.Errorf("parse available_cash: %w", err)
	}
	if a.TotalValue, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total_value: %w", err)
	}
	if a.ReturnRate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("parse return_rate: %w", err)
	}
	if a.LastUpdated, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("parse last_updated: %w", err)
	}
	return &a, nil
}

func (s *SQLiteStore) SaveAccount(ctx context.Context, a *model.Account) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET available_cash = ?, total_value = ?, return_rate = ?, last_updated = ?
		 WHERE account_id = ?`,
		a.AvailableCash.String(), a.TotalValue.String(), a.ReturnRate.String(),
		a.LastUpdated.UTC().Format(time.RFC3339Nano),
		a.AccountID,
	)
	if err != nil {
		return fmt.Errorf("save account %s: %w", a.AccountID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *SQLiteStore) AppendTransaction(ctx context.Context, tx *model.Transaction) error {
	var pnl any
	if tx.RealizedPnL.Valid {
		pnl = tx.RealizedPnL.Decimal.String()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (id, account_id, symbol, action, quantity, price, amount, fee, tax, realized_pnl, timestamp, tournament_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.AccountID, tx.Symbol, string(tx.Action), tx.Quantity,
		tx.Price.String(), tx.Amount.String(), tx.Fee.String(), tx.Tax.String(), pnl,
		tx.Timestamp.UTC().Format(time.RFC3339Nano), tx.TournamentID,
	)
	if err != nil {
		return fmt.Errorf("append transaction %s: %w", tx.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Transactions(ctx context.Context, accountID, tournamentID string) ([]model.Transaction, error) {
	query := `SELECT id, account_id, symbol, action, quantity, price, amount, fee, tax, realized_pnl, timestamp, tournament_id
	          FROM transactions WHERE account_id = ?`
	args := []any{accountID}
	if tournamentID != "" {
		query += ` AND tournament_id = ?`
		args = append(args, tournamentID)
	}
	query += ` ORDER BY timestamp`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var tx model.Transaction
		var action, price, amount, fee, tax, ts string
		var pnl sql.NullString

		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Symbol, &action, &tx.Quantity,
			&price, &amount, &fee, &tax, &pnl, &ts, &tx.TournamentID); err != nil {
			return nil, err
		}

		tx.Action = model.TradeAction(action)
		if tx.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		if tx.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("parse fee: %w", err)
		}
		if tx.Tax, err = decimal.NewFromString(tax); err != nil {
			return nil, fmt.Errorf("parse tax: %w", err)
		}
		if pnl.Valid {
			v, err := decimal.NewFromString(pnl.String)
			if err != nil {
				return nil, fmt.Errorf("parse realized_pnl: %w", err)
			}
			tx.RealizedPnL = decimal.NullDecimal{Valid: true, Decimal: v}
		}
		if tx.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}
