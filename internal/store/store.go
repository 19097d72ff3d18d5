// Package store defines the persistence interface for the portfolio engine.
// Implementations include PostgreSQL (source of truth), SQLite (embedded
// single-file store), Redis (read-through cache), and in-memory (for
// testing).
//
// The transaction ledger is append-only: there is no update or delete
// operation for transactions by design.
package store

import (
	"context"
	"errors"

	"github.com/investsim/portfolio-engine/internal/model"
)

var (
	// ErrAccountNotFound is returned when an account does not exist.
	ErrAccountNotFound = errors.New("store: account not found")

	// ErrAccountExists is returned when creating an account whose ID is taken.
	ErrAccountExists = errors.New("store: account already exists")
)

// Store is the persistence interface.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new portfolio account.
	CreateAccount(ctx context.Context, account *model.Account) error

	// GetAccount retrieves an account by ID.
	GetAccount(ctx context.Context, accountID string) (*model.Account, error)

	// SaveAccount persists the mutable account fields after a trade.
	SaveAccount(ctx context.Context, account *model.Account) error

	// --- Immutable ledger ---

	// AppendTransaction appends an immutable trade record.
	AppendTransaction(ctx context.Context, tx *model.Transaction) error

	// Transactions returns the account's ledger in timestamp order,
	// optionally scoped to a tournament (empty string = all).
	Transactions(ctx context.Context, accountID, tournamentID string) ([]model.Transaction, error)
}
