/*
Package sqlite provides a SQLite-backed points.Cache.

PURPOSE:
  Persists each user's ledger between sessions so the app can show the last
  known balance and history immediately, before the first reconciliation
  finishes. The cache is never authoritative: whatever it holds is replaced
  by the next successful reconcile.

KEY TABLES:
  ledger_state:   One row per user (opening balance, last server balance,
                  last reconcile time)
  transactions:   The user's cached ledger, confirmed and pending
  pending_misses: Unmatched reconcile passes per pending transaction

WRITE MODEL:
  Save replaces a user's rows in one SQL transaction (delete then insert), so
  a crash mid-save leaves the previous state intact.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of SQLite's own locking.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/points.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  eng, err := points.Open(ctx, userID, remote, points.WithCache(store))

SEE ALSO:
  - points/cache.go: Cache interface
  - points/cache/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/points-ledger/points"
)

// Store implements points.Cache using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ledger_state (
		user_id TEXT PRIMARY KEY,
		opening INTEGER NOT NULL,
		server_balance INTEGER NOT NULL,
		has_server_balance INTEGER NOT NULL,
		reconciled_at TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		user_id TEXT NOT NULL,
		id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		kind TEXT NOT NULL,
		source TEXT NOT NULL,
		description TEXT,
		event_id TEXT,
		activation_id TEXT,
		created_at TEXT NOT NULL,
		is_reconciled INTEGER NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (user_id, id),
		FOREIGN KEY (user_id) REFERENCES ledger_state(user_id) ON DELETE CASCADE
	);

	-- Restores ledger order without re-sorting
	CREATE INDEX IF NOT EXISTS idx_transactions_user_position
		ON transactions(user_id, position);

	CREATE TABLE IF NOT EXISTS pending_misses (
		user_id TEXT NOT NULL,
		tx_id TEXT NOT NULL,
		misses INTEGER NOT NULL,
		PRIMARY KEY (user_id, tx_id),
		FOREIGN KEY (user_id) REFERENCES ledger_state(user_id) ON DELETE CASCADE
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CACHE (points.Cache interface)
// =============================================================================

// Load returns the cached state for userID. ok is false when nothing has been
// saved for the user.
func (s *Store) Load(ctx context.Context, userID string) (points.CachedState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		state        points.CachedState
		hasServer    int
		reconciledAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT opening, server_balance, has_server_balance, reconciled_at
		FROM ledger_state WHERE user_id = ?
	`, userID).Scan(&state.Opening, &state.ServerBalance, &hasServer, &reconciledAt)
	if err == sql.ErrNoRows {
		return points.CachedState{}, false, nil
	}
	if err != nil {
		return points.CachedState{}, false, fmt.Errorf("failed to load ledger state: %w", err)
	}
	state.HasServerBalance = hasServer != 0
	if reconciledAt.Valid {
		state.ReconciledAt, _ = time.Parse(time.RFC3339Nano, reconciledAt.String)
	}

	if state.Transactions, err = s.queryTransactions(ctx, userID); err != nil {
		return points.CachedState{}, false, err
	}
	if state.Misses, err = s.queryMisses(ctx, userID); err != nil {
		return points.CachedState{}, false, err
	}
	return state, true, nil
}

// Save replaces everything stored for userID with state.
func (s *Store) Save(ctx context.Context, userID string, state points.CachedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := deleteUser(ctx, sqlTx, userID); err != nil {
		return err
	}

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO ledger_state
		(user_id, opening, server_balance, has_server_balance, reconciled_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		userID,
		state.Opening,
		state.ServerBalance,
		boolInt(state.HasServerBalance),
		nullTime(state.ReconciledAt),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save ledger state: %w", err)
	}

	txStmt, err := sqlTx.PrepareContext(ctx, `
		INSERT INTO transactions
		(user_id, id, amount, kind, source, description, event_id, activation_id,
		 created_at, is_reconciled, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare transaction insert: %w", err)
	}
	defer txStmt.Close()

	for i, tx := range state.Transactions {
		_, err := txStmt.ExecContext(ctx,
			userID,
			string(tx.ID),
			tx.Amount,
			string(tx.Kind),
			string(tx.Source),
			nullString(tx.Description),
			nullString(tx.EventID),
			nullString(tx.ActivationID),
			tx.CreatedAt.UTC().Format(time.RFC3339Nano),
			boolInt(tx.IsReconciled),
			i,
		)
		if err != nil {
			return fmt.Errorf("failed to save transaction %s: %w", tx.ID, err)
		}
	}

	for id, n := range state.Misses {
		_, err := sqlTx.ExecContext(ctx,
			"INSERT INTO pending_misses (user_id, tx_id, misses) VALUES (?, ?, ?)",
			userID, string(id), n)
		if err != nil {
			return fmt.Errorf("failed to save miss count for %s: %w", id, err)
		}
	}

	return sqlTx.Commit()
}

// Clear removes everything stored for userID.
func (s *Store) Clear(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := deleteUser(ctx, sqlTx, userID); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func deleteUser(ctx context.Context, db interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, userID string) error {
	for _, table := range []string{"pending_misses", "transactions", "ledger_state"} {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table+" WHERE user_id = ?", userID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

func (s *Store) queryTransactions(ctx context.Context, userID string) ([]points.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, amount, kind, source, description, event_id, activation_id,
		       created_at, is_reconciled
		FROM transactions
		WHERE user_id = ?
		ORDER BY position ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []points.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (points.Transaction, error) {
	var (
		tx           points.Transaction
		id           string
		kind         string
		source       string
		description  sql.NullString
		eventID      sql.NullString
		activationID sql.NullString
		createdAt    string
		reconciled   int
	)

	err := rows.Scan(
		&id, &tx.Amount, &kind, &source,
		&description, &eventID, &activationID,
		&createdAt, &reconciled,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.ID = points.TransactionID(id)
	tx.Kind = points.Kind(kind)
	tx.Source = points.Source(source)
	tx.Description = description.String
	tx.EventID = eventID.String
	tx.ActivationID = activationID.String
	tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	tx.IsReconciled = reconciled != 0
	return tx, nil
}

func (s *Store) queryMisses(ctx context.Context, userID string) (map[points.TransactionID]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT tx_id, misses FROM pending_misses WHERE user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query miss counts: %w", err)
	}
	defer rows.Close()

	misses := make(map[points.TransactionID]int)
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan miss count: %w", err)
		}
		misses[points.TransactionID(id)] = n
	}
	return misses, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Users lists every user with cached state.
func (s *Store) Users(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT user_id FROM ledger_state ORDER BY user_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"pending_misses", "transactions", "ledger_state"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

var _ points.Cache = (*Store)(nil)

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
