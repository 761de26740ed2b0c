// Package repositories implements the data access layer for the console.
// Each repository type encapsulates all database queries for a domain entity.
// Services never issue SQL directly; all database access goes through this
// layer, which keeps query logic testable in isolation with sqlmock.
//
// Queries are written with '?' placeholders and passed through sqlx Rebind so
// the same statements run against SQLite and PostgreSQL.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/opsconsole/opsconsole/internal/db/models"
)

// ErrDuplicateKey is returned when an insert violates a uniqueness constraint.
var ErrDuplicateKey = errors.New("duplicate key")

// SchemaMigrator brings the database schema up to date.
type SchemaMigrator interface {
	Up(ctx context.Context) error
}

// AccountRepository handles account database operations
type AccountRepository struct {
	db       *sqlx.DB
	migrator SchemaMigrator
}

// NewAccountRepository creates a new AccountRepository. migrator may be nil
// when the schema is managed outside the process.
func NewAccountRepository(db *sqlx.DB, migrator SchemaMigrator) *AccountRepository {
	return &AccountRepository{db: db, migrator: migrator}
}

// Ping checks that the store is reachable.
func (r *AccountRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// EnsureSchema applies pending migrations so the users table exists.
func (r *AccountRepository) EnsureSchema(ctx context.Context) error {
	if r.migrator == nil {
		return nil
	}
	return r.migrator.Up(ctx)
}

// SeedAccount inserts account unless its username is already taken. It reports
// whether a row was inserted.
func (r *AccountRepository) SeedAccount(ctx context.Context, account *models.Account) (bool, error) {
	query := r.db.Rebind(`
		INSERT INTO users (username, password_hash, role, approved)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (username) DO NOTHING
	`)

	res, err := r.db.ExecContext(ctx, query,
		account.Username,
		account.PasswordHash,
		string(account.Role),
		boolToInt(account.Approved),
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetByUsername retrieves an account by exact, case-sensitive username.
// It returns nil, nil when no such account exists.
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	query := r.db.Rebind(`
		SELECT id, username, password_hash, role, approved
		FROM users
		WHERE username = ?
	`)

	account := &models.Account{}
	err := r.db.GetContext(ctx, account, query, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetByID retrieves an account by ID. It returns nil, nil when absent.
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	query := r.db.Rebind(`
		SELECT id, username, password_hash, role, approved
		FROM users
		WHERE id = ?
	`)

	account := &models.Account{}
	err := r.db.GetContext(ctx, account, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Create inserts a new account and sets its ID. A taken username yields an
// error wrapping ErrDuplicateKey.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	query := r.db.Rebind(`
		INSERT INTO users (username, password_hash, role, approved)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`)

	err := r.db.QueryRowxContext(ctx, query,
		account.Username,
		account.PasswordHash,
		string(account.Role),
		boolToInt(account.Approved),
	).Scan(&account.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("username %q: %w", account.Username, ErrDuplicateKey)
		}
		return err
	}
	return nil
}

// List returns every account without credential hashes, ordered by ascending ID.
func (r *AccountRepository) List(ctx context.Context) ([]models.AccountSummary, error) {
	query := `
		SELECT id, username, role, approved
		FROM users
		ORDER BY id ASC
	`

	accounts := []models.AccountSummary{}
	if err := r.db.SelectContext(ctx, &accounts, query); err != nil {
		return nil, err
	}
	return accounts, nil
}

// SetApproved updates the approval flag. It reports whether a row matched.
func (r *AccountRepository) SetApproved(ctx context.Context, id int64, approved bool) (bool, error) {
	query := r.db.Rebind(`UPDATE users SET approved = ? WHERE id = ?`)
	return r.execAffected(ctx, query, boolToInt(approved), id)
}

// SetRole updates the account role. It reports whether a row matched.
func (r *AccountRepository) SetRole(ctx context.Context, id int64, role models.Role) (bool, error) {
	query := r.db.Rebind(`UPDATE users SET role = ? WHERE id = ?`)
	return r.execAffected(ctx, query, string(role), id)
}

// Delete removes the account. It reports whether a row matched.
func (r *AccountRepository) Delete(ctx context.Context, id int64) (bool, error) {
	query := r.db.Rebind(`DELETE FROM users WHERE id = ?`)
	return r.execAffected(ctx, query, id)
}

func (r *AccountRepository) execAffected(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// isUniqueViolation recognizes unique constraint failures from both drivers.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return true
		}
		return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE")
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
