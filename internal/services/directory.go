// Package services implements the console's business operations on top of the
// repositories, the workspace backend, and the audit log. Each service takes
// the acting auth.Principal explicitly and re-checks the permission policy
// before touching storage, so handlers stay thin and every entry point
// enforces the same rules.
package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/opsconsole/opsconsole/internal/apperr"
	"github.com/opsconsole/opsconsole/internal/config"
	"github.com/opsconsole/opsconsole/internal/db/models"
	"github.com/opsconsole/opsconsole/internal/db/repositories"
	"github.com/opsconsole/opsconsole/internal/telemetry"
)

// RegistrationMessage is returned to a user whose registration succeeded.
const RegistrationMessage = "Registration successful! Wait for admin approval."

// DefaultBootstrapUsername names the admin account seeded on first start.
const DefaultBootstrapUsername = "admin"

// MaxUsernameLength bounds registered usernames, in characters.
const MaxUsernameLength = 64

// Registration outcomes recorded by telemetry.RegistrationsTotal.
const (
	registrationSuccess   = "success"
	registrationDuplicate = "duplicate"
	registrationEmpty     = "empty"
	registrationTooLong   = "too_long"
	registrationError     = "error"
)

// PasswordHasher produces the stored credential hash for a password.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// Directory owns the account records: lookup, registration, approval, role
// assignment, and deletion. It performs no permission checks; see
// AccountService for the admin-gated entry points.
type Directory struct {
	accounts  *repositories.AccountRepository
	hasher    PasswordHasher
	bootstrap config.BootstrapConfig
}

// NewDirectory creates a Directory. Empty bootstrap fields fall back to
// DefaultBootstrapUsername and config.DefaultBootstrapPassword.
func NewDirectory(accounts *repositories.AccountRepository, hasher PasswordHasher, bootstrap config.BootstrapConfig) *Directory {
	if bootstrap.Username == "" {
		bootstrap.Username = DefaultBootstrapUsername
	}
	if bootstrap.Password == "" {
		bootstrap.Password = config.DefaultBootstrapPassword
	}
	return &Directory{accounts: accounts, hasher: hasher, bootstrap: bootstrap}
}

// Initialize brings the schema up to date and seeds the bootstrap admin when
// no account with its username exists. It is safe to call on every start.
func (d *Directory) Initialize(ctx context.Context) error {
	if err := d.accounts.EnsureSchema(ctx); err != nil {
		return apperr.Failed("initialize schema", err)
	}

	existing, err := d.accounts.GetByUsername(ctx, d.bootstrap.Username)
	if err != nil {
		return apperr.Failed("initialize", err)
	}
	if existing != nil {
		return nil
	}

	hash, err := d.hasher.Hash(d.bootstrap.Password)
	if err != nil {
		return apperr.Failed("initialize", err)
	}
	inserted, err := d.accounts.SeedAccount(ctx, &models.Account{
		Username:     d.bootstrap.Username,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		Approved:     true,
	})
	if err != nil {
		return apperr.Failed("initialize", err)
	}
	if inserted {
		slog.Info("bootstrap admin account created", "username", d.bootstrap.Username)
	}
	return nil
}

// FindByUsername returns the account with exactly this username, or
// apperr.ErrNotFound.
func (d *Directory) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	account, err := d.accounts.GetByUsername(ctx, username)
	if err != nil {
		return nil, apperr.Failed("find account", err)
	}
	if account == nil {
		return nil, apperr.ErrNotFound
	}
	return account, nil
}

// FindByID returns the account with this id, or apperr.ErrNotFound.
func (d *Directory) FindByID(ctx context.Context, id int64) (*models.Account, error) {
	account, err := d.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Failed("find account", err)
	}
	if account == nil {
		return nil, apperr.ErrNotFound
	}
	return account, nil
}

// Register creates an unapproved account with role user. The username is
// trimmed; a blank one yields apperr.ErrEmptyUsername, one over
// MaxUsernameLength characters apperr.ErrUsernameTooLong and a taken one
// apperr.ErrDuplicateUsername. Concurrent registrations of one name are
// settled by the store's unique constraint.
func (d *Directory) Register(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		telemetry.RegistrationsTotal.WithLabelValues(registrationEmpty).Inc()
		return "", apperr.ErrEmptyUsername
	}
	if utf8.RuneCountInString(username) > MaxUsernameLength {
		telemetry.RegistrationsTotal.WithLabelValues(registrationTooLong).Inc()
		return "", apperr.ErrUsernameTooLong
	}

	existing, err := d.accounts.GetByUsername(ctx, username)
	if err != nil {
		telemetry.RegistrationsTotal.WithLabelValues(registrationError).Inc()
		return "", apperr.Failed("register", err)
	}
	if existing != nil {
		telemetry.RegistrationsTotal.WithLabelValues(registrationDuplicate).Inc()
		return "", apperr.ErrDuplicateUsername
	}

	hash, err := d.hasher.Hash(password)
	if err != nil {
		telemetry.RegistrationsTotal.WithLabelValues(registrationError).Inc()
		return "", apperr.Failed("register", err)
	}

	account := &models.Account{
		Username:     username,
		PasswordHash: hash,
		Role:         models.RoleUser,
		Approved:     false,
	}
	if err := d.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repositories.ErrDuplicateKey) {
			telemetry.RegistrationsTotal.WithLabelValues(registrationDuplicate).Inc()
			return "", apperr.ErrDuplicateUsername
		}
		telemetry.RegistrationsTotal.WithLabelValues(registrationError).Inc()
		return "", apperr.Failed("register", err)
	}

	telemetry.RegistrationsTotal.WithLabelValues(registrationSuccess).Inc()
	slog.Info("account registered", "username", username, "id", account.ID)
	return RegistrationMessage, nil
}

// ListAll returns every account summary in ascending id order.
func (d *Directory) ListAll(ctx context.Context) ([]models.AccountSummary, error) {
	accounts, err := d.accounts.List(ctx)
	if err != nil {
		return nil, apperr.Failed("list accounts", err)
	}
	return accounts, nil
}

// Approve marks the account approved. An absent id is a no-op.
func (d *Directory) Approve(ctx context.Context, id int64) error {
	if _, err := d.accounts.SetApproved(ctx, id, true); err != nil {
		return apperr.Failed("approve account", err)
	}
	return nil
}

// SetRole assigns role to the account. An absent id is a no-op; a role outside
// the enumeration yields apperr.ErrInvalidRole.
func (d *Directory) SetRole(ctx context.Context, id int64, role models.Role) error {
	if !role.Valid() {
		return apperr.ErrInvalidRole
	}
	if _, err := d.accounts.SetRole(ctx, id, role); err != nil {
		return apperr.Failed("set role", err)
	}
	return nil
}

// Delete removes the account. An absent id is a no-op.
func (d *Directory) Delete(ctx context.Context, id int64) error {
	if _, err := d.accounts.Delete(ctx, id); err != nil {
		return apperr.Failed("delete account", err)
	}
	return nil
}

// Ping checks that the account store is reachable.
func (d *Directory) Ping(ctx context.Context) error {
	return d.accounts.Ping(ctx)
}
