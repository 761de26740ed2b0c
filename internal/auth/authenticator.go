package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/opsconsole/opsconsole/internal/apperr"
	"github.com/opsconsole/opsconsole/internal/audit"
	"github.com/opsconsole/opsconsole/internal/db/models"
	"github.com/opsconsole/opsconsole/internal/telemetry"
)

// Audit actions written by the Authenticator.
const (
	ActionNameLogin  = "Login"
	ActionNameLogout = "Logout"
)

// AccountFinder looks accounts up by username, returning apperr.ErrNotFound
// when there is no such account.
type AccountFinder interface {
	FindByUsername(ctx context.Context, username string) (*models.Account, error)
}

// Authenticator verifies username/password pairs against the account
// directory.
type Authenticator struct {
	accounts AccountFinder
	hasher   *BcryptHasher
	audit    audit.Recorder
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(accounts AccountFinder, hasher *BcryptHasher, recorder audit.Recorder) *Authenticator {
	return &Authenticator{accounts: accounts, hasher: hasher, audit: recorder}
}

// Authenticate returns the principal for valid, approved credentials.
//
// Unknown usernames and wrong passwords both yield apperr.ErrInvalidCredentials.
// A correct password on an account awaiting approval yields
// apperr.ErrPendingApproval. Only successful logins reach the audit trail;
// the other outcomes are counted and logged at debug level.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (Principal, error) {
	account, err := a.accounts.FindByUsername(ctx, username)
	if errors.Is(err, apperr.ErrNotFound) {
		a.reject(username, telemetry.LoginInvalidCredentials)
		return Principal{}, apperr.ErrInvalidCredentials
	}
	if err != nil {
		telemetry.LoginAttemptsTotal.WithLabelValues(telemetry.LoginError).Inc()
		slog.Error("login lookup failed", "username", username, "error", err)
		return Principal{}, err
	}

	if !a.hasher.Verify(account.PasswordHash, password) {
		a.reject(username, telemetry.LoginInvalidCredentials)
		return Principal{}, apperr.ErrInvalidCredentials
	}

	if !account.Approved {
		a.reject(username, telemetry.LoginPendingApproval)
		return Principal{}, apperr.ErrPendingApproval
	}

	telemetry.LoginAttemptsTotal.WithLabelValues(telemetry.LoginSuccess).Inc()
	a.audit.Record(ctx, account.Username, ActionNameLogin, audit.StatusSuccess, "")
	return PrincipalFor(account), nil
}

func (a *Authenticator) reject(username, outcome string) {
	telemetry.LoginAttemptsTotal.WithLabelValues(outcome).Inc()
	slog.Debug("login rejected", "username", username, "outcome", outcome)
}

// Logout records the end of a principal's session.
func (a *Authenticator) Logout(ctx context.Context, p Principal) {
	a.audit.Record(ctx, p.Username, ActionNameLogout, audit.StatusSuccess, "")
}
