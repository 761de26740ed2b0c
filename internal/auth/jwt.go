// Package auth - jwt.go issues and verifies HS256 session tokens handed out on
// login. Tokens carry the account ID, username and role at issue time; the
// auth middleware still reloads the account on every request.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/opsconsole/opsconsole/internal/db/models"
)

const (
	tokenIssuer       = "opsconsole"
	defaultSessionTTL = 8 * time.Hour
	minSecretLength   = 32
)

// SessionClaims represents the JWT claims structure
type SessionClaims struct {
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
	jwt.RegisteredClaims
}

// AccountID returns the numeric account ID held in the subject claim.
func (c *SessionClaims) AccountID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid subject claim: %w", err)
	}
	return id, nil
}

// isDevMode reports whether the process runs in development mode.
func isDevMode() bool {
	devMode := os.Getenv("OPSC_DEV_MODE")
	return devMode == "true" || devMode == "1" || os.Getenv("GIN_MODE") == "debug"
}

func generateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ResolveJWTSecret validates the configured signing secret. An empty secret
// is an error outside development mode; in development mode a random secret
// is generated and sessions do not survive restarts.
func ResolveJWTSecret(secret string) (string, error) {
	if secret == "" {
		if !isDevMode() {
			return "", errors.New("auth.jwt_secret (OPSC_AUTH_JWT_SECRET) is required; generate one with: openssl rand -hex 32")
		}
		generated, err := generateRandomSecret()
		if err != nil {
			return "", fmt.Errorf("failed to generate development secret: %w", err)
		}
		slog.Warn("auth.jwt_secret not set, using an auto-generated secret for development; sessions will not persist across restarts")
		return generated, nil
	}

	if len(secret) < minSecretLength {
		slog.Warn("auth.jwt_secret is shorter than the recommended 32 characters")
	}
	return secret, nil
}

// TokenManager signs and verifies session tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager creates a TokenManager. A zero ttl means the default
// session lifetime of eight hours.
func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL returns the session lifetime.
func (m *TokenManager) TTL() time.Duration { return m.ttl }

// Issue creates a signed token for principal and returns it with its expiry.
func (m *TokenManager) Issue(p Principal) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.ttl)

	claims := &SessionClaims{
		Username: p.Username,
		Role:     p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(p.ID, 10),
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a session token.
func (m *TokenManager) Verify(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}

	return claims, nil
}
