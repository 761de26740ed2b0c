package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsconsole/opsconsole/internal/apperr"
	"github.com/opsconsole/opsconsole/internal/auth"
	"github.com/opsconsole/opsconsole/internal/db/models"
)

const testSecret = "test-jwt-secret-that-is-32-chars!!"

// mapAccounts is an in-memory AccountLoader.
type mapAccounts struct {
	accounts map[int64]*models.Account
	err      error
}

func (m *mapAccounts) FindByID(_ context.Context, id int64) (*models.Account, error) {
	if m.err != nil {
		return nil, m.err
	}
	a, ok := m.accounts[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func newTokenManager(t *testing.T) *auth.TokenManager {
	t.Helper()
	tm, err := auth.NewTokenManager(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	return tm
}

func issue(t *testing.T, tm *auth.TokenManager, p auth.Principal) string {
	t.Helper()
	token, _, err := tm.Issue(p)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return token
}

// authRouter mounts AuthMiddleware and optional extra handlers in front of a
// handler that returns the principal as JSON.
func authRouter(tm *auth.TokenManager, accounts AccountLoader, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{AuthMiddleware(tm, accounts)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		p, _ := PrincipalFrom(c)
		c.JSON(http.StatusOK, p)
	})
	r.GET("/", handlers...)
	return r
}

func serveAuth(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func aliceAccounts(role models.Role, approved bool) *mapAccounts {
	return &mapAccounts{accounts: map[int64]*models.Account{
		2: {ID: 2, Username: "alice", Role: role, Approved: approved},
	}}
}

// ---------------------------------------------------------------------------
// AuthMiddleware
// ---------------------------------------------------------------------------

func TestAuthMiddleware_ValidToken(t *testing.T) {
	tm := newTokenManager(t)
	token := issue(t, tm, auth.Principal{ID: 2, Username: "alice", Role: models.RoleUser})

	w := serveAuth(authRouter(tm, aliceAccounts(models.RoleUser, true)), "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body)
	}

	var p auth.Principal
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.ID != 2 || p.Username != "alice" || p.Role != models.RoleUser {
		t.Errorf("principal = %+v", p)
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	tm := newTokenManager(t)
	other, _ := auth.NewTokenManager("another-secret-that-is-32-chars-long", time.Hour)
	valid := issue(t, tm, auth.Principal{ID: 2, Username: "alice", Role: models.RoleUser})
	ghost := issue(t, tm, auth.Principal{ID: 9, Username: "ghost", Role: models.RoleUser})
	forged := issue(t, other, auth.Principal{ID: 2, Username: "alice", Role: models.RoleAdmin})

	tests := []struct {
		name     string
		header   string
		accounts *mapAccounts
		want     int
	}{
		{"missing header", "", aliceAccounts(models.RoleUser, true), http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", aliceAccounts(models.RoleUser, true), http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", aliceAccounts(models.RoleUser, true), http.StatusUnauthorized},
		{"foreign signature", "Bearer " + forged, aliceAccounts(models.RoleUser, true), http.StatusUnauthorized},
		{"deleted account", "Bearer " + ghost, aliceAccounts(models.RoleUser, true), http.StatusUnauthorized},
		{"approval revoked", "Bearer " + valid, aliceAccounts(models.RoleUser, false), http.StatusForbidden},
		{"store failure", "Bearer " + valid, &mapAccounts{err: errors.New("db gone")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serveAuth(authRouter(tm, tt.accounts), tt.header)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body)
			}
		})
	}
}

func TestAuthMiddleware_RoleComesFromDirectory(t *testing.T) {
	tm := newTokenManager(t)
	// token minted while alice was an admin
	token := issue(t, tm, auth.Principal{ID: 2, Username: "alice", Role: models.RoleAdmin})

	r := authRouter(tm, aliceAccounts(models.RoleUser, true), RequireAction(auth.ActionDeleteFile))
	if w := serveAuth(r, "Bearer "+token); w.Code != http.StatusForbidden {
		t.Errorf("demoted admin status = %d, want 403", w.Code)
	}
}

// ---------------------------------------------------------------------------
// RequireAction
// ---------------------------------------------------------------------------

func TestRequireAction(t *testing.T) {
	tm := newTokenManager(t)
	token := issue(t, tm, auth.Principal{ID: 2, Username: "alice", Role: models.RoleUser})

	tests := []struct {
		name   string
		role   models.Role
		action auth.Action
		want   int
	}{
		{"user reads", models.RoleUser, auth.ActionReadFile, http.StatusOK},
		{"user views system", models.RoleUser, auth.ActionViewSystem, http.StatusOK},
		{"user manages accounts", models.RoleUser, auth.ActionManageAccounts, http.StatusForbidden},
		{"user views audit", models.RoleUser, auth.ActionViewAuditLog, http.StatusForbidden},
		{"admin manages accounts", models.RoleAdmin, auth.ActionManageAccounts, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := authRouter(tm, aliceAccounts(tt.role, true), RequireAction(tt.action))
			if w := serveAuth(r, "Bearer "+token); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRequireAction_WithoutPrincipal(t *testing.T) {
	r := gin.New()
	r.GET("/", RequireAction(auth.ActionReadFile), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
