package auth

import "github.com/opsconsole/opsconsole/internal/db/models"

// Principal is an authenticated identity and the role it acts with. It is
// passed explicitly to every permission-checked operation.
type Principal struct {
	ID       int64       `json:"id"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
}

// PrincipalFor builds the principal for an account.
func PrincipalFor(a *models.Account) Principal {
	return Principal{ID: a.ID, Username: a.Username, Role: a.Role}
}

// Can reports whether the principal's role allows action.
func (p Principal) Can(action Action) bool {
	return Allowed(p.Role, action)
}
