package auth

import (
	"strconv"
	"strings"
	"time"

	"github.com/quillpress/apiserver/types"
)

// DefaultRole is assigned to every new account.
const DefaultRole = "USER"

// AdminRole grants administrative endpoints.
const AdminRole = "ADMIN"

// Claims embedded at login.
const (
	ClaimFullName  = "fullname"
	ClaimAccountID = "account_id"
)

// Principal is the request-scoped identity resolved from a valid token.
// It is never persisted.
type Principal struct {
	AccountID int
	Email     string
	Name      string
	Roles     []string
	Enabled   bool
	Locked    bool
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasRole reports whether the principal carries role, ignoring case.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// Active reports whether the account may act.
func (p Principal) Active() bool {
	return p.Enabled && !p.Locked
}

// ToPrincipal maps a stored account to a principal.
func ToPrincipal(account types.Account) Principal {
	return Principal{
		AccountID: account.ID,
		Email:     account.Email,
		Name:      account.FullName(),
		Roles:     normalizeRoles(account.RoleNames()),
		Enabled:   account.Enabled,
		Locked:    account.AccountLocked,
	}
}

func principalFromClaims(claims VerifiedClaims) Principal {
	id, _ := strconv.Atoi(claims.Claims[ClaimAccountID])
	return Principal{
		AccountID: id,
		Email:     claims.Subject,
		Name:      claims.Claims[ClaimFullName],
		Roles:     claims.Roles,
		Enabled:   true,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
	}
}
