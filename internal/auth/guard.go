package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quillpress/apiserver/internal/logging"
	"github.com/quillpress/apiserver/internal/store"
	"github.com/quillpress/apiserver/types"
)

// AccountSource provides the current view of an account for the guard.
type AccountSource interface {
	GetByEmail(ctx context.Context, email string) (types.Account, error)
}

// Guard turns bearer tokens into principals and makes role decisions.
type Guard struct {
	codec    *TokenCodec
	accounts AccountSource
	logger   zerolog.Logger
}

// NewGuard constructs a Guard. When accounts is nil the principal is built
// from the token claims alone and account flags are not re-checked.
func NewGuard(codec *TokenCodec, accounts AccountSource, logger zerolog.Logger) *Guard {
	return &Guard{
		codec:    codec,
		accounts: accounts,
		logger:   logging.Component(logger, "guard"),
	}
}

// Authorize validates token at now and resolves the principal.
//
// A missing or invalid token yields ErrUnauthenticated whatever the cause;
// a disabled or locked account yields ErrForbidden. Any other error comes
// from the account source.
func (g *Guard) Authorize(ctx context.Context, token string, now time.Time) (Principal, error) {
	if strings.TrimSpace(token) == "" {
		return Principal{}, ErrUnauthenticated
	}

	claims, err := g.codec.Parse(token, now)
	if err != nil {
		g.logger.Debug().Str("reason", TokenErrorKindOf(err).String()).Msg("token rejected")
		return Principal{}, ErrUnauthenticated
	}

	if g.accounts == nil {
		return principalFromClaims(claims), nil
	}

	account, err := g.accounts.GetByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.logger.Info().Msg("token subject has no account")
			return Principal{}, ErrUnauthenticated
		}
		return Principal{}, fmt.Errorf("load account: %w", err)
	}

	principal := ToPrincipal(account)
	principal.IssuedAt = claims.IssuedAt
	principal.ExpiresAt = claims.ExpiresAt
	if !principal.Active() {
		g.logger.Info().Int("account_id", account.ID).Msg("token presented for inactive account")
		return Principal{}, ErrForbidden
	}
	return principal, nil
}

// Require returns ErrForbidden unless p is active and holds one of roles.
// With no roles only the active check applies.
func (g *Guard) Require(p Principal, roles ...string) error {
	if !p.Active() {
		return ErrForbidden
	}
	if len(roles) == 0 {
		return nil
	}
	for _, role := range roles {
		if p.HasRole(role) {
			return nil
		}
	}
	return ErrForbidden
}
