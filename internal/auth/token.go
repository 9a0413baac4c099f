package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minSecretLength = 32

// TokenConfig is the immutable configuration of a TokenCodec.
type TokenConfig struct {
	// Secret is the HS256 key. It is shared by every verification and never logged.
	Secret []byte
	// Issuer is written to and required on every token when set.
	Issuer string
}

// VerifiedClaims is the content of a token that passed Parse.
type VerifiedClaims struct {
	Subject   string
	Claims    map[string]string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenCodec issues and verifies signed session tokens. It holds no mutable
// state and is safe for concurrent use.
type TokenCodec struct {
	secret []byte
	issuer string
	method jwt.SigningMethod
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Claims map[string]string `json:"claims,omitempty"`
	Roles  []string          `json:"roles,omitempty"`
}

// NewTokenCodec constructs a codec from cfg. The secret is copied.
func NewTokenCodec(cfg TokenConfig) (*TokenCodec, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes", minSecretLength)
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &TokenCodec{
		secret: secret,
		issuer: cfg.Issuer,
		method: jwt.SigningMethodHS256,
	}, nil
}

// Issue signs a token for subject valid from now until now+ttl. Timestamps
// have second precision. Identical inputs produce identical tokens.
//
// A ttl under one second is rejected: iat and exp are JWT NumericDates in
// whole seconds, so such a token would carry an exp equal to its iat.
func (c *TokenCodec) Issue(subject string, claims map[string]string, roles []string, now time.Time, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("token subject is required")
	}
	if ttl < time.Second {
		return "", errors.New("token ttl must be at least one second")
	}

	issuedAt := now.Truncate(time.Second)
	payload := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
		Claims: claims,
		Roles:  normalizeRoles(roles),
	}

	token := jwt.NewWithClaims(c.method, payload)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature of tokenString and then its expiry at now.
// Any failure is a *TokenError and no claims are returned.
func (c *TokenCodec) Parse(tokenString string, now time.Time) (VerifiedClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return VerifiedClaims{}, &TokenError{Kind: TokenMalformed, Err: errors.New("empty token")}
	}

	var payload tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &payload, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return VerifiedClaims{}, classifyParseError(err)
	}
	if !token.Valid {
		return VerifiedClaims{}, &TokenError{Kind: TokenBadSignature, Err: errors.New("token not valid")}
	}

	if payload.ExpiresAt == nil || payload.IssuedAt == nil {
		return VerifiedClaims{}, &TokenError{Kind: TokenMalformed, Err: errors.New("missing time claims")}
	}
	if strings.TrimSpace(payload.Subject) == "" {
		return VerifiedClaims{}, &TokenError{Kind: TokenMalformed, Err: errors.New("missing subject")}
	}
	if c.issuer != "" && payload.Issuer != c.issuer {
		return VerifiedClaims{}, &TokenError{Kind: TokenBadSignature, Err: errors.New("unexpected issuer")}
	}
	if now.After(payload.ExpiresAt.Time) {
		return VerifiedClaims{}, &TokenError{Kind: TokenExpired, Err: jwt.ErrTokenExpired}
	}

	claims := payload.Claims
	if claims == nil {
		claims = map[string]string{}
	}
	return VerifiedClaims{
		Subject:   payload.Subject,
		Claims:    claims,
		Roles:     payload.Roles,
		IssuedAt:  payload.IssuedAt.Time,
		ExpiresAt: payload.ExpiresAt.Time,
	}, nil
}

func classifyParseError(err error) *TokenError {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return &TokenError{Kind: TokenBadSignature, Err: err}
	default:
		return &TokenError{Kind: TokenMalformed, Err: err}
	}
}

// normalizeRoles returns the distinct, sorted role names.
func normalizeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}
