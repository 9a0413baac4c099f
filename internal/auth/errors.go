package auth

import (
	"errors"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
)

var (
	// ErrInvalidCredentials is returned for an unknown email and for a wrong
	// password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountDisabled is returned when the credentials match but the
	// account is disabled or locked.
	ErrAccountDisabled = errors.New("account disabled")

	// ErrConflict is returned when registering an email that already exists.
	ErrConflict = errors.New("email already registered")

	// ErrSystemMisconfigured means the default role has not been seeded.
	ErrSystemMisconfigured = errors.New("default role is not initialized")

	// ErrUnauthenticated is returned by the guard for a missing or invalid token.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden is returned by the guard when the principal may not proceed.
	ErrForbidden = errors.New("forbidden")
)

// TokenErrorKind classifies token parse failures. The distinction is for
// diagnostics only and never reaches clients.
type TokenErrorKind int

const (
	TokenMalformed TokenErrorKind = iota + 1
	TokenBadSignature
	TokenExpired
)

func (k TokenErrorKind) String() string {
	switch k {
	case TokenMalformed:
		return "malformed"
	case TokenBadSignature:
		return "bad_signature"
	case TokenExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// TokenError is returned by TokenCodec.Parse.
type TokenError struct {
	Kind TokenErrorKind
	Err  error
}

func (e *TokenError) Error() string {
	if e.Err == nil {
		return "token " + e.Kind.String()
	}
	return "token " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// TokenErrorKindOf returns the kind of a *TokenError in err's chain, or 0.
func TokenErrorKindOf(err error) TokenErrorKind {
	var tokenErr *TokenError
	if errors.As(err, &tokenErr) {
		return tokenErr.Kind
	}
	return 0
}

// ValidationError carries per-field input problems.
type ValidationError struct {
	Fields map[string]string
}

// Error joins the field messages in field order, e.g.
// "email: must be a valid email address; password: the length must be between 6 and 72".
func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+e.Fields[key])
	}
	return strings.Join(parts, "; ")
}

// NewValidationError converts ozzo-validation field errors into a
// *ValidationError. Other errors are returned unchanged.
func NewValidationError(err error) error {
	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	fields := make(map[string]string, len(fieldErrs))
	for field, fieldErr := range fieldErrs {
		if fieldErr != nil {
			fields[field] = fieldErr.Error()
		}
	}
	return &ValidationError{Fields: fields}
}
