package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/rs/zerolog"

	"github.com/quillpress/apiserver/internal/logging"
	"github.com/quillpress/apiserver/internal/store"
	"github.com/quillpress/apiserver/types"
)

const (
	minPasswordLength = 6

	defaultNotifyTimeout = time.Second
)

// AccountRepository is the part of the credential store the authenticator writes to.
type AccountRepository interface {
	GetByEmail(ctx context.Context, email string) (types.Account, error)
	Create(ctx context.Context, account types.Account) (types.Account, error)
	UpdatePasswordHash(ctx context.Context, id int, hash string) error
}

// RoleRepository resolves role reference data.
type RoleRepository interface {
	GetByName(ctx context.Context, name string) (types.Role, error)
}

// Notifier delivers a message to an email address. Delivery is best effort.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

// Validate checks every field and returns validation.Errors keyed by json name.
func (in RegisterInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&in.Password,
			validation.Required,
			validation.Length(minPasswordLength, 0),
			validation.By(maxBytes(MaxPasswordBytes)),
		),
		validation.Field(&in.FirstName, validation.Required, validation.Length(1, 100)),
		validation.Field(&in.LastName, validation.Required, validation.Length(1, 100)),
	)
}

// Token is the result of a successful login.
type Token struct {
	Value     string
	Subject   string
	Claims    map[string]string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// AuthenticatorDeps wires an Authenticator.
type AuthenticatorDeps struct {
	Accounts AccountRepository
	Roles    RoleRepository
	Hasher   Hasher
	Codec    *TokenCodec
	// Notifier is optional; nil disables the welcome mail.
	Notifier Notifier
	// NotifyTimeout bounds the welcome mail hand-off. Zero means one second.
	NotifyTimeout time.Duration
	TokenTTL time.Duration
	Logger   zerolog.Logger
}

// Authenticator registers accounts and exchanges credentials for tokens.
type Authenticator struct {
	accounts    AccountRepository
	roles       RoleRepository
	hasher      Hasher
	codec       *TokenCodec
	notifier    Notifier
	notifyWait  time.Duration
	tokenTTL    time.Duration
	logger      zerolog.Logger
	dummyDigest string
}

// NewAuthenticator constructs an Authenticator. It hashes a random password
// once so that logins for unknown emails cost the same as real ones.
func NewAuthenticator(deps AuthenticatorDeps) (*Authenticator, error) {
	if deps.Accounts == nil || deps.Roles == nil || deps.Hasher == nil || deps.Codec == nil {
		return nil, errors.New("authenticator: accounts, roles, hasher and codec are required")
	}
	if deps.TokenTTL < time.Second {
		return nil, errors.New("authenticator: token ttl must be at least one second")
	}

	notifyWait := deps.NotifyTimeout
	if notifyWait <= 0 {
		notifyWait = defaultNotifyTimeout
	}

	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, fmt.Errorf("authenticator: %w", err)
	}
	dummy, err := deps.Hasher.Hash(hex.EncodeToString(buf[:]))
	if err != nil {
		return nil, fmt.Errorf("authenticator: %w", err)
	}

	return &Authenticator{
		accounts:    deps.Accounts,
		roles:       deps.Roles,
		hasher:      deps.Hasher,
		codec:       deps.Codec,
		notifier:    deps.Notifier,
		notifyWait:  notifyWait,
		tokenTTL:    deps.TokenTTL,
		logger:      logging.Component(deps.Logger, "authenticator"),
		dummyDigest: dummy,
	}, nil
}

// Register creates an enabled account with the default role and returns its id.
//
// Errors: *ValidationError, ErrSystemMisconfigured, ErrConflict, or a wrapped
// store error.
func (a *Authenticator) Register(ctx context.Context, in RegisterInput) (int, error) {
	in.Email = normalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)

	if err := in.Validate(); err != nil {
		a.logger.Debug().Str(logging.FieldFault, logging.FaultUser).Err(err).Msg("registration rejected")
		return 0, NewValidationError(err)
	}

	role, err := a.roles.GetByName(ctx, DefaultRole)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.logger.Error().
				Str(logging.FieldFault, logging.FaultOperator).
				Str("role", DefaultRole).
				Msg("default role missing; run migrations")
			return 0, ErrSystemMisconfigured
		}
		return 0, fmt.Errorf("load default role: %w", err)
	}

	if _, err := a.accounts.GetByEmail(ctx, in.Email); err == nil {
		return 0, ErrConflict
	} else if !errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("check email: %w", err)
	}

	digest, err := a.hasher.Hash(in.Password)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	account, err := a.accounts.Create(ctx, types.Account{
		Email:         in.Email,
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		PasswordHash:  digest,
		Roles:         []types.Role{role},
		Enabled:       true,
		AccountLocked: false,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("create account: %w", err)
	}

	a.logger.Info().Int("account_id", account.ID).Msg("account registered")
	a.sendWelcome(ctx, account)
	return account.ID, nil
}

// sendWelcome hands the welcome mail to the notifier with its own deadline,
// detached from the request, so a stalled queue cannot hold registration.
func (a *Authenticator) sendWelcome(ctx context.Context, account types.Account) {
	if a.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.notifyWait)
	defer cancel()

	subject, body := welcomeMessage(account.FirstName)
	if err := a.notifier.Send(ctx, account.Email, subject, body); err != nil {
		a.logger.Warn().Err(err).Int("account_id", account.ID).Msg("welcome mail not queued")
	}
}

func welcomeMessage(firstName string) (string, string) {
	subject := "Welcome to Quillpress!"
	body := fmt.Sprintf("Hello %s,\n\nthank you for registering with Quillpress.\n\nBest regards,\nThe Quillpress Team", firstName)
	return subject, body
}

// Login verifies the credentials and issues a token valid from now.
//
// An unknown email and a wrong password both yield ErrInvalidCredentials.
// A matching password on a disabled or locked account yields ErrAccountDisabled.
func (a *Authenticator) Login(ctx context.Context, email, password string, now time.Time) (Token, error) {
	email = normalizeEmail(email)

	account, err := a.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.hasher.Verify(password, a.dummyDigest)
			a.logger.Debug().Str(logging.FieldFault, logging.FaultUser).Msg("login failed")
			return Token{}, ErrInvalidCredentials
		}
		return Token{}, fmt.Errorf("load account: %w", err)
	}

	if !a.hasher.Verify(password, account.PasswordHash) {
		a.logger.Debug().Str(logging.FieldFault, logging.FaultUser).Int("account_id", account.ID).Msg("login failed")
		return Token{}, ErrInvalidCredentials
	}

	if !account.Enabled || account.AccountLocked {
		a.logger.Info().Int("account_id", account.ID).Msg("login refused for inactive account")
		return Token{}, ErrAccountDisabled
	}

	claims := map[string]string{
		ClaimFullName:  account.FullName(),
		ClaimAccountID: strconv.Itoa(account.ID),
	}
	roles := normalizeRoles(account.RoleNames())

	value, err := a.codec.Issue(account.Email, claims, roles, now, a.tokenTTL)
	if err != nil {
		return Token{}, fmt.Errorf("issue token: %w", err)
	}

	a.rehash(ctx, account, password)

	issuedAt := now.Truncate(time.Second)
	return Token{
		Value:     value,
		Subject:   account.Email,
		Claims:    claims,
		Roles:     roles,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(a.tokenTTL).Truncate(time.Second),
	}, nil
}

// rehash rotates a digest produced with outdated parameters.
func (a *Authenticator) rehash(ctx context.Context, account types.Account, password string) {
	if !a.hasher.NeedsRehash(account.PasswordHash) {
		return
	}
	digest, err := a.hasher.Hash(password)
	if err != nil {
		a.logger.Warn().Err(err).Int("account_id", account.ID).Msg("password rehash failed")
		return
	}
	if err := a.accounts.UpdatePasswordHash(ctx, account.ID, digest); err != nil {
		a.logger.Warn().Err(err).Int("account_id", account.ID).Msg("password rehash not stored")
		return
	}
	a.logger.Info().Int("account_id", account.ID).Msg("password digest rotated")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func maxBytes(limit int) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if len(s) > limit {
			return fmt.Errorf("must be at most %d bytes", limit)
		}
		return nil
	}
}
