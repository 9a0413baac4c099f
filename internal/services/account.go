package services

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/quillpress/apiserver/internal/logging"
	"github.com/quillpress/apiserver/types"
)

// AccountRepository defines the account operations used by administrators.
type AccountRepository interface {
	GetByID(ctx context.Context, id int) (types.Account, error)
	SetStatus(ctx context.Context, id int, enabled, locked bool) error
}

// AccountInvalidator drops cached views of an account.
type AccountInvalidator interface {
	Invalidate(ctx context.Context, email string) error
}

// AccountService encapsulates account administration.
type AccountService struct {
	repo   AccountRepository
	cache  AccountInvalidator
	logger zerolog.Logger
}

// NewAccountService constructs an AccountService. cache may be nil.
func NewAccountService(repo AccountRepository, cache AccountInvalidator, logger zerolog.Logger) *AccountService {
	return &AccountService{
		repo:   repo,
		cache:  cache,
		logger: logging.Component(logger, "accounts"),
	}
}

func (s *AccountService) GetByID(ctx context.Context, id int) (types.Account, error) {
	return s.repo.GetByID(ctx, id)
}

// SetStatus updates the account flags and returns the updated account. The
// cached view is dropped so the guard sees the change on the next request.
func (s *AccountService) SetStatus(ctx context.Context, id int, enabled, locked bool) (types.Account, error) {
	if err := s.repo.SetStatus(ctx, id, enabled, locked); err != nil {
		return types.Account{}, err
	}

	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.Account{}, err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, account.Email); err != nil {
			s.logger.Warn().Err(err).Int("account_id", id).Msg("stale account view may be served until it expires")
		}
	}

	s.logger.Info().
		Int("account_id", id).
		Bool("enabled", enabled).
		Bool("locked", locked).
		Msg("account status changed")
	return account, nil
}
