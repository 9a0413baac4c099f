// Package cache keeps a short-lived redis view of accounts for the request guard.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quillpress/apiserver/config"
	"github.com/quillpress/apiserver/internal/logging"
	"github.com/quillpress/apiserver/types"
)

const (
	keyPrefix = "quillpress:account"

	// tombstone marks an invalidated key. Reads treat it as a miss and never
	// replace it, so a row loaded before the invalidation cannot be cached.
	tombstone = "-"
	// tombstoneTTL outlives the longest request that could still be holding
	// such a row.
	tombstoneTTL = 2 * time.Minute
)

// AccountSource is the authoritative account lookup behind the cache.
type AccountSource interface {
	GetByEmail(ctx context.Context, email string) (types.Account, error)
}

// entry is the cached projection. It carries the flags the guard needs and
// never the password digest.
type entry struct {
	ID        int          `json:"id"`
	Email     string       `json:"email"`
	FirstName string       `json:"firstname"`
	LastName  string       `json:"lastname"`
	Roles     []types.Role `json:"roles"`
	Enabled   bool         `json:"enabled"`
	Locked    bool         `json:"locked"`
}

func toEntry(a types.Account) entry {
	return entry{
		ID:        a.ID,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Roles:     a.Roles,
		Enabled:   a.Enabled,
		Locked:    a.AccountLocked,
	}
}

func (e entry) account() types.Account {
	return types.Account{
		ID:            e.ID,
		Email:         e.Email,
		FirstName:     e.FirstName,
		LastName:      e.LastName,
		Roles:         e.Roles,
		Enabled:       e.Enabled,
		AccountLocked: e.Locked,
	}
}

// Accounts is a read-through cache in front of an AccountSource. Redis
// failures fall back to the source so the cache can never lock users out.
type Accounts struct {
	rdb    *redis.Client
	source AccountSource
	ttl    time.Duration
	logger zerolog.Logger
}

// NewClient builds a redis client from configuration.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewAccounts(rdb *redis.Client, source AccountSource, ttl time.Duration, logger zerolog.Logger) *Accounts {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Accounts{
		rdb:    rdb,
		source: source,
		ttl:    ttl,
		logger: logging.Component(logger, "account-cache"),
	}
}

func key(email string) string {
	return keyPrefix + ":" + strings.ToLower(strings.TrimSpace(email))
}

// GetByEmail returns the cached account or loads and caches it.
// Source errors, including not-found, are returned untouched and not cached.
func (c *Accounts) GetByEmail(ctx context.Context, email string) (types.Account, error) {
	k := key(email)
	writeBack := false

	raw, err := c.rdb.Get(ctx, k).Bytes()
	switch {
	case err == nil && string(raw) == tombstone:
	case err == nil:
		var e entry
		if jsonErr := json.Unmarshal(raw, &e); jsonErr == nil {
			return e.account(), nil
		}
		c.logger.Warn().Msg("ignoring undecodable cache entry")
	case errors.Is(err, redis.Nil):
		writeBack = true
	default:
		c.logger.Warn().Err(err).Msg("cache read failed")
	}

	account, err := c.source.GetByEmail(ctx, email)
	if err != nil {
		return types.Account{}, err
	}
	if !writeBack {
		return account, nil
	}

	data, err := json.Marshal(toEntry(account))
	if err != nil {
		return account, nil
	}
	// SetNX: an Invalidate that landed while the source was read wins.
	if err := c.rdb.SetNX(ctx, k, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("cache write failed")
	}
	return account, nil
}

// Invalidate replaces the cached view of email with a tombstone. Reads go to
// the source until the tombstone expires.
func (c *Accounts) Invalidate(ctx context.Context, email string) error {
	if err := c.rdb.Set(ctx, key(email), tombstone, tombstoneTTL).Err(); err != nil {
		return fmt.Errorf("invalidate account cache: %w", err)
	}
	return nil
}
