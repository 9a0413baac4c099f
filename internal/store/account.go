package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/quillpress/apiserver/types"
)

// AccountRepository handles persistence for accounts and their role links.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const selectAccount = `
	SELECT a.id, a.email, a.firstname, a.lastname, a.password_hash, a.enabled, a.account_locked,
		a.created_at, a.updated_at,
		COALESCE(array_agg(r.id ORDER BY r.name) FILTER (WHERE r.id IS NOT NULL), '{}'),
		COALESCE(array_agg(r.name ORDER BY r.name) FILTER (WHERE r.id IS NOT NULL), '{}')
	FROM accounts a
	LEFT JOIN account_roles ar ON ar.account_id = a.id
	LEFT JOIN roles r ON r.id = ar.role_id`

func (r *AccountRepository) GetByID(ctx context.Context, id int) (types.Account, error) {
	const query = selectAccount + `
	WHERE a.id = $1
	GROUP BY a.id`
	return scanAccount(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail matches the email case-insensitively.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (types.Account, error) {
	const query = selectAccount + `
	WHERE lower(a.email) = lower($1)
	GROUP BY a.id`
	return scanAccount(r.db.QueryRowContext(ctx, query, strings.TrimSpace(email)))
}

func scanAccount(row *sql.Row) (types.Account, error) {
	var account types.Account
	var roleIDs []int64
	var roleNames []string
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.FirstName,
		&account.LastName,
		&account.PasswordHash,
		&account.Enabled,
		&account.AccountLocked,
		&account.CreatedAt,
		&account.UpdatedAt,
		pq.Array(&roleIDs),
		pq.Array(&roleNames),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}

	account.Roles = make([]types.Role, 0, len(roleNames))
	for i, name := range roleNames {
		account.Roles = append(account.Roles, types.Role{ID: int(roleIDs[i]), Name: name})
	}
	return account, nil
}

// Create inserts the account and its role links in one transaction. A second
// account with the same email (ignoring case) fails with ErrDuplicate.
func (r *AccountRepository) Create(ctx context.Context, account types.Account) (types.Account, error) {
	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Account{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const insertAccount = `
		INSERT INTO accounts (email, firstname, lastname, password_hash, enabled, account_locked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		insertAccount,
		account.Email,
		account.FirstName,
		account.LastName,
		account.PasswordHash,
		account.Enabled,
		account.AccountLocked,
		account.CreatedAt,
		account.UpdatedAt,
	).Scan(&account.ID); err != nil {
		if isUniqueViolation(err) {
			return types.Account{}, ErrDuplicate
		}
		return types.Account{}, err
	}

	const insertRole = `INSERT INTO account_roles (account_id, role_id) VALUES ($1, $2)`
	for _, role := range account.Roles {
		if _, err := tx.ExecContext(ctx, insertRole, account.ID, role.ID); err != nil {
			return types.Account{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return types.Account{}, ErrDuplicate
		}
		return types.Account{}, err
	}
	return account, nil
}

// SetStatus updates the enabled and locked flags.
func (r *AccountRepository) SetStatus(ctx context.Context, id int, enabled, locked bool) error {
	const query = `
		UPDATE accounts
		SET enabled = $1,
			account_locked = $2,
			updated_at = $3
		WHERE id = $4`
	return execAffectingOne(ctx, r.db, query, enabled, locked, time.Now(), id)
}

// UpdatePasswordHash replaces the stored digest.
func (r *AccountRepository) UpdatePasswordHash(ctx context.Context, id int, hash string) error {
	const query = `
		UPDATE accounts
		SET password_hash = $1,
			updated_at = $2
		WHERE id = $3`
	return execAffectingOne(ctx, r.db, query, hash, time.Now(), id)
}

func execAffectingOne(ctx context.Context, db *sql.DB, query string, args ...any) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
