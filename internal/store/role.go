package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/quillpress/apiserver/types"
)

// RoleRepository reads role reference data.
type RoleRepository struct {
	db *sql.DB
}

func NewRoleRepository(db *sql.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

func (r *RoleRepository) GetByName(ctx context.Context, name string) (types.Role, error) {
	const query = `SELECT id, name FROM roles WHERE name = $1`
	var role types.Role
	if err := r.db.QueryRowContext(ctx, query, name).Scan(&role.ID, &role.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Role{}, ErrNotFound
		}
		return types.Role{}, err
	}
	return role, nil
}
