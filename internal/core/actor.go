package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type actorDirectory struct {
	pool *pgxpool.Pool
}

// NewActorDirectory constructs an ActorDirectory backed by the users table.
func NewActorDirectory(pool *pgxpool.Pool) ActorDirectory {
	return &actorDirectory{pool: pool}
}

func (d *actorDirectory) RoleOf(ctx context.Context, userID int) (string, error) {
	var role string
	err := d.pool.QueryRow(ctx,
		"SELECT role FROM users WHERE id = $1 AND is_active = true", userID,
	).Scan(&role)
	if err != nil {
		if isNoRows(err) {
			return "", fmt.Errorf("user %d not found or inactive", userID)
		}
		return "", fmt.Errorf("resolve role for user %d: %w", userID, err)
	}
	return role, nil
}

// GetUser returns one user by id.
func GetUser(ctx context.Context, pool *pgxpool.Pool, userID int) (*User, error) {
	u := &User{}
	err := pool.QueryRow(ctx,
		"SELECT id, username, role, is_active, created_at FROM users WHERE id = $1", userID,
	).Scan(&u.ID, &u.Username, &u.Role, &u.IsActive, &u.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("user %d not found", userID)
		}
		return nil, fmt.Errorf("fetch user %d: %w", userID, err)
	}
	return u, nil
}
