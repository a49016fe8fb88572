package db

import (
	"context"
	"fmt"
)

// CountUsers returns the total user count.
func (p *Pool) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := p.QueryRow(ctx, `SELECT COUNT(*) FROM crowd.users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// CreateUser inserts a user and returns the stored row.
func (p *Pool) CreateUser(ctx context.Context, username, passwordHash, role string) (User, error) {
	const q = `
INSERT INTO crowd.users (username, password_hash, role)
VALUES ($1, $2, $3)
RETURNING user_id, user_uuid::text, username, password_hash, role, created_at, updated_at
`
	var u User
	row := p.QueryRow(ctx, q, username, passwordHash, role)
	if err := row.Scan(&u.UserID, &u.UserUUID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, fmt.Errorf("insert user %q: %w", username, err)
	}
	return u, nil
}

// GetUserByUsername loads one user row.
func (p *Pool) GetUserByUsername(ctx context.Context, username string) (User, error) {
	const q = `
SELECT user_id, user_uuid::text, username, password_hash, role, created_at, updated_at
FROM crowd.users
WHERE username = $1
`
	var u User
	row := p.QueryRow(ctx, q, username)
	if err := row.Scan(&u.UserID, &u.UserUUID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if IsNoRows(err) {
			return User{}, err
		}
		return User{}, fmt.Errorf("get user %q: %w", username, err)
	}
	return u, nil
}
