package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uuru/uuru/internal/database/models"
)

// userRepo implements UserRepository.
type userRepo struct {
	q Querier
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(q Querier) UserRepository {
	return &userRepo{q: q}
}

const userColumns = `id, username, password_hash, role, created_at, updated_at`

// Create inserts a new user.
func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	result, err := r.q.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, role, created_at, updated_at)
		 VALUES (?, ?, ?, datetime('now'), datetime('now'))`,
		user.Username, user.PasswordHash, user.Role,
	)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	user.ID = id
	return nil
}

// GetByID returns a user by ID.
func (r *userRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(r.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetByUsername returns a user by username.
func (r *userRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUser(r.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

// List returns all users ordered by username.
func (r *userRepo) List(ctx context.Context) ([]models.User, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdatePassword replaces a user's password hash.
func (r *userRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	if _, err := r.q.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = datetime('now') WHERE id = ?`, hash, id,
	); err != nil {
		return fmt.Errorf("updating user password: %w", err)
	}
	return nil
}

// Delete removes a user by ID.
func (r *userRepo) Delete(ctx context.Context, id int64) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}

// Count returns the number of users.
func (r *userRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return &u, nil
}
