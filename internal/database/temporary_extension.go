package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uuru/uuru/internal/database/models"
)

// temporaryExtensionRepo implements TemporaryExtensionRepository.
type temporaryExtensionRepo struct {
	q Querier
}

// NewTemporaryExtensionRepository creates a new TemporaryExtensionRepository.
func NewTemporaryExtensionRepository(q Querier) TemporaryExtensionRepository {
	return &temporaryExtensionRepo{q: q}
}

// Create inserts a temporary extension.
func (r *temporaryExtensionRepo) Create(ctx context.Context, t *models.TemporaryExtension) error {
	if _, err := r.q.ExecContext(ctx,
		`INSERT INTO temporary_extensions (extension, password, uid, ppn, created_at)
		 VALUES (?, ?, ?, ?, datetime('now'))`,
		t.Extension, t.Password, t.UID, t.PPN,
	); err != nil {
		return fmt.Errorf("inserting temporary extension: %w", err)
	}
	return nil
}

// Get returns a temporary extension by number.
func (r *temporaryExtensionRepo) Get(ctx context.Context, ext string) (*models.TemporaryExtension, error) {
	return scanTemporaryExtension(r.q.QueryRowContext(ctx,
		`SELECT extension, password, uid, ppn, created_at FROM temporary_extensions WHERE extension = ?`, ext))
}

// GetByPPN returns the temporary extension bound to a DECT device.
func (r *temporaryExtensionRepo) GetByPPN(ctx context.Context, ppn int) (*models.TemporaryExtension, error) {
	return scanTemporaryExtension(r.q.QueryRowContext(ctx,
		`SELECT extension, password, uid, ppn, created_at FROM temporary_extensions WHERE ppn = ?`, ppn))
}

// List returns all temporary extensions.
func (r *temporaryExtensionRepo) List(ctx context.Context) ([]models.TemporaryExtension, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT extension, password, uid, ppn, created_at FROM temporary_extensions ORDER BY extension`)
	if err != nil {
		return nil, fmt.Errorf("querying temporary extensions: %w", err)
	}
	defer rows.Close()

	var out []models.TemporaryExtension
	for rows.Next() {
		var t models.TemporaryExtension
		if err := rows.Scan(&t.Extension, &t.Password, &t.UID, &t.PPN, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning temporary extension row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Delete removes a temporary extension.
func (r *temporaryExtensionRepo) Delete(ctx context.Context, ext string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM temporary_extensions WHERE extension = ?`, ext); err != nil {
		return fmt.Errorf("deleting temporary extension: %w", err)
	}
	return nil
}

func scanTemporaryExtension(row *sql.Row) (*models.TemporaryExtension, error) {
	var t models.TemporaryExtension
	err := row.Scan(&t.Extension, &t.Password, &t.UID, &t.PPN, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning temporary extension: %w", err)
	}
	return &t, nil
}
