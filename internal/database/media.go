package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uuru/uuru/internal/database/models"
)

// mediaRepo implements MediaRepository.
type mediaRepo struct {
	q Querier
}

// NewMediaRepository creates a new MediaRepository.
func NewMediaRepository(q Querier) MediaRepository {
	return &mediaRepo{q: q}
}

// Put assigns media to a slot, replacing what was there.
func (r *mediaRepo) Put(ctx context.Context, m *models.ExtensionMedia) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO extension_media (extension, media_key, name, content_type, data, created_at)
		 VALUES (?, ?, ?, ?, ?, datetime('now'))
		 ON CONFLICT (extension, media_key) DO UPDATE SET
		 name = excluded.name, content_type = excluded.content_type,
		 data = excluded.data, created_at = excluded.created_at`,
		m.Extension, m.MediaKey, m.Name, m.ContentType, m.Data,
	)
	if err != nil {
		return fmt.Errorf("storing extension media: %w", err)
	}
	return nil
}

// Get returns the media in a slot, or nil.
func (r *mediaRepo) Get(ctx context.Context, ext, key string) (*models.ExtensionMedia, error) {
	var m models.ExtensionMedia
	err := r.q.QueryRowContext(ctx,
		`SELECT extension, media_key, name, content_type, data, created_at
		 FROM extension_media WHERE extension = ? AND media_key = ?`, ext, key,
	).Scan(&m.Extension, &m.MediaKey, &m.Name, &m.ContentType, &m.Data, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying extension media: %w", err)
	}
	return &m, nil
}

// Assigned reports whether a slot holds media.
func (r *mediaRepo) Assigned(ctx context.Context, ext, key string) (bool, error) {
	var n int
	if err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM extension_media WHERE extension = ? AND media_key = ?`, ext, key,
	).Scan(&n); err != nil {
		return false, fmt.Errorf("checking extension media: %w", err)
	}
	return n > 0, nil
}

// Delete clears a slot.
func (r *mediaRepo) Delete(ctx context.Context, ext, key string) error {
	if _, err := r.q.ExecContext(ctx,
		`DELETE FROM extension_media WHERE extension = ? AND media_key = ?`, ext, key,
	); err != nil {
		return fmt.Errorf("deleting extension media: %w", err)
	}
	return nil
}
