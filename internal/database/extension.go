package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/uuru/uuru/internal/database/models"
)

// extensionRepo implements ExtensionRepository.
type extensionRepo struct {
	q Querier
}

// NewExtensionRepository creates a new ExtensionRepository.
func NewExtensionRepository(q Querier) ExtensionRepository {
	return &extensionRepo{q: q}
}

const extensionColumns = `extension, name, location_name, lat, lon, public, type, token,
	password, info, user_id, extra_fields, codec, created_at, updated_at`

// Create inserts a new extension.
func (r *extensionRepo) Create(ctx context.Context, ext *models.Extension) error {
	extra, err := encodeExtraFields(ext.ExtraFields)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO extensions (extension, name, location_name, lat, lon, public, type,
		 token, password, info, user_id, extra_fields, codec, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		ext.Extension, ext.Name, ext.LocationName, ext.Lat, ext.Lon, ext.Public, ext.Type,
		ext.Token, ext.Password, ext.Info, ext.UserID, extra, ext.Codec,
	)
	if err != nil {
		return fmt.Errorf("inserting extension: %w", err)
	}
	return nil
}

// Get returns an extension by its number.
func (r *extensionRepo) Get(ctx context.Context, ext string) (*models.Extension, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+extensionColumns+` FROM extensions WHERE extension = ?`, ext)
	if err != nil {
		return nil, fmt.Errorf("querying extension: %w", err)
	}
	exts, err := scanExtensions(rows)
	if err != nil || len(exts) == 0 {
		return nil, err
	}
	return &exts[0], nil
}

// GetByToken returns the extension registered with a DECT token.
func (r *extensionRepo) GetByToken(ctx context.Context, token string) (*models.Extension, error) {
	return r.first(ctx, `SELECT `+extensionColumns+` FROM extensions WHERE token = ? AND token != ''`, token)
}

// GetByExtraField returns the first extension whose extra field key equals
// value, e.g. the phone with a given MAC address.
func (r *extensionRepo) GetByExtraField(ctx context.Context, key, value string) (*models.Extension, error) {
	return r.first(ctx,
		`SELECT `+extensionColumns+` FROM extensions WHERE json_extract(extra_fields, '$.' || ?) = ?
		 ORDER BY extension LIMIT 1`, key, value)
}

// GetMany returns the extensions among exts that exist.
func (r *extensionRepo) GetMany(ctx context.Context, exts []string) ([]models.Extension, error) {
	if len(exts) == 0 {
		return nil, nil
	}
	args := make([]any, len(exts))
	for i, e := range exts {
		args[i] = e
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(exts)), ",")
	return r.list(ctx,
		`SELECT `+extensionColumns+` FROM extensions WHERE extension IN (`+placeholders+`) ORDER BY extension`,
		args...)
}

// List returns all extensions ordered by number.
func (r *extensionRepo) List(ctx context.Context) ([]models.Extension, error) {
	return r.list(ctx, `SELECT `+extensionColumns+` FROM extensions ORDER BY extension`)
}

// ListByUser returns the extensions owned by a user.
func (r *extensionRepo) ListByUser(ctx context.Context, userID int64) ([]models.Extension, error) {
	return r.list(ctx,
		`SELECT `+extensionColumns+` FROM extensions WHERE user_id = ? ORDER BY extension`, userID)
}

// ListByTypes returns every extension whose type is one of types.
func (r *extensionRepo) ListByTypes(ctx context.Context, types []string) ([]models.Extension, error) {
	if len(types) == 0 {
		return nil, nil
	}
	args := make([]any, len(types))
	for i, t := range types {
		args[i] = t
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(types)), ",")
	return r.list(ctx,
		`SELECT `+extensionColumns+` FROM extensions WHERE type IN (`+placeholders+`) ORDER BY extension`,
		args...)
}

// Search matches query against number, name and location. An empty query
// matches everything.
func (r *extensionRepo) Search(ctx context.Context, query string, publicOnly bool) ([]models.Extension, error) {
	like := "%" + query + "%"
	q := `SELECT ` + extensionColumns + ` FROM extensions
		WHERE (extension LIKE ? OR name LIKE ? OR location_name LIKE ?)`
	if publicOnly {
		q += ` AND public = 1`
	}
	q += ` ORDER BY extension`
	return r.list(ctx, q, like, like, like)
}

// CountByType returns the number of extensions per phone type.
func (r *extensionRepo) CountByType(ctx context.Context) (map[string]int64, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT type, COUNT(*) FROM extensions GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("counting extensions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			t string
			n int64
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scanning extension count: %w", err)
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

// Update modifies an existing extension.
func (r *extensionRepo) Update(ctx context.Context, ext *models.Extension) error {
	extra, err := encodeExtraFields(ext.ExtraFields)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx,
		`UPDATE extensions SET name = ?, location_name = ?, lat = ?, lon = ?, public = ?,
		 type = ?, token = ?, password = ?, info = ?, user_id = ?, extra_fields = ?,
		 codec = ?, updated_at = datetime('now')
		 WHERE extension = ?`,
		ext.Name, ext.LocationName, ext.Lat, ext.Lon, ext.Public, ext.Type, ext.Token,
		ext.Password, ext.Info, ext.UserID, extra, ext.Codec, ext.Extension,
	)
	if err != nil {
		return fmt.Errorf("updating extension: %w", err)
	}
	return nil
}

// Delete removes an extension.
func (r *extensionRepo) Delete(ctx context.Context, ext string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM extensions WHERE extension = ?`, ext); err != nil {
		return fmt.Errorf("deleting extension: %w", err)
	}
	return nil
}

func (r *extensionRepo) first(ctx context.Context, query string, args ...any) (*models.Extension, error) {
	exts, err := r.list(ctx, query, args...)
	if err != nil || len(exts) == 0 {
		return nil, err
	}
	return &exts[0], nil
}

func (r *extensionRepo) list(ctx context.Context, query string, args ...any) ([]models.Extension, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying extensions: %w", err)
	}
	return scanExtensions(rows)
}

func scanExtensions(rows *sql.Rows) ([]models.Extension, error) {
	defer rows.Close()

	var exts []models.Extension
	for rows.Next() {
		var (
			e        models.Extension
			lat, lon sql.NullInt64
			userID   sql.NullInt64
			extra    string
		)
		if err := rows.Scan(&e.Extension, &e.Name, &e.LocationName, &lat, &lon, &e.Public,
			&e.Type, &e.Token, &e.Password, &e.Info, &userID, &extra, &e.Codec,
			&e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning extension row: %w", err)
		}
		if lat.Valid {
			e.Lat = &lat.Int64
		}
		if lon.Valid {
			e.Lon = &lon.Int64
		}
		if userID.Valid {
			e.UserID = &userID.Int64
		}
		if err := json.Unmarshal([]byte(extra), &e.ExtraFields); err != nil {
			return nil, fmt.Errorf("decoding extra fields of %s: %w", e.Extension, err)
		}
		exts = append(exts, e)
	}
	return exts, rows.Err()
}

func encodeExtraFields(fields map[string]string) (string, error) {
	if len(fields) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encoding extra fields: %w", err)
	}
	return string(b), nil
}
