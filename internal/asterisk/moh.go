package asterisk

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// MOHSlot is the media slot holding an extension's music on hold.
const MOHSlot = "moh"

// MusicOnHold is a musiconhold class row.
type MusicOnHold struct {
	Name        string
	Mode        string
	Application string
}

// MOHClass returns the music on hold class name of ext.
func MOHClass(ext string) string { return "moh_" + ext }

func (s *Store) mohApplication(ext, mediaKey string) string {
	return fmt.Sprintf("/usr/bin/mpg123 -q -r 8000 -f 8192 --mono -s %s/media/byextension/%s/%s",
		s.mediaBaseURL, ext, mediaKey)
}

// CreateMusicOnHold adds the class streaming ext's media in slot mediaKey.
func (s *Store) CreateMusicOnHold(ctx context.Context, tx *sql.Tx, ext, mediaKey string) error {
	err := s.run(ctx, tx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO musiconhold (name, mode, application) VALUES ($1, $2, $3)`,
			MOHClass(ext), "custom", s.mohApplication(ext, mediaKey),
		); err != nil {
			return fmt.Errorf("inserting music on hold: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("asterisk: created music on hold", "class", MOHClass(ext))
	return nil
}

// DeleteMusicOnHold removes ext's class if present.
func (s *Store) DeleteMusicOnHold(ctx context.Context, tx *sql.Tx, ext string) error {
	return s.run(ctx, tx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM musiconhold WHERE name = $1`, MOHClass(ext)); err != nil {
			return fmt.Errorf("deleting music on hold: %w", err)
		}
		return nil
	})
}

// SyncMusicOnHold creates or removes ext's class so it exists exactly when
// media is assigned to the moh slot. It reports whether the class exists
// afterwards.
func (s *Store) SyncMusicOnHold(ctx context.Context, tx *sql.Tx, ext string, assigned bool) (bool, error) {
	err := s.run(ctx, tx, func(tx *sql.Tx) error {
		existing, err := s.MusicOnHold(ctx, tx, ext)
		if err != nil {
			return err
		}
		switch {
		case assigned && existing == nil:
			return s.CreateMusicOnHold(ctx, tx, ext, MOHSlot)
		case !assigned && existing != nil:
			slog.Info("asterisk: removing music on hold", "class", MOHClass(ext))
			return s.DeleteMusicOnHold(ctx, tx, ext)
		}
		return nil
	})
	return assigned && err == nil, err
}

// MusicOnHold returns ext's class, or nil.
func (s *Store) MusicOnHold(ctx context.Context, tx *sql.Tx, ext string) (*MusicOnHold, error) {
	var m MusicOnHold
	err := s.querier(tx).QueryRowContext(ctx,
		`SELECT name, mode, application FROM musiconhold WHERE name = $1`, MOHClass(ext),
	).Scan(&m.Name, &m.Mode, &m.Application)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying music on hold: %w", err)
	}
	return &m, nil
}
