package asterisk

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uuru/uuru/internal/dialplan"
)

// lockDialplan serializes writers of one (exten, context) inside this
// process. On PostgreSQL a transaction scoped advisory lock additionally
// holds other writers off until tx ends.
func (s *Store) lockDialplan(ctx context.Context, tx *sql.Tx, exten, context string) (func(), error) {
	key := exten + "@" + context
	unlock := s.locks.Lock(key)
	if s.driver == DriverPostgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			unlock()
			return nil, fmt.Errorf("locking dialplan %s: %w", key, err)
		}
	}
	return unlock, nil
}

// LoadDialplan reads the dialplan of (exten, context).
func (s *Store) LoadDialplan(ctx context.Context, tx *sql.Tx, exten, context string) (*dialplan.Dialplan, error) {
	return dialplan.Load(ctx, s.querier(tx), exten, context)
}

// StoreDialplan replaces the persisted rows of d with its entries.
func (s *Store) StoreDialplan(ctx context.Context, tx *sql.Tx, d *dialplan.Dialplan) error {
	return s.run(ctx, tx, func(tx *sql.Tx) error {
		unlock, err := s.lockDialplan(ctx, tx, d.Exten, d.Context)
		if err != nil {
			return err
		}
		defer unlock()
		return d.Store(ctx, tx)
	})
}

// DeleteDialplan removes every row of (exten, context).
func (s *Store) DeleteDialplan(ctx context.Context, tx *sql.Tx, exten, context string) error {
	return s.run(ctx, tx, func(tx *sql.Tx) error {
		unlock, err := s.lockDialplan(ctx, tx, exten, context)
		if err != nil {
			return err
		}
		defer unlock()
		return dialplan.New(exten, context).Delete(ctx, tx)
	})
}
