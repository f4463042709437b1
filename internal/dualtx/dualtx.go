// Package dualtx runs work that must land in both the primary store and the
// PBX store.
package dualtx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// ErrPartialCommit is returned when the primary store committed but the PBX
// store did not. The stores disagree until the caller repairs them.
var ErrPartialCommit = errors.New("dualtx: primary committed, pbx commit failed")

// Beginner starts transactions. *sql.DB satisfies it.
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Run begins a transaction on primary and on pbx and calls fn with both. When
// fn returns nil the primary transaction commits first, then the PBX one. On
// any error both are rolled back.
func Run(ctx context.Context, primary, pbx Beginner, fn func(ptx, stx *sql.Tx) error) error {
	ptx, err := primary.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning primary transaction: %w", err)
	}
	stx, err := pbx.BeginTx(ctx, nil)
	if err != nil {
		ptx.Rollback()
		return fmt.Errorf("beginning pbx transaction: %w", err)
	}

	if err := fn(ptx, stx); err != nil {
		rollback(ptx, "primary")
		rollback(stx, "pbx")
		return err
	}

	if err := ptx.Commit(); err != nil {
		rollback(stx, "pbx")
		return fmt.Errorf("committing primary transaction: %w", err)
	}
	if err := stx.Commit(); err != nil {
		slog.Error("dualtx: pbx commit failed after primary commit", "error", err)
		return fmt.Errorf("%w: %v", ErrPartialCommit, err)
	}
	return nil
}

func rollback(tx *sql.Tx, name string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Warn("dualtx: rollback failed", "store", name, "error", err)
	}
}
