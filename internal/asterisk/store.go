// Package asterisk writes the Asterisk realtime configuration rows this
// service manages: PJSIP accounts, IAX2 peers, music on hold classes and
// dialplan entries.
package asterisk

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/uuru/uuru/internal/database"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Drivers accepted by Open.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// Store is the Asterisk realtime database. Every mutating method takes a
// *sql.Tx; a nil tx makes the method run in its own transaction.
type Store struct {
	db           *sql.DB
	driver       string
	mediaBaseURL string
	locks        *keyedMutex
}

// Open connects to the realtime database.
func Open(driver, dsn, mediaBaseURL string) (*Store, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported asterisk database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening asterisk database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging asterisk database: %w", err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	slog.Info("asterisk database opened", "driver", driver)
	return New(db, driver, mediaBaseURL), nil
}

// New wraps an open database.
func New(db *sql.DB, driver, mediaBaseURL string) *Store {
	return &Store{db: db, driver: driver, mediaBaseURL: mediaBaseURL, locks: newKeyedMutex()}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB { return s.db }

// BeginTx starts a transaction on the realtime database.
func (s *Store) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, opts)
}

// EnsureSchema creates the realtime tables if they do not exist. Production
// deployments normally get them from Asterisk's own migrations.
func (s *Store) EnsureSchema(ctx context.Context) error {
	name := "schema/postgres.sql"
	if s.driver == DriverSQLite {
		name = "schema/sqlite.sql"
	}
	ddl, err := schemaFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("reading asterisk schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, string(ddl)); err != nil {
		return fmt.Errorf("creating asterisk schema: %w", err)
	}
	return nil
}

// run calls fn inside tx, or inside a transaction of its own when tx is nil.
func (s *Store) run(ctx context.Context, tx *sql.Tx, fn func(*sql.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	own, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning asterisk transaction: %w", err)
	}
	if err := fn(own); err != nil {
		own.Rollback()
		return err
	}
	if err := own.Commit(); err != nil {
		return fmt.Errorf("committing asterisk transaction: %w", err)
	}
	return nil
}

// querier returns tx when set, else the database.
func (s *Store) querier(tx *sql.Tx) database.Querier {
	if tx != nil {
		return tx
	}
	return s.db
}
