package asterisk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/uuru/uuru/internal/apperr"
	"github.com/uuru/uuru/internal/database"
)

// ErrNoEndpoint is returned when updating an endpoint that does not exist.
var ErrNoEndpoint = errors.New("asterisk: no such endpoint")

// Account describes a PJSIP endpoint with its aor and auth.
type Account struct {
	ID          string // extension number; also aor, auth and username
	DisplayName string
	Password    string
	Codec       string
	Context     string // defaults to pjsip_internal
	WebSIP      bool   // enables WebRTC and DTLS certificate generation
}

// Endpoint is the subset of ps_endpoints this service reads back.
type Endpoint struct {
	ID       string
	Context  string
	Allow    string
	CallerID string
	WebRTC   bool
}

// CallerID formats the endpoint caller id.
func CallerID(name, ext string) string {
	return fmt.Sprintf("%s <%s>", name, ext)
}

// CreateSIPAccount inserts the aor, auth and endpoint rows of an account.
func (s *Store) CreateSIPAccount(ctx context.Context, tx *sql.Tx, acc Account) error {
	if acc.Context == "" {
		acc.Context = "pjsip_internal"
	}
	var webrtc sql.NullString
	if acc.WebSIP {
		webrtc = sql.NullString{String: "1", Valid: true}
	}

	err := s.run(ctx, tx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ps_aors (id, max_contacts) VALUES ($1, $2)`, acc.ID, 1,
		); err != nil {
			return fmt.Errorf("inserting aor: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ps_auths (id, auth_type, username, password) VALUES ($1, $2, $3, $4)`,
			acc.ID, "userpass", acc.ID, acc.Password,
		); err != nil {
			return fmt.Errorf("inserting auth: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ps_endpoints (id, transport, aors, auth, context, disallow, allow,
			 callerid, direct_media, send_pai, webrtc, dtls_auto_generate_cert)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			acc.ID, "transport-udp", acc.ID, acc.ID, acc.Context, "all", acc.Codec,
			CallerID(acc.DisplayName, acc.ID), "0", "1", webrtc, webrtc,
		); err != nil {
			return fmt.Errorf("inserting endpoint: %w", err)
		}
		return nil
	})
	if err != nil {
		slog.Error("asterisk: could not configure endpoint", "extension", acc.ID, "error", err)
		if database.IsUniqueViolation(err) {
			return apperr.Wrap(apperr.KindConflict, err, "endpoint already exists in asterisk")
		}
		return apperr.Wrap(apperr.KindNotAllowed, err, "could not configure endpoint in asterisk")
	}

	slog.Info("asterisk: created endpoint", "extension", acc.ID, "callerid", CallerID(acc.DisplayName, acc.ID))
	return nil
}

// UpdateSIPAccount refreshes caller id and codec of an existing endpoint.
// An empty codec leaves the allow list unchanged.
func (s *Store) UpdateSIPAccount(ctx context.Context, tx *sql.Tx, acc Account) error {
	err := s.run(ctx, tx, func(tx *sql.Tx) error {
		var (
			res sql.Result
			err error
		)
		if acc.Codec != "" {
			res, err = tx.ExecContext(ctx,
				`UPDATE ps_endpoints SET callerid = $1, allow = $2 WHERE id = $3`,
				CallerID(acc.DisplayName, acc.ID), acc.Codec, acc.ID)
		} else {
			res, err = tx.ExecContext(ctx,
				`UPDATE ps_endpoints SET callerid = $1 WHERE id = $2`,
				CallerID(acc.DisplayName, acc.ID), acc.ID)
		}
		if err != nil {
			return fmt.Errorf("updating endpoint: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("updating endpoint: %w", err)
		}
		if n == 0 {
			return ErrNoEndpoint
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("asterisk: updated endpoint", "extension", acc.ID)
	return nil
}

// DeleteSIPAccount removes the endpoint, auth and aor rows of id. Missing
// rows are not an error.
func (s *Store) DeleteSIPAccount(ctx context.Context, tx *sql.Tx, id string) error {
	err := s.run(ctx, tx, func(tx *sql.Tx) error {
		for _, table := range []string{"ps_endpoints", "ps_auths", "ps_aors"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1`, id); err != nil {
				return fmt.Errorf("deleting from %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("asterisk: deleted endpoint", "extension", id)
	return nil
}

// Endpoint returns the endpoint with id, or nil.
func (s *Store) Endpoint(ctx context.Context, tx *sql.Tx, id string) (*Endpoint, error) {
	var (
		e      Endpoint
		webrtc sql.NullString
	)
	err := s.querier(tx).QueryRowContext(ctx,
		`SELECT id, context, allow, callerid, webrtc FROM ps_endpoints WHERE id = $1`, id,
	).Scan(&e.ID, &e.Context, &e.Allow, &e.CallerID, &webrtc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying endpoint: %w", err)
	}
	e.WebRTC = webrtc.String == "1"
	return &e, nil
}
