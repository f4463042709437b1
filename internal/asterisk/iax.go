package asterisk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/uuru/uuru/internal/database/models"
	"github.com/uuru/uuru/internal/dialplan"
)

// ErrUnknownIAXPeer is returned when no IAX2 friend matches name and secret.
var ErrUnknownIAXPeer = errors.New("asterisk: unknown IAX2 friend")

// PeerPattern returns the dialplan pattern routing to a federation peer,
// e.g. "_8XXXX" for prefix 8 and a four digit partner.
func PeerPattern(p *models.Peer) string {
	return "_" + p.Prefix + strings.Repeat("X", p.PartnerExtensionLength)
}

// peerDial strips the prefix and dials the partner over its trunk.
func peerDial(p *models.Peer) dialplan.Dial {
	return dialplan.Dial{
		Devices: []string{fmt.Sprintf("IAX2/%s/${EXTEN:-%d}", p.Name, p.PartnerExtensionLength)},
	}
}

// CreateIAXPeer adds the IAX2 friend of a peer and the dialplan routing its
// prefix into the trunk.
func (s *Store) CreateIAXPeer(ctx context.Context, tx *sql.Tx, p *models.Peer) error {
	err := s.run(ctx, tx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO iaxfriends (name, type, username, secret, host, context, disallow, allow)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			p.Name, "friend", p.Name, p.Secret, p.PartnerIAXHost, dialplan.DefaultContext, "all", p.Codec,
		); err != nil {
			return fmt.Errorf("inserting iax friend: %w", err)
		}

		plan := dialplan.New(PeerPattern(p), dialplan.DefaultContext)
		if err := plan.AddAt(1, peerDial(p)); err != nil {
			return err
		}
		return s.StoreDialplan(ctx, tx, plan)
	})
	if err != nil {
		return err
	}
	slog.Info("asterisk: created iax peer", "peer", p.Name, "pattern", PeerPattern(p))
	return nil
}

// DeleteIAXPeer removes the IAX2 friend matching the peer's name and secret
// together with its dialplan.
func (s *Store) DeleteIAXPeer(ctx context.Context, tx *sql.Tx, p *models.Peer) error {
	err := s.run(ctx, tx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM iaxfriends WHERE name = $1 AND secret = $2`, p.Name, p.Secret)
		if err != nil {
			return fmt.Errorf("deleting iax friend: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("deleting iax friend: %w", err)
		}
		if n == 0 {
			return ErrUnknownIAXPeer
		}
		return s.DeleteDialplan(ctx, tx, PeerPattern(p), dialplan.DefaultContext)
	})
	if err != nil {
		return err
	}
	slog.Info("asterisk: deleted iax peer", "peer", p.Name, "pattern", PeerPattern(p))
	return nil
}
