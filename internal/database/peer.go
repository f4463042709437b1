package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uuru/uuru/internal/database/models"
)

// peerRepo implements PeerRepository.
type peerRepo struct {
	q Querier
}

// NewPeerRepository creates a new PeerRepository.
func NewPeerRepository(q Querier) PeerRepository {
	return &peerRepo{q: q}
}

const peerColumns = `id, name, secret, prefix, partner_extension_length, codec,
	partner_iax_host, partner_uuru_host, created_at`

// Create inserts a peer.
func (r *peerRepo) Create(ctx context.Context, p *models.Peer) error {
	if _, err := r.q.ExecContext(ctx,
		`INSERT INTO peers (id, name, secret, prefix, partner_extension_length, codec,
		 partner_iax_host, partner_uuru_host, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))`,
		p.ID, p.Name, p.Secret, p.Prefix, p.PartnerExtensionLength, p.Codec,
		p.PartnerIAXHost, p.PartnerUURUHost,
	); err != nil {
		return fmt.Errorf("inserting peer: %w", err)
	}
	return nil
}

// Get returns a peer by ID.
func (r *peerRepo) Get(ctx context.Context, id string) (*models.Peer, error) {
	return scanPeer(r.q.QueryRowContext(ctx, `SELECT `+peerColumns+` FROM peers WHERE id = ?`, id))
}

// GetByName returns the peer with the given name.
func (r *peerRepo) GetByName(ctx context.Context, name string) (*models.Peer, error) {
	return scanPeer(r.q.QueryRowContext(ctx, `SELECT `+peerColumns+` FROM peers WHERE name = ?`, name))
}

// Count returns the number of established peers.
func (r *peerRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM peers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting peers: %w", err)
	}
	return n, nil
}

// List returns all peers ordered by name.
func (r *peerRepo) List(ctx context.Context) ([]models.Peer, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+peerColumns+` FROM peers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying peers: %w", err)
	}
	defer rows.Close()

	var peers []models.Peer
	for rows.Next() {
		var p models.Peer
		if err := rows.Scan(&p.ID, &p.Name, &p.Secret, &p.Prefix, &p.PartnerExtensionLength,
			&p.Codec, &p.PartnerIAXHost, &p.PartnerUURUHost, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning peer row: %w", err)
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}

// Delete removes a peer.
func (r *peerRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM peers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting peer: %w", err)
	}
	return nil
}

// ExistsNameOrHost reports whether a peer uses name or host.
func (r *peerRepo) ExistsNameOrHost(ctx context.Context, name, host string) (bool, error) {
	return exists(ctx, r.q, `SELECT COUNT(*) FROM peers WHERE name = ? OR partner_uuru_host = ?`, name, host)
}

// ExistsPrefix reports whether a peer dials out with prefix.
func (r *peerRepo) ExistsPrefix(ctx context.Context, prefix string) (bool, error) {
	return exists(ctx, r.q, `SELECT COUNT(*) FROM peers WHERE prefix = ?`, prefix)
}

func scanPeer(row *sql.Row) (*models.Peer, error) {
	var p models.Peer
	err := row.Scan(&p.ID, &p.Name, &p.Secret, &p.Prefix, &p.PartnerExtensionLength,
		&p.Codec, &p.PartnerIAXHost, &p.PartnerUURUHost, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning peer: %w", err)
	}
	return &p, nil
}

func exists(ctx context.Context, q Querier, query string, args ...any) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("checking existence: %w", err)
	}
	return n > 0, nil
}
