package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uuru/uuru/internal/database/models"
)

// outgoingRequestRepo implements OutgoingRequestRepository.
type outgoingRequestRepo struct {
	q Querier
}

// NewOutgoingRequestRepository creates a new OutgoingRequestRepository.
func NewOutgoingRequestRepository(q Querier) OutgoingRequestRepository {
	return &outgoingRequestRepo{q: q}
}

const outgoingColumns = `id, name, partner_uuru_host, prefix, secret, codec, created_at`

func (r *outgoingRequestRepo) Create(ctx context.Context, req *models.OutgoingPeeringRequest) error {
	if _, err := r.q.ExecContext(ctx,
		`INSERT INTO outgoing_peering_requests (id, name, partner_uuru_host, prefix, secret, codec, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, datetime('now'))`,
		req.ID, req.Name, req.PartnerUURUHost, req.Prefix, req.Secret, req.Codec,
	); err != nil {
		return fmt.Errorf("inserting outgoing peering request: %w", err)
	}
	return nil
}

func (r *outgoingRequestRepo) Get(ctx context.Context, id string) (*models.OutgoingPeeringRequest, error) {
	var req models.OutgoingPeeringRequest
	err := r.q.QueryRowContext(ctx,
		`SELECT `+outgoingColumns+` FROM outgoing_peering_requests WHERE id = ?`, id,
	).Scan(&req.ID, &req.Name, &req.PartnerUURUHost, &req.Prefix, &req.Secret, &req.Codec, &req.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning outgoing peering request: %w", err)
	}
	return &req, nil
}

func (r *outgoingRequestRepo) List(ctx context.Context) ([]models.OutgoingPeeringRequest, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+outgoingColumns+` FROM outgoing_peering_requests ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("querying outgoing peering requests: %w", err)
	}
	defer rows.Close()

	var out []models.OutgoingPeeringRequest
	for rows.Next() {
		var req models.OutgoingPeeringRequest
		if err := rows.Scan(&req.ID, &req.Name, &req.PartnerUURUHost, &req.Prefix,
			&req.Secret, &req.Codec, &req.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning outgoing peering request row: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (r *outgoingRequestRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM outgoing_peering_requests WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting outgoing peering request: %w", err)
	}
	return nil
}

func (r *outgoingRequestRepo) ExistsNameOrHost(ctx context.Context, name, host string) (bool, error) {
	return exists(ctx, r.q,
		`SELECT COUNT(*) FROM outgoing_peering_requests WHERE name = ? OR partner_uuru_host = ?`, name, host)
}

func (r *outgoingRequestRepo) ExistsPrefix(ctx context.Context, prefix string) (bool, error) {
	return exists(ctx, r.q, `SELECT COUNT(*) FROM outgoing_peering_requests WHERE prefix = ?`, prefix)
}

// incomingRequestRepo implements IncomingRequestRepository.
type incomingRequestRepo struct {
	q Querier
}

// NewIncomingRequestRepository creates a new IncomingRequestRepository.
func NewIncomingRequestRepository(q Querier) IncomingRequestRepository {
	return &incomingRequestRepo{q: q}
}

const incomingColumns = `id, name, partner_uuru_host, partner_iax_host, partner_extension_length,
	secret, codec, created_at`

func (r *incomingRequestRepo) Create(ctx context.Context, req *models.IncomingPeeringRequest) error {
	if _, err := r.q.ExecContext(ctx,
		`INSERT INTO incoming_peering_requests (id, name, partner_uuru_host, partner_iax_host,
		 partner_extension_length, secret, codec, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))`,
		req.ID, req.Name, req.PartnerUURUHost, req.PartnerIAXHost,
		req.PartnerExtensionLength, req.Secret, req.Codec,
	); err != nil {
		return fmt.Errorf("inserting incoming peering request: %w", err)
	}
	return nil
}

func (r *incomingRequestRepo) Get(ctx context.Context, id string) (*models.IncomingPeeringRequest, error) {
	var req models.IncomingPeeringRequest
	err := r.q.QueryRowContext(ctx,
		`SELECT `+incomingColumns+` FROM incoming_peering_requests WHERE id = ?`, id,
	).Scan(&req.ID, &req.Name, &req.PartnerUURUHost, &req.PartnerIAXHost,
		&req.PartnerExtensionLength, &req.Secret, &req.Codec, &req.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning incoming peering request: %w", err)
	}
	return &req, nil
}

func (r *incomingRequestRepo) List(ctx context.Context) ([]models.IncomingPeeringRequest, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+incomingColumns+` FROM incoming_peering_requests ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("querying incoming peering requests: %w", err)
	}
	defer rows.Close()

	var out []models.IncomingPeeringRequest
	for rows.Next() {
		var req models.IncomingPeeringRequest
		if err := rows.Scan(&req.ID, &req.Name, &req.PartnerUURUHost, &req.PartnerIAXHost,
			&req.PartnerExtensionLength, &req.Secret, &req.Codec, &req.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning incoming peering request row: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (r *incomingRequestRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM incoming_peering_requests WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting incoming peering request: %w", err)
	}
	return nil
}

func (r *incomingRequestRepo) ExistsNameOrHost(ctx context.Context, name, host string) (bool, error) {
	return exists(ctx, r.q,
		`SELECT COUNT(*) FROM incoming_peering_requests WHERE name = ? OR partner_uuru_host = ?`, name, host)
}
