package asterisk

import (
	"context"
	"fmt"
	"time"
)

// Contact is a registered PJSIP contact.
type Contact struct {
	ID        string
	URI       string
	Endpoint  string
	ExpiresAt time.Time
	UserAgent string
}

// Contacts returns the unexpired contacts registered for endpoint.
func (s *Store) Contacts(ctx context.Context, endpoint string) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, uri, endpoint, expiration_time, COALESCE(user_agent, '')
		 FROM ps_contacts WHERE endpoint = $1 AND expiration_time > $2
		 ORDER BY expiration_time DESC`,
		endpoint, time.Now().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying contacts: %w", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var (
			c       Contact
			expires int64
		)
		if err := rows.Scan(&c.ID, &c.URI, &c.Endpoint, &expires, &c.UserAgent); err != nil {
			return nil, fmt.Errorf("scanning contact row: %w", err)
		}
		c.ExpiresAt = time.Unix(expires, 0)
		out = append(out, c)
	}
	return out, rows.Err()
}

// IsOnline reports whether endpoint has at least one live contact.
func (s *Store) IsOnline(ctx context.Context, endpoint string) (bool, error) {
	contacts, err := s.Contacts(ctx, endpoint)
	if err != nil {
		return false, err
	}
	return len(contacts) > 0, nil
}

// CountOnline returns the number of endpoints with at least one live contact.
func (s *Store) CountOnline(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT endpoint) FROM ps_contacts WHERE expiration_time > $1`,
		time.Now().Unix(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting online endpoints: %w", err)
	}
	return n, nil
}
