package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Provider is a stored model API credential. EncryptedKey never leaves the
// process; only KeyPreview is serialized.
type Provider struct {
	ID           string    `json:"id"`
	Kind         string    `json:"provider"`
	Label        string    `json:"label"`
	KeyPreview   string    `json:"keyPreview"`
	EncryptedKey string    `json:"-"`
	AuthType     string    `json:"authType"`
	CreatedAt    time.Time `json:"createdAt"`
}

const providerColumns = `id, provider, label, key_preview, encrypted_key, auth_type, created_at`

func scanProvider(row scanner) (*Provider, error) {
	var p Provider
	var createdAt string
	err := row.Scan(&p.ID, &p.Kind, &p.Label, &p.KeyPreview, &p.EncryptedKey, &p.AuthType, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning provider: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// CreateProvider inserts p. CreatedAt is set to now.
func (s *Store) CreateProvider(ctx context.Context, p *Provider) error {
	p.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO providers (`+providerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Kind, p.Label, p.KeyPreview, p.EncryptedKey, p.AuthType, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting provider: %w", err)
	}
	return nil
}

// GetProvider returns the provider with id, or ErrNotFound.
func (s *Store) GetProvider(ctx context.Context, id string) (*Provider, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = ?`, id)
	return scanProvider(row)
}

// ListProviders returns all providers, newest first.
func (s *Store) ListProviders(ctx context.Context) ([]*Provider, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+providerColumns+` FROM providers ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying providers: %w", err)
	}
	defer rows.Close()

	providers := []*Provider{}
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

// DeleteProvider removes the provider. Agents referencing it keep running
// with their already-injected key; their provider_id becomes NULL.
func (s *Store) DeleteProvider(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting provider %s: %w", id, err)
	}
	return expectOne(res)
}
