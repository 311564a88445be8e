package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Setting keys.
const (
	SettingAPISecret   = "api_secret"
	SettingPortCounter = "port_counter"
)

// GetSetting returns the value for key, or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return v, nil
}

// SetSetting stores value under key, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

// EnsureSetting stores value under key only if key is unset.
func (s *Store) EnsureSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("seeding setting %s: %w", key, err)
	}
	return nil
}

// NextPortCounter atomically returns the current port counter and advances
// it by one. An unset counter starts at base.
func (s *Store) NextPortCounter(ctx context.Context, base int) (int, error) {
	var port int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = CAST(value AS INTEGER) + 1
		RETURNING CAST(value AS INTEGER) - 1
	`, SettingPortCounter, base+1).Scan(&port)
	if err != nil {
		return 0, fmt.Errorf("advancing port counter: %w", err)
	}
	return port, nil
}

// PortCounter returns the current counter value, or base when unset.
func (s *Store) PortCounter(ctx context.Context, base int) (int, error) {
	var port int
	err := s.db.QueryRowContext(ctx,
		`SELECT CAST(value AS INTEGER) FROM settings WHERE key = ?`, SettingPortCounter).Scan(&port)
	if errors.Is(err, sql.ErrNoRows) {
		return base, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading port counter: %w", err)
	}
	return port, nil
}
