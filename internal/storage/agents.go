package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is an agent lifecycle state.
type Status string

const (
	StatusCreating Status = "creating"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// Agent is a managed container workload.
type Agent struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Status      Status         `json:"status"`
	ContainerID *string        `json:"containerId"`
	Port        *int           `json:"port"`
	Image       string         `json:"image"`
	Config      map[string]any `json:"config"`
	SoulMD      *string        `json:"soulMd"`
	IdentityMD  *string        `json:"identityMd"`
	ProviderID  *string        `json:"providerId"`
	LastError   *string        `json:"lastError"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	StartedAt   *time.Time     `json:"startedAt"`
	StoppedAt   *time.Time     `json:"stoppedAt"`
}

const gatewayTokenKey = "gatewayToken"

// GatewayToken returns the per-start token recorded in the config blob.
func (a *Agent) GatewayToken() string {
	tok, _ := a.Config[gatewayTokenKey].(string)
	return tok
}

// SetGatewayToken records token in the config blob.
func (a *Agent) SetGatewayToken(token string) {
	if a.Config == nil {
		a.Config = map[string]any{}
	}
	a.Config[gatewayTokenKey] = token
}

const agentColumns = `id, name, status, container_id, port, image, config, soul_md,
	identity_md, provider_id, last_error, created_at, updated_at, started_at, stopped_at`

func scanAgent(row scanner) (*Agent, error) {
	var (
		a                           Agent
		containerID, soul, identity sql.NullString
		providerID, lastError       sql.NullString
		createdAt, updatedAt        string
		startedAt, stoppedAt        sql.NullString
		port                        sql.NullInt64
		config                      string
	)
	err := row.Scan(&a.ID, &a.Name, &a.Status, &containerID, &port, &a.Image, &config,
		&soul, &identity, &providerID, &lastError, &createdAt, &updatedAt, &startedAt, &stoppedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}

	a.ContainerID = stringPtr(containerID)
	if port.Valid {
		p := int(port.Int64)
		a.Port = &p
	}
	a.SoulMD = stringPtr(soul)
	a.IdentityMD = stringPtr(identity)
	a.ProviderID = stringPtr(providerID)
	a.LastError = stringPtr(lastError)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	a.StartedAt = timePtr(startedAt)
	a.StoppedAt = timePtr(stoppedAt)

	a.Config = map[string]any{}
	if config != "" {
		if err := json.Unmarshal([]byte(config), &a.Config); err != nil {
			return nil, fmt.Errorf("decoding config for agent %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

func encodeConfig(cfg map[string]any) (string, error) {
	if cfg == nil {
		return "{}", nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	return string(b), nil
}

func nullPort(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

// CreateAgent inserts a. CreatedAt and UpdatedAt are set to now.
func (s *Store) CreateAgent(ctx context.Context, a *Agent) error {
	cfg, err := encodeConfig(a.Config)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	if a.Status == "" {
		a.Status = StatusStopped
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Name, a.Status, nullString(a.ContainerID), nullPort(a.Port), a.Image, cfg,
		nullString(a.SoulMD), nullString(a.IdentityMD), nullString(a.ProviderID), nullString(a.LastError),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt), nullTime(a.StartedAt), nullTime(a.StoppedAt))
	if err != nil {
		return fmt.Errorf("inserting agent: %w", err)
	}
	return nil
}

// GetAgent returns the agent with id, or ErrNotFound.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

// ListAgents returns all agents, newest first.
func (s *Store) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	agents := []*Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateAgent writes every mutable column of a and bumps UpdatedAt.
func (s *Store) UpdateAgent(ctx context.Context, a *Agent) error {
	cfg, err := encodeConfig(a.Config)
	if err != nil {
		return err
	}
	a.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET
			name = ?, status = ?, container_id = ?, port = ?, image = ?, config = ?,
			soul_md = ?, identity_md = ?, provider_id = ?, last_error = ?,
			updated_at = ?, started_at = ?, stopped_at = ?
		WHERE id = ?
	`, a.Name, a.Status, nullString(a.ContainerID), nullPort(a.Port), a.Image, cfg,
		nullString(a.SoulMD), nullString(a.IdentityMD), nullString(a.ProviderID), nullString(a.LastError),
		formatTime(a.UpdatedAt), nullTime(a.StartedAt), nullTime(a.StoppedAt), a.ID)
	if err != nil {
		return fmt.Errorf("updating agent %s: %w", a.ID, err)
	}
	return expectOne(res)
}

// MarkAgentExited flips a running agent to error when its container is no
// longer running. The update applies only while the row still records that
// container as running, so it cannot clobber a concurrent restart.
// It reports whether the row changed.
func (s *Store) MarkAgentExited(ctx context.Context, id, containerID, lastError string, at time.Time) (bool, error) {
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET status = ?, last_error = ?, stopped_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND container_id = ?
	`, StatusError, lastError, formatTime(at), now, id, StatusRunning, containerID)
	if err != nil {
		return false, fmt.Errorf("marking agent %s exited: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteAgent removes the agent row.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting agent %s: %w", id, err)
	}
	return expectOne(res)
}

// FindAgentByGatewayToken returns the agent whose config holds token.
func (s *Store) FindAgentByGatewayToken(ctx context.Context, token string) (*Agent, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE json_extract(config, '$.gatewayToken') = ?
		LIMIT 1
	`, token)
	return scanAgent(row)
}

// UsedPorts returns every port currently held by an agent.
func (s *Store) UsedPorts(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT port FROM agents WHERE port IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("querying ports: %w", err)
	}
	defer rows.Close()

	var ports []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning port: %w", err)
		}
		ports = append(ports, p)
	}
	return ports, rows.Err()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
