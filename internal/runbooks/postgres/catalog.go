// Package postgres provides PostgreSQL implementation of the runbook catalog.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/bissquit/incident-orchestrator/internal/runbooks"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Catalog implements runbooks.Catalog using PostgreSQL.
type Catalog struct {
	db *pgxpool.Pool
}

// NewCatalog creates a new PostgreSQL catalog.
func NewCatalog(db *pgxpool.Pool) *Catalog {
	return &Catalog{db: db}
}

// Get retrieves a runbook by id.
func (c *Catalog) Get(ctx context.Context, id string) (*domain.Runbook, error) {
	query := `
		SELECT id, name, description, incident_types, estimated_resolution_minutes, steps, updated_at
		FROM runbooks
		WHERE id = $1
	`
	rb, err := scanRunbook(c.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, runbooks.ErrRunbookNotFound
		}
		return nil, fmt.Errorf("get runbook: %w", err)
	}
	return rb, nil
}

// List returns all runbooks ordered by id.
func (c *Catalog) List(ctx context.Context) ([]domain.Runbook, error) {
	query := `
		SELECT id, name, description, incident_types, estimated_resolution_minutes, steps, updated_at
		FROM runbooks
		ORDER BY id
	`
	rows, err := c.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list runbooks: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Runbook, 0)
	for rows.Next() {
		rb, err := scanRunbook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan runbook: %w", err)
		}
		result = append(result, *rb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runbooks: %w", err)
	}
	return result, nil
}

// Put creates or replaces a runbook.
func (c *Catalog) Put(ctx context.Context, rb *domain.Runbook) error {
	if err := runbooks.Validate(rb); err != nil {
		return err
	}
	runbooks.Normalize(rb)

	steps, err := json.Marshal(rb.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	incidentTypes := rb.IncidentTypes
	if incidentTypes == nil {
		incidentTypes = []string{}
	}

	query := `
		INSERT INTO runbooks (id, name, description, incident_types, estimated_resolution_minutes, steps)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			incident_types = EXCLUDED.incident_types,
			estimated_resolution_minutes = EXCLUDED.estimated_resolution_minutes,
			steps = EXCLUDED.steps,
			updated_at = NOW()
		RETURNING updated_at
	`
	err = c.db.QueryRow(ctx, query,
		rb.ID,
		rb.Name,
		rb.Description,
		incidentTypes,
		rb.EstimatedResolutionMinutes,
		steps,
	).Scan(&rb.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put runbook: %w", err)
	}
	return nil
}

func scanRunbook(row pgx.Row) (*domain.Runbook, error) {
	var rb domain.Runbook
	var steps []byte
	if err := row.Scan(
		&rb.ID,
		&rb.Name,
		&rb.Description,
		&rb.IncidentTypes,
		&rb.EstimatedResolutionMinutes,
		&steps,
		&rb.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &rb.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return &rb, nil
}
