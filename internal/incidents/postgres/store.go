// Package postgres provides PostgreSQL implementation of the incident store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bissquit/incident-orchestrator/internal/audit"
	auditpostgres "github.com/bissquit/incident-orchestrator/internal/audit/postgres"
	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/bissquit/incident-orchestrator/internal/incidents"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is an interface for database operations that both *pgxpool.Pool and pgx.Tx implement.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store implements incidents.Store using PostgreSQL.
type Store struct {
	db querier
	// forUpdate locks rows read by Get until the surrounding tx ends.
	forUpdate bool
}

// NewStore creates a store reading from the pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const incidentColumns = `
	id, number, type, severity, status, title, description,
	affected_devices, affected_zones, assigned_to, runbook_id, completed_steps,
	resolution_code, resolution_notes, parent_incident_id,
	detected_at, resolved_at, updated_at, created_by, version
`

// Get retrieves an incident with its timeline.
func (s *Store) Get(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	if s.forUpdate {
		query += ` FOR UPDATE`
	}

	inc, err := scanIncident(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
			// not a uuid, so it cannot exist
			return nil, incidents.ErrNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}

	timelines, err := s.timelines(ctx, []string{inc.ID})
	if err != nil {
		return nil, err
	}
	inc.Timeline = timelines[inc.ID]
	return inc, nil
}

// Put inserts a new incident (version 1) or updates an existing one when its
// stored version is exactly one behind. New timeline entries are appended.
func (s *Store) Put(ctx context.Context, inc *domain.Incident) error {
	args := []any{
		inc.ID,
		inc.Number,
		inc.Type,
		inc.Severity,
		inc.Status,
		inc.Title,
		inc.Description,
		nonNil(inc.AffectedDevices),
		nonNil(inc.AffectedZones),
		inc.AssignedTo,
		inc.RunbookID,
		nonNil(inc.CompletedSteps),
		inc.ResolutionCode,
		inc.ResolutionNotes,
		inc.ParentIncidentID,
		inc.DetectedAt,
		inc.ResolvedAt,
		inc.UpdatedAt,
		inc.CreatedBy,
		inc.Version,
	}

	var query string
	if inc.Version == 1 {
		query = `
			INSERT INTO incidents (` + incidentColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
			ON CONFLICT (id) DO NOTHING
		`
	} else {
		query = `
			UPDATE incidents SET
				number = $2, type = $3, severity = $4, status = $5, title = $6, description = $7,
				affected_devices = $8, affected_zones = $9, assigned_to = $10, runbook_id = $11,
				completed_steps = $12, resolution_code = $13, resolution_notes = $14,
				parent_incident_id = $15, detected_at = $16, resolved_at = $17, updated_at = $18,
				created_by = $19, version = $20
			WHERE id = $1 AND version = $20 - 1
		`
	}

	result, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("put incident: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s at version %d", incidents.ErrVersionConflict, inc.ID, inc.Version)
	}

	return s.appendTimeline(ctx, inc)
}

func (s *Store) appendTimeline(ctx context.Context, inc *domain.Incident) error {
	if len(inc.Timeline) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range inc.Timeline {
		batch.Queue(`
			INSERT INTO incident_timeline (id, incident_id, action_type, actor, ts, content, new_status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
		`, e.ID, inc.ID, e.ActionType, e.Actor, e.Timestamp, e.Content, e.NewStatus)
	}

	br := s.db.SendBatch(ctx, batch)
	defer func() {
		if err := br.Close(); err != nil {
			slog.Error("failed to close batch", "error", err)
		}
	}()

	for range inc.Timeline {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("append timeline entry: %w", err)
		}
	}
	return nil
}

// List returns incidents matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter incidents.Filter) ([]domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filter.Status)
		argNum++
	}

	if filter.Severity != nil {
		query += fmt.Sprintf(" AND severity = $%d", argNum)
		args = append(args, *filter.Severity)
		argNum++
	}

	if filter.Type != nil {
		query += fmt.Sprintf(" AND type = $%d", argNum)
		args = append(args, *filter.Type)
		argNum++
	}

	if filter.AssignedTo != nil {
		query += fmt.Sprintf(" AND assigned_to = $%d", argNum)
		args = append(args, *filter.AssignedTo)
		argNum++
	}

	if filter.ActiveOnly {
		query += " AND status IN ('open', 'investigating', 'mitigating')"
	}

	query += " ORDER BY detected_at DESC, number DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	list := make([]domain.Incident, 0)
	ids := make([]string, 0)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		list = append(list, *inc)
		ids = append(ids, inc.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}

	timelines, err := s.timelines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Timeline = timelines[list[i].ID]
	}
	return list, nil
}

// NextNumber draws from the incident number sequence.
func (s *Store) NextNumber(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT nextval('incident_number_seq')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("next incident number: %w", err)
	}
	return n, nil
}

func (s *Store) timelines(ctx context.Context, incidentIDs []string) (map[string][]domain.TimelineEntry, error) {
	result := make(map[string][]domain.TimelineEntry, len(incidentIDs))
	if len(incidentIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT incident_id, id, action_type, actor, ts, content, new_status
		FROM incident_timeline
		WHERE incident_id = ANY($1)
		ORDER BY seq
	`
	rows, err := s.db.Query(ctx, query, incidentIDs)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var incidentID string
		var e domain.TimelineEntry
		if err := rows.Scan(&incidentID, &e.ID, &e.ActionType, &e.Actor, &e.Timestamp, &e.Content, &e.NewStatus); err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		result[incidentID] = append(result[incidentID], e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline: %w", err)
	}
	return result, nil
}

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var inc domain.Incident
	err := row.Scan(
		&inc.ID,
		&inc.Number,
		&inc.Type,
		&inc.Severity,
		&inc.Status,
		&inc.Title,
		&inc.Description,
		&inc.AffectedDevices,
		&inc.AffectedZones,
		&inc.AssignedTo,
		&inc.RunbookID,
		&inc.CompletedSteps,
		&inc.ResolutionCode,
		&inc.ResolutionNotes,
		&inc.ParentIncidentID,
		&inc.DetectedAt,
		&inc.ResolvedAt,
		&inc.UpdatedAt,
		&inc.CreatedBy,
		&inc.Version,
	)
	if err != nil {
		return nil, err
	}
	inc.DetectedAt = inc.DetectedAt.UTC()
	inc.UpdatedAt = inc.UpdatedAt.UTC()
	if inc.ResolvedAt != nil {
		at := inc.ResolvedAt.UTC()
		inc.ResolvedAt = &at
	}
	return &inc, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Transactor implements incidents.Transactor. Incident rows, timeline rows
// and audit rows of one operation share a single transaction.
type Transactor struct {
	pool *pgxpool.Pool
}

// NewTransactor creates a new transactor.
func NewTransactor(pool *pgxpool.Pool) *Transactor {
	return &Transactor{pool: pool}
}

// InTx runs fn in a transaction and commits if it returns nil.
func (t *Transactor) InTx(ctx context.Context, fn func(store incidents.Store, ledger audit.Ledger) error) error {
	tx, err := t.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	if err := fn(&Store{db: tx, forUpdate: true}, auditpostgres.NewLedger(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
