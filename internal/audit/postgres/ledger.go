// Package postgres provides PostgreSQL implementation of the audit ledger.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bissquit/incident-orchestrator/internal/audit"
	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is an interface for database operations that both *pgxpool.Pool and pgx.Tx implement.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger implements audit.Ledger using PostgreSQL.
type Ledger struct {
	db querier
}

// NewLedger creates a ledger bound to a pool or a transaction.
func NewLedger(db querier) *Ledger {
	return &Ledger{db: db}
}

const selectColumns = `
	id, actor_id, actor_name, actor_role, action,
	resource_type, resource_id, resource_label, changes, details,
	ip_address, ts, result, prev_hash, hash
`

// Append inserts an entry. The table rejects updates and deletes.
func (l *Ledger) Append(ctx context.Context, e *domain.AuditEntry) error {
	var changes []byte
	if e.Changes != nil {
		var err error
		changes, err = json.Marshal(e.Changes)
		if err != nil {
			return fmt.Errorf("marshal changes: %w", err)
		}
	}

	query := `
		INSERT INTO audit_entries (
			id, actor_id, actor_name, actor_role, action,
			resource_type, resource_id, resource_label, changes, details,
			ip_address, ts, result, prev_hash, hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := l.db.Exec(ctx, query,
		e.ID,
		e.ActorID,
		e.ActorName,
		e.ActorRole,
		e.Action,
		e.ResourceType,
		e.ResourceID,
		e.ResourceLabel,
		changes,
		e.Details,
		e.IPAddress,
		e.Timestamp,
		e.Result,
		e.PrevHash,
		e.Hash,
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Query returns matching entries in append order.
func (l *Ledger) Query(ctx context.Context, filter audit.Filter) ([]domain.AuditEntry, error) {
	query := `SELECT ` + selectColumns + ` FROM audit_entries WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if filter.ResourceType != "" {
		query += fmt.Sprintf(" AND resource_type = $%d", argNum)
		args = append(args, filter.ResourceType)
		argNum++
	}

	if filter.ResourceID != "" {
		query += fmt.Sprintf(" AND resource_id = $%d", argNum)
		args = append(args, filter.ResourceID)
		argNum++
	}

	if filter.ActorName != "" {
		query += fmt.Sprintf(` AND actor_name ILIKE '%%' || $%d || '%%' ESCAPE '\'`, argNum)
		args = append(args, escapeLike(filter.ActorName))
		argNum++
	}

	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argNum)
		args = append(args, filter.Action)
		argNum++
	}

	if filter.From != nil {
		query += fmt.Sprintf(" AND ts >= $%d", argNum)
		args = append(args, *filter.From)
		argNum++
	}

	if filter.To != nil {
		query += fmt.Sprintf(" AND ts <= $%d", argNum)
		args = append(args, *filter.To)
		argNum++
	}

	query += " ORDER BY seq ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.AuditEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}

	return entries, nil
}

// Last returns the newest entry for the resource.
func (l *Ledger) Last(ctx context.Context, resourceType, resourceID string) (*domain.AuditEntry, error) {
	query := `SELECT ` + selectColumns + `
		FROM audit_entries
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY seq DESC
		LIMIT 1
	`
	e, err := scanEntry(l.db.QueryRow(ctx, query, resourceType, resourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

func scanEntry(row pgx.Row) (*domain.AuditEntry, error) {
	var e domain.AuditEntry
	var changes []byte
	err := row.Scan(
		&e.ID,
		&e.ActorID,
		&e.ActorName,
		&e.ActorRole,
		&e.Action,
		&e.ResourceType,
		&e.ResourceID,
		&e.ResourceLabel,
		&changes,
		&e.Details,
		&e.IPAddress,
		&e.Timestamp,
		&e.Result,
		&e.PrevHash,
		&e.Hash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan audit entry: %w", err)
	}

	if len(changes) > 0 {
		if err := json.Unmarshal(changes, &e.Changes); err != nil {
			return nil, fmt.Errorf("unmarshal changes: %w", err)
		}
	}
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside a LIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
