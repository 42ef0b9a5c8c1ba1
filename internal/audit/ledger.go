// Package audit provides the append-only Audit Ledger and its read model.
package audit

import (
	"context"
	"strings"
	"time"

	"github.com/bissquit/incident-orchestrator/internal/domain"
)

// Ledger is the append-only store of audit entries. Append either fully
// succeeds or returns an error; entries are never updated or deleted.
type Ledger interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
	Query(ctx context.Context, filter Filter) ([]domain.AuditEntry, error)
	// Last returns the most recent entry for a resource, or nil if none exists.
	Last(ctx context.Context, resourceType, resourceID string) (*domain.AuditEntry, error)
}

// Filter holds query options for the ledger. Zero values mean "any".
type Filter struct {
	ResourceType string
	ResourceID   string
	// ActorName matches as a case-insensitive substring.
	ActorName string
	Action    string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// Matches reports whether an entry satisfies the filter. Limit and Offset are
// not considered.
func (f Filter) Matches(e *domain.AuditEntry) bool {
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ActorName != "" && !strings.Contains(strings.ToLower(e.ActorName), strings.ToLower(f.ActorName)) {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}
