// Package memory provides an in-process audit ledger.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/bissquit/incident-orchestrator/internal/audit"
	"github.com/bissquit/incident-orchestrator/internal/domain"
)

// Ledger keeps audit entries in append order.
type Ledger struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Append stores a copy of the entry.
func (l *Ledger) Append(_ context.Context, entry *domain.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, copyEntry(entry))
	return nil
}

// Query returns matching entries in append order.
func (l *Ledger) Query(_ context.Context, filter audit.Filter) ([]domain.AuditEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]domain.AuditEntry, 0)
	skipped := 0
	for i := range l.entries {
		if !filter.Matches(&l.entries[i]) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		result = append(result, copyEntry(&l.entries[i]))
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

// Last returns the newest entry for the resource.
func (l *Ledger) Last(_ context.Context, resourceType, resourceID string) (*domain.AuditEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.entries) - 1; i >= 0; i-- {
		e := &l.entries[i]
		if e.ResourceType == resourceType && e.ResourceID == resourceID {
			c := copyEntry(e)
			return &c, nil
		}
	}
	return nil, nil
}

// Len returns the number of stored entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func copyEntry(e *domain.AuditEntry) domain.AuditEntry {
	c := *e
	c.Changes = slices.Clone(e.Changes)
	return c
}
