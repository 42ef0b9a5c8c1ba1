// Package memory provides an in-process incident store whose transactions
// stage writes and apply them, together with audit entries, at commit.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bissquit/incident-orchestrator/internal/audit"
	auditmemory "github.com/bissquit/incident-orchestrator/internal/audit/memory"
	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/bissquit/incident-orchestrator/internal/incidents"
)

// Store implements incidents.Store and incidents.Transactor in memory.
type Store struct {
	mu        sync.RWMutex
	incidents map[string]*domain.Incident
	seq       int64
	ledger    *auditmemory.Ledger
}

// NewStore creates an empty store that commits audit entries to ledger.
func NewStore(ledger *auditmemory.Ledger) *Store {
	return &Store{
		incidents: make(map[string]*domain.Incident),
		ledger:    ledger,
	}
}

// Get returns a copy of the incident.
func (s *Store) Get(ctx context.Context, id string) (*domain.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	inc, ok := s.incidents[id]
	if !ok {
		return nil, incidents.ErrNotFound
	}
	return inc.Clone(), nil
}

// Put replaces the record if the version matches.
func (s *Store) Put(ctx context.Context, inc *domain.Incident) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersion(inc); err != nil {
		return err
	}
	s.incidents[inc.ID] = inc.Clone()
	return nil
}

// List returns matching incidents, newest first.
func (s *Store) List(ctx context.Context, filter incidents.Filter) ([]domain.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	all := make([]*domain.Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		if filter.Matches(inc) {
			all = append(all, inc)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(all, func(a, b *domain.Incident) int {
		if c := b.DetectedAt.Compare(a.DetectedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.Number, a.Number)
	})

	if filter.Offset >= len(all) {
		return []domain.Incident{}, nil
	}
	all = all[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(all) {
		all = all[:filter.Limit]
	}

	result := make([]domain.Incident, 0, len(all))
	for _, inc := range all {
		result = append(result, *inc.Clone())
	}
	return result, nil
}

// NextNumber increments the incident number sequence.
func (s *Store) NextNumber(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq, nil
}

// InTx runs fn against staged views of the store and ledger. Staged writes
// are checked and applied at once when fn succeeds; audit entries land first.
func (s *Store) InTx(ctx context.Context, fn func(store incidents.Store, ledger audit.Ledger) error) error {
	tx := &txStore{base: s, staged: make(map[string]*domain.Incident)}
	txLedger := &txLedger{base: s.ledger}

	if err := fn(tx, txLedger); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inc := range tx.staged {
		if err := s.checkVersion(inc); err != nil {
			return err
		}
	}
	for i := range txLedger.staged {
		if err := s.ledger.Append(ctx, &txLedger.staged[i]); err != nil {
			return fmt.Errorf("append audit entry: %w", err)
		}
	}
	for id, inc := range tx.staged {
		s.incidents[id] = inc
	}
	return nil
}

func (s *Store) checkVersion(inc *domain.Incident) error {
	var stored int64
	if cur, ok := s.incidents[inc.ID]; ok {
		stored = cur.Version
	}
	if inc.Version != stored+1 {
		return fmt.Errorf("%w: %s has version %d, got %d", incidents.ErrVersionConflict, inc.ID, stored, inc.Version)
	}
	return nil
}

type txStore struct {
	base   *Store
	staged map[string]*domain.Incident
}

func (t *txStore) Get(ctx context.Context, id string) (*domain.Incident, error) {
	if inc, ok := t.staged[id]; ok {
		return inc.Clone(), nil
	}
	return t.base.Get(ctx, id)
}

func (t *txStore) Put(ctx context.Context, inc *domain.Incident) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.staged[inc.ID] = inc.Clone()
	return nil
}

func (t *txStore) List(ctx context.Context, filter incidents.Filter) ([]domain.Incident, error) {
	return t.base.List(ctx, filter)
}

func (t *txStore) NextNumber(ctx context.Context) (int64, error) {
	return t.base.NextNumber(ctx)
}

type txLedger struct {
	base   *auditmemory.Ledger
	staged []domain.AuditEntry
}

func (l *txLedger) Append(ctx context.Context, entry *domain.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := *entry
	e.Changes = slices.Clone(entry.Changes)
	l.staged = append(l.staged, e)
	return nil
}

func (l *txLedger) Query(ctx context.Context, filter audit.Filter) ([]domain.AuditEntry, error) {
	return l.base.Query(ctx, filter)
}

func (l *txLedger) Last(ctx context.Context, resourceType, resourceID string) (*domain.AuditEntry, error) {
	for i := len(l.staged) - 1; i >= 0; i-- {
		e := l.staged[i]
		if e.ResourceType == resourceType && e.ResourceID == resourceID {
			return &e, nil
		}
	}
	return l.base.Last(ctx, resourceType, resourceID)
}
