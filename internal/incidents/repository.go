package incidents

import (
	"context"

	"github.com/bissquit/incident-orchestrator/internal/audit"
	"github.com/bissquit/incident-orchestrator/internal/domain"
)

// Store is the Incident Store. It holds canonical records and enforces no
// business rules.
type Store interface {
	// Get returns the incident with its full timeline, or ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Incident, error)
	// Put replaces the whole record. incident.Version must be exactly one
	// greater than the stored version (1 for a new record), otherwise
	// ErrVersionConflict is returned. Timeline entries are append-only.
	Put(ctx context.Context, incident *domain.Incident) error
	// List returns incidents newest first.
	List(ctx context.Context, filter Filter) ([]domain.Incident, error)
	// NextNumber returns the next value of the human-readable number sequence.
	NextNumber(ctx context.Context) (int64, error)
}

// Transactor runs fn with a Store and Ledger that commit as one unit. If fn
// returns an error nothing is persisted.
type Transactor interface {
	InTx(ctx context.Context, fn func(store Store, ledger audit.Ledger) error) error
}

// Filter represents filter criteria for listing incidents.
type Filter struct {
	Status     *domain.IncidentStatus
	Severity   *domain.Severity
	Type       *domain.IncidentType
	AssignedTo *string
	// ActiveOnly limits results to open, investigating and mitigating.
	ActiveOnly bool
	Limit      int
	Offset     int
}

// Matches reports whether the incident satisfies the filter. Limit and Offset
// are not considered.
func (f Filter) Matches(inc *domain.Incident) bool {
	if f.Status != nil && inc.Status != *f.Status {
		return false
	}
	if f.Severity != nil && inc.Severity != *f.Severity {
		return false
	}
	if f.Type != nil && inc.Type != *f.Type {
		return false
	}
	if f.AssignedTo != nil && (inc.AssignedTo == nil || *inc.AssignedTo != *f.AssignedTo) {
		return false
	}
	if f.ActiveOnly && !inc.Status.IsActive() {
		return false
	}
	return true
}

// StatusNotifier receives committed status changes. Implementations must not
// block; delivery failures never affect the committed state.
type StatusNotifier interface {
	NotifyStatusChange(ctx context.Context, event domain.StatusChangeEvent)
}

type noopNotifier struct{}

func (noopNotifier) NotifyStatusChange(context.Context, domain.StatusChangeEvent) {}
