// Package runbooks provides the Runbook Catalog: a read-mostly registry of
// remediation templates and its catalog-write validation.
package runbooks

import (
	"context"
	"errors"

	"github.com/bissquit/incident-orchestrator/internal/domain"
)

// Catalog errors.
var (
	ErrRunbookNotFound = errors.New("runbook not found")
	ErrInvalidRunbook  = errors.New("invalid runbook")
)

// Reader is the read path consumed by the orchestrator.
type Reader interface {
	Get(ctx context.Context, id string) (*domain.Runbook, error)
}

// Catalog stores runbook templates.
type Catalog interface {
	Reader
	List(ctx context.Context) ([]domain.Runbook, error)
	// Put validates and creates or replaces a template. An invalid template
	// fails with ErrInvalidRunbook and is not stored.
	Put(ctx context.Context, runbook *domain.Runbook) error
}
