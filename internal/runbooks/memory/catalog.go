// Package memory provides an in-process runbook catalog.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/bissquit/incident-orchestrator/internal/runbooks"
)

// Catalog keeps runbook templates in a map.
type Catalog struct {
	mu       sync.RWMutex
	runbooks map[string]domain.Runbook
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{runbooks: make(map[string]domain.Runbook)}
}

// Get returns a copy of the runbook.
func (c *Catalog) Get(_ context.Context, id string) (*domain.Runbook, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rb, ok := c.runbooks[id]
	if !ok {
		return nil, runbooks.ErrRunbookNotFound
	}
	cp := clone(rb)
	return &cp, nil
}

// List returns all runbooks ordered by id.
func (c *Catalog) List(_ context.Context) ([]domain.Runbook, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]domain.Runbook, 0, len(c.runbooks))
	for _, rb := range c.runbooks {
		result = append(result, clone(rb))
	}
	slices.SortFunc(result, func(a, b domain.Runbook) int { return strings.Compare(a.ID, b.ID) })
	return result, nil
}

// Put creates or replaces a runbook.
func (c *Catalog) Put(_ context.Context, rb *domain.Runbook) error {
	if err := runbooks.Validate(rb); err != nil {
		return err
	}
	runbooks.Normalize(rb)

	c.mu.Lock()
	defer c.mu.Unlock()

	rb.UpdatedAt = time.Now().UTC()
	c.runbooks[rb.ID] = clone(*rb)
	return nil
}

func clone(rb domain.Runbook) domain.Runbook {
	rb.IncidentTypes = slices.Clone(rb.IncidentTypes)
	rb.Steps = slices.Clone(rb.Steps)
	return rb
}
