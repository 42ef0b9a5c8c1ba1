package runbooks

import (
	"fmt"
	"slices"

	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks a template before it is written to the catalog. Step orders
// must be unique, dense and start at 1; the orchestrator relies on it.
func Validate(rb *domain.Runbook) error {
	if err := validate.Struct(rb); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRunbook, rb.ID, err)
	}

	orders := make([]int, 0, len(rb.Steps))
	for _, s := range rb.Steps {
		if s.ActionType == domain.StepActionCommand && s.Command == "" {
			return fmt.Errorf("%w: %s: step %d has action_type command but no command", ErrInvalidRunbook, rb.ID, s.Order)
		}
		orders = append(orders, s.Order)
	}
	slices.Sort(orders)
	for i, o := range orders {
		if o != i+1 {
			return fmt.Errorf("%w: %s: step orders must be 1..%d without gaps or duplicates", ErrInvalidRunbook, rb.ID, len(orders))
		}
	}

	for _, t := range rb.IncidentTypes {
		if !domain.IncidentType(t).IsValid() {
			return fmt.Errorf("%w: %s: unknown incident type %q", ErrInvalidRunbook, rb.ID, t)
		}
	}
	return nil
}

// Normalize sorts steps by order. It expects a validated runbook.
func Normalize(rb *domain.Runbook) {
	slices.SortFunc(rb.Steps, func(a, b domain.Step) int { return a.Order - b.Order })
}
