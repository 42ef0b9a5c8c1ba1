package incidents

import (
	"slices"

	"github.com/bissquit/incident-orchestrator/internal/domain"
)

// statusEdges lists the moves ChangeStatus may make. Entering resolved or
// closed always goes through Resolve.
var statusEdges = map[domain.IncidentStatus][]domain.IncidentStatus{
	domain.IncidentStatusOpen:          {domain.IncidentStatusInvestigating},
	domain.IncidentStatusInvestigating: {domain.IncidentStatusMitigating},
	domain.IncidentStatusResolved:      {domain.IncidentStatusPostMortem},
}

// CanChangeStatus reports whether ChangeStatus may move from -> to.
func CanChangeStatus(from, to domain.IncidentStatus) bool {
	return slices.Contains(statusEdges[from], to)
}

// CanResolve reports whether Resolve is accepted from the given status.
// A resolved incident may be re-resolved with a new code or closed.
func CanResolve(from domain.IncidentStatus) bool {
	return from.IsActive() || from == domain.IncidentStatusResolved
}

// IsResolutionTarget reports whether status can only be entered via Resolve.
func IsResolutionTarget(status domain.IncidentStatus) bool {
	return status == domain.IncidentStatusResolved || status == domain.IncidentStatusClosed
}

// AllowedStatusChanges returns the statuses ChangeStatus accepts from status.
func AllowedStatusChanges(status domain.IncidentStatus) []domain.IncidentStatus {
	return slices.Clone(statusEdges[status])
}
