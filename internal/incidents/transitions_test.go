package incidents

import (
	"testing"

	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestCanChangeStatus(t *testing.T) {
	for _, from := range domain.AllIncidentStatuses {
		for _, to := range domain.AllIncidentStatuses {
			got := CanChangeStatus(from, to)
			if got {
				assert.False(t, IsResolutionTarget(to), "%s -> %s bypasses resolve", from, to)
				assert.NotEqual(t, from, to)
			}
		}
	}

	assert.True(t, CanChangeStatus(domain.IncidentStatusOpen, domain.IncidentStatusInvestigating))
	assert.True(t, CanChangeStatus(domain.IncidentStatusInvestigating, domain.IncidentStatusMitigating))
	assert.True(t, CanChangeStatus(domain.IncidentStatusResolved, domain.IncidentStatusPostMortem))
	assert.False(t, CanChangeStatus(domain.IncidentStatusMitigating, domain.IncidentStatusInvestigating))
	assert.False(t, CanChangeStatus(domain.IncidentStatusClosed, domain.IncidentStatusPostMortem))
}

func TestCanResolve(t *testing.T) {
	tests := []struct {
		from domain.IncidentStatus
		want bool
	}{
		{domain.IncidentStatusOpen, true},
		{domain.IncidentStatusInvestigating, true},
		{domain.IncidentStatusMitigating, true},
		{domain.IncidentStatusResolved, true},
		{domain.IncidentStatusClosed, false},
		{domain.IncidentStatusPostMortem, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			assert.Equal(t, tt.want, CanResolve(tt.from))
		})
	}
}

func TestAllowedStatusChanges_ReturnsCopy(t *testing.T) {
	got := AllowedStatusChanges(domain.IncidentStatusOpen)
	got[0] = domain.IncidentStatusClosed

	assert.Equal(t, []domain.IncidentStatus{domain.IncidentStatusInvestigating}, AllowedStatusChanges(domain.IncidentStatusOpen))
	assert.Empty(t, AllowedStatusChanges(domain.IncidentStatusPostMortem))
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "success", errorKind(nil))
	assert.Equal(t, "step_order", errorKind(ErrStepOrder))
	assert.Equal(t, "storage", errorKind(asStorageError("put", assert.AnError)))
	assert.Equal(t, "not_found", errorKind(asStorageError("get", ErrNotFound)))
}
