package runbooks

import (
	"strings"
	"testing"

	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRunbook() *domain.Runbook {
	return &domain.Runbook{
		ID:                         "rb-device-stuck",
		Name:                       "Unstick a device",
		IncidentTypes:              []string{"device_stuck"},
		EstimatedResolutionMinutes: 15,
		Steps: []domain.Step{
			{Order: 1, Title: "Ping device", ActionType: domain.StepActionManual},
			{Order: 2, Title: "Reboot", ActionType: domain.StepActionCommand, Command: "reboot"},
			{Order: 3, Title: "Confirm", ActionType: domain.StepActionManual},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(rb *domain.Runbook)
		wantErr string
	}{
		{name: "valid", mutate: func(*domain.Runbook) {}},
		{
			name:   "unsorted but dense",
			mutate: func(rb *domain.Runbook) { rb.Steps[0], rb.Steps[2] = rb.Steps[2], rb.Steps[0] },
		},
		{
			name:    "gap",
			mutate:  func(rb *domain.Runbook) { rb.Steps[2].Order = 4 },
			wantErr: "without gaps",
		},
		{
			name:    "duplicate order",
			mutate:  func(rb *domain.Runbook) { rb.Steps[2].Order = 2 },
			wantErr: "without gaps",
		},
		{
			name:    "starts at zero",
			mutate:  func(rb *domain.Runbook) { rb.Steps[0].Order = 0 },
			wantErr: "Order",
		},
		{
			name:    "no steps",
			mutate:  func(rb *domain.Runbook) { rb.Steps = nil },
			wantErr: "Steps",
		},
		{
			name:    "empty title",
			mutate:  func(rb *domain.Runbook) { rb.Steps[1].Title = "" },
			wantErr: "Title",
		},
		{
			name:    "bad action type",
			mutate:  func(rb *domain.Runbook) { rb.Steps[1].ActionType = "script" },
			wantErr: "ActionType",
		},
		{
			name:    "command without command",
			mutate:  func(rb *domain.Runbook) { rb.Steps[1].Command = "" },
			wantErr: "no command",
		},
		{
			name:    "unknown incident type",
			mutate:  func(rb *domain.Runbook) { rb.IncidentTypes = []string{"volcano"} },
			wantErr: "unknown incident type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rb := validRunbook()
			tt.mutate(rb)
			err := Validate(rb)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidRunbook)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), err.Error())
		})
	}
}

func TestNormalize(t *testing.T) {
	rb := validRunbook()
	rb.Steps[0], rb.Steps[2] = rb.Steps[2], rb.Steps[0]

	Normalize(rb)

	for i, s := range rb.Steps {
		assert.Equal(t, i+1, s.Order)
	}
}
