package domain

import "time"

// StepActionType tells whether a runbook step is performed by hand or by a command.
type StepActionType string

// Step action types.
const (
	StepActionManual  StepActionType = "manual"
	StepActionCommand StepActionType = "command"
)

// IsValid checks if the step action type is valid.
func (t StepActionType) IsValid() bool {
	return t == StepActionManual || t == StepActionCommand
}

// Runbook is a shared remediation template. Completion progress is tracked on
// the incident, never on the template.
type Runbook struct {
	ID                         string    `json:"id" yaml:"id" validate:"required,max=128"`
	Name                       string    `json:"name" yaml:"name" validate:"required,max=255"`
	Description                string    `json:"description" yaml:"description"`
	IncidentTypes              []string  `json:"incident_types" yaml:"incident_types" validate:"dive,required"`
	EstimatedResolutionMinutes int       `json:"estimated_resolution_minutes" yaml:"estimated_resolution_minutes" validate:"gte=0"`
	Steps                      []Step    `json:"steps" yaml:"steps" validate:"required,min=1,dive"`
	UpdatedAt                  time.Time `json:"updated_at" yaml:"-"`
}

// Step is one ordered action of a runbook. Orders are 1-based and dense.
type Step struct {
	Order       int            `json:"order" yaml:"order" validate:"gte=1"`
	Title       string         `json:"title" yaml:"title" validate:"required,max=255"`
	Description string         `json:"description" yaml:"description"`
	ActionType  StepActionType `json:"action_type" yaml:"action_type" validate:"required,oneof=manual command"`
	Command     string         `json:"command,omitempty" yaml:"command,omitempty"`
}

// Step returns the step with the given order.
func (r *Runbook) Step(order int) (Step, bool) {
	for _, s := range r.Steps {
		if s.Order == order {
			return s, true
		}
	}
	return Step{}, false
}
