package domain

import "time"

// StatusChangeEvent is emitted after a status change or resolution commits.
type StatusChangeEvent struct {
	IncidentID     string          `json:"incident_id"`
	IncidentNumber string          `json:"incident_number"`
	Title          string          `json:"title"`
	Type           IncidentType    `json:"type"`
	Severity       Severity        `json:"severity"`
	FromStatus     IncidentStatus  `json:"from_status"`
	ToStatus       IncidentStatus  `json:"to_status"`
	ResolutionCode *ResolutionCode `json:"resolution_code,omitempty"`
	Actor          string          `json:"actor"`
	OccurredAt     time.Time       `json:"occurred_at"`
}
