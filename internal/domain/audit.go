package domain

import "time"

// AuditResult is the outcome recorded on an audit entry.
type AuditResult string

// Audit results.
const (
	AuditResultSuccess AuditResult = "success"
	AuditResultFailure AuditResult = "failure"
)

// Audit actions. Actions are namespaced verbs.
const (
	AuditActionIncidentCreate      = "incident:create"
	AuditActionIncidentFollowUp    = "incident:follow_up"
	AuditActionStatusChange        = "incident:status_change"
	AuditActionResolved            = "incident:resolved"
	AuditActionClosed              = "incident:closed"
	AuditActionAssigned            = "incident:assigned"
	AuditActionNoteAdded           = "incident:note_added"
	AuditActionEscalated           = "incident:escalated"
	AuditActionDeviceAction        = "incident:device_action"
	AuditActionRunbookAttached     = "incident:runbook_attached"
	AuditActionRunbookStepComplete = "incident:runbook_step_completed"
)

// ResourceTypeIncident is the audit resource type for incidents.
const ResourceTypeIncident = "incident"

// FieldChange is a single field-level diff recorded on an audit entry.
type FieldChange struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// AuditEntry is an immutable, compliance-grade record of who did what to
// which resource.
type AuditEntry struct {
	ID            string        `json:"id"`
	ActorID       string        `json:"actor_id"`
	ActorName     string        `json:"actor_name"`
	ActorRole     Role          `json:"actor_role"`
	Action        string        `json:"action"`
	ResourceType  string        `json:"resource_type"`
	ResourceID    string        `json:"resource_id"`
	ResourceLabel string        `json:"resource_label"`
	Changes       []FieldChange `json:"changes"`
	Details       string        `json:"details,omitempty"`
	IPAddress     string        `json:"ip_address"`
	Timestamp     time.Time     `json:"timestamp"`
	Result        AuditResult   `json:"result"`
	PrevHash      string        `json:"prev_hash"`
	Hash          string        `json:"hash"`
}
