package domain

import (
	"slices"
	"sort"
	"time"
)

// IncidentType classifies what kind of operational problem an incident tracks.
type IncidentType string

// Incident types.
const (
	IncidentTypeZoneBreach        IncidentType = "zone_breach"
	IncidentTypeDeviceStuck       IncidentType = "device_stuck"
	IncidentTypeKioskCrash        IncidentType = "kiosk_crash"
	IncidentTypeNetworkOutage     IncidentType = "network_outage"
	IncidentTypeBatteryCluster    IncidentType = "battery_cluster"
	IncidentTypeOrderSLABreach    IncidentType = "order_sla_breach"
	IncidentTypeRunnerUnavailable IncidentType = "runner_unavailable"
	IncidentTypePaymentFailure    IncidentType = "payment_failure"
	IncidentTypeSecurityAlert     IncidentType = "security_alert"
	IncidentTypeCustom            IncidentType = "custom"
)

// IsValid checks if the incident type is valid.
func (t IncidentType) IsValid() bool {
	switch t {
	case IncidentTypeZoneBreach, IncidentTypeDeviceStuck, IncidentTypeKioskCrash,
		IncidentTypeNetworkOutage, IncidentTypeBatteryCluster, IncidentTypeOrderSLABreach,
		IncidentTypeRunnerUnavailable, IncidentTypePaymentFailure, IncidentTypeSecurityAlert,
		IncidentTypeCustom:
		return true
	}
	return false
}

// Severity is the ordered priority of an incident. P1 is the most urgent.
type Severity string

// Severity levels.
const (
	SeverityP1Critical Severity = "p1_critical"
	SeverityP2High     Severity = "p2_high"
	SeverityP3Medium   Severity = "p3_medium"
	SeverityP4Low      Severity = "p4_low"
)

// IsValid checks if the severity is valid.
func (s Severity) IsValid() bool {
	return s.Rank() > 0
}

// Rank returns 1 for the most urgent severity and 4 for the least.
// Unknown severities rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityP1Critical:
		return 1
	case SeverityP2High:
		return 2
	case SeverityP3Medium:
		return 3
	case SeverityP4Low:
		return 4
	}
	return 0
}

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

// Incident statuses.
const (
	IncidentStatusOpen          IncidentStatus = "open"
	IncidentStatusInvestigating IncidentStatus = "investigating"
	IncidentStatusMitigating    IncidentStatus = "mitigating"
	IncidentStatusResolved      IncidentStatus = "resolved"
	IncidentStatusClosed        IncidentStatus = "closed"
	IncidentStatusPostMortem    IncidentStatus = "post_mortem"
)

// AllIncidentStatuses lists statuses in lifecycle order.
var AllIncidentStatuses = []IncidentStatus{
	IncidentStatusOpen,
	IncidentStatusInvestigating,
	IncidentStatusMitigating,
	IncidentStatusResolved,
	IncidentStatusClosed,
	IncidentStatusPostMortem,
}

// IsValid checks if the status is valid.
func (s IncidentStatus) IsValid() bool {
	return slices.Contains(AllIncidentStatuses, s)
}

// IsActive reports whether the incident is still being worked on.
func (s IncidentStatus) IsActive() bool {
	return s == IncidentStatusOpen || s == IncidentStatusInvestigating || s == IncidentStatusMitigating
}

// IsResolved reports whether the status belongs to the resolved family.
// post_mortem refines resolved, so resolution data stays attached to it.
func (s IncidentStatus) IsResolved() bool {
	return s == IncidentStatusResolved || s == IncidentStatusClosed || s == IncidentStatusPostMortem
}

// IsTerminal reports whether no further status change is possible.
func (s IncidentStatus) IsTerminal() bool {
	return s == IncidentStatusClosed || s == IncidentStatusPostMortem
}

// ResolutionCode classifies why or how an incident was resolved or closed.
type ResolutionCode string

// Resolution codes.
const (
	ResolutionResolvedManually  ResolutionCode = "resolved_manually"
	ResolutionAutoResolved      ResolutionCode = "auto_resolved"
	ResolutionFalsePositive     ResolutionCode = "false_positive"
	ResolutionEscalated         ResolutionCode = "escalated"
	ResolutionWorkaroundApplied ResolutionCode = "workaround_applied"
	ResolutionDuplicate         ResolutionCode = "duplicate"
	ResolutionNoActionNeeded    ResolutionCode = "no_action_needed"
	ResolutionOther             ResolutionCode = "other"
)

// IsValid checks if the resolution code is valid.
func (c ResolutionCode) IsValid() bool {
	switch c {
	case ResolutionResolvedManually, ResolutionAutoResolved, ResolutionFalsePositive,
		ResolutionEscalated, ResolutionWorkaroundApplied, ResolutionDuplicate,
		ResolutionNoActionNeeded, ResolutionOther:
		return true
	}
	return false
}

// Incident is the canonical record of a tracked operational issue.
type Incident struct {
	ID               string          `json:"id"`
	Number           string          `json:"incident_number"`
	Type             IncidentType    `json:"type"`
	Severity         Severity        `json:"severity"`
	Status           IncidentStatus  `json:"status"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	AffectedDevices  []string        `json:"affected_devices"`
	AffectedZones    []string        `json:"affected_zones"`
	AssignedTo       *string         `json:"assigned_to"`
	RunbookID        *string         `json:"runbook_id"`
	CompletedSteps   []int           `json:"completed_steps"`
	ResolutionCode   *ResolutionCode `json:"resolution_code"`
	ResolutionNotes  *string         `json:"resolution_notes"`
	ParentIncidentID *string         `json:"parent_incident_id,omitempty"`
	DetectedAt       time.Time       `json:"detected_at"`
	ResolvedAt       *time.Time      `json:"resolved_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CreatedBy        string          `json:"created_by"`
	Version          int64           `json:"version"`
	Timeline         []TimelineEntry `json:"timeline"`
}

// Clone returns a deep copy so callers can compute a new state without
// touching the stored record.
func (i *Incident) Clone() *Incident {
	c := *i
	c.AffectedDevices = slices.Clone(i.AffectedDevices)
	c.AffectedZones = slices.Clone(i.AffectedZones)
	c.CompletedSteps = slices.Clone(i.CompletedSteps)
	c.Timeline = slices.Clone(i.Timeline)
	c.AssignedTo = clonePtr(i.AssignedTo)
	c.RunbookID = clonePtr(i.RunbookID)
	c.ResolutionCode = clonePtr(i.ResolutionCode)
	c.ResolutionNotes = clonePtr(i.ResolutionNotes)
	c.ParentIncidentID = clonePtr(i.ParentIncidentID)
	c.ResolvedAt = clonePtr(i.ResolvedAt)
	return &c
}

// IsStepCompleted reports whether the given runbook step order is completed.
func (i *Incident) IsStepCompleted(order int) bool {
	return slices.Contains(i.CompletedSteps, order)
}

// SortedTimeline returns timeline entries ordered by timestamp. Entries that
// share a timestamp keep their append order.
func (i *Incident) SortedTimeline() []TimelineEntry {
	entries := slices.Clone(i.Timeline)
	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].Timestamp.Before(entries[b].Timestamp)
	})
	return entries
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// TimelineActionType categorizes a timeline entry.
type TimelineActionType string

// Timeline action types.
const (
	TimelineStatusChange TimelineActionType = "status_change"
	TimelineAssigned     TimelineActionType = "assigned"
	TimelineNoteAdded    TimelineActionType = "note_added"
	TimelineDeviceAction TimelineActionType = "device_action"
	TimelineEscalation   TimelineActionType = "escalation"
	TimelineRunbookStep  TimelineActionType = "runbook_step"
)

// TimelineEntry is an immutable record of one action taken on an incident.
type TimelineEntry struct {
	ID         string             `json:"id"`
	ActionType TimelineActionType `json:"action_type"`
	Actor      string             `json:"actor"`
	Timestamp  time.Time          `json:"timestamp"`
	Content    *string            `json:"content"`
	NewStatus  *IncidentStatus    `json:"new_status"`
}
