// Package incidents implements the Incident Orchestrator: the incident state
// machine, its single audited write path and the incident read models.
package incidents

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bissquit/incident-orchestrator/internal/audit"
	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/bissquit/incident-orchestrator/internal/pkg/ctxlog"
	"github.com/bissquit/incident-orchestrator/internal/runbooks"
	"github.com/google/uuid"
)

// Config holds orchestrator settings.
type Config struct {
	// StorageTimeout bounds every Store/Ledger call. Zero disables it.
	StorageTimeout time.Duration
}

// Orchestrator owns every incident mutation. Each mutation produces exactly
// one timeline entry and one audit entry, committed together with the new
// incident state, or nothing at all.
type Orchestrator struct {
	store    Store
	tx       Transactor
	runbooks runbooks.Reader
	notifier StatusNotifier
	locks    *keyedLocker
	cfg      Config
	now      func() time.Time
}

// NewOrchestrator creates a new orchestrator. notifier may be nil.
func NewOrchestrator(store Store, tx Transactor, catalog runbooks.Reader, notifier StatusNotifier, cfg Config) *Orchestrator {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Orchestrator{
		store:    store,
		tx:       tx,
		runbooks: catalog,
		notifier: notifier,
		locks:    newKeyedLocker(),
		cfg:      cfg,
		now:      time.Now,
	}
}

// CreateIncidentInput holds data for creating an incident.
type CreateIncidentInput struct {
	Type            domain.IncidentType
	Severity        domain.Severity
	Title           string
	Description     string
	AffectedDevices []string
	AffectedZones   []string
	AssignedTo      *string
	RunbookID       *string
}

func (in CreateIncidentInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return validationf("title is required")
	}
	if !in.Type.IsValid() {
		return validationf("invalid incident type: %q", in.Type)
	}
	if !in.Severity.IsValid() {
		return validationf("invalid severity: %q", in.Severity)
	}
	if in.AssignedTo != nil && strings.TrimSpace(*in.AssignedTo) == "" {
		return validationf("assigned_to must not be blank")
	}
	return nil
}

// FollowUpInput holds overrides for a follow-up incident. Empty fields
// inherit from the parent.
type FollowUpInput struct {
	Title       string
	Description string
	Severity    *domain.Severity
}

// CreateIncident opens a new incident.
func (o *Orchestrator) CreateIncident(ctx context.Context, input CreateIncidentInput, actor domain.Actor) (inc *domain.Incident, err error) {
	start := time.Now()
	defer func() { observe("create", start, err) }()

	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	if input.RunbookID != nil {
		if err := o.checkRunbook(ctx, *input.RunbookID); err != nil {
			return nil, err
		}
	}

	inc = &domain.Incident{
		ID:              uuid.NewString(),
		Type:            input.Type,
		Severity:        input.Severity,
		Title:           strings.TrimSpace(input.Title),
		Description:     input.Description,
		AffectedDevices: dedupe(input.AffectedDevices),
		AffectedZones:   dedupe(input.AffectedZones),
		AssignedTo:      input.AssignedTo,
		RunbookID:       input.RunbookID,
		CompletedSteps:  []int{},
	}
	return o.create(ctx, inc, actor, domain.AuditActionIncidentCreate, "")
}

// CreateFollowUp opens a new incident linked to a resolved parent. This is
// how a resolved incident is re-opened; the parent is left untouched.
func (o *Orchestrator) CreateFollowUp(ctx context.Context, parentID string, input FollowUpInput, actor domain.Actor) (inc *domain.Incident, err error) {
	start := time.Now()
	defer func() { observe("create_follow_up", start, err) }()

	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if input.Severity != nil && !input.Severity.IsValid() {
		return nil, validationf("invalid severity: %q", *input.Severity)
	}

	parent, err := o.GetIncident(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if !parent.Status.IsResolved() {
		return nil, fmt.Errorf("%w: follow-up requires a resolved parent, %s is %s", ErrInvalidTransition, parent.Number, parent.Status)
	}

	severity := parent.Severity
	if input.Severity != nil {
		severity = *input.Severity
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "Follow-up: " + parent.Title
	}
	description := input.Description
	if description == "" {
		description = parent.Description
	}

	parentRef := parent.ID
	inc = &domain.Incident{
		ID:               uuid.NewString(),
		Type:             parent.Type,
		Severity:         severity,
		Title:            title,
		Description:      description,
		AffectedDevices:  slices.Clone(parent.AffectedDevices),
		AffectedZones:    slices.Clone(parent.AffectedZones),
		CompletedSteps:   []int{},
		ParentIncidentID: &parentRef,
	}
	return o.create(ctx, inc, actor, domain.AuditActionIncidentFollowUp, "follow-up of "+parent.Number)
}

func (o *Orchestrator) create(ctx context.Context, inc *domain.Incident, actor domain.Actor, auditAction, details string) (*domain.Incident, error) {
	now := o.timestamp()
	inc.Status = domain.IncidentStatusOpen
	inc.DetectedAt = now
	inc.UpdatedAt = now
	inc.CreatedBy = actor.DisplayName()
	inc.Version = 1

	status := domain.IncidentStatusOpen
	content := "incident opened"
	if details != "" {
		content = details
	}
	inc.Timeline = []domain.TimelineEntry{newTimelineEntry(domain.TimelineStatusChange, actor, now, content, &status)}

	changes := []domain.FieldChange{
		{Field: "status", From: "", To: string(status)},
		{Field: "severity", From: "", To: string(inc.Severity)},
	}
	if inc.AssignedTo != nil {
		changes = append(changes, domain.FieldChange{Field: "assigned_to", From: "", To: *inc.AssignedTo})
	}
	if inc.RunbookID != nil {
		changes = append(changes, domain.FieldChange{Field: "runbook_id", From: "", To: *inc.RunbookID})
	}

	err := o.inTx(ctx, "create incident", func(store Store, ledger audit.Ledger) error {
		n, err := store.NextNumber(ctx)
		if err != nil {
			return fmt.Errorf("next incident number: %w", err)
		}
		inc.Number = formatNumber(n)

		if err := store.Put(ctx, inc); err != nil {
			return fmt.Errorf("put incident: %w", err)
		}
		entry := newAuditEntry(inc, actor, now, auditAction, changes, details)
		if err := audit.AppendChained(ctx, ledger, entry); err != nil {
			return fmt.Errorf("append audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		ctxlog.FromContext(ctx).Error("create incident failed", "error", err)
		return nil, err
	}

	ctxlog.FromContext(ctx).Info("incident created",
		"incident_id", inc.ID,
		"incident_number", inc.Number,
		"severity", inc.Severity,
		"actor", actor.DisplayName(),
	)
	return inc, nil
}

// Apply executes one action against an incident under its exclusive lock.
// Validation failures are returned before anything is written.
func (o *Orchestrator) Apply(ctx context.Context, incidentID string, actor domain.Actor, action Action) (result *domain.Incident, err error) {
	start := time.Now()
	defer func() { observe(action.Operation(), start, err) }()

	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if err := action.validate(); err != nil {
		return nil, err
	}

	now := o.timestamp()

	unlock := o.locks.Lock(incidentID)
	defer unlock()

	var (
		event *domain.StatusChangeEvent
		noop  bool
	)
	err = o.inTx(ctx, action.Operation(), func(store Store, ledger audit.Ledger) error {
		cur, err := store.Get(ctx, incidentID)
		if err != nil {
			return err
		}

		next := cur.Clone()
		next.UpdatedAt = now

		out, err := o.decide(ctx, cur, next, action)
		if err != nil {
			return err
		}
		if out == nil {
			noop = true
			result = cur
			return nil
		}

		next.Version = cur.Version + 1
		next.Timeline = append(next.Timeline, newTimelineEntry(out.timelineType, actor, now, out.content, out.newStatus))

		if err := store.Put(ctx, next); err != nil {
			return fmt.Errorf("put incident: %w", err)
		}
		entry := newAuditEntry(next, actor, now, out.auditAction, out.changes, out.details)
		if err := audit.AppendChained(ctx, ledger, entry); err != nil {
			return fmt.Errorf("append audit entry: %w", err)
		}

		if out.notify {
			event = &domain.StatusChangeEvent{
				IncidentID:     next.ID,
				IncidentNumber: next.Number,
				Title:          next.Title,
				Type:           next.Type,
				Severity:       next.Severity,
				FromStatus:     cur.Status,
				ToStatus:       next.Status,
				ResolutionCode: next.ResolutionCode,
				Actor:          actor.DisplayName(),
				OccurredAt:     now,
			}
		}
		result = next
		return nil
	})

	ctx = ctxlog.With(ctx, "incident_id", incidentID, "operation", action.Operation(), "actor", actor.DisplayName())
	logger := ctxlog.FromContext(ctx)
	if err != nil {
		if IsRetryable(err) {
			logger.Error("incident operation failed", "error", err)
		} else {
			logger.Debug("incident operation rejected", "error", err)
		}
		return nil, err
	}
	if noop {
		logger.Debug("incident operation was a no-op")
	} else {
		logger.Info("incident updated", "status", result.Status, "version", result.Version)
	}

	if event != nil {
		o.notifier.NotifyStatusChange(context.WithoutCancel(ctx), *event)
	}
	return result, nil
}

// ChangeStatus moves an incident along a forward edge.
func (o *Orchestrator) ChangeStatus(ctx context.Context, incidentID string, status domain.IncidentStatus, actor domain.Actor) (*domain.Incident, error) {
	return o.Apply(ctx, incidentID, actor, ChangeStatus{Status: status})
}

// Resolve resolves or closes an incident.
func (o *Orchestrator) Resolve(ctx context.Context, incidentID string, code domain.ResolutionCode, notes string, actor domain.Actor, target domain.IncidentStatus) (*domain.Incident, error) {
	return o.Apply(ctx, incidentID, actor, Resolve{Code: code, Notes: notes, Target: target})
}

// AssignOperator sets the responsible operator.
func (o *Orchestrator) AssignOperator(ctx context.Context, incidentID, operator string, actor domain.Actor) (*domain.Incident, error) {
	return o.Apply(ctx, incidentID, actor, Assign{Operator: operator})
}

// AddNote appends a note to the timeline.
func (o *Orchestrator) AddNote(ctx context.Context, incidentID, text string, actor domain.Actor) (*domain.Incident, error) {
	return o.Apply(ctx, incidentID, actor, AddNote{Text: text})
}

// AttachRunbook attaches a runbook from the catalog.
func (o *Orchestrator) AttachRunbook(ctx context.Context, incidentID, runbookID string, actor domain.Actor) (*domain.Incident, error) {
	return o.Apply(ctx, incidentID, actor, AttachRunbook{RunbookID: runbookID})
}

// CompleteRunbookStep completes one step of the attached runbook.
func (o *Orchestrator) CompleteRunbookStep(ctx context.Context, incidentID string, order int, actor domain.Actor) (*domain.Incident, error) {
	return o.Apply(ctx, incidentID, actor, CompleteRunbookStep{Order: order})
}

// Escalate records an escalation.
func (o *Orchestrator) Escalate(ctx context.Context, incidentID, reason, target string, actor domain.Actor) (*domain.Incident, error) {
	return o.Apply(ctx, incidentID, actor, Escalate{Reason: reason, Target: target})
}

// RecordDeviceAction records an action taken on a device.
func (o *Orchestrator) RecordDeviceAction(ctx context.Context, incidentID, deviceID, action string, actor domain.Actor) (*domain.Incident, error) {
	return o.Apply(ctx, incidentID, actor, RecordDeviceAction{DeviceID: deviceID, Action: action})
}

// GetIncident returns an incident with its timeline.
func (o *Orchestrator) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	ctx, cancel := o.storageContext(ctx)
	defer cancel()

	inc, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, asStorageError("get incident", err)
	}
	return inc, nil
}

// ListIncidents returns incidents matching the filter, newest first.
func (o *Orchestrator) ListIncidents(ctx context.Context, filter Filter) ([]domain.Incident, error) {
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, validationf("invalid status: %q", *filter.Status)
	}
	if filter.Severity != nil && !filter.Severity.IsValid() {
		return nil, validationf("invalid severity: %q", *filter.Severity)
	}
	if filter.Type != nil && !filter.Type.IsValid() {
		return nil, validationf("invalid incident type: %q", *filter.Type)
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, validationf("limit and offset must be non-negative")
	}

	ctx, cancel := o.storageContext(ctx)
	defer cancel()

	list, err := o.store.List(ctx, filter)
	if err != nil {
		return nil, asStorageError("list incidents", err)
	}
	return list, nil
}

// GetTimeline returns the incident timeline ordered by timestamp, with
// append order breaking ties.
func (o *Orchestrator) GetTimeline(ctx context.Context, id string) ([]domain.TimelineEntry, error) {
	inc, err := o.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	return inc.SortedTimeline(), nil
}

// Stats summarizes incidents for dashboards.
type Stats struct {
	Total            int                           `json:"total"`
	ByStatus         map[domain.IncidentStatus]int `json:"by_status"`
	ActiveBySeverity map[domain.Severity]int       `json:"active_by_severity"`
	ActiveCritical   int                           `json:"active_critical"`
}

// Stats counts incidents per status and active incidents per severity.
func (o *Orchestrator) Stats(ctx context.Context) (*Stats, error) {
	ctx, cancel := o.storageContext(ctx)
	defer cancel()

	list, err := o.store.List(ctx, Filter{})
	if err != nil {
		return nil, asStorageError("list incidents", err)
	}

	stats := &Stats{
		ByStatus:         make(map[domain.IncidentStatus]int),
		ActiveBySeverity: make(map[domain.Severity]int),
	}
	for _, s := range domain.AllIncidentStatuses {
		stats.ByStatus[s] = 0
	}
	for i := range list {
		inc := &list[i]
		stats.Total++
		stats.ByStatus[inc.Status]++
		if inc.Status.IsActive() {
			stats.ActiveBySeverity[inc.Severity]++
			if inc.Severity == domain.SeverityP1Critical {
				stats.ActiveCritical++
			}
		}
	}
	return stats, nil
}

func (o *Orchestrator) inTx(ctx context.Context, op string, fn func(store Store, ledger audit.Ledger) error) error {
	ctx, cancel := o.storageContext(ctx)
	defer cancel()

	return asStorageError(op, o.tx.InTx(ctx, fn))
}

// checkRunbook confirms the runbook exists under the storage deadline.
func (o *Orchestrator) checkRunbook(ctx context.Context, id string) error {
	ctx, cancel := o.storageContext(ctx)
	defer cancel()

	if _, err := o.getRunbook(ctx, id); err != nil {
		return asStorageError("get runbook", err)
	}
	return nil
}

func (o *Orchestrator) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.StorageTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.cfg.StorageTimeout)
}

// timestamp is taken once per operation. Microsecond precision survives a
// Postgres round trip, which keeps audit hashes verifiable.
func (o *Orchestrator) timestamp() time.Time {
	return o.now().UTC().Truncate(time.Microsecond)
}

func validateActor(actor domain.Actor) error {
	if actor.DisplayName() == "" {
		return validationf("actor is required")
	}
	if !actor.Role.IsValid() {
		return validationf("invalid actor role: %q", actor.Role)
	}
	return nil
}

func newTimelineEntry(kind domain.TimelineActionType, actor domain.Actor, at time.Time, content string, status *domain.IncidentStatus) domain.TimelineEntry {
	entry := domain.TimelineEntry{
		ID:         uuid.NewString(),
		ActionType: kind,
		Actor:      actor.DisplayName(),
		Timestamp:  at,
		NewStatus:  status,
	}
	if content != "" {
		entry.Content = &content
	}
	return entry
}

func newAuditEntry(inc *domain.Incident, actor domain.Actor, at time.Time, action string, changes []domain.FieldChange, details string) *domain.AuditEntry {
	return &domain.AuditEntry{
		ID:            uuid.NewString(),
		ActorID:       actor.ID,
		ActorName:     actor.DisplayName(),
		ActorRole:     actor.Role,
		Action:        action,
		ResourceType:  domain.ResourceTypeIncident,
		ResourceID:    inc.ID,
		ResourceLabel: inc.Number,
		Changes:       changes,
		Details:       details,
		IPAddress:     actor.IPAddress,
		Timestamp:     at,
		Result:        domain.AuditResultSuccess,
	}
}

func dedupe(values []string) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" && !slices.Contains(result, v) {
			result = append(result, v)
		}
	}
	return result
}
