package incidents

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/bissquit/incident-orchestrator/internal/runbooks"
)

// Action is a state-mutating request against an existing incident. The set
// of implementations is closed: ChangeStatus, Resolve, Assign, AddNote,
// AttachRunbook, CompleteRunbookStep, Escalate and RecordDeviceAction.
type Action interface {
	// Operation names the action for logs and metrics.
	Operation() string
	validate() error
}

// ChangeStatus moves an incident along a forward, non-resolving edge.
type ChangeStatus struct {
	Status domain.IncidentStatus
}

// Resolve resolves or closes an incident with a resolution code.
type Resolve struct {
	Code   domain.ResolutionCode
	Notes  string
	Target domain.IncidentStatus
}

// Assign sets the responsible operator.
type Assign struct {
	Operator string
}

// AddNote appends a free-text note.
type AddNote struct {
	Text string
}

// AttachRunbook attaches a catalog runbook and resets step progress.
type AttachRunbook struct {
	RunbookID string
}

// CompleteRunbookStep marks a step of the attached runbook as done.
type CompleteRunbookStep struct {
	Order int
}

// Escalate records an escalation to another team or person.
type Escalate struct {
	Reason string
	Target string
}

// RecordDeviceAction records an action taken on a device.
type RecordDeviceAction struct {
	DeviceID string
	Action   string
}

func (ChangeStatus) Operation() string        { return "change_status" }
func (Resolve) Operation() string             { return "resolve" }
func (Assign) Operation() string              { return "assign" }
func (AddNote) Operation() string             { return "add_note" }
func (AttachRunbook) Operation() string       { return "attach_runbook" }
func (CompleteRunbookStep) Operation() string { return "complete_runbook_step" }
func (Escalate) Operation() string            { return "escalate" }
func (RecordDeviceAction) Operation() string  { return "record_device_action" }

func (a ChangeStatus) validate() error {
	if !a.Status.IsValid() {
		return validationf("invalid status: %q", a.Status)
	}
	return nil
}

func (a Resolve) validate() error {
	if a.Code == "" {
		return fmt.Errorf("%w: resolving to %q needs a resolution code", ErrResolutionRequired, a.Target)
	}
	if !a.Code.IsValid() {
		return validationf("invalid resolution code: %q", a.Code)
	}
	if !IsResolutionTarget(a.Target) {
		return validationf("resolve target must be resolved or closed, got %q", a.Target)
	}
	return nil
}

func (a Assign) validate() error {
	if strings.TrimSpace(a.Operator) == "" {
		return validationf("operator is required")
	}
	return nil
}

func (a AddNote) validate() error {
	if strings.TrimSpace(a.Text) == "" {
		return validationf("note text is required")
	}
	return nil
}

func (a AttachRunbook) validate() error {
	if a.RunbookID == "" {
		return validationf("runbook_id is required")
	}
	return nil
}

func (a CompleteRunbookStep) validate() error {
	if a.Order < 1 {
		return validationf("step order must be >= 1")
	}
	return nil
}

func (a Escalate) validate() error {
	if strings.TrimSpace(a.Reason) == "" {
		return validationf("escalation reason is required")
	}
	return nil
}

func (a RecordDeviceAction) validate() error {
	if a.DeviceID == "" {
		return validationf("device_id is required")
	}
	if strings.TrimSpace(a.Action) == "" {
		return validationf("action is required")
	}
	return nil
}

// outcome is what an action decided to record. A nil outcome means no-op.
type outcome struct {
	timelineType domain.TimelineActionType
	content      string
	newStatus    *domain.IncidentStatus
	auditAction  string
	changes      []domain.FieldChange
	details      string
	notify       bool
}

// decide applies action to next, which starts as a copy of cur, and returns
// what to record. It never touches storage except the runbook catalog.
func (o *Orchestrator) decide(ctx context.Context, cur, next *domain.Incident, action Action) (*outcome, error) {
	switch a := action.(type) {
	case ChangeStatus:
		return decideChangeStatus(cur, next, a)
	case Resolve:
		return decideResolve(cur, next, a)
	case Assign:
		return decideAssign(cur, next, a), nil
	case AddNote:
		return decideAddNote(a), nil
	case AttachRunbook:
		rb, err := o.getRunbook(ctx, a.RunbookID)
		if err != nil {
			return nil, err
		}
		return decideAttachRunbook(cur, next, rb)
	case CompleteRunbookStep:
		if cur.RunbookID == nil {
			return nil, validationf("incident has no runbook attached")
		}
		rb, err := o.getRunbook(ctx, *cur.RunbookID)
		if err != nil {
			return nil, err
		}
		return decideCompleteStep(cur, next, rb, a)
	case Escalate:
		return decideEscalate(cur, a)
	case RecordDeviceAction:
		return decideDeviceAction(cur, next, a), nil
	}
	return nil, validationf("unsupported action %T", action)
}

func (o *Orchestrator) getRunbook(ctx context.Context, id string) (*domain.Runbook, error) {
	rb, err := o.runbooks.Get(ctx, id)
	if err != nil {
		if errors.Is(err, runbooks.ErrRunbookNotFound) {
			return nil, fmt.Errorf("runbook %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get runbook: %w", err)
	}
	return rb, nil
}

func decideChangeStatus(cur, next *domain.Incident, a ChangeStatus) (*outcome, error) {
	if IsResolutionTarget(a.Status) {
		if CanResolve(cur.Status) {
			return nil, fmt.Errorf("%w: use resolve to move to %s", ErrResolutionRequired, a.Status)
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, a.Status)
	}
	if !CanChangeStatus(cur.Status, a.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, a.Status)
	}

	next.Status = a.Status
	status := a.Status
	return &outcome{
		timelineType: domain.TimelineStatusChange,
		newStatus:    &status,
		auditAction:  domain.AuditActionStatusChange,
		changes:      []domain.FieldChange{{Field: "status", From: string(cur.Status), To: string(a.Status)}},
		notify:       true,
	}, nil
}

func decideResolve(cur, next *domain.Incident, a Resolve) (*outcome, error) {
	if !CanResolve(cur.Status) {
		return nil, fmt.Errorf("%w: cannot resolve from %s", ErrInvalidTransition, cur.Status)
	}

	code := a.Code
	next.Status = a.Target
	next.ResolutionCode = &code
	if a.Notes != "" {
		notes := a.Notes
		next.ResolutionNotes = &notes
	}
	if next.ResolvedAt == nil {
		at := next.UpdatedAt
		next.ResolvedAt = &at
	}

	changes := []domain.FieldChange{
		{Field: "status", From: string(cur.Status), To: string(a.Target)},
		{Field: "resolution_code", From: derefString(cur.ResolutionCode), To: string(code)},
	}
	if a.Notes != "" && derefString(cur.ResolutionNotes) != a.Notes {
		changes = append(changes, domain.FieldChange{Field: "resolution_notes", From: derefString(cur.ResolutionNotes), To: a.Notes})
	}

	action := domain.AuditActionResolved
	if a.Target == domain.IncidentStatusClosed {
		action = domain.AuditActionClosed
	}

	target := a.Target
	content := string(code)
	if a.Notes != "" {
		content += ": " + a.Notes
	}
	return &outcome{
		timelineType: domain.TimelineStatusChange,
		content:      content,
		newStatus:    &target,
		auditAction:  action,
		changes:      changes,
		notify:       true,
	}, nil
}

func decideAssign(cur, next *domain.Incident, a Assign) *outcome {
	operator := strings.TrimSpace(a.Operator)
	next.AssignedTo = &operator
	return &outcome{
		timelineType: domain.TimelineAssigned,
		content:      operator,
		auditAction:  domain.AuditActionAssigned,
		changes:      []domain.FieldChange{{Field: "assigned_to", From: derefString(cur.AssignedTo), To: operator}},
	}
}

func decideAddNote(a AddNote) *outcome {
	text := strings.TrimSpace(a.Text)
	return &outcome{
		timelineType: domain.TimelineNoteAdded,
		content:      text,
		auditAction:  domain.AuditActionNoteAdded,
		details:      text,
	}
}

func decideAttachRunbook(cur, next *domain.Incident, rb *domain.Runbook) (*outcome, error) {
	if cur.RunbookID != nil {
		if *cur.RunbookID == rb.ID {
			return nil, nil
		}
		if len(cur.CompletedSteps) > 0 {
			return nil, fmt.Errorf("%w: %s has %d completed steps", ErrRunbookReplacement, *cur.RunbookID, len(cur.CompletedSteps))
		}
	}

	id := rb.ID
	next.RunbookID = &id
	next.CompletedSteps = []int{}
	return &outcome{
		timelineType: domain.TimelineRunbookStep,
		content:      fmt.Sprintf("attached runbook %q (%d steps)", rb.Name, len(rb.Steps)),
		auditAction:  domain.AuditActionRunbookAttached,
		changes:      []domain.FieldChange{{Field: "runbook_id", From: derefString(cur.RunbookID), To: rb.ID}},
	}, nil
}

func decideCompleteStep(cur, next *domain.Incident, rb *domain.Runbook, a CompleteRunbookStep) (*outcome, error) {
	step, ok := rb.Step(a.Order)
	if !ok {
		return nil, validationf("runbook %s has no step %d", rb.ID, a.Order)
	}
	if cur.IsStepCompleted(a.Order) {
		return nil, nil
	}
	// Completed steps always form the prefix 1..k, so only k+1 may follow.
	if len(cur.CompletedSteps) != a.Order-1 {
		return nil, fmt.Errorf("%w: step %d requires steps 1..%d, %d completed", ErrStepOrder, a.Order, a.Order-1, len(cur.CompletedSteps))
	}

	next.CompletedSteps = append(next.CompletedSteps, a.Order)
	slices.Sort(next.CompletedSteps)

	note := fmt.Sprintf("completed step %d/%d: %s", a.Order, len(rb.Steps), step.Title)
	return &outcome{
		timelineType: domain.TimelineRunbookStep,
		content:      note,
		auditAction:  domain.AuditActionRunbookStepComplete,
		details:      "runbook " + rb.ID + " " + note,
	}, nil
}

func decideEscalate(cur *domain.Incident, a Escalate) (*outcome, error) {
	if cur.Status.IsResolved() {
		return nil, fmt.Errorf("%w: cannot escalate a %s incident", ErrInvalidTransition, cur.Status)
	}

	content := strings.TrimSpace(a.Reason)
	if a.Target != "" {
		content = "escalated to " + a.Target + ": " + content
	}
	return &outcome{
		timelineType: domain.TimelineEscalation,
		content:      content,
		auditAction:  domain.AuditActionEscalated,
		details:      content,
	}, nil
}

func decideDeviceAction(cur, next *domain.Incident, a RecordDeviceAction) *outcome {
	out := &outcome{
		timelineType: domain.TimelineDeviceAction,
		content:      a.DeviceID + ": " + strings.TrimSpace(a.Action),
		auditAction:  domain.AuditActionDeviceAction,
		details:      strings.TrimSpace(a.Action),
	}
	if !slices.Contains(cur.AffectedDevices, a.DeviceID) {
		next.AffectedDevices = append(next.AffectedDevices, a.DeviceID)
		out.changes = []domain.FieldChange{{
			Field: "affected_devices",
			From:  strings.Join(cur.AffectedDevices, ","),
			To:    strings.Join(next.AffectedDevices, ","),
		}}
	}
	return out
}

func derefString[T ~string](p *T) string {
	if p == nil {
		return ""
	}
	return string(*p)
}

func formatNumber(n int64) string {
	return fmt.Sprintf("INC-%05d", n)
}
