package incidents

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/bissquit/incident-orchestrator/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Pagination constants.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// storageRetryAfter is advertised to clients on transient storage failures.
const storageRetryAfter = 5 * time.Second

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrValidation, Status: http.StatusBadRequest},
	{Error: ErrNotFound, Status: http.StatusNotFound},
	{Error: ErrInvalidTransition, Status: http.StatusConflict},
	{Error: ErrRunbookReplacement, Status: http.StatusConflict},
	{Error: ErrStepOrder, Status: http.StatusConflict},
	{Error: ErrVersionConflict, Status: http.StatusConflict, Message: "incident was modified concurrently"},
	{Error: ErrResolutionRequired, Status: http.StatusUnprocessableEntity},
	{Error: ErrStorage, Status: http.StatusServiceUnavailable, Message: "storage unavailable, retry later", RetryAfter: storageRetryAfter},
}

// Handler handles HTTP requests for incidents.
type Handler struct {
	orchestrator *Orchestrator
	validator    *validator.Validate
}

// NewHandler creates a new incidents handler.
func NewHandler(orchestrator *Orchestrator) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		validator:    validator.New(),
	}
}

// RegisterReadRoutes registers routes available to viewers.
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/incidents", h.ListIncidents)
	r.Get("/incidents/stats", h.GetStats)
	r.Get("/incidents/{id}", h.GetIncident)
	r.Get("/incidents/{id}/timeline", h.GetTimeline)
}

// RegisterOperatorRoutes registers mutating routes.
func (h *Handler) RegisterOperatorRoutes(r chi.Router) {
	r.Post("/incidents", h.CreateIncident)
	r.Post("/incidents/{id}/status", h.ChangeStatus)
	r.Post("/incidents/{id}/resolve", h.Resolve)
	r.Post("/incidents/{id}/assign", h.Assign)
	r.Post("/incidents/{id}/notes", h.AddNote)
	r.Post("/incidents/{id}/escalations", h.Escalate)
	r.Post("/incidents/{id}/device-actions", h.RecordDeviceAction)
	r.Post("/incidents/{id}/follow-ups", h.CreateFollowUp)
	r.Put("/incidents/{id}/runbook", h.AttachRunbook)
	r.Post("/incidents/{id}/runbook/steps/{order}/complete", h.CompleteRunbookStep)
}

// CreateIncidentRequest represents the request body for creating an incident.
type CreateIncidentRequest struct {
	Type            string   `json:"type" validate:"required"`
	Severity        string   `json:"severity" validate:"required"`
	Title           string   `json:"title" validate:"required,min=1,max=500"`
	Description     string   `json:"description"`
	AffectedDevices []string `json:"affected_devices"`
	AffectedZones   []string `json:"affected_zones"`
	AssignedTo      *string  `json:"assigned_to"`
	RunbookID       *string  `json:"runbook_id"`
}

// ToInput converts the request to orchestrator input.
func (r *CreateIncidentRequest) ToInput() CreateIncidentInput {
	return CreateIncidentInput{
		Type:            domain.IncidentType(r.Type),
		Severity:        domain.Severity(r.Severity),
		Title:           r.Title,
		Description:     r.Description,
		AffectedDevices: r.AffectedDevices,
		AffectedZones:   r.AffectedZones,
		AssignedTo:      r.AssignedTo,
		RunbookID:       r.RunbookID,
	}
}

// ChangeStatusRequest represents the request body for a status change.
type ChangeStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// ResolveRequest represents the request body for resolving an incident.
type ResolveRequest struct {
	ResolutionCode string `json:"resolution_code"`
	Notes          string `json:"notes" validate:"max=5000"`
	TargetStatus   string `json:"target_status" validate:"omitempty,oneof=resolved closed"`
}

// AssignRequest represents the request body for assigning an operator.
type AssignRequest struct {
	Operator string `json:"operator" validate:"required,max=255"`
}

// AddNoteRequest represents the request body for adding a note.
type AddNoteRequest struct {
	Text string `json:"text" validate:"required,max=5000"`
}

// EscalateRequest represents the request body for an escalation.
type EscalateRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
	Target string `json:"target" validate:"max=255"`
}

// DeviceActionRequest represents the request body for a device action.
type DeviceActionRequest struct {
	DeviceID string `json:"device_id" validate:"required,max=255"`
	Action   string `json:"action" validate:"required,max=2000"`
}

// AttachRunbookRequest represents the request body for attaching a runbook.
type AttachRunbookRequest struct {
	RunbookID string `json:"runbook_id" validate:"required"`
}

// FollowUpRequest represents the request body for a follow-up incident.
type FollowUpRequest struct {
	Title       string  `json:"title" validate:"max=500"`
	Description string  `json:"description"`
	Severity    *string `json:"severity"`
}

// CreateIncident handles POST /incidents request.
func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if !h.decode(w, r, &req) {
		return
	}

	inc, err := h.orchestrator.CreateIncident(r.Context(), req.ToInput(), actorFrom(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, inc)
}

// GetIncident handles GET /incidents/{id} request.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.orchestrator.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, inc)
}

// GetTimeline handles GET /incidents/{id}/timeline request.
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	entries, err := h.orchestrator.GetTimeline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, entries)
}

// ListIncidents handles GET /incidents request.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{Limit: DefaultListLimit}

	if v := q.Get("status"); v != "" {
		status := domain.IncidentStatus(v)
		filter.Status = &status
	}
	if v := q.Get("severity"); v != "" {
		severity := domain.Severity(v)
		filter.Severity = &severity
	}
	if v := q.Get("type"); v != "" {
		incidentType := domain.IncidentType(v)
		filter.Type = &incidentType
	}
	if v := q.Get("assigned_to"); v != "" {
		filter.AssignedTo = &v
	}
	if q.Get("active") == "true" {
		filter.ActiveOnly = true
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			httputil.Error(w, http.StatusBadRequest, "invalid 'limit' parameter")
			return
		}
		filter.Limit = min(limit, MaxListLimit)
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			httputil.Error(w, http.StatusBadRequest, "invalid 'offset' parameter")
			return
		}
		filter.Offset = offset
	}

	list, err := h.orchestrator.ListIncidents(r.Context(), filter)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, list)
}

// GetStats handles GET /incidents/stats request.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orchestrator.Stats(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, stats)
}

// ChangeStatus handles POST /incidents/{id}/status request.
func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req ChangeStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.apply(w, r, ChangeStatus{Status: domain.IncidentStatus(req.Status)})
}

// Resolve handles POST /incidents/{id}/resolve request.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !h.decode(w, r, &req) {
		return
	}

	target := domain.IncidentStatusResolved
	if req.TargetStatus != "" {
		target = domain.IncidentStatus(req.TargetStatus)
	}
	h.apply(w, r, Resolve{Code: domain.ResolutionCode(req.ResolutionCode), Notes: req.Notes, Target: target})
}

// Assign handles POST /incidents/{id}/assign request.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.apply(w, r, Assign{Operator: req.Operator})
}

// AddNote handles POST /incidents/{id}/notes request.
func (h *Handler) AddNote(w http.ResponseWriter, r *http.Request) {
	var req AddNoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.apply(w, r, AddNote{Text: req.Text})
}

// Escalate handles POST /incidents/{id}/escalations request.
func (h *Handler) Escalate(w http.ResponseWriter, r *http.Request) {
	var req EscalateRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.apply(w, r, Escalate{Reason: req.Reason, Target: req.Target})
}

// RecordDeviceAction handles POST /incidents/{id}/device-actions request.
func (h *Handler) RecordDeviceAction(w http.ResponseWriter, r *http.Request) {
	var req DeviceActionRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.apply(w, r, RecordDeviceAction{DeviceID: req.DeviceID, Action: req.Action})
}

// AttachRunbook handles PUT /incidents/{id}/runbook request.
func (h *Handler) AttachRunbook(w http.ResponseWriter, r *http.Request) {
	var req AttachRunbookRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.apply(w, r, AttachRunbook{RunbookID: req.RunbookID})
}

// CompleteRunbookStep handles POST /incidents/{id}/runbook/steps/{order}/complete request.
func (h *Handler) CompleteRunbookStep(w http.ResponseWriter, r *http.Request) {
	order, err := strconv.Atoi(chi.URLParam(r, "order"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid step order")
		return
	}
	h.apply(w, r, CompleteRunbookStep{Order: order})
}

// CreateFollowUp handles POST /incidents/{id}/follow-ups request.
func (h *Handler) CreateFollowUp(w http.ResponseWriter, r *http.Request) {
	var req FollowUpRequest
	if !h.decode(w, r, &req) {
		return
	}

	input := FollowUpInput{Title: req.Title, Description: req.Description}
	if req.Severity != nil {
		severity := domain.Severity(*req.Severity)
		input.Severity = &severity
	}

	inc, err := h.orchestrator.CreateFollowUp(r.Context(), chi.URLParam(r, "id"), input, actorFrom(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, inc)
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request, action Action) {
	inc, err := h.orchestrator.Apply(r.Context(), chi.URLParam(r, "id"), actorFrom(r), action)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, inc)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return false
	}
	return true
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, errorMappings)
}

func actorFrom(r *http.Request) domain.Actor {
	actor, _ := httputil.ActorFromContext(r.Context())
	return actor
}
