package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/incident-orchestrator/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

// storageRetryAfter is advertised to clients on transient ledger failures.
const storageRetryAfter = 5 * time.Second

// Handler handles HTTP requests for the audit ledger (admin only).
type Handler struct {
	service *Service
}

// NewHandler creates a new audit handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers audit routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/audit", h.ListEntries)
	r.Get("/audit/verify", h.VerifyChain)
}

// ListEntries handles GET /audit request.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
		ActorName:    q.Get("actor"),
		Action:       q.Get("action"),
	}

	var err error
	if filter.From, err = parseTime(q.Get("from")); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid 'from' parameter: expected RFC3339")
		return
	}
	if filter.To, err = parseTime(q.Get("to")); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid 'to' parameter: expected RFC3339")
		return
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			httputil.Error(w, http.StatusBadRequest, "invalid 'limit' parameter")
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			httputil.Error(w, http.StatusBadRequest, "invalid 'offset' parameter")
			return
		}
		filter.Offset = offset
	}

	entries, err := h.service.Query(r.Context(), filter)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, entries)
}

// VerifyChain handles GET /audit/verify request.
func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	result, err := h.service.Verify(r.Context(), q.Get("resource_type"), q.Get("resource_id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
		{Error: ErrInvalidFilter, Status: http.StatusBadRequest},
		{Error: ErrStorage, Status: http.StatusServiceUnavailable, Message: "audit storage unavailable, retry later", RetryAfter: storageRetryAfter},
	})
}

func parseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
