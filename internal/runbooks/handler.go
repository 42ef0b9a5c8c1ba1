package runbooks

import (
	"errors"
	"net/http"

	"github.com/bissquit/incident-orchestrator/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

// Handler serves the read side of the catalog.
type Handler struct {
	catalog Catalog
}

// NewHandler creates a new runbooks handler.
func NewHandler(catalog Catalog) *Handler {
	return &Handler{catalog: catalog}
}

// RegisterRoutes registers runbook read routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/runbooks", h.ListRunbooks)
	r.Get("/runbooks/{id}", h.GetRunbook)
}

// ListRunbooks handles GET /runbooks request.
func (h *Handler) ListRunbooks(w http.ResponseWriter, r *http.Request) {
	list, err := h.catalog.List(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}

	if t := r.URL.Query().Get("incident_type"); t != "" {
		filtered := list[:0]
		for _, rb := range list {
			for _, it := range rb.IncidentTypes {
				if it == t {
					filtered = append(filtered, rb)
					break
				}
			}
		}
		list = filtered
	}

	httputil.Success(w, http.StatusOK, list)
}

// GetRunbook handles GET /runbooks/{id} request.
func (h *Handler) GetRunbook(w http.ResponseWriter, r *http.Request) {
	rb, err := h.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrRunbookNotFound) {
			httputil.Error(w, http.StatusNotFound, "runbook not found")
			return
		}
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}

	httputil.Success(w, http.StatusOK, rb)
}
