package identity

import (
	"net/http"

	"github.com/bissquit/incident-orchestrator/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

// Handler exposes the caller's resolved identity.
type Handler struct{}

// NewHandler creates a new identity handler.
func NewHandler() *Handler {
	return &Handler{}
}

// RegisterProtectedRoutes registers routes that require authentication.
func (h *Handler) RegisterProtectedRoutes(r chi.Router) {
	r.Get("/me", h.Me)
}

// MeResponse describes the authenticated caller.
type MeResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	IPAddress string `json:"ip_address"`
}

// Me handles GET /me request.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := httputil.ActorFromContext(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	httputil.Success(w, http.StatusOK, MeResponse{
		ID:        actor.ID,
		Name:      actor.DisplayName(),
		Role:      string(actor.Role),
		IPAddress: actor.IPAddress,
	})
}
