package runbooks_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/bissquit/incident-orchestrator/internal/runbooks"
	"github.com/bissquit/incident-orchestrator/internal/runbooks/memory"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	list, err := runbooks.Decode(strings.NewReader(kioskRunbooks))
	require.NoError(t, err)

	catalog := memory.NewCatalog()
	require.NoError(t, runbooks.Sync(context.Background(), catalog, list))

	r := chi.NewRouter()
	runbooks.NewHandler(catalog).RegisterRoutes(r)
	return r
}

func TestHandler_ListRunbooks(t *testing.T) {
	router := newRouter(t)

	tests := []struct {
		name    string
		query   string
		wantIDs []string
	}{
		{"all", "", []string{"rb-kiosk", "rb-payment"}},
		{"by incident type", "?incident_type=payment_failure", []string{"rb-payment"}},
		{"no match", "?incident_type=zone_breach", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runbooks"+tt.query, nil))
			require.Equal(t, http.StatusOK, rec.Code)

			var body struct {
				Data []domain.Runbook `json:"data"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

			ids := make([]string, 0, len(body.Data))
			for _, rb := range body.Data {
				ids = append(ids, rb.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestHandler_GetRunbook(t *testing.T) {
	router := newRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runbooks/rb-kiosk", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runbooks/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
