//go:build integration

package integration

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/bissquit/incident-orchestrator/internal/audit"
	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/bissquit/incident-orchestrator/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditTrailPerMutation(t *testing.T) {
	operator := newClient(t, domain.RoleOperator)
	admin := newClient(t, domain.RoleAdmin)

	inc := createIncident(t, operator, nil)
	code, _ := post(t, operator, incidentPath(inc.ID, "/status"), map[string]string{"status": "investigating"})
	require.Equal(t, http.StatusOK, code)
	code, _ = post(t, operator, incidentPath(inc.ID, "/notes"), map[string]string{"text": "checking"})
	require.Equal(t, http.StatusOK, code)

	// rejected operations leave no trace
	code, _ = post(t, operator.WithoutValidation(), incidentPath(inc.ID, "/status"), map[string]string{"status": "open"})
	require.Equal(t, http.StatusConflict, code)

	query := url.Values{"resource_type": {domain.ResourceTypeIncident}, "resource_id": {inc.ID}}
	resp, err := admin.GET("/api/v1/audit?" + query.Encode())
	require.NoError(t, err)
	var entries struct {
		Data []domain.AuditEntry `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &entries)
	require.Len(t, entries.Data, 3)
	for _, e := range entries.Data {
		assert.Equal(t, "it operator", e.ActorName)
		assert.NotEmpty(t, e.Hash)
	}

	resp, err = admin.GET("/api/v1/audit/verify?" + query.Encode())
	require.NoError(t, err)
	var verify struct {
		Data audit.VerifyResult `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &verify)
	assert.True(t, verify.Data.Valid)
	assert.Equal(t, 3, verify.Data.Entries)
}

func TestAuditEntriesAreAppendOnly(t *testing.T) {
	operator := newClient(t, domain.RoleOperator)
	inc := createIncident(t, operator, nil)
	ctx := context.Background()

	_, err := testDB.Exec(ctx, `UPDATE audit_entries SET actor_name = 'mallory' WHERE resource_id = $1`, inc.ID)
	assert.Error(t, err)

	_, err = testDB.Exec(ctx, `DELETE FROM audit_entries WHERE resource_id = $1`, inc.ID)
	assert.Error(t, err)

	_, err = testDB.Exec(ctx, `DELETE FROM incident_timeline WHERE incident_id = $1`, inc.ID)
	assert.Error(t, err)
}
