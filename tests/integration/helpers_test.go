//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/bissquit/incident-orchestrator/internal/testutil"
	"github.com/stretchr/testify/require"
)

type incidentResponse struct {
	Data domain.Incident `json:"data"`
}

func createIncident(t *testing.T, client *testutil.Client, payload map[string]any) domain.Incident {
	t.Helper()

	body := map[string]any{
		"type":     "network_outage",
		"severity": "p2_high",
		"title":    "Zone A uplink down",
	}
	for k, v := range payload {
		body[k] = v
	}

	resp, err := client.POST("/api/v1/incidents", body)
	require.NoError(t, err)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create incident: status %d: %s", resp.StatusCode, testutil.ReadBody(t, resp))
	}

	var result incidentResponse
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

// post sends a mutation and returns the status code and decoded incident.
func post(t *testing.T, client *testutil.Client, path string, body any) (int, domain.Incident) {
	t.Helper()

	resp, err := client.POST(path, body)
	require.NoError(t, err)

	var result incidentResponse
	if resp.StatusCode < 300 {
		testutil.DecodeJSON(t, resp, &result)
	} else {
		_ = resp.Body.Close()
	}
	return resp.StatusCode, result.Data
}

func incidentPath(id, suffix string) string {
	return fmt.Sprintf("/api/v1/incidents/%s%s", id, suffix)
}
