package runbooks_test

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/bissquit/incident-orchestrator/internal/runbooks"
	"github.com/bissquit/incident-orchestrator/internal/runbooks/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const networkRunbook = `
id: rb-network
name: Network outage triage
incident_types: [network_outage]
estimated_resolution_minutes: 30
steps:
  - order: 2
    title: Fail over uplink
    action_type: command
    command: netctl failover
  - order: 1
    title: Check switch
    action_type: manual
`

const kioskRunbooks = `
id: rb-kiosk
name: Kiosk crash
steps:
  - order: 1
    title: Restart kiosk app
    action_type: manual
---
id: rb-payment
name: Payment failure
incident_types: [payment_failure]
steps:
  - order: 1
    title: Check PSP status
    action_type: manual
`

func TestDecode(t *testing.T) {
	list, err := runbooks.Decode(strings.NewReader(networkRunbook))
	require.NoError(t, err)
	require.Len(t, list, 1)

	rb := list[0]
	assert.Equal(t, "rb-network", rb.ID)
	assert.Equal(t, 30, rb.EstimatedResolutionMinutes)
	require.Len(t, rb.Steps, 2)
	assert.Equal(t, 1, rb.Steps[0].Order)
	assert.Equal(t, "Check switch", rb.Steps[0].Title)
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	_, err := runbooks.Decode(strings.NewReader("id: x\nname: y\nowner: z\nsteps: []\n"))
	assert.Error(t, err)
}

func TestDecode_RejectsGaps(t *testing.T) {
	doc := strings.Replace(networkRunbook, "order: 2", "order: 3", 1)
	_, err := runbooks.Decode(strings.NewReader(doc))
	assert.ErrorIs(t, err, runbooks.ErrInvalidRunbook)
}

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"network.yaml": {Data: []byte(networkRunbook)},
		"kiosk.yml":    {Data: []byte(kioskRunbooks)},
		"README.md":    {Data: []byte("ignored")},
	}

	list, err := runbooks.LoadFS(fsys)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	catalog := memory.NewCatalog()
	require.NoError(t, runbooks.Sync(context.Background(), catalog, list))

	rb, err := catalog.Get(context.Background(), "rb-payment")
	require.NoError(t, err)
	assert.Equal(t, "Payment failure", rb.Name)
	assert.False(t, rb.UpdatedAt.IsZero())
}

func TestLoadFS_DuplicateID(t *testing.T) {
	fsys := fstest.MapFS{
		"a.yaml": {Data: []byte(networkRunbook)},
		"b.yaml": {Data: []byte(networkRunbook)},
	}

	_, err := runbooks.LoadFS(fsys)
	require.ErrorIs(t, err, runbooks.ErrInvalidRunbook)
	assert.Contains(t, err.Error(), "duplicate id")
}

func gappedRunbook(id string) domain.Runbook {
	return domain.Runbook{
		ID:   id,
		Name: "Gapped",
		Steps: []domain.Step{
			{Order: 1, Title: "Check", ActionType: domain.StepActionManual},
			{Order: 3, Title: "Verify", ActionType: domain.StepActionManual},
		},
	}
}

func TestSync_RejectsGappedTemplate(t *testing.T) {
	ctx := context.Background()
	catalog := memory.NewCatalog()

	valid := domain.Runbook{
		ID:   "rb-ok",
		Name: "Valid",
		Steps: []domain.Step{
			{Order: 2, Title: "Verify", ActionType: domain.StepActionManual},
			{Order: 1, Title: "Check", ActionType: domain.StepActionManual},
		},
	}

	err := runbooks.Sync(ctx, catalog, []domain.Runbook{valid, gappedRunbook("rb-gapped")})
	require.ErrorIs(t, err, runbooks.ErrInvalidRunbook)

	list, err := catalog.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list, "no template is written when one is invalid")

	require.NoError(t, runbooks.Sync(ctx, catalog, []domain.Runbook{valid}))
	rb, err := catalog.Get(ctx, "rb-ok")
	require.NoError(t, err)
	assert.Equal(t, 1, rb.Steps[0].Order)
}

func TestCatalogPut_Validates(t *testing.T) {
	ctx := context.Background()
	catalog := memory.NewCatalog()

	rb := gappedRunbook("rb-gapped")
	require.ErrorIs(t, catalog.Put(ctx, &rb), runbooks.ErrInvalidRunbook)

	_, err := catalog.Get(ctx, "rb-gapped")
	assert.ErrorIs(t, err, runbooks.ErrRunbookNotFound)
}
