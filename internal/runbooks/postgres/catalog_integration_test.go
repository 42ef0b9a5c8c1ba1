//go:build integration

package postgres_test

import (
	"context"
	"testing"

	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/bissquit/incident-orchestrator/internal/runbooks"
	"github.com/bissquit/incident-orchestrator/internal/runbooks/postgres"
	"github.com/bissquit/incident-orchestrator/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_PutGetList(t *testing.T) {
	ctx := context.Background()

	container, err := testutil.NewMigratedPostgresContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	pool, err := container.NewPool(ctx)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	catalog := postgres.NewCatalog(pool)

	_, err = catalog.Get(ctx, "rb-missing")
	assert.ErrorIs(t, err, runbooks.ErrRunbookNotFound)

	templates, err := runbooks.LoadDir("../../../runbooks")
	require.NoError(t, err)
	require.NoError(t, runbooks.Sync(ctx, catalog, templates))

	rb, err := catalog.Get(ctx, "rb-network-outage")
	require.NoError(t, err)
	require.Len(t, rb.Steps, 4)
	assert.Equal(t, domain.StepActionCommand, rb.Steps[1].ActionType)
	assert.False(t, rb.UpdatedAt.IsZero())

	// re-syncing replaces in place
	rb.Name = "Network outage triage v2"
	require.NoError(t, catalog.Put(ctx, rb))

	gapped := domain.Runbook{
		ID:   "rb-gapped",
		Name: "Gapped",
		Steps: []domain.Step{
			{Order: 1, Title: "Check", ActionType: domain.StepActionManual},
			{Order: 3, Title: "Verify", ActionType: domain.StepActionManual},
		},
	}
	require.ErrorIs(t, catalog.Put(ctx, &gapped), runbooks.ErrInvalidRunbook)

	list, err := catalog.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "rb-network-outage", list[0].ID)
	assert.Equal(t, "Network outage triage v2", list[0].Name)
}
