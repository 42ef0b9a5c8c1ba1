//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/bissquit/incident-orchestrator/internal/audit"
	auditpostgres "github.com/bissquit/incident-orchestrator/internal/audit/postgres"
	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/bissquit/incident-orchestrator/internal/incidents"
	"github.com/bissquit/incident-orchestrator/internal/incidents/postgres"
	runbookspostgres "github.com/bissquit/incident-orchestrator/internal/runbooks/postgres"
	"github.com/bissquit/incident-orchestrator/internal/testutil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := testutil.NewMigratedPostgresContainer(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}

	testPool, err = container.NewPool(ctx)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}

	code := m.Run()

	testPool.Close()
	if err := container.Terminate(ctx); err != nil {
		log.Printf("terminate postgres: %v", err)
	}
	os.Exit(code)
}

func reset(t *testing.T) {
	t.Helper()
	require.NoError(t, testutil.Truncate(context.Background(), testPool))
}

func newIncident(number string) *domain.Incident {
	now := time.Now().UTC().Truncate(time.Microsecond)
	status := domain.IncidentStatusOpen
	return &domain.Incident{
		ID:         uuid.NewString(),
		Number:     number,
		Type:       domain.IncidentTypeKioskCrash,
		Severity:   domain.SeverityP3Medium,
		Status:     status,
		Title:      "Kiosk 4 frozen",
		DetectedAt: now,
		UpdatedAt:  now,
		CreatedBy:  "dana",
		Version:    1,
		Timeline: []domain.TimelineEntry{{
			ID:         uuid.NewString(),
			ActionType: domain.TimelineStatusChange,
			Actor:      "dana",
			Timestamp:  now,
			NewStatus:  &status,
		}},
	}
}

func TestStore_PutIsCompareAndSwap(t *testing.T) {
	reset(t)
	ctx := context.Background()
	store := postgres.NewStore(testPool)

	inc := newIncident("INC-00001")
	require.NoError(t, store.Put(ctx, inc))

	// a second create with the same id is a conflict
	err := store.Put(ctx, inc)
	assert.ErrorIs(t, err, incidents.ErrVersionConflict)

	got, err := store.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	require.Len(t, got.Timeline, 1)

	got.Version = 2
	got.Status = domain.IncidentStatusInvestigating
	require.NoError(t, store.Put(ctx, got))

	stale := inc.Clone()
	stale.Version = 2
	stale.Title = "lost update"
	assert.ErrorIs(t, store.Put(ctx, stale), incidents.ErrVersionConflict)

	final, err := store.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusInvestigating, final.Status)
	assert.Equal(t, "Kiosk 4 frozen", final.Title)
}

func TestStore_GetMissing(t *testing.T) {
	reset(t)
	_, err := postgres.NewStore(testPool).Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, incidents.ErrNotFound)
}

func TestStore_NextNumberAndList(t *testing.T) {
	reset(t)
	ctx := context.Background()
	store := postgres.NewStore(testPool)

	first, err := store.NextNumber(ctx)
	require.NoError(t, err)
	second, err := store.NextNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, first+1, second)

	a := newIncident("INC-00010")
	b := newIncident("INC-00011")
	b.Severity = domain.SeverityP1Critical
	require.NoError(t, store.Put(ctx, a))
	require.NoError(t, store.Put(ctx, b))

	critical := domain.SeverityP1Critical
	list, err := store.List(ctx, incidents.Filter{Severity: &critical})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)

	list, err = store.List(ctx, incidents.Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestTransactor_RollsBackIncidentAndAudit(t *testing.T) {
	reset(t)
	ctx := context.Background()
	tx := postgres.NewTransactor(testPool)
	boom := errors.New("boom")

	inc := newIncident("INC-00020")
	err := tx.InTx(ctx, func(store incidents.Store, ledger audit.Ledger) error {
		if err := store.Put(ctx, inc); err != nil {
			return err
		}
		if err := audit.AppendChained(ctx, ledger, &domain.AuditEntry{
			ID:           uuid.NewString(),
			ActorID:      "dana",
			ActorName:    "dana",
			ActorRole:    domain.RoleOperator,
			Action:       "incident:created",
			ResourceType: domain.ResourceTypeIncident,
			ResourceID:   inc.ID,
			Timestamp:    time.Now().UTC(),
			Result:       domain.AuditResultSuccess,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = postgres.NewStore(testPool).Get(ctx, inc.ID)
	assert.ErrorIs(t, err, incidents.ErrNotFound)

	entries, err := auditpostgres.NewLedger(testPool).Query(ctx, audit.Filter{ResourceID: inc.ID})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOrchestrator_OverPostgres(t *testing.T) {
	reset(t)
	ctx := context.Background()
	orch := incidents.NewOrchestrator(
		postgres.NewStore(testPool),
		postgres.NewTransactor(testPool),
		runbookspostgres.NewCatalog(testPool),
		nil,
		incidents.Config{StorageTimeout: 5 * time.Second},
	)
	actor := domain.Actor{ID: "u-1", Name: "dana", Role: domain.RoleOperator}

	inc, err := orch.CreateIncident(ctx, incidents.CreateIncidentInput{
		Type:     domain.IncidentTypeNetworkOutage,
		Severity: domain.SeverityP2High,
		Title:    "Zone B offline",
	}, actor)
	require.NoError(t, err)
	assert.Equal(t, "INC-00001", inc.Number)

	inc, err = orch.ChangeStatus(ctx, inc.ID, domain.IncidentStatusInvestigating, actor)
	require.NoError(t, err)

	inc, err = orch.Resolve(ctx, inc.ID, domain.ResolutionFalsePositive, "sensor glitch", actor, domain.IncidentStatusResolved)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusResolved, inc.Status)

	svc := audit.NewService(auditpostgres.NewLedger(testPool), 0)
	result, err := svc.Verify(ctx, domain.ResourceTypeIncident, inc.ID)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 3, result.Entries)

	// actor filter is a literal substring, as in the memory ledger
	byActor, err := svc.Query(ctx, audit.Filter{ActorName: "AN"})
	require.NoError(t, err)
	assert.Len(t, byActor, 3)
	for _, pattern := range []string{"%", "d_na"} {
		byActor, err = svc.Query(ctx, audit.Filter{ActorName: pattern})
		require.NoError(t, err)
		assert.Empty(t, byActor, pattern)
	}
}
