package incidents_test

import (
	"context"
	"sync"
	"testing"

	"github.com/bissquit/incident-orchestrator/internal/audit"
	auditmemory "github.com/bissquit/incident-orchestrator/internal/audit/memory"
	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/bissquit/incident-orchestrator/internal/incidents"
	"github.com/bissquit/incident-orchestrator/internal/incidents/memory"
	rbmemory "github.com/bissquit/incident-orchestrator/internal/runbooks/memory"
	"github.com/stretchr/testify/require"
)

var (
	operator = domain.Actor{ID: "u-1", Name: "alice", Role: domain.RoleOperator, IPAddress: "10.0.0.7"}
	monitor  = domain.SystemActor()
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.StatusChangeEvent
}

func (n *recordingNotifier) NotifyStatusChange(_ context.Context, e domain.StatusChangeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) Events() []domain.StatusChangeEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.StatusChangeEvent(nil), n.events...)
}

type fixture struct {
	orch     *incidents.Orchestrator
	store    *memory.Store
	ledger   *auditmemory.Ledger
	catalog  *rbmemory.Catalog
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ledger := auditmemory.NewLedger()
	store := memory.NewStore(ledger)
	catalog := rbmemory.NewCatalog()
	notifier := &recordingNotifier{}

	require.NoError(t, catalog.Put(context.Background(), threeStepRunbook("R1")))
	require.NoError(t, catalog.Put(context.Background(), threeStepRunbook("R2")))

	return &fixture{
		orch:     incidents.NewOrchestrator(store, store, catalog, notifier, incidents.Config{}),
		store:    store,
		ledger:   ledger,
		catalog:  catalog,
		notifier: notifier,
	}
}

func threeStepRunbook(id string) *domain.Runbook {
	return &domain.Runbook{
		ID:                         id,
		Name:                       "Runbook " + id,
		EstimatedResolutionMinutes: 20,
		Steps: []domain.Step{
			{Order: 1, Title: "Check", ActionType: domain.StepActionManual},
			{Order: 2, Title: "Reboot", ActionType: domain.StepActionCommand, Command: "reboot"},
			{Order: 3, Title: "Verify", ActionType: domain.StepActionManual},
		},
	}
}

func (f *fixture) create(t *testing.T) *domain.Incident {
	t.Helper()
	inc, err := f.orch.CreateIncident(context.Background(), incidents.CreateIncidentInput{
		Type:     domain.IncidentTypeDeviceStuck,
		Severity: domain.SeverityP2High,
		Title:    "Robot R-12 stuck at gate 4",
	}, operator)
	require.NoError(t, err)
	return inc
}

func (f *fixture) auditFor(t *testing.T, id string) []domain.AuditEntry {
	t.Helper()
	entries, err := f.ledger.Query(context.Background(), audit.Filter{ResourceType: domain.ResourceTypeIncident, ResourceID: id})
	require.NoError(t, err)
	return entries
}

func (f *fixture) stored(t *testing.T, id string) *domain.Incident {
	t.Helper()
	inc, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return inc
}

// requireResolutionInvariant checks that resolved_at, resolution_code and a
// resolved-family status always appear together.
func requireResolutionInvariant(t *testing.T, inc *domain.Incident) {
	t.Helper()
	resolved := inc.Status.IsResolved()
	require.Equal(t, resolved, inc.ResolvedAt != nil, "resolved_at vs status %s", inc.Status)
	require.Equal(t, resolved, inc.ResolutionCode != nil, "resolution_code vs status %s", inc.Status)
}
