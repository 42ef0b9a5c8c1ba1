package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/incident-orchestrator/internal/audit"
	"github.com/bissquit/incident-orchestrator/internal/audit/memory"
	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntry(id, resourceID, action string, at time.Time) *domain.AuditEntry {
	return &domain.AuditEntry{
		ID:            id,
		ActorID:       "u-1",
		ActorName:     "Alice",
		ActorRole:     domain.RoleOperator,
		Action:        action,
		ResourceType:  domain.ResourceTypeIncident,
		ResourceID:    resourceID,
		ResourceLabel: "INC-00001",
		Changes:       []domain.FieldChange{{Field: "status", From: "open", To: "investigating"}},
		IPAddress:     "10.0.0.1",
		Timestamp:     at,
		Result:        domain.AuditResultSuccess,
	}
}

func TestComputeHash_Deterministic(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := newEntry("e-1", "inc-1", domain.AuditActionStatusChange, at)
	b := newEntry("e-1", "inc-1", domain.AuditActionStatusChange, at)

	ha, err := audit.ComputeHash(a)
	require.NoError(t, err)
	hb, err := audit.ComputeHash(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)

	b.Changes[0].To = "mitigating"
	hb, err = audit.ComputeHash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestComputeHash_IgnoresHashField(t *testing.T) {
	e := newEntry("e-1", "inc-1", domain.AuditActionStatusChange, time.Now().UTC())

	before, err := audit.ComputeHash(e)
	require.NoError(t, err)

	e.Hash = "something"
	after, err := audit.ComputeHash(e)
	require.NoError(t, err)

	assert.Equal(t, before, after)
}

func TestAppendChained_LinksPerResource(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	now := time.Now().UTC()

	first := newEntry("e-1", "inc-1", domain.AuditActionIncidentCreate, now)
	other := newEntry("e-2", "inc-2", domain.AuditActionIncidentCreate, now)
	second := newEntry("e-3", "inc-1", domain.AuditActionStatusChange, now.Add(time.Second))

	require.NoError(t, audit.AppendChained(ctx, ledger, first))
	require.NoError(t, audit.AppendChained(ctx, ledger, other))
	require.NoError(t, audit.AppendChained(ctx, ledger, second))

	assert.Empty(t, first.PrevHash)
	assert.Empty(t, other.PrevHash)
	assert.Equal(t, first.Hash, second.PrevHash)

	entries, err := ledger.Query(ctx, audit.Filter{ResourceID: "inc-1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	result := audit.VerifyChain(entries)
	assert.True(t, result.Valid)
	assert.Equal(t, 2, result.Entries)
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	now := time.Now().UTC()

	for i, action := range []string{domain.AuditActionIncidentCreate, domain.AuditActionStatusChange, domain.AuditActionNoteAdded} {
		e := newEntry(string(rune('a'+i)), "inc-1", action, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, audit.AppendChained(ctx, ledger, e))
	}

	entries, err := ledger.Query(ctx, audit.Filter{ResourceID: "inc-1"})
	require.NoError(t, err)

	t.Run("modified field", func(t *testing.T) {
		tampered := append([]domain.AuditEntry(nil), entries...)
		tampered[1].ActorName = "Mallory"

		result := audit.VerifyChain(tampered)
		assert.False(t, result.Valid)
		assert.Equal(t, "b", result.BrokenAt)
		assert.Equal(t, "hash mismatch", result.Reason)
	})

	t.Run("removed entry", func(t *testing.T) {
		tampered := []domain.AuditEntry{entries[0], entries[2]}

		result := audit.VerifyChain(tampered)
		assert.False(t, result.Valid)
		assert.Equal(t, "c", result.BrokenAt)
		assert.Equal(t, "prev_hash mismatch", result.Reason)
	})

	t.Run("empty chain", func(t *testing.T) {
		result := audit.VerifyChain(nil)
		assert.True(t, result.Valid)
		assert.Zero(t, result.Entries)
	})
}
