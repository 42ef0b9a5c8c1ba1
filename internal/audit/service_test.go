package audit_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bissquit/incident-orchestrator/internal/audit"
	"github.com/bissquit/incident-orchestrator/internal/audit/memory"
	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedLedger(t *testing.T, n int) (*memory.Ledger, time.Time) {
	t.Helper()
	ledger := memory.NewLedger()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		e := newEntry(fmt.Sprintf("e-%d", i), fmt.Sprintf("inc-%d", i%2), domain.AuditActionNoteAdded, base.Add(time.Duration(i)*time.Minute))
		if i%3 == 0 {
			e.ActorName = "Bob Smith"
		}
		require.NoError(t, audit.AppendChained(context.Background(), ledger, e))
	}
	return ledger, base
}

func TestService_Query(t *testing.T) {
	ledger, base := seedLedger(t, 10)
	svc := audit.NewService(ledger, 0)
	ctx := context.Background()

	t.Run("append order", func(t *testing.T) {
		entries, err := svc.Query(ctx, audit.Filter{})
		require.NoError(t, err)
		require.Len(t, entries, 10)
		for i, e := range entries {
			assert.Equal(t, fmt.Sprintf("e-%d", i), e.ID)
		}
	})

	t.Run("actor substring is case-insensitive", func(t *testing.T) {
		entries, err := svc.Query(ctx, audit.Filter{ActorName: "smith"})
		require.NoError(t, err)
		assert.Len(t, entries, 4)
	})

	t.Run("time window", func(t *testing.T) {
		from := base.Add(2 * time.Minute)
		to := base.Add(4 * time.Minute)
		entries, err := svc.Query(ctx, audit.Filter{From: &from, To: &to})
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "e-2", entries[0].ID)
	})

	t.Run("limit and offset", func(t *testing.T) {
		entries, err := svc.Query(ctx, audit.Filter{ResourceID: "inc-0", Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "e-2", entries[0].ID)
		assert.Equal(t, "e-4", entries[1].ID)
	})

	t.Run("inverted window", func(t *testing.T) {
		from := base.Add(time.Hour)
		to := base
		_, err := svc.Query(ctx, audit.Filter{From: &from, To: &to})
		assert.ErrorIs(t, err, audit.ErrInvalidFilter)
	})
}

func TestService_Verify(t *testing.T) {
	ledger, _ := seedLedger(t, 6)
	svc := audit.NewService(ledger, 0)

	result, err := svc.Verify(context.Background(), domain.ResourceTypeIncident, "inc-1")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 3, result.Entries)

	_, err = svc.Verify(context.Background(), "", "inc-1")
	assert.ErrorIs(t, err, audit.ErrInvalidFilter)
}

type stalledLedger struct {
	audit.Ledger
}

func (stalledLedger) Query(ctx context.Context, _ audit.Filter) ([]domain.AuditEntry, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestService_StorageErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unavailable", func(t *testing.T) {
		svc := audit.NewService(unavailableLedger{}, 0)

		_, err := svc.Query(ctx, audit.Filter{})
		require.ErrorIs(t, err, audit.ErrStorage)
		var se *audit.StorageError
		require.ErrorAs(t, err, &se)
		assert.True(t, se.IsRetryable())

		_, err = svc.Verify(ctx, domain.ResourceTypeIncident, "inc-1")
		assert.ErrorIs(t, err, audit.ErrStorage)
	})

	t.Run("deadline", func(t *testing.T) {
		svc := audit.NewService(stalledLedger{}, 20*time.Millisecond)

		_, err := svc.Query(ctx, audit.Filter{})
		require.ErrorIs(t, err, audit.ErrStorage)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("bad filter is not a storage error", func(t *testing.T) {
		svc := audit.NewService(unavailableLedger{}, 0)

		_, err := svc.Query(ctx, audit.Filter{Offset: -1})
		require.ErrorIs(t, err, audit.ErrInvalidFilter)
		assert.False(t, errors.Is(err, audit.ErrStorage))
	})
}
