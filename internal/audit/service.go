package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/incident-orchestrator/internal/domain"
)

// Query limits.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Service is the read model over the ledger used by compliance review.
type Service struct {
	ledger  Ledger
	timeout time.Duration
}

// NewService creates a new audit service. timeout bounds every ledger read;
// zero disables it.
func NewService(ledger Ledger, timeout time.Duration) *Service {
	return &Service{ledger: ledger, timeout: timeout}
}

// Query returns entries matching the filter in append order.
func (s *Service) Query(ctx context.Context, filter Filter) ([]domain.AuditEntry, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, fmt.Errorf("%w: 'to' is before 'from'", ErrInvalidFilter)
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultQueryLimit
	}
	if filter.Limit > MaxQueryLimit {
		filter.Limit = MaxQueryLimit
	}
	if filter.Offset < 0 {
		return nil, fmt.Errorf("%w: offset must be non-negative", ErrInvalidFilter)
	}

	entries, err := s.query(ctx, filter)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Verify recomputes the hash chain of a single resource.
func (s *Service) Verify(ctx context.Context, resourceType, resourceID string) (VerifyResult, error) {
	if resourceType == "" || resourceID == "" {
		return VerifyResult{}, fmt.Errorf("%w: resource_type and resource_id are required", ErrInvalidFilter)
	}

	entries, err := s.query(ctx, Filter{ResourceType: resourceType, ResourceID: resourceID})
	if err != nil {
		return VerifyResult{}, err
	}
	return VerifyChain(entries), nil
}

func (s *Service) query(ctx context.Context, filter Filter) ([]domain.AuditEntry, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	entries, err := s.ledger.Query(ctx, filter)
	if err != nil {
		return nil, &StorageError{Op: "query ledger", Err: err}
	}
	return entries, nil
}
