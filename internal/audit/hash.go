package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/bissquit/incident-orchestrator/internal/domain"
)

// hashPayload is exactly what gets hashed. It holds no maps, so the JSON
// encoding is deterministic.
type hashPayload struct {
	ID            string               `json:"id"`
	ActorID       string               `json:"actor_id"`
	ActorName     string               `json:"actor_name"`
	ActorRole     domain.Role          `json:"actor_role"`
	Action        string               `json:"action"`
	ResourceType  string               `json:"resource_type"`
	ResourceID    string               `json:"resource_id"`
	ResourceLabel string               `json:"resource_label"`
	Changes       []domain.FieldChange `json:"changes,omitempty"`
	Details       string               `json:"details,omitempty"`
	IPAddress     string               `json:"ip_address"`
	AtUnixNano    int64                `json:"at_unix_nano"`
	Result        domain.AuditResult   `json:"result"`
	PrevHash      string               `json:"prev_hash"`
}

// ComputeHash returns the hex sha256 of the entry's canonical form.
// The Hash field itself is excluded.
func ComputeHash(e *domain.AuditEntry) (string, error) {
	p := hashPayload{
		ID:            e.ID,
		ActorID:       e.ActorID,
		ActorName:     e.ActorName,
		ActorRole:     e.ActorRole,
		Action:        e.Action,
		ResourceType:  e.ResourceType,
		ResourceID:    e.ResourceID,
		ResourceLabel: e.ResourceLabel,
		Changes:       e.Changes,
		Details:       e.Details,
		IPAddress:     e.IPAddress,
		AtUnixNano:    e.Timestamp.UnixNano(),
		Result:        e.Result,
		PrevHash:      e.PrevHash,
	}

	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal hash payload: %w", err)
	}

	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// AppendChained links the entry to the previous entry of the same resource,
// seals it and appends it to the ledger. Callers must serialize appends per
// resource; the orchestrator does so with its per-incident lock.
func AppendChained(ctx context.Context, ledger Ledger, e *domain.AuditEntry) error {
	prev, err := ledger.Last(ctx, e.ResourceType, e.ResourceID)
	if err != nil {
		return fmt.Errorf("read chain tail: %w", err)
	}
	e.PrevHash = ""
	if prev != nil {
		e.PrevHash = prev.Hash
	}

	hash, err := ComputeHash(e)
	if err != nil {
		return err
	}
	e.Hash = hash

	return ledger.Append(ctx, e)
}

// VerifyResult reports the outcome of a chain verification.
type VerifyResult struct {
	Valid    bool   `json:"valid"`
	Entries  int    `json:"entries"`
	BrokenAt string `json:"broken_at,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// VerifyChain recomputes hashes over entries of one resource in append order.
func VerifyChain(entries []domain.AuditEntry) VerifyResult {
	prevHash := ""
	for i := range entries {
		e := &entries[i]
		if e.PrevHash != prevHash {
			return VerifyResult{Entries: len(entries), BrokenAt: e.ID, Reason: "prev_hash mismatch"}
		}
		want, err := ComputeHash(e)
		if err != nil || want != e.Hash {
			return VerifyResult{Entries: len(entries), BrokenAt: e.ID, Reason: "hash mismatch"}
		}
		prevHash = e.Hash
	}
	return VerifyResult{Valid: true, Entries: len(entries)}
}
