package repair

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fixflow-erp/fixflow/internal/shared"
)

// LedgerStore is the storage contract behind the activity ledger: apply the
// patch to the job and insert the activity as one all-or-nothing unit, with
// both timestamps assigned by the store inside that unit.
type LedgerStore interface {
	AppendAndMutate(ctx context.Context, jobID uuid.UUID, patch JobPatch, activity Activity) error
}

// Ledger appends an immutable note to a job whenever anything about the job
// changes. The note and the job mutation are never individually visible.
// Retries after an ambiguous outcome may double-append; callers deduplicate
// user intent (idempotency keys) rather than relying on this layer.
type Ledger struct {
	store LedgerStore
}

// NewLedger constructs the ledger.
func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{store: store}
}

// Append records the activity and applies the patch atomically. The store
// stamps last_activity_at and the activity created_at from the same
// transaction clock, so the job's denormalised timestamp always equals the
// newest ledger entry.
func (l *Ledger) Append(ctx context.Context, jobID uuid.UUID, patch JobPatch, text string, photos []string, actor shared.Actor) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: activity text required", shared.ErrValidation)
	}
	if patch == nil {
		patch = JobPatch{}
	}
	activity := Activity{
		ID:       uuid.New(),
		JobID:    jobID,
		Text:     text,
		UserID:   actor.ID,
		UserName: actor.DisplayName,
		Photos:   photos,
	}
	if err := l.store.AppendAndMutate(ctx, jobID, patch, activity); err != nil {
		return err
	}
	return nil
}
