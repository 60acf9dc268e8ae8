package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/fixflow-erp/fixflow/internal/observability"
	"github.com/fixflow-erp/fixflow/internal/rbac"
	"github.com/fixflow-erp/fixflow/internal/shared"
)

// ObligationRecorder creates and settles the receivable records that
// document issuance triggers downstream.
type ObligationRecorder interface {
	Record(ctx context.Context, doc *Document) error
	Settle(ctx context.Context, docID uuid.UUID) error
	Void(ctx context.Context, docID uuid.UUID) error
}

// Coordinator enforces document uniqueness per job and drives the
// kind-dependent status progression. Uniqueness is not read-then-decide:
// the store's partial unique indexes make the duplicate check part of the
// insert itself.
type Coordinator struct {
	repo        Repository
	obligations ObligationRecorder
	policy      *rbac.Policy
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewCoordinator constructs the coordinator.
func NewCoordinator(repo Repository, obligations ObligationRecorder, policy *rbac.Policy, logger *slog.Logger, metrics *observability.Metrics) *Coordinator {
	return &Coordinator{
		repo:        repo,
		obligations: obligations,
		policy:      policy,
		logger:      logger,
		metrics:     metrics,
	}
}

// Issue creates a new DRAFT document. A conflicting active document on the
// same job surfaces as DuplicateActiveError carrying the existing document;
// the caller chooses to view it or cancel-and-replace.
func (c *Coordinator) Issue(ctx context.Context, req IssueDocumentRequest, actor shared.Actor) (*Document, error) {
	if !c.policy.Allow(rbac.ActionIssueDocument, actor) {
		return nil, fmt.Errorf("%w: issuing documents requires office role", shared.ErrUnauthorized)
	}
	kind := Kind(req.Kind)
	if !ValidKind(kind) {
		return nil, fmt.Errorf("%w: unknown document kind %q", shared.ErrValidation, req.Kind)
	}

	var jobID *uuid.UUID
	if req.JobID != "" {
		id, err := uuid.Parse(req.JobID)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed job_id", shared.ErrValidation)
		}
		jobID = &id
	}

	items, grandTotal := buildItems(req.Items)
	docNo, err := c.repo.GenerateDocNo(ctx, kind, nowFunc())
	if err != nil {
		return nil, err
	}

	doc := Document{
		ID:           uuid.New(),
		DocNo:        docNo,
		Kind:         kind,
		Status:       StatusDraft,
		JobID:        jobID,
		Items:        items,
		GrandTotal:   grandTotal,
		Notes:        req.Notes,
		IssuedByID:   actor.ID,
		IssuedByName: actor.DisplayName,
	}
	if err := c.repo.Create(ctx, doc); err != nil {
		var dup *DuplicateActiveError
		if errors.As(err, &dup) {
			c.metrics.ObserveIssuance(req.Kind, "duplicate")
		} else {
			c.metrics.ObserveIssuance(req.Kind, "error")
		}
		return nil, err
	}
	c.metrics.ObserveIssuance(req.Kind, "issued")
	c.logger.Info("document issued",
		slog.String("doc", doc.ID.String()),
		slog.String("doc_no", docNo),
		slog.String("kind", req.Kind))
	return c.repo.Get(ctx, doc.ID)
}

// CancelAndReplace cancels an active document with a recorded reason and
// clears any job back-reference pointing at it, as one atomic unit. The
// successor issuance is the caller's separate, subsequent request: its
// content is still being composed at confirmation time.
func (c *Coordinator) CancelAndReplace(ctx context.Context, docID uuid.UUID, req CancelReplaceRequest, actor shared.Actor) (*Document, error) {
	if !c.policy.Allow(rbac.ActionCancelReplace, actor) {
		return nil, fmt.Errorf("%w: cancelling documents requires office role", shared.ErrUnauthorized)
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, fmt.Errorf("%w: cancel reason required", shared.ErrValidation)
	}
	doc, err := c.repo.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if !canMove(doc.Kind, doc.Status, StatusCancelled) {
		return nil, fmt.Errorf("%w: %s %s is %s", shared.ErrInvalidTransition, doc.Kind, doc.DocNo, doc.Status)
	}

	reason := req.Reason
	err = c.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.UpdateStatus(ctx, docID, StatusCancelled, &reason); err != nil {
			return err
		}
		if doc.JobID != nil {
			note := JobActivityNote{
				Text:     fmt.Sprintf("%s %s cancelled: %s", doc.Kind, doc.DocNo, reason),
				UserID:   actor.ID,
				UserName: actor.DisplayName,
			}
			if err := repo.ClearJobBilling(ctx, *doc.JobID, docID, note); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := c.obligations.Void(ctx, docID); err != nil {
		c.logger.Warn("void obligation failed", slog.String("doc", docID.String()), slog.Any("error", err))
	}
	c.logger.Info("document cancelled", slog.String("doc", docID.String()), slog.String("reason", reason))
	return c.repo.Get(ctx, docID)
}

// SendForReview moves DRAFT to PENDING_REVIEW. A job-linked tax invoice is
// gated on no active delivery note remaining; a job-linked submission also
// flags the job's receivable state in the same transaction and records the
// obligation.
func (c *Coordinator) SendForReview(ctx context.Context, docID uuid.UUID, actor shared.Actor) (*Document, error) {
	if !c.policy.Allow(rbac.ActionSendReview, actor) {
		return nil, fmt.Errorf("%w: review submission requires office role", shared.ErrUnauthorized)
	}
	doc, err := c.repo.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if !canMove(doc.Kind, doc.Status, StatusPendingReview) {
		return nil, fmt.Errorf("%w: %s %s is %s", shared.ErrInvalidTransition, doc.Kind, doc.DocNo, doc.Status)
	}
	if doc.Kind == KindTaxInvoice && doc.JobID != nil {
		existing, err := c.repo.ActiveByJob(ctx, *doc.JobID, []Kind{KindDeliveryNote})
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
		if existing != nil && existing.ID != doc.ID {
			return nil, &DuplicateActiveError{Kind: doc.Kind, Existing: existing}
		}
	}

	err = c.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.UpdateStatus(ctx, docID, StatusPendingReview, nil); err != nil {
			return err
		}
		if doc.JobID != nil {
			note := JobActivityNote{
				Text:     fmt.Sprintf("%s %s sent for review", doc.Kind, doc.DocNo),
				UserID:   actor.ID,
				UserName: actor.DisplayName,
			}
			if err := repo.SetJobARStatus(ctx, *doc.JobID, "PENDING", note); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if doc.GrandTotal > 0 {
		if err := c.obligations.Record(ctx, doc); err != nil {
			c.logger.Warn("record obligation failed", slog.String("doc", docID.String()), slog.Any("error", err))
		}
	}
	return c.repo.Get(ctx, docID)
}

// MarkPaid finishes the document's life: PAID is terminal and locks edits.
// Final billing kinds stamp the job's sales-document back-reference in the
// same transaction.
func (c *Coordinator) MarkPaid(ctx context.Context, docID uuid.UUID, actor shared.Actor) (*Document, error) {
	if !c.policy.Allow(rbac.ActionMarkDocumentPaid, actor) {
		return nil, fmt.Errorf("%w: settling documents requires office role", shared.ErrUnauthorized)
	}
	doc, err := c.repo.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if !canMove(doc.Kind, doc.Status, StatusPaid) {
		return nil, fmt.Errorf("%w: %s %s is %s", shared.ErrInvalidTransition, doc.Kind, doc.DocNo, doc.Status)
	}

	err = c.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.UpdateStatus(ctx, docID, StatusPaid, nil); err != nil {
			return err
		}
		if doc.JobID != nil && FinalBilling(doc.Kind) {
			note := JobActivityNote{
				Text:     fmt.Sprintf("%s %s paid", doc.Kind, doc.DocNo),
				UserID:   actor.ID,
				UserName: actor.DisplayName,
			}
			if err := repo.StampJobBilling(ctx, *doc.JobID, docID, doc.DocNo, doc.Kind, note); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := c.obligations.Settle(ctx, docID); err != nil {
		c.logger.Warn("settle obligation failed", slog.String("doc", docID.String()), slog.Any("error", err))
	}
	return c.repo.Get(ctx, docID)
}

// Update edits an unlocked document's items and notes.
func (c *Coordinator) Update(ctx context.Context, docID uuid.UUID, req UpdateDocumentRequest, actor shared.Actor) (*Document, error) {
	if !c.policy.Allow(rbac.ActionEditDocument, actor) {
		return nil, fmt.Errorf("%w: editing documents requires office role", shared.ErrUnauthorized)
	}
	doc, err := c.repo.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.Locked() {
		return nil, fmt.Errorf("%w: %s %s is locked (%s)", shared.ErrValidation, doc.Kind, doc.DocNo, doc.Status)
	}
	items := doc.Items
	grandTotal := doc.GrandTotal
	if len(req.Items) > 0 {
		items, grandTotal = buildItems(req.Items)
	}
	if err := c.repo.UpdateContent(ctx, docID, items, grandTotal, req.Notes); err != nil {
		return nil, err
	}
	return c.repo.Get(ctx, docID)
}

// Get fetches one document.
func (c *Coordinator) Get(ctx context.Context, docID uuid.UUID) (*Document, error) {
	return c.repo.Get(ctx, docID)
}

// List returns documents matching the filter plus the total count.
func (c *Coordinator) List(ctx context.Context, req ListDocumentsRequest) ([]Document, int, error) {
	return c.repo.List(ctx, req)
}

// LinkSuccessor records that a newly issued document supersedes a cancelled
// one.
func (c *Coordinator) LinkSuccessor(ctx context.Context, successorID, cancelledID uuid.UUID) error {
	return c.repo.AppendReference(ctx, successorID, cancelledID)
}

func buildItems(reqs []IssueItemRequest) ([]Item, float64) {
	items := make([]Item, 0, len(reqs))
	var grandTotal float64
	for _, it := range reqs {
		lineTotal := it.Quantity * it.UnitPrice
		items = append(items, Item{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			LineTotal:   lineTotal,
		})
		grandTotal += lineTotal
	}
	return items, grandTotal
}
