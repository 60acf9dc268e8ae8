package ar

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fixflow-erp/fixflow/internal/documents"
	"github.com/fixflow-erp/fixflow/internal/shared"
)

// Service implements the obligation recorder consumed by the documents
// coordinator.
type Service struct {
	repo   *Repository
	logger *slog.Logger
}

// NewService constructs the service.
func NewService(repo *Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Record creates (or refreshes) the open obligation for a document.
func (s *Service) Record(ctx context.Context, doc *documents.Document) error {
	if doc == nil || doc.GrandTotal <= 0 {
		return nil
	}
	o := Obligation{
		ID:     uuid.New(),
		DocID:  doc.ID,
		DocNo:  doc.DocNo,
		JobID:  doc.JobID,
		Amount: doc.GrandTotal,
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return err
	}
	s.logger.Info("obligation recorded", slog.String("doc_no", doc.DocNo), slog.Float64("amount", doc.GrandTotal))
	return nil
}

// Settle marks the document's obligation settled. Missing obligations are
// not an error: zero-balance documents never record one.
func (s *Service) Settle(ctx context.Context, docID uuid.UUID) error {
	err := s.repo.SetStatus(ctx, docID, ObligationSettled)
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	return err
}

// Void cancels the document's obligation.
func (s *Service) Void(ctx context.Context, docID uuid.UUID) error {
	err := s.repo.SetStatus(ctx, docID, ObligationVoid)
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	return err
}

// Open lists open obligations for the downstream billing consumer.
func (s *Service) Open(ctx context.Context, limit int) ([]Obligation, error) {
	return s.repo.ListOpen(ctx, limit)
}
