// Package documents manages commercial documents (quotation, delivery note,
// tax invoice, receipt) and the issuance coordinator that keeps at most one
// active document of a kind per job.
package documents

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fixflow-erp/fixflow/internal/shared"
)

// nowFunc is swapped in tests.
var nowFunc = time.Now

// Kind enumerates document kinds.
type Kind string

const (
	KindQuotation    Kind = "QUOTATION"
	KindDeliveryNote Kind = "DELIVERY_NOTE"
	KindTaxInvoice   Kind = "TAX_INVOICE"
	KindReceipt      Kind = "RECEIPT"
)

// ValidKind reports whether k names a known kind.
func ValidKind(k Kind) bool {
	switch k {
	case KindQuotation, KindDeliveryNote, KindTaxInvoice, KindReceipt:
		return true
	}
	return false
}

// FinalBilling reports whether the kind is one of the mutually substitutable
// final billing artifacts for a job.
func FinalBilling(k Kind) bool {
	return k == KindDeliveryNote || k == KindTaxInvoice
}

// DocStatus enumerates document statuses. The exact subset depends on kind.
type DocStatus string

const (
	StatusDraft         DocStatus = "DRAFT"
	StatusPendingReview DocStatus = "PENDING_REVIEW"
	StatusPaid          DocStatus = "PAID"
	StatusCancelled     DocStatus = "CANCELLED"
)

// Item is one document line.
type Item struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	LineTotal   float64 `json:"line_total"`
}

// Document is one commercial document, optionally linked to a job. DocNo is
// assigned at creation and immutable; cancellation is terminal.
type Document struct {
	ID           uuid.UUID   `json:"id"`
	DocNo        string      `json:"doc_no"`
	Kind         Kind        `json:"kind"`
	Status       DocStatus   `json:"status"`
	JobID        *uuid.UUID  `json:"job_id,omitempty"`
	References   []uuid.UUID `json:"references_doc_ids,omitempty"`
	Items        []Item      `json:"items"`
	GrandTotal   float64     `json:"grand_total"`
	Notes        *string     `json:"notes,omitempty"`
	CancelReason *string     `json:"cancel_reason,omitempty"`
	IssuedByID   string      `json:"issued_by_id"`
	IssuedByName string      `json:"issued_by_name"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Locked reports whether the document refuses further edits. PAID is
// terminal; CANCELLED never un-cancels.
func (d *Document) Locked() bool {
	return d.Status == StatusPaid || d.Status == StatusCancelled
}

// canMove validates the kind-dependent status progression.
func canMove(kind Kind, from, to DocStatus) bool {
	if to == StatusCancelled {
		return from != StatusPaid && from != StatusCancelled
	}
	switch kind {
	case KindQuotation, KindTaxInvoice, KindDeliveryNote:
		return (from == StatusDraft && to == StatusPendingReview) ||
			(from == StatusPendingReview && to == StatusPaid)
	case KindReceipt:
		return from == StatusDraft && to == StatusPaid
	}
	return false
}

// DuplicateActiveError rejects an issuance that would leave a job with two
// live documents of the same kind group. The caller decides whether to view
// the existing document or explicitly cancel-and-replace it.
type DuplicateActiveError struct {
	Kind     Kind
	Existing *Document
}

func (e *DuplicateActiveError) Error() string {
	if e.Existing != nil {
		return fmt.Sprintf("job already has active %s %s", e.Existing.Kind, e.Existing.DocNo)
	}
	return fmt.Sprintf("job already has an active %s", e.Kind)
}

func (e *DuplicateActiveError) Unwrap() error { return shared.ErrDuplicateActive }
