// Package repair tracks repair jobs from intake to close: the lifecycle
// state machine, the append-only activity ledger, the year-partitioned
// archive routing and the cursor-based job listing.
package repair

import (
	"time"

	"github.com/google/uuid"

	"github.com/fixflow-erp/fixflow/internal/shared"
)

// nowFunc is swapped in tests.
var nowFunc = time.Now

// Status enumerates job lifecycle states.
type Status string

const (
	StatusReceived         Status = "RECEIVED"
	StatusInProgress       Status = "IN_PROGRESS"
	StatusWaitingQuotation Status = "WAITING_QUOTATION"
	StatusWaitingApprove   Status = "WAITING_APPROVE"
	StatusPendingParts     Status = "PENDING_PARTS"
	StatusInRepairProcess  Status = "IN_REPAIR_PROCESS"
	StatusDone             Status = "DONE"
	StatusWaitingPickup    Status = "WAITING_CUSTOMER_PICKUP"
	StatusClosed           Status = "CLOSED"
)

// ARStatus tracks the billing state stamped onto a job by the documents module.
type ARStatus string

const (
	ARStatusNone    ARStatus = ""
	ARStatusPending ARStatus = "PENDING"
	ARStatusPaid    ARStatus = "PAID"
)

// Job is one repair work order. The customer fields are a snapshot taken at
// creation time and never auto-refreshed.
type Job struct {
	ID             uuid.UUID
	Status         Status
	Department     shared.Department
	AssigneeID     *string
	AssigneeName   *string
	CustomerName   string
	CustomerPhone  string
	Description    string
	LastActivityAt time.Time
	PickupDate     *time.Time
	ClosedDate     *time.Time
	IsArchived     bool
	ARStatus       ARStatus
	SalesDocID     *uuid.UUID
	SalesDocNo     *string
	SalesDocType   *string
	CreatedAt      time.Time
}

// Terminal reports whether the job accepts no outward transitions except
// REVERT_CLOSE.
func (j *Job) Terminal() bool {
	return j.Status == StatusClosed
}

// Activity is one immutable, timestamped note attached to a job. Created in
// the same transaction as the job mutation it describes; never updated or
// deleted.
type Activity struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	Text      string
	UserID    string
	UserName  string
	Photos    []string
	CreatedAt time.Time
}

// JobPatch is a partial update applied to a job. Keys are column names; a
// nil value clears the field. The ledger stamps last_activity_at on every
// patch it applies.
type JobPatch map[string]any

// Worker is the profile-boundary view of a workshop worker, used to guard
// reassignment.
type Worker struct {
	ID         string
	Name       string
	Department shared.Department
	Active     bool
}
