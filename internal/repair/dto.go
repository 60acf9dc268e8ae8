package repair

import "github.com/fixflow-erp/fixflow/internal/shared"

// CreateJobRequest opens a new repair order. The customer fields are
// snapshotted onto the job.
type CreateJobRequest struct {
	CustomerName  string            `json:"customer_name" validate:"required,max=200"`
	CustomerPhone string            `json:"customer_phone" validate:"required,max=50"`
	Description   string            `json:"description" validate:"max=2000"`
	Department    shared.Department `json:"department" validate:"required"`
}

// TransitionRequest fires one explicit trigger.
type TransitionRequest struct {
	Trigger       string `json:"trigger" validate:"required"`
	WithCost      bool   `json:"with_cost"`
	Reason        string `json:"reason,omitempty"`
	NewDepartment string `json:"new_department,omitempty"`
	WorkerID      string `json:"worker_id,omitempty"`
}

// AppendNoteRequest appends one field note, optionally with photo URLs
// already resolved by the upload boundary.
type AppendNoteRequest struct {
	Text   string   `json:"text" validate:"required,max=4000"`
	Photos []string `json:"photos,omitempty" validate:"dive,url"`
}

// CloseJobRequest closes a job against the document that billed it.
type CloseJobRequest struct {
	SalesDocID   string `json:"sales_doc_id" validate:"required,uuid"`
	SalesDocNo   string `json:"sales_doc_no" validate:"required"`
	SalesDocType string `json:"sales_doc_type" validate:"required"`
}

// ListJobsRequest narrows and pages the job listing.
type ListJobsRequest struct {
	Status     string `json:"status,omitempty"`
	Department string `json:"department,omitempty"`
	AssigneeID string `json:"assignee_id,omitempty"`
	Search     string `json:"q,omitempty"`
	Limit      int    `json:"limit" validate:"gte=0,lte=100"`
	Cursor     string `json:"cursor,omitempty"`
}

// JobPage is one forward-only page of jobs.
type JobPage struct {
	Jobs       []Job  `json:"jobs"`
	NextCursor string `json:"next_cursor,omitempty"`
	IsLast     bool   `json:"is_last"`
}
