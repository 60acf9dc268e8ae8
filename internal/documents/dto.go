package documents

// IssueItemRequest is one line of a new document.
type IssueItemRequest struct {
	Description string  `json:"description" validate:"required,max=500"`
	Quantity    float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice   float64 `json:"unit_price" validate:"gte=0"`
}

// IssueDocumentRequest creates a new document.
type IssueDocumentRequest struct {
	Kind  string             `json:"kind" validate:"required"`
	JobID string             `json:"job_id,omitempty" validate:"omitempty,uuid"`
	Notes *string            `json:"notes,omitempty"`
	Items []IssueItemRequest `json:"items" validate:"required,min=1,dive"`
}

// CancelReplaceRequest cancels an active document so a successor can be
// issued. The reason is recorded on the cancelled document.
type CancelReplaceRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// UpdateDocumentRequest edits a draft or in-review document.
type UpdateDocumentRequest struct {
	Notes *string            `json:"notes,omitempty"`
	Items []IssueItemRequest `json:"items,omitempty" validate:"omitempty,min=1,dive"`
}

// ListDocumentsRequest narrows document listings.
type ListDocumentsRequest struct {
	Kind   string `json:"kind,omitempty"`
	Status string `json:"status,omitempty"`
	JobID  string `json:"job_id,omitempty" validate:"omitempty,uuid"`
	Limit  int    `json:"limit" validate:"gte=0,lte=200"`
	Offset int    `json:"offset" validate:"gte=0"`
}
