// Package ar records accounting obligations (receivables) created as a side
// effect of document issuance. The billing system downstream consumes them;
// this core only creates, settles and voids.
package ar

import (
	"time"

	"github.com/google/uuid"
)

// ObligationStatus enumerates obligation states.
type ObligationStatus string

const (
	ObligationOpen    ObligationStatus = "OPEN"
	ObligationSettled ObligationStatus = "SETTLED"
	ObligationVoid    ObligationStatus = "VOID"
)

// Obligation is one receivable row keyed by the document that produced it.
type Obligation struct {
	ID           uuid.UUID
	DocID        uuid.UUID
	DocNo        string
	JobID        *uuid.UUID
	CustomerName string
	Amount       float64
	Balance      float64
	Status       ObligationStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
