package obligation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payproof/internal/extraction"
)

// Status is the obligation lifecycle as seen by this system. Only
// awaiting_payment obligations are valid match candidates.
type Status string

const (
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusPaid            Status = "paid"
	StatusExpired         Status = "expired"
	StatusCancelled       Status = "cancelled"
)

// PendingObligation is a buyer's expected payment for a pooled order.
// Read-only to the verification core except for the paid-status CAS.
type PendingObligation struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	BuyerName string
	Amount    decimal.Decimal
	Currency  extraction.Currency
	Reference string
	Deadline  time.Time
	Status    Status
}

// Filter narrows ListAwaitingPayment. Zero-valued fields are ignored.
type Filter struct {
	Currency  extraction.Currency
	AmountMin decimal.Decimal
	AmountMax decimal.Decimal
	Reference string
	Limit     int
}
