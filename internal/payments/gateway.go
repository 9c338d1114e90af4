package payments

import (
	"context"
	"time"

	"github.com/agriloop/api/internal/domain"
)

// Status enumerates the normalised payment states reported by the PSP.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
)

// OrderSessionRequest captures the payload required to open a hosted payment
// session for a confirmed ONLINE order.
type OrderSessionRequest struct {
	Order          domain.Order
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// Session is the PSP checkout session handed back to the client.
type Session struct {
	ID          string
	RedirectURL string
	IntentID    string
	ExpiresAt   time.Time
}

// PaymentDetails normalises PSP payment state for reconciliation.
type PaymentDetails struct {
	IntentID string
	OrderID  string
	Status   Status
	Amount   int64
	Currency string
}

// Gateway is the PSP contract the order surface depends on. Only hosted
// sessions and intent lookup are needed; settlement lands through the
// webhook or the reconciliation sweep.
type Gateway interface {
	CreateOrderSession(ctx context.Context, req OrderSessionRequest) (Session, error)
	LookupPayment(ctx context.Context, intentID string) (PaymentDetails, error)
}
