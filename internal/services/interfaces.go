package services

import (
	"context"
	"time"

	"github.com/agriloop/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination      = domain.Pagination
	Actor           = domain.Actor
	ActorRole       = domain.ActorRole
	Address         = domain.Address
	ItemSnapshot    = domain.ItemSnapshot
	Negotiation     = domain.Negotiation
	Order           = domain.Order
	OrderLineItem   = domain.OrderLineItem
	OrderStatus     = domain.OrderStatus
	BuyerInfo       = domain.BuyerInfo
	TransactionMode = domain.TransactionMode
	DeliveryMode    = domain.DeliveryMode
	Notification    = domain.Notification
)

// ProposeNegotiationCommand carries a buyer's price offer on a listed item.
type ProposeNegotiationCommand struct {
	BuyerID         string
	BuyerName       string
	FarmerID        string
	NegotiatedPrice int64
	Note            string
	Item            ItemSnapshot
}

// RespondNegotiationCommand carries the farmer's accept/reject answer.
type RespondNegotiationCommand struct {
	NegotiationID string
	Actor         Actor
	Decision      NegotiationDecision
}

// NegotiationService owns the negotiation side of the lifecycle engine.
type NegotiationService interface {
	Propose(ctx context.Context, cmd ProposeNegotiationCommand) (Negotiation, error)
	Respond(ctx context.Context, cmd RespondNegotiationCommand) (Negotiation, error)
	ListByBuyer(ctx context.Context, buyerID string, page Pagination) (domain.CursorPage[Negotiation], error)
	ListByFarmer(ctx context.Context, farmerID string, page Pagination) (domain.CursorPage[Negotiation], error)
	Get(ctx context.Context, negotiationID string, actor Actor) (Negotiation, error)
}

// CheckoutLine is one cart entry submitted at checkout before farmer grouping.
type CheckoutLine struct {
	FarmerID  string
	Item      ItemSnapshot
	Quantity  int64
	UnitPrice int64
}

// PlaceOrdersCommand is the atomic checkout request: its lines are grouped by
// farmer and persisted as one all-or-nothing batch of orders.
type PlaceOrdersCommand struct {
	BuyerID         string
	Lines           []CheckoutLine
	TransactionMode TransactionMode
	DeliveryMode    DeliveryMode
	BuyerInfo       BuyerInfo
}

// OrderTransitionCommand requests one guarded state change on one order.
type OrderTransitionCommand struct {
	OrderID    string
	Transition OrderTransition
	Actor      Actor
	// Reason is stored on cancellation only.
	Reason string
	// PaymentRef is stored on recordPayment only.
	PaymentRef string
}

// OrderService owns order creation and the order side of the lifecycle engine.
type OrderService interface {
	PlaceOrders(ctx context.Context, cmd PlaceOrdersCommand) ([]Order, error)
	Transition(ctx context.Context, cmd OrderTransitionCommand) (Order, error)
	ListByBuyer(ctx context.Context, buyerID string, page Pagination) (domain.CursorPage[Order], error)
	ListByFarmer(ctx context.Context, farmerID string, page Pagination) (domain.CursorPage[Order], error)
	Get(ctx context.Context, orderID string, actor Actor) (Order, error)
	// AttachPaymentRef stores the PSP intent reference on a confirmed unpaid
	// non-COD order so reconciliation can find the payment later. It does not
	// mark the order paid.
	AttachPaymentRef(ctx context.Context, orderID string, actor Actor, paymentRef string) (Order, error)
	// SettlePayment records a settlement reported by the PSP on the buyer's
	// behalf; used by the webhook and the reconciliation sweep.
	SettlePayment(ctx context.Context, orderID, paymentRef string) (Order, error)
	// ListUnpaidOnline returns confirmed ONLINE orders without a recorded
	// payment created before the cutoff, for the reconciliation sweep.
	ListUnpaidOnline(ctx context.Context, cutoff time.Time) ([]Order, error)
}

// NotificationDispatcher is the post-commit side channel. Failures are logged
// by the caller and never affect the committed transition.
type NotificationDispatcher interface {
	Send(ctx context.Context, note Notification) error
}

// SystemHealthReport aliases the domain health report for handler consumption.
type SystemHealthReport = domain.SystemHealthReport

// SystemService exposes operational health of the service's dependencies.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
}
