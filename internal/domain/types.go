package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// Actor identifies the authenticated party requesting a lifecycle operation.
type Actor struct {
	ID   string
	Role ActorRole
}

// ActorRole enumerates the marketplace roles that may drive transitions.
type ActorRole string

const (
	// RoleBuyer marks the purchasing side of a negotiation or order.
	RoleBuyer ActorRole = "buyer"
	// RoleFarmer marks the selling side of a negotiation or order.
	RoleFarmer ActorRole = "farmer"
)

// Address is a point-in-time copy of a postal address embedded in snapshots.
type Address struct {
	Line1    string
	Line2    string
	Village  string
	District string
	State    string
	PinCode  string
}

// ItemSnapshot freezes a waste listing at negotiation or order time.
// Later edits to the live listing must never alter historical records,
// so the snapshot is a copy, not a reference.
type ItemSnapshot struct {
	ItemID      string
	Title       string
	WasteType   string
	Moisture    string
	Quantity    int64
	Unit        string
	ListedPrice int64
	Description string
	ImageURL    string
	FarmerName  string
	FarmerPhone string
	Address     Address
}

// NegotiationStatus describes the lifecycle states of a price offer.
type NegotiationStatus string

const (
	// NegotiationStatusPending indicates the farmer has not yet responded.
	NegotiationStatusPending NegotiationStatus = "pending"
	// NegotiationStatusAccepted indicates the farmer accepted the offer.
	NegotiationStatusAccepted NegotiationStatus = "accepted"
	// NegotiationStatusRejected indicates the farmer declined the offer.
	NegotiationStatusRejected NegotiationStatus = "rejected"
)

// Terminal reports whether the status admits no further transition.
func (s NegotiationStatus) Terminal() bool {
	return s == NegotiationStatusAccepted || s == NegotiationStatusRejected
}

// Negotiation is a buyer's price counter-offer on a listed item, awaiting
// the farmer's decision. Records are mutated at most once and never deleted.
type Negotiation struct {
	ID              string
	BuyerID         string
	BuyerName       string
	FarmerID        string
	NegotiatedPrice int64
	Note            string
	Item            ItemSnapshot
	Status          NegotiationStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderStatus describes the coarse order lifecycle. Delivery progress is
// tracked separately by the monotonic OutForDelivery/Delivered flags.
type OrderStatus string

const (
	// OrderStatusPending indicates the farmer has not yet confirmed.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates the farmer accepted the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusCancelled indicates the order was withdrawn before handover.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether the status admits no further transition.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled
}

// TransactionMode enumerates how an order is paid for.
type TransactionMode string

const (
	// TransactionModeCOD settles in cash on handover.
	TransactionModeCOD TransactionMode = "COD"
	// TransactionModeOnline settles through the payment gateway.
	TransactionModeOnline TransactionMode = "ONLINE"
	// TransactionModeWallet settles from the buyer's marketplace wallet.
	TransactionModeWallet TransactionMode = "WALLET"
)

// DeliveryMode enumerates who moves the goods.
type DeliveryMode string

const (
	// DeliveryModePickupByBuyer means the buyer collects from the farm.
	DeliveryModePickupByBuyer DeliveryMode = "PICKUPBYBUYER"
	// DeliveryModeDeliveryByFarmer means the farmer transports to the buyer.
	DeliveryModeDeliveryByFarmer DeliveryMode = "DELIVERYBYFARMER"
)

// OrderLineItem is one purchased listing within an order.
type OrderLineItem struct {
	Item      ItemSnapshot
	Quantity  int64
	UnitPrice int64
}

// Subtotal returns the line contribution to the order total.
func (l OrderLineItem) Subtotal() int64 {
	return l.UnitPrice * l.Quantity
}

// BuyerInfo freezes the buyer's contact details at checkout time.
type BuyerInfo struct {
	Name    string
	Mobile  string
	Address Address
}

// Order is a farmer-scoped batch of line items from one buyer's checkout,
// with its own delivery and payment lifecycle. Orders are never deleted.
type Order struct {
	ID              string
	BuyerID         string
	FarmerID        string
	Lines           []OrderLineItem
	TransactionMode TransactionMode
	DeliveryMode    DeliveryMode
	Status          OrderStatus
	HasPayment      bool
	OutForDelivery  bool
	Delivered       bool
	TotalAmount     int64
	BuyerInfo       BuyerInfo
	PaymentID       string
	CancelReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// InCustodyTransfer reports whether the goods have left the seller's custody.
// Cancellation is only legal while this is false.
func (o Order) InCustodyTransfer() bool {
	return o.OutForDelivery || o.Delivered
}

// NotificationCategory labels the entity family a notification describes.
type NotificationCategory string

const (
	// NotificationCategoryOrder marks order lifecycle notifications.
	NotificationCategoryOrder NotificationCategory = "order"
	// NotificationCategoryNegotiation marks negotiation lifecycle notifications.
	NotificationCategoryNegotiation NotificationCategory = "negotiation"
)

// Notification is the fire-and-forget event emitted after a committed
// transition. The recipient is always the counterparty, never the actor.
type Notification struct {
	RecipientID string
	Title       string
	Body        string
	Category    NotificationCategory
	EntityID    string
	Attributes  map[string]string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// HealthStatus grades a dependency probe outcome.
type HealthStatus string

const (
	// HealthStatusOK indicates the dependency responded within its budget.
	HealthStatusOK HealthStatus = "ok"
	// HealthStatusDegraded indicates the dependency responded with an error.
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusError indicates the dependency timed out or was cancelled.
	HealthStatusError HealthStatus = "error"
)

// SystemHealthCheck captures a single dependency probe result.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probes for the health endpoint.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}
