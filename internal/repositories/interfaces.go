package repositories

import (
	"context"
	"time"

	"github.com/agriloop/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Negotiations() NegotiationRepository
	Orders() OrderRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NegotiationRepository persists price offers. Records are insert-once,
// update-at-most-once, never deleted.
type NegotiationRepository interface {
	Insert(ctx context.Context, negotiation domain.Negotiation) (domain.Negotiation, error)
	// UpdateGuarded writes the negotiation only if the stored document's last
	// update time still equals expectedUpdate; a lost race surfaces as a
	// RepositoryError with IsConflict. The returned record carries the new
	// update time.
	UpdateGuarded(ctx context.Context, negotiation domain.Negotiation, expectedUpdate time.Time) (domain.Negotiation, error)
	FindByID(ctx context.Context, negotiationID string) (domain.Negotiation, error)
	List(ctx context.Context, filter NegotiationListFilter) (domain.CursorPage[domain.Negotiation], error)
}

// OrderRepository persists orders and provides the buyer/farmer query surface.
type OrderRepository interface {
	// InsertBatch persists every order in one atomic write: all documents
	// become visible together or none do.
	InsertBatch(ctx context.Context, orders []domain.Order) ([]domain.Order, error)
	// UpdateGuarded is the compare-and-swap write every mutation goes
	// through; semantics match NegotiationRepository.UpdateGuarded.
	UpdateGuarded(ctx context.Context, order domain.Order, expectedUpdate time.Time) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListUnpaidOnline(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

// NegotiationListFilter selects negotiations by party. Exactly one of BuyerID
// or FarmerID is expected; results are ordered by creation time descending.
type NegotiationListFilter struct {
	BuyerID    string
	FarmerID   string
	Status     []domain.NegotiationStatus
	Pagination domain.Pagination
}

// OrderListFilter selects orders by party, ordered by creation time descending.
type OrderListFilter struct {
	BuyerID    string
	FarmerID   string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}
