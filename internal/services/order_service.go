package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agriloop/api/internal/domain"
	"github.com/agriloop/api/internal/platform/textutil"
	"github.com/agriloop/api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	cancelReasonMaxLen = 300

	orderEventPlaced       = "order.placed"
	orderEventTransitioned = "order.transitioned"
	orderEventDenied       = "order.transition.denied"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrBatchFailed indicates the atomic checkout batch did not commit;
	// no partial orders exist.
	ErrBatchFailed = errors.New("order: checkout batch failed")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders             repositories.OrderRepository
	Clock              func() time.Time
	IDGenerator        func() string
	Notifier           NotificationDispatcher
	Logger             func(ctx context.Context, event string, fields map[string]any)
	RetryAttempts      int
	ReconcileBatchSize int
}

type orderService struct {
	orders        repositories.OrderRepository
	clock         func() time.Time
	newID         func() string
	notifier      NotificationDispatcher
	logger        func(context.Context, string, map[string]any)
	attempts      int
	reconcileSize int
	notifyWG      sync.WaitGroup
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	attempts := deps.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}

	reconcileSize := deps.ReconcileBatchSize
	if reconcileSize <= 0 {
		reconcileSize = 50
	}

	return &orderService{
		orders: deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:         idGen,
		notifier:      deps.Notifier,
		logger:        logger,
		attempts:      attempts,
		reconcileSize: reconcileSize,
	}, nil
}

func (s *orderService) PlaceOrders(ctx context.Context, cmd PlaceOrdersCommand) ([]Order, error) {
	if err := validatePlaceOrders(cmd); err != nil {
		return nil, err
	}

	now := s.clock()
	orders := s.groupLinesByFarmer(cmd, now)

	saved, err := s.orders.InsertBatch(ctx, orders)
	if err != nil {
		mapped := s.mapRepositoryError(err)
		if errors.Is(mapped, ErrStoreUnavailable) {
			return nil, mapped
		}
		return nil, fmt.Errorf("%w: %v", ErrBatchFailed, err)
	}

	s.logger(ctx, orderEventPlaced, map[string]any{
		"buyerId": cmd.BuyerID,
		"orders":  len(saved),
	})

	for _, order := range saved {
		s.notify(ctx, domain.Notification{
			RecipientID: order.FarmerID,
			Title:       "New order received",
			Body:        fmt.Sprintf("%s placed an order worth %d", displayName(order.BuyerInfo.Name), order.TotalAmount),
			Category:    domain.NotificationCategoryOrder,
			EntityID:    order.ID,
			Attributes: map[string]string{
				"status":          string(order.Status),
				"transactionMode": string(order.TransactionMode),
				"deliveryMode":    string(order.DeliveryMode),
			},
		})
	}

	return saved, nil
}

// groupLinesByFarmer partitions checkout lines into one order per farmer,
// preserving the submission order of both farmers and lines.
func (s *orderService) groupLinesByFarmer(cmd PlaceOrdersCommand, now time.Time) []Order {
	farmerOrder := make([]string, 0, len(cmd.Lines))
	grouped := make(map[string][]domain.OrderLineItem, len(cmd.Lines))
	for _, line := range cmd.Lines {
		if _, seen := grouped[line.FarmerID]; !seen {
			farmerOrder = append(farmerOrder, line.FarmerID)
		}
		grouped[line.FarmerID] = append(grouped[line.FarmerID], domain.OrderLineItem{
			Item:      line.Item,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	orders := make([]Order, 0, len(farmerOrder))
	for _, farmerID := range farmerOrder {
		lines := grouped[farmerID]
		var total int64
		for _, line := range lines {
			total += line.Subtotal()
		}
		orders = append(orders, Order{
			ID:              orderIDPrefix + s.newID(),
			BuyerID:         cmd.BuyerID,
			FarmerID:        farmerID,
			Lines:           lines,
			TransactionMode: cmd.TransactionMode,
			DeliveryMode:    cmd.DeliveryMode,
			Status:          domain.OrderStatusPending,
			TotalAmount:     total,
			BuyerInfo:       cmd.BuyerInfo,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}
	return orders
}

func validatePlaceOrders(cmd PlaceOrdersCommand) error {
	if strings.TrimSpace(cmd.BuyerID) == "" {
		return fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return fmt.Errorf("%w: at least one line is required", ErrOrderInvalidInput)
	}
	switch cmd.TransactionMode {
	case domain.TransactionModeCOD, domain.TransactionModeOnline, domain.TransactionModeWallet:
	default:
		return fmt.Errorf("%w: unknown transaction mode %q", ErrOrderInvalidInput, cmd.TransactionMode)
	}
	switch cmd.DeliveryMode {
	case domain.DeliveryModePickupByBuyer, domain.DeliveryModeDeliveryByFarmer:
	default:
		return fmt.Errorf("%w: unknown delivery mode %q", ErrOrderInvalidInput, cmd.DeliveryMode)
	}
	for i, line := range cmd.Lines {
		if strings.TrimSpace(line.FarmerID) == "" {
			return fmt.Errorf("%w: line %d missing farmer id", ErrOrderInvalidInput, i)
		}
		if line.FarmerID == cmd.BuyerID {
			return fmt.Errorf("%w: line %d buyer cannot order own listing", ErrOrderInvalidInput, i)
		}
		if strings.TrimSpace(line.Item.ItemID) == "" {
			return fmt.Errorf("%w: line %d missing item snapshot", ErrOrderInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: line %d quantity must be positive", ErrOrderInvalidInput, i)
		}
		if line.UnitPrice <= 0 {
			return fmt.Errorf("%w: line %d unit price must be positive", ErrOrderInvalidInput, i)
		}
	}
	return nil
}

func (s *orderService) Transition(ctx context.Context, cmd OrderTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	// Guarded-write loop. Each attempt re-reads the order, runs the guard
	// table against the fresh state, then writes with the observed update
	// time as precondition. A guard denial on the fresh read (terminal
	// state, replay) is final and never retried; only physical write races
	// consume the retry budget.
	for attempt := 0; attempt < s.attempts; attempt++ {
		current, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			mapped := s.mapRepositoryError(err)
			if errors.Is(mapped, ErrOrderNotFound) {
				s.logger(ctx, orderEventDenied, map[string]any{
					"orderId":    orderID,
					"transition": string(cmd.Transition),
					"actorId":    cmd.Actor.ID,
					"reason":     mapped.Error(),
				})
			}
			return Order{}, mapped
		}

		next, err := NextOrder(current, cmd.Transition, cmd.Actor, s.clock())
		if err != nil {
			// Every denial is audit-logged with the entity, transition
			// and actor before it surfaces.
			s.logger(ctx, orderEventDenied, map[string]any{
				"orderId":    current.ID,
				"transition": string(cmd.Transition),
				"actorId":    cmd.Actor.ID,
				"reason":     err.Error(),
			})
			return Order{}, err
		}

		switch cmd.Transition {
		case OrderTransitionCancel:
			next.CancelReason = textutil.SanitizeFreeText(cmd.Reason, cancelReasonMaxLen)
		case OrderTransitionRecordPayment:
			next.PaymentID = strings.TrimSpace(cmd.PaymentRef)
		}

		saved, err := s.orders.UpdateGuarded(ctx, next, current.UpdatedAt)
		if err == nil {
			s.logger(ctx, orderEventTransitioned, map[string]any{
				"orderId":    saved.ID,
				"transition": string(cmd.Transition),
				"actorId":    cmd.Actor.ID,
				"status":     string(saved.Status),
			})
			s.notifyCounterparty(ctx, saved, cmd)
			return saved, nil
		}

		if isRepositoryConflict(err) {
			continue
		}
		return Order{}, s.mapRepositoryError(err)
	}

	return Order{}, ErrTransitionConflict
}

// notifyCounterparty pushes the post-commit notification to whichever party
// did not request the transition.
func (s *orderService) notifyCounterparty(ctx context.Context, order Order, cmd OrderTransitionCommand) {
	recipient := order.BuyerID
	if cmd.Actor.ID == order.BuyerID {
		recipient = order.FarmerID
	}

	title, body := transitionMessage(order, cmd.Transition)
	s.notify(ctx, domain.Notification{
		RecipientID: recipient,
		Title:       title,
		Body:        body,
		Category:    domain.NotificationCategoryOrder,
		EntityID:    order.ID,
		Attributes: map[string]string{
			"transition": string(cmd.Transition),
			"status":     string(order.Status),
		},
	})
}

func transitionMessage(order Order, transition OrderTransition) (string, string) {
	switch transition {
	case OrderTransitionConfirm:
		return "Order confirmed", fmt.Sprintf("Order %s was confirmed by the farmer", order.ID)
	case OrderTransitionCancel:
		body := fmt.Sprintf("Order %s was cancelled", order.ID)
		if order.CancelReason != "" {
			body = fmt.Sprintf("%s: %s", body, order.CancelReason)
		}
		return "Order cancelled", body
	case OrderTransitionMarkOutForDelivery:
		return "Order out for delivery", fmt.Sprintf("Order %s is on its way", order.ID)
	case OrderTransitionMarkOutForPickup:
		return "Buyer out for pickup", fmt.Sprintf("The buyer is coming to collect order %s", order.ID)
	case OrderTransitionConfirmDelivered:
		return "Order delivered", fmt.Sprintf("Order %s was delivered", order.ID)
	case OrderTransitionConfirmPickup:
		return "Order picked up", fmt.Sprintf("Order %s was collected", order.ID)
	case OrderTransitionRecordPayment:
		return "Payment received", fmt.Sprintf("Payment for order %s was recorded", order.ID)
	default:
		return "Order updated", fmt.Sprintf("Order %s was updated", order.ID)
	}
}

func (s *orderService) ListByBuyer(ctx context.Context, buyerID string, page Pagination) (domain.CursorPage[Order], error) {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}
	result, err := s.orders.List(ctx, repositories.OrderListFilter{
		BuyerID:    buyerID,
		Pagination: page,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return result, nil
}

func (s *orderService) ListByFarmer(ctx context.Context, farmerID string, page Pagination) (domain.CursorPage[Order], error) {
	farmerID = strings.TrimSpace(farmerID)
	if farmerID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: farmer id is required", ErrOrderInvalidInput)
	}
	result, err := s.orders.List(ctx, repositories.OrderListFilter{
		FarmerID:   farmerID,
		Pagination: page,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return result, nil
}

func (s *orderService) Get(ctx context.Context, orderID string, actor Actor) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if actor.ID != order.BuyerID && actor.ID != order.FarmerID {
		return Order{}, ErrWrongActor
	}

	return order, nil
}

// AttachPaymentRef stores the PSP intent reference through the same guarded
// write as every other mutation. Eligibility mirrors recordPayment, but the
// paid flag stays untouched.
func (s *orderService) AttachPaymentRef(ctx context.Context, orderID string, actor Actor, paymentRef string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return Order{}, fmt.Errorf("%w: payment ref is required", ErrOrderInvalidInput)
	}

	for attempt := 0; attempt < s.attempts; attempt++ {
		current, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}

		if current.Status.Terminal() {
			return Order{}, ErrTerminalState
		}
		if actor.Role != domain.RoleBuyer || actor.ID != current.BuyerID {
			return Order{}, ErrWrongActor
		}
		if current.Status != domain.OrderStatusConfirmed || current.HasPayment || current.TransactionMode == domain.TransactionModeCOD {
			return Order{}, ErrPreconditionFailed
		}

		next := current
		next.Lines = append([]domain.OrderLineItem(nil), current.Lines...)
		next.PaymentID = paymentRef
		next.UpdatedAt = s.clock()

		saved, err := s.orders.UpdateGuarded(ctx, next, current.UpdatedAt)
		if err == nil {
			return saved, nil
		}
		if isRepositoryConflict(err) {
			continue
		}
		return Order{}, s.mapRepositoryError(err)
	}

	return Order{}, ErrTransitionConflict
}

// SettlePayment applies recordPayment on the buyer's behalf after the PSP
// confirms settlement.
func (s *orderService) SettlePayment(ctx context.Context, orderID, paymentRef string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	return s.Transition(ctx, OrderTransitionCommand{
		OrderID:    orderID,
		Transition: OrderTransitionRecordPayment,
		Actor:      Actor{ID: order.BuyerID, Role: domain.RoleBuyer},
		PaymentRef: paymentRef,
	})
}

func (s *orderService) ListUnpaidOnline(ctx context.Context, cutoff time.Time) ([]Order, error) {
	orders, err := s.orders.ListUnpaidOnline(ctx, cutoff.UTC(), s.reconcileSize)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

// notify dispatches off the request path: the transition has already
// committed, so a slow broker must not delay the caller's response. The
// send context is detached from request cancellation and bounded on its own.
func (s *orderService) notify(ctx context.Context, note domain.Notification) {
	if s.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.notifyWG.Add(1)
	go func() {
		defer s.notifyWG.Done()
		sendCtx, cancel := context.WithTimeout(ctx, notifySendTimeout)
		defer cancel()
		if err := s.notifier.Send(sendCtx, note); err != nil {
			s.logger(sendCtx, "order.notify.failed", map[string]any{
				"recipientId": note.RecipientID,
				"entityId":    note.EntityID,
				"error":       err.Error(),
			})
		}
	}()
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrTransitionConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	return err
}
