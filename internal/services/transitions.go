package services

import (
	"errors"
	"time"

	"github.com/agriloop/api/internal/domain"
)

// Shared lifecycle errors returned by the transition validator and the
// services that consume it. Handlers translate these into stable wire codes.
var (
	// ErrWrongActor indicates the actor is not the party a transition requires.
	ErrWrongActor = errors.New("actor not permitted for transition")
	// ErrTerminalState indicates the entity already reached an end state.
	ErrTerminalState = errors.New("entity in terminal state")
	// ErrPreconditionFailed indicates the entity's flags do not satisfy the guard.
	ErrPreconditionFailed = errors.New("transition precondition not met")
	// ErrAlreadyApplied indicates a concurrent request already performed this exact transition.
	ErrAlreadyApplied = errors.New("transition already applied")
	// ErrTransitionConflict indicates the optimistic-concurrency retry budget was exhausted.
	ErrTransitionConflict = errors.New("transition conflicts with concurrent update")
	// ErrStoreUnavailable indicates the entity store could not be reached; the operation fails closed.
	ErrStoreUnavailable = errors.New("entity store unavailable")
)

// NegotiationDecision is the farmer's answer to a pending offer.
type NegotiationDecision string

const (
	// NegotiationDecisionAccept moves a pending negotiation to accepted.
	NegotiationDecisionAccept NegotiationDecision = "accept"
	// NegotiationDecisionReject moves a pending negotiation to rejected.
	NegotiationDecisionReject NegotiationDecision = "reject"
)

// OrderTransition names a guarded order state change.
type OrderTransition string

const (
	// OrderTransitionConfirm moves a pending order to confirmed.
	OrderTransitionConfirm OrderTransition = "confirm"
	// OrderTransitionCancel withdraws an order before custody transfer.
	OrderTransitionCancel OrderTransition = "cancel"
	// OrderTransitionMarkOutForDelivery flags farmer-side shipment start.
	OrderTransitionMarkOutForDelivery OrderTransition = "markOutForDelivery"
	// OrderTransitionMarkOutForPickup flags buyer-side collection start.
	OrderTransitionMarkOutForPickup OrderTransition = "markOutForPickup"
	// OrderTransitionConfirmDelivered completes a farmer delivery.
	OrderTransitionConfirmDelivered OrderTransition = "confirmDelivered"
	// OrderTransitionConfirmPickup completes a buyer pickup.
	OrderTransitionConfirmPickup OrderTransition = "confirmPickup"
	// OrderTransitionRecordPayment marks a non-COD order as paid.
	OrderTransitionRecordPayment OrderTransition = "recordPayment"
)

// orderGuard is one row of the order guard table: who may request the
// transition, when the entity is eligible, how to detect a replay, and the
// state mutation to apply. eligible and applied must not mutate the order.
type orderGuard struct {
	roles    []domain.ActorRole
	eligible func(domain.Order) bool
	applied  func(domain.Order) bool
	apply    func(*domain.Order)
}

var orderGuardTable = map[OrderTransition]orderGuard{
	OrderTransitionConfirm: {
		roles:    []domain.ActorRole{domain.RoleFarmer},
		eligible: func(o domain.Order) bool { return o.Status == domain.OrderStatusPending },
		applied:  func(o domain.Order) bool { return o.Status == domain.OrderStatusConfirmed },
		apply:    func(o *domain.Order) { o.Status = domain.OrderStatusConfirmed },
	},
	OrderTransitionCancel: {
		roles: []domain.ActorRole{domain.RoleBuyer, domain.RoleFarmer},
		// Cancellation is only legal while the goods have not left custody,
		// regardless of pending/confirmed status.
		eligible: func(o domain.Order) bool { return !o.InCustodyTransfer() },
		applied:  func(o domain.Order) bool { return o.Status == domain.OrderStatusCancelled },
		apply:    func(o *domain.Order) { o.Status = domain.OrderStatusCancelled },
	},
	OrderTransitionMarkOutForDelivery: {
		roles: []domain.ActorRole{domain.RoleFarmer},
		eligible: func(o domain.Order) bool {
			return o.Status == domain.OrderStatusConfirmed &&
				o.DeliveryMode == domain.DeliveryModeDeliveryByFarmer &&
				!o.OutForDelivery
		},
		applied: func(o domain.Order) bool { return o.OutForDelivery },
		apply:   func(o *domain.Order) { o.OutForDelivery = true },
	},
	OrderTransitionMarkOutForPickup: {
		roles: []domain.ActorRole{domain.RoleBuyer},
		eligible: func(o domain.Order) bool {
			return o.Status == domain.OrderStatusConfirmed &&
				o.DeliveryMode == domain.DeliveryModePickupByBuyer &&
				!o.OutForDelivery
		},
		applied: func(o domain.Order) bool { return o.OutForDelivery },
		apply:   func(o *domain.Order) { o.OutForDelivery = true },
	},
	OrderTransitionConfirmDelivered: {
		roles: []domain.ActorRole{domain.RoleFarmer},
		eligible: func(o domain.Order) bool {
			return o.OutForDelivery && !o.Delivered &&
				o.DeliveryMode == domain.DeliveryModeDeliveryByFarmer
		},
		applied: func(o domain.Order) bool { return o.Delivered },
		apply:   func(o *domain.Order) { o.Delivered = true },
	},
	OrderTransitionConfirmPickup: {
		roles: []domain.ActorRole{domain.RoleBuyer},
		eligible: func(o domain.Order) bool {
			return o.OutForDelivery && !o.Delivered &&
				o.DeliveryMode == domain.DeliveryModePickupByBuyer
		},
		applied: func(o domain.Order) bool { return o.Delivered },
		apply:   func(o *domain.Order) { o.Delivered = true },
	},
	OrderTransitionRecordPayment: {
		roles: []domain.ActorRole{domain.RoleBuyer},
		eligible: func(o domain.Order) bool {
			return o.Status == domain.OrderStatusConfirmed &&
				!o.HasPayment &&
				o.TransactionMode != domain.TransactionModeCOD
		},
		applied: func(o domain.Order) bool { return o.HasPayment },
		apply:   func(o *domain.Order) { o.HasPayment = true },
	},
}

// NextOrder evaluates the guard table for a single transition and returns the
// mutated copy of the order on allow. It has no side effects; callers own
// persistence. Denials use the shared lifecycle errors so they map to the
// wire taxonomy unchanged.
func NextOrder(order domain.Order, transition OrderTransition, actor domain.Actor, now time.Time) (domain.Order, error) {
	guard, ok := orderGuardTable[transition]
	if !ok {
		return domain.Order{}, ErrPreconditionFailed
	}
	if order.Status.Terminal() {
		return domain.Order{}, ErrTerminalState
	}
	if err := checkOrderActor(order, actor, guard.roles); err != nil {
		return domain.Order{}, err
	}
	if guard.applied(order) {
		return domain.Order{}, ErrAlreadyApplied
	}
	if !guard.eligible(order) {
		return domain.Order{}, ErrPreconditionFailed
	}

	next := order
	next.Lines = append([]domain.OrderLineItem(nil), order.Lines...)
	guard.apply(&next)
	next.UpdatedAt = now.UTC()
	return next, nil
}

// OrderTransitionApplied reports whether a freshly re-read order already
// reflects the outcome of the given transition. The engine uses this on CAS
// conflicts to tell a replay apart from a genuine race.
func OrderTransitionApplied(order domain.Order, transition OrderTransition) bool {
	guard, ok := orderGuardTable[transition]
	if !ok {
		return false
	}
	return guard.applied(order)
}

// NextNegotiation evaluates the negotiation guard table. Only the owning
// farmer may answer, only once; both outcomes are terminal.
func NextNegotiation(neg domain.Negotiation, decision NegotiationDecision, actor domain.Actor, now time.Time) (domain.Negotiation, error) {
	if neg.Status.Terminal() {
		// The owning farmer replaying the decision that already landed is a
		// replay, not a conflict; anything else against a settled offer is
		// terminal.
		if actor.Role == domain.RoleFarmer && actor.ID == neg.FarmerID && NegotiationResponseApplied(neg, decision) {
			return domain.Negotiation{}, ErrAlreadyApplied
		}
		return domain.Negotiation{}, ErrTerminalState
	}
	if actor.Role != domain.RoleFarmer || actor.ID != neg.FarmerID {
		return domain.Negotiation{}, ErrWrongActor
	}

	next := neg
	switch decision {
	case NegotiationDecisionAccept:
		next.Status = domain.NegotiationStatusAccepted
	case NegotiationDecisionReject:
		next.Status = domain.NegotiationStatusRejected
	default:
		return domain.Negotiation{}, ErrPreconditionFailed
	}
	next.UpdatedAt = now.UTC()
	return next, nil
}

// NegotiationResponseApplied reports whether a re-read negotiation already
// carries the requested decision.
func NegotiationResponseApplied(neg domain.Negotiation, decision NegotiationDecision) bool {
	switch decision {
	case NegotiationDecisionAccept:
		return neg.Status == domain.NegotiationStatusAccepted
	case NegotiationDecisionReject:
		return neg.Status == domain.NegotiationStatusRejected
	default:
		return false
	}
}

func checkOrderActor(order domain.Order, actor domain.Actor, roles []domain.ActorRole) error {
	for _, role := range roles {
		if actor.Role != role {
			continue
		}
		switch role {
		case domain.RoleBuyer:
			if actor.ID == order.BuyerID {
				return nil
			}
		case domain.RoleFarmer:
			if actor.ID == order.FarmerID {
				return nil
			}
		}
	}
	return ErrWrongActor
}
