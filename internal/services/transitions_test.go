package services

import (
	"errors"
	"testing"
	"time"

	"github.com/agriloop/api/internal/domain"
)

var transitionNow = time.Date(2026, 3, 12, 8, 0, 0, 0, time.UTC)

func pendingOrder() domain.Order {
	return domain.Order{
		ID:              "ord_01A",
		BuyerID:         "buyer-1",
		FarmerID:        "farmer-1",
		TransactionMode: domain.TransactionModeOnline,
		DeliveryMode:    domain.DeliveryModeDeliveryByFarmer,
		Status:          domain.OrderStatusPending,
		TotalAmount:     500,
		CreatedAt:       transitionNow.Add(-time.Hour),
		UpdatedAt:       transitionNow.Add(-time.Hour),
	}
}

func buyerActor() domain.Actor  { return domain.Actor{ID: "buyer-1", Role: domain.RoleBuyer} }
func farmerActor() domain.Actor { return domain.Actor{ID: "farmer-1", Role: domain.RoleFarmer} }

func TestNextOrderConfirm(t *testing.T) {
	order := pendingOrder()

	next, err := NextOrder(order, OrderTransitionConfirm, farmerActor(), transitionNow)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if next.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed got %s", next.Status)
	}
	if !next.UpdatedAt.Equal(transitionNow) {
		t.Fatalf("expected updatedAt %s got %s", transitionNow, next.UpdatedAt)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("input order mutated to %s", order.Status)
	}

	if _, err := NextOrder(order, OrderTransitionConfirm, buyerActor(), transitionNow); !errors.Is(err, ErrWrongActor) {
		t.Fatalf("expected wrong actor got %v", err)
	}
	if _, err := NextOrder(next, OrderTransitionConfirm, farmerActor(), transitionNow); !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("expected already applied got %v", err)
	}
}

func TestNextOrderCancelBlockedAfterCustodyTransfer(t *testing.T) {
	order := pendingOrder()
	order.Status = domain.OrderStatusConfirmed
	order.OutForDelivery = true

	if _, err := NextOrder(order, OrderTransitionCancel, buyerActor(), transitionNow); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected precondition failed got %v", err)
	}
	if _, err := NextOrder(order, OrderTransitionCancel, farmerActor(), transitionNow); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected precondition failed got %v", err)
	}
}

func TestNextOrderCancelByEitherParty(t *testing.T) {
	order := pendingOrder()

	for _, actor := range []domain.Actor{buyerActor(), farmerActor()} {
		next, err := NextOrder(order, OrderTransitionCancel, actor, transitionNow)
		if err != nil {
			t.Fatalf("cancel as %s: %v", actor.Role, err)
		}
		if next.Status != domain.OrderStatusCancelled {
			t.Fatalf("expected cancelled got %s", next.Status)
		}
	}

	outsider := domain.Actor{ID: "buyer-2", Role: domain.RoleBuyer}
	if _, err := NextOrder(order, OrderTransitionCancel, outsider, transitionNow); !errors.Is(err, ErrWrongActor) {
		t.Fatalf("expected wrong actor got %v", err)
	}
}

func TestNextOrderTerminalRejectsEverything(t *testing.T) {
	order := pendingOrder()
	order.Status = domain.OrderStatusCancelled

	transitions := []OrderTransition{
		OrderTransitionConfirm,
		OrderTransitionCancel,
		OrderTransitionMarkOutForDelivery,
		OrderTransitionMarkOutForPickup,
		OrderTransitionConfirmDelivered,
		OrderTransitionConfirmPickup,
		OrderTransitionRecordPayment,
	}
	for _, transition := range transitions {
		if _, err := NextOrder(order, transition, farmerActor(), transitionNow); !errors.Is(err, ErrTerminalState) {
			t.Fatalf("%s: expected terminal state got %v", transition, err)
		}
	}
}

func TestNextOrderDeliveryFlow(t *testing.T) {
	order := pendingOrder()
	order.Status = domain.OrderStatusConfirmed

	// Delivered before out-for-delivery must be rejected.
	if _, err := NextOrder(order, OrderTransitionConfirmDelivered, farmerActor(), transitionNow); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected precondition failed got %v", err)
	}

	out, err := NextOrder(order, OrderTransitionMarkOutForDelivery, farmerActor(), transitionNow)
	if err != nil {
		t.Fatalf("mark out for delivery: %v", err)
	}
	if !out.OutForDelivery {
		t.Fatal("expected outForDelivery flag set")
	}
	if _, err := NextOrder(out, OrderTransitionMarkOutForDelivery, farmerActor(), transitionNow); !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("expected already applied got %v", err)
	}

	// Pickup completion belongs to the buyer on pickup orders only.
	if _, err := NextOrder(out, OrderTransitionConfirmPickup, buyerActor(), transitionNow); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected precondition failed got %v", err)
	}

	done, err := NextOrder(out, OrderTransitionConfirmDelivered, farmerActor(), transitionNow)
	if err != nil {
		t.Fatalf("confirm delivered: %v", err)
	}
	if !done.Delivered {
		t.Fatal("expected delivered flag set")
	}
	if _, err := NextOrder(done, OrderTransitionConfirmDelivered, farmerActor(), transitionNow); !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("expected already applied got %v", err)
	}
}

func TestNextOrderPickupFlow(t *testing.T) {
	order := pendingOrder()
	order.Status = domain.OrderStatusConfirmed
	order.DeliveryMode = domain.DeliveryModePickupByBuyer

	// Farmer-side transitions do not apply to pickup orders.
	if _, err := NextOrder(order, OrderTransitionMarkOutForDelivery, farmerActor(), transitionNow); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected precondition failed got %v", err)
	}
	if _, err := NextOrder(order, OrderTransitionMarkOutForPickup, farmerActor(), transitionNow); !errors.Is(err, ErrWrongActor) {
		t.Fatalf("expected wrong actor got %v", err)
	}

	out, err := NextOrder(order, OrderTransitionMarkOutForPickup, buyerActor(), transitionNow)
	if err != nil {
		t.Fatalf("mark out for pickup: %v", err)
	}

	// Once custody transfer starts, cancellation is closed for good.
	if _, err := NextOrder(out, OrderTransitionCancel, buyerActor(), transitionNow); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected precondition failed got %v", err)
	}

	done, err := NextOrder(out, OrderTransitionConfirmPickup, buyerActor(), transitionNow)
	if err != nil {
		t.Fatalf("confirm pickup: %v", err)
	}
	if !done.Delivered {
		t.Fatal("expected delivered flag set")
	}
}

func TestNextOrderRecordPayment(t *testing.T) {
	order := pendingOrder()
	order.Status = domain.OrderStatusConfirmed

	next, err := NextOrder(order, OrderTransitionRecordPayment, buyerActor(), transitionNow)
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
	if !next.HasPayment {
		t.Fatal("expected hasPayment set")
	}
	if _, err := NextOrder(next, OrderTransitionRecordPayment, buyerActor(), transitionNow); !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("expected already applied got %v", err)
	}

	cod := order
	cod.TransactionMode = domain.TransactionModeCOD
	if _, err := NextOrder(cod, OrderTransitionRecordPayment, buyerActor(), transitionNow); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected precondition failed got %v", err)
	}

	pending := order
	pending.Status = domain.OrderStatusPending
	if _, err := NextOrder(pending, OrderTransitionRecordPayment, buyerActor(), transitionNow); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected precondition failed got %v", err)
	}

	if _, err := NextOrder(order, OrderTransitionRecordPayment, farmerActor(), transitionNow); !errors.Is(err, ErrWrongActor) {
		t.Fatalf("expected wrong actor got %v", err)
	}
}

func TestNextOrderUnknownTransition(t *testing.T) {
	if _, err := NextOrder(pendingOrder(), OrderTransition("teleport"), farmerActor(), transitionNow); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected precondition failed got %v", err)
	}
}

func TestNextOrderDoesNotShareLineSlices(t *testing.T) {
	order := pendingOrder()
	order.Lines = []domain.OrderLineItem{{Quantity: 1, UnitPrice: 500}}

	next, err := NextOrder(order, OrderTransitionConfirm, farmerActor(), transitionNow)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	next.Lines[0].Quantity = 99
	if order.Lines[0].Quantity != 1 {
		t.Fatalf("line slice shared with input order")
	}
}

func pendingNegotiation() domain.Negotiation {
	return domain.Negotiation{
		ID:              "neg_01A",
		BuyerID:         "buyer-1",
		FarmerID:        "farmer-1",
		NegotiatedPrice: 80,
		Item:            domain.ItemSnapshot{ItemID: "item-1", ListedPrice: 100},
		Status:          domain.NegotiationStatusPending,
	}
}

func TestNextNegotiationAcceptAndReject(t *testing.T) {
	neg := pendingNegotiation()

	accepted, err := NextNegotiation(neg, NegotiationDecisionAccept, farmerActor(), transitionNow)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != domain.NegotiationStatusAccepted {
		t.Fatalf("expected accepted got %s", accepted.Status)
	}

	rejected, err := NextNegotiation(neg, NegotiationDecisionReject, farmerActor(), transitionNow)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != domain.NegotiationStatusRejected {
		t.Fatalf("expected rejected got %s", rejected.Status)
	}
}

func TestNextNegotiationOnlyOwningFarmer(t *testing.T) {
	neg := pendingNegotiation()

	if _, err := NextNegotiation(neg, NegotiationDecisionAccept, buyerActor(), transitionNow); !errors.Is(err, ErrWrongActor) {
		t.Fatalf("expected wrong actor got %v", err)
	}
	other := domain.Actor{ID: "farmer-2", Role: domain.RoleFarmer}
	if _, err := NextNegotiation(neg, NegotiationDecisionAccept, other, transitionNow); !errors.Is(err, ErrWrongActor) {
		t.Fatalf("expected wrong actor got %v", err)
	}
}

func TestNextNegotiationSettledOffer(t *testing.T) {
	neg := pendingNegotiation()
	neg.Status = domain.NegotiationStatusAccepted

	// Flipping a settled decision is terminal; replaying it is a replay.
	if _, err := NextNegotiation(neg, NegotiationDecisionReject, farmerActor(), transitionNow); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("expected terminal state got %v", err)
	}
	if _, err := NextNegotiation(neg, NegotiationDecisionAccept, farmerActor(), transitionNow); !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("expected already applied got %v", err)
	}
	if _, err := NextNegotiation(neg, NegotiationDecisionAccept, buyerActor(), transitionNow); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("expected terminal state got %v", err)
	}
}

func TestNextNegotiationUnknownDecision(t *testing.T) {
	if _, err := NextNegotiation(pendingNegotiation(), NegotiationDecision("maybe"), farmerActor(), transitionNow); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected precondition failed got %v", err)
	}
}

func TestOrderTransitionApplied(t *testing.T) {
	order := pendingOrder()
	order.Status = domain.OrderStatusConfirmed
	if !OrderTransitionApplied(order, OrderTransitionConfirm) {
		t.Fatal("expected confirm to read as applied")
	}
	if OrderTransitionApplied(order, OrderTransitionMarkOutForDelivery) {
		t.Fatal("expected markOutForDelivery to read as not applied")
	}
	if OrderTransitionApplied(order, OrderTransition("teleport")) {
		t.Fatal("expected unknown transition to read as not applied")
	}
}
