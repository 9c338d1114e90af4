package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agriloop/api/internal/domain"
	"github.com/agriloop/api/internal/payments"
	"github.com/agriloop/api/internal/services"
)

type stubEventParser struct {
	parseFn func(payload []byte, signatureHeader string) (payments.PaymentDetails, error)
}

func (p *stubEventParser) ParsePaidEvent(payload []byte, signatureHeader string) (payments.PaymentDetails, error) {
	if p.parseFn != nil {
		return p.parseFn(payload, signatureHeader)
	}
	return payments.PaymentDetails{}, errors.New("not implemented")
}

func webhookRouter(parser paidEventParser, orders services.OrderService) chi.Router {
	h := NewPaymentWebhookHandlers(parser, orders, nil)
	r := chi.NewRouter()
	r.Route("/webhooks", h.Routes)
	return r
}

func TestPaymentWebhookSettlesOrder(t *testing.T) {
	parser := &stubEventParser{
		parseFn: func(payload []byte, signatureHeader string) (payments.PaymentDetails, error) {
			if signatureHeader != "t=1,v1=abc" {
				t.Fatalf("unexpected signature header %q", signatureHeader)
			}
			return payments.PaymentDetails{IntentID: "pi_9", OrderID: "ord_01A", Status: payments.StatusSucceeded}, nil
		},
	}
	var settledOrder, settledRef string
	orders := &stubOrderService{
		settleFn: func(_ context.Context, orderID, paymentRef string) (services.Order, error) {
			settledOrder, settledRef = orderID, paymentRef
			return sampleOrder(), nil
		},
	}
	router := webhookRouter(parser, orders)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(`{"type":"payment_intent.succeeded"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if settledOrder != "ord_01A" || settledRef != "pi_9" {
		t.Fatalf("unexpected settlement %s/%s", settledOrder, settledRef)
	}
}

func TestPaymentWebhookIgnoredEvent(t *testing.T) {
	parser := &stubEventParser{
		parseFn: func([]byte, string) (payments.PaymentDetails, error) {
			return payments.PaymentDetails{}, payments.ErrIgnoredEvent
		},
	}
	router := webhookRouter(parser, &stubOrderService{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(`{"type":"customer.created"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
}

func TestPaymentWebhookBadSignature(t *testing.T) {
	parser := &stubEventParser{
		parseFn: func([]byte, string) (payments.PaymentDetails, error) {
			return payments.PaymentDetails{}, errors.New("signature mismatch")
		},
	}
	router := webhookRouter(parser, &stubOrderService{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestPaymentWebhookReplayReturnsOK(t *testing.T) {
	parser := &stubEventParser{
		parseFn: func([]byte, string) (payments.PaymentDetails, error) {
			return payments.PaymentDetails{IntentID: "pi_9", OrderID: "ord_01A", Status: payments.StatusSucceeded}, nil
		},
	}
	orders := &stubOrderService{
		settleFn: func(context.Context, string, string) (services.Order, error) {
			return services.Order{}, services.ErrAlreadyApplied
		},
	}
	router := webhookRouter(parser, orders)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
}

func TestPaymentWebhookStoreUnavailableAsksForRetry(t *testing.T) {
	parser := &stubEventParser{
		parseFn: func([]byte, string) (payments.PaymentDetails, error) {
			return payments.PaymentDetails{IntentID: "pi_9", OrderID: "ord_01A", Status: payments.StatusSucceeded}, nil
		},
	}
	orders := &stubOrderService{
		settleFn: func(context.Context, string, string) (services.Order, error) {
			return services.Order{}, services.ErrStoreUnavailable
		},
	}
	router := webhookRouter(parser, orders)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rr.Code)
	}
}

func TestPaymentWebhookUnappliableSettlementIsAccepted(t *testing.T) {
	parser := &stubEventParser{
		parseFn: func([]byte, string) (payments.PaymentDetails, error) {
			return payments.PaymentDetails{IntentID: "pi_9", OrderID: "ord_01A", Status: payments.StatusSucceeded}, nil
		},
	}
	orders := &stubOrderService{
		settleFn: func(context.Context, string, string) (services.Order, error) {
			return services.Order{}, services.ErrTerminalState
		},
	}
	router := webhookRouter(parser, orders)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["applied"] != false {
		t.Fatalf("expected applied=false got %v", payload["applied"])
	}
}

func TestPaymentReconcileSettlesStalePayments(t *testing.T) {
	now := time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)

	paid := sampleOrder()
	paid.Status = domain.OrderStatusConfirmed
	paid.PaymentID = "pi_paid"
	stillPending := sampleOrder()
	stillPending.ID = "ord_01B"
	stillPending.Status = domain.OrderStatusConfirmed
	stillPending.PaymentID = "pi_open"
	noSession := sampleOrder()
	noSession.ID = "ord_01C"
	noSession.Status = domain.OrderStatusConfirmed

	var cutoff time.Time
	var settled []string
	orders := &stubOrderService{
		unpaidFn: func(_ context.Context, c time.Time) ([]services.Order, error) {
			cutoff = c
			return []services.Order{paid, stillPending, noSession}, nil
		},
		settleFn: func(_ context.Context, orderID, paymentRef string) (services.Order, error) {
			settled = append(settled, orderID+"/"+paymentRef)
			return paid, nil
		},
	}
	gateway := &stubPaymentGateway{
		lookupFn: func(_ context.Context, intentID string) (payments.PaymentDetails, error) {
			status := payments.StatusPending
			if intentID == "pi_paid" {
				status = payments.StatusSucceeded
			}
			return payments.PaymentDetails{IntentID: intentID, Status: status}, nil
		},
	}
	h := NewPaymentReconcileHandlers(orders, gateway, func() time.Time { return now }, nil)
	r := chi.NewRouter()
	r.Route("/internal", h.Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/payments:reconcile", bytes.NewBufferString(`{"olderThanMinutes":60}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if want := now.Add(-time.Hour); !cutoff.Equal(want) {
		t.Fatalf("expected cutoff %v got %v", want, cutoff)
	}
	if len(settled) != 1 || settled[0] != "ord_01A/pi_paid" {
		t.Fatalf("unexpected settlements %v", settled)
	}

	var resp reconcileResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Scanned != 3 || resp.Settled != 1 || resp.Skipped != 2 {
		t.Fatalf("unexpected counts %+v", resp)
	}
}

func TestPaymentReconcileStoreUnavailable(t *testing.T) {
	orders := &stubOrderService{
		unpaidFn: func(context.Context, time.Time) ([]services.Order, error) {
			return nil, services.ErrStoreUnavailable
		},
	}
	h := NewPaymentReconcileHandlers(orders, &stubPaymentGateway{}, nil, nil)
	r := chi.NewRouter()
	r.Route("/internal", h.Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/payments:reconcile", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rr.Code)
	}
}
