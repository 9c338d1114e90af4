package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agriloop/api/internal/payments"
	"github.com/agriloop/api/internal/platform/httpx"
	"github.com/agriloop/api/internal/services"
)

const (
	maxWebhookBodySize = 1 << 20

	stripeSignatureHeader = "Stripe-Signature"

	defaultReconcileAge = 30 * time.Minute
	maxReconcileAge     = 24 * time.Hour
)

type paidEventParser interface {
	ParsePaidEvent(payload []byte, signatureHeader string) (payments.PaymentDetails, error)
}

// PaymentWebhookHandlers receives PSP settlement callbacks.
type PaymentWebhookHandlers struct {
	parser paidEventParser
	orders services.OrderService
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentWebhookHandlers constructs webhook handlers around the verifier.
func NewPaymentWebhookHandlers(parser paidEventParser, orders services.OrderService, logger func(ctx context.Context, event string, fields map[string]any)) *PaymentWebhookHandlers {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PaymentWebhookHandlers{
		parser: parser,
		orders: orders,
		logger: logger,
	}
}

// Routes registers the /webhooks endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripe)
}

// stripe settles orders from signed Stripe events. Deliveries are retried by
// the PSP on non-2xx, so only transient store failures return one.
func (h *PaymentWebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.parser == nil || h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	details, err := h.parser.ParsePaidEvent(body, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		if errors.Is(err, payments.ErrIgnoredEvent) {
			writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	}

	if details.OrderID == "" {
		h.logger(ctx, "payments.webhook.no_order", map[string]any{"intentId": details.IntentID})
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	_, err = h.orders.SettlePayment(ctx, details.OrderID, details.IntentID)
	switch {
	case err == nil, errors.Is(err, services.ErrAlreadyApplied):
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
	case errors.Is(err, services.ErrStoreUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError(codeStoreUnavailable, "order store unavailable", http.StatusServiceUnavailable))
	default:
		// A settled payment against a cancelled or missing order needs a
		// human, not a PSP retry.
		h.logger(ctx, "payments.webhook.unapplied", map[string]any{
			"orderId":  details.OrderID,
			"intentId": details.IntentID,
			"error":    err.Error(),
		})
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true, "applied": false})
	}
}

type reconcileRequest struct {
	OlderThanMinutes int `json:"olderThanMinutes"`
}

type reconcileResponse struct {
	Scanned int `json:"scanned"`
	Settled int `json:"settled"`
	Skipped int `json:"skipped"`
}

// PaymentReconcileHandlers sweeps confirmed ONLINE orders whose settlement
// webhook never arrived and settles them from PSP state.
type PaymentReconcileHandlers struct {
	orders  services.OrderService
	gateway payments.Gateway
	clock   func() time.Time
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentReconcileHandlers constructs the internal reconciliation handlers.
func NewPaymentReconcileHandlers(orders services.OrderService, gateway payments.Gateway, clock func() time.Time, logger func(ctx context.Context, event string, fields map[string]any)) *PaymentReconcileHandlers {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PaymentReconcileHandlers{
		orders:  orders,
		gateway: gateway,
		clock:   clock,
		logger:  logger,
	}
}

// Routes registers the /internal payment endpoints.
func (h *PaymentReconcileHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments:reconcile", h.reconcile)
}

func (h *PaymentReconcileHandlers) reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil || h.gateway == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "reconciliation unavailable", http.StatusServiceUnavailable))
		return
	}

	age := defaultReconcileAge
	var req reconcileRequest
	if err := decodeBody(r, &req); err == nil && req.OlderThanMinutes > 0 {
		age = time.Duration(req.OlderThanMinutes) * time.Minute
		if age > maxReconcileAge {
			age = maxReconcileAge
		}
	}

	cutoff := h.clock().UTC().Add(-age)
	orders, err := h.orders.ListUnpaidOnline(ctx, cutoff)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	result := reconcileResponse{Scanned: len(orders)}
	for _, order := range orders {
		if order.PaymentID == "" {
			// No session was ever opened; nothing to look up.
			result.Skipped++
			continue
		}
		details, err := h.gateway.LookupPayment(ctx, order.PaymentID)
		if err != nil {
			h.logger(ctx, "payments.reconcile.lookup_failed", map[string]any{
				"orderId":  order.ID,
				"intentId": order.PaymentID,
				"error":    err.Error(),
			})
			result.Skipped++
			continue
		}
		if details.Status != payments.StatusSucceeded {
			result.Skipped++
			continue
		}
		if _, err := h.orders.SettlePayment(ctx, order.ID, order.PaymentID); err != nil && !errors.Is(err, services.ErrAlreadyApplied) {
			h.logger(ctx, "payments.reconcile.settle_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
			result.Skipped++
			continue
		}
		result.Settled++
	}

	h.logger(ctx, "payments.reconcile.completed", map[string]any{
		"scanned": result.Scanned,
		"settled": result.Settled,
		"skipped": result.Skipped,
	})
	writeJSONResponse(w, http.StatusOK, result)
}
