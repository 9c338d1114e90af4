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
	"github.com/agriloop/api/internal/platform/auth"
	"github.com/agriloop/api/internal/services"
)

type stubOrderService struct {
	placeFn        func(context.Context, services.PlaceOrdersCommand) ([]services.Order, error)
	transitionFn   func(context.Context, services.OrderTransitionCommand) (services.Order, error)
	listByBuyerFn  func(context.Context, string, services.Pagination) (domain.CursorPage[services.Order], error)
	listByFarmerFn func(context.Context, string, services.Pagination) (domain.CursorPage[services.Order], error)
	getFn          func(context.Context, string, services.Actor) (services.Order, error)
	attachFn       func(context.Context, string, services.Actor, string) (services.Order, error)
	settleFn       func(context.Context, string, string) (services.Order, error)
	unpaidFn       func(context.Context, time.Time) ([]services.Order, error)
}

func (s *stubOrderService) PlaceOrders(ctx context.Context, cmd services.PlaceOrdersCommand) ([]services.Order, error) {
	if s.placeFn != nil {
		return s.placeFn(ctx, cmd)
	}
	return nil, errors.New("not implemented")
}

func (s *stubOrderService) Transition(ctx context.Context, cmd services.OrderTransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListByBuyer(ctx context.Context, buyerID string, page services.Pagination) (domain.CursorPage[services.Order], error) {
	if s.listByBuyerFn != nil {
		return s.listByBuyerFn(ctx, buyerID, page)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) ListByFarmer(ctx context.Context, farmerID string, page services.Pagination) (domain.CursorPage[services.Order], error) {
	if s.listByFarmerFn != nil {
		return s.listByFarmerFn(ctx, farmerID, page)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) Get(ctx context.Context, orderID string, actor services.Actor) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID, actor)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) AttachPaymentRef(ctx context.Context, orderID string, actor services.Actor, paymentRef string) (services.Order, error) {
	if s.attachFn != nil {
		return s.attachFn(ctx, orderID, actor, paymentRef)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) SettlePayment(ctx context.Context, orderID, paymentRef string) (services.Order, error) {
	if s.settleFn != nil {
		return s.settleFn(ctx, orderID, paymentRef)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListUnpaidOnline(ctx context.Context, cutoff time.Time) ([]services.Order, error) {
	if s.unpaidFn != nil {
		return s.unpaidFn(ctx, cutoff)
	}
	return nil, errors.New("not implemented")
}

type stubPaymentGateway struct {
	createFn func(context.Context, payments.OrderSessionRequest) (payments.Session, error)
	lookupFn func(context.Context, string) (payments.PaymentDetails, error)
}

func (g *stubPaymentGateway) CreateOrderSession(ctx context.Context, req payments.OrderSessionRequest) (payments.Session, error) {
	if g.createFn != nil {
		return g.createFn(ctx, req)
	}
	return payments.Session{}, errors.New("not implemented")
}

func (g *stubPaymentGateway) LookupPayment(ctx context.Context, intentID string) (payments.PaymentDetails, error) {
	if g.lookupFn != nil {
		return g.lookupFn(ctx, intentID)
	}
	return payments.PaymentDetails{}, errors.New("not implemented")
}

func orderRouter(svc services.OrderService, opts ...OrderHandlerOption) chi.Router {
	h := NewOrderHandlers(nil, svc, opts...)
	r := chi.NewRouter()
	r.Route("/orders", h.Routes)
	return r
}

func sampleOrder() domain.Order {
	created := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	return domain.Order{
		ID:       "ord_01A",
		BuyerID:  "buyer-1",
		FarmerID: "farmer-1",
		Lines: []domain.OrderLineItem{
			{Item: domain.ItemSnapshot{ItemID: "item-1", Title: "Paddy straw", ListedPrice: 100}, Quantity: 2, UnitPrice: 50},
		},
		TransactionMode: domain.TransactionModeOnline,
		DeliveryMode:    domain.DeliveryModeDeliveryByFarmer,
		Status:          domain.OrderStatusPending,
		TotalAmount:     100,
		BuyerInfo:       domain.BuyerInfo{Name: "Ravi", Mobile: "9999900000"},
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func TestOrderHandlersPlaceOrders(t *testing.T) {
	var captured services.PlaceOrdersCommand
	svc := &stubOrderService{
		placeFn: func(_ context.Context, cmd services.PlaceOrdersCommand) ([]services.Order, error) {
			captured = cmd
			return []services.Order{sampleOrder()}, nil
		},
	}
	router := orderRouter(svc)

	body := `{
		"lines":[{"farmerId":"farmer-1","item":{"itemId":"item-1","title":"Paddy straw","listedPrice":100},"quantity":2,"unitPrice":50}],
		"transactionMode":"online",
		"deliveryMode":"deliverybyfarmer",
		"buyerInfo":{"name":"Ravi","mobile":"9999900000"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), buyerIdentity()))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.BuyerID != "buyer-1" || len(captured.Lines) != 1 {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.TransactionMode != domain.TransactionModeOnline {
		t.Fatalf("expected mode normalised to %s got %s", domain.TransactionModeOnline, captured.TransactionMode)
	}
	if captured.DeliveryMode != domain.DeliveryModeDeliveryByFarmer {
		t.Fatalf("expected delivery mode %s got %s", domain.DeliveryModeDeliveryByFarmer, captured.DeliveryMode)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != "ord_01A" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Items[0].TotalAmount != 100 {
		t.Fatalf("unexpected total %d", resp.Items[0].TotalAmount)
	}
}

func TestOrderHandlersPlaceOrdersBatchFailed(t *testing.T) {
	svc := &stubOrderService{
		placeFn: func(context.Context, services.PlaceOrdersCommand) ([]services.Order, error) {
			return nil, services.ErrBatchFailed
		},
	}
	router := orderRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(`{"lines":[],"transactionMode":"COD","deliveryMode":"PICKUPBYBUYER"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), buyerIdentity()))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["error"] != codeBatchFailed {
		t.Fatalf("expected %s got %v", codeBatchFailed, payload["error"])
	}
}

func TestOrderHandlersPlaceOrdersUnauthenticated(t *testing.T) {
	router := orderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestOrderHandlersTransitionVerbs(t *testing.T) {
	verbs := map[string]services.OrderTransition{
		"confirm":          services.OrderTransitionConfirm,
		"cancel":           services.OrderTransitionCancel,
		"out-for-delivery": services.OrderTransitionMarkOutForDelivery,
		"out-for-pickup":   services.OrderTransitionMarkOutForPickup,
		"delivered":        services.OrderTransitionConfirmDelivered,
		"pickup-confirmed": services.OrderTransitionConfirmPickup,
		"record-payment":   services.OrderTransitionRecordPayment,
	}

	for verb, transition := range verbs {
		var captured services.OrderTransitionCommand
		svc := &stubOrderService{
			transitionFn: func(_ context.Context, cmd services.OrderTransitionCommand) (services.Order, error) {
				captured = cmd
				return sampleOrder(), nil
			},
		}
		router := orderRouter(svc)

		req := httptest.NewRequest(http.MethodPost, "/orders/ord_01A:"+verb, nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), farmerIdentity()))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d: %s", verb, rr.Code, rr.Body.String())
		}
		if captured.OrderID != "ord_01A" || captured.Transition != transition {
			t.Fatalf("%s: unexpected command %+v", verb, captured)
		}
		if captured.Actor.ID != "farmer-1" || captured.Actor.Role != domain.RoleFarmer {
			t.Fatalf("%s: unexpected actor %+v", verb, captured.Actor)
		}
	}
}

func TestOrderHandlersCancelCarriesReason(t *testing.T) {
	var captured services.OrderTransitionCommand
	svc := &stubOrderService{
		transitionFn: func(_ context.Context, cmd services.OrderTransitionCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}
	router := orderRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_01A:cancel", bytes.NewBufferString(`{"reason":"found a closer seller"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), buyerIdentity()))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if captured.Reason != "found a closer seller" {
		t.Fatalf("unexpected reason %q", captured.Reason)
	}
}

func TestOrderHandlersRecordPaymentCarriesRef(t *testing.T) {
	var captured services.OrderTransitionCommand
	svc := &stubOrderService{
		transitionFn: func(_ context.Context, cmd services.OrderTransitionCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusConfirmed
			order.HasPayment = true
			order.PaymentID = cmd.PaymentRef
			return order, nil
		},
	}
	router := orderRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_01A:record-payment", bytes.NewBufferString(`{"paymentRef":"pi_123"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), buyerIdentity()))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if captured.PaymentRef != "pi_123" {
		t.Fatalf("unexpected payment ref %q", captured.PaymentRef)
	}

	var payload orderPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !payload.HasPayment || payload.PaymentID != "pi_123" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestOrderHandlersTransitionErrorMapping(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
		code   string
	}{
		"wrong actor":  {services.ErrWrongActor, http.StatusForbidden, codeWrongActor},
		"terminal":     {services.ErrTerminalState, http.StatusConflict, codeTerminalState},
		"precondition": {services.ErrPreconditionFailed, http.StatusConflict, codePreconditionFailed},
		"replay":       {services.ErrAlreadyApplied, http.StatusConflict, codeAlreadyApplied},
		"conflict":     {services.ErrTransitionConflict, http.StatusConflict, codeConflict},
		"not found":    {services.ErrOrderNotFound, http.StatusNotFound, codeNotFound},
		"unavailable":  {services.ErrStoreUnavailable, http.StatusServiceUnavailable, codeStoreUnavailable},
	}

	for name, tc := range cases {
		svc := &stubOrderService{
			transitionFn: func(context.Context, services.OrderTransitionCommand) (services.Order, error) {
				return services.Order{}, tc.err
			},
		}
		router := orderRouter(svc)

		req := httptest.NewRequest(http.MethodPost, "/orders/ord_01A:confirm", nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), farmerIdentity()))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != tc.status {
			t.Fatalf("%s: expected %d got %d", name, tc.status, rr.Code)
		}
		var payload map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("%s: decode response: %v", name, err)
		}
		if payload["error"] != tc.code {
			t.Fatalf("%s: expected code %s got %v", name, tc.code, payload["error"])
		}
	}
}

func TestOrderHandlersListRoutesByRole(t *testing.T) {
	svc := &stubOrderService{
		listByBuyerFn: func(_ context.Context, buyerID string, page services.Pagination) (domain.CursorPage[services.Order], error) {
			if buyerID != "buyer-1" {
				t.Fatalf("unexpected buyer id %s", buyerID)
			}
			if page.PageSize != 5 {
				t.Fatalf("unexpected pagination %+v", page)
			}
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder()}, NextPageToken: "next"}, nil
		},
	}
	router := orderRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/orders/?pageSize=5", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), buyerIdentity()))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.NextPageToken != "next" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOrderHandlersGetNotFound(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(context.Context, string, services.Actor) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}
	router := orderRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_missing", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), buyerIdentity()))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestOrderHandlersCreatePaymentSession(t *testing.T) {
	confirmed := sampleOrder()
	confirmed.Status = domain.OrderStatusConfirmed

	var attachedRef string
	svc := &stubOrderService{
		getFn: func(context.Context, string, services.Actor) (services.Order, error) {
			return confirmed, nil
		},
		attachFn: func(_ context.Context, orderID string, _ services.Actor, paymentRef string) (services.Order, error) {
			if orderID != "ord_01A" {
				t.Fatalf("unexpected order id %s", orderID)
			}
			attachedRef = paymentRef
			return confirmed, nil
		},
	}
	gateway := &stubPaymentGateway{
		createFn: func(_ context.Context, req payments.OrderSessionRequest) (payments.Session, error) {
			if req.IdempotencyKey != "ord_01A" {
				t.Fatalf("unexpected idempotency key %s", req.IdempotencyKey)
			}
			return payments.Session{ID: "cs_1", RedirectURL: "https://pay.example/cs_1", IntentID: "pi_9"}, nil
		},
	}
	router := orderRouter(svc, WithPaymentGateway(gateway))

	body := `{"successUrl":"https://app.example/ok","cancelUrl":"https://app.example/back"}`
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_01A:payment-session", bytes.NewBufferString(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), buyerIdentity()))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rr.Code, rr.Body.String())
	}
	if attachedRef != "pi_9" {
		t.Fatalf("expected intent pinned on order, got %q", attachedRef)
	}

	var resp paymentSessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID != "cs_1" || resp.RedirectURL != "https://pay.example/cs_1" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOrderHandlersPaymentSessionRejectsIneligibleOrders(t *testing.T) {
	cases := map[string]func(*domain.Order){
		"pending order": func(o *domain.Order) { o.Status = domain.OrderStatusPending },
		"already paid":  func(o *domain.Order) { o.Status = domain.OrderStatusConfirmed; o.HasPayment = true },
		"cod order": func(o *domain.Order) {
			o.Status = domain.OrderStatusConfirmed
			o.TransactionMode = domain.TransactionModeCOD
		},
	}

	for name, mutate := range cases {
		order := sampleOrder()
		mutate(&order)
		svc := &stubOrderService{
			getFn: func(context.Context, string, services.Actor) (services.Order, error) {
				return order, nil
			},
		}
		router := orderRouter(svc, WithPaymentGateway(&stubPaymentGateway{}))

		req := httptest.NewRequest(http.MethodPost, "/orders/ord_01A:payment-session", bytes.NewBufferString(`{}`))
		req = req.WithContext(auth.WithIdentity(req.Context(), buyerIdentity()))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusConflict {
			t.Fatalf("%s: expected 409 got %d", name, rr.Code)
		}
	}
}

func TestOrderHandlersPaymentSessionFarmerForbidden(t *testing.T) {
	confirmed := sampleOrder()
	confirmed.Status = domain.OrderStatusConfirmed
	svc := &stubOrderService{
		getFn: func(context.Context, string, services.Actor) (services.Order, error) {
			return confirmed, nil
		},
	}
	router := orderRouter(svc, WithPaymentGateway(&stubPaymentGateway{}))

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_01A:payment-session", bytes.NewBufferString(`{}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), farmerIdentity()))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestOrderHandlersPaymentSessionWithoutGateway(t *testing.T) {
	router := orderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_01A:payment-session", bytes.NewBufferString(`{}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), buyerIdentity()))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rr.Code)
	}
}
