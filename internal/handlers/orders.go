package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agriloop/api/internal/domain"
	"github.com/agriloop/api/internal/payments"
	"github.com/agriloop/api/internal/platform/auth"
	"github.com/agriloop/api/internal/platform/httpx"
	"github.com/agriloop/api/internal/services"
)

type checkoutLineRequest struct {
	FarmerID  string              `json:"farmerId"`
	Item      itemSnapshotRequest `json:"item"`
	Quantity  int64               `json:"quantity"`
	UnitPrice int64               `json:"unitPrice"`
}

type placeOrdersRequest struct {
	Lines           []checkoutLineRequest `json:"lines"`
	TransactionMode string                `json:"transactionMode"`
	DeliveryMode    string                `json:"deliveryMode"`
	BuyerInfo       buyerInfoPayload      `json:"buyerInfo"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type recordPaymentRequest struct {
	PaymentRef string `json:"paymentRef"`
}

type paymentSessionRequest struct {
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

type paymentSessionResponse struct {
	SessionID   string `json:"sessionId"`
	RedirectURL string `json:"redirectUrl"`
	IntentID    string `json:"intentId,omitempty"`
	ExpiresAt   string `json:"expiresAt,omitempty"`
}

// OrderHandlers exposes checkout and the order lifecycle endpoints.
type OrderHandlers struct {
	authn              *auth.Authenticator
	orders             services.OrderService
	gateway            payments.Gateway
	checkoutMiddleware func(http.Handler) http.Handler
}

// OrderHandlerOption customises OrderHandlers construction.
type OrderHandlerOption func(*OrderHandlers)

// WithPaymentGateway enables the hosted payment session endpoint.
func WithPaymentGateway(gateway payments.Gateway) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.gateway = gateway
	}
}

// WithCheckoutMiddleware guards the checkout endpoint, typically with the
// idempotency-key middleware.
func WithCheckoutMiddleware(mw func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.checkoutMiddleware = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}

	if h.checkoutMiddleware != nil {
		r.With(h.checkoutMiddleware).Post("/", h.placeOrders)
	} else {
		r.Post("/", h.placeOrders)
	}
	r.Get("/", h.list)
	r.Get("/{orderID}", h.get)

	transitions := map[string]services.OrderTransition{
		"confirm":          services.OrderTransitionConfirm,
		"cancel":           services.OrderTransitionCancel,
		"out-for-delivery": services.OrderTransitionMarkOutForDelivery,
		"out-for-pickup":   services.OrderTransitionMarkOutForPickup,
		"delivered":        services.OrderTransitionConfirmDelivered,
		"pickup-confirmed": services.OrderTransitionConfirmPickup,
		"record-payment":   services.OrderTransitionRecordPayment,
	}
	for verb, transition := range transitions {
		r.Post("/{orderID}:"+verb, h.transitionHandler(transition))
	}

	r.Post("/{orderID}:payment-session", h.createPaymentSession)
}

func (h *OrderHandlers) placeOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		writeUnauthenticated(ctx, w)
		return
	}

	var req placeOrdersRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	lines := make([]services.CheckoutLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.CheckoutLine{
			FarmerID:  strings.TrimSpace(line.FarmerID),
			Item:      line.Item.toDomain(),
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	orders, err := h.orders.PlaceOrders(ctx, services.PlaceOrdersCommand{
		BuyerID:         identity.UID,
		Lines:           lines,
		TransactionMode: domain.TransactionMode(strings.ToUpper(strings.TrimSpace(req.TransactionMode))),
		DeliveryMode:    domain.DeliveryMode(strings.ToUpper(strings.TrimSpace(req.DeliveryMode))),
		BuyerInfo: domain.BuyerInfo{
			Name:   strings.TrimSpace(req.BuyerInfo.Name),
			Mobile: strings.TrimSpace(req.BuyerInfo.Mobile),
			Address: domain.Address{
				Line1:    req.BuyerInfo.Address.Line1,
				Line2:    req.BuyerInfo.Address.Line2,
				Village:  req.BuyerInfo.Address.Village,
				District: req.BuyerInfo.Address.District,
				State:    req.BuyerInfo.Address.State,
				PinCode:  req.BuyerInfo.Address.PinCode,
			},
		},
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusCreated, orderListResponse{Items: items})
}

func (h *OrderHandlers) transitionHandler(transition services.OrderTransition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.orders == nil {
			httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
			return
		}

		actor, ok := actorFromContext(ctx)
		if !ok {
			writeUnauthenticated(ctx, w)
			return
		}

		orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
		if orderID == "" {
			httpx.WriteError(ctx, w, httpx.NewError(codeInvalidRequest, "order id is required", http.StatusBadRequest))
			return
		}

		cmd := services.OrderTransitionCommand{
			OrderID:    orderID,
			Transition: transition,
			Actor:      actor,
		}

		// Cancel and record-payment accept an optional body; the other verbs
		// carry nothing.
		switch transition {
		case services.OrderTransitionCancel:
			var req cancelOrderRequest
			if err := decodeBody(r, &req); err == nil {
				cmd.Reason = req.Reason
			}
		case services.OrderTransitionRecordPayment:
			var req recordPaymentRequest
			if err := decodeBody(r, &req); err == nil {
				cmd.PaymentRef = req.PaymentRef
			}
		}

		order, err := h.orders.Transition(ctx, cmd)
		if err != nil {
			writeLifecycleError(ctx, w, err)
			return
		}

		writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
	}
}

func (h *OrderHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := actorFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	page, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(codeInvalidRequest, err.Error(), http.StatusBadRequest))
		return
	}

	var result domain.CursorPage[domain.Order]
	if actor.Role == domain.RoleFarmer {
		result, err = h.orders.ListByFarmer(ctx, actor.ID, page)
	} else {
		result, err = h.orders.ListByBuyer(ctx, actor.ID, page)
	}
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(result.Items))
	for _, order := range result.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: result.NextPageToken,
	})
}

func (h *OrderHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := actorFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError(codeInvalidRequest, "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Get(ctx, orderID, actor)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

// createPaymentSession opens a hosted PSP session for a confirmed ONLINE
// order and pins the intent reference on the order for reconciliation.
func (h *OrderHandlers) createPaymentSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil || h.gateway == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "payment gateway unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := actorFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError(codeInvalidRequest, "order id is required", http.StatusBadRequest))
		return
	}

	var req paymentSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.Get(ctx, orderID, actor)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	if actor.Role != domain.RoleBuyer || actor.ID != order.BuyerID {
		httpx.WriteError(ctx, w, httpx.NewError(codeWrongActor, "only the buyer can pay for an order", http.StatusForbidden))
		return
	}
	if order.Status != domain.OrderStatusConfirmed || order.HasPayment || order.TransactionMode != domain.TransactionModeOnline {
		httpx.WriteError(ctx, w, httpx.NewError(codePreconditionFailed, "order not eligible for online payment", http.StatusConflict))
		return
	}

	session, err := h.gateway.CreateOrderSession(ctx, payments.OrderSessionRequest{
		Order:          order,
		SuccessURL:     strings.TrimSpace(req.SuccessURL),
		CancelURL:      strings.TrimSpace(req.CancelURL),
		IdempotencyKey: order.ID,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_session_failed", "could not create payment session", http.StatusBadGateway))
		return
	}

	if session.IntentID != "" {
		if _, err := h.orders.AttachPaymentRef(ctx, order.ID, actor, session.IntentID); err != nil {
			writeLifecycleError(ctx, w, err)
			return
		}
	}

	writeJSONResponse(w, http.StatusCreated, paymentSessionResponse{
		SessionID:   session.ID,
		RedirectURL: session.RedirectURL,
		IntentID:    session.IntentID,
		ExpiresAt:   formatTime(session.ExpiresAt),
	})
}
