package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agriloop/api/internal/domain"
	"github.com/agriloop/api/internal/platform/auth"
	"github.com/agriloop/api/internal/platform/httpx"
	"github.com/agriloop/api/internal/services"
)

type proposeNegotiationRequest struct {
	FarmerID        string              `json:"farmerId"`
	NegotiatedPrice int64               `json:"negotiatedPrice"`
	Note            string              `json:"note"`
	Item            itemSnapshotRequest `json:"item"`
}

type respondNegotiationRequest struct {
	Decision string `json:"decision"`
}

// NegotiationHandlers exposes the negotiation endpoints for buyers and farmers.
type NegotiationHandlers struct {
	authn        *auth.Authenticator
	negotiations services.NegotiationService
	offerLimiter rateLimiter
}

// NegotiationHandlerOption customises NegotiationHandlers construction.
type NegotiationHandlerOption func(*NegotiationHandlers)

// WithOfferRateLimit throttles offer creation per buyer to limit requests
// per window. A non-positive limit disables throttling.
func WithOfferRateLimit(limit int, window time.Duration) NegotiationHandlerOption {
	return func(h *NegotiationHandlers) {
		h.offerLimiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewNegotiationHandlers constructs a new NegotiationHandlers instance.
func NewNegotiationHandlers(authn *auth.Authenticator, negotiations services.NegotiationService, opts ...NegotiationHandlerOption) *NegotiationHandlers {
	h := &NegotiationHandlers{
		authn:        authn,
		negotiations: negotiations,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the /negotiations endpoints.
func (h *NegotiationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.propose)
	r.Get("/", h.list)
	r.Get("/{negotiationID}", h.get)
	r.Post("/{negotiationID}:respond", h.respond)
}

func (h *NegotiationHandlers) propose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.negotiations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("negotiation_service_unavailable", "negotiation service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		writeUnauthenticated(ctx, w)
		return
	}

	if h.offerLimiter != nil && !h.offerLimiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many offers, slow down", http.StatusTooManyRequests))
		return
	}

	var req proposeNegotiationRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	negotiation, err := h.negotiations.Propose(ctx, services.ProposeNegotiationCommand{
		BuyerID:         identity.UID,
		BuyerName:       identity.Name,
		FarmerID:        strings.TrimSpace(req.FarmerID),
		NegotiatedPrice: req.NegotiatedPrice,
		Note:            req.Note,
		Item:            req.Item.toDomain(),
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, buildNegotiationPayload(negotiation))
}

func (h *NegotiationHandlers) respond(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.negotiations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("negotiation_service_unavailable", "negotiation service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := actorFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	negotiationID := strings.TrimSpace(chi.URLParam(r, "negotiationID"))
	if negotiationID == "" {
		httpx.WriteError(ctx, w, httpx.NewError(codeInvalidRequest, "negotiation id is required", http.StatusBadRequest))
		return
	}

	var req respondNegotiationRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var decision services.NegotiationDecision
	switch strings.ToLower(strings.TrimSpace(req.Decision)) {
	case "accept":
		decision = services.NegotiationDecisionAccept
	case "reject":
		decision = services.NegotiationDecisionReject
	default:
		httpx.WriteError(ctx, w, httpx.NewError(codeInvalidRequest, "decision must be accept or reject", http.StatusBadRequest))
		return
	}

	negotiation, err := h.negotiations.Respond(ctx, services.RespondNegotiationCommand{
		NegotiationID: negotiationID,
		Actor:         actor,
		Decision:      decision,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildNegotiationPayload(negotiation))
}

func (h *NegotiationHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.negotiations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("negotiation_service_unavailable", "negotiation service unavailable", http.StatusServiceUnavailable))
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

	var result domain.CursorPage[domain.Negotiation]
	if actor.Role == domain.RoleFarmer {
		result, err = h.negotiations.ListByFarmer(ctx, actor.ID, page)
	} else {
		result, err = h.negotiations.ListByBuyer(ctx, actor.ID, page)
	}
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	items := make([]negotiationPayload, 0, len(result.Items))
	for _, neg := range result.Items {
		items = append(items, buildNegotiationPayload(neg))
	}
	writeJSONResponse(w, http.StatusOK, negotiationListResponse{
		Items:         items,
		NextPageToken: result.NextPageToken,
	})
}

func (h *NegotiationHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.negotiations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("negotiation_service_unavailable", "negotiation service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := actorFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	negotiationID := strings.TrimSpace(chi.URLParam(r, "negotiationID"))
	if negotiationID == "" {
		httpx.WriteError(ctx, w, httpx.NewError(codeInvalidRequest, "negotiation id is required", http.StatusBadRequest))
		return
	}

	negotiation, err := h.negotiations.Get(ctx, negotiationID, actor)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildNegotiationPayload(negotiation))
}
