package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agriloop/api/internal/domain"
	"github.com/agriloop/api/internal/platform/auth"
	"github.com/agriloop/api/internal/platform/httpx"
	"github.com/agriloop/api/internal/platform/pagination"
	"github.com/agriloop/api/internal/services"
)

const (
	defaultListPageSize = 20
	maxListPageSize     = 100
	maxBodySize         = 64 * 1024
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

// Stable wire codes for the lifecycle error taxonomy. Clients switch on the
// code, never on the message.
const (
	codeNotFound           = "NOT_FOUND"
	codeWrongActor         = "WRONG_ACTOR"
	codeTerminalState      = "TERMINAL_STATE"
	codePreconditionFailed = "PRECONDITION_FAILED"
	codeInvalidOffer       = "INVALID_OFFER"
	codeConflict           = "CONFLICT"
	codeAlreadyApplied     = "ALREADY_APPLIED"
	codeBatchFailed        = "BATCH_FAILED"
	codeStoreUnavailable   = "STORE_UNAVAILABLE"
	codeInvalidRequest     = "INVALID_REQUEST"
)

// writeLifecycleError maps service sentinels onto the wire taxonomy.
func writeLifecycleError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrNegotiationNotFound), errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError(codeNotFound, "resource not found", http.StatusNotFound))
	case errors.Is(err, services.ErrWrongActor):
		httpx.WriteError(ctx, w, httpx.NewError(codeWrongActor, "actor not permitted for this operation", http.StatusForbidden))
	case errors.Is(err, services.ErrTerminalState):
		httpx.WriteError(ctx, w, httpx.NewError(codeTerminalState, "resource already reached a terminal state", http.StatusConflict))
	case errors.Is(err, services.ErrAlreadyApplied):
		httpx.WriteError(ctx, w, httpx.NewError(codeAlreadyApplied, "transition already applied", http.StatusConflict))
	case errors.Is(err, services.ErrPreconditionFailed):
		httpx.WriteError(ctx, w, httpx.NewError(codePreconditionFailed, "transition precondition not met", http.StatusConflict))
	case errors.Is(err, services.ErrInvalidOffer):
		httpx.WriteError(ctx, w, httpx.NewError(codeInvalidOffer, "offered price must be above zero and below the listed price", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrTransitionConflict):
		httpx.WriteError(ctx, w, httpx.NewError(codeConflict, "concurrent update, retry the request", http.StatusConflict))
	case errors.Is(err, services.ErrBatchFailed):
		httpx.WriteError(ctx, w, httpx.NewError(codeBatchFailed, "checkout batch failed, no orders were created", http.StatusConflict))
	case errors.Is(err, services.ErrStoreUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError(codeStoreUnavailable, "order store unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrNegotiationInvalidInput), errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError(codeInvalidRequest, err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

// actorFromContext resolves the authenticated marketplace party. The role
// claim decides which side of the transition guard the caller is on.
func actorFromContext(ctx context.Context) (domain.Actor, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		return domain.Actor{}, false
	}
	actor := domain.Actor{ID: strings.TrimSpace(identity.UID)}
	switch {
	case identity.HasRole(auth.RoleFarmer):
		actor.Role = domain.RoleFarmer
	default:
		actor.Role = domain.RoleBuyer
	}
	return actor, true
}

func writeUnauthenticated(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func decodeBody(r *http.Request, dst any) error {
	data, err := readLimitedBody(r, maxBodySize)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError(codeInvalidRequest, err.Error(), http.StatusBadRequest))
	}
}

func parsePagination(r *http.Request) (services.Pagination, error) {
	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultListPageSize,
		MaxPageSize:     maxListPageSize,
	})
	if err != nil {
		return services.Pagination{}, err
	}
	return services.Pagination{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
