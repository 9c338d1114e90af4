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
	negotiationIDPrefix = "neg_"

	negotiationNoteMaxLen = 500

	negotiationEventProposed  = "negotiation.proposed"
	negotiationEventResponded = "negotiation.responded"
	negotiationEventDenied    = "negotiation.respond.denied"
)

// notifySendTimeout bounds a single post-commit notification dispatch once it
// is detached from the originating request.
const notifySendTimeout = 10 * time.Second

var (
	// ErrNegotiationInvalidInput signals the caller provided invalid data.
	ErrNegotiationInvalidInput = errors.New("negotiation: invalid input")
	// ErrNegotiationNotFound indicates the negotiation could not be located.
	ErrNegotiationNotFound = errors.New("negotiation: not found")
	// ErrInvalidOffer indicates the offered price is outside the open interval
	// between zero and the listed price.
	ErrInvalidOffer = errors.New("negotiation: offered price must be above zero and below the listed price")
)

// NegotiationServiceDeps bundles collaborators required to construct the negotiation service.
type NegotiationServiceDeps struct {
	Negotiations  repositories.NegotiationRepository
	Clock         func() time.Time
	IDGenerator   func() string
	Notifier      NotificationDispatcher
	Logger        func(ctx context.Context, event string, fields map[string]any)
	RetryAttempts int
}

type negotiationService struct {
	negotiations repositories.NegotiationRepository
	clock        func() time.Time
	newID        func() string
	notifier     NotificationDispatcher
	logger       func(context.Context, string, map[string]any)
	attempts     int
	notifyWG     sync.WaitGroup
}

var _ NegotiationService = (*negotiationService)(nil)

// NewNegotiationService wires dependencies into a concrete NegotiationService implementation.
func NewNegotiationService(deps NegotiationServiceDeps) (NegotiationService, error) {
	if deps.Negotiations == nil {
		return nil, errors.New("negotiation service: negotiation repository is required")
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

	return &negotiationService{
		negotiations: deps.Negotiations,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		notifier: deps.Notifier,
		logger:   logger,
		attempts: attempts,
	}, nil
}

func (s *negotiationService) Propose(ctx context.Context, cmd ProposeNegotiationCommand) (Negotiation, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return Negotiation{}, fmt.Errorf("%w: buyer id is required", ErrNegotiationInvalidInput)
	}
	farmerID := strings.TrimSpace(cmd.FarmerID)
	if farmerID == "" {
		return Negotiation{}, fmt.Errorf("%w: farmer id is required", ErrNegotiationInvalidInput)
	}
	if buyerID == farmerID {
		return Negotiation{}, fmt.Errorf("%w: buyer cannot negotiate own listing", ErrNegotiationInvalidInput)
	}
	if strings.TrimSpace(cmd.Item.ItemID) == "" {
		return Negotiation{}, fmt.Errorf("%w: item snapshot is required", ErrNegotiationInvalidInput)
	}
	if cmd.Item.ListedPrice <= 0 {
		return Negotiation{}, fmt.Errorf("%w: listed price must be positive", ErrNegotiationInvalidInput)
	}
	if cmd.NegotiatedPrice <= 0 || cmd.NegotiatedPrice >= cmd.Item.ListedPrice {
		return Negotiation{}, ErrInvalidOffer
	}

	now := s.clock()
	negotiation := Negotiation{
		ID:              negotiationIDPrefix + s.newID(),
		BuyerID:         buyerID,
		BuyerName:       strings.TrimSpace(cmd.BuyerName),
		FarmerID:        farmerID,
		NegotiatedPrice: cmd.NegotiatedPrice,
		Note:            textutil.SanitizeFreeText(cmd.Note, negotiationNoteMaxLen),
		Item:            cmd.Item,
		Status:          domain.NegotiationStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	saved, err := s.negotiations.Insert(ctx, negotiation)
	if err != nil {
		return Negotiation{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, negotiationEventProposed, map[string]any{
		"negotiationId": saved.ID,
		"buyerId":       saved.BuyerID,
		"farmerId":      saved.FarmerID,
		"price":         saved.NegotiatedPrice,
	})

	s.notify(ctx, domain.Notification{
		RecipientID: saved.FarmerID,
		Title:       "New price offer",
		Body:        fmt.Sprintf("%s offered %d for %s", displayName(saved.BuyerName), saved.NegotiatedPrice, saved.Item.Title),
		Category:    domain.NotificationCategoryNegotiation,
		EntityID:    saved.ID,
		Attributes: map[string]string{
			"status":          string(saved.Status),
			"negotiatedPrice": fmt.Sprintf("%d", saved.NegotiatedPrice),
		},
	})

	return saved, nil
}

func (s *negotiationService) Respond(ctx context.Context, cmd RespondNegotiationCommand) (Negotiation, error) {
	negotiationID := strings.TrimSpace(cmd.NegotiationID)
	if negotiationID == "" {
		return Negotiation{}, fmt.Errorf("%w: negotiation id is required", ErrNegotiationInvalidInput)
	}
	if cmd.Decision != NegotiationDecisionAccept && cmd.Decision != NegotiationDecisionReject {
		return Negotiation{}, fmt.Errorf("%w: decision must be accept or reject", ErrNegotiationInvalidInput)
	}

	// Guarded-write loop: re-read, validate, write with the observed update
	// time as precondition. Logical conflicts surface from the validator on
	// the fresh read and are never retried; only physical write races consume
	// the retry budget.
	for attempt := 0; attempt < s.attempts; attempt++ {
		current, err := s.negotiations.FindByID(ctx, negotiationID)
		if err != nil {
			mapped := s.mapRepositoryError(err)
			if errors.Is(mapped, ErrNegotiationNotFound) {
				s.logger(ctx, negotiationEventDenied, map[string]any{
					"negotiationId": negotiationID,
					"decision":      string(cmd.Decision),
					"actorId":       cmd.Actor.ID,
					"reason":        mapped.Error(),
				})
			}
			return Negotiation{}, mapped
		}

		next, err := NextNegotiation(current, cmd.Decision, cmd.Actor, s.clock())
		if err != nil {
			// Every denial is audit-logged with the entity, decision and
			// actor before it surfaces.
			s.logger(ctx, negotiationEventDenied, map[string]any{
				"negotiationId": current.ID,
				"decision":      string(cmd.Decision),
				"actorId":       cmd.Actor.ID,
				"reason":        err.Error(),
			})
			return Negotiation{}, err
		}

		saved, err := s.negotiations.UpdateGuarded(ctx, next, current.UpdatedAt)
		if err == nil {
			s.logger(ctx, negotiationEventResponded, map[string]any{
				"negotiationId": saved.ID,
				"farmerId":      saved.FarmerID,
				"status":        string(saved.Status),
			})
			s.notify(ctx, domain.Notification{
				RecipientID: saved.BuyerID,
				Title:       "Offer " + string(saved.Status),
				Body:        fmt.Sprintf("Your offer of %d for %s was %s", saved.NegotiatedPrice, saved.Item.Title, saved.Status),
				Category:    domain.NotificationCategoryNegotiation,
				EntityID:    saved.ID,
				Attributes: map[string]string{
					"status": string(saved.Status),
				},
			})
			return saved, nil
		}

		if isRepositoryConflict(err) {
			continue
		}
		return Negotiation{}, s.mapRepositoryError(err)
	}

	return Negotiation{}, ErrTransitionConflict
}

func (s *negotiationService) ListByBuyer(ctx context.Context, buyerID string, page Pagination) (domain.CursorPage[Negotiation], error) {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return domain.CursorPage[Negotiation]{}, fmt.Errorf("%w: buyer id is required", ErrNegotiationInvalidInput)
	}
	result, err := s.negotiations.List(ctx, repositories.NegotiationListFilter{
		BuyerID:    buyerID,
		Pagination: page,
	})
	if err != nil {
		return domain.CursorPage[Negotiation]{}, s.mapRepositoryError(err)
	}
	return result, nil
}

func (s *negotiationService) ListByFarmer(ctx context.Context, farmerID string, page Pagination) (domain.CursorPage[Negotiation], error) {
	farmerID = strings.TrimSpace(farmerID)
	if farmerID == "" {
		return domain.CursorPage[Negotiation]{}, fmt.Errorf("%w: farmer id is required", ErrNegotiationInvalidInput)
	}
	result, err := s.negotiations.List(ctx, repositories.NegotiationListFilter{
		FarmerID:   farmerID,
		Pagination: page,
	})
	if err != nil {
		return domain.CursorPage[Negotiation]{}, s.mapRepositoryError(err)
	}
	return result, nil
}

func (s *negotiationService) Get(ctx context.Context, negotiationID string, actor Actor) (Negotiation, error) {
	negotiationID = strings.TrimSpace(negotiationID)
	if negotiationID == "" {
		return Negotiation{}, fmt.Errorf("%w: negotiation id is required", ErrNegotiationInvalidInput)
	}

	negotiation, err := s.negotiations.FindByID(ctx, negotiationID)
	if err != nil {
		return Negotiation{}, s.mapRepositoryError(err)
	}

	if actor.ID != negotiation.BuyerID && actor.ID != negotiation.FarmerID {
		return Negotiation{}, ErrWrongActor
	}

	return negotiation, nil
}

// notify dispatches off the request path: the commit already happened, so a
// slow broker must not delay the caller's response. The send context is
// detached from request cancellation and bounded on its own.
func (s *negotiationService) notify(ctx context.Context, note domain.Notification) {
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
			s.logger(sendCtx, "negotiation.notify.failed", map[string]any{
				"recipientId": note.RecipientID,
				"entityId":    note.EntityID,
				"error":       err.Error(),
			})
		}
	}()
}

func (s *negotiationService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrNegotiationNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrTransitionConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	return err
}

func isRepositoryConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "A buyer"
	}
	return strings.TrimSpace(name)
}
