package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/agriloop/api/internal/domain"
	pfirestore "github.com/agriloop/api/internal/platform/firestore"
	"github.com/agriloop/api/internal/repositories"
)

const (
	orderCollection = "orders"
)

// OrderRepository persists orders within Firestore.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// InsertBatch creates every order document inside one transaction so a
// multi-farmer checkout becomes visible as a whole or not at all.
func (r *OrderRepository) InsertBatch(ctx context.Context, orders []domain.Order) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	if len(orders) == 0 {
		return nil, errors.New("order repository: at least one order is required")
	}

	type pendingWrite struct {
		ref *firestore.DocumentRef
		doc orderDocument
	}

	writes := make([]pendingWrite, 0, len(orders))
	for _, order := range orders {
		id := strings.TrimSpace(order.ID)
		if id == "" {
			return nil, errors.New("order repository: order id is required")
		}
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return nil, err
		}
		writes = append(writes, pendingWrite{ref: ref, doc: encodeOrderDocument(order)})
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, write := range writes {
			if err := tx.Create(write.ref, write.doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	saved := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		dup := cloneOrder(order)
		dup.UpdatedAt = now
		saved = append(saved, dup)
	}
	return saved, nil
}

// UpdateGuarded is the compare-and-swap write every order mutation goes
// through. The write succeeds only when the stored document's update time
// still equals expectedUpdate.
func (r *OrderRepository) UpdateGuarded(ctx context.Context, order domain.Order, expectedUpdate time.Time) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	if expectedUpdate.IsZero() {
		return domain.Order{}, errors.New("order repository: expected update time is required")
	}

	updates := []firestore.Update{
		{Path: "status", Value: string(order.Status)},
		{Path: "hasPayment", Value: order.HasPayment},
		{Path: "isOutForDelivery", Value: order.OutForDelivery},
		{Path: "isDelivered", Value: order.Delivered},
	}
	if reason := strings.TrimSpace(order.CancelReason); reason != "" {
		updates = append(updates, firestore.Update{Path: "cancelReason", Value: reason})
	}
	if paymentID := strings.TrimSpace(order.PaymentID); paymentID != "" {
		updates = append(updates, firestore.Update{Path: "paymentId", Value: paymentID})
	}

	result, err := r.base.Update(ctx, id, updates, firestore.LastUpdateTime(expectedUpdate.UTC()))
	if err != nil {
		return domain.Order{}, err
	}

	saved := cloneOrder(order)
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// FindByID fetches a single order. The returned UpdatedAt carries the
// document's server update time used for guarded writes.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(doc.ID, doc.Data, doc.UpdateTime), nil
}

// List returns orders for one party ordered by most recent creation.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	buyerID := strings.TrimSpace(filter.BuyerID)
	farmerID := strings.TrimSpace(filter.FarmerID)
	if buyerID == "" && farmerID == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: buyer or farmer id is required")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statusFilters := normaliseOrderStatuses(filter.Status)

	var createdFrom, createdTo *time.Time
	if filter.DateRange.From != nil {
		value := filter.DateRange.From.UTC()
		if !value.IsZero() {
			createdFrom = &value
		}
	}
	if filter.DateRange.To != nil {
		value := filter.DateRange.To.UTC()
		if !value.IsZero() {
			createdTo = &value
		}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if buyerID != "" {
			q = q.Where("buyerId", "==", buyerID)
		}
		if farmerID != "" {
			q = q.Where("farmerId", "==", farmerID)
		}

		if len(statusFilters) == 1 {
			q = q.Where("status", "==", statusFilters[0])
		} else if len(statusFilters) > 1 {
			q = q.Where("status", "in", statusFilters)
		}

		if createdFrom != nil {
			q = q.Where("createdAt", ">=", *createdFrom)
		}
		if createdTo != nil {
			q = q.Where("createdAt", "<=", *createdTo)
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// ListUnpaidOnline returns confirmed gateway orders still awaiting payment,
// created at or before the cutoff. The reconciliation sweep consumes this.
func (r *OrderRepository) ListUnpaidOnline(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("transactionMode", "==", string(domain.TransactionModeOnline)).
			Where("status", "==", string(domain.OrderStatusConfirmed)).
			Where("hasPayment", "==", false).
			Where("createdAt", "<=", cutoff.UTC())
		q = q.OrderBy("createdAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, decodeOrderDocument(doc.ID, doc.Data, doc.UpdateTime))
	}
	return orders, nil
}

func encodeOrderDocument(order domain.Order) orderDocument {
	lines := make([]orderLineDocument, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLineDocument{
			Item:      encodeItemSnapshot(line.Item),
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	return orderDocument{
		BuyerID:         strings.TrimSpace(order.BuyerID),
		FarmerID:        strings.TrimSpace(order.FarmerID),
		Lines:           lines,
		TransactionMode: string(order.TransactionMode),
		DeliveryMode:    string(order.DeliveryMode),
		Status:          string(order.Status),
		HasPayment:      order.HasPayment,
		OutForDelivery:  order.OutForDelivery,
		Delivered:       order.Delivered,
		TotalAmount:     order.TotalAmount,
		BuyerInfo: buyerInfoDocument{
			Name:    strings.TrimSpace(order.BuyerInfo.Name),
			Mobile:  strings.TrimSpace(order.BuyerInfo.Mobile),
			Address: encodeAddress(order.BuyerInfo.Address),
		},
		PaymentID:    strings.TrimSpace(order.PaymentID),
		CancelReason: strings.TrimSpace(order.CancelReason),
		CreatedAt:    order.CreatedAt.UTC(),
	}
}

func decodeOrderDocument(id string, doc orderDocument, updateTime time.Time) domain.Order {
	lines := make([]domain.OrderLineItem, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		lines = append(lines, domain.OrderLineItem{
			Item:      decodeItemSnapshot(line.Item),
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	return domain.Order{
		ID:              id,
		BuyerID:         doc.BuyerID,
		FarmerID:        doc.FarmerID,
		Lines:           lines,
		TransactionMode: domain.TransactionMode(doc.TransactionMode),
		DeliveryMode:    domain.DeliveryMode(doc.DeliveryMode),
		Status:          domain.OrderStatus(doc.Status),
		HasPayment:      doc.HasPayment,
		OutForDelivery:  doc.OutForDelivery,
		Delivered:       doc.Delivered,
		TotalAmount:     doc.TotalAmount,
		BuyerInfo: domain.BuyerInfo{
			Name:    doc.BuyerInfo.Name,
			Mobile:  doc.BuyerInfo.Mobile,
			Address: decodeAddress(doc.BuyerInfo.Address),
		},
		PaymentID:    doc.PaymentID,
		CancelReason: doc.CancelReason,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    updateTime,
	}
}

func cloneOrder(order domain.Order) domain.Order {
	dup := order
	if order.Lines != nil {
		dup.Lines = make([]domain.OrderLineItem, len(order.Lines))
		copy(dup.Lines, order.Lines)
	}
	return dup
}

func normaliseOrderStatuses(statuses []domain.OrderStatus) []string {
	if len(statuses) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(statuses))
	seen := make(map[string]struct{})
	for _, status := range statuses {
		trimmed := strings.ToLower(strings.TrimSpace(string(status)))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	return normalized
}

type orderDocument struct {
	BuyerID         string              `firestore:"buyerId"`
	FarmerID        string              `firestore:"farmerId"`
	Lines           []orderLineDocument `firestore:"lines"`
	TransactionMode string              `firestore:"transactionMode"`
	DeliveryMode    string              `firestore:"deliveryMode"`
	Status          string              `firestore:"status"`
	HasPayment      bool                `firestore:"hasPayment"`
	OutForDelivery  bool                `firestore:"isOutForDelivery"`
	Delivered       bool                `firestore:"isDelivered"`
	TotalAmount     int64               `firestore:"totalAmount"`
	BuyerInfo       buyerInfoDocument   `firestore:"buyerInfo"`
	PaymentID       string              `firestore:"paymentId,omitempty"`
	CancelReason    string              `firestore:"cancelReason,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
}

type orderLineDocument struct {
	Item      itemSnapshotDocument `firestore:"item"`
	Quantity  int64                `firestore:"quantity"`
	UnitPrice int64                `firestore:"unitPrice"`
}

type buyerInfoDocument struct {
	Name    string          `firestore:"name,omitempty"`
	Mobile  string          `firestore:"mobile,omitempty"`
	Address addressDocument `firestore:"address"`
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
