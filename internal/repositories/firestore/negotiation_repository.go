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
	"github.com/agriloop/api/internal/platform/pagination"
	"github.com/agriloop/api/internal/repositories"
)

const (
	negotiationCollection = "negotiations"
)

// NegotiationRepository persists price offers within Firestore.
type NegotiationRepository struct {
	base     *pfirestore.BaseRepository[negotiationDocument]
	provider *pfirestore.Provider
}

// NewNegotiationRepository constructs a Firestore-backed negotiation repository.
func NewNegotiationRepository(provider *pfirestore.Provider) (*NegotiationRepository, error) {
	if provider == nil {
		return nil, errors.New("negotiation repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[negotiationDocument](provider, negotiationCollection, nil, nil)
	return &NegotiationRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates the offer document; an existing ID surfaces as a conflict.
func (r *NegotiationRepository) Insert(ctx context.Context, negotiation domain.Negotiation) (domain.Negotiation, error) {
	if r == nil || r.base == nil {
		return domain.Negotiation{}, errors.New("negotiation repository not initialised")
	}
	id := strings.TrimSpace(negotiation.ID)
	if id == "" {
		return domain.Negotiation{}, errors.New("negotiation repository: negotiation id is required")
	}

	doc := encodeNegotiationDocument(negotiation)
	result, err := r.base.Create(ctx, id, doc)
	if err != nil {
		return domain.Negotiation{}, err
	}

	saved := negotiation
	saved.ID = id
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// UpdateGuarded writes the offer response only when the stored document's
// update time still matches expectedUpdate. A lost race maps to a conflict
// through the platform error wrapper.
func (r *NegotiationRepository) UpdateGuarded(ctx context.Context, negotiation domain.Negotiation, expectedUpdate time.Time) (domain.Negotiation, error) {
	if r == nil || r.base == nil {
		return domain.Negotiation{}, errors.New("negotiation repository not initialised")
	}
	id := strings.TrimSpace(negotiation.ID)
	if id == "" {
		return domain.Negotiation{}, errors.New("negotiation repository: negotiation id is required")
	}
	if expectedUpdate.IsZero() {
		return domain.Negotiation{}, errors.New("negotiation repository: expected update time is required")
	}

	updates := []firestore.Update{
		{Path: "status", Value: string(negotiation.Status)},
	}

	result, err := r.base.Update(ctx, id, updates, firestore.LastUpdateTime(expectedUpdate.UTC()))
	if err != nil {
		return domain.Negotiation{}, err
	}

	saved := negotiation
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// FindByID fetches a single offer. The returned UpdatedAt carries the
// document's server update time used for guarded writes.
func (r *NegotiationRepository) FindByID(ctx context.Context, negotiationID string) (domain.Negotiation, error) {
	if r == nil || r.base == nil {
		return domain.Negotiation{}, errors.New("negotiation repository not initialised")
	}
	negotiationID = strings.TrimSpace(negotiationID)
	if negotiationID == "" {
		return domain.Negotiation{}, errors.New("negotiation repository: negotiation id is required")
	}
	doc, err := r.base.Get(ctx, negotiationID)
	if err != nil {
		return domain.Negotiation{}, err
	}
	return decodeNegotiationDocument(doc.ID, doc.Data, doc.UpdateTime), nil
}

// List returns offers for one party ordered by most recent creation.
func (r *NegotiationRepository) List(ctx context.Context, filter repositories.NegotiationListFilter) (domain.CursorPage[domain.Negotiation], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Negotiation]{}, errors.New("negotiation repository not initialised")
	}

	buyerID := strings.TrimSpace(filter.BuyerID)
	farmerID := strings.TrimSpace(filter.FarmerID)
	if buyerID == "" && farmerID == "" {
		return domain.CursorPage[domain.Negotiation]{}, errors.New("negotiation repository: buyer or farmer id is required")
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
			return domain.CursorPage[domain.Negotiation]{}, fmt.Errorf("negotiation repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statusFilters := normaliseNegotiationStatuses(filter.Status)

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
		return domain.CursorPage[domain.Negotiation]{}, err
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

	items := make([]domain.Negotiation, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeNegotiationDocument(doc.ID, doc.Data, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Negotiation]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

func encodeNegotiationDocument(negotiation domain.Negotiation) negotiationDocument {
	return negotiationDocument{
		BuyerID:         strings.TrimSpace(negotiation.BuyerID),
		BuyerName:       strings.TrimSpace(negotiation.BuyerName),
		FarmerID:        strings.TrimSpace(negotiation.FarmerID),
		NegotiatedPrice: negotiation.NegotiatedPrice,
		Note:            strings.TrimSpace(negotiation.Note),
		Item:            encodeItemSnapshot(negotiation.Item),
		Status:          string(negotiation.Status),
		CreatedAt:       negotiation.CreatedAt.UTC(),
	}
}

func decodeNegotiationDocument(id string, doc negotiationDocument, updateTime time.Time) domain.Negotiation {
	return domain.Negotiation{
		ID:              id,
		BuyerID:         doc.BuyerID,
		BuyerName:       doc.BuyerName,
		FarmerID:        doc.FarmerID,
		NegotiatedPrice: doc.NegotiatedPrice,
		Note:            doc.Note,
		Item:            decodeItemSnapshot(doc.Item),
		Status:          domain.NegotiationStatus(doc.Status),
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       updateTime,
	}
}

func encodeItemSnapshot(item domain.ItemSnapshot) itemSnapshotDocument {
	return itemSnapshotDocument{
		ItemID:      strings.TrimSpace(item.ItemID),
		Title:       strings.TrimSpace(item.Title),
		WasteType:   strings.TrimSpace(item.WasteType),
		Moisture:    strings.TrimSpace(item.Moisture),
		Quantity:    item.Quantity,
		Unit:        strings.TrimSpace(item.Unit),
		ListedPrice: item.ListedPrice,
		Description: strings.TrimSpace(item.Description),
		ImageURL:    strings.TrimSpace(item.ImageURL),
		FarmerName:  strings.TrimSpace(item.FarmerName),
		FarmerPhone: strings.TrimSpace(item.FarmerPhone),
		Address:     encodeAddress(item.Address),
	}
}

func decodeItemSnapshot(doc itemSnapshotDocument) domain.ItemSnapshot {
	return domain.ItemSnapshot{
		ItemID:      doc.ItemID,
		Title:       doc.Title,
		WasteType:   doc.WasteType,
		Moisture:    doc.Moisture,
		Quantity:    doc.Quantity,
		Unit:        doc.Unit,
		ListedPrice: doc.ListedPrice,
		Description: doc.Description,
		ImageURL:    doc.ImageURL,
		FarmerName:  doc.FarmerName,
		FarmerPhone: doc.FarmerPhone,
		Address:     decodeAddress(doc.Address),
	}
}

func encodeAddress(address domain.Address) addressDocument {
	return addressDocument{
		Line1:    strings.TrimSpace(address.Line1),
		Line2:    strings.TrimSpace(address.Line2),
		Village:  strings.TrimSpace(address.Village),
		District: strings.TrimSpace(address.District),
		State:    strings.TrimSpace(address.State),
		PinCode:  strings.TrimSpace(address.PinCode),
	}
}

func decodeAddress(doc addressDocument) domain.Address {
	return domain.Address{
		Line1:    doc.Line1,
		Line2:    doc.Line2,
		Village:  doc.Village,
		District: doc.District,
		State:    doc.State,
		PinCode:  doc.PinCode,
	}
}

func normaliseNegotiationStatuses(statuses []domain.NegotiationStatus) []string {
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

func encodeListToken(createdAt time.Time, docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{createdAt.UTC().Format(time.RFC3339Nano), docID},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeListToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", pagination.ErrInvalidPageToken
	}
	rawTime, timeOK := cursor.StartAfter[0].(string)
	docID, idOK := cursor.StartAfter[1].(string)
	if !timeOK || !idOK {
		return time.Time{}, "", pagination.ErrInvalidPageToken
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
	}
	return ts, docID, nil
}

type negotiationDocument struct {
	BuyerID         string               `firestore:"buyerId"`
	BuyerName       string               `firestore:"buyerName,omitempty"`
	FarmerID        string               `firestore:"farmerId"`
	NegotiatedPrice int64                `firestore:"negotiatedPrice"`
	Note            string               `firestore:"note,omitempty"`
	Item            itemSnapshotDocument `firestore:"item"`
	Status          string               `firestore:"status"`
	CreatedAt       time.Time            `firestore:"createdAt"`
}

type itemSnapshotDocument struct {
	ItemID      string          `firestore:"itemId"`
	Title       string          `firestore:"title"`
	WasteType   string          `firestore:"wasteType,omitempty"`
	Moisture    string          `firestore:"moisture,omitempty"`
	Quantity    int64           `firestore:"quantity"`
	Unit        string          `firestore:"unit,omitempty"`
	ListedPrice int64           `firestore:"listedPrice"`
	Description string          `firestore:"description,omitempty"`
	ImageURL    string          `firestore:"imageUrl,omitempty"`
	FarmerName  string          `firestore:"farmerName,omitempty"`
	FarmerPhone string          `firestore:"farmerPhone,omitempty"`
	Address     addressDocument `firestore:"address"`
}

type addressDocument struct {
	Line1    string `firestore:"line1,omitempty"`
	Line2    string `firestore:"line2,omitempty"`
	Village  string `firestore:"village,omitempty"`
	District string `firestore:"district,omitempty"`
	State    string `firestore:"state,omitempty"`
	PinCode  string `firestore:"pinCode,omitempty"`
}

var _ repositories.NegotiationRepository = (*NegotiationRepository)(nil)
