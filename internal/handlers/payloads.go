package handlers

import (
	"github.com/agriloop/api/internal/domain"
)

type addressPayload struct {
	Line1    string `json:"line1,omitempty"`
	Line2    string `json:"line2,omitempty"`
	Village  string `json:"village,omitempty"`
	District string `json:"district,omitempty"`
	State    string `json:"state,omitempty"`
	PinCode  string `json:"pinCode,omitempty"`
}

type itemSnapshotPayload struct {
	ItemID      string         `json:"itemId"`
	Title       string         `json:"title"`
	WasteType   string         `json:"wasteType,omitempty"`
	Moisture    string         `json:"moisture,omitempty"`
	Quantity    int64          `json:"quantity"`
	Unit        string         `json:"unit,omitempty"`
	ListedPrice int64          `json:"listedPrice"`
	Description string         `json:"description,omitempty"`
	ImageURL    string         `json:"imageUrl,omitempty"`
	FarmerName  string         `json:"farmerName,omitempty"`
	FarmerPhone string         `json:"farmerPhone,omitempty"`
	Address     addressPayload `json:"address"`
}

type negotiationPayload struct {
	ID              string              `json:"id"`
	BuyerID         string              `json:"buyerId"`
	BuyerName       string              `json:"buyerName,omitempty"`
	FarmerID        string              `json:"farmerId"`
	NegotiatedPrice int64               `json:"negotiatedPrice"`
	Note            string              `json:"note,omitempty"`
	Item            itemSnapshotPayload `json:"item"`
	Status          string              `json:"status"`
	CreatedAt       string              `json:"createdAt"`
	UpdatedAt       string              `json:"updatedAt,omitempty"`
}

type negotiationListResponse struct {
	Items         []negotiationPayload `json:"items"`
	NextPageToken string               `json:"nextPageToken,omitempty"`
}

type orderLinePayload struct {
	Item      itemSnapshotPayload `json:"item"`
	Quantity  int64               `json:"quantity"`
	UnitPrice int64               `json:"unitPrice"`
	Subtotal  int64               `json:"subtotal"`
}

type buyerInfoPayload struct {
	Name    string         `json:"name,omitempty"`
	Mobile  string         `json:"mobile,omitempty"`
	Address addressPayload `json:"address"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	BuyerID         string             `json:"buyerId"`
	FarmerID        string             `json:"farmerId"`
	Lines           []orderLinePayload `json:"lines"`
	TransactionMode string             `json:"transactionMode"`
	DeliveryMode    string             `json:"deliveryMode"`
	Status          string             `json:"status"`
	HasPayment      bool               `json:"hasPayment"`
	OutForDelivery  bool               `json:"isOutForDelivery"`
	Delivered       bool               `json:"isDelivered"`
	TotalAmount     int64              `json:"totalAmount"`
	BuyerInfo       buyerInfoPayload   `json:"buyerInfo"`
	PaymentID       string             `json:"paymentId,omitempty"`
	CancelReason    string             `json:"cancelReason,omitempty"`
	CreatedAt       string             `json:"createdAt"`
	UpdatedAt       string             `json:"updatedAt,omitempty"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func buildAddressPayload(a domain.Address) addressPayload {
	return addressPayload{
		Line1:    a.Line1,
		Line2:    a.Line2,
		Village:  a.Village,
		District: a.District,
		State:    a.State,
		PinCode:  a.PinCode,
	}
}

func buildItemSnapshotPayload(item domain.ItemSnapshot) itemSnapshotPayload {
	return itemSnapshotPayload{
		ItemID:      item.ItemID,
		Title:       item.Title,
		WasteType:   item.WasteType,
		Moisture:    item.Moisture,
		Quantity:    item.Quantity,
		Unit:        item.Unit,
		ListedPrice: item.ListedPrice,
		Description: item.Description,
		ImageURL:    item.ImageURL,
		FarmerName:  item.FarmerName,
		FarmerPhone: item.FarmerPhone,
		Address:     buildAddressPayload(item.Address),
	}
}

func buildNegotiationPayload(neg domain.Negotiation) negotiationPayload {
	return negotiationPayload{
		ID:              neg.ID,
		BuyerID:         neg.BuyerID,
		BuyerName:       neg.BuyerName,
		FarmerID:        neg.FarmerID,
		NegotiatedPrice: neg.NegotiatedPrice,
		Note:            neg.Note,
		Item:            buildItemSnapshotPayload(neg.Item),
		Status:          string(neg.Status),
		CreatedAt:       formatTime(neg.CreatedAt),
		UpdatedAt:       formatTime(neg.UpdatedAt),
	}
}

func buildOrderPayload(order domain.Order) orderPayload {
	lines := make([]orderLinePayload, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLinePayload{
			Item:      buildItemSnapshotPayload(line.Item),
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Subtotal:  line.Subtotal(),
		})
	}
	return orderPayload{
		ID:              order.ID,
		BuyerID:         order.BuyerID,
		FarmerID:        order.FarmerID,
		Lines:           lines,
		TransactionMode: string(order.TransactionMode),
		DeliveryMode:    string(order.DeliveryMode),
		Status:          string(order.Status),
		HasPayment:      order.HasPayment,
		OutForDelivery:  order.OutForDelivery,
		Delivered:       order.Delivered,
		TotalAmount:     order.TotalAmount,
		BuyerInfo: buyerInfoPayload{
			Name:    order.BuyerInfo.Name,
			Mobile:  order.BuyerInfo.Mobile,
			Address: buildAddressPayload(order.BuyerInfo.Address),
		},
		PaymentID:    order.PaymentID,
		CancelReason: order.CancelReason,
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
	}
}

type itemSnapshotRequest struct {
	ItemID      string         `json:"itemId"`
	Title       string         `json:"title"`
	WasteType   string         `json:"wasteType"`
	Moisture    string         `json:"moisture"`
	Quantity    int64          `json:"quantity"`
	Unit        string         `json:"unit"`
	ListedPrice int64          `json:"listedPrice"`
	Description string         `json:"description"`
	ImageURL    string         `json:"imageUrl"`
	FarmerName  string         `json:"farmerName"`
	FarmerPhone string         `json:"farmerPhone"`
	Address     addressPayload `json:"address"`
}

func (r itemSnapshotRequest) toDomain() domain.ItemSnapshot {
	return domain.ItemSnapshot{
		ItemID:      r.ItemID,
		Title:       r.Title,
		WasteType:   r.WasteType,
		Moisture:    r.Moisture,
		Quantity:    r.Quantity,
		Unit:        r.Unit,
		ListedPrice: r.ListedPrice,
		Description: r.Description,
		ImageURL:    r.ImageURL,
		FarmerName:  r.FarmerName,
		FarmerPhone: r.FarmerPhone,
		Address: domain.Address{
			Line1:    r.Address.Line1,
			Line2:    r.Address.Line2,
			Village:  r.Address.Village,
			District: r.Address.District,
			State:    r.Address.State,
			PinCode:  r.Address.PinCode,
		},
	}
}
