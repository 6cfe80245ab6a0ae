package order

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ushopls/marketplace/internal/outbox"
)

const AggregateType = "Order"

const (
	EventOrderPlaced            = "OrderPlaced"
	EventOrderLineStatusChanged = "OrderLineStatusChanged"
	EventOrderStatusChanged     = "OrderStatusChanged"
	EventPaymentStatusChanged   = "PaymentStatusChanged"
)

type PlacedItem struct {
	LineID    int64           `json:"line_id"`
	ProductID int64           `json:"product_id"`
	SellerID  int64           `json:"seller_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type OrderPlaced struct {
	OrderID         int64           `json:"order_id"`
	BuyerID         int64           `json:"buyer_id"`
	Items           []PlacedItem    `json:"items"`
	Total           decimal.Decimal `json:"total"`
	ShippingAddress string          `json:"shipping_address"`
	PaymentMethod   string          `json:"payment_method"`
	PlacedAt        time.Time       `json:"placed_at"`
}

type LineStatusChanged struct {
	OrderID   int64     `json:"order_id"`
	LineID    int64     `json:"line_id"`
	ProductID int64     `json:"product_id"`
	SellerID  int64     `json:"seller_id"`
	BuyerID   int64     `json:"buyer_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	ChangedAt time.Time `json:"changed_at"`
}

type OrderStatusChanged struct {
	OrderID   int64     `json:"order_id"`
	BuyerID   int64     `json:"buyer_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	ChangedAt time.Time `json:"changed_at"`
}

type PaymentStatusChanged struct {
	OrderID   int64         `json:"order_id"`
	BuyerID   int64         `json:"buyer_id"`
	From      PaymentStatus `json:"from"`
	To        PaymentStatus `json:"to"`
	ChangedAt time.Time     `json:"changed_at"`
}

// NewEvent wraps an order event payload for the outbox.
func NewEvent(eventType string, orderID int64, payload any) (*outbox.Event, error) {
	return outbox.NewEvent(AggregateType, strconv.FormatInt(orderID, 10), eventType, payload)
}
