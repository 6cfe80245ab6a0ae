package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrLineNotFound         = errors.New("order item not found")
	ErrNotOwner             = errors.New("not the owner of this order item")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrUnknownStatus        = errors.New("unknown order status")
	ErrUnknownPaymentStatus = errors.New("unknown payment status")
)

// validTransitions defines allowed state transitions for an order line
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered, StatusCancelled},
	StatusDelivered:  {}, // terminal state
	StatusCancelled:  {}, // terminal state
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:   {PaymentCompleted, PaymentFailed},
	PaymentFailed:    {PaymentCompleted},
	PaymentCompleted: {},
}

// progress orders the non-cancelled statuses along the fulfillment path.
var progress = map[Status]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusShipped:    2,
	StatusDelivered:  3,
}

func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if _, ok := validTransitions[status]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return status, nil
}

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	status := PaymentStatus(s)
	if _, ok := paymentTransitions[status]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPaymentStatus, s)
	}
	return status, nil
}

func (s Status) IsTerminal() bool {
	return len(validTransitions[s]) == 0
}

// CanTransition checks if a line in status from may move to status to
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func canPay(from, to PaymentStatus) bool {
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transitionError[S ~string](from, to S) error {
	return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, from, to)
}

// Order is the buyer-facing record of a checkout.
type Order struct {
	ID              int64           `json:"id"`
	BuyerID         int64           `json:"user_id"`
	Status          Status          `json:"status"`
	Total           decimal.Decimal `json:"total"`
	ShippingAddress string          `json:"shipping_address"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	CreatedAt       time.Time       `json:"created_at"`
	Lines           []Line          `json:"items,omitempty"`
}

// Line is one seller's portion of an order. Price and SellerID are frozen at
// checkout; only Status changes afterwards.
type Line struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	SellerID  int64           `json:"seller_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

func (l Line) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Total sums price times quantity over lines.
func Total(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// DeriveStatus computes the order status from its lines. An order is delivered
// or cancelled only when every line is. Otherwise it reports the least advanced
// active line, capped at shipped.
func DeriveStatus(lines []Line) Status {
	if len(lines) == 0 {
		return StatusPending
	}

	allDelivered, allCancelled := true, true
	least := StatusShipped
	for _, l := range lines {
		if l.Status != StatusDelivered {
			allDelivered = false
		}
		if l.Status != StatusCancelled {
			allCancelled = false
			if progress[l.Status] < progress[least] {
				least = l.Status
			}
		}
	}

	switch {
	case allDelivered:
		return StatusDelivered
	case allCancelled:
		return StatusCancelled
	default:
		return least
	}
}
