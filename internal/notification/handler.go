// Package notification emails buyers about their orders.
package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ushopls/marketplace/internal/domain/order"
	"github.com/ushopls/marketplace/internal/domain/product"
	"github.com/ushopls/marketplace/internal/domain/user"
	"github.com/ushopls/marketplace/internal/email"
	"github.com/ushopls/marketplace/internal/infrastructure/kafka"
)

type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*user.User, error)
}

type ProductLookup interface {
	GetProduct(ctx context.Context, id int64) (*product.Product, error)
}

type Mailer interface {
	SendOrderConfirmation(to string, orderID int64, total decimal.Decimal, items []email.OrderItem) error
	SendStatusUpdate(to string, orderID int64, itemName, status string) error
}

// Handler processes events for sending notifications
type Handler struct {
	mailer   Mailer
	users    UserLookup
	products ProductLookup
	log      *zap.Logger
}

// NewHandler creates a new notification handler
func NewHandler(mailer Mailer, users UserLookup, products ProductLookup, log *zap.Logger) *Handler {
	return &Handler{
		mailer:   mailer,
		users:    users,
		products: products,
		log:      log.Named("notifier"),
	}
}

// HandleEvent processes an event from Kafka. Unrelated event types are ignored.
func (h *Handler) HandleEvent(ctx context.Context, msg kafka.Message) error {
	switch msg.EventType {
	case order.EventOrderPlaced:
		return h.handleOrderPlaced(ctx, msg.Value)
	case order.EventOrderLineStatusChanged:
		return h.handleLineStatusChanged(ctx, msg.Value)
	default:
		return nil
	}
}

func (h *Handler) handleOrderPlaced(ctx context.Context, data []byte) error {
	var e order.OrderPlaced
	if err := json.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("decode OrderPlaced: %w", err)
	}

	buyer, err := h.users.GetUser(ctx, e.BuyerID)
	if err != nil {
		return fmt.Errorf("load buyer %d: %w", e.BuyerID, err)
	}

	items := make([]email.OrderItem, len(e.Items))
	for i, item := range e.Items {
		items[i] = email.OrderItem{Name: item.Name, Quantity: item.Quantity, Price: item.Price}
	}

	if err := h.mailer.SendOrderConfirmation(buyer.Email, e.OrderID, e.Total, items); err != nil {
		return fmt.Errorf("send confirmation for order %d: %w", e.OrderID, err)
	}
	h.log.Info("order confirmation sent", zap.Int64("order_id", e.OrderID), zap.String("to", buyer.Email))
	return nil
}

func (h *Handler) handleLineStatusChanged(ctx context.Context, data []byte) error {
	var e order.LineStatusChanged
	if err := json.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("decode OrderLineStatusChanged: %w", err)
	}

	buyer, err := h.users.GetUser(ctx, e.BuyerID)
	if err != nil {
		return fmt.Errorf("load buyer %d: %w", e.BuyerID, err)
	}

	name := fmt.Sprintf("Product #%d", e.ProductID)
	if p, err := h.products.GetProduct(ctx, e.ProductID); err == nil {
		name = p.Name
	}

	if err := h.mailer.SendStatusUpdate(buyer.Email, e.OrderID, name, string(e.To)); err != nil {
		return fmt.Errorf("send status update for order %d: %w", e.OrderID, err)
	}
	h.log.Info("status update sent",
		zap.Int64("order_id", e.OrderID),
		zap.Int64("line_id", e.LineID),
		zap.String("status", string(e.To)),
	)
	return nil
}
