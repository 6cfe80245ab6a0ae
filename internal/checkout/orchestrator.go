// Package checkout turns a buyer's cart into an order with one line per product.
package checkout

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ushopls/marketplace/internal/domain/cart"
	"github.com/ushopls/marketplace/internal/domain/inventory"
	"github.com/ushopls/marketplace/internal/domain/order"
	"github.com/ushopls/marketplace/internal/domain/product"
	"github.com/ushopls/marketplace/internal/outbox"
)

var (
	ErrEmptyCart      = errors.New("cart is empty")
	ErrInvalidRequest = errors.New("shipping address and payment method are required")
)

type Request struct {
	BuyerID         int64
	ShippingAddress string
	PaymentMethod   string
}

type CartStore interface {
	ListCartLines(ctx context.Context, buyerID int64) ([]cart.Line, error)
	ClearCart(ctx context.Context, buyerID int64) error
}

type OrderStore interface {
	CreateOrder(ctx context.Context, o *order.Order) error
	CreateLine(ctx context.Context, l *order.Line) error
}

// StockStore decrements stock only when enough is left. A short product yields
// an *inventory.StockError and leaves the stock unchanged.
type StockStore interface {
	DecrementStock(ctx context.Context, productID int64, quantity int) error
}

type StockValidator interface {
	Validate(ctx context.Context, lines []inventory.Line) ([]*product.Product, error)
}

type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Deps struct {
	Carts  CartStore
	Orders OrderStore
	Stock  StockStore
	Guard  StockValidator
	Tx     TxManager
	Outbox outbox.Writer
	Logger *zap.Logger
}

type Orchestrator struct {
	carts  CartStore
	orders OrderStore
	stock  StockStore
	guard  StockValidator
	tx     TxManager
	outbox outbox.Writer
	log    *zap.Logger
}

func NewOrchestrator(d Deps) *Orchestrator {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		carts:  d.Carts,
		orders: d.Orders,
		stock:  d.Stock,
		guard:  d.Guard,
		tx:     d.Tx,
		outbox: d.Outbox,
		log:    log.Named("checkout"),
	}
}

// Checkout validates the buyer's cart, creates the order and its lines,
// decrements stock and empties the cart. Either all of it happens or none.
func (o *Orchestrator) Checkout(ctx context.Context, req Request) (*order.Order, error) {
	if strings.TrimSpace(req.ShippingAddress) == "" || strings.TrimSpace(req.PaymentMethod) == "" {
		return nil, ErrInvalidRequest
	}

	var placed *order.Order
	err := o.tx.WithTransaction(ctx, func(ctx context.Context) error {
		lines, err := o.carts.ListCartLines(ctx, req.BuyerID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrEmptyCart
		}

		wanted := make([]inventory.Line, len(lines))
		for i, l := range lines {
			wanted[i] = inventory.Line{ProductID: l.ProductID, Quantity: l.Quantity}
		}
		products, err := o.guard.Validate(ctx, wanted)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		orderLines := make([]order.Line, len(lines))
		for i, l := range lines {
			orderLines[i] = order.Line{
				ProductID: l.ProductID,
				SellerID:  products[i].SellerID,
				Quantity:  l.Quantity,
				Price:     products[i].Price,
				Status:    order.StatusPending,
				CreatedAt: now,
			}
		}

		placed = &order.Order{
			BuyerID:         req.BuyerID,
			Status:          order.StatusPending,
			Total:           order.Total(orderLines),
			ShippingAddress: req.ShippingAddress,
			PaymentMethod:   req.PaymentMethod,
			PaymentStatus:   order.PaymentPending,
			CreatedAt:       now,
		}
		if err := o.orders.CreateOrder(ctx, placed); err != nil {
			return err
		}
		for i := range orderLines {
			orderLines[i].OrderID = placed.ID
			if err := o.orders.CreateLine(ctx, &orderLines[i]); err != nil {
				return err
			}
		}
		placed.Lines = orderLines

		if err := o.decrement(ctx, wanted); err != nil {
			return err
		}
		if err := o.carts.ClearCart(ctx, req.BuyerID); err != nil {
			return err
		}

		return o.recordPlaced(ctx, placed, products)
	})
	if err != nil {
		o.log.Info("checkout rejected", zap.Int64("buyer_id", req.BuyerID), zap.Error(err))
		return nil, err
	}

	o.log.Info("order placed",
		zap.Int64("order_id", placed.ID),
		zap.Int64("buyer_id", placed.BuyerID),
		zap.String("total", placed.Total.StringFixed(2)),
		zap.Int("lines", len(placed.Lines)),
	)
	return placed, nil
}

// decrement takes products in ascending id order so concurrent checkouts lock
// rows in the same order.
func (o *Orchestrator) decrement(ctx context.Context, lines []inventory.Line) error {
	sorted := make([]inventory.Line, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	for _, l := range sorted {
		if err := o.stock.DecrementStock(ctx, l.ProductID, l.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) recordPlaced(ctx context.Context, placed *order.Order, products []*product.Product) error {
	items := make([]order.PlacedItem, len(placed.Lines))
	for i, l := range placed.Lines {
		items[i] = order.PlacedItem{
			LineID:    l.ID,
			ProductID: l.ProductID,
			SellerID:  l.SellerID,
			Name:      products[i].Name,
			Quantity:  l.Quantity,
			Price:     l.Price,
		}
	}

	event, err := order.NewEvent(order.EventOrderPlaced, placed.ID, order.OrderPlaced{
		OrderID:         placed.ID,
		BuyerID:         placed.BuyerID,
		Items:           items,
		Total:           placed.Total,
		ShippingAddress: placed.ShippingAddress,
		PaymentMethod:   placed.PaymentMethod,
		PlacedAt:        placed.CreatedAt,
	})
	if err != nil {
		return err
	}
	return o.outbox.AppendOutbox(ctx, event)
}
