package order

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ushopls/marketplace/internal/outbox"
)

// Repository stores orders and their lines.
type Repository interface {
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id int64) (*Order, error)
	ListOrdersByBuyer(ctx context.Context, buyerID int64) ([]Order, error)
	ListOrders(ctx context.Context) ([]Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status Status) error
	UpdatePaymentStatus(ctx context.Context, id int64, status PaymentStatus) error

	CreateLine(ctx context.Context, l *Line) error
	GetLine(ctx context.Context, id int64) (*Line, error)
	ListLinesByOrder(ctx context.Context, orderID int64) ([]Line, error)
	ListLinesBySeller(ctx context.Context, sellerID int64) ([]Line, error)
	UpdateLineStatus(ctx context.Context, id int64, status Status) error
}

type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo   Repository
	tx     TxManager
	outbox outbox.Writer
}

func NewService(repo Repository, tx TxManager, ob outbox.Writer) *Service {
	return &Service{repo: repo, tx: tx, outbox: ob}
}

// Get loads an order with all of its lines.
func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.attachLines(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// GetForUser loads an order visible to the caller: its buyer or an admin.
func (s *Service) GetForUser(ctx context.Context, id, userID int64, isAdmin bool) (*Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != userID && !isAdmin {
		return nil, fmt.Errorf("%w: order %d", ErrNotOwner, id)
	}
	return o, nil
}

func (s *Service) ListByBuyer(ctx context.Context, buyerID int64) ([]Order, error) {
	orders, err := s.repo.ListOrdersByBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	return s.withLines(ctx, orders)
}

func (s *Service) ListAll(ctx context.Context) ([]Order, error) {
	orders, err := s.repo.ListOrders(ctx)
	if err != nil {
		return nil, err
	}
	return s.withLines(ctx, orders)
}

// ListForSeller returns every order containing the seller's products. Each
// order carries only that seller's lines.
func (s *Service) ListForSeller(ctx context.Context, sellerID int64) ([]Order, error) {
	lines, err := s.repo.ListLinesBySeller(ctx, sellerID)
	if err != nil {
		return nil, err
	}

	grouped := make(map[int64][]Line)
	var orderIDs []int64
	for _, l := range lines {
		if _, seen := grouped[l.OrderID]; !seen {
			orderIDs = append(orderIDs, l.OrderID)
		}
		grouped[l.OrderID] = append(grouped[l.OrderID], l)
	}
	sort.Slice(orderIDs, func(i, j int) bool { return orderIDs[i] > orderIDs[j] })

	orders := make([]Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		o, err := s.repo.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		o.Lines = grouped[id]
		orders = append(orders, *o)
	}
	return orders, nil
}

// TransitionLine moves one order line along the fulfillment graph on behalf of
// the seller who owns it.
func (s *Service) TransitionLine(ctx context.Context, lineID int64, requested Status, actorSellerID int64) (*Line, error) {
	var line *Line
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		line, err = s.repo.GetLine(ctx, lineID)
		if err != nil {
			return err
		}
		if line.SellerID != actorSellerID {
			return fmt.Errorf("%w: item %d", ErrNotOwner, lineID)
		}
		if !CanTransition(line.Status, requested) {
			return transitionError(line.Status, requested)
		}

		from := line.Status
		if err := s.repo.UpdateLineStatus(ctx, lineID, requested); err != nil {
			return err
		}
		line.Status = requested

		o, err := s.repo.GetOrder(ctx, line.OrderID)
		if err != nil {
			return err
		}
		if err := s.syncOrderStatus(ctx, o); err != nil {
			return err
		}

		return s.record(ctx, EventOrderLineStatusChanged, o.ID, LineStatusChanged{
			OrderID:   o.ID,
			LineID:    line.ID,
			ProductID: line.ProductID,
			SellerID:  line.SellerID,
			BuyerID:   o.BuyerID,
			From:      from,
			To:        requested,
			ChangedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

// AdvanceOrder is the admin override: every active line is moved to target,
// skipping intermediate steps, or cancelled. Lines already past target make the
// whole request invalid.
func (s *Service) AdvanceOrder(ctx context.Context, orderID int64, target Status) (*Order, error) {
	var result *Order
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.Get(ctx, orderID)
		if err != nil {
			return err
		}
		from := o.Status

		changed := make([]int, 0, len(o.Lines))
		for i, l := range o.Lines {
			if l.Status == target || l.Status == StatusCancelled {
				continue
			}
			if l.Status.IsTerminal() || (target != StatusCancelled && progress[l.Status] > progress[target]) {
				return transitionError(l.Status, target)
			}
			changed = append(changed, i)
		}
		if len(changed) == 0 && from != target {
			return transitionError(from, target)
		}

		for _, i := range changed {
			if err := s.repo.UpdateLineStatus(ctx, o.Lines[i].ID, target); err != nil {
				return err
			}
			o.Lines[i].Status = target
		}
		if err := s.syncOrderStatus(ctx, o); err != nil {
			return err
		}
		result = o

		if from == o.Status {
			return nil
		}
		return s.record(ctx, EventOrderStatusChanged, o.ID, OrderStatusChanged{
			OrderID:   o.ID,
			BuyerID:   o.BuyerID,
			From:      from,
			To:        o.Status,
			ChangedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdatePaymentStatus applies a payment callback result to the order.
func (s *Service) UpdatePaymentStatus(ctx context.Context, orderID int64, status PaymentStatus) (*Order, error) {
	var result *Order
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if !canPay(o.PaymentStatus, status) {
			return transitionError(o.PaymentStatus, status)
		}

		from := o.PaymentStatus
		if err := s.repo.UpdatePaymentStatus(ctx, orderID, status); err != nil {
			return err
		}
		o.PaymentStatus = status
		result = o

		return s.record(ctx, EventPaymentStatusChanged, o.ID, PaymentStatusChanged{
			OrderID:   o.ID,
			BuyerID:   o.BuyerID,
			From:      from,
			To:        status,
			ChangedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) attachLines(ctx context.Context, o *Order) error {
	lines, err := s.repo.ListLinesByOrder(ctx, o.ID)
	if err != nil {
		return err
	}
	o.Lines = lines
	if len(lines) > 0 {
		o.Status = DeriveStatus(lines)
	}
	return nil
}

func (s *Service) withLines(ctx context.Context, orders []Order) ([]Order, error) {
	for i := range orders {
		if err := s.attachLines(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// syncOrderStatus stores the status derived from o.Lines when it drifted.
func (s *Service) syncOrderStatus(ctx context.Context, o *Order) error {
	if o.Lines == nil {
		lines, err := s.repo.ListLinesByOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		o.Lines = lines
	}
	derived := DeriveStatus(o.Lines)
	stored, err := s.repo.GetOrder(ctx, o.ID)
	if err != nil {
		return err
	}
	o.Status = derived
	if stored.Status == derived {
		return nil
	}
	return s.repo.UpdateOrderStatus(ctx, o.ID, derived)
}

func (s *Service) record(ctx context.Context, eventType string, orderID int64, payload any) error {
	event, err := NewEvent(eventType, orderID, payload)
	if err != nil {
		return err
	}
	return s.outbox.AppendOutbox(ctx, event)
}
