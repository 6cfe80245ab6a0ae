package api

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ushopls/marketplace/internal/api/middleware"
	"github.com/ushopls/marketplace/internal/checkout"
	"github.com/ushopls/marketplace/internal/domain/cart"
	"github.com/ushopls/marketplace/internal/domain/order"
	"github.com/ushopls/marketplace/internal/domain/product"
	"github.com/ushopls/marketplace/internal/domain/user"
	"github.com/ushopls/marketplace/internal/infrastructure/cache"
	"github.com/ushopls/marketplace/internal/logging"
)

// Idempotency deduplicates checkout requests carrying an Idempotency-Key.
type Idempotency interface {
	Begin(ctx context.Context, userID int64, key string) (*cache.Response, error)
	Complete(ctx context.Context, userID int64, key string, resp cache.Response) error
	Release(ctx context.Context, userID int64, key string) error
}

type Handlers struct {
	products    *product.Service
	carts       *cart.Service
	orders      *order.Service
	checkout    *checkout.Orchestrator
	idempotency Idempotency
	log         *zap.Logger
}

// NewHandlers wires the marketplace handlers. idempotency may be nil.
func NewHandlers(
	products *product.Service,
	carts *cart.Service,
	orders *order.Service,
	co *checkout.Orchestrator,
	idempotency Idempotency,
	log *zap.Logger,
) *Handlers {
	return &Handlers{
		products:    products,
		carts:       carts,
		orders:      orders,
		checkout:    co,
		idempotency: idempotency,
		log:         log,
	}
}

// Product Handlers

func (h *Handlers) GetProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.ListApproved(r.Context())
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	p, err := h.products.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// Cart Handlers

type AddToCartRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type UpdateCartRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	lines, err := h.carts.List(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, lines)
}

func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req AddToCartRequest
	if !decodeJSON(r, &req) {
		respondJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	line, err := h.carts.Add(r.Context(), middleware.GetUserID(r.Context()), req.ProductID, req.Quantity)
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, line)
}

func (h *Handlers) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	var req UpdateCartRequest
	if !decodeJSON(r, &req) {
		respondJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	line, err := h.carts.UpdateQuantity(r.Context(), middleware.GetUserID(r.Context()), id, req.Quantity)
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, line)
}

func (h *Handlers) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	if err := h.carts.Remove(r.Context(), middleware.GetUserID(r.Context()), id); err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Item removed from cart"})
}

func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Clear(r.Context(), middleware.GetUserID(r.Context())); err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Cart cleared"})
}

// Order Handlers

type PlaceOrderRequest struct {
	ShippingAddress string `json:"shipping_address"`
	PaymentMethod   string `json:"payment_method"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type UpdatePaymentStatusRequest struct {
	PaymentStatus string `json:"payment_status"`
}

func (h *Handlers) GetOrders(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.GetUserFromContext(r.Context())

	var (
		orders []order.Order
		err    error
	)
	if claims.Role == string(user.RoleAdmin) {
		orders, err = h.orders.ListAll(r.Context())
	} else {
		orders, err = h.orders.ListByBuyer(r.Context(), claims.UserID)
	}
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	claims, _ := middleware.GetUserFromContext(r.Context())

	o, err := h.orders.GetForUser(r.Context(), id, claims.UserID, claims.Role == string(user.RoleAdmin))
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// PlaceOrder checks out the caller's cart. A repeated Idempotency-Key replays
// the first response.
func (h *Handlers) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if !decodeJSON(r, &req) {
		respondJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	buyerID := middleware.GetUserID(ctx)

	key := r.Header.Get("Idempotency-Key")
	dedupe := key != "" && h.idempotency != nil
	if dedupe {
		cached, err := h.idempotency.Begin(ctx, buyerID, key)
		if err != nil {
			respondDomainError(w, r, h.log, err)
			return
		}
		if cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(cached.Status)
			_, _ = w.Write(cached.Body)
			return
		}
	}

	placed, err := h.checkout.Checkout(ctx, checkout.Request{
		BuyerID:         buyerID,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
	})
	if err != nil {
		if dedupe {
			if relErr := h.idempotency.Release(ctx, buyerID, key); relErr != nil {
				logging.WithRequest(ctx, h.log).Warn("release idempotency key", zap.Error(relErr))
			}
		}
		respondDomainError(w, r, h.log, err)
		return
	}

	if dedupe {
		body, _ := json.Marshal(placed)
		if err := h.idempotency.Complete(ctx, buyerID, key, cache.Response{Status: http.StatusCreated, Body: body}); err != nil {
			logging.WithRequest(ctx, h.log).Warn("store idempotent response", zap.Error(err))
		}
	}
	respondJSON(w, http.StatusCreated, placed)
}

// UpdateOrderStatus is the admin override moving every line of an order.
func (h *Handlers) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	var req UpdateStatusRequest
	if !decodeJSON(r, &req) {
		respondJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	status, err := order.ParseStatus(req.Status)
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}

	o, err := h.orders.AdvanceOrder(r.Context(), id, status)
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	var req UpdatePaymentStatusRequest
	if !decodeJSON(r, &req) {
		respondJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	status, err := order.ParsePaymentStatus(req.PaymentStatus)
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}

	o, err := h.orders.UpdatePaymentStatus(r.Context(), id, status)
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// Seller Handlers

func (h *Handlers) GetSellerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListForSeller(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) UpdateOrderItemStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	var req UpdateStatusRequest
	if !decodeJSON(r, &req) {
		respondJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	status, err := order.ParseStatus(req.Status)
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}

	line, err := h.orders.TransitionLine(r.Context(), id, status, middleware.GetUserID(r.Context()))
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, line)
}
