package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ushopls/marketplace/internal/api/middleware"
	"github.com/ushopls/marketplace/internal/auth"
	"github.com/ushopls/marketplace/internal/domain/user"
)

type RouterConfig struct {
	Handlers     *Handlers
	AuthHandlers *AuthHandlers
	JWTService   *auth.JWTService
	// RateLimiter is optional.
	RateLimiter *middleware.RateLimiter
	Logger      *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	h := cfg.Handlers
	ah := cfg.AuthHandlers
	requireAuth := middleware.AuthMiddleware(cfg.JWTService)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Handler)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", ah.Register)
			r.Post("/login", ah.Login)
			r.Post("/logout", ah.Logout)
			r.Post("/refresh", ah.Refresh)
			r.With(requireAuth).Get("/me", ah.Me)
		})

		r.Get("/products", h.GetProducts)
		r.Get("/products/{id}", h.GetProduct)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.GetCart)
				r.Post("/", h.AddToCart)
				r.Delete("/", h.ClearCart)
				r.Put("/{id}", h.UpdateCartItem)
				r.Delete("/{id}", h.RemoveFromCart)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", h.GetOrders)
				r.Post("/", h.PlaceOrder)
				r.Get("/{id}", h.GetOrder)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole(user.RoleAdmin))
					r.Put("/{id}/status", h.UpdateOrderStatus)
					r.Put("/{id}/payment-status", h.UpdatePaymentStatus)
				})
			})

			r.Route("/seller", func(r chi.Router) {
				r.Use(middleware.RequireRole(user.RoleSeller))
				r.Get("/orders", h.GetSellerOrders)
				r.Put("/order-items/{id}/status", h.UpdateOrderItemStatus)
			})
		})
	})

	return r
}
