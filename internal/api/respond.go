package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ushopls/marketplace/internal/auth"
	"github.com/ushopls/marketplace/internal/checkout"
	"github.com/ushopls/marketplace/internal/domain/cart"
	"github.com/ushopls/marketplace/internal/domain/inventory"
	"github.com/ushopls/marketplace/internal/domain/order"
	"github.com/ushopls/marketplace/internal/domain/product"
	"github.com/ushopls/marketplace/internal/domain/user"
	"github.com/ushopls/marketplace/internal/infrastructure/cache"
	"github.com/ushopls/marketplace/internal/logging"
)

var errInvalidID = errors.New("invalid id")

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondJSONError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, status, map[string]string{"error": message})
}

type stockErrorBody struct {
	Error     string `json:"error"`
	ProductID int64  `json:"product_id"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

// statusFor maps domain errors onto HTTP status codes. Unknown errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, product.ErrUnavailable),
		errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrInvalidRequest),
		errors.Is(err, order.ErrUnknownStatus),
		errors.Is(err, order.ErrUnknownPaymentStatus),
		errors.Is(err, user.ErrInvalidEmail),
		errors.Is(err, user.ErrInvalidUsername),
		errors.Is(err, user.ErrInvalidRole),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrPasswordTooLong),
		errors.Is(err, errInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, user.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, cart.ErrNotOwner),
		errors.Is(err, order.ErrNotOwner),
		errors.Is(err, user.ErrUserSuspended):
		return http.StatusForbidden
	case errors.Is(err, product.ErrNotFound),
		errors.Is(err, cart.ErrLineNotFound),
		errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, order.ErrLineNotFound),
		errors.Is(err, user.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, user.ErrEmailTaken),
		errors.Is(err, user.ErrUsernameTaken),
		errors.Is(err, cache.ErrInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondDomainError writes err with the status statusFor picks. Server
// errors are logged and hidden from the client.
func respondDomainError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.WithRequest(r.Context(), log).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		respondJSONError(w, "internal server error", status)
		return
	}

	var stockErr *inventory.StockError
	if errors.As(err, &stockErr) {
		respondJSON(w, status, stockErrorBody{
			Error:     err.Error(),
			ProductID: stockErr.ProductID,
			Available: stockErr.Available,
			Requested: stockErr.Requested,
		})
		return
	}
	respondJSONError(w, err.Error(), status)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidID
	}
	return id, nil
}

func decodeJSON(r *http.Request, dst any) bool {
	return json.NewDecoder(r.Body).Decode(dst) == nil
}
