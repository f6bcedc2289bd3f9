package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody — единый формат ошибки на проводе. Внутренние детали
// (стеки, запросы, тексты ошибок хранилища) наружу не уходят.
type errorBody struct {
	Error   string           `json:"error"`
	Code    string           `json:"code"`
	Details []shortageDetail `json:"details,omitempty"`
	Fields  []string         `json:"fields,omitempty"`
}

type shortageDetail struct {
	ProductID string `json:"productId"`
	Name      string `json:"name,omitempty"`
	Available int32  `json:"available"`
	Requested int32  `json:"requested"`
	Error     string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	var verr *checkout.ValidationError
	if errors.As(err, &verr) {
		fields := make([]string, 0, len(verr.Errs))
		for _, fieldErr := range verr.Errs {
			fields = append(fields, fieldErr.Error())
		}
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:  "validation failed",
			Code:   "validation_error",
			Fields: fields,
		})
		return
	}

	var serr *checkout.StockError
	if errors.As(err, &serr) {
		details := make([]shortageDetail, 0, len(serr.Shortages))
		for _, s := range serr.Shortages {
			details = append(details, shortageDetail{
				ProductID: s.ProductID,
				Name:      s.Name,
				Available: s.Available,
				Requested: s.Requested,
				Error:     domain.ErrInsufficientStock.Error(),
			})
		}
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:   "insufficient stock",
			Code:    "insufficient_stock",
			Details: details,
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrProductNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Code: "not_found"})
	case errors.Is(err, domain.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many requests", Code: "rate_limited"})
	case errors.Is(err, domain.ErrMissingSignature),
		errors.Is(err, domain.ErrInvalidSignature):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid signature", Code: "invalid_signature"})
	case errors.Is(err, domain.ErrMissingIntentionID):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "external_intention_id is required", Code: "missing_intention_id"})
	case errors.Is(err, domain.ErrUnknownGatewayStatus):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown gateway status", Code: "unknown_gateway_status"})
	case errors.Is(err, domain.ErrUnknownOrderStatus):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown order status", Code: "unknown_order_status"})
	case errors.Is(err, domain.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorBody{Error: "transition not allowed", Code: "invalid_transition"})
	case errors.Is(err, domain.ErrOrderEditLocked):
		writeJSON(w, http.StatusConflict, errorBody{Error: "order can no longer be edited", Code: "edit_locked"})
	case errors.Is(err, domain.ErrOrderVersionConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: "concurrent update, retry", Code: "version_conflict"})
	case errors.Is(err, domain.ErrInsufficientStock):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "insufficient stock", Code: "insufficient_stock"})
	case errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrItemsRequired),
		errors.Is(err, domain.ErrCustomerNameRequired),
		errors.Is(err, domain.ErrCustomerPhoneRequired),
		errors.Is(err, domain.ErrShippingAddressRequired):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "validation_error"})
	case errors.Is(err, domain.ErrGatewayUnavailable),
		errors.Is(err, domain.ErrIntentionRejected):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "payment gateway unavailable", Code: "gateway_unavailable"})
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		writeJSON(w, http.StatusConflict, errorBody{Error: "idempotency key reused with different payload", Code: "idempotency_mismatch"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
	}
}
