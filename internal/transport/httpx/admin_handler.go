package httpx

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
)

// AdminHandler обслуживает административные операции над заказами.
// Аутентификация администратора живёт во внешнем слое перед этим API.
type AdminHandler struct {
	Checkout *checkout.Orchestrator
	Orders   *orders.Service
	Logger   *log.Entry
}

// Register монтирует административные маршруты.
func (h *AdminHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/timeline", h.timeline)
	r.Put("/orders/{id}", h.editOrder)
	r.Post("/orders/status", h.transition)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
}

type orderItemResp struct {
	ProductID      string `json:"productId"`
	Name           string `json:"name"`
	UnitPriceMinor int64  `json:"unitPrice"`
	Quantity       int32  `json:"quantity"`
	Image          string `json:"image,omitempty"`
}

type orderResp struct {
	ID                  string          `json:"id"`
	OrderNumber         string          `json:"orderNumber"`
	CustomerName        string          `json:"customerName"`
	CustomerPhone       string          `json:"customerPhone"`
	CustomerEmail       string          `json:"customerEmail,omitempty"`
	CustomerAddress     string          `json:"customerAddress,omitempty"`
	Shipping            bool            `json:"shipping"`
	Items               []orderItemResp `json:"items"`
	TotalAmountMinor    int64           `json:"totalAmount"`
	Status              string          `json:"status"`
	PaymentStatus       string          `json:"paymentStatus,omitempty"`
	StockUpdated        bool            `json:"stockUpdated"`
	ExternalIntentionID string          `json:"externalIntentionId,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

func toOrderResp(order domain.Order) orderResp {
	items := make([]orderItemResp, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResp{
			ProductID:      item.ProductID,
			Name:           item.Name,
			UnitPriceMinor: item.UnitPriceMinor,
			Quantity:       item.Qty,
			Image:          item.Image,
		})
	}
	return orderResp{
		ID:                  order.ID,
		OrderNumber:         order.OrderNumber,
		CustomerName:        order.CustomerName,
		CustomerPhone:       order.CustomerPhone,
		CustomerEmail:       order.CustomerEmail,
		CustomerAddress:     order.CustomerAddress,
		Shipping:            order.Shipping,
		Items:               items,
		TotalAmountMinor:    order.TotalAmountMinor,
		Status:              string(order.Status),
		PaymentStatus:       string(order.PaymentStatus),
		StockUpdated:        order.StockUpdated,
		ExternalIntentionID: order.ExternalIntentionID,
		CreatedAt:           order.CreatedAt,
		UpdatedAt:           order.UpdatedAt,
	}
}

// createOrder — ручное создание заказа оператором, сток списывается сразу.
func (h *AdminHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", Code: "bad_request"})
		return
	}

	order, err := h.Checkout.CreateAdminOrder(r.Context(), toCheckoutRequest(req))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResp(order))
}

func (h *AdminHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Orders.Resolve(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(order))
}

type timelineEventResp struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

func (h *AdminHandler) timeline(w http.ResponseWriter, r *http.Request) {
	events, err := h.Orders.Timeline(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]timelineEventResp, 0, len(events))
	for _, event := range events {
		resp = append(resp, timelineEventResp{
			Type:     event.Type,
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type editReq struct {
	CustomerName    string            `json:"customerName"`
	CustomerPhone   string            `json:"customerPhone"`
	CustomerEmail   string            `json:"customerEmail"`
	CustomerAddress string            `json:"customerAddress"`
	Shipping        bool              `json:"shipping"`
	Items           []checkoutItemReq `json:"items"`
}

func (h *AdminHandler) editOrder(w http.ResponseWriter, r *http.Request) {
	var req editReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", Code: "bad_request"})
		return
	}

	items := make([]orders.EditItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, orders.EditItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order, err := h.Orders.Edit(r.Context(), chi.URLParam(r, "id"), orders.EditRequest{
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
		CustomerEmail:   req.CustomerEmail,
		CustomerAddress: req.CustomerAddress,
		Shipping:        req.Shipping,
		Items:           items,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(order))
}

type transitionReq struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status"`
	Reason      string `json:"reason"`
}

// transition — чистый перевод статуса по id либо по номеру заказа.
func (h *AdminHandler) transition(w http.ResponseWriter, r *http.Request) {
	var req transitionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", Code: "bad_request"})
		return
	}

	ref := req.OrderID
	if ref == "" {
		ref = req.OrderNumber
	}
	if ref == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "orderId or orderNumber is required", Code: "bad_request"})
		return
	}
	if req.Status == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "status is required", Code: "bad_request"})
		return
	}

	order, err := h.Orders.Transition(r.Context(), ref, domain.OrderStatus(req.Status), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(order))
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *AdminHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if r.Body != nil {
		// Причина опциональна, пустое тело допустимо.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	order, err := h.Orders.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(order))
}
