package httpx

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/service/webhook"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyTTL       = 24 * time.Hour

	maxWebhookBody = 1 << 20
)

// StoreHandler обслуживает публичную витрину: оформление заказа, вебхук
// платёжного шлюза и поллинг статуса.
type StoreHandler struct {
	Checkout   *checkout.Orchestrator
	Reconciler *webhook.Reconciler
	Orders     *orders.Service
	IdemRepo   domain.IdempotencyRepository
	Limiter    domain.RateLimiter
	Logger     *log.Entry
	Metrics    *metrics.CoreMetrics
}

// Register монтирует публичные маршруты.
func (h *StoreHandler) Register(r chi.Router) {
	r.Post("/checkout", h.checkout)
	r.Post("/payment/webhook", h.paymentWebhook)
	r.With(h.rateLimit).Get("/order/{id}/status", h.orderStatus)
	r.With(h.rateLimit).Get("/products", h.products)
}

type checkoutItemReq struct {
	ProductID string `json:"productId"`
	Quantity  int32  `json:"quantity"`
}

type checkoutReq struct {
	Items           []checkoutItemReq `json:"items"`
	CustomerName    string            `json:"customerName"`
	CustomerPhone   string            `json:"customerPhone"`
	CustomerEmail   string            `json:"customerEmail"`
	CustomerAddress string            `json:"customerAddress"`
	Shipping        bool              `json:"shipping"`
}

type checkoutResp struct {
	OrderID  string           `json:"orderId"`
	Checkout checkoutArtifact `json:"checkout"`
}

type checkoutArtifact struct {
	IntentionID string `json:"intentionId"`
	QR          string `json:"qr"`
	DeepLink    string `json:"deepLink"`
	CheckoutURL string `json:"checkoutUrl"`
	AmountMinor int64  `json:"amount"`
	OrderNumber string `json:"orderNumber"`
}

func (h *StoreHandler) checkout(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "failed to read body", Code: "bad_request"})
		return
	}

	var req checkoutReq
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", Code: "bad_request"})
		return
	}

	idemKey := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if idemKey != "" && h.IdemRepo != nil {
		if h.replayIdempotent(w, r, idemKey, body) {
			return
		}
	}

	result, err := h.Checkout.Checkout(r.Context(), toCheckoutRequest(req))
	if err != nil {
		if idemKey != "" && h.IdemRepo != nil {
			h.cacheIdempotencyFailure(idemKey, err)
		}
		writeError(w, err)
		return
	}

	resp := checkoutResp{
		OrderID: result.OrderID,
		Checkout: checkoutArtifact{
			IntentionID: result.Intention.IntentionID,
			QR:          result.Intention.QRPayload,
			DeepLink:    result.Intention.DeepLink,
			CheckoutURL: result.Intention.CheckoutURL,
			AmountMinor: result.AmountMinor,
			OrderNumber: result.OrderNumber,
		},
	}

	if idemKey != "" && h.IdemRepo != nil {
		h.cacheIdempotencySuccess(idemKey, resp)
	}
	writeJSON(w, http.StatusCreated, resp)
}

func toCheckoutRequest(req checkoutReq) checkout.Request {
	items := make([]checkout.ItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, checkout.ItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return checkout.Request{
		Items:           items,
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
		CustomerEmail:   req.CustomerEmail,
		CustomerAddress: req.CustomerAddress,
		Shipping:        req.Shipping,
	}
}

// replayIdempotent пытается занять idempotency-key; true означает, что ответ
// уже записан (повтор, конфликт или гонка) и обработчик должен выйти.
func (h *StoreHandler) replayIdempotent(w http.ResponseWriter, r *http.Request, key string, body []byte) bool {
	hash := requestHash(r.Method, r.URL.Path, body)
	_, err := h.IdemRepo.CreateProcessing(key, hash, time.Now().UTC().Add(idempotencyTTL))
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		writeError(w, domain.ErrIdempotencyHashMismatch)
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		record, getErr := h.IdemRepo.Get(key)
		if getErr != nil {
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
			return true
		}
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(record.HTTPStatus)
			_, _ = w.Write(record.ResponseBody)
		default:
			writeJSON(w, http.StatusConflict, errorBody{
				Error: "request with the same idempotency key is already processing",
				Code:  "idempotency_processing",
			})
		}
	default:
		h.Logger.WithError(err).Warn("failed to create idempotency record")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
	}
	return true
}

func (h *StoreHandler) cacheIdempotencySuccess(key string, resp checkoutResp) {
	data, err := json.Marshal(resp)
	if err != nil {
		h.Logger.WithError(err).WithField("idempotency_key", key).Warn("failed to encode idempotent response")
		return
	}
	if err := h.IdemRepo.MarkDone(key, data, http.StatusCreated); err != nil {
		h.Logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent success response")
	}
}

func (h *StoreHandler) cacheIdempotencyFailure(key string, runErr error) {
	// Ошибка кешируется в том же формате, в каком ушла клиенту, чтобы
	// повтор получил идентичный ответ.
	rec := newResponseBuffer()
	writeError(rec, runErr)
	if err := h.IdemRepo.MarkFailed(key, rec.body.Bytes(), rec.status); err != nil {
		h.Logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent failure response")
	}
}

// responseBuffer — минимальный ResponseWriter для записи ответа в память.
type responseBuffer struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{header: make(http.Header), status: http.StatusOK}
}

func (b *responseBuffer) Header() http.Header { return b.header }

func (b *responseBuffer) WriteHeader(status int) { b.status = status }

func (b *responseBuffer) Write(p []byte) (int, error) { return b.body.Write(p) }

func requestHash(method, path string, body []byte) string {
	payload := make([]byte, 0, len(method)+len(path)+len(body)+2)
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, path...)
	payload = append(payload, ':')
	payload = append(payload, body...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

type webhookResp struct {
	Received bool   `json:"received"`
	Status   string `json:"status"`
}

func (h *StoreHandler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	// Подпись байт-чувствительна: тело читается сырым и не пересобирается.
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "failed to read body", Code: "bad_request"})
		return
	}

	result, err := h.Reconciler.Handle(r.Context(), rawBody)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, webhookResp{Received: true, Status: string(result.Status)})
}

type statusResp struct {
	Status           string    `json:"status"`
	OrderNumber      string    `json:"orderNumber"`
	TotalAmountMinor int64     `json:"totalAmount"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (h *StoreHandler) orderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing id", Code: "bad_request"})
		return
	}

	view, err := h.Orders.Status(orderID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResp{
		Status:           string(view.Status),
		OrderNumber:      view.OrderNumber,
		TotalAmountMinor: view.TotalAmountMinor,
		CreatedAt:        view.CreatedAt,
		UpdatedAt:        view.UpdatedAt,
	})
}

type productResp struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceMinor int64  `json:"price"`
	Image      string `json:"image,omitempty"`
	Stock      int32  `json:"stock"`
}

func (h *StoreHandler) products(w http.ResponseWriter, r *http.Request) {
	list, err := h.Orders.Products(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]productResp, 0, len(list))
	for _, p := range list {
		resp = append(resp, productResp{
			ID:         p.ID,
			Name:       p.Name,
			PriceMinor: p.PriceMinor,
			Image:      p.Image,
			Stock:      p.Stock,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// rateLimit ограничивает публичные чтения по IP вызывающего.
func (h *StoreHandler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		ok, err := h.Limiter.Allow(r.Context(), clientIP(r))
		if err != nil {
			h.Logger.WithError(err).Warn("rate limiter failed, admitting request")
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			if h.Metrics != nil {
				h.Metrics.RecordRateLimited()
			}
			writeError(w, domain.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP возвращает IP вызывающего. После middleware.RealIP RemoteAddr
// уже содержит чистый адрес; для прямых соединений отрезаем порт.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
