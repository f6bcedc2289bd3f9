package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Client создаёт платёжные intention у внешнего шлюза. Один ограниченный
// HTTP-вызов на операцию, без внутренних повторов — политика retry остаётся
// за вызывающей стороной.
type Client struct {
	httpClient *http.Client
	baseURL    string
	currency   string
	tokens     domain.TokenProvider
	logger     *log.Entry
}

// NewClient создаёт клиента шлюза поверх источника токенов.
func NewClient(httpClient *http.Client, baseURL, currency string, tokens domain.TokenProvider, logger *log.Entry) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = log.WithField("component", "gateway-client")
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		currency:   currency,
		tokens:     tokens,
		logger:     logger,
	}
}

// intentionRequest — манифест платёжной сессии для шлюза. Корреляционный
// ключ external_intention_id — внутренний ID заказа; дедупликацию повторных
// intention-запросов по одному заказу шлюз не делает, это ответственность
// вызывающего.
type intentionRequest struct {
	ExternalIntentionID string          `json:"external_intention_id"`
	AmountMinor         int64           `json:"amount_minor"`
	Currency            string          `json:"currency"`
	OrderNumber         string          `json:"order_number"`
	Items               []intentionItem `json:"items"`
}

type intentionItem struct {
	Name           string `json:"name"`
	Qty            int32  `json:"qty"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
}

type intentionResponse struct {
	IntentionID string `json:"intention_id"`
	QRPayload   string `json:"qr_payload"`
	DeepLink    string `json:"deep_link"`
	CheckoutURL string `json:"checkout_url"`
}

// CreateIntention открывает платёжную сессию под заказ.
func (c *Client) CreateIntention(ctx context.Context, order domain.Order) (domain.PaymentIntention, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return domain.PaymentIntention{}, fmt.Errorf("acquire gateway token: %w", err)
	}

	manifest := intentionRequest{
		ExternalIntentionID: order.ID,
		AmountMinor:         order.TotalAmountMinor,
		Currency:            c.currency,
		OrderNumber:         order.OrderNumber,
		Items:               make([]intentionItem, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		manifest.Items = append(manifest.Items, intentionItem{
			Name:           item.Name,
			Qty:            item.Qty,
			UnitPriceMinor: item.UnitPriceMinor,
		})
	}

	payload, err := json.Marshal(manifest)
	if err != nil {
		return domain.PaymentIntention{}, fmt.Errorf("marshal intention request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/intentions", bytes.NewReader(payload))
	if err != nil {
		return domain.PaymentIntention{}, fmt.Errorf("build intention request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Warn("intention request failed")
		return domain.PaymentIntention{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.PaymentIntention{}, fmt.Errorf("read intention response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"status":   resp.StatusCode,
		}).Warn("gateway rejected intention")
		return domain.PaymentIntention{}, fmt.Errorf("%w: status %d", domain.ErrIntentionRejected, resp.StatusCode)
	}

	var parsed intentionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return domain.PaymentIntention{}, fmt.Errorf("decode intention response: %w", err)
	}
	if parsed.IntentionID == "" {
		return domain.PaymentIntention{}, fmt.Errorf("%w: empty intention_id", domain.ErrIntentionRejected)
	}

	return domain.PaymentIntention{
		IntentionID: parsed.IntentionID,
		QRPayload:   parsed.QRPayload,
		DeepLink:    parsed.DeepLink,
		CheckoutURL: parsed.CheckoutURL,
	}, nil
}

var _ domain.PaymentGateway = (*Client)(nil)
