package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultRelayTimeout = 10 * time.Second

// statusSubjects — темы писем по статусам, о которых клиенту сообщаем.
var statusSubjects = map[domain.OrderStatus]string{
	domain.OrderStatusPreparing: "Заказ передан в сборку",
	domain.OrderStatusReady:     "Заказ готов к выдаче",
	domain.OrderStatusInTransit: "Заказ передан в доставку",
}

// EmailRelay отправляет письма через внешний mail-relay по HTTP.
type EmailRelay struct {
	relayURL   string
	from       string
	httpClient *http.Client
	logger     *log.Entry
}

// NewEmailRelay создаёт нотификатор поверх HTTP mail-relay.
func NewEmailRelay(relayURL, from string, logger *log.Entry) *EmailRelay {
	if logger == nil {
		logger = log.New().WithField("component", "email-relay")
	}
	return &EmailRelay{
		relayURL:   relayURL,
		from:       from,
		httpClient: &http.Client{Timeout: defaultRelayTimeout},
		logger:     logger,
	}
}

type relayMessage struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// SendStatusEmail отправляет клиенту письмо о смене статуса заказа.
// Статусы без темы письма пропускаются молча.
func (r *EmailRelay) SendStatusEmail(ctx context.Context, order domain.Order, status domain.OrderStatus) error {
	subject, ok := statusSubjects[status]
	if !ok {
		r.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"status":   status,
		}).Debug("no email template for status, skipping")
		return nil
	}
	if order.CustomerEmail == "" {
		r.logger.WithField("order_id", order.ID).Debug("order has no customer email, skipping")
		return nil
	}

	msg := relayMessage{
		From:    r.from,
		To:      order.CustomerEmail,
		Subject: fmt.Sprintf("%s: %s", subject, order.OrderNumber),
		Body:    fmt.Sprintf("Здравствуйте, %s! Статус вашего заказа %s: %s.", order.CustomerName, order.OrderNumber, status),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal relay message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.relayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send relay request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mail relay returned status %d", resp.StatusCode)
	}

	r.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"status":   status,
	}).Info("status email sent")
	return nil
}

var _ domain.Notifier = (*EmailRelay)(nil)

// MockNotifier — конфигурируемая заглушка Notifier для тестов.
type MockNotifier struct {
	SendErr error

	SendCalls int
	LastOrder domain.Order
}

// NewMockNotifier возвращает mock с успешным сценарием по умолчанию.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// SendStatusEmail возвращает настроенный результат и считает вызовы.
func (m *MockNotifier) SendStatusEmail(_ context.Context, order domain.Order, _ domain.OrderStatus) error {
	m.SendCalls++
	m.LastOrder = order
	return m.SendErr
}

var _ domain.Notifier = (*MockNotifier)(nil)
