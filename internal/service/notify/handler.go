package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// Handler потребляет нотификационные события из Kafka и рассылает письма.
// Письма уходят после коммита перехода, их сбой ретраится консьюмером
// и никак не влияет на сам заказ.
type Handler struct {
	notifier domain.Notifier
	orders   domain.OrderRepository
	logger   *log.Entry
}

// NewHandler создаёт обработчик нотификационных событий.
func NewHandler(notifier domain.Notifier, orders domain.OrderRepository, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.New().WithField("component", "notify-handler")
	}
	return &Handler{
		notifier: notifier,
		orders:   orders,
		logger:   logger,
	}
}

// envelope — конверт outbox-паблишера вокруг доменного payload.
type envelope struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type notificationPayload struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// HandleMessage — kafka.MessageHandler для notification-топика.
func (h *Handler) HandleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	var env envelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		return fmt.Errorf("unmarshal event envelope: %w", err)
	}

	// Остальные события топика обрабатывают другие консьюмеры.
	if env.EventType != string(kafka.EventTypeNotificationOrderStatus) {
		return nil
	}

	var payload notificationPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal notification payload: %w", err)
	}
	if payload.OrderID == "" {
		return errors.New("notification event without order_id")
	}

	order, err := h.orders.Get(payload.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			// Заказ мог быть удалён между публикацией и доставкой.
			h.logger.WithField("order_id", payload.OrderID).Warn("notification for unknown order skipped")
			return nil
		}
		return fmt.Errorf("load order for notification: %w", err)
	}

	status := domain.OrderStatus(payload.Status)
	if err := h.notifier.SendStatusEmail(ctx, order, status); err != nil {
		return fmt.Errorf("send status email: %w", err)
	}
	return nil
}
