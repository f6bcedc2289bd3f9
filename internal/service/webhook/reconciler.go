package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	// Повторные попытки только на проигрыш optimistic lock, не на внешние сбои.
	conflictRetries = 3
	conflictBackoff = 25 * time.Millisecond
)

// Notification — полезная нагрузка вебхука после проверки подписи.
type Notification struct {
	ExternalIntentionID string `json:"external_intention_id"`
	Status              string `json:"status"`
}

// Result — итог применения уведомления, отдаётся транспортному слою.
type Result struct {
	OrderID   string
	Status    domain.OrderStatus
	Duplicate bool
}

// Reconciler применяет платёжные уведомления шлюза к заказу: один переход
// статуса и не более одного списания стока на заказ, сколько бы раз шлюз
// ни повторил доставку.
type Reconciler struct {
	verifier domain.WebhookVerifier
	orders   domain.OrderRepository
	ledger   domain.StockLedger
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	logger   *log.Entry
	metrics  *metrics.CoreMetrics
}

// NewReconciler создаёт обработчик вебхуков.
func NewReconciler(
	verifier domain.WebhookVerifier,
	orders domain.OrderRepository,
	ledger domain.StockLedger,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
) *Reconciler {
	if logger == nil {
		logger = log.New().WithField("component", "webhook")
	}
	return &Reconciler{
		verifier: verifier,
		orders:   orders,
		ledger:   ledger,
		outbox:   outbox,
		timeline: timeline,
		logger:   logger,
		metrics:  metrics.NewCoreMetrics(),
	}
}

// NewReconcilerWithoutMetrics создаёт обработчик без метрик (для тестов).
func NewReconcilerWithoutMetrics(
	verifier domain.WebhookVerifier,
	orders domain.OrderRepository,
	ledger domain.StockLedger,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
) *Reconciler {
	r := NewReconciler(verifier, orders, ledger, outbox, timeline, logger)
	r.metrics = nil
	return r
}

// Handle обрабатывает уведомление по сырым байтам тела запроса. Подпись
// проверяется до любого обращения к хранилищу.
func (r *Reconciler) Handle(ctx context.Context, rawBody []byte) (Result, error) {
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.RecordWebhookDuration(time.Since(start))
		}
	}()

	if err := r.verifier.Verify(ctx, rawBody); err != nil {
		r.recordWebhook("rejected")
		r.logger.WithError(err).Warn("webhook signature rejected")
		return Result{}, err
	}

	var notification Notification
	if err := json.Unmarshal(rawBody, &notification); err != nil {
		r.recordWebhook("rejected")
		return Result{}, domain.ErrMissingIntentionID
	}
	if notification.ExternalIntentionID == "" {
		r.recordWebhook("rejected")
		return Result{}, domain.ErrMissingIntentionID
	}

	targetStatus, err := domain.MapGatewayStatus(domain.GatewayStatus(notification.Status))
	if err != nil {
		r.recordWebhook("rejected")
		r.logger.WithField("gateway_status", notification.Status).Warn("unknown gateway status")
		return Result{}, err
	}

	for attempt := 0; ; attempt++ {
		result, err := r.apply(ctx, notification, targetStatus)
		if errors.Is(err, domain.ErrOrderVersionConflict) && attempt < conflictRetries {
			// Конкурентная доставка того же уведомления: перечитываем заказ,
			// победивший барьер stockUpdated сделает повтор холостым.
			time.Sleep(conflictBackoff)
			continue
		}
		if err != nil {
			r.recordWebhook("error")
			return Result{}, err
		}
		if result.Duplicate {
			r.recordWebhook("duplicate")
			if r.metrics != nil {
				r.metrics.RecordWebhookDuplicate()
			}
		} else {
			r.recordWebhook("applied")
		}
		return result, nil
	}
}

func (r *Reconciler) apply(ctx context.Context, notification Notification, targetStatus domain.OrderStatus) (Result, error) {
	order, err := r.orders.Get(notification.ExternalIntentionID)
	if err != nil {
		return Result{}, err
	}

	entry := r.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"gateway_status": notification.Status,
	})

	// Терминальный заказ уведомлениями не трогаем: повторная доставка
	// после delivered/cancelled должна быть безвредной.
	if order.Status.IsTerminal() {
		entry.WithField("status", order.Status).Debug("webhook ignored: order terminal")
		return Result{OrderID: order.ID, Status: order.Status, Duplicate: true}, nil
	}

	duplicate := order.Status == targetStatus
	if !duplicate && !domain.CanTransition(order.Status, targetStatus, order.Shipping) {
		// paid → processing от опоздавшего промежуточного уведомления
		// недопустим по графу, но это не ошибка доставки.
		entry.WithField("status", order.Status).Debug("webhook ignored: transition not allowed")
		return Result{OrderID: order.ID, Status: order.Status, Duplicate: true}, nil
	}

	needCommit := targetStatus == domain.OrderStatusPaid && !order.StockUpdated
	if duplicate && !needCommit && order.PaymentStatus == domain.GatewayStatus(notification.Status) {
		// Полный повтор уже применённого уведомления: писать нечего.
		entry.Debug("webhook ignored: already applied")
		return Result{OrderID: order.ID, Status: order.Status, Duplicate: true}, nil
	}

	var committed []domain.OrderItem
	stockCommitted := false
	if needCommit {
		committed = r.commitStock(ctx, &order, entry)
		stockCommitted = true
	}

	if !duplicate {
		if err := order.Transition(targetStatus); err != nil {
			return Result{}, err
		}
	} else {
		order.UpdatedAt = domain.Now()
	}

	// paymentStatus хранит сырой словарь шлюза отдельно от status.
	order.PaymentStatus = domain.GatewayStatus(notification.Status)

	// Статус, paymentStatus и барьер stockUpdated уходят одним Save:
	// из двух конкурентных доставок версию возьмёт только одна.
	if err := r.orders.Save(order); err != nil {
		if stockCommitted {
			// Проигравшая доставка возвращает своё списание; победившая уже
			// зафиксировала барьер, и повтор после перечитывания будет холостым.
			r.releaseStock(ctx, committed, entry)
		}
		return Result{}, err
	}

	if stockCommitted && r.metrics != nil {
		r.metrics.RecordStockCommit()
	}
	if !duplicate {
		r.emitTransition(order, notification.Status)
		entry.WithField("status", order.Status).Info("webhook applied")
	}

	return Result{OrderID: order.ID, Status: order.Status, Duplicate: duplicate}, nil
}

// commitStock списывает позиции заказа и выставляет барьер stockUpdated.
// Барьер выставляется даже при нехватке отдельной позиции: оплата уже
// принята, недостачу разбирает оператор, а повторная доставка не должна
// пытаться списывать заново. Возвращает фактически списанные позиции.
func (r *Reconciler) commitStock(ctx context.Context, order *domain.Order, entry *log.Entry) []domain.OrderItem {
	var committed []domain.OrderItem
	for _, item := range order.Items {
		if err := r.ledger.TryDecrement(ctx, item.ProductID, item.Qty); err != nil {
			entry.WithError(err).WithFields(log.Fields{
				"product_id": item.ProductID,
				"qty":        item.Qty,
			}).Error("stock commit failed for paid order")
			continue
		}
		committed = append(committed, item)
	}
	order.StockUpdated = true
	return committed
}

func (r *Reconciler) releaseStock(ctx context.Context, items []domain.OrderItem, entry *log.Entry) {
	for _, item := range items {
		if err := r.ledger.Release(ctx, item.ProductID, item.Qty); err != nil {
			entry.WithError(err).WithFields(log.Fields{
				"product_id": item.ProductID,
				"qty":        item.Qty,
			}).Error("stock release after lost save failed")
		}
	}
}

func (r *Reconciler) emitTransition(order domain.Order, gatewayStatus string) {
	eventType := kafka.EventTypeOrderStatusChanged
	switch order.Status {
	case domain.OrderStatusPaid:
		eventType = kafka.EventTypeOrderPaid
	case domain.OrderStatusPaymentFailed:
		eventType = kafka.EventTypeOrderPaymentFailed
	}

	payload, err := json.Marshal(map[string]interface{}{
		"order_id":       order.ID,
		"order_number":   order.OrderNumber,
		"status":         string(order.Status),
		"gateway_status": gatewayStatus,
	})
	if err != nil {
		r.logger.WithError(err).WithField("order_id", order.ID).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     string(eventType),
		Payload:       payload,
	}
	if _, err := r.outbox.Enqueue(msg); err != nil {
		r.logger.WithError(err).WithField("order_id", order.ID).Error("enqueue event failed")
	} else if r.metrics != nil {
		r.metrics.RecordOutboxEvent()
	}

	if r.timeline != nil {
		event := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     string(eventType),
			Reason:   "gateway:" + gatewayStatus,
			Occurred: order.UpdatedAt,
		}
		if err := r.timeline.Append(event); err != nil {
			r.logger.WithError(err).WithField("order_id", order.ID).Warn("append timeline event failed")
		} else if r.metrics != nil {
			r.metrics.RecordTimelineEvent()
		}
	}
}

func (r *Reconciler) recordWebhook(result string) {
	if r.metrics != nil {
		r.metrics.RecordWebhook(result)
	}
}
