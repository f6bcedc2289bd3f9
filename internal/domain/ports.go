package domain

import (
	"context"
	"time"
)

// PaymentGateway описывает взаимодействие с внешним платёжным шлюзом.
type PaymentGateway interface {
	// CreateIntention открывает платёжную сессию под заказ. Корреляционным
	// ключом шлюзу передаётся внутренний Order.ID.
	CreateIntention(ctx context.Context, order Order) (PaymentIntention, error)
}

// TokenProvider выдаёт действующий bearer-токен шлюза. Обновление токена
// обязано схлопывать конкурентные запросы в один.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// WebhookVerifier проверяет detached-подпись уведомления по сырым байтам тела.
type WebhookVerifier interface {
	Verify(ctx context.Context, rawBody []byte) error
}

// Notifier отправляет клиенту письмо о смене статуса заказа.
// Сбой нотификации никогда не валит переход, который её породил.
type Notifier interface {
	SendStatusEmail(ctx context.Context, order Order, status OrderStatus) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// RateLimiter — ограничитель запросов по ключу вызывающего (IP).
type RateLimiter interface {
	// Allow отвечает, пропускать ли очередной запрос по ключу.
	// Запросы сверх лимита отклоняются сразу, без очереди и задержки.
	Allow(ctx context.Context, key string) (bool, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
