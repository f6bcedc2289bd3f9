package domain

import "errors"

var (
	// Ошибка отсутствующего имени клиента.
	ErrCustomerNameRequired = errors.New("customer name is required")
	// Ошибка отсутствующего телефона клиента.
	ErrCustomerPhoneRequired = errors.New("customer phone is required")
	// Ошибка отсутствующего адреса при заказе с доставкой.
	ErrShippingAddressRequired = errors.New("shipping address is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("total amount must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrProductNotFound возвращается, если товара нет в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock — условное списание не прошло: остатка не хватает.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidTransition — запрошенный переход отсутствует в таблице переходов.
	ErrInvalidTransition = errors.New("status transition not allowed")
	// ErrUnknownOrderStatus — статус вне закрытого словаря жизненного цикла.
	ErrUnknownOrderStatus = errors.New("unknown order status")
	// ErrUnknownGatewayStatus — шлюз прислал статус вне известного словаря.
	ErrUnknownGatewayStatus = errors.New("unknown gateway status")
	// ErrOrderEditLocked — заказ в статусе исполнения, правка позиций небезопасна.
	ErrOrderEditLocked = errors.New("order can no longer be edited")

	// ErrGatewayUnavailable — временная ошибка при обращении к шлюзу; решение
	// о повторе остаётся за вызывающей стороной.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrIntentionRejected — шлюз ответил не-2xx на создание платёжной сессии.
	ErrIntentionRejected = errors.New("payment intention rejected by gateway")

	// ErrMissingSignature — в теле вебхука нет поля signature.
	ErrMissingSignature = errors.New("webhook signature is missing")
	// ErrInvalidSignature — подпись вебхука не прошла проверку.
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	// ErrMissingIntentionID — в теле вебхука нет external_intention_id.
	ErrMissingIntentionID = errors.New("external_intention_id is required")

	// ErrRateLimited — вызывающий превысил лимит запросов в окне.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrIdempotencyKeyAlreadyExists — ключ уже занят другим запросом в обработке.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ повторён с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency request hash mismatch")
	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хэш тела запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound — записи по ключу нет.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}
