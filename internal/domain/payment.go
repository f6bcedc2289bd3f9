package domain

// GatewayStatus — сырой статус платежа в словаре внешнего шлюза.
// Хранится в заказе как есть, отдельно от жизненного цикла.
type GatewayStatus string

const (
	// GatewayStatusPending — платёжная сессия создана, клиент ещё не начал оплату.
	GatewayStatusPending GatewayStatus = "PENDING"
	// GatewayStatusScanned — клиент отсканировал QR.
	GatewayStatusScanned GatewayStatus = "SCANNED"
	// GatewayStatusProcessing — шлюз обрабатывает платёж.
	GatewayStatusProcessing GatewayStatus = "PROCESSING"
	// GatewayStatusAccepted — платёж подтверждён.
	GatewayStatusAccepted GatewayStatus = "ACCEPTED"
	// GatewayStatusRejected — платёж отклонён.
	GatewayStatusRejected GatewayStatus = "REJECTED"
)

// MapGatewayStatus переводит статус шлюза во внутренний статус заказа.
// Отображение тотальное по известному словарю; нераспознанный статус —
// ошибка, а не молчаливый default в processing.
func MapGatewayStatus(status GatewayStatus) (OrderStatus, error) {
	switch status {
	case GatewayStatusAccepted:
		return OrderStatusPaid, nil
	case GatewayStatusRejected:
		return OrderStatusPaymentFailed, nil
	case GatewayStatusPending, GatewayStatusScanned, GatewayStatusProcessing:
		return OrderStatusProcessing, nil
	default:
		return "", ErrUnknownGatewayStatus
	}
}

// PaymentIntention — артефакты платёжной сессии, выданные шлюзом
// в ответ на запрос создания intention.
type PaymentIntention struct {
	IntentionID string
	QRPayload   string
	DeepLink    string
	CheckoutURL string
}
