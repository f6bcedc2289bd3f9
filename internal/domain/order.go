package domain

import (
	"fmt"
	"time"
)

// OrderStatus описывает жизненный цикл заказа в магазине.
type OrderStatus string

const (
	// OrderStatusCreated — заказ создан, платёжная сессия открыта, оплата не подтверждена.
	OrderStatusCreated OrderStatus = "created"
	// OrderStatusProcessing — шлюз прислал промежуточный статус (QR отсканирован, платёж в обработке).
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusPaid — оплата подтверждена платёжным шлюзом, сток списан.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusPreparing — заказ собирается на складе.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusReady — заказ собран и готов к выдаче или отгрузке.
	OrderStatusReady OrderStatus = "ready"
	// OrderStatusInTransit — заказ передан в доставку (только для shipping-заказов).
	OrderStatusInTransit OrderStatus = "in_transit"
	// OrderStatusDelivered — заказ получен клиентом. Терминальный статус.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён. Терминальный статус.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusPaymentFailed — шлюз отклонил платёж.
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
	// OrderStatusFailed — не удалось открыть платёжную сессию у шлюза.
	OrderStatusFailed OrderStatus = "failed"
)

// orderLocation — фиксированное гражданское смещение для временных меток заказов.
// Метки всегда проставляет пишущая сторона, а не хранилище.
var orderLocation = time.FixedZone("UTC+7", 7*60*60)

// Now возвращает текущее время в фиксированном смещении заказов.
func Now() time.Time {
	return time.Now().In(orderLocation)
}

// OrderItem — неизменяемый снимок позиции на момент оформления заказа.
// Цена и название фиксируются из каталога и больше никогда не перечитываются,
// поэтому последующие изменения товара не влияют на размещённый заказ.
type OrderItem struct {
	ProductID string
	Name      string
	// UnitPriceMinor — цена за единицу в минимальных денежных единицах.
	UnitPriceMinor int64
	Qty            int32
	Image          string
}

// Order агрегирует состояние заказа, снимок позиций и артефакты платёжной сессии.
type Order struct {
	ID string
	// OrderNumber — человекочитаемый номер вида ORD-<unixMillis>-<seq>.
	// Только для отображения, глобальная уникальность не гарантируется.
	OrderNumber string

	CustomerName    string
	CustomerPhone   string
	CustomerEmail   string
	CustomerAddress string
	// Shipping добавляет статус in_transit между ready и delivered.
	Shipping bool

	Items []OrderItem
	// TotalAmountMinor всегда считается на сервере из снимка позиций.
	TotalAmountMinor int64

	Status OrderStatus
	// PaymentStatus — последний сырой статус от шлюза. Словарь шлюза не
	// совпадает 1:1 с жизненным циклом заказа, поэтому поле хранится отдельно.
	PaymentStatus GatewayStatus
	// StockUpdated — барьер идемпотентности: true после единственного списания стока.
	StockUpdated bool

	// Артефакты платёжной сессии, выданные шлюзом.
	ExternalIntentionID string
	QRPayload           string
	DeepLink            string
	CheckoutURL         string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsTerminal сообщает, достигнут ли статус, из которого переходы запрещены.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Known проверяет, что статус входит в закрытый словарь жизненного цикла.
func (s OrderStatus) Known() bool {
	switch s {
	case OrderStatusCreated, OrderStatusProcessing, OrderStatusPaid,
		OrderStatusPreparing, OrderStatusReady, OrderStatusInTransit,
		OrderStatusDelivered, OrderStatusCancelled,
		OrderStatusPaymentFailed, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerName == "" {
		errs = append(errs, ErrCustomerNameRequired)
	}
	if o.CustomerPhone == "" {
		errs = append(errs, ErrCustomerPhoneRequired)
	}
	if o.Shipping && o.CustomerAddress == "" {
		errs = append(errs, ErrShippingAddressRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.TotalAmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * unitPrice.
	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Qty) * item.UnitPriceMinor
	}
	if calc != o.TotalAmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// ItemsTotal возвращает сумму позиций в минимальных единицах.
func ItemsTotal(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += int64(item.Qty) * item.UnitPriceMinor
	}
	return total
}

// NewOrderNumber формирует отображаемый номер заказа из unix-времени и
// последовательности. Последовательность берётся из неатомарного счётчика
// заказов, поэтому при конкурентном создании номера могут совпасть —
// корреляционным ключом всегда остаётся Order.ID.
func NewOrderNumber(at time.Time, seq int64) string {
	return fmt.Sprintf("ORD-%d-%04d", at.UnixMilli(), seq)
}
