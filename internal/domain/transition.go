package domain

// transitionKey — ключ таблицы переходов: текущий статус, запрошенный статус
// и признак доставки. Таблица закрытая: всё, чего в ней нет, запрещено.
type transitionKey struct {
	from     OrderStatus
	to       OrderStatus
	shipping bool
}

// allowedTransitions перечисляет разрешённые переходы жизненного цикла.
// Отмена допустима из любого нетерминального статуса и добавляется ниже,
// чтобы не раздувать таблицу. payment_failed -> paid оставлен намеренно:
// опоздавший ACCEPTED-вебхук всё равно доводит заказ до оплаченного состояния.
var allowedTransitions = buildTransitions()

func buildTransitions() map[transitionKey]struct{} {
	pairs := []struct {
		from OrderStatus
		to   []OrderStatus
	}{
		{OrderStatusCreated, []OrderStatus{OrderStatusProcessing, OrderStatusPaid, OrderStatusPaymentFailed, OrderStatusFailed}},
		{OrderStatusProcessing, []OrderStatus{OrderStatusPaid, OrderStatusPaymentFailed, OrderStatusFailed}},
		{OrderStatusPaymentFailed, []OrderStatus{OrderStatusProcessing, OrderStatusPaid}},
		{OrderStatusPaid, []OrderStatus{OrderStatusPreparing}},
		{OrderStatusPreparing, []OrderStatus{OrderStatusReady}},
		{OrderStatusInTransit, []OrderStatus{OrderStatusDelivered}},
	}

	table := make(map[transitionKey]struct{})
	for _, p := range pairs {
		for _, to := range p.to {
			table[transitionKey{p.from, to, false}] = struct{}{}
			table[transitionKey{p.from, to, true}] = struct{}{}
		}
	}

	// Ветка после ready зависит от способа получения заказа.
	table[transitionKey{OrderStatusReady, OrderStatusDelivered, false}] = struct{}{}
	table[transitionKey{OrderStatusReady, OrderStatusInTransit, true}] = struct{}{}

	// Отмена из любого нетерминального статуса.
	for _, from := range []OrderStatus{
		OrderStatusCreated, OrderStatusProcessing, OrderStatusPaid,
		OrderStatusPreparing, OrderStatusReady, OrderStatusInTransit,
		OrderStatusPaymentFailed, OrderStatusFailed,
	} {
		table[transitionKey{from, OrderStatusCancelled, false}] = struct{}{}
		table[transitionKey{from, OrderStatusCancelled, true}] = struct{}{}
	}

	return table
}

// CanTransition отвечает, допустим ли переход from -> to для заказа
// с данным признаком доставки. Из терминальных статусов переходов нет.
func CanTransition(from, to OrderStatus, shipping bool) bool {
	if from.IsTerminal() {
		return false
	}
	_, ok := allowedTransitions[transitionKey{from, to, shipping}]
	return ok
}

// NextStatuses возвращает список допустимых следующих статусов.
func NextStatuses(from OrderStatus, shipping bool) []OrderStatus {
	if from.IsTerminal() {
		return nil
	}
	ordered := []OrderStatus{
		OrderStatusProcessing, OrderStatusPaid, OrderStatusPreparing,
		OrderStatusReady, OrderStatusInTransit, OrderStatusDelivered,
		OrderStatusPaymentFailed, OrderStatusFailed, OrderStatusCancelled,
	}
	var out []OrderStatus
	for _, to := range ordered {
		if CanTransition(from, to, shipping) {
			out = append(out, to)
		}
	}
	return out
}

// Transition проверяет переход по таблице и применяет его к заказу,
// обновляя UpdatedAt. Метку времени проставляет вызывающая сторона домена,
// хранилище её не трогает.
func (o *Order) Transition(to OrderStatus) error {
	if !to.Known() {
		return ErrUnknownOrderStatus
	}
	if !CanTransition(o.Status, to, o.Shipping) {
		return ErrInvalidTransition
	}
	o.Status = to
	o.UpdatedAt = Now()
	return nil
}
