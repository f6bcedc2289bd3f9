package domain

import "time"

// TimelineEvent — одна запись в истории заказа: переход статуса, платёж,
// редактирование или отмена. Reason заполняется для отмен и сбоев оплаты.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
