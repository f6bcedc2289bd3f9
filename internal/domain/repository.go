package domain

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// GetByNumber ищет заказ по отображаемому номеру. Номер не уникален по
	// построению; при коллизии возвращается самый свежий заказ.
	GetByNumber(orderNumber string) (Order, error)
	// Count возвращает число заказов. Используется для генерации orderNumber
	// и намеренно не атомарен относительно Create.
	Count() (int64, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	// Статус, stockUpdated и updatedAt пишутся одним атомарным обновлением
	// документа, поэтому два конкурентных вебхука не могут оба пройти
	// проверку "ещё не обновлено".
	Save(order Order) error
}
