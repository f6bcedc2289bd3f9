package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	order.Items = cloneItems(order.Items)
	r.items[order.ID] = order
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	order.Items = cloneItems(order.Items)
	return order, nil
}

// GetByNumber ищет заказ по отображаемому номеру. Номера не уникальны по
// построению, поэтому при коллизии берётся самый свежий заказ.
func (r *orderRepositoryInMemory) GetByNumber(orderNumber string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found domain.Order
	var ok bool
	for _, order := range r.items {
		if order.OrderNumber != orderNumber {
			continue
		}
		if !ok || order.CreatedAt.After(found.CreatedAt) {
			found = order
			ok = true
		}
	}
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	found.Items = cloneItems(found.Items)
	return found, nil
}

// Count возвращает число заказов в хранилище.
func (r *orderRepositoryInMemory) Count() (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.items)), nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking). Статус,
// stockUpdated и updatedAt применяются одной записью под общим замком, так
// что из двух гонящихся вебхуков конфликт версий получит ровно один.
func (r *orderRepositoryInMemory) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	order.Version++
	order.Items = cloneItems(order.Items)
	r.items[order.ID] = order
	return nil
}

func cloneItems(items []domain.OrderItem) []domain.OrderItem {
	if items == nil {
		return nil
	}
	out := make([]domain.OrderItem, len(items))
	copy(out, items)
	return out
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
