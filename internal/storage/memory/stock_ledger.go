package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// stockLedgerInMemory — каталог товаров с атомарным учётом остатков.
// Проверка "хватает ли" и списание выполняются одной операцией под замком,
// отдельного окна между read и write нет.
type stockLedgerInMemory struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

// NewStockLedger создаёт in-memory каталог с начальными товарами.
func NewStockLedger(products ...domain.Product) *stockLedgerInMemory {
	items := make(map[string]domain.Product, len(products))
	for _, p := range products {
		items[p.ID] = p
	}
	return &stockLedgerInMemory{products: items}
}

// Available возвращает текущий остаток товара.
func (l *stockLedgerInMemory) Available(_ context.Context, productID string) (int32, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.products[productID]
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	return p.Stock, nil
}

// TryDecrement списывает qty единиц, только если остатка хватает.
func (l *stockLedgerInMemory) TryDecrement(_ context.Context, productID string, qty int32) error {
	if qty <= 0 {
		return domain.ErrItemQtyInvalid
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.products[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if p.Stock < qty {
		return domain.ErrInsufficientStock
	}
	p.Stock -= qty
	l.products[productID] = p
	return nil
}

// Release возвращает qty единиц на остаток (компенсация).
func (l *stockLedgerInMemory) Release(_ context.Context, productID string, qty int32) error {
	if qty <= 0 {
		return domain.ErrItemQtyInvalid
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.products[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	p.Stock += qty
	l.products[productID] = p
	return nil
}

// Product возвращает карточку товара для снимка позиции.
func (l *stockLedgerInMemory) Product(_ context.Context, id string) (domain.Product, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

// Products возвращает все карточки каталога.
func (l *stockLedgerInMemory) Products(_ context.Context) ([]domain.Product, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Product, 0, len(l.products))
	for _, p := range l.products {
		out = append(out, p)
	}
	return out, nil
}

// Upsert добавляет или заменяет карточку товара.
func (l *stockLedgerInMemory) Upsert(p domain.Product) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.products[p.ID] = p
}

var (
	_ domain.StockLedger    = (*stockLedgerInMemory)(nil)
	_ domain.ProductCatalog = (*stockLedgerInMemory)(nil)
)
