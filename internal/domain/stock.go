package domain

import "context"

// Product — запись каталога. Заказ хранит только снимок цены и названия,
// живой ссылки на товар у заказа нет.
type Product struct {
	ID         string
	Name       string
	PriceMinor int64
	Image      string
	Stock      int32
}

// StockShortage описывает нехватку стока по одной позиции. Проверка корзины
// собирает все нехватки разом, а не падает на первой.
type StockShortage struct {
	ProductID string
	Name      string
	Available int32
	Requested int32
}

// ItemDelta — изменение количества по товару при редактировании заказа.
// Положительная дельта проходит ту же проверку стока, что и новая позиция,
// отрицательная всегда возвращает сток безусловно.
type ItemDelta struct {
	ProductID string
	Delta     int32
}

// StockLedger — атомарный учёт остатков по товарам.
type StockLedger interface {
	// Available возвращает текущий остаток товара.
	Available(ctx context.Context, productID string) (int32, error)
	// TryDecrement списывает qty единиц одной атомарной условной операцией.
	// При нехватке возвращает ErrInsufficientStock, ничего не меняя.
	TryDecrement(ctx context.Context, productID string, qty int32) error
	// Release возвращает qty единиц на остаток (компенсация).
	Release(ctx context.Context, productID string, qty int32) error
}

// ProductCatalog читает карточки товаров для снимка позиций и публичной витрины.
type ProductCatalog interface {
	Product(ctx context.Context, id string) (Product, error)
	Products(ctx context.Context) ([]Product, error)
}
