package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// stockLedger — учёт остатков поверх таблицы products. Проверка и списание
// выполняются одним условным UPDATE, гонка между read и write исключена
// на уровне БД.
type stockLedger struct {
	db *sql.DB
}

// NewStockLedger создаёт PostgreSQL-реализацию StockLedger и ProductCatalog.
func NewStockLedger(store *Store) *stockLedger {
	return &stockLedger{db: store.DB()}
}

func (l *stockLedger) Available(ctx context.Context, productID string) (int32, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var stock int32
	err := l.db.QueryRowContext(ctx, `
		SELECT stock FROM products WHERE id = $1
	`, productID).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrProductNotFound
		}
		return 0, fmt.Errorf("select stock: %w", err)
	}
	return stock, nil
}

func (l *stockLedger) TryDecrement(ctx context.Context, productID string, qty int32) error {
	if qty <= 0 {
		return domain.ErrItemQtyInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := l.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $2
		WHERE id = $1
		  AND stock >= $2
	`, productID, qty)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := l.productExists(ctx, productID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrProductNotFound
		}
		return domain.ErrInsufficientStock
	}

	return nil
}

func (l *stockLedger) Release(ctx context.Context, productID string, qty int32) error {
	if qty <= 0 {
		return domain.ErrItemQtyInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := l.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $2
		WHERE id = $1
	`, productID, qty)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}

	return nil
}

func (l *stockLedger) Product(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var p domain.Product
	err := l.db.QueryRowContext(ctx, `
		SELECT id, name, price_minor, image, stock
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.PriceMinor, &p.Image, &p.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

func (l *stockLedger) Products(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, name, price_minor, image, stock
		FROM products
		ORDER BY name ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceMinor, &p.Image, &p.Stock); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	return products, nil
}

// Upsert добавляет или заменяет карточку товара.
func (l *stockLedger) Upsert(ctx context.Context, p domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := l.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price_minor, image, stock)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price_minor = EXCLUDED.price_minor,
		    image = EXCLUDED.image,
		    stock = EXCLUDED.stock
	`, p.ID, p.Name, p.PriceMinor, p.Image, p.Stock); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (l *stockLedger) productExists(ctx context.Context, productID string) (bool, error) {
	var id string
	err := l.db.QueryRowContext(ctx, `SELECT id FROM products WHERE id = $1`, productID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check product exists: %w", err)
}

var (
	_ domain.StockLedger    = (*stockLedger)(nil)
	_ domain.ProductCatalog = (*stockLedger)(nil)
)
