package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// orderItemRow — JSONB-представление снимка позиции. Позиции неизменяемы
// после оформления, поэтому хранятся одним документом в строке заказа,
// без отдельной таблицы и джойнов.
type orderItemRow struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	Qty            int32  `json:"qty"`
	Image          string `json:"image,omitempty"`
}

func encodeItems(items []domain.OrderItem) ([]byte, error) {
	rows := make([]orderItemRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, orderItemRow{
			ProductID:      item.ProductID,
			Name:           item.Name,
			UnitPriceMinor: item.UnitPriceMinor,
			Qty:            item.Qty,
			Image:          item.Image,
		})
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode order items: %w", err)
	}
	return raw, nil
}

func decodeItems(raw []byte) ([]domain.OrderItem, error) {
	var rows []orderItemRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode order items: %w", err)
	}
	items := make([]domain.OrderItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, domain.OrderItem{
			ProductID:      row.ProductID,
			Name:           row.Name,
			UnitPriceMinor: row.UnitPriceMinor,
			Qty:            row.Qty,
			Image:          row.Image,
		})
	}
	return items, nil
}

const orderColumns = `
	id, order_number, customer_name, customer_phone, customer_email,
	customer_address, shipping, items, total_amount_minor, status,
	payment_status, stock_updated, external_intention_id, qr_payload,
	deep_link, checkout_url, version, created_at, updated_at
`

func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	items, err := encodeItems(order.Items)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`,
		order.ID, order.OrderNumber, order.CustomerName, order.CustomerPhone,
		order.CustomerEmail, order.CustomerAddress, order.Shipping, items,
		order.TotalAmountMinor, string(order.Status), string(order.PaymentStatus),
		order.StockUpdated, order.ExternalIntentionID, order.QRPayload,
		order.DeepLink, order.CheckoutURL, order.Version,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id))
}

// GetByNumber ищет заказ по отображаемому номеру. Номера не уникальны по
// построению, поэтому при коллизии берётся самый свежий заказ.
func (r *orderRepository) GetByNumber(orderNumber string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE order_number = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, orderNumber))
}

func (r *orderRepository) Count() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return count, nil
}

// Save перезаписывает заказ с проверкой версии. Статус, stock_updated и
// items применяются одним UPDATE, так что из двух гонящихся вебхуков
// конфликт версий получит ровно один.
func (r *orderRepository) Save(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	items, err := encodeItems(order.Items)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET customer_name = $1,
		    customer_phone = $2,
		    customer_email = $3,
		    customer_address = $4,
		    shipping = $5,
		    items = $6,
		    total_amount_minor = $7,
		    status = $8,
		    payment_status = $9,
		    stock_updated = $10,
		    external_intention_id = $11,
		    qr_payload = $12,
		    deep_link = $13,
		    checkout_url = $14,
		    version = version + 1,
		    updated_at = $15
		WHERE id = $16
		  AND version = $17
	`,
		order.CustomerName, order.CustomerPhone, order.CustomerEmail,
		order.CustomerAddress, order.Shipping, items, order.TotalAmountMinor,
		string(order.Status), string(order.PaymentStatus), order.StockUpdated,
		order.ExternalIntentionID, order.QRPayload, order.DeepLink,
		order.CheckoutURL, order.UpdatedAt, order.ID, order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.orderExists(ctx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}

	return nil
}

func (r *orderRepository) scanOne(row *sql.Row) (domain.Order, error) {
	var (
		order         domain.Order
		status        string
		paymentStatus string
		itemsRaw      []byte
	)

	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.CustomerName, &order.CustomerPhone,
		&order.CustomerEmail, &order.CustomerAddress, &order.Shipping, &itemsRaw,
		&order.TotalAmountMinor, &status, &paymentStatus, &order.StockUpdated,
		&order.ExternalIntentionID, &order.QRPayload, &order.DeepLink,
		&order.CheckoutURL, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.GatewayStatus(paymentStatus)

	items, err := decodeItems(itemsRaw)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) orderExists(ctx context.Context, orderID string) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
