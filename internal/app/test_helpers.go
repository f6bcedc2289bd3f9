package app

import (
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// newTestOrder создаёт тестовый заказ для использования в тестах.
func newTestOrder() domain.Order {
	now := time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC)
	return domain.Order{
		ID:            "test-order-1",
		OrderNumber:   "ORD-1715508000000-0001",
		CustomerName:  "Анна Смирнова",
		CustomerPhone: "+79160000000",
		CustomerEmail: "anna@example.com",
		Shipping:      false,
		Items: []domain.OrderItem{
			{
				ProductID:      "prod-1",
				Name:           "Букет пионов",
				UnitPriceMinor: 450000,
				Qty:            1,
			},
		},
		TotalAmountMinor: 450000,
		Status:           domain.OrderStatusCreated,
		Version:          0,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
