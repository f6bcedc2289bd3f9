package orders

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type fixture struct {
	svc    *Service
	orders domain.OrderRepository
	ledger domain.StockLedger
	outbox domain.OutboxRepository
}

func newFixture(t *testing.T, products ...domain.Product) *fixture {
	t.Helper()
	orders := memory.NewOrderRepository()
	ledger := memory.NewStockLedger(products...)
	outbox := memory.NewOutboxRepository()
	timeline := memory.NewTimelineRepository()
	logger := log.New().WithField("component", "orders-test")
	svc := NewServiceWithoutMetrics(orders, ledger, ledger, outbox, timeline, logger)
	return &fixture{svc: svc, orders: orders, ledger: ledger, outbox: outbox}
}

func seedOrder(t *testing.T, f *fixture, status domain.OrderStatus, stockUpdated bool, items ...domain.OrderItem) domain.Order {
	t.Helper()
	if len(items) == 0 {
		items = []domain.OrderItem{
			{ProductID: "p-1", Name: "Чай чёрный", UnitPriceMinor: 1000, Qty: 3},
		}
	}
	now := domain.Now()
	order := domain.Order{
		ID:               uuid.NewString(),
		OrderNumber:      domain.NewOrderNumber(now, 1),
		CustomerName:     "Анна",
		CustomerPhone:    "+79991112233",
		Shipping:         true,
		CustomerAddress:  "Казань, Баумана 5",
		Items:            items,
		TotalAmountMinor: domain.ItemsTotal(items),
		Status:           status,
		StockUpdated:     stockUpdated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := f.orders.Create(order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func TestTransition_HappyPathWithNotification(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f, domain.OrderStatusPaid, true)

	updated, err := f.svc.Transition(context.Background(), order.ID, domain.OrderStatusPreparing, "")
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if updated.Status != domain.OrderStatusPreparing {
		t.Fatalf("expected preparing, got %s", updated.Status)
	}

	pending, err := f.outbox.PullPending(10)
	if err != nil {
		t.Fatalf("PullPending failed: %v", err)
	}
	// Переход и уведомление клиента.
	if len(pending) != 2 {
		t.Fatalf("expected 2 events, got %d", len(pending))
	}
	var sawNotification bool
	for _, msg := range pending {
		if msg.EventType == "notification.order_status" {
			sawNotification = true
		}
	}
	if !sawNotification {
		t.Fatal("expected notification event for preparing")
	}
}

func TestTransition_RejectedOutsideGraph(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f, domain.OrderStatusCreated, false)

	_, err := f.svc.Transition(context.Background(), order.ID, domain.OrderStatusReady, "")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	saved, _ := f.orders.Get(order.ID)
	if saved.Status != domain.OrderStatusCreated {
		t.Fatalf("status must stay created, got %s", saved.Status)
	}
}

func TestTransition_TerminalRejectsAnyTarget(t *testing.T) {
	f := newFixture(t)

	for _, terminal := range []domain.OrderStatus{domain.OrderStatusDelivered, domain.OrderStatusCancelled} {
		order := seedOrder(t, f, terminal, true)
		for _, target := range []domain.OrderStatus{
			domain.OrderStatusCreated,
			domain.OrderStatusPaid,
			domain.OrderStatusPreparing,
			domain.OrderStatusCancelled,
		} {
			_, err := f.svc.Transition(context.Background(), order.ID, target, "")
			if !errors.Is(err, domain.ErrInvalidTransition) {
				t.Fatalf("terminal %s must reject %s, got %v", terminal, target, err)
			}
		}
	}
}

func TestTransition_UnknownStatus(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f, domain.OrderStatusPaid, true)

	_, err := f.svc.Transition(context.Background(), order.ID, domain.OrderStatus("teleported"), "")
	if !errors.Is(err, domain.ErrUnknownOrderStatus) {
		t.Fatalf("expected ErrUnknownOrderStatus, got %v", err)
	}
}

func TestTransition_ShippingGatesInTransit(t *testing.T) {
	f := newFixture(t)

	shipped := seedOrder(t, f, domain.OrderStatusReady, true)
	if _, err := f.svc.Transition(context.Background(), shipped.ID, domain.OrderStatusInTransit, ""); err != nil {
		t.Fatalf("shipping order must pass ready->in_transit: %v", err)
	}

	pickup := seedOrder(t, f, domain.OrderStatusReady, true)
	pickup.Shipping = false
	if err := f.orders.Save(pickup); err != nil {
		t.Fatalf("save pickup order: %v", err)
	}
	if _, err := f.svc.Transition(context.Background(), pickup.ID, domain.OrderStatusInTransit, ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("pickup order must reject in_transit, got %v", err)
	}
	if _, err := f.svc.Transition(context.Background(), pickup.ID, domain.OrderStatusDelivered, ""); err != nil {
		t.Fatalf("pickup order must pass ready->delivered: %v", err)
	}
}

func TestTransition_ByOrderNumber(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f, domain.OrderStatusPaid, true)

	updated, err := f.svc.Transition(context.Background(), order.OrderNumber, domain.OrderStatusPreparing, "")
	if err != nil {
		t.Fatalf("Transition by number failed: %v", err)
	}
	if updated.ID != order.ID {
		t.Fatalf("resolved wrong order: %s", updated.ID)
	}
}

func TestCancel_EmitsCancelledEvent(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f, domain.OrderStatusProcessing, false)

	updated, err := f.svc.Cancel(context.Background(), order.ID, "клиент передумал")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", updated.Status)
	}

	pending, _ := f.outbox.PullPending(10)
	if len(pending) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pending))
	}
	if pending[0].EventType != "order.cancelled" {
		t.Fatalf("unexpected event type: %s", pending[0].EventType)
	}
}

func editRequestFrom(order domain.Order, items ...EditItem) EditRequest {
	return EditRequest{
		CustomerName:    order.CustomerName,
		CustomerPhone:   order.CustomerPhone,
		CustomerEmail:   order.CustomerEmail,
		CustomerAddress: order.CustomerAddress,
		Shipping:        order.Shipping,
		Items:           items,
	}
}

func TestEdit_PositiveDeltaDecrementsExactly(t *testing.T) {
	f := newFixture(t, domain.Product{ID: "p-1", Name: "Чай чёрный", PriceMinor: 1000, Stock: 7})
	order := seedOrder(t, f, domain.OrderStatusPaid, true)

	updated, err := f.svc.Edit(context.Background(), order.ID, editRequestFrom(order, EditItem{ProductID: "p-1", Quantity: 5}))
	if err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	if updated.TotalAmountMinor != 5000 {
		t.Fatalf("total must be recomputed to 5000, got %d", updated.TotalAmountMinor)
	}

	available, _ := f.ledger.Available(context.Background(), "p-1")
	if available != 5 {
		t.Fatalf("expected stock 7-2=5, got %d", available)
	}
}

func TestEdit_NegativeDeltaReleases(t *testing.T) {
	f := newFixture(t, domain.Product{ID: "p-1", Name: "Чай чёрный", PriceMinor: 1000, Stock: 7})
	order := seedOrder(t, f, domain.OrderStatusPaid, true,
		domain.OrderItem{ProductID: "p-1", Name: "Чай чёрный", UnitPriceMinor: 1000, Qty: 5})

	if _, err := f.svc.Edit(context.Background(), order.ID, editRequestFrom(order, EditItem{ProductID: "p-1", Quantity: 2})); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	available, _ := f.ledger.Available(context.Background(), "p-1")
	if available != 10 {
		t.Fatalf("expected 7+3=10 after release, got %d", available)
	}
}

func TestEdit_RemovedItemReleasesFullQty(t *testing.T) {
	f := newFixture(t,
		domain.Product{ID: "p-1", Name: "Чай чёрный", PriceMinor: 1000, Stock: 7},
		domain.Product{ID: "p-2", Name: "Кофе зерновой", PriceMinor: 2000, Stock: 4},
	)
	order := seedOrder(t, f, domain.OrderStatusPaid, true,
		domain.OrderItem{ProductID: "p-1", Name: "Чай чёрный", UnitPriceMinor: 1000, Qty: 3},
		domain.OrderItem{ProductID: "p-2", Name: "Кофе зерновой", UnitPriceMinor: 2000, Qty: 2},
	)

	updated, err := f.svc.Edit(context.Background(), order.ID, editRequestFrom(order, EditItem{ProductID: "p-1", Quantity: 3}))
	if err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	if len(updated.Items) != 1 {
		t.Fatalf("expected 1 item left, got %d", len(updated.Items))
	}
	if updated.TotalAmountMinor != 3000 {
		t.Fatalf("expected total 3000, got %d", updated.TotalAmountMinor)
	}

	available, _ := f.ledger.Available(context.Background(), "p-2")
	if available != 6 {
		t.Fatalf("removed item must release full qty, expected 6, got %d", available)
	}
}

func TestEdit_NewItemSnapshotsCatalogPrice(t *testing.T) {
	f := newFixture(t,
		domain.Product{ID: "p-1", Name: "Чай чёрный", PriceMinor: 1000, Stock: 7},
		domain.Product{ID: "p-2", Name: "Кофе зерновой", PriceMinor: 2000, Stock: 4},
	)
	order := seedOrder(t, f, domain.OrderStatusPaid, true)

	updated, err := f.svc.Edit(context.Background(), order.ID, editRequestFrom(order,
		EditItem{ProductID: "p-1", Quantity: 3},
		EditItem{ProductID: "p-2", Quantity: 1},
	))
	if err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	if updated.TotalAmountMinor != 3*1000+2000 {
		t.Fatalf("unexpected total: %d", updated.TotalAmountMinor)
	}

	available, _ := f.ledger.Available(context.Background(), "p-2")
	if available != 3 {
		t.Fatalf("new item must decrement stock, expected 3, got %d", available)
	}
}

func TestEdit_KeepsOriginalPriceSnapshot(t *testing.T) {
	f := newFixture(t, domain.Product{ID: "p-1", Name: "Чай чёрный", PriceMinor: 9999, Stock: 7})
	// Снимок в заказе сделан по старой цене 1000; каталог уже подорожал.
	order := seedOrder(t, f, domain.OrderStatusPaid, true)

	updated, err := f.svc.Edit(context.Background(), order.ID, editRequestFrom(order, EditItem{ProductID: "p-1", Quantity: 4}))
	if err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	if updated.Items[0].UnitPriceMinor != 1000 {
		t.Fatalf("existing item must keep snapshot price 1000, got %d", updated.Items[0].UnitPriceMinor)
	}
	if updated.TotalAmountMinor != 4000 {
		t.Fatalf("expected total 4000 from snapshot price, got %d", updated.TotalAmountMinor)
	}
}

func TestEdit_InsufficientStockRollsBack(t *testing.T) {
	f := newFixture(t,
		domain.Product{ID: "p-1", Name: "Чай чёрный", PriceMinor: 1000, Stock: 10},
		domain.Product{ID: "p-2", Name: "Кофе зерновой", PriceMinor: 2000, Stock: 1},
	)
	order := seedOrder(t, f, domain.OrderStatusPaid, true)

	_, err := f.svc.Edit(context.Background(), order.ID, editRequestFrom(order,
		EditItem{ProductID: "p-1", Quantity: 5},
		EditItem{ProductID: "p-2", Quantity: 3},
	))
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	// Применённая дельта p-1 откатывается, заказ не изменён.
	available, _ := f.ledger.Available(context.Background(), "p-1")
	if available != 10 {
		t.Fatalf("expected p-1 stock restored to 10, got %d", available)
	}
	saved, _ := f.orders.Get(order.ID)
	if saved.Items[0].Qty != 3 {
		t.Fatalf("order must be unchanged, qty %d", saved.Items[0].Qty)
	}
}

func TestEdit_BeforeStockCommitTouchesNoStock(t *testing.T) {
	f := newFixture(t, domain.Product{ID: "p-1", Name: "Чай чёрный", PriceMinor: 1000, Stock: 7})
	order := seedOrder(t, f, domain.OrderStatusProcessing, false)

	updated, err := f.svc.Edit(context.Background(), order.ID, editRequestFrom(order, EditItem{ProductID: "p-1", Quantity: 6}))
	if err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	if updated.TotalAmountMinor != 6000 {
		t.Fatalf("expected total 6000, got %d", updated.TotalAmountMinor)
	}

	// До подтверждения оплаты сток не зарезервирован, дельты его не трогают.
	available, _ := f.ledger.Available(context.Background(), "p-1")
	if available != 7 {
		t.Fatalf("stock must stay 7 before commit, got %d", available)
	}
}

func TestEdit_BeforeStockCommitRejectsOverStock(t *testing.T) {
	f := newFixture(t, domain.Product{ID: "p-1", Name: "Чай чёрный", PriceMinor: 1000, Stock: 5})
	order := seedOrder(t, f, domain.OrderStatusProcessing, false)

	_, err := f.svc.Edit(context.Background(), order.ID, editRequestFrom(order, EditItem{ProductID: "p-1", Quantity: 50}))
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("edit beyond stock must fail like a fresh reservation, got %v", err)
	}

	var serr *checkout.StockError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StockError with shortages, got %T", err)
	}
	if len(serr.Shortages) != 1 {
		t.Fatalf("expected 1 shortage, got %d", len(serr.Shortages))
	}
	if s := serr.Shortages[0]; s.ProductID != "p-1" || s.Available != 5 || s.Requested != 47 {
		t.Fatalf("unexpected shortage: %+v", s)
	}

	// Проверка ничего не списывает и заказ не меняет.
	available, _ := f.ledger.Available(context.Background(), "p-1")
	if available != 5 {
		t.Fatalf("stock must stay 5, got %d", available)
	}
	saved, _ := f.orders.Get(order.ID)
	if saved.Items[0].Qty != 3 {
		t.Fatalf("order must be unchanged, qty %d", saved.Items[0].Qty)
	}
}

func TestEdit_BeforeStockCommitShortagesAcrossItems(t *testing.T) {
	f := newFixture(t,
		domain.Product{ID: "p-1", Name: "Чай чёрный", PriceMinor: 1000, Stock: 4},
		domain.Product{ID: "p-2", Name: "Кофе зерновой", PriceMinor: 2000, Stock: 1},
	)
	order := seedOrder(t, f, domain.OrderStatusProcessing, false)

	_, err := f.svc.Edit(context.Background(), order.ID, editRequestFrom(order,
		EditItem{ProductID: "p-1", Quantity: 9},
		EditItem{ProductID: "p-2", Quantity: 3},
	))

	// Нехватки перечисляются все разом, не первая попавшаяся.
	var serr *checkout.StockError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StockError, got %v", err)
	}
	if len(serr.Shortages) != 2 {
		t.Fatalf("expected 2 shortages, got %d", len(serr.Shortages))
	}
}

func TestEdit_LockedAfterReady(t *testing.T) {
	f := newFixture(t, domain.Product{ID: "p-1", Name: "Чай чёрный", PriceMinor: 1000, Stock: 7})

	for _, status := range []domain.OrderStatus{
		domain.OrderStatusReady,
		domain.OrderStatusInTransit,
		domain.OrderStatusDelivered,
		domain.OrderStatusCancelled,
	} {
		order := seedOrder(t, f, status, true)
		_, err := f.svc.Edit(context.Background(), order.ID, editRequestFrom(order, EditItem{ProductID: "p-1", Quantity: 1}))
		if !errors.Is(err, domain.ErrOrderEditLocked) {
			t.Fatalf("edit in %s must be locked, got %v", status, err)
		}
	}
}

func TestStatus_PublicProjection(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f, domain.OrderStatusProcessing, false)

	view, err := f.svc.Status(order.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if view.Status != domain.OrderStatusProcessing {
		t.Fatalf("unexpected status %s", view.Status)
	}
	if view.OrderNumber != order.OrderNumber {
		t.Fatalf("unexpected number %s", view.OrderNumber)
	}
	if view.TotalAmountMinor != order.TotalAmountMinor {
		t.Fatalf("unexpected total %d", view.TotalAmountMinor)
	}

	if _, err := f.svc.Status(uuid.NewString()); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
