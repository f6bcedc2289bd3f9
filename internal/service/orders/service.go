package orders

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
)

// StatusView — публичная проекция заказа для поллинга статуса.
// Наружу не уходит ничего, кроме перечисленного здесь.
type StatusView struct {
	Status           domain.OrderStatus
	OrderNumber      string
	TotalAmountMinor int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EditRequest — полное административное редактирование заказа.
type EditRequest struct {
	CustomerName    string
	CustomerPhone   string
	CustomerEmail   string
	CustomerAddress string
	Shipping        bool
	Items           []EditItem
}

// EditItem задаёт желаемое итоговое количество позиции, не дельту.
type EditItem struct {
	ProductID string
	Quantity  int32
}

// Service — операции чтения и административного управления заказом.
type Service struct {
	repo     domain.OrderRepository
	catalog  domain.ProductCatalog
	ledger   domain.StockLedger
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	logger   *log.Entry
	metrics  *metrics.CoreMetrics
}

// NewService конструирует сервис с зависимостями.
func NewService(
	repo domain.OrderRepository,
	catalog domain.ProductCatalog,
	ledger domain.StockLedger,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "orders")
	}
	return &Service{
		repo:     repo,
		catalog:  catalog,
		ledger:   ledger,
		outbox:   outbox,
		timeline: timeline,
		logger:   logger,
		metrics:  metrics.NewCoreMetrics(),
	}
}

// NewServiceWithoutMetrics конструирует сервис без метрик (для тестов).
func NewServiceWithoutMetrics(
	repo domain.OrderRepository,
	catalog domain.ProductCatalog,
	ledger domain.StockLedger,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
) *Service {
	s := NewService(repo, catalog, ledger, outbox, timeline, logger)
	s.metrics = nil
	return s
}

// Status возвращает публичную проекцию заказа.
func (s *Service) Status(orderID string) (StatusView, error) {
	order, err := s.repo.Get(orderID)
	if err != nil {
		return StatusView{}, err
	}
	return StatusView{
		Status:           order.Status,
		OrderNumber:      order.OrderNumber,
		TotalAmountMinor: order.TotalAmountMinor,
		CreatedAt:        order.CreatedAt,
		UpdatedAt:        order.UpdatedAt,
	}, nil
}

// Get возвращает заказ целиком (административное чтение).
func (s *Service) Get(orderID string) (domain.Order, error) {
	return s.repo.Get(orderID)
}

// Resolve ищет заказ по id либо по отображаемому номеру.
func (s *Service) Resolve(ref string) (domain.Order, error) {
	order, err := s.repo.Get(ref)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, domain.ErrOrderNotFound) {
		return domain.Order{}, err
	}
	return s.repo.GetByNumber(ref)
}

// Timeline возвращает события жизненного цикла заказа.
func (s *Service) Timeline(orderID string) ([]domain.TimelineEvent, error) {
	if _, err := s.repo.Get(orderID); err != nil {
		return nil, err
	}
	return s.timeline.List(orderID)
}

// Products возвращает витрину каталога.
func (s *Service) Products(ctx context.Context) ([]domain.Product, error) {
	return s.catalog.Products(ctx)
}

// Transition переводит заказ в запрошенный статус. Переход вне графа
// отклоняется, а не подменяется ближайшим допустимым.
func (s *Service) Transition(_ context.Context, ref string, to domain.OrderStatus, reason string) (domain.Order, error) {
	if !to.Known() {
		return domain.Order{}, domain.ErrUnknownOrderStatus
	}

	order, err := s.Resolve(ref)
	if err != nil {
		return domain.Order{}, err
	}

	if err := order.Transition(to); err != nil {
		s.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"from":     order.Status,
			"to":       to,
		}).Warn("transition rejected")
		return domain.Order{}, err
	}

	if err := s.repo.Save(order); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"operation": "Transition",
			"order_id":  order.ID,
		}).Error("failed to save order")
		return domain.Order{}, err
	}
	order.Version++

	s.emitStatusChange(order, reason)
	return order, nil
}

// Cancel отменяет заказ из любого нетерминального статуса.
func (s *Service) Cancel(ctx context.Context, ref, reason string) (domain.Order, error) {
	order, err := s.Transition(ctx, ref, domain.OrderStatusCancelled, reason)
	if err != nil {
		return domain.Order{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"reason":   reason,
	}).Info("order cancelled")
	return order, nil
}

// Edit применяет полное редактирование заказа: пересобирает позиции,
// пересчитывает сумму и проводит дельты по стоку. Сначала валидация всех
// дельт, затем мутации; частичное применение недопустимо.
func (s *Service) Edit(ctx context.Context, orderID string, req EditRequest) (domain.Order, error) {
	order, err := s.repo.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}

	if !editable(order.Status) {
		return domain.Order{}, domain.ErrOrderEditLocked
	}
	if err := validateEdit(req); err != nil {
		return domain.Order{}, err
	}

	items, deltas, err := s.rebuildItems(ctx, order, req.Items)
	if err != nil {
		return domain.Order{}, err
	}

	// Дельты трогают сток, только если списание по заказу уже состоялось.
	// До подтверждения оплаты сток не зарезервирован, и двигать нечего,
	// но положительные дельты всё равно сверяются с остатком: иначе заказ
	// разрастётся сверх стока и списание при подтверждённой оплате
	// не пройдёт.
	if order.StockUpdated {
		if err := s.applyDeltas(ctx, deltas); err != nil {
			return domain.Order{}, err
		}
	} else if err := s.checkDeltas(ctx, items, deltas); err != nil {
		return domain.Order{}, err
	}

	order.CustomerName = req.CustomerName
	order.CustomerPhone = req.CustomerPhone
	order.CustomerEmail = req.CustomerEmail
	order.CustomerAddress = req.CustomerAddress
	order.Shipping = req.Shipping
	order.Items = items
	order.TotalAmountMinor = domain.ItemsTotal(items)
	order.UpdatedAt = domain.Now()

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		if order.StockUpdated {
			s.revertDeltas(ctx, deltas)
		}
		return domain.Order{}, errs[0]
	}

	if err := s.repo.Save(order); err != nil {
		if order.StockUpdated {
			s.revertDeltas(ctx, deltas)
		}
		s.logger.WithError(err).WithFields(log.Fields{
			"operation": "Edit",
			"order_id":  order.ID,
		}).Error("failed to save edited order")
		return domain.Order{}, err
	}
	order.Version++

	s.emitEvent(order, kafka.EventTypeOrderEdited, "")
	return order, nil
}

// editable перечисляет статусы, в которых менять состав заказа ещё безопасно.
// С ready и дальше заказ собран, инвентарные правки запрещены.
func editable(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderStatusCreated,
		domain.OrderStatusProcessing,
		domain.OrderStatusPaymentFailed,
		domain.OrderStatusPaid,
		domain.OrderStatusPreparing:
		return true
	default:
		return false
	}
}

func validateEdit(req EditRequest) error {
	if req.CustomerName == "" {
		return domain.ErrCustomerNameRequired
	}
	if req.CustomerPhone == "" {
		return domain.ErrCustomerPhoneRequired
	}
	if req.Shipping && req.CustomerAddress == "" {
		return domain.ErrShippingAddressRequired
	}
	if len(req.Items) == 0 {
		return domain.ErrItemsRequired
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return domain.ErrItemQtyInvalid
		}
	}
	return nil
}

// rebuildItems собирает новый состав заказа и дельты по каждому товару.
// Цены уже имеющихся позиций берутся из старого снимка, не из каталога;
// новые позиции получают снимок по текущей карточке.
func (s *Service) rebuildItems(ctx context.Context, order domain.Order, inputs []EditItem) ([]domain.OrderItem, []domain.ItemDelta, error) {
	previous := make(map[string]domain.OrderItem, len(order.Items))
	for _, item := range order.Items {
		previous[item.ProductID] = item
	}

	items := make([]domain.OrderItem, 0, len(inputs))
	var deltas []domain.ItemDelta
	seen := make(map[string]bool, len(inputs))

	for _, input := range inputs {
		if seen[input.ProductID] {
			return nil, nil, domain.ErrItemQtyInvalid
		}
		seen[input.ProductID] = true

		if prev, ok := previous[input.ProductID]; ok {
			items = append(items, domain.OrderItem{
				ProductID:      prev.ProductID,
				Name:           prev.Name,
				UnitPriceMinor: prev.UnitPriceMinor,
				Qty:            input.Quantity,
				Image:          prev.Image,
			})
			if diff := input.Quantity - prev.Qty; diff != 0 {
				deltas = append(deltas, domain.ItemDelta{ProductID: input.ProductID, Delta: diff})
			}
			continue
		}

		product, err := s.catalog.Product(ctx, input.ProductID)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, domain.OrderItem{
			ProductID:      product.ID,
			Name:           product.Name,
			UnitPriceMinor: product.PriceMinor,
			Qty:            input.Quantity,
			Image:          product.Image,
		})
		deltas = append(deltas, domain.ItemDelta{ProductID: product.ID, Delta: input.Quantity})
	}

	// Полностью убранные позиции освобождают весь прежний объём.
	for _, item := range order.Items {
		if !seen[item.ProductID] {
			deltas = append(deltas, domain.ItemDelta{ProductID: item.ProductID, Delta: -item.Qty})
		}
	}

	return items, deltas, nil
}

// checkDeltas проверяет положительные дельты по текущему остатку, ничего
// не списывая. Нехватки собираются по всем позициям разом.
func (s *Service) checkDeltas(ctx context.Context, items []domain.OrderItem, deltas []domain.ItemDelta) error {
	names := make(map[string]string, len(items))
	for _, item := range items {
		names[item.ProductID] = item.Name
	}

	var shortages []domain.StockShortage
	for _, delta := range deltas {
		if delta.Delta <= 0 {
			continue
		}
		available, err := s.ledger.Available(ctx, delta.ProductID)
		if err != nil {
			return err
		}
		if available < delta.Delta {
			shortages = append(shortages, domain.StockShortage{
				ProductID: delta.ProductID,
				Name:      names[delta.ProductID],
				Available: available,
				Requested: delta.Delta,
			})
		}
	}
	if len(shortages) > 0 {
		return &checkout.StockError{Shortages: shortages}
	}
	return nil
}

// applyDeltas проводит дельты: положительные как условное списание,
// отрицательные как безусловный возврат. При отказе любого списания уже
// применённые дельты откатываются.
func (s *Service) applyDeltas(ctx context.Context, deltas []domain.ItemDelta) error {
	var applied []domain.ItemDelta
	for _, delta := range deltas {
		var err error
		switch {
		case delta.Delta > 0:
			err = s.ledger.TryDecrement(ctx, delta.ProductID, delta.Delta)
		case delta.Delta < 0:
			err = s.ledger.Release(ctx, delta.ProductID, -delta.Delta)
		default:
			continue
		}
		if err != nil {
			s.revertDeltas(ctx, applied)
			return err
		}
		applied = append(applied, delta)
	}
	return nil
}

func (s *Service) revertDeltas(ctx context.Context, deltas []domain.ItemDelta) {
	for _, delta := range deltas {
		var err error
		switch {
		case delta.Delta > 0:
			err = s.ledger.Release(ctx, delta.ProductID, delta.Delta)
		case delta.Delta < 0:
			err = s.ledger.TryDecrement(ctx, delta.ProductID, -delta.Delta)
		default:
			continue
		}
		if err != nil {
			s.logger.WithError(err).WithField("product_id", delta.ProductID).Error("delta revert failed")
		}
	}
}

// emitStatusChange публикует событие о переходе и, для сборочных статусов,
// событие нотификации клиента. Письмо уходит асинхронно через outbox,
// его сбой не может откатить переход.
func (s *Service) emitStatusChange(order domain.Order, reason string) {
	eventType := kafka.EventTypeOrderStatusChanged
	if order.Status == domain.OrderStatusCancelled {
		eventType = kafka.EventTypeOrderCancelled
	}
	s.emitEvent(order, eventType, reason)

	switch order.Status {
	case domain.OrderStatusPreparing, domain.OrderStatusReady, domain.OrderStatusInTransit:
		s.emitEvent(order, kafka.EventTypeNotificationOrderStatus, reason)
	}
}

func (s *Service) emitEvent(order domain.Order, eventType kafka.EventType, reason string) {
	payload, err := json.Marshal(map[string]interface{}{
		"order_id":       order.ID,
		"order_number":   order.OrderNumber,
		"status":         string(order.Status),
		"customer_email": order.CustomerEmail,
		"reason":         reason,
	})
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     string(eventType),
		Payload:       payload,
	}
	if _, err := s.outbox.Enqueue(msg); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("enqueue event failed")
	} else if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}

	if s.timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     string(eventType),
		Reason:   reason,
		Occurred: order.UpdatedAt,
	}
	if err := s.timeline.Append(event); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("append timeline event failed")
	} else if s.metrics != nil {
		s.metrics.RecordTimelineEvent()
	}
}
