package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Request — корзина и данные клиента на входе write path.
type Request struct {
	Items           []ItemInput
	CustomerName    string
	CustomerPhone   string
	CustomerEmail   string
	CustomerAddress string
	Shipping        bool
}

// ItemInput — позиция корзины: только идентификатор и количество.
// Цены клиенту не доверяются и всегда перечитываются из каталога.
type ItemInput struct {
	ProductID string
	Quantity  int32
}

// Result — данные для редиректа клиента на оплату.
type Result struct {
	OrderID     string
	OrderNumber string
	AmountMinor int64
	Intention   domain.PaymentIntention
}

// ValidationError агрегирует ошибки полей запроса: заказ не создаётся,
// побочных эффектов нет.
type ValidationError struct {
	Errs []error
}

func (e *ValidationError) Error() string {
	if len(e.Errs) == 0 {
		return "invalid checkout request"
	}
	return e.Errs[0].Error()
}

// StockError перечисляет все нехватки стока разом, а не первую попавшуюся.
type StockError struct {
	Shortages []domain.StockShortage
}

func (e *StockError) Error() string { return domain.ErrInsufficientStock.Error() }

func (e *StockError) Unwrap() error { return domain.ErrInsufficientStock }

// Orchestrator проводит корзину через проверку стока, создание заказа и
// открытие платёжной сессии у шлюза.
type Orchestrator struct {
	orders   domain.OrderRepository
	catalog  domain.ProductCatalog
	ledger   domain.StockLedger
	gateway  domain.PaymentGateway
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	logger   *log.Entry
	metrics  *metrics.CoreMetrics
}

// NewOrchestrator создаёт рабочий экземпляр оркестратора.
func NewOrchestrator(
	orders domain.OrderRepository,
	catalog domain.ProductCatalog,
	ledger domain.StockLedger,
	gateway domain.PaymentGateway,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
) *Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	return &Orchestrator{
		orders:   orders,
		catalog:  catalog,
		ledger:   ledger,
		gateway:  gateway,
		outbox:   outbox,
		timeline: timeline,
		logger:   logger,
		metrics:  metrics.NewCoreMetrics(),
	}
}

// NewOrchestratorWithoutMetrics создаёт оркестратор без метрик (для тестов).
func NewOrchestratorWithoutMetrics(
	orders domain.OrderRepository,
	catalog domain.ProductCatalog,
	ledger domain.StockLedger,
	gateway domain.PaymentGateway,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
) *Orchestrator {
	o := NewOrchestrator(orders, catalog, ledger, gateway, outbox, timeline, logger)
	o.metrics = nil
	return o
}

// Checkout создаёт заказ и платёжную сессию. Сток на этом шаге только
// проверяется, списание происходит при подтверждённой оплате из вебхука.
func (o *Orchestrator) Checkout(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.RecordCheckoutDuration(time.Since(start))
		}
	}()

	if err := validateRequest(req); err != nil {
		if o.metrics != nil {
			o.metrics.RecordCheckoutRejected("validation")
		}
		return Result{}, err
	}

	items, shortages, err := o.snapshotItems(ctx, req.Items)
	if err != nil {
		return Result{}, err
	}
	if len(shortages) > 0 {
		if o.metrics != nil {
			o.metrics.RecordCheckoutRejected("stock")
		}
		o.logger.WithField("shortages", len(shortages)).Info("checkout rejected: insufficient stock")
		return Result{}, &StockError{Shortages: shortages}
	}

	order, err := o.createOrder(req, items)
	if err != nil {
		return Result{}, err
	}

	intention, err := o.gateway.CreateIntention(ctx, order)
	if err != nil {
		// Заказ не должен остаться в created без платёжной сессии:
		// помечаем failed до того, как отдать ошибку наверх.
		o.failOrder(&order, err)
		if o.metrics != nil {
			o.metrics.RecordIntentionFailed()
		}
		return Result{}, err
	}

	order.ExternalIntentionID = intention.IntentionID
	order.QRPayload = intention.QRPayload
	order.DeepLink = intention.DeepLink
	order.CheckoutURL = intention.CheckoutURL
	order.UpdatedAt = domain.Now()
	if err := o.orders.Save(order); err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Error("failed to persist intention artifacts")
		return Result{}, err
	}

	o.emitEvent(&order, string(kafka.EventTypeOrderCreated), map[string]interface{}{
		"order_number": order.OrderNumber,
		"amount_minor": order.TotalAmountMinor,
		"intention_id": intention.IntentionID,
	})
	if o.metrics != nil {
		o.metrics.RecordOrderCreated()
	}

	o.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"amount_minor": order.TotalAmountMinor,
	}).Info("checkout completed")

	return Result{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		AmountMinor: order.TotalAmountMinor,
		Intention:   intention,
	}, nil
}

// CreateAdminOrder — административное создание заказа: сток списывается
// сразу, заказ рождается оплаченным и с выставленным барьером stockUpdated.
func (o *Orchestrator) CreateAdminOrder(ctx context.Context, req Request) (domain.Order, error) {
	if err := validateRequest(req); err != nil {
		return domain.Order{}, err
	}

	items, shortages, err := o.snapshotItems(ctx, req.Items)
	if err != nil {
		return domain.Order{}, err
	}
	if len(shortages) > 0 {
		return domain.Order{}, &StockError{Shortages: shortages}
	}

	// Сначала полная валидация, затем списание; откат уже списанного при
	// проигранной гонке за остаток, чтобы не применять заказ частично.
	var committed []domain.OrderItem
	for _, item := range items {
		if err := o.ledger.TryDecrement(ctx, item.ProductID, item.Qty); err != nil {
			for _, done := range committed {
				if relErr := o.ledger.Release(ctx, done.ProductID, done.Qty); relErr != nil {
					o.logger.WithError(relErr).WithField("product_id", done.ProductID).Error("rollback release failed")
				}
			}
			if errors.Is(err, domain.ErrInsufficientStock) {
				available, availErr := o.ledger.Available(ctx, item.ProductID)
				if availErr != nil {
					available = 0
				}
				return domain.Order{}, &StockError{Shortages: []domain.StockShortage{{
					ProductID: item.ProductID,
					Name:      item.Name,
					Available: available,
					Requested: item.Qty,
				}}}
			}
			return domain.Order{}, err
		}
		committed = append(committed, item)
	}

	order, err := o.createOrder(req, items)
	if err != nil {
		for _, done := range committed {
			if relErr := o.ledger.Release(ctx, done.ProductID, done.Qty); relErr != nil {
				o.logger.WithError(relErr).WithField("product_id", done.ProductID).Error("rollback release failed")
			}
		}
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatusPaid
	order.StockUpdated = true
	order.UpdatedAt = domain.Now()
	if err := o.orders.Save(order); err != nil {
		return domain.Order{}, err
	}
	order.Version++

	o.emitEvent(&order, string(kafka.EventTypeOrderCreated), map[string]interface{}{
		"order_number": order.OrderNumber,
		"amount_minor": order.TotalAmountMinor,
		"admin":        true,
	})
	if o.metrics != nil {
		o.metrics.RecordOrderCreated()
		o.metrics.RecordStockCommit()
	}
	return order, nil
}

func validateRequest(req Request) error {
	var errs []error
	if req.CustomerName == "" {
		errs = append(errs, domain.ErrCustomerNameRequired)
	}
	if req.CustomerPhone == "" {
		errs = append(errs, domain.ErrCustomerPhoneRequired)
	}
	if req.Shipping && req.CustomerAddress == "" {
		errs = append(errs, domain.ErrShippingAddressRequired)
	}
	if len(req.Items) == 0 {
		errs = append(errs, domain.ErrItemsRequired)
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			errs = append(errs, domain.ErrItemQtyInvalid)
			break
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Errs: errs}
	}
	return nil
}

// snapshotItems перечитывает каталог для каждой позиции и собирает снимок
// цен/названий вместе со списком нехваток. Проверка идёт по всем позициям,
// частичного применения нет.
func (o *Orchestrator) snapshotItems(ctx context.Context, inputs []ItemInput) ([]domain.OrderItem, []domain.StockShortage, error) {
	items := make([]domain.OrderItem, 0, len(inputs))
	var shortages []domain.StockShortage

	for _, input := range inputs {
		product, err := o.catalog.Product(ctx, input.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				shortages = append(shortages, domain.StockShortage{
					ProductID: input.ProductID,
					Available: 0,
					Requested: input.Quantity,
				})
				continue
			}
			return nil, nil, err
		}
		if product.Stock < input.Quantity {
			shortages = append(shortages, domain.StockShortage{
				ProductID: product.ID,
				Name:      product.Name,
				Available: product.Stock,
				Requested: input.Quantity,
			})
			continue
		}
		items = append(items, domain.OrderItem{
			ProductID:      product.ID,
			Name:           product.Name,
			UnitPriceMinor: product.PriceMinor,
			Qty:            input.Quantity,
			Image:          product.Image,
		})
	}

	return items, shortages, nil
}

func (o *Orchestrator) createOrder(req Request, items []domain.OrderItem) (domain.Order, error) {
	now := domain.Now()

	// Номер для отображения: unix-время плюс неатомарный счётчик.
	seq, err := o.orders.Count()
	if err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:               uuid.NewString(),
		OrderNumber:      domain.NewOrderNumber(now, seq+1),
		CustomerName:     req.CustomerName,
		CustomerPhone:    req.CustomerPhone,
		CustomerEmail:    req.CustomerEmail,
		CustomerAddress:  req.CustomerAddress,
		Shipping:         req.Shipping,
		Items:            items,
		TotalAmountMinor: domain.ItemsTotal(items),
		Status:           domain.OrderStatusCreated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, &ValidationError{Errs: errs}
	}

	if err := o.orders.Create(order); err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Error("failed to create order")
		return domain.Order{}, err
	}
	return order, nil
}

func (o *Orchestrator) failOrder(order *domain.Order, rootErr error) {
	order.Status = domain.OrderStatusFailed
	order.UpdatedAt = domain.Now()
	if err := o.orders.Save(*order); err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Error("failed to mark order failed")
		return
	}
	order.Version++

	o.logger.WithError(rootErr).WithField("order_id", order.ID).Warn("payment intention failed, order marked failed")
	o.emitEvent(order, string(kafka.EventTypeOrderFailed), map[string]interface{}{
		"reason": rootErr.Error(),
	})
}

func (o *Orchestrator) emitEvent(order *domain.Order, eventType string, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["order_id"] = order.ID
	payload["status"] = string(order.Status)
	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := o.outbox.Enqueue(msg); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("enqueue event failed")
	} else if o.metrics != nil {
		o.metrics.RecordOutboxEvent()
	}

	if o.timeline != nil {
		event := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     eventType,
			Occurred: order.UpdatedAt,
		}
		if err := o.timeline.Append(event); err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Warn("append timeline event failed")
		} else if o.metrics != nil {
			o.metrics.RecordTimelineEvent()
		}
	}
}
