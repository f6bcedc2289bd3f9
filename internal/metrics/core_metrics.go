package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CoreMetrics содержит метрики ядра: checkout, вебхуки, шлюз и rate limiter.
type CoreMetrics struct {
	// Счётчики write path
	ordersCreated    prometheus.Counter
	checkoutRejected *prometheus.CounterVec
	intentionsFailed prometheus.Counter
	tokenRefreshes   prometheus.Counter

	// Счётчики read-back path
	webhooksReceived  *prometheus.CounterVec
	webhookDuplicates prometheus.Counter
	stockCommits      prometheus.Counter

	// Прочее
	rateLimited    prometheus.Counter
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	// Гистограммы времени выполнения
	checkoutDuration prometheus.Histogram
	webhookDuration  prometheus.Histogram
}

// NewCoreMetrics создаёт и регистрирует метрики ядра в default-регистраторе.
func NewCoreMetrics() *CoreMetrics {
	return newCoreMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newCoreMetricsWithRegisterer(registerer prometheus.Registerer) *CoreMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CoreMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_created_total",
			Help: "Total number of orders created through checkout",
		}),
		checkoutRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_checkout_rejected_total",
			Help: "Total number of rejected checkout requests grouped by reason",
		}, []string{"reason"}),
		intentionsFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_payment_intentions_failed_total",
			Help: "Total number of failed payment intention requests",
		}),
		tokenRefreshes: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_gateway_token_refreshes_total",
			Help: "Total number of gateway credential refreshes",
		}),
		webhooksReceived: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_webhooks_received_total",
			Help: "Total number of payment webhooks grouped by result",
		}, []string{"result"}),
		webhookDuplicates: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_webhook_duplicates_total",
			Help: "Total number of redelivered webhooks short-circuited as no-ops",
		}),
		stockCommits: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_stock_commits_total",
			Help: "Total number of one-time stock commits on confirmed payment",
		}),
		rateLimited: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_checkout_duration_seconds",
			Help:    "Duration of checkout requests in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		webhookDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_webhook_duration_seconds",
			Help:    "Duration of webhook reconciliation in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
	}
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *CoreMetrics) RecordOrderCreated() {
	m.ordersCreated.Inc()
}

// RecordCheckoutRejected увеличивает счётчик отклонённых checkout-запросов.
func (m *CoreMetrics) RecordCheckoutRejected(reason string) {
	m.checkoutRejected.WithLabelValues(reason).Inc()
}

// RecordIntentionFailed увеличивает счётчик неудачных intention-запросов.
func (m *CoreMetrics) RecordIntentionFailed() {
	m.intentionsFailed.Inc()
}

// RecordTokenRefresh увеличивает счётчик обновлений токена шлюза.
func (m *CoreMetrics) RecordTokenRefresh() {
	m.tokenRefreshes.Inc()
}

// RecordWebhook увеличивает счётчик вебхуков по результату обработки.
func (m *CoreMetrics) RecordWebhook(result string) {
	m.webhooksReceived.WithLabelValues(result).Inc()
}

// RecordWebhookDuplicate увеличивает счётчик повторных доставок-no-op.
func (m *CoreMetrics) RecordWebhookDuplicate() {
	m.webhookDuplicates.Inc()
}

// RecordStockCommit увеличивает счётчик списаний стока.
func (m *CoreMetrics) RecordStockCommit() {
	m.stockCommits.Inc()
}

// RecordRateLimited увеличивает счётчик отклонённых по лимиту запросов.
func (m *CoreMetrics) RecordRateLimited() {
	m.rateLimited.Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *CoreMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CoreMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// RecordCheckoutDuration записывает время обработки checkout-запроса.
func (m *CoreMetrics) RecordCheckoutDuration(duration time.Duration) {
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordWebhookDuration записывает время обработки вебхука.
func (m *CoreMetrics) RecordWebhookDuration(duration time.Duration) {
	m.webhookDuration.Observe(duration.Seconds())
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}
