package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/ratelimit"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/notify"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/transport/httpx"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run собирает зависимости и запускает приложение: HTTP-сервер витрины,
// сервер метрик, фоновые воркеры и опциональный Kafka-контур. Блокируется
// до отмены ctx или фатальной ошибки сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if deps.closeFn != nil {
		defer func() {
			if err := deps.closeFn(); err != nil {
				logger.WithError(err).Warn("failed to close storage")
			}
		}()
	}

	gw, verifier := buildGateway(cfg, logger)
	svc := buildServices(deps, gw, verifier, logger)

	// Контекст фоновых задач: воркеры и janitor лимитера живут до общего
	// сигнала остановки.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	var workers sync.WaitGroup

	limiter := initRateLimiter(workerCtx, cfg, &workers, logger)

	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	if kafkaProducer != nil {
		publisher := kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicOrderEvents)
		dlqPublisher := kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicDeadLetterQueue)
		worker := outbox.NewWorker(deps.outboxRepo, publisher,
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(dlqPublisher),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		workers.Add(1)
		go func() {
			defer workers.Done()
			worker.Run(workerCtx)
		}()
	} else {
		logger.Info("kafka не настроен, публикация outbox отложена до появления брокеров")
	}

	cleanup := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	workers.Add(1)
	go func() {
		defer workers.Done()
		cleanup.Run(workerCtx)
	}()

	notifyConsumer := startNotifyConsumer(workerCtx, cfg, deps.repo, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	healthHandler.RegisterChecker("outbox", outboxBacklogChecker(deps.outboxRepo, cfg.OutboxMaxPending))

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	storeHandler := &httpx.StoreHandler{
		Checkout:   svc.checkout,
		Reconciler: svc.reconciler,
		Orders:     svc.orders,
		IdemRepo:   deps.idempotencyRepo,
		Limiter:    limiter,
		Logger:     logger.WithField("component", "http-store"),
		Metrics:    metrics.NewCoreMetrics(),
	}
	adminHandler := &httpx.AdminHandler{
		Checkout: svc.checkout,
		Orders:   svc.orders,
		Logger:   logger.WithField("component", "http-admin"),
	}
	router := httpx.NewRouter(storeHandler, adminHandler)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP сервер слушает %s", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	stopAll := func() {
		shutdownHTTP(srv, logger)
		shutdownHTTP(metricsSrv, logger)
		stopWorkers()
		workers.Wait()
		stopNotifyConsumer(notifyConsumer, logger)
		closeKafka(kafkaProducer, logger)
	}

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		stopAll()
		return ctx.Err()
	case err := <-errCh:
		stopAll()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// initRateLimiter выбирает реализацию лимитера: Redis при настроенном
// адресе, иначе in-memory со своим janitor-циклом.
func initRateLimiter(ctx context.Context, cfg Config, workers *sync.WaitGroup, logger *log.Entry) domain.RateLimiter {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		logger.WithField("addr", cfg.RedisAddr).Info("rate limiter использует redis")
		return ratelimit.NewRedisLimiter(client, cfg.RateLimitWindow, cfg.RateLimitCapacity, logger.WithField("component", "ratelimit"))
	}

	limiter := ratelimit.NewMemoryLimiter(logger.WithField("component", "ratelimit"),
		ratelimit.WithWindow(cfg.RateLimitWindow),
		ratelimit.WithCapacity(cfg.RateLimitCapacity),
	)
	workers.Add(1)
	go func() {
		defer workers.Done()
		limiter.Run(ctx)
	}()
	return limiter
}

// startNotifyConsumer подписывается на топик событий заказов и шлёт
// уведомления покупателям. Без Kafka уведомления отключены.
func startNotifyConsumer(ctx context.Context, cfg Config, orders domain.OrderRepository, logger *log.Entry) *kafka.Consumer {
	if cfg.KafkaBrokers == "" {
		return nil
	}

	var notifier domain.Notifier
	if cfg.NotifyRelayURL != "" {
		notifier = notify.NewEmailRelay(cfg.NotifyRelayURL, cfg.NotifyFrom, logger.WithField("component", "notify"))
	} else {
		notifier = notify.NewMockNotifier()
	}
	handler := notify.NewHandler(notifier, orders, logger.WithField("component", "notify"))

	brokers := strings.Split(cfg.KafkaBrokers, ",")
	consumer, err := kafka.NewConsumer(brokers, cfg.NotifyConsumerGroup, []string{kafka.TopicOrderEvents}, handler.HandleMessage)
	if err != nil {
		logger.WithError(err).Warn("failed to create notify consumer, continuing without notifications")
		return nil
	}
	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Warn("failed to start notify consumer")
		return nil
	}
	return consumer
}

func stopNotifyConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop notify consumer")
	}
}

// outboxBacklogChecker деградирует readiness при разрастании очереди
// неотправленных событий.
func outboxBacklogChecker(repo domain.OutboxRepository, maxPending int) healthcheck.Checker {
	return healthcheck.NewSimpleChecker("outbox", func() error {
		stats, err := repo.Stats()
		if err != nil {
			return err
		}
		if maxPending > 0 && stats.PendingCount > maxPending {
			return fmt.Errorf("outbox backlog %d exceeds limit %d", stats.PendingCount, maxPending)
		}
		return nil
	})
}

// startMetricsServer запускает служебный HTTP: метрики Prometheus и
// health-пробы.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
