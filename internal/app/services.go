package app

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/gateway"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/service/webhook"
)

// services — прикладной слой поверх runtime-зависимостей.
type services struct {
	checkout   *checkout.Orchestrator
	reconciler *webhook.Reconciler
	orders     *orders.Service
}

// buildGateway собирает клиента платёжного шлюза и верификатор подписей
// вебхуков. HTTP-клиент общий: пул соединений делится между токенами,
// интенциями и JWKS.
func buildGateway(cfg Config, logger *log.Entry) (domain.PaymentGateway, domain.WebhookVerifier) {
	httpClient := &http.Client{Timeout: 15 * time.Second}

	tokens := gateway.NewTokenSource(
		httpClient,
		cfg.GatewayTokenURL,
		cfg.GatewayClientID,
		cfg.GatewayClientSecret,
		logger.WithField("component", "gateway-token"),
	)
	client := gateway.NewClient(
		httpClient,
		cfg.GatewayBaseURL,
		cfg.GatewayCurrency,
		tokens,
		logger.WithField("component", "gateway"),
	)
	keys := gateway.NewKeySet(httpClient, cfg.GatewayJWKSURL, logger.WithField("component", "gateway-jwks"))

	return client, gateway.NewVerifier(keys)
}

// buildServices связывает сервисы с хранилищами и шлюзом.
func buildServices(deps runtimeDependencies, gw domain.PaymentGateway, verifier domain.WebhookVerifier, logger *log.Entry) services {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	return services{
		checkout: checkout.NewOrchestrator(
			deps.repo,
			deps.catalog,
			deps.ledger,
			gw,
			deps.outboxRepo,
			deps.timelineRepo,
			logger.WithField("component", "checkout"),
		),
		reconciler: webhook.NewReconciler(
			verifier,
			deps.repo,
			deps.ledger,
			deps.outboxRepo,
			deps.timelineRepo,
			logger.WithField("component", "webhook"),
		),
		orders: orders.NewService(
			deps.repo,
			deps.catalog,
			deps.ledger,
			deps.outboxRepo,
			deps.timelineRepo,
			logger.WithField("component", "orders"),
		),
	}
}
