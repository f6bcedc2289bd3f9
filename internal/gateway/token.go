package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// expiryLeeway — запас до истечения, при котором токен уже считается протухшим,
// чтобы не уйти к шлюзу с токеном, умирающим в полёте.
const expiryLeeway = 30 * time.Second

// TokenSource — процессный кэш bearer-токена шлюза. Один глобальный слот,
// заменяется целиком при обновлении. Обновление защищено singleflight:
// N конкурентных вызовов с протухшим токеном дают один запрос к шлюзу.
type TokenSource struct {
	httpClient   *http.Client
	tokenURL     string
	clientID     string
	clientSecret string
	logger       *log.Entry
	metrics      *metrics.CoreMetrics

	mu    sync.RWMutex
	token string

	group singleflight.Group
	now   func() time.Time
}

// NewTokenSource создаёт источник токенов для credential-эндпоинта шлюза.
func NewTokenSource(httpClient *http.Client, tokenURL, clientID, clientSecret string, logger *log.Entry) *TokenSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = log.WithField("component", "gateway-token")
	}
	return &TokenSource{
		httpClient:   httpClient,
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       logger,
		metrics:      metrics.NewCoreMetrics(),
		now:          time.Now,
	}
}

// Token возвращает действующий токен. Протухший, отсутствующий или
// нечитаемый токен синхронно заменяется свежим.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	cached := s.token
	s.mu.RUnlock()

	if cached != "" && !s.expired(cached) {
		return cached, nil
	}

	// Все гонящиеся вызовы схлопываются в один запрос к шлюзу.
	fresh, err, _ := s.group.Do("token", func() (interface{}, error) {
		// Пока ждали очередь, токен мог обновить другой вызов.
		s.mu.RLock()
		current := s.token
		s.mu.RUnlock()
		if current != "" && !s.expired(current) {
			return current, nil
		}

		token, err := s.fetch(ctx)
		if err != nil {
			return "", err
		}

		s.mu.Lock()
		s.token = token
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.RecordTokenRefresh()
		}
		s.logger.Debug("gateway token refreshed")
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return fresh.(string), nil
}

// expired декодирует exp-claim без проверки подписи: подлинность токена
// подтверждает сам шлюз, здесь нужен только срок жизни. Токен без читаемого
// exp считается протухшим.
func (s *TokenSource) expired(token string) bool {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return !s.now().Add(expiryLeeway).Before(exp.Time)
}

func (s *TokenSource) fetch(ctx context.Context) (string, error) {
	body := fmt.Sprintf(`{"client_id":%q,"client_secret":%q}`, s.clientID, s.clientSecret)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.WithError(err).Warn("token endpoint unreachable")
		return "", fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.WithField("status", resp.StatusCode).Warn("token endpoint returned non-2xx")
		return "", fmt.Errorf("%w: token endpoint status %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access_token", domain.ErrGatewayUnavailable)
	}
	return parsed.AccessToken, nil
}

var _ domain.TokenProvider = (*TokenSource)(nil)
