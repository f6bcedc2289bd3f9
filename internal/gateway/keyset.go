package gateway

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// KeySet — кэш публичных ключей шлюза. Набор загружается лениво при первой
// проверке подписи и живёт до конца процесса.
type KeySet struct {
	httpClient *http.Client
	jwksURL    string
	logger     *log.Entry

	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey
}

// NewKeySet создаёт кэш JWKS-эндпоинта шлюза.
func NewKeySet(httpClient *http.Client, jwksURL string, logger *log.Entry) *KeySet {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = log.WithField("component", "gateway-keyset")
	}
	return &KeySet{
		httpClient: httpClient,
		jwksURL:    jwksURL,
		logger:     logger,
	}
}

// Key возвращает публичный ключ по kid, при необходимости загружая набор.
func (k *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	k.mu.RLock()
	keys := k.keys
	k.mu.RUnlock()

	if keys == nil {
		loaded, err := k.fetch(ctx)
		if err != nil {
			return nil, err
		}
		k.mu.Lock()
		if k.keys == nil {
			k.keys = loaded
		}
		keys = k.keys
		k.mu.Unlock()
	}

	key, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kid %q", domain.ErrInvalidSignature, kid)
	}
	return key, nil
}

// jwksDocument — ровно та часть RFC 7517, которую отдаёт шлюз: RSA-ключи
// с base64url-полями n и e.
type jwksDocument struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (k *KeySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: jwks status %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read jwks response: %w", err)
	}

	var doc jwksDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, entry := range doc.Keys {
		if entry.Kty != "RSA" {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(entry.N)
		if err != nil {
			k.logger.WithError(err).WithField("kid", entry.Kid).Warn("skip jwk with bad modulus")
			continue
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(entry.E)
		if err != nil {
			k.logger.WithError(err).WithField("kid", entry.Kid).Warn("skip jwk with bad exponent")
			continue
		}
		keys[entry.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(nBytes),
			E: int(new(big.Int).SetBytes(eBytes).Int64()),
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: jwks contains no usable RSA keys", domain.ErrGatewayUnavailable)
	}

	k.logger.WithField("keys", len(keys)).Info("gateway key set loaded")
	return keys, nil
}

// SetKeys подменяет набор ключей напрямую (для тестов и офлайн-конфигурации).
func (k *KeySet) SetKeys(keys map[string]*rsa.PublicKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = keys
}
