package gateway

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func jwksFor(t *testing.T, kid string, key *rsa.PublicKey) []byte {
	t.Helper()
	doc := map[string]any{
		"keys": []map[string]string{
			{
				"kty": "RSA",
				"kid": kid,
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			},
			// Не-RSA ключ пропускается без ошибки.
			{"kty": "EC", "kid": "ec-key"},
		},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return raw
}

func TestKeySet_LoadsLazilyAndCaches(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}

	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Write(jwksFor(t, "key-1", &priv.PublicKey))
	}))
	defer srv.Close()

	keys := NewKeySet(srv.Client(), srv.URL, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := keys.Key(ctx, "key-1")
		if err != nil {
			t.Fatalf("key lookup failed: %v", err)
		}
		if got.N.Cmp(priv.PublicKey.N) != 0 || got.E != priv.PublicKey.E {
			t.Fatal("loaded key does not match published key")
		}
	}

	if n := atomic.LoadInt64(&hits); n != 1 {
		t.Fatalf("expected single jwks fetch, got %d", n)
	}
}

func TestKeySet_UnknownKid(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(jwksFor(t, "key-1", &priv.PublicKey))
	}))
	defer srv.Close()

	keys := NewKeySet(srv.Client(), srv.URL, nil)
	if _, err := keys.Key(context.Background(), "key-2"); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for unknown kid, got %v", err)
	}
}

func TestKeySet_EndpointFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	keys := NewKeySet(srv.Client(), srv.URL, nil)
	if _, err := keys.Key(context.Background(), "key-1"); !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
}

func TestKeySet_NoUsableKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"keys":[{"kty":"EC","kid":"ec-key"}]}`))
	}))
	defer srv.Close()

	keys := NewKeySet(srv.Client(), srv.URL, nil)
	if _, err := keys.Key(context.Background(), "ec-key"); !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable for empty key set, got %v", err)
	}
}
