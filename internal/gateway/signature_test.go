package gateway

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// signer подписывает тела вебхуков так же, как это делает шлюз:
// detached JWS RS256 поверх канонической сериализации полей без signature.
type signer struct {
	key *rsa.PrivateKey
	kid string
}

func newSigner(t *testing.T, kid string) *signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return &signer{key: key, kid: kid}
}

func (s *signer) verifier(t *testing.T) *Verifier {
	t.Helper()
	keys := NewKeySet(nil, "http://unused", nil)
	keys.SetKeys(map[string]*rsa.PublicKey{s.kid: &s.key.PublicKey})
	return NewVerifier(keys)
}

// sign собирает подписанное тело вебхука из переданных полей.
func (s *signer) sign(t *testing.T, fields map[string]any, detached bool) []byte {
	t.Helper()

	raw := make(map[string]json.RawMessage, len(fields))
	for key, value := range fields {
		encoded, err := json.Marshal(value)
		if err != nil {
			t.Fatalf("marshal field %s: %v", key, err)
		}
		raw[key] = encoded
	}
	canonical, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal canonical payload: %v", err)
	}

	header, err := json.Marshal(map[string]string{"alg": "RS256", "kid": s.kid})
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	headerSeg := base64.RawURLEncoding.EncodeToString(header)
	payloadSeg := base64.RawURLEncoding.EncodeToString(canonical)

	sig, err := jwt.SigningMethodRS256.Sign(headerSeg+"."+payloadSeg, s.key)
	if err != nil {
		t.Fatalf("sign payload: %v", err)
	}
	sigSeg := base64.RawURLEncoding.EncodeToString(sig)

	embedded := payloadSeg
	if detached {
		embedded = ""
	}
	token := headerSeg + "." + embedded + "." + sigSeg

	raw["signature"], err = json.Marshal(token)
	if err != nil {
		t.Fatalf("marshal signature field: %v", err)
	}
	body, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return body
}

func webhookFields() map[string]any {
	return map[string]any{
		"external_intention_id": "order-1",
		"status":                "ACCEPTED",
		"amount_minor":          90000,
	}
}

func TestVerifier_AcceptsDetachedSignature(t *testing.T) {
	s := newSigner(t, "key-1")
	body := s.sign(t, webhookFields(), true)

	if err := s.verifier(t).Verify(context.Background(), body); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifier_AcceptsEmbeddedPayload(t *testing.T) {
	s := newSigner(t, "key-1")
	body := s.sign(t, webhookFields(), false)

	if err := s.verifier(t).Verify(context.Background(), body); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifier_RejectsTamperedBody(t *testing.T) {
	s := newSigner(t, "key-1")
	body := s.sign(t, webhookFields(), true)

	// Подменяем статус после подписания.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	fields["status"] = json.RawMessage(`"REJECTED"`)
	tampered, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal tampered body: %v", err)
	}

	if err := s.verifier(t).Verify(context.Background(), tampered); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifier_MissingSignature(t *testing.T) {
	s := newSigner(t, "key-1")

	body := []byte(`{"external_intention_id":"order-1","status":"ACCEPTED"}`)
	if err := s.verifier(t).Verify(context.Background(), body); !errors.Is(err, domain.ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}

	body = []byte(`{"external_intention_id":"order-1","signature":""}`)
	if err := s.verifier(t).Verify(context.Background(), body); !errors.Is(err, domain.ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature for empty field, got %v", err)
	}
}

func TestVerifier_RejectsForeignAlgorithm(t *testing.T) {
	s := newSigner(t, "key-1")
	body := s.sign(t, webhookFields(), true)

	// Переписываем заголовок на HS256, подпись остаётся прежней.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	var token string
	if err := json.Unmarshal(fields["signature"], &token); err != nil {
		t.Fatalf("unmarshal signature: %v", err)
	}
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","kid":"key-1"}`))
	forged := header + token[strings.Index(token, "."):]
	fields["signature"], _ = json.Marshal(forged)
	body, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal forged body: %v", err)
	}

	if err := s.verifier(t).Verify(context.Background(), body); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for HS256 header, got %v", err)
	}
}

func TestVerifier_UnknownKid(t *testing.T) {
	s := newSigner(t, "key-1")
	body := s.sign(t, webhookFields(), true)

	other := newSigner(t, "key-2")
	if err := other.verifier(t).Verify(context.Background(), body); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for unknown kid, got %v", err)
	}
}

func TestVerifier_WrongKey(t *testing.T) {
	s := newSigner(t, "key-1")
	body := s.sign(t, webhookFields(), true)

	// Тот же kid, но другой публичный ключ.
	imposter := newSigner(t, "key-1")
	if err := imposter.verifier(t).Verify(context.Background(), body); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for wrong key, got %v", err)
	}
}

func TestVerifier_MalformedBody(t *testing.T) {
	s := newSigner(t, "key-1")
	v := s.verifier(t)
	ctx := context.Background()

	if err := v.Verify(ctx, []byte(`not json`)); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for non-JSON body, got %v", err)
	}
	if err := v.Verify(ctx, []byte(`{"signature":"onlytwo.parts"}`)); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for non-compact JWS, got %v", err)
	}
}

func TestVerifier_EmbeddedPayloadMismatch(t *testing.T) {
	s := newSigner(t, "key-1")
	body := s.sign(t, webhookFields(), false)

	// Меняем поле: вложенный payload перестаёт совпадать с телом.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	fields["amount_minor"] = json.RawMessage(`1`)
	tampered, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal tampered body: %v", err)
	}

	if err := s.verifier(t).Verify(context.Background(), tampered); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for embedded mismatch, got %v", err)
	}
}
