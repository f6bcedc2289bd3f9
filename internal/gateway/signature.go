package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Verifier проверяет detached JWS уведомлений шлюза. Подписанные байты —
// каноническая JSON-сериализация тела без поля signature, поэтому проверка
// обязана работать с сырыми байтами запроса, а не с пересобранным объектом.
type Verifier struct {
	keys *KeySet
}

// NewVerifier создаёт проверяющего поверх кэша ключей шлюза.
func NewVerifier(keys *KeySet) *Verifier {
	return &Verifier{keys: keys}
}

// Verify проверяет подпись тела вебхука. Любое расхождение — ErrInvalidSignature;
// отсутствие самого поля — ErrMissingSignature.
func (v *Verifier) Verify(ctx context.Context, rawBody []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(rawBody, &fields); err != nil {
		return fmt.Errorf("%w: body is not a JSON object", domain.ErrInvalidSignature)
	}

	sigRaw, ok := fields["signature"]
	if !ok {
		return domain.ErrMissingSignature
	}
	var token string
	if err := json.Unmarshal(sigRaw, &token); err != nil || token == "" {
		return domain.ErrMissingSignature
	}

	canonical, err := canonicalPayload(fields)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return fmt.Errorf("%w: signature is not a compact JWS", domain.ErrInvalidSignature)
	}

	encodedPayload := base64.RawURLEncoding.EncodeToString(canonical)
	if parts[1] != "" && parts[1] != encodedPayload {
		// Не-detached вариант допустим, но вложенный payload обязан
		// побайтно совпадать с каноническими полями тела.
		return fmt.Errorf("%w: embedded payload mismatch", domain.ErrInvalidSignature)
	}

	header, err := decodeHeader(parts[0])
	if err != nil {
		return err
	}

	// Принимается только RS256; заголовок вебхука не выбирает алгоритм сам.
	if header.Alg != jwt.SigningMethodRS256.Alg() {
		return fmt.Errorf("%w: unexpected signing method %q", domain.ErrInvalidSignature, header.Alg)
	}

	key, err := v.keys.Key(ctx, header.Kid)
	if err != nil {
		return err
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return fmt.Errorf("%w: malformed signature segment", domain.ErrInvalidSignature)
	}

	signingInput := parts[0] + "." + encodedPayload
	if err := jwt.SigningMethodRS256.Verify(signingInput, sig, key); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return nil
}

// canonicalPayload сериализует поля тела без signature в канонический JSON.
// encoding/json упорядочивает ключи map лексикографически — это и есть
// каноническая форма, которую подписывает шлюз.
func canonicalPayload(fields map[string]json.RawMessage) ([]byte, error) {
	payload := make(map[string]json.RawMessage, len(fields)-1)
	for key, value := range fields {
		if key == "signature" {
			continue
		}
		payload[key] = value
	}
	return json.Marshal(payload)
}

type jwsHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

func decodeHeader(segment string) (jwsHeader, error) {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return jwsHeader{}, fmt.Errorf("%w: malformed header segment", domain.ErrInvalidSignature)
	}
	var header jwsHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return jwsHeader{}, fmt.Errorf("%w: malformed header", domain.ErrInvalidSignature)
	}
	return header, nil
}

var _ domain.WebhookVerifier = (*Verifier)(nil)
