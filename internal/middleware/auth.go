// Package middleware содержит HTTP middleware для сервиса краудфандинга.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

type contextKey string

const callerKey contextKey = "caller"

// AuthMiddleware проверяет подписанный токен идентичности вызывающего.
// Сам токен подтверждает только то, что адрес прошёл через внешний резолвер
// идентичности (аналог wallet-connect): аутентификацию реестр не выполняет
// и полностью доверяет адресу из токена.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет заголовок Authorization и добавляет адрес вызывающего
// в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		caller, ok := a.parseToken(token)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), callerKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IssueToken выписывает подписанный токен идентичности для указанного адреса.
// Адрес нормализуется к нижнему регистру: все сравнения в реестре
// регистронезависимы.
func (a *AuthMiddleware) IssueToken(address string) string {
	return a.signAddress(strings.ToLower(address))
}

func (a *AuthMiddleware) signAddress(address string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(address))
	signature := mac.Sum(nil)
	return address + "." + hex.EncodeToString(signature)
}

func (a *AuthMiddleware) parseToken(token string) (string, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return "", false
	}

	address := parts[0]
	signature := parts[1]

	expected := a.signAddress(address)
	expectedParts := strings.Split(expected, ".")
	if len(expectedParts) != 2 {
		return "", false
	}

	if !hmac.Equal([]byte(signature), []byte(expectedParts[1])) {
		return "", false
	}

	return address, true
}

// GetCallerFromContext извлекает адрес вызывающего из контекста запроса.
func GetCallerFromContext(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(callerKey).(string)
	return caller, ok
}
