// apikey.go — middleware извлечения API-ключа вызывающего.
// Ключ берётся из заголовка X-API-Key или параметра запроса key
// (заголовок приоритетнее) и кладётся в контекст. Проверку ключа и
// списание квоты выполняет сервисный слой: отказ зависит от состояния
// ledger, а не только от наличия ключа.
package middleware

import (
	"context"
	"net/http"
	"strings"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyAPIKey — API-ключ в контексте запроса.
const ContextKeyAPIKey contextKey = "api_key"

// HeaderAPIKey — заголовок с API-ключом.
const HeaderAPIKey = "X-API-Key"

// APIKey возвращает middleware, помещающий API-ключ в контекст.
func APIKey() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
			if key == "" {
				key = strings.TrimSpace(r.URL.Query().Get("key"))
			}
			if key != "" {
				r = r.WithContext(context.WithValue(r.Context(), ContextKeyAPIKey, key))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// APIKeyFromContext возвращает ключ из контекста или пустую строку.
func APIKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(ContextKeyAPIKey).(string)
	return key
}
