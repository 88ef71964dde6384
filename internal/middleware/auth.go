package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware выполняет проверку операторского токена в заголовке Authorization.
type AuthMiddleware struct {
	token string
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным токеном.
// При пустом токене проверка отключается и все запросы пропускаются.
func NewAuthMiddleware(token string) *AuthMiddleware {
	return &AuthMiddleware{token: token}
}

// Middleware проверяет bearer-токен и отклоняет запросы без валидной авторизации.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(a.token)) != 1 {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
