package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/agentgov-engine/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator — интерфейс, который должны реализовать и шлюз, и консоль
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

// Типизированные ключи контекста: коллизии со строковыми ключами
// чужих middleware исключены
type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyScopes
)

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyUserID, claims.UserID)
			ctx = context.WithValue(ctx, ctxKeyScopes, claims.Scopes)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFrom достает идентификатор аутентифицированного субъекта.
// Пустая строка — запрос прошел мимо NewMiddleware.
func UserIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyUserID).(string)
	return id
}

// HasScope проверяет наличие скоупа у субъекта запроса
func HasScope(ctx context.Context, scope string) bool {
	scopes, _ := ctx.Value(ctxKeyScopes).(map[string]bool)
	return scopes[scope]
}

// RequireScope — защита отдельных маршрутов: 403 без нужного скоупа.
// Скоуп "admin" открывает все маршруты.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HasScope(r.Context(), scope) && !HasScope(r.Context(), "admin") {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
