package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/Vidrimers/watchRebel-sub002/internal/logger"
	"github.com/Vidrimers/watchRebel-sub002/internal/model"
)

// SessionLookup проверяет bearer-токен и возвращает сессию (реализуется SessionRepository).
type SessionLookup interface {
	GetByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error)
	UpdateLastSeen(ctx context.Context, sessionID string, t time.Time) error
}

// UserLookup загружает пользователя для проверки блокировки и прав.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// HashToken возвращает sha256-хеш токена в hex. Сам токен в БД не хранится.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// BearerAuth проверяет заголовок Authorization: Bearer <token>.
// 401 — токен отсутствует/неизвестен/отозван; 403 "blocked" — пользователь заблокирован.
// Токен также принимается из query ?token= (для WebSocket-клиентов без заголовков не нужен:
// там аутентификация идёт кадром auth после апгрейда; query оставлен для отладки).
func BearerAuth(sessions SessionLookup, users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			session, err := sessions.GetByTokenHash(r.Context(), HashToken(token))
			if err != nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			user, err := users.GetByID(r.Context(), session.UserID)
			if err != nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if user.IsBlocked {
				http.Error(w, `{"error":"blocked"}`, http.StatusForbidden)
				return
			}
			if err := sessions.UpdateLastSeen(r.Context(), session.ID, time.Now().UTC()); err != nil {
				logger.Errorf("auth middleware UpdateLastSeen session_id=%s: %v", MaskToken(session.ID), err)
			}
			ctx := context.WithValue(r.Context(), UserIDKey, session.UserID)
			ctx = context.WithValue(ctx, SessionIDKey, session.ID)
			ctx = context.WithValue(ctx, IsAdminKey, user.IsAdmin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin пускает дальше только администраторов. Ставится после BearerAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAdmin(r.Context()) {
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
