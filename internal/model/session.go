package model

import "time"

type SessionClient string

const (
	SessionClientWeb SessionClient = "web"
	SessionClientBot SessionClient = "bot"
)

// Session — сессия с bearer-токеном. Сам токен (v4 UUID) клиенту выдаётся
// один раз; в БД хранится только его SHA-256 (token_hash).
type Session struct {
	ID         string        `json:"id"`
	UserID     string        `json:"user_id"`
	TokenHash  string        `json:"-"`
	Client     SessionClient `json:"client"`
	CreatedAt  time.Time     `json:"created_at"`
	LastSeenAt time.Time     `json:"last_seen_at"`
	RevokedAt  *time.Time    `json:"revoked_at,omitempty"`
}
