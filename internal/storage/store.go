package storage

import (
	"context"
	"time"
)

// TTL волатильных ключей. Link-код и состояние бота живут по 10 минут:
// брошенный сценарий в чате не висит в памяти бесконечно.
const (
	OTPTTL             = 5 * time.Minute
	OTPRateLimitWindow = 10 * time.Minute
	OTPRateLimitMax    = 10
	LinkCodeTTL        = 10 * time.Minute
	BotStateTTL        = 10 * time.Minute
)

// Store — волатильное хранилище с TTL: OTP-коды входа, rate limit на отправку кодов,
// одноразовые коды привязки Telegram и состояние диалога бота.
// Реализации: redis.Client, memory.Client (для -dev без Redis).
type Store interface {
	SetOTP(ctx context.Context, email, code string) error
	GetOTP(ctx context.Context, email string) (string, error)
	GetOTPTTL(ctx context.Context, email string) (time.Duration, error)
	DeleteOTP(ctx context.Context, email string) error
	CheckOTPRateLimit(ctx context.Context, email string) (allowed bool, err error)

	SetLinkCode(ctx context.Context, code, userID string) error
	// ConsumeLinkCode возвращает user_id и удаляет код (одноразовое использование).
	// Пустая строка — код не найден или истёк.
	ConsumeLinkCode(ctx context.Context, code string) (string, error)

	SetBotState(ctx context.Context, telegramUserID int64, state string) error
	GetBotState(ctx context.Context, telegramUserID int64) (string, error)
	DeleteBotState(ctx context.Context, telegramUserID int64) error

	Close() error
}
