// Package redis — реализация storage.Store поверх Redis.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Vidrimers/watchRebel-sub002/internal/storage"
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// SetOTP сохраняет код (6 цифр) по ключу otp:{email}. Храним код как есть для надёжной верификации.
func (c *Client) SetOTP(ctx context.Context, email, code string) error {
	return c.cli.Set(ctx, "otp:"+email, code, storage.OTPTTL).Err()
}

// GetOTP возвращает код по email (ключ не удаляется — удаляем только после успешной верификации).
func (c *Client) GetOTP(ctx context.Context, email string) (string, error) {
	val, err := c.cli.Get(ctx, "otp:"+email).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// GetOTPTTL возвращает оставшийся TTL ключа OTP. Если ключа нет, возвращает 0.
func (c *Client) GetOTPTTL(ctx context.Context, email string) (time.Duration, error) {
	d, err := c.cli.TTL(ctx, "otp:"+email).Result()
	if err != nil || d < 0 {
		return 0, err
	}
	return d, nil
}

// DeleteOTP удаляет OTP после успешной верификации (одноразовое использование кода).
func (c *Client) DeleteOTP(ctx context.Context, email string) error {
	return c.cli.Del(ctx, "otp:"+email).Err()
}

// CheckOTPRateLimit проверяет otp_limit:{email}: макс. запросов за окно. При превышении — HTTP 429.
func (c *Client) CheckOTPRateLimit(ctx context.Context, email string) (bool, error) {
	key := "otp_limit:" + email
	n, err := c.cli.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		c.cli.Expire(ctx, key, storage.OTPRateLimitWindow)
	}
	return n <= int64(storage.OTPRateLimitMax), nil
}

func (c *Client) SetLinkCode(ctx context.Context, code, userID string) error {
	return c.cli.Set(ctx, "tg_link:"+code, userID, storage.LinkCodeTTL).Err()
}

// ConsumeLinkCode атомарно читает и удаляет код привязки (GETDEL).
func (c *Client) ConsumeLinkCode(ctx context.Context, code string) (string, error) {
	val, err := c.cli.GetDel(ctx, "tg_link:"+code).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func botStateKey(telegramUserID int64) string {
	return "bot_state:" + strconv.FormatInt(telegramUserID, 10)
}

func (c *Client) SetBotState(ctx context.Context, telegramUserID int64, state string) error {
	return c.cli.Set(ctx, botStateKey(telegramUserID), state, storage.BotStateTTL).Err()
}

func (c *Client) GetBotState(ctx context.Context, telegramUserID int64) (string, error) {
	val, err := c.cli.Get(ctx, botStateKey(telegramUserID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (c *Client) DeleteBotState(ctx context.Context, telegramUserID int64) error {
	return c.cli.Del(ctx, botStateKey(telegramUserID)).Err()
}

// FlushDB очищает текущую БД Redis (для сброса состояния при тестах/перезапуске).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
