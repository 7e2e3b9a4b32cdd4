// Package memory — in-memory реализация storage.Store для -dev и тестов (без Redis).
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/Vidrimers/watchRebel-sub002/internal/storage"
)

type item struct {
	val string
	exp time.Time
}

type Client struct {
	mu     sync.Mutex
	otp    map[string]item
	limit  map[string][]time.Time
	links  map[string]item
	states map[string]item

	// now подменяется в тестах для проверки истечения TTL.
	now func() time.Time
}

func New() *Client {
	return &Client{
		otp:    make(map[string]item),
		limit:  make(map[string][]time.Time),
		links:  make(map[string]item),
		states: make(map[string]item),
		now:    time.Now,
	}
}

func (c *Client) Close() error { return nil }

// sweep удаляет все протухшие записи. Вызывается под c.mu при каждой записи:
// иначе брошенные потоки копили бы ключи до рестарта процесса.
func (c *Client) sweep(now time.Time) {
	for k, v := range c.otp {
		if now.After(v.exp) {
			delete(c.otp, k)
		}
	}
	for k, v := range c.links {
		if now.After(v.exp) {
			delete(c.links, k)
		}
	}
	for k, v := range c.states {
		if now.After(v.exp) {
			delete(c.states, k)
		}
	}
	cut := now.Add(-storage.OTPRateLimitWindow)
	for k, ts := range c.limit {
		var kept []time.Time
		for _, t := range ts {
			if t.After(cut) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(c.limit, k)
			continue
		}
		c.limit[k] = kept
	}
}

// alive отдаёт живую запись; протухшую снимает с карты и не возвращает.
func alive(m map[string]item, key string, now time.Time) (item, bool) {
	v, ok := m[key]
	if !ok {
		return item{}, false
	}
	if now.After(v.exp) {
		delete(m, key)
		return item{}, false
	}
	return v, true
}

func (c *Client) SetOTP(ctx context.Context, email, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.sweep(now)
	c.otp[email] = item{val: code, exp: now.Add(storage.OTPTTL)}
	return nil
}

func (c *Client) GetOTP(ctx context.Context, email string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := alive(c.otp, email, c.now())
	if !ok {
		return "", nil
	}
	return v.val, nil
}

func (c *Client) GetOTPTTL(ctx context.Context, email string) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := alive(c.otp, email, c.now())
	if !ok {
		return 0, nil
	}
	d := v.exp.Sub(c.now())
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (c *Client) DeleteOTP(ctx context.Context, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.otp, email)
	return nil
}

func (c *Client) CheckOTPRateLimit(ctx context.Context, email string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	cut := now.Add(-storage.OTPRateLimitWindow)
	var kept []time.Time
	for _, t := range c.limit[email] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= storage.OTPRateLimitMax {
		c.limit[email] = kept
		return false, nil
	}
	c.limit[email] = append(kept, now)
	return true, nil
}

func (c *Client) SetLinkCode(ctx context.Context, code, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.sweep(now)
	c.links[code] = item{val: userID, exp: now.Add(storage.LinkCodeTTL)}
	return nil
}

func (c *Client) ConsumeLinkCode(ctx context.Context, code string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := alive(c.links, code, c.now())
	if !ok {
		return "", nil
	}
	delete(c.links, code)
	return v.val, nil
}

func botStateKey(telegramUserID int64) string {
	return strconv.FormatInt(telegramUserID, 10)
}

func (c *Client) SetBotState(ctx context.Context, telegramUserID int64, state string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.sweep(now)
	c.states[botStateKey(telegramUserID)] = item{val: state, exp: now.Add(storage.BotStateTTL)}
	return nil
}

func (c *Client) GetBotState(ctx context.Context, telegramUserID int64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := alive(c.states, botStateKey(telegramUserID), c.now())
	if !ok {
		return "", nil
	}
	return v.val, nil
}

func (c *Client) DeleteBotState(ctx context.Context, telegramUserID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, botStateKey(telegramUserID))
	return nil
}
