package memory

import (
	"context"
	"testing"
	"time"

	"github.com/Vidrimers/watchRebel-sub002/internal/storage"
)

// withClock подменяет часы клиента и возвращает сдвигатель времени.
func withClock(c *Client) func(d time.Duration) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return func(d time.Duration) { now = now.Add(d) }
}

func TestOTPExpires(t *testing.T) {
	c := New()
	advance := withClock(c)
	ctx := context.Background()

	if err := c.SetOTP(ctx, "a@b.ru", "123456"); err != nil {
		t.Fatalf("SetOTP: %v", err)
	}
	if got, _ := c.GetOTP(ctx, "a@b.ru"); got != "123456" {
		t.Fatalf("GetOTP = %q", got)
	}

	advance(storage.OTPTTL + time.Second)
	if got, _ := c.GetOTP(ctx, "a@b.ru"); got != "" {
		t.Fatalf("истёкший OTP = %q, want пусто", got)
	}
	if ttl, _ := c.GetOTPTTL(ctx, "a@b.ru"); ttl != 0 {
		t.Fatalf("TTL истёкшего = %v, want 0", ttl)
	}
}

func TestLinkCodeSingleUse(t *testing.T) {
	c := New()
	ctx := context.Background()

	if err := c.SetLinkCode(ctx, "abc123", "user-1"); err != nil {
		t.Fatalf("SetLinkCode: %v", err)
	}
	if got, _ := c.ConsumeLinkCode(ctx, "abc123"); got != "user-1" {
		t.Fatalf("ConsumeLinkCode = %q, want user-1", got)
	}
	if got, _ := c.ConsumeLinkCode(ctx, "abc123"); got != "" {
		t.Fatalf("повторный Consume = %q, want пусто", got)
	}
}

func TestLinkCodeExpires(t *testing.T) {
	c := New()
	advance := withClock(c)
	ctx := context.Background()

	c.SetLinkCode(ctx, "stale", "user-1")
	advance(storage.LinkCodeTTL + time.Second)

	if got, _ := c.ConsumeLinkCode(ctx, "stale"); got != "" {
		t.Fatalf("истёкший код = %q, want пусто", got)
	}
}

func TestBotStateTTL(t *testing.T) {
	c := New()
	advance := withClock(c)
	ctx := context.Background()

	if err := c.SetBotState(ctx, 42, "awaiting_name_change"); err != nil {
		t.Fatalf("SetBotState: %v", err)
	}
	if got, _ := c.GetBotState(ctx, 42); got != "awaiting_name_change" {
		t.Fatalf("GetBotState = %q", got)
	}

	// Брошенный сценарий: состояние исчезает само.
	advance(storage.BotStateTTL + time.Second)
	if got, _ := c.GetBotState(ctx, 42); got != "" {
		t.Fatalf("истёкшее состояние = %q, want пусто", got)
	}
}

func TestBotStateDelete(t *testing.T) {
	c := New()
	ctx := context.Background()

	c.SetBotState(ctx, 7, "awaiting_message_reply:user-9")
	if err := c.DeleteBotState(ctx, 7); err != nil {
		t.Fatalf("DeleteBotState: %v", err)
	}
	if got, _ := c.GetBotState(ctx, 7); got != "" {
		t.Fatalf("после удаления = %q, want пусто", got)
	}
}

func TestOTPRateLimitWindow(t *testing.T) {
	c := New()
	advance := withClock(c)
	ctx := context.Background()

	for i := 0; i < storage.OTPRateLimitMax; i++ {
		allowed, err := c.CheckOTPRateLimit(ctx, "x@y.ru")
		if err != nil || !allowed {
			t.Fatalf("попытка #%d: (%v, %v)", i+1, allowed, err)
		}
	}
	if allowed, _ := c.CheckOTPRateLimit(ctx, "x@y.ru"); allowed {
		t.Fatal("сверх лимита должно быть запрещено")
	}

	// Окно сдвинулось: лимит отпускает.
	advance(storage.OTPRateLimitWindow + time.Second)
	if allowed, _ := c.CheckOTPRateLimit(ctx, "x@y.ru"); !allowed {
		t.Fatal("после окна лимит должен сброситься")
	}
}

func TestExpiredEntriesEvicted(t *testing.T) {
	c := New()
	advance := withClock(c)
	ctx := context.Background()

	for i := int64(0); i < 1000; i++ {
		if err := c.SetBotState(ctx, i, "awaiting_name_change"); err != nil {
			t.Fatalf("SetBotState(%d): %v", i, err)
		}
	}
	c.SetOTP(ctx, "a@b.ru", "123456")
	c.SetLinkCode(ctx, "abc123", "user-1")

	advance(10*storage.BotStateTTL + time.Second)

	// Чтение протухшего ключа удаляет его, а не только прячет.
	if got, _ := c.GetBotState(ctx, 0); got != "" {
		t.Fatalf("истёкшее состояние = %q, want пусто", got)
	}
	c.mu.Lock()
	n := len(c.states)
	c.mu.Unlock()
	if n != 999 {
		t.Fatalf("записей после чтения истёкшего ключа: %d, want 999", n)
	}

	// Любая запись выметает всё протухшее разом.
	if err := c.SetBotState(ctx, 5000, "awaiting_status_change"); err != nil {
		t.Fatalf("SetBotState: %v", err)
	}
	c.mu.Lock()
	states, otps, links := len(c.states), len(c.otp), len(c.links)
	c.mu.Unlock()
	if states != 1 {
		t.Errorf("записей в карте состояний после TTL: %d, want 1", states)
	}
	if otps != 0 {
		t.Errorf("записей OTP после TTL: %d, want 0", otps)
	}
	if links != 0 {
		t.Errorf("кодов привязки после TTL: %d, want 0", links)
	}
}

func TestRateLimitEntriesEvicted(t *testing.T) {
	c := New()
	advance := withClock(c)
	ctx := context.Background()

	c.CheckOTPRateLimit(ctx, "x@y.ru")
	advance(storage.OTPRateLimitWindow + time.Second)

	c.SetOTP(ctx, "other@y.ru", "654321")
	c.mu.Lock()
	n := len(c.limit)
	c.mu.Unlock()
	if n != 0 {
		t.Errorf("счётчиков лимита после окна: %d, want 0", n)
	}
}
