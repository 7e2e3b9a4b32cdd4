// Package feed — модель панели уведомлений: счётчик на колокольчике,
// последние уведомления, разрешение цели перехода.
package feed

import (
	"context"
	"strconv"
	"sync"

	"github.com/Vidrimers/watchRebel-sub002/internal/logger"
	"github.com/Vidrimers/watchRebel-sub002/internal/model"
)

// DefaultLimit — сколько уведомлений показывает выпадающая панель.
const DefaultLimit = 15

// API — часть клиентского SDK, нужная панели уведомлений.
type API interface {
	Notifications(ctx context.Context, limit int) ([]model.Notification, error)
	UnreadNotificationCount(ctx context.Context) (int, error)
	MarkNotificationRead(ctx context.Context, id string) error
	NotificationTarget(ctx context.Context, id string) (*model.NotificationTarget, error)
}

// BadgeText — текст на колокольчике: пусто при нуле, число до 99, дальше "99+".
func BadgeText(unread int) string {
	switch {
	case unread <= 0:
		return ""
	case unread > 99:
		return "99+"
	default:
		return strconv.Itoa(unread)
	}
}

// Panel — состояние панели уведомлений.
type Panel struct {
	api API

	mu     sync.Mutex
	items  []model.Notification
	unread int
}

func NewPanel(api API) *Panel {
	return &Panel{api: api}
}

// Refresh перезагружает счётчик непрочитанных.
func (p *Panel) Refresh(ctx context.Context) error {
	count, err := p.api.UnreadNotificationCount(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.unread = count
	p.mu.Unlock()
	return nil
}

func (p *Panel) Unread() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unread
}

func (p *Panel) Badge() string {
	return BadgeText(p.Unread())
}

// Bump увеличивает счётчик при live-уведомлении из WebSocket.
func (p *Panel) Bump() {
	p.mu.Lock()
	p.unread++
	p.mu.Unlock()
}

// Open загружает последние уведомления для показа панели.
func (p *Panel) Open(ctx context.Context) ([]model.Notification, error) {
	items, err := p.api.Notifications(ctx, DefaultLimit)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.items = items
	p.mu.Unlock()
	return items, nil
}

func (p *Panel) Items() []model.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Notification, len(p.items))
	copy(out, p.items)
	return out
}

// MarkRead помечает уведомление прочитанным при показе. Переход только
// false→true: повторный вызов ничего не меняет.
func (p *Panel) MarkRead(ctx context.Context, id string) error {
	p.mu.Lock()
	already := false
	for i := range p.items {
		if p.items[i].ID == id {
			already = p.items[i].IsRead
			p.items[i].IsRead = true
			break
		}
	}
	if !already && p.unread > 0 {
		p.unread--
	}
	p.mu.Unlock()
	if already {
		return nil
	}
	return p.api.MarkNotificationRead(ctx, id)
}

// ResolveTarget разрешает уведомление в цель перехода. При ошибке
// разрешения открывается модалка поста — деградация вместо тупика.
func (p *Panel) ResolveTarget(ctx context.Context, n model.Notification) model.NotificationTarget {
	target, err := p.api.NotificationTarget(ctx, n.ID)
	if err == nil && target != nil {
		return *target
	}
	if err != nil {
		logger.Errorf("feed: resolve target %s: %v", n.ID, err)
	}
	fallback := model.NotificationTarget{Kind: "post"}
	if n.RelatedPostID != nil {
		fallback.Post = &model.Post{ID: *n.RelatedPostID}
	}
	return fallback
}
