package feed

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Vidrimers/watchRebel-sub002/internal/model"
)

type fakeAPI struct {
	mu            sync.Mutex
	items         []model.Notification
	unread        int
	markCalls     []string
	target        *model.NotificationTarget
	targetErr     error
	countErr      error
	notifErr      error
	markReadError error
}

func (f *fakeAPI) Notifications(ctx context.Context, limit int) ([]model.Notification, error) {
	if f.notifErr != nil {
		return nil, f.notifErr
	}
	if limit < len(f.items) {
		return f.items[:limit], nil
	}
	return f.items, nil
}

func (f *fakeAPI) UnreadNotificationCount(ctx context.Context) (int, error) {
	return f.unread, f.countErr
}

func (f *fakeAPI) MarkNotificationRead(ctx context.Context, id string) error {
	f.mu.Lock()
	f.markCalls = append(f.markCalls, id)
	f.mu.Unlock()
	return f.markReadError
}

func (f *fakeAPI) NotificationTarget(ctx context.Context, id string) (*model.NotificationTarget, error) {
	return f.target, f.targetErr
}

func TestBadgeText(t *testing.T) {
	cases := []struct {
		unread int
		want   string
	}{
		{0, ""},
		{-3, ""},
		{1, "1"},
		{42, "42"},
		{99, "99"},
		{100, "99+"},
		{151, "99+"},
	}
	for _, tc := range cases {
		if got := BadgeText(tc.unread); got != tc.want {
			t.Errorf("BadgeText(%d) = %q, want %q", tc.unread, got, tc.want)
		}
	}
}

func TestRefreshAndBump(t *testing.T) {
	api := &fakeAPI{unread: 7}
	p := NewPanel(api)

	if err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := p.Badge(); got != "7" {
		t.Errorf("Badge = %q, want %q", got, "7")
	}

	// Live-уведомление из WebSocket поднимает счётчик без похода в API.
	p.Bump()
	if got := p.Unread(); got != 8 {
		t.Errorf("Unread после Bump = %d, want 8", got)
	}
}

func TestMarkReadTransitionsOnlyOnce(t *testing.T) {
	api := &fakeAPI{
		items:  []model.Notification{{ID: "n1"}, {ID: "n2"}},
		unread: 2,
	}
	p := NewPanel(api)
	ctx := context.Background()
	if err := p.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := p.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := p.MarkRead(ctx, "n1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	// Переход только false→true: повторный показ ничего не меняет.
	if err := p.MarkRead(ctx, "n1"); err != nil {
		t.Fatalf("повторный MarkRead: %v", err)
	}

	if got := len(api.markCalls); got != 1 {
		t.Errorf("API MarkNotificationRead вызван %d раз, want 1", got)
	}
	if got := p.Unread(); got != 1 {
		t.Errorf("Unread = %d, want 1", got)
	}
	items := p.Items()
	if !items[0].IsRead {
		t.Error("n1 должен быть прочитан локально")
	}
	if items[1].IsRead {
		t.Error("n2 не должен быть затронут")
	}
}

func TestResolveTargetFallsBackToPostModal(t *testing.T) {
	postID := "post-9"
	api := &fakeAPI{targetErr: errors.New("боевой 500")}
	p := NewPanel(api)

	got := p.ResolveTarget(context.Background(), model.Notification{ID: "n1", RelatedPostID: &postID})
	if got.Kind != "post" {
		t.Fatalf("Kind = %q, want %q", got.Kind, "post")
	}
	if got.Post == nil || got.Post.ID != postID {
		t.Fatalf("fallback должен открыть модалку поста %s", postID)
	}
}

func TestResolveTargetUsesAPIResult(t *testing.T) {
	api := &fakeAPI{target: &model.NotificationTarget{Kind: "user", User: &model.UserPublic{ID: "u1"}}}
	p := NewPanel(api)

	got := p.ResolveTarget(context.Background(), model.Notification{ID: "n1"})
	if got.Kind != "user" || got.User == nil || got.User.ID != "u1" {
		t.Fatalf("ResolveTarget = %+v, want цель user/u1", got)
	}
}
