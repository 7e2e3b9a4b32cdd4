// Package notify раздаёт созданные уведомления по каналам доставки:
// WebSocket (открытые вкладки), web push и привязанный Telegram.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Vidrimers/watchRebel-sub002/internal/logger"
	"github.com/Vidrimers/watchRebel-sub002/internal/model"
	"github.com/Vidrimers/watchRebel-sub002/internal/push"
)

// NotificationStore сохраняет уведомление перед доставкой.
type NotificationStore interface {
	Create(ctx context.Context, n *model.Notification) error
}

// UserStore возвращает получателя (нужен telegram_chat_id).
type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// HubSender — живые WebSocket-соединения получателя.
type HubSender interface {
	SendNotification(n *model.Notification)
	IsOnline(userID string) bool
}

// Notifier сохраняет уведомление и рассылает его best-effort:
// ошибки доставки логируются, но не возвращаются вызывающему.
type Notifier struct {
	notifications NotificationStore
	users         UserStore
	hub           HubSender
	pushClient    *push.Client
	botNotifyURL  string
	httpClient    *http.Client
}

func New(notifications NotificationStore, users UserStore, hub HubSender, pushClient *push.Client, botNotifyURL string) *Notifier {
	return &Notifier{
		notifications: notifications,
		users:         users,
		hub:           hub,
		pushClient:    pushClient,
		botNotifyURL:  strings.TrimSuffix(botNotifyURL, "/"),
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify создаёт уведомление для userID и доставляет его по всем каналам.
// relatedPostID/relatedUserID могут быть пустыми.
func (n *Notifier) Notify(ctx context.Context, userID string, typ model.NotificationType, content string, relatedPostID, relatedUserID string) (*model.Notification, error) {
	notif := &model.Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      typ,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if relatedPostID != "" {
		notif.RelatedPostID = &relatedPostID
	}
	if relatedUserID != "" {
		notif.RelatedUserID = &relatedUserID
	}
	if err := n.notifications.Create(ctx, notif); err != nil {
		return nil, err
	}
	n.deliver(notif)
	return notif, nil
}

// NewMessage доставляет событие о новом сообщении получателю: пуш и Telegram,
// без записи в ленту уведомлений (счётчик непрочитанных ведёт сама переписка).
func (n *Notifier) NewMessage(msg *model.Message, senderName string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		preview := msg.Content
		if preview == "" {
			preview = "Вложение"
		}
		n.pushClient.Notify(ctx, msg.ReceiverID, senderName, preview, map[string]string{
			"kind":    "message",
			"user_id": msg.SenderID,
		})
		n.sendTelegram(ctx, msg.ReceiverID, senderName, preview)
	}()
}

func (n *Notifier) deliver(notif *model.Notification) {
	n.hub.SendNotification(notif)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		data := map[string]string{"kind": "notification", "notification_id": notif.ID}
		if notif.RelatedPostID != nil {
			data["post_id"] = *notif.RelatedPostID
		}
		n.pushClient.Notify(ctx, notif.UserID, "watchRebel", notif.Content, data)
		n.sendTelegram(ctx, notif.UserID, "watchRebel", notif.Content)
	}()
}

// sendTelegram пересылает текст в бот-сервис, если у получателя привязан чат.
func (n *Notifier) sendTelegram(ctx context.Context, userID, title, body string) {
	if n.botNotifyURL == "" {
		return
	}
	user, err := n.users.GetByID(ctx, userID)
	if err != nil {
		logger.Errorf("notify: get user %s: %v", userID, err)
		return
	}
	if user.TelegramChatID == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"telegram_chat_id": *user.TelegramChatID,
		"title":            title,
		"body":             body,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.botNotifyURL+"/internal/notify", bytes.NewReader(payload))
	if err != nil {
		logger.Errorf("notify: bot request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.httpClient.Do(req)
	if err != nil {
		logger.Errorf("notify: bot send: %v", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		logger.Errorf("notify: bot send: %d", resp.StatusCode)
	}
}
