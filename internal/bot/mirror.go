package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Vidrimers/watchRebel-sub002/internal/client"
	"github.com/Vidrimers/watchRebel-sub002/internal/logger"
	"github.com/Vidrimers/watchRebel-sub002/internal/storage"
	"github.com/Vidrimers/watchRebel-sub002/internal/thread"
	"github.com/Vidrimers/watchRebel-sub002/internal/wsclient"
)

// mirror зеркалит один диалог в Telegram-чат: пока пользователь отвечает
// собеседнику, новые входящие пересылаются боту сразу. Лента собирается
// thread.View (LoadNewest + poll 5 с), WebSocket подталкивает обновления
// без ожидания тика.
type mirror struct {
	cancel context.CancelFunc
	ws     *wsclient.Client
	view   *thread.View

	mu        sync.Mutex
	forwarded map[string]struct{}
}

// startMirror создаёт зеркало диалога selfID↔partnerID и шлёт новые сообщения
// собеседника в chatID. Уже существующая история не пересылается.
func (b *Bot) startMirror(parent context.Context, tgUserID, chatID int64, token string, sdk *client.Client, selfID, partnerID, partnerName string) {
	b.stopMirror(tgUserID)

	// Зеркало живёт не дольше состояния диалога: брошенный ответ не держит сокет.
	ctx, cancel := context.WithTimeout(parent, storage.BotStateTTL)
	m := &mirror{
		cancel:    cancel,
		forwarded: make(map[string]struct{}),
	}

	view := thread.NewView(sdk, selfID, partnerID)
	m.view = view

	// Стартовая загрузка помечает существующую историю как пересланную,
	// чтобы OnUpdate-пересылка реагировала только на новые сообщения.
	if err := view.LoadNewest(ctx); err != nil {
		logger.Errorf("bot: зеркало %d: начальная загрузка: %v", tgUserID, err)
	}
	m.mu.Lock()
	for _, msg := range view.Messages() {
		m.forwarded[msg.ID] = struct{}{}
	}
	m.mu.Unlock()

	view.OnUpdate = func() {
		m.mu.Lock()
		var fresh []string
		for _, msg := range view.Messages() {
			if msg.SenderID != partnerID {
				continue
			}
			if _, ok := m.forwarded[msg.ID]; ok {
				continue
			}
			m.forwarded[msg.ID] = struct{}{}
			text := msg.Content
			if text == "" {
				text = "[вложение]"
			}
			fresh = append(fresh, text)
		}
		m.mu.Unlock()
		for _, text := range fresh {
			if _, err := b.tg.SendMessage(ctx, chatID, fmt.Sprintf("💬 %s:\n%s", partnerName, text), nil); err != nil {
				logger.Errorf("bot: зеркало %d: пересылка сообщения: %v", tgUserID, err)
			}
		}
	}

	m.ws = wsclient.New(wsclient.Config{URL: wsURL(b.apiURL)})
	m.ws.AddMessageHandler(func(f wsclient.Frame) {
		if f.Type != "new_message" {
			return
		}
		go func() {
			if err := view.LoadNewest(ctx); err != nil {
				logger.Debugf("bot: зеркало %d: обновление по ws: %v", tgUserID, err)
			}
		}()
	})
	if err := m.ws.Connect(token); err != nil {
		logger.Errorf("bot: зеркало %d: ws connect: %v (остаётся poll)", tgUserID, err)
	}

	go view.Poll(ctx)
	go func() {
		<-ctx.Done()
		m.ws.Disconnect()
	}()

	b.mirrorsMu.Lock()
	b.mirrors[tgUserID] = m
	b.mirrorsMu.Unlock()
}

// stopMirror останавливает зеркало пользователя, если оно есть.
func (b *Bot) stopMirror(tgUserID int64) {
	b.mirrorsMu.Lock()
	m := b.mirrors[tgUserID]
	delete(b.mirrors, tgUserID)
	b.mirrorsMu.Unlock()
	if m == nil {
		return
	}
	m.cancel()
	m.ws.Disconnect()
}

// stopAllMirrors вызывается при остановке бота.
func (b *Bot) stopAllMirrors() {
	b.mirrorsMu.Lock()
	mirrors := b.mirrors
	b.mirrors = make(map[int64]*mirror)
	b.mirrorsMu.Unlock()
	for _, m := range mirrors {
		m.cancel()
		m.ws.Disconnect()
	}
}

// wsURL превращает базовый HTTP-адрес API в адрес WebSocket-эндпоинта.
func wsURL(apiURL string) string {
	u := strings.TrimSuffix(apiURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}
