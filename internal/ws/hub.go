// Package ws — серверная сторона WebSocket-канала: хаб подключений,
// насосы чтения/записи и типы кадров.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/Vidrimers/watchRebel-sub002/internal/logger"
	"github.com/Vidrimers/watchRebel-sub002/internal/model"
)

// AuthFunc проверяет токен из auth-кадра и возвращает id пользователя.
type AuthFunc func(ctx context.Context, token string) (string, error)

// PresenceStore сохраняет переходы онлайн/офлайн (реализуется UserRepository).
type PresenceStore interface {
	SetOnline(ctx context.Context, userID string, online bool) error
}

// FriendSource отдаёт принятых друзей для рассылки статуса присутствия.
type FriendSource interface {
	FriendIDs(ctx context.Context, userID string) ([]string, error)
}

// Hub хранит авторизованные WebSocket-подключения, несколько на
// пользователя (вкладки, устройства). Регистрация — только после
// успешного auth-кадра.
type Hub struct {
	mu          sync.RWMutex
	clients     map[string]map[*Client]struct{}
	total       int
	maxConns    int
	sendBufSize int
	auth        AuthFunc
	presence    PresenceStore
	friends     FriendSource
	register    chan *Client
	unregister  chan *Client
	done        chan struct{}
}

func NewHub(auth AuthFunc, presence PresenceStore, friends FriendSource, maxConns, sendBufSize int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	if sendBufSize <= 0 {
		sendBufSize = 256
	}
	return &Hub{
		clients:     make(map[string]map[*Client]struct{}),
		maxConns:    maxConns,
		sendBufSize: sendBufSize,
		auth:        auth,
		presence:    presence,
		friends:     friends,
		register:    make(chan *Client, 64),
		unregister:  make(chan *Client, 64),
		done:        make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Клиентов собираем под замком, сетевой ввод-вывод — уже без него.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	firstClient := len(h.clients[c.userID]) == 1
	h.mu.Unlock()

	if firstClient {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.SetOnline(ctx, c.userID, true); err != nil {
			logger.Errorf("ws set online user=%s: %v", c.userID, err)
		}
		h.broadcastPresence(c.userID, true)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Сетевой ввод-вывод вне замка.
	c.Close()

	if lastClient {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.SetOnline(ctx, c.userID, false); err != nil {
			logger.Errorf("ws set offline user=%s: %v", c.userID, err)
		}
		h.broadcastPresence(c.userID, false)
	}
}

// broadcastPresence сообщает друзьям пользователя о смене присутствия.
func (h *Hub) broadcastPresence(userID string, online bool) {
	evType := EventUserOffline
	if online {
		evType = EventUserOnline
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	friendIDs, err := h.friends.FriendIDs(ctx, userID)
	if err != nil {
		logger.Errorf("ws presence broadcast user=%s: %v", userID, err)
		return
	}
	out := OutgoingMessage{Type: evType, Payload: UserStatusPayload{UserID: userID, Online: online}}
	for _, id := range friendIDs {
		h.SendToUser(id, out)
	}
}

// SendNewMessage доставляет сохранённое сообщение обеим сторонам пары.
func (h *Hub) SendNewMessage(m *model.Message) {
	out := OutgoingMessage{Type: EventNewMessage, Message: m}
	h.SendToUser(m.ReceiverID, out)
	// Другие вкладки отправителя тоже видят сообщение сразу.
	h.SendToUser(m.SenderID, out)
}

// SendNotification шлёт уведомление на живые подключения получателя.
func (h *Hub) SendNotification(n *model.Notification) {
	h.SendToUser(n.UserID, OutgoingMessage{Type: EventNewNotification, Notification: n})
}

// SendMessageRead сообщает senderID, что readerID прочитал переписку.
func (h *Hub) SendMessageRead(senderID, readerID string) {
	h.SendToUser(senderID, OutgoingMessage{Type: EventMessageRead, Payload: MessageReadPayload{UserID: readerID}})
}

// IsOnline — есть ли у пользователя хотя бы одно живое подключение.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) SendToUser(userID string, msg OutgoingMessage) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Буфер отправки переполнен: медленного клиента отключаем.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
