package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Vidrimers/watchRebel-sub002/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	authWait       = 10 * time.Second
	maxMessageSize = 4096
)

// bufPool переиспользует bytes.Buffer для JSON-кодирования в writePump.
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client — одно WebSocket-подключение. Апгрейд принимается без
// авторизации: первым кадром в пределах authWait должен прийти auth-кадр
// с валидным токеном, иначе сокет закрывается.
// Жизненный цикл: NewClient -> Start(ctx, cancel) -> [readPump, writePump] -> Close -> Wait.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan OutgoingMessage
	userID string // пусто до принятого auth-кадра

	// done — неблокирующий предохранитель в sendToClient.
	done chan struct{}
	// cancel гасит контекст из Start и останавливает оба насоса.
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan OutgoingMessage, hub.sendBufSize),
		done: make(chan struct{}),
	}
}

// Start запускает горутины readPump и writePump.
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait ждёт завершения обеих горутин-насосов.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close останавливает клиента. Повторные вызовы из любых горутин безопасны.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		// Разблокирует оба насоса: ReadMessage/WriteMessage вернут ошибку.
		c.conn.Close()
	})
}

// readPump читает кадры из подключения. Первый кадр — авторизация,
// дальше сервер ждёт только pong.
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		if c.userID != "" {
			c.hub.Unregister(c)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(authWait)); err != nil {
		logger.Errorf("ws set auth deadline: %v", err)
		return
	}

	if !c.handleAuth(ctx) {
		return
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("ws set read deadline user=%s: %v", c.userID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error user=%s: %v", c.userID, err)
			}
			return
		}

		var msg IncomingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Errorf("ws unmarshal error user=%s: %v", c.userID, err)
			continue
		}
		// Повторный auth-кадр терпим, всё остальное — неожиданность.
		if msg.Type != EventAuth {
			c.trySend(OutgoingMessage{Type: EventError, Payload: ErrorPayload{Error: "unknown event type"}})
		}
	}
}

// handleAuth читает auth-кадр, проверяет токен и регистрирует клиента.
func (c *Client) handleAuth(ctx context.Context) bool {
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return false
	}
	var msg IncomingMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != EventAuth || msg.Token == "" {
		c.trySend(OutgoingMessage{Type: EventError, Payload: ErrorPayload{Error: "auth frame required"}})
		return false
	}
	authCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	userID, err := c.hub.auth(authCtx, msg.Token)
	cancel()
	if err != nil || userID == "" {
		c.trySend(OutgoingMessage{Type: EventError, Payload: ErrorPayload{Error: "unauthorized"}})
		return false
	}
	c.userID = userID
	c.hub.Register(c)
	c.trySend(OutgoingMessage{Type: EventAuthOK})
	return true
}

// trySend ставит кадр в очередь, не блокируя чтение.
func (c *Client) trySend(msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
	}
}

// writePump пишет кадры в подключение. Выходит по отмене контекста,
// ошибке записи или закрытию сокета.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Errorf("ws close message user=%s: %v", c.userID, err)
			}
			return
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline user=%s: %v", c.userID, err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			enc := json.NewEncoder(buf)
			if err := enc.Encode(msg); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error user=%s: %v", c.userID, err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder добавляет '\n' — для текстового кадра срезаем.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline user=%s: %v", c.userID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
