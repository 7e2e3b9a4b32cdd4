// Package wsclient — клиент WebSocket-канала watchRebel: auth-кадр после
// открытия, рассылка входящих кадров обработчикам, один запланированный
// reconnect после обрыва.
package wsclient

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Vidrimers/watchRebel-sub002/internal/logger"
)

// Frame — входящий кадр. Неизвестные типы не отбрасываются: Raw хранит
// весь кадр, обработчики разбирают его сами.
type Frame struct {
	Type string
	Raw  json.RawMessage
}

// Handler получает каждый входящий кадр. Паника одного обработчика не
// мешает остальным.
type Handler func(Frame)

// HandlerID возвращается AddMessageHandler и нужен для удаления: сами
// функции в Go несравнимы.
type HandlerID int

type Config struct {
	URL            string
	DialTimeout    time.Duration
	ReconnectDelay time.Duration
}

type handlerEntry struct {
	id HandlerID
	fn Handler
}

// Client — явно сконструированный клиент (никаких синглтонов пакета).
type Client struct {
	cfg Config

	mu         sync.Mutex
	conn       *websocket.Conn
	connecting bool
	lastToken  string
	handlers   []handlerEntry
	nextID     HandlerID
	reconnect  *time.Timer
	closed     bool
}

func New(cfg Config) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	return &Client{cfg: cfg}
}

// AddMessageHandler добавляет обработчик в конец списка. Дедупликации нет:
// добавленный дважды обработчик получает каждый кадр дважды.
func (c *Client) AddMessageHandler(fn Handler) HandlerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.handlers = append(c.handlers, handlerEntry{id: id, fn: fn})
	return id
}

func (c *Client) RemoveMessageHandler(id HandlerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, h := range c.handlers {
		if h.id == id {
			c.handlers = append(c.handlers[:i], c.handlers[i+1:]...)
			return
		}
	}
}

// Connect открывает соединение и шлёт auth-кадр. Если соединение уже
// открыто или открывается — no-op.
func (c *Client) Connect(token string) error {
	c.mu.Lock()
	if c.conn != nil || c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.closed = false
	c.lastToken = token
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	conn, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		c.scheduleReconnect()
		return err
	}

	// Авторизация — первым кадром, до любых подписок.
	auth := map[string]string{"type": "auth", "token": token}
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		c.scheduleReconnect()
		return err
	}

	c.mu.Lock()
	if c.closed {
		// Disconnect пришёл во время рукопожатия: свежий сокет не
		// устанавливаем, иначе он висел бы до обрыва со стороны сервера.
		c.connecting = false
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.connecting = false
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// Connected сообщает, открыто ли соединение.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Disconnect отменяет запланированный reconnect, закрывает соединение
// и удаляет ВСЕ обработчики.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closed = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	conn := c.conn
	c.conn = nil
	c.handlers = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			logger.Errorf("wsclient: bad frame: %v", err)
			continue
		}
		c.dispatch(Frame{Type: head.Type, Raw: raw})
	}

	conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closed := c.closed
	c.mu.Unlock()
	if !closed {
		c.scheduleReconnect()
	}
}

// dispatch раздаёт кадр обработчикам в порядке регистрации.
func (c *Client) dispatch(f Frame) {
	c.mu.Lock()
	handlers := make([]handlerEntry, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("wsclient: handler panic: %v", r)
				}
			}()
			h.fn(f)
		}()
	}
}

// scheduleReconnect планирует ровно одну попытку: новый план отменяет старый.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.reconnect != nil {
		c.reconnect.Stop()
	}
	token := c.lastToken
	c.reconnect = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.mu.Lock()
		c.reconnect = nil
		closed := c.closed
		c.mu.Unlock()
		if !closed {
			if err := c.Connect(token); err != nil {
				logger.Errorf("wsclient: reconnect: %v", err)
			}
		}
	})
}
