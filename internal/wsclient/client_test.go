package wsclient

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDispatchFanOutInRegistrationOrder(t *testing.T) {
	c := New(Config{URL: "ws://example.invalid/ws"})

	var order []string
	c.AddMessageHandler(func(f Frame) { order = append(order, "first") })
	c.AddMessageHandler(func(f Frame) { order = append(order, "second") })
	c.AddMessageHandler(func(f Frame) { order = append(order, "third") })

	c.dispatch(Frame{Type: "new_message"})

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("вызвано %d обработчиков, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestDispatchNoDeduplication(t *testing.T) {
	c := New(Config{URL: "ws://example.invalid/ws"})

	var calls int
	handler := func(f Frame) { calls++ }
	// Один и тот же обработчик дважды — сработает дважды.
	c.AddMessageHandler(handler)
	c.AddMessageHandler(handler)

	c.dispatch(Frame{Type: "new_notification"})

	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestRemoveMessageHandler(t *testing.T) {
	c := New(Config{URL: "ws://example.invalid/ws"})

	var aCalls, bCalls int
	idA := c.AddMessageHandler(func(f Frame) { aCalls++ })
	c.AddMessageHandler(func(f Frame) { bCalls++ })

	c.RemoveMessageHandler(idA)
	c.dispatch(Frame{Type: "user_online"})

	if aCalls != 0 {
		t.Errorf("снятый обработчик вызван %d раз", aCalls)
	}
	if bCalls != 1 {
		t.Errorf("оставшийся обработчик вызван %d раз, want 1", bCalls)
	}
}

func TestDispatchIsolatesPanics(t *testing.T) {
	c := New(Config{URL: "ws://example.invalid/ws"})

	var after int
	c.AddMessageHandler(func(f Frame) { panic("сломанный обработчик") })
	c.AddMessageHandler(func(f Frame) { after++ })

	// Паника одного обработчика не роняет остальных и сам клиент.
	c.dispatch(Frame{Type: "new_message"})

	if after != 1 {
		t.Fatalf("обработчик после паникующего вызван %d раз, want 1", after)
	}
}

func TestScheduleReconnectKeepsSingleTimer(t *testing.T) {
	c := New(Config{URL: "ws://example.invalid/ws", ReconnectDelay: time.Hour})

	c.scheduleReconnect()
	c.mu.Lock()
	first := c.reconnect
	c.mu.Unlock()
	if first == nil {
		t.Fatal("таймер переподключения не взведён")
	}

	// Повторное планирование заменяет таймер, а не добавляет второй.
	c.scheduleReconnect()
	c.mu.Lock()
	second := c.reconnect
	c.mu.Unlock()
	if second == first {
		t.Fatal("повторный scheduleReconnect должен заменить таймер")
	}
	second.Stop()
}

func TestDisconnectClearsHandlersAndStopsReconnect(t *testing.T) {
	c := New(Config{URL: "ws://example.invalid/ws", ReconnectDelay: time.Hour})
	c.AddMessageHandler(func(f Frame) {})
	c.scheduleReconnect()

	c.Disconnect()

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.handlers) != 0 {
		t.Errorf("после Disconnect осталось %d обработчиков", len(c.handlers))
	}
	if !c.closed {
		t.Error("клиент должен быть помечен закрытым")
	}
}

func TestDisconnectDuringDialClosesFreshConn(t *testing.T) {
	dialStarted := make(chan struct{})
	release := make(chan struct{})
	serverSawClose := make(chan struct{})
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(dialStarted)
		<-release
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Первый кадр — auth, дальше чтение обрывается закрытием клиента.
		conn.ReadMessage()
		conn.ReadMessage()
		close(serverSawClose)
	}))
	defer srv.Close()

	c := New(Config{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectDelay: time.Hour,
	})
	done := make(chan error, 1)
	go func() { done <- c.Connect("tok") }()

	<-dialStarted
	c.Disconnect()
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if c.Connected() {
		t.Fatal("после Disconnect соединение не должно устанавливаться")
	}
	select {
	case <-serverSawClose:
	case <-time.After(2 * time.Second):
		t.Fatal("сервер не увидел закрытия свежего сокета")
	}
}
