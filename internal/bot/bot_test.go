package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Vidrimers/watchRebel-sub002/internal/model"
	"github.com/Vidrimers/watchRebel-sub002/internal/storage/memory"
	"github.com/Vidrimers/watchRebel-sub002/internal/telegram"
)

// fakeTelegram поднимает стаб Bot API и записывает отправленные тексты.
type fakeTelegram struct {
	srv *httptest.Server

	mu   sync.Mutex
	sent []string
}

func newFakeTelegram(t *testing.T) *fakeTelegram {
	t.Helper()
	f := &fakeTelegram{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("telegram stub: %v", err)
		}
		if strings.HasSuffix(r.URL.Path, "/sendMessage") {
			f.mu.Lock()
			f.sent = append(f.sent, r.FormValue("text"))
			f.mu.Unlock()
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{}})
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeTelegram) lastSent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

// fakeAPI эмулирует watchRebel API: сессии бота плюс несколько SDK-эндпоинтов.
type fakeAPI struct {
	srv *httptest.Server

	mu             sync.Mutex
	profileStatus  int    // ответ PATCH /api/users/me
	profileError   string // текст ошибки при не-2xx
	linkedTGUserID int64
	patchCalls     int
	watchlistAdds  []map[string]any
	linkCalls      []map[string]any
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{profileStatus: http.StatusOK, linkedTGUserID: 100}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /internal/bot/sessions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TelegramUserID int64 `json:"telegram_user_id"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		linked := f.linkedTGUserID
		f.mu.Unlock()
		if req.TelegramUserID != linked {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "Аккаунт не привязан"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"token": "bot-session-token",
			"user":  model.User{ID: "u1", DisplayName: "Марат", Theme: model.ThemeDark},
		})
	})

	mux.HandleFunc("POST /internal/bot/link", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.linkCalls = append(f.linkCalls, req)
		f.mu.Unlock()
		if req["code"] != "goodcode" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "Код не найден или истёк"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"user": model.User{ID: "u1", DisplayName: "Марат"}})
	})

	mux.HandleFunc("PATCH /api/users/me", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.patchCalls++
		status, msg := f.profileStatus, f.profileError
		f.mu.Unlock()
		if status != http.StatusOK {
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]string{"error": msg})
			return
		}
		json.NewEncoder(w).Encode(model.User{ID: "u1", DisplayName: "Новое имя", Theme: model.ThemeDark})
	})

	mux.HandleFunc("POST /api/watchlist", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.watchlistAdds = append(f.watchlistAdds, req)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newTestBot(t *testing.T) (*Bot, *fakeTelegram, *fakeAPI, *memory.Client) {
	t.Helper()
	tgStub := newFakeTelegram(t)
	apiStub := newFakeAPI(t)
	store := memory.New()
	tg := telegram.NewClient("test-token", tgStub.srv.URL)
	b := New(tg, apiStub.srv.URL, "test-secret", store)
	return b, tgStub, apiStub, store
}

func privateMessage(tgUserID int64, text string) *telegram.Message {
	return &telegram.Message{
		From: &telegram.User{ID: tgUserID},
		Chat: telegram.Chat{ID: tgUserID, Type: "private"},
		Text: text,
	}
}

func TestCancelClearsStateAndMirror(t *testing.T) {
	b, tgStub, _, store := newTestBot(t)
	ctx := context.Background()

	store.SetBotState(ctx, 100, stateAwaitingName)
	b.HandleUpdate(ctx, telegram.Update{Message: privateMessage(100, "/cancel")})

	if st, _ := store.GetBotState(ctx, 100); st != "" {
		t.Errorf("состояние после /cancel = %q, want пусто", st)
	}
	if got := tgStub.lastSent(); !strings.Contains(got, "отменено") {
		t.Errorf("ответ = %q, want подтверждение отмены", got)
	}
}

func TestFreeTextWithoutState(t *testing.T) {
	b, tgStub, _, _ := newTestBot(t)

	b.HandleUpdate(context.Background(), telegram.Update{Message: privateMessage(100, "просто текст")})

	if got := tgStub.lastSent(); !strings.Contains(got, "/menu") {
		t.Errorf("ответ = %q, want подсказку про /menu", got)
	}
}

func TestNameChangeSuccessClearsState(t *testing.T) {
	b, tgStub, apiStub, store := newTestBot(t)
	ctx := context.Background()

	store.SetBotState(ctx, 100, stateAwaitingName)
	b.HandleUpdate(ctx, telegram.Update{Message: privateMessage(100, "Новое имя")})

	if st, _ := store.GetBotState(ctx, 100); st != "" {
		t.Errorf("состояние после успеха = %q, want пусто", st)
	}
	apiStub.mu.Lock()
	calls := apiStub.patchCalls
	apiStub.mu.Unlock()
	if calls != 1 {
		t.Errorf("PATCH /api/users/me вызван %d раз, want 1", calls)
	}
	if got := tgStub.lastSent(); !strings.Contains(got, "обновлено") {
		t.Errorf("ответ = %q, want подтверждение", got)
	}
}

func TestNameChangeFailureAlsoClearsState(t *testing.T) {
	b, tgStub, apiStub, store := newTestBot(t)
	ctx := context.Background()

	apiStub.mu.Lock()
	apiStub.profileStatus = http.StatusBadRequest
	apiStub.profileError = "display_name должен быть от 2 до 50 символов"
	apiStub.mu.Unlock()

	store.SetBotState(ctx, 100, stateAwaitingName)
	b.HandleUpdate(ctx, telegram.Update{Message: privateMessage(100, "a")})

	// Одна попытка на состояние: после неудачи состояние тоже снято.
	if st, _ := store.GetBotState(ctx, 100); st != "" {
		t.Errorf("состояние после неудачи = %q, want пусто", st)
	}
	if got := tgStub.lastSent(); !strings.Contains(got, "display_name") {
		t.Errorf("ответ = %q, want текст ошибки валидации", got)
	}

	// Следующий свободный текст больше не трактуется как смена имени.
	apiStub.mu.Lock()
	before := apiStub.patchCalls
	apiStub.mu.Unlock()
	b.HandleUpdate(ctx, telegram.Update{Message: privateMessage(100, "ещё текст")})
	apiStub.mu.Lock()
	after := apiStub.patchCalls
	apiStub.mu.Unlock()
	if after != before {
		t.Error("без состояния свободный текст не должен ходить в API")
	}
}

func TestWatchlistAddParsesKindAndID(t *testing.T) {
	b, tgStub, apiStub, store := newTestBot(t)
	ctx := context.Background()

	store.SetBotState(ctx, 100, stateAwaitingWatchlist)
	b.HandleUpdate(ctx, telegram.Update{Message: privateMessage(100, "movie 603")})

	apiStub.mu.Lock()
	adds := apiStub.watchlistAdds
	apiStub.mu.Unlock()
	if len(adds) != 1 {
		t.Fatalf("добавлений = %d, want 1", len(adds))
	}
	if adds[0]["media_type"] != "movie" || adds[0]["tmdb_id"] != float64(603) {
		t.Errorf("добавлено %+v", adds[0])
	}
	if got := tgStub.lastSent(); !strings.Contains(got, "Добавлено") {
		t.Errorf("ответ = %q", got)
	}
}

func TestWatchlistAddRejectsBadFormat(t *testing.T) {
	b, tgStub, apiStub, store := newTestBot(t)
	ctx := context.Background()

	store.SetBotState(ctx, 100, stateAwaitingWatchlist)
	b.HandleUpdate(ctx, telegram.Update{Message: privateMessage(100, "matrix")})

	apiStub.mu.Lock()
	adds := len(apiStub.watchlistAdds)
	apiStub.mu.Unlock()
	if adds != 0 {
		t.Error("кривой формат не должен доходить до API")
	}
	if got := tgStub.lastSent(); !strings.Contains(got, "tmdb_id") {
		t.Errorf("ответ = %q, want подсказку о формате", got)
	}
	if st, _ := store.GetBotState(ctx, 100); st != "" {
		t.Errorf("состояние = %q, want пусто (одна попытка)", st)
	}
}

func TestStartWithLinkCode(t *testing.T) {
	b, tgStub, apiStub, _ := newTestBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, telegram.Update{Message: privateMessage(200, "/start ref_goodcode")})

	apiStub.mu.Lock()
	calls := apiStub.linkCalls
	apiStub.mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("привязок = %d, want 1", len(calls))
	}
	if calls[0]["code"] != "goodcode" || calls[0]["telegram_user_id"] != float64(200) {
		t.Errorf("привязка %+v", calls[0])
	}
	if got := tgStub.lastSent(); !strings.Contains(got, "привязан") {
		t.Errorf("ответ = %q", got)
	}
}

func TestStartWithExpiredLinkCode(t *testing.T) {
	b, tgStub, _, _ := newTestBot(t)

	b.HandleUpdate(context.Background(), telegram.Update{Message: privateMessage(200, "/start ref_stale")})

	if got := tgStub.lastSent(); !strings.Contains(got, "не найден") {
		t.Errorf("ответ = %q, want сообщение об истёкшем коде", got)
	}
}

func TestHandlerPanicDoesNotCrash(t *testing.T) {
	b, _, _, _ := newTestBot(t)

	// Update без From в private-чате маршрутизатор отбрасывает, а паника
	// внутри обработчика гасится recover'ом.
	b.HandleUpdate(context.Background(), telegram.Update{Message: &telegram.Message{Chat: telegram.Chat{Type: "private"}}})
}
