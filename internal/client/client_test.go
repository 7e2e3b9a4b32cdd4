package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Vidrimers/watchRebel-sub002/internal/model"
)

func TestDoClassifiesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "email обязателен"})
	}))
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	err := c.RequestCode(context.Background(), "")
	apiErr, ok := IsAPIError(err)
	if !ok {
		t.Fatalf("err = %T, want *APIError", err)
	}
	if apiErr.Status != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", apiErr.Status)
	}
	if apiErr.Message != "email обязателен" {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if IsNetworkError(err) {
		t.Error("ошибка API не должна классифицироваться как сетевая")
	}
}

func TestDoClassifiesNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // сервер уже мёртв: запрос не получит ответа

	c := New(srv.URL, nil, nil)
	err := c.RequestCode(context.Background(), "a@b.ru")
	if !IsNetworkError(err) {
		t.Fatalf("err = %T (%v), want *NetworkError", err, err)
	}
	if _, ok := IsAPIError(err); ok {
		t.Error("сетевая ошибка не должна классифицироваться как API")
	}
}

func TestUnauthorizedClearsTokenAndFiresHook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	}))
	defer srv.Close()

	c := New(srv.URL, NewMemoryTokenStore("stale-token"), nil)
	var hookFired int32
	c.OnUnauthorized = func() { atomic.AddInt32(&hookFired, 1) }

	_, err := c.Friends(context.Background())
	if _, ok := IsAPIError(err); !ok {
		t.Fatalf("err = %T, want *APIError", err)
	}
	if c.Token() != "" {
		t.Error("токен должен быть очищен после 401")
	}
	if c.State() != StateAnonymous {
		t.Errorf("State = %v, want Anonymous", c.State())
	}
	if atomic.LoadInt32(&hookFired) != 1 {
		t.Errorf("OnUnauthorized вызван %d раз, want 1", hookFired)
	}
}

func TestCheckSessionStates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer good" {
			json.NewEncoder(w).Encode(model.User{ID: "u1", DisplayName: "Марат", Theme: model.ThemeDark})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	// Нет токена: Anonymous без похода на сервер.
	c := New(srv.URL, nil, nil)
	if st, err := c.CheckSession(context.Background()); err != nil || st != StateAnonymous {
		t.Fatalf("без токена: (%v, %v), want (Anonymous, nil)", st, err)
	}

	// Протухший токен: 401 → Anonymous, ошибки нет.
	c = New(srv.URL, NewMemoryTokenStore("expired"), nil)
	if st, err := c.CheckSession(context.Background()); err != nil || st != StateAnonymous {
		t.Fatalf("протухший токен: (%v, %v), want (Anonymous, nil)", st, err)
	}

	// Живой токен: Authenticated, профиль и тема подхвачены.
	c = New(srv.URL, NewMemoryTokenStore("good"), nil)
	st, err := c.CheckSession(context.Background())
	if err != nil || st != StateAuthenticated {
		t.Fatalf("живой токен: (%v, %v), want (Authenticated, nil)", st, err)
	}
	if c.User() == nil || c.User().ID != "u1" {
		t.Error("профиль должен быть сохранён после CheckSession")
	}
	if c.Theme() != model.ThemeDark {
		t.Errorf("Theme = %q, want dark", c.Theme())
	}
}

func TestCheckSessionKeepsStateOnNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(srv.URL, NewMemoryTokenStore("token"), nil)
	st, err := c.CheckSession(context.Background())
	if err == nil {
		t.Fatal("сетевая ошибка должна вернуться наружу")
	}
	// Без ответа сервера решение о сессии не принимается.
	if st != StateUnknown {
		t.Errorf("State = %v, want Unknown", st)
	}
	if c.Token() != "token" {
		t.Error("токен не должен сбрасываться при сетевой ошибке")
	}
}

func TestLogoutIdempotent(t *testing.T) {
	var revokeCalls int32
	var seenToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/logout" {
			atomic.AddInt32(&revokeCalls, 1)
			seenToken = r.Header.Get("Authorization")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, NewMemoryTokenStore("tok-1"), nil)
	ctx := context.Background()

	c.Logout(ctx)
	if c.Token() != "" || c.State() != StateAnonymous {
		t.Fatal("после Logout токена нет, состояние Anonymous")
	}
	// Повторный выход — no-op, второго отзыва на сервере нет.
	c.Logout(ctx)

	if got := atomic.LoadInt32(&revokeCalls); got != 1 {
		t.Errorf("серверный отзыв вызван %d раз, want 1", got)
	}
	if seenToken != "Bearer tok-1" {
		t.Errorf("отзыв ушёл с токеном %q, want %q", seenToken, "Bearer tok-1")
	}
}

func TestUpdateProfileThemeSyncedSynchronously(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var upd ProfileUpdate
		json.NewDecoder(r.Body).Decode(&upd)
		u := model.User{ID: "u1", Theme: model.ThemeDark}
		if upd.Theme != nil {
			u.Theme = model.Theme(*upd.Theme)
		}
		json.NewEncoder(w).Encode(u)
	}))
	defer srv.Close()

	c := New(srv.URL, NewMemoryTokenStore("tok"), nil)
	var applied []model.Theme
	c.OnThemeChange = func(th model.Theme) { applied = append(applied, th) }

	light := "light"
	if _, err := c.UpdateProfile(context.Background(), ProfileUpdate{Theme: &light}); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	// OnThemeChange выстрелил до возврата UpdateProfile.
	if len(applied) != 1 || applied[0] != model.ThemeLight {
		t.Fatalf("applied = %v, want [light]", applied)
	}
	if c.Theme() != model.ThemeLight {
		t.Errorf("Theme = %q, want light", c.Theme())
	}

	// Повторная установка той же темы не дёргает хук.
	if _, err := c.UpdateProfile(context.Background(), ProfileUpdate{Theme: &light}); err != nil {
		t.Fatalf("повторный UpdateProfile: %v", err)
	}
	if len(applied) != 1 {
		t.Errorf("OnThemeChange вызван %d раз, want 1", len(applied))
	}
}

func TestVerifyCodeAuthenticates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"token":       "fresh-token",
			"user":        model.User{ID: "u1", DisplayName: "test"},
			"is_new_user": true,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	user, err := c.VerifyCode(context.Background(), "a@b.ru", "123456")
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if user.ID != "u1" {
		t.Errorf("user.ID = %q", user.ID)
	}
	if c.Token() != "fresh-token" {
		t.Errorf("Token = %q, want fresh-token", c.Token())
	}
	if c.State() != StateAuthenticated {
		t.Errorf("State = %v, want Authenticated", c.State())
	}
}

func TestMarkSeasonWatchedSkipsSeenAndStopsOnError(t *testing.T) {
	var mu sync.Mutex
	var puts []string
	failAfter := 2 // третья отметка упадёт

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/series/42/progress", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.SeriesProgress{
			SeriesTMDBID: 42,
			Watched: []model.EpisodeMark{
				{SeasonNumber: 1, EpisodeNumber: 2},
				{SeasonNumber: 2, EpisodeNumber: 1}, // другой сезон, не учитывается
			},
		})
	})
	mux.HandleFunc("PUT /api/series/42/seasons/1/episodes/{episode}", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if len(puts) >= failAfter {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "база недоступна"})
			return
		}
		puts = append(puts, r.PathValue("episode"))
		json.NewEncoder(w).Encode(map[string]bool{"watched": true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, NewMemoryTokenStore("tok"), nil)
	marked, err := c.MarkSeasonWatched(context.Background(), 42, 1, 5)
	if err == nil {
		t.Fatal("ожидалась ошибка после частичной отметки")
	}
	if marked != 2 {
		t.Errorf("marked = %d, want 2", marked)
	}
	// Серия 2 уже просмотрена: отмечаются 1 и 3, падает на 4.
	mu.Lock()
	defer mu.Unlock()
	if len(puts) != 2 || puts[0] != "1" || puts[1] != "3" {
		t.Errorf("puts = %v, want [1 3]", puts)
	}
}
