package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Vidrimers/watchRebel-sub002/internal/model"
)

// internalAPI — клиент внутренних эндпоинтов API (/internal/bot/*).
// Авторизация заголовком X-Internal-Secret, поверх этого сервисы обычно
// ходят по приватной сети.
type internalAPI struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

func newInternalAPI(baseURL, secret string) *internalAPI {
	return &internalAPI{
		baseURL:    baseURL,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// botSession — ответ POST /internal/bot/sessions: свежий токен и профиль.
type botSession struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

func (a *internalAPI) post(ctx context.Context, path string, body, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("internalAPI: %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("internalAPI: %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.secret != "" {
		req.Header.Set("X-Internal-Secret", a.secret)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("internalAPI: %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("internalAPI: %s: чтение ответа: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return resp.StatusCode, fmt.Errorf("internalAPI: %s: %d %s", path, resp.StatusCode, e.Error)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("internalAPI: %s: разбор ответа: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

// Session выпускает свежий токен для привязанного Telegram-пользователя.
// 404 — аккаунт не привязан, 403 — заблокирован.
func (a *internalAPI) Session(ctx context.Context, telegramUserID int64) (*botSession, int, error) {
	var s botSession
	status, err := a.post(ctx, "/internal/bot/sessions", map[string]any{"telegram_user_id": telegramUserID}, &s)
	if err != nil {
		return nil, status, err
	}
	return &s, status, nil
}

// Link обменивает одноразовый код привязки на соединение аккаунта с Telegram.
func (a *internalAPI) Link(ctx context.Context, code string, telegramUserID, telegramChatID int64, telegramUsername string) (*model.User, int, error) {
	var resp struct {
		User *model.User `json:"user"`
	}
	status, err := a.post(ctx, "/internal/bot/link", map[string]any{
		"code":              code,
		"telegram_user_id":  telegramUserID,
		"telegram_chat_id":  telegramChatID,
		"telegram_username": telegramUsername,
	}, &resp)
	if err != nil {
		return nil, status, err
	}
	return resp.User, status, nil
}
