// Package client — Go SDK поверх HTTP API watchRebel. Используется ботом и
// инструментами; ошибки строго двух видов: *APIError и *NetworkError.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Vidrimers/watchRebel-sub002/internal/model"
)

// State — состояние сессии клиента.
type State int

const (
	StateUnknown State = iota
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenStore

	mu    sync.RWMutex
	state State
	user  *model.User
	theme model.Theme

	// OnUnauthorized вызывается один раз на каждый ответ 401 (токен уже очищен).
	OnUnauthorized func()
	// OnThemeChange вызывается синхронно при успешной смене темы.
	OnThemeChange func(theme model.Theme)
}

func New(baseURL string, tokens TokenStore, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if tokens == nil {
		tokens = NewMemoryTokenStore("")
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		tokens:     tokens,
		state:      StateUnknown,
	}
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// User — профиль из последнего CheckSession/входа (nil, пока не авторизованы).
func (c *Client) User() *model.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

func (c *Client) Token() string { return c.tokens.Token() }

func (c *Client) setAuthenticated(token string, user *model.User) {
	c.tokens.SetToken(token)
	c.mu.Lock()
	c.state = StateAuthenticated
	c.user = user
	if user != nil {
		c.theme = user.Theme
	}
	c.mu.Unlock()
}

func (c *Client) setAnonymous() {
	c.tokens.Clear()
	c.mu.Lock()
	c.state = StateAnonymous
	c.user = nil
	c.mu.Unlock()
}

// do выполняет запрос: body сериализуется в JSON, ответ декодируется в out.
// Не-2xx превращается в *APIError, отсутствие ответа — в *NetworkError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &APIError{Status: 0, Message: fmt.Sprintf("encode request: %v", err)}
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return &NetworkError{Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &NetworkError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Data: raw}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			apiErr.Message = e.Error
		}
		if resp.StatusCode == http.StatusUnauthorized {
			c.setAnonymous()
			if c.OnUnauthorized != nil {
				c.OnUnauthorized()
			}
		}
		return apiErr
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err), Data: raw}
		}
	}
	return nil
}

// --- Авторизация ---

type authResult struct {
	Token     string      `json:"token"`
	User      *model.User `json:"user"`
	IsNewUser bool        `json:"is_new_user"`
}

func (c *Client) RequestCode(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/request-code", map[string]string{"email": email}, nil)
}

func (c *Client) VerifyCode(ctx context.Context, email, code string) (*model.User, error) {
	var res authResult
	if err := c.do(ctx, http.MethodPost, "/api/auth/verify-code", map[string]string{"email": email, "code": code}, &res); err != nil {
		return nil, err
	}
	c.setAuthenticated(res.Token, res.User)
	return res.User, nil
}

// CheckSession переводит клиент из StateUnknown в Authenticated или Anonymous.
func (c *Client) CheckSession(ctx context.Context) (State, error) {
	if c.tokens.Token() == "" {
		c.setAnonymous()
		return StateAnonymous, nil
	}
	var user model.User
	err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &user)
	if err != nil {
		if apiErr, ok := IsAPIError(err); ok && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
			c.setAnonymous()
			return StateAnonymous, nil
		}
		return c.State(), err
	}
	c.mu.Lock()
	c.state = StateAuthenticated
	c.user = &user
	c.theme = user.Theme
	c.mu.Unlock()
	return StateAuthenticated, nil
}

// Logout идемпотентен: токен и состояние сбрасываются всегда,
// серверный вызов best-effort.
func (c *Client) Logout(ctx context.Context) {
	token := c.tokens.Token()
	c.setAnonymous()
	if token == "" {
		return
	}
	// Отзыв сессии на сервере — вручную, уже без сохранённого токена.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/logout", nil)
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}

// --- Профиль ---

type ProfileUpdate struct {
	DisplayName *string `json:"display_name,omitempty"`
	UserStatus  *string `json:"user_status,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	Theme       *string `json:"theme,omitempty"`
}

// UpdateProfile — частичное обновление. Смена темы применяется синхронно:
// OnThemeChange вызывается до возврата.
func (c *Client) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*model.User, error) {
	var user model.User
	if err := c.do(ctx, http.MethodPatch, "/api/users/me", upd, &user); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.user = &user
	themeChanged := c.theme != user.Theme
	c.theme = user.Theme
	c.mu.Unlock()
	if themeChanged && c.OnThemeChange != nil {
		c.OnThemeChange(user.Theme)
	}
	return &user, nil
}

// Theme — текущая применённая тема.
func (c *Client) Theme() model.Theme {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.theme
}

func (c *Client) GetUser(ctx context.Context, id string) (*model.UserPublic, error) {
	var user model.UserPublic
	if err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(id), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) SearchUsers(ctx context.Context, query string) ([]model.UserPublic, error) {
	var res struct {
		Users []model.UserPublic `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/users/search?q="+url.QueryEscape(query), nil, &res); err != nil {
		return nil, err
	}
	return res.Users, nil
}

// --- Друзья ---

func (c *Client) Friends(ctx context.Context) (*model.FriendsOverview, error) {
	var res model.FriendsOverview
	if err := c.do(ctx, http.MethodGet, "/api/friends", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) SendFriendRequest(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, "/api/friends/requests", map[string]string{"user_id": userID}, nil)
}

func (c *Client) AcceptFriendRequest(ctx context.Context, requestID string) error {
	return c.do(ctx, http.MethodPost, "/api/friends/requests/"+url.PathEscape(requestID)+"/accept", nil, nil)
}

// --- Сообщения ---

func (c *Client) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var res struct {
		Conversations []model.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &res); err != nil {
		return nil, err
	}
	return res.Conversations, nil
}

func (c *Client) Messages(ctx context.Context, userID string, limit, offset int) ([]model.Message, error) {
	var res struct {
		Messages []model.Message `json:"messages"`
	}
	path := fmt.Sprintf("/api/messages?user_id=%s&limit=%d&offset=%d", url.QueryEscape(userID), limit, offset)
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Messages, nil
}

// AttachmentMeta — результат загрузки файла, готовый к отправке сообщением.
type AttachmentMeta struct {
	Path         string `json:"path"`
	Mimetype     string `json:"mimetype"`
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
}

type SendMessageRequest struct {
	ReceiverID  string           `json:"receiver_id"`
	Content     string           `json:"content,omitempty"`
	Attachments []AttachmentMeta `json:"attachments,omitempty"`
	SentViaBot  bool             `json:"sent_via_bot,omitempty"`
}

func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*model.Message, error) {
	var msg model.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) MarkConversationRead(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, "/api/messages/read", map[string]string{"user_id": userID}, nil)
}

// --- Уведомления ---

func (c *Client) Notifications(ctx context.Context, limit int) ([]model.Notification, error) {
	var res struct {
		Notifications []model.Notification `json:"notifications"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/notifications?limit=%d", limit), nil, &res); err != nil {
		return nil, err
	}
	return res.Notifications, nil
}

func (c *Client) UnreadNotificationCount(ctx context.Context) (int, error) {
	var res struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/notifications/unread-count", nil, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

func (c *Client) NotificationTarget(ctx context.Context, id string) (*model.NotificationTarget, error) {
	var res model.NotificationTarget
	if err := c.do(ctx, http.MethodGet, "/api/notifications/"+url.PathEscape(id)+"/target", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// --- Watchlist ---

func (c *Client) Watchlist(ctx context.Context, mediaType model.MediaType) ([]model.WatchlistEntry, error) {
	path := "/api/watchlist"
	if mediaType != "" {
		path += "?media_type=" + url.QueryEscape(string(mediaType))
	}
	var res struct {
		Watchlist []model.WatchlistEntry `json:"watchlist"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Watchlist, nil
}

func (c *Client) AddToWatchlist(ctx context.Context, tmdbID int64, mediaType model.MediaType) error {
	return c.do(ctx, http.MethodPost, "/api/watchlist", map[string]any{
		"tmdb_id": tmdbID, "media_type": mediaType,
	}, nil)
}

func (c *Client) RemoveFromWatchlist(ctx context.Context, tmdbID int64, mediaType model.MediaType) error {
	path := fmt.Sprintf("/api/watchlist/%s/%d", url.PathEscape(string(mediaType)), tmdbID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// --- Прогресс по сериалам ---

func (c *Client) SeriesProgress(ctx context.Context, seriesTMDBID int64) (*model.SeriesProgress, error) {
	var res model.SeriesProgress
	path := fmt.Sprintf("/api/series/%d/progress", seriesTMDBID)
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) SetEpisodeWatched(ctx context.Context, seriesTMDBID int64, season, episode int, watched bool) error {
	path := fmt.Sprintf("/api/series/%d/seasons/%d/episodes/%d", seriesTMDBID, season, episode)
	return c.do(ctx, http.MethodPut, path, map[string]bool{"watched": watched}, nil)
}

// MarkSeasonWatched отмечает все непросмотренные серии сезона по одной.
// Операция не атомарна: при ошибке уже поставленные отметки остаются,
// возвращается число успешных и сама ошибка.
func (c *Client) MarkSeasonWatched(ctx context.Context, seriesTMDBID int64, season, totalEpisodes int) (int, error) {
	progress, err := c.SeriesProgress(ctx, seriesTMDBID)
	if err != nil {
		return 0, err
	}
	seen := make(map[int]bool, len(progress.Watched))
	for _, m := range progress.Watched {
		if m.SeasonNumber == season {
			seen[m.EpisodeNumber] = true
		}
	}
	marked := 0
	for ep := 1; ep <= totalEpisodes; ep++ {
		if seen[ep] {
			continue
		}
		if err := c.SetEpisodeWatched(ctx, seriesTMDBID, season, ep, true); err != nil {
			return marked, err
		}
		marked++
	}
	return marked, nil
}
