// Package telegram — минимальный клиент Bot API поверх net/http.
// Реализованы только методы, нужные боту watchRebel: getMe, getUpdates,
// setWebhook/deleteWebhook, sendMessage, editMessageText, answerCallbackQuery.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.telegram.org"

// User — пользователь или бот Telegram.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Chat — чат, из которого пришло сообщение. Бот работает только с private.
type Chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
}

// Message — входящее или отправленное сообщение.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text,omitempty"`
	Date      int64  `json:"date"`
}

// CallbackQuery — нажатие inline-кнопки.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// Update — единица ленты getUpdates / webhook.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// InlineKeyboardButton — кнопка с callback_data.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

// InlineKeyboardMarkup — inline-клавиатура под сообщением.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// apiResponse — обёртка любого ответа Bot API.
type apiResponse struct {
	Ok          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// APIError — ошибка уровня Bot API (ok=false в ответе).
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s: %d %s", e.Method, e.Code, e.Description)
}

type Client struct {
	httpClient *http.Client
	token      string
	baseURL    string
}

// NewClient создаёт клиента Bot API. baseURL пустой — api.telegram.org.
func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		// Таймаут с запасом поверх long poll (getUpdates timeout=30).
		httpClient: &http.Client{Timeout: 40 * time.Second},
		token:      token,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

// call выполняет метод Bot API формой application/x-www-form-urlencoded
// и распаковывает result в out (nil — результат не нужен).
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telegram: %s: чтение ответа: %w", method, err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return fmt.Errorf("telegram: %s: разбор ответа: %w", method, err)
	}
	if !apiResp.Ok {
		return &APIError{Method: method, Code: apiResp.ErrorCode, Description: apiResp.Description}
	}
	if out != nil && len(apiResp.Result) > 0 {
		if err := json.Unmarshal(apiResp.Result, out); err != nil {
			return fmt.Errorf("telegram: %s: разбор result: %w", method, err)
		}
	}
	return nil
}

// GetMe возвращает аккаунт бота. Используется как проверка токена на старте.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var me User
	if err := c.call(ctx, "getMe", url.Values{}, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// GetUpdates забирает обновления long poll'ом. offset — update_id последнего
// обработанного + 1, timeoutSec — серверный таймаут ожидания.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, error) {
	params := url.Values{
		"offset":  {strconv.FormatInt(offset, 10)},
		"timeout": {strconv.Itoa(timeoutSec)},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SetWebhook регистрирует webhook-адрес для доставки обновлений.
func (c *Client) SetWebhook(ctx context.Context, webhookURL string) error {
	return c.call(ctx, "setWebhook", url.Values{"url": {webhookURL}}, nil)
}

// DeleteWebhook снимает webhook (обязательно перед переходом на getUpdates).
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", url.Values{}, nil)
}

// SendMessage отправляет текст в чат, опционально с inline-клавиатурой.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, kb *InlineKeyboardMarkup) (*Message, error) {
	params := url.Values{
		"chat_id": {strconv.FormatInt(chatID, 10)},
		"text":    {text},
	}
	if kb != nil {
		markup, err := json.Marshal(kb)
		if err != nil {
			return nil, fmt.Errorf("telegram: sendMessage: reply_markup: %w", err)
		}
		params.Set("reply_markup", string(markup))
	}
	var msg Message
	if err := c.call(ctx, "sendMessage", params, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EditMessageText меняет текст (и клавиатуру) уже отправленного сообщения.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, kb *InlineKeyboardMarkup) error {
	params := url.Values{
		"chat_id":    {strconv.FormatInt(chatID, 10)},
		"message_id": {strconv.FormatInt(messageID, 10)},
		"text":       {text},
	}
	if kb != nil {
		markup, err := json.Marshal(kb)
		if err != nil {
			return fmt.Errorf("telegram: editMessageText: reply_markup: %w", err)
		}
		params.Set("reply_markup", string(markup))
	}
	return c.call(ctx, "editMessageText", params, nil)
}

// AnswerCallbackQuery подтверждает нажатие кнопки (убирает "часики" в клиенте).
// text пустой — просто подтверждение без всплывающего сообщения.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	params := url.Values{"callback_query_id": {callbackID}}
	if text != "" {
		params.Set("text", text)
	}
	return c.call(ctx, "answerCallbackQuery", params, nil)
}
