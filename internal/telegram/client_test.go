package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendMessageEncodesKeyboard(t *testing.T) {
	var gotPath string
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		r.ParseForm()
		gotForm = map[string]string{
			"chat_id":      r.FormValue("chat_id"),
			"text":         r.FormValue("text"),
			"reply_markup": r.FormValue("reply_markup"),
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": Message{MessageID: 7, Chat: Chat{ID: 42}},
		})
	}))
	defer srv.Close()

	c := NewClient("test-token", srv.URL)
	kb := &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{
		{{Text: "Меню", CallbackData: "menu_profile"}},
	}}
	msg, err := c.SendMessage(context.Background(), 42, "привет", kb)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.MessageID != 7 {
		t.Errorf("MessageID = %d, want 7", msg.MessageID)
	}
	if gotPath != "/bottest-token/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotForm["chat_id"] != "42" || gotForm["text"] != "привет" {
		t.Errorf("form = %+v", gotForm)
	}
	var markup InlineKeyboardMarkup
	if err := json.Unmarshal([]byte(gotForm["reply_markup"]), &markup); err != nil {
		t.Fatalf("reply_markup не JSON: %v", err)
	}
	if markup.InlineKeyboard[0][0].CallbackData != "menu_profile" {
		t.Errorf("markup = %+v", markup)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ok": false, "error_code": 403, "description": "Forbidden: bot was blocked by the user",
		})
	}))
	defer srv.Close()

	c := NewClient("test-token", srv.URL)
	_, err := c.SendMessage(context.Background(), 1, "x", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %T (%v), want *APIError", err, err)
	}
	if apiErr.Code != 403 || !strings.Contains(apiErr.Description, "blocked") {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestGetUpdatesParsesBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if got := r.FormValue("offset"); got != "5" {
			t.Errorf("offset = %q, want 5", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": []Update{
				{UpdateID: 5, Message: &Message{Text: "/start", Chat: Chat{ID: 1, Type: "private"}}},
				{UpdateID: 6, CallbackQuery: &CallbackQuery{ID: "cb1", Data: "menu_profile"}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("test-token", srv.URL)
	updates, err := c.GetUpdates(context.Background(), 5, 30)
	if err != nil {
		t.Fatalf("GetUpdates: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(updates))
	}
	if updates[0].Message == nil || updates[0].Message.Text != "/start" {
		t.Errorf("updates[0] = %+v", updates[0])
	}
	if updates[1].CallbackQuery == nil || updates[1].CallbackQuery.Data != "menu_profile" {
		t.Errorf("updates[1] = %+v", updates[1])
	}
}
