package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Vidrimers/watchRebel-sub002/internal/middleware"
)

// sendRequest гоняет Send до обращения к базе: валидация тела должна
// отбивать плохой запрос раньше, репозитории здесь nil.
func sendRequest(t *testing.T, body any) *httptest.ResponseRecorder {
	t.Helper()
	h := NewMessageHandler(nil, nil, nil, nil, middleware.NewSendLimiter(60, 10))

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewReader(raw))
	req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, "sender-1"))
	rec := httptest.NewRecorder()
	h.Send(rec, req)
	return rec
}

func TestSendRejectsTooManyAttachments(t *testing.T) {
	atts := make([]map[string]any, 11)
	for i := range atts {
		atts[i] = map[string]any{"path": fmt.Sprintf("f%d.png", i), "size": 100}
	}
	rec := sendRequest(t, map[string]any{"receiver_id": "receiver-1", "attachments": atts})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSendRejectsOversizedAttachmentMeta(t *testing.T) {
	// Клиент может прислать какие угодно метаданные: лимит 50 МБ
	// перепроверяется на сервере.
	cases := []struct {
		name string
		size int64
	}{
		{"больше лимита", 50<<20 + 1},
		{"отрицательный размер", -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := sendRequest(t, map[string]any{
				"receiver_id": "receiver-1",
				"attachments": []map[string]any{{"path": "big.bin", "mimetype": "application/octet-stream", "size": tc.size}},
			})
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			var resp struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.Error != "Файл больше 50 МБ" {
				t.Errorf("error = %q", resp.Error)
			}
		})
	}
}

func TestSendAllowsAttachmentAtLimit(t *testing.T) {
	rejected := false
	func() {
		// Запрос, прошедший валидацию, идёт дальше к поиску получателя и
		// паникует на nil-репозитории: до 400 он не доходит.
		defer func() { _ = recover() }()
		rec := sendRequest(t, map[string]any{
			"receiver_id": "receiver-1",
			"attachments": []map[string]any{{"path": "max.bin", "size": 50 << 20}},
		})
		rejected = rec.Code == http.StatusBadRequest
	}()
	if rejected {
		t.Fatal("вложение ровно в лимит отклонено валидацией")
	}
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	rec := sendRequest(t, map[string]any{"receiver_id": "receiver-1", "content": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
