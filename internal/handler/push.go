package handler

import (
	"encoding/json"
	"net/http"

	"github.com/Vidrimers/watchRebel-sub002/internal/middleware"
	"github.com/Vidrimers/watchRebel-sub002/internal/push"
)

// PushHandler проксирует подписки браузера в пуш-сервис.
type PushHandler struct {
	pushClient *push.Client
}

func NewPushHandler(pushClient *push.Client) *PushHandler {
	return &PushHandler{pushClient: pushClient}
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if !h.pushClient.Enabled() {
		writeError(w, http.StatusNotImplemented, "Пуши отключены")
		return
	}
	userID := middleware.GetUserID(r.Context())
	var sub push.PushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if sub.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint обязателен")
		return
	}
	if err := h.pushClient.Subscribe(r.Context(), userID, sub); err != nil {
		writeError(w, http.StatusBadGateway, "Не удалось сохранить подписку")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if !h.pushClient.Enabled() {
		writeError(w, http.StatusNotImplemented, "Пуши отключены")
		return
	}
	userID := middleware.GetUserID(r.Context())
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.pushClient.Unsubscribe(r.Context(), userID, req.Endpoint); err != nil {
		writeError(w, http.StatusBadGateway, "Не удалось удалить подписку")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
