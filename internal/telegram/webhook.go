package telegram

import (
	"encoding/json"
	"net/http"

	"github.com/Vidrimers/watchRebel-sub002/internal/logger"
)

// WebhookHandler принимает обновления от Telegram и передаёт их в канал.
// Telegram перестаёт слать обновления при не-200 ответах, поэтому ошибки
// разбора логируются, но ответ всегда 200.
func WebhookHandler(updates chan<- Update) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var u Update
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			logger.Errorf("telegram: webhook: разбор update: %v", err)
			w.WriteHeader(http.StatusOK)
			return
		}
		select {
		case updates <- u:
		default:
			logger.Errorf("telegram: webhook: канал обновлений переполнен, update %d потерян", u.UpdateID)
		}
		w.WriteHeader(http.StatusOK)
	})
}
