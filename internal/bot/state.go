package bot

import "strings"

// Состояния диалога. Хранятся строкой в storage с TTL 10 минут;
// awaiting_message_reply несёт payload — id собеседника через двоеточие.
const (
	stateAwaitingName      = "awaiting_name_change"
	stateAwaitingStatus    = "awaiting_status_change"
	stateAwaitingReply     = "awaiting_message_reply"
	stateAwaitingWatchlist = "awaiting_watchlist_add"
)

// encodeReplyState собирает состояние ответа с id собеседника.
func encodeReplyState(partnerID string) string {
	return stateAwaitingReply + ":" + partnerID
}

// parseState разбирает строку состояния на имя и payload.
func parseState(raw string) (name, payload string) {
	name, payload, _ = strings.Cut(raw, ":")
	return name, payload
}
