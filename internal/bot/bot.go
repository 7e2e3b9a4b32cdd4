// Package bot — Telegram-бот watchRebel: привязка аккаунта, меню, уведомления,
// ответы на сообщения прямо из чата. Каждый сценарий выпускает свежий токен
// через внутренний эндпоинт API и выполняет ровно один авторизованный вызов SDK.
package bot

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Vidrimers/watchRebel-sub002/internal/client"
	"github.com/Vidrimers/watchRebel-sub002/internal/feed"
	"github.com/Vidrimers/watchRebel-sub002/internal/logger"
	"github.com/Vidrimers/watchRebel-sub002/internal/model"
	"github.com/Vidrimers/watchRebel-sub002/internal/storage"
	"github.com/Vidrimers/watchRebel-sub002/internal/telegram"
)

const genericErrorReply = "Что-то пошло не так, попробуйте позже."

type Bot struct {
	tg     *telegram.Client
	api    *internalAPI
	apiURL string
	store  storage.Store

	mirrorsMu sync.Mutex
	mirrors   map[int64]*mirror

	// runCtx — родительский контекст зеркал, живёт до остановки бота.
	runCtx context.Context
}

func New(tg *telegram.Client, apiURL, internalSecret string, store storage.Store) *Bot {
	return &Bot{
		tg:      tg,
		api:     newInternalAPI(apiURL, internalSecret),
		apiURL:  apiURL,
		store:   store,
		mirrors: make(map[int64]*mirror),
	}
}

// RunLongPoll крутит getUpdates до отмены контекста. Перед стартом снимает
// webhook: Telegram не отдаёт обновления poll'ом, пока webhook активен.
func (b *Bot) RunLongPoll(ctx context.Context) error {
	b.runCtx = ctx
	defer b.stopAllMirrors()

	if err := b.tg.DeleteWebhook(ctx); err != nil {
		logger.Errorf("bot: deleteWebhook: %v", err)
	}

	var offset int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		updates, err := b.tg.GetUpdates(ctx, offset, 30)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Errorf("bot: getUpdates: %v", err)
			time.Sleep(3 * time.Second)
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			b.HandleUpdate(ctx, u)
		}
	}
}

// RunWebhook регистрирует webhook и обрабатывает обновления из канала,
// который наполняет telegram.WebhookHandler.
func (b *Bot) RunWebhook(ctx context.Context, webhookURL string, updates <-chan telegram.Update) error {
	b.runCtx = ctx
	defer b.stopAllMirrors()

	if err := b.tg.SetWebhook(ctx, webhookURL); err != nil {
		return fmt.Errorf("bot: setWebhook: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-updates:
			b.HandleUpdate(ctx, u)
		}
	}
}

// HandleUpdate маршрутизирует одно обновление. Паника в обработчике гасится:
// процесс бота не падает из-за одного сценария.
func (b *Bot) HandleUpdate(ctx context.Context, u telegram.Update) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("bot: паника в обработчике update %d: %v", u.UpdateID, r)
		}
	}()

	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.From != nil && u.Message.Chat.Type == "private":
		b.handleMessage(ctx, u.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) {
	text := strings.TrimSpace(msg.Text)
	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, msg, text)
		return
	}
	b.handleText(ctx, msg, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *telegram.Message, text string) {
	cmd, arg, _ := strings.Cut(text, " ")
	// /menu@watchrebel_bot в группах — суффикс отрезается.
	cmd, _, _ = strings.Cut(cmd, "@")

	switch cmd {
	case "/start":
		b.cmdStart(ctx, msg, strings.TrimSpace(arg))
	case "/menu":
		b.sendMenu(ctx, msg.Chat.ID)
	case "/help":
		b.reply(ctx, msg.Chat.ID,
			"Команды:\n"+
				"/menu — главное меню\n"+
				"/cancel — отменить текущее действие\n"+
				"/help — эта справка\n\n"+
				"Привязать аккаунт: на сайте watchRebel получите код привязки и отправьте /start ref_<код>.")
	case "/cancel":
		b.stopMirror(msg.From.ID)
		if err := b.store.DeleteBotState(ctx, msg.From.ID); err != nil {
			logger.Errorf("bot: /cancel: сброс состояния %d: %v", msg.From.ID, err)
		}
		b.reply(ctx, msg.Chat.ID, "Действие отменено.")
	default:
		b.reply(ctx, msg.Chat.ID, "Неизвестная команда. /help — список команд.")
	}
}

// cmdStart обрабатывает /start и /start ref_<код> (диплинк привязки с сайта).
func (b *Bot) cmdStart(ctx context.Context, msg *telegram.Message, arg string) {
	if code, ok := strings.CutPrefix(arg, "ref_"); ok && code != "" {
		user, status, err := b.api.Link(ctx, code, msg.From.ID, msg.Chat.ID, msg.From.Username)
		switch {
		case err == nil:
			b.reply(ctx, msg.Chat.ID, fmt.Sprintf("Аккаунт «%s» привязан. /menu — начать.", user.DisplayName))
		case status == http.StatusNotFound:
			b.reply(ctx, msg.Chat.ID, "Код не найден или истёк. Получите новый на сайте.")
		default:
			logger.Errorf("bot: привязка %d: %v", msg.From.ID, err)
			b.reply(ctx, msg.Chat.ID, genericErrorReply)
		}
		return
	}

	_, status, err := b.api.Session(ctx, msg.From.ID)
	if err == nil {
		b.sendMenu(ctx, msg.Chat.ID)
		return
	}
	if status == http.StatusNotFound {
		b.reply(ctx, msg.Chat.ID,
			"Привет! Это бот watchRebel.\n"+
				"Аккаунт ещё не привязан: на сайте в настройках получите код привязки и отправьте /start ref_<код>.")
		return
	}
	logger.Errorf("bot: /start сессия %d: %v", msg.From.ID, err)
	b.reply(ctx, msg.Chat.ID, genericErrorReply)
}

func (b *Bot) sendMenu(ctx context.Context, chatID int64) {
	kb := &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		{{Text: "👤 Профиль", CallbackData: "menu_profile"}, {Text: "💬 Сообщения", CallbackData: "menu_messages"}},
		{{Text: "🔔 Уведомления", CallbackData: "menu_notifications"}, {Text: "📋 Посмотреть позже", CallbackData: "menu_watchlist"}},
		{{Text: "⚙️ Настройки", CallbackData: "menu_settings"}},
	}}
	if _, err := b.tg.SendMessage(ctx, chatID, "Главное меню", kb); err != nil {
		logger.Errorf("bot: меню %d: %v", chatID, err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	if err := b.tg.AnswerCallbackQuery(ctx, cb.ID, ""); err != nil {
		logger.Debugf("bot: answerCallbackQuery: %v", err)
	}
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	tgUserID := cb.From.ID

	switch {
	case cb.Data == "menu_profile":
		b.showProfile(ctx, chatID, tgUserID)
	case cb.Data == "menu_messages":
		b.showConversations(ctx, chatID, tgUserID)
	case cb.Data == "menu_notifications":
		b.showNotifications(ctx, chatID, tgUserID)
	case cb.Data == "menu_watchlist":
		b.showWatchlist(ctx, chatID, tgUserID)
	case cb.Data == "menu_settings":
		b.showSettings(ctx, chatID)
	case cb.Data == "settings_name":
		b.promptState(ctx, chatID, tgUserID, stateAwaitingName, "Отправьте новое отображаемое имя (2–50 символов).")
	case cb.Data == "settings_status":
		b.promptState(ctx, chatID, tgUserID, stateAwaitingStatus, "Отправьте новый статус профиля.")
	case cb.Data == "settings_theme":
		kb := &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{{Text: "🌙 Тёмная", CallbackData: "theme_dark"}, {Text: "☀️ Светлая", CallbackData: "theme_light"}},
		}}
		if _, err := b.tg.SendMessage(ctx, chatID, "Выберите тему:", kb); err != nil {
			logger.Errorf("bot: выбор темы %d: %v", chatID, err)
		}
	case cb.Data == "theme_dark" || cb.Data == "theme_light":
		b.setTheme(ctx, chatID, tgUserID, strings.TrimPrefix(cb.Data, "theme_"))
	case strings.HasPrefix(cb.Data, "reply_message_"):
		b.startReply(ctx, chatID, tgUserID, strings.TrimPrefix(cb.Data, "reply_message_"))
	}
}

// session выпускает свежий токен и возвращает SDK-клиента вместе с профилем.
func (b *Bot) session(ctx context.Context, chatID, tgUserID int64) (*client.Client, *model.User, bool) {
	s, status, err := b.api.Session(ctx, tgUserID)
	if err != nil {
		if status == http.StatusNotFound {
			b.reply(ctx, chatID, "Аккаунт не привязан. /start ref_<код> — привязать.")
		} else if status == http.StatusForbidden {
			b.reply(ctx, chatID, "Аккаунт заблокирован.")
		} else {
			logger.Errorf("bot: сессия %d: %v", tgUserID, err)
			b.reply(ctx, chatID, genericErrorReply)
		}
		return nil, nil, false
	}
	sdk := client.New(b.apiURL, client.NewMemoryTokenStore(s.Token), nil)
	return sdk, s.User, true
}

func (b *Bot) showProfile(ctx context.Context, chatID, tgUserID int64) {
	_, user, ok := b.session(ctx, chatID, tgUserID)
	if !ok {
		return
	}
	status := user.UserStatus
	if status == "" {
		status = "—"
	}
	b.reply(ctx, chatID, fmt.Sprintf(
		"👤 %s\nСтатус: %s\nТема: %s\nВ сети: %s",
		user.DisplayName, status, user.Theme, user.LastSeenAt.Format("02.01.2006 15:04")))
}

func (b *Bot) showConversations(ctx context.Context, chatID, tgUserID int64) {
	sdk, _, ok := b.session(ctx, chatID, tgUserID)
	if !ok {
		return
	}
	convs, err := sdk.Conversations(ctx)
	if err != nil {
		logger.Errorf("bot: диалоги %d: %v", tgUserID, err)
		b.reply(ctx, chatID, genericErrorReply)
		return
	}
	if len(convs) == 0 {
		b.reply(ctx, chatID, "Диалогов пока нет.")
		return
	}
	var rows [][]telegram.InlineKeyboardButton
	for i, c := range convs {
		if i >= 10 {
			break
		}
		label := c.User.DisplayName
		if c.UnreadCount > 0 {
			label = fmt.Sprintf("%s (%d)", label, c.UnreadCount)
		}
		rows = append(rows, []telegram.InlineKeyboardButton{
			{Text: label, CallbackData: "reply_message_" + c.User.ID},
		})
	}
	kb := &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
	if _, err := b.tg.SendMessage(ctx, chatID, "Выберите диалог, чтобы ответить:", kb); err != nil {
		logger.Errorf("bot: список диалогов %d: %v", chatID, err)
	}
}

func (b *Bot) showNotifications(ctx context.Context, chatID, tgUserID int64) {
	sdk, _, ok := b.session(ctx, chatID, tgUserID)
	if !ok {
		return
	}
	panel := feed.NewPanel(sdk)
	if err := panel.Refresh(ctx); err != nil {
		logger.Errorf("bot: счётчик уведомлений %d: %v", tgUserID, err)
	}
	items, err := panel.Open(ctx)
	if err != nil {
		logger.Errorf("bot: уведомления %d: %v", tgUserID, err)
		b.reply(ctx, chatID, genericErrorReply)
		return
	}
	if len(items) == 0 {
		b.reply(ctx, chatID, "Уведомлений нет.")
		return
	}
	var sb strings.Builder
	if badge := panel.Badge(); badge != "" {
		fmt.Fprintf(&sb, "🔔 Непрочитанных: %s\n\n", badge)
	}
	for _, n := range items {
		mark := "  "
		if !n.IsRead {
			mark = "• "
		}
		fmt.Fprintf(&sb, "%s%s\n", mark, n.Content)
	}
	b.reply(ctx, chatID, sb.String())
}

func (b *Bot) showWatchlist(ctx context.Context, chatID, tgUserID int64) {
	sdk, _, ok := b.session(ctx, chatID, tgUserID)
	if !ok {
		return
	}
	entries, err := sdk.Watchlist(ctx, "")
	if err != nil {
		logger.Errorf("bot: watchlist %d: %v", tgUserID, err)
		b.reply(ctx, chatID, genericErrorReply)
		return
	}
	var sb strings.Builder
	sb.WriteString("📋 Посмотреть позже:\n")
	if len(entries) == 0 {
		sb.WriteString("список пуст\n")
	}
	for _, e := range entries {
		kind := "фильм"
		if e.MediaType == model.MediaTypeTV {
			kind = "сериал"
		}
		fmt.Fprintf(&sb, "• %s tmdb:%d\n", kind, e.TMDBID)
	}
	sb.WriteString("\nДобавить: отправьте «movie <tmdb_id>» или «tv <tmdb_id>».")
	if err := b.store.SetBotState(ctx, tgUserID, stateAwaitingWatchlist); err != nil {
		logger.Errorf("bot: состояние watchlist %d: %v", tgUserID, err)
	}
	b.reply(ctx, chatID, sb.String())
}

func (b *Bot) showSettings(ctx context.Context, chatID int64) {
	kb := &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		{{Text: "Имя", CallbackData: "settings_name"}},
		{{Text: "Статус", CallbackData: "settings_status"}},
		{{Text: "Тема", CallbackData: "settings_theme"}},
	}}
	if _, err := b.tg.SendMessage(ctx, chatID, "Настройки:", kb); err != nil {
		logger.Errorf("bot: настройки %d: %v", chatID, err)
	}
}

// promptState переводит пользователя в указанное состояние и отправляет подсказку.
func (b *Bot) promptState(ctx context.Context, chatID, tgUserID int64, state, prompt string) {
	if err := b.store.SetBotState(ctx, tgUserID, state); err != nil {
		logger.Errorf("bot: состояние %q %d: %v", state, tgUserID, err)
		b.reply(ctx, chatID, genericErrorReply)
		return
	}
	b.reply(ctx, chatID, prompt)
}

func (b *Bot) setTheme(ctx context.Context, chatID, tgUserID int64, theme string) {
	sdk, _, ok := b.session(ctx, chatID, tgUserID)
	if !ok {
		return
	}
	if _, err := sdk.UpdateProfile(ctx, client.ProfileUpdate{Theme: &theme}); err != nil {
		logger.Errorf("bot: смена темы %d: %v", tgUserID, err)
		b.reply(ctx, chatID, genericErrorReply)
		return
	}
	b.reply(ctx, chatID, "Тема обновлена.")
}

// startReply переводит пользователя в режим ответа и поднимает зеркало диалога.
func (b *Bot) startReply(ctx context.Context, chatID, tgUserID int64, partnerID string) {
	s, status, err := b.api.Session(ctx, tgUserID)
	if err != nil {
		if status == http.StatusNotFound {
			b.reply(ctx, chatID, "Аккаунт не привязан. /start ref_<код> — привязать.")
		} else {
			logger.Errorf("bot: сессия для ответа %d: %v", tgUserID, err)
			b.reply(ctx, chatID, genericErrorReply)
		}
		return
	}
	sdk := client.New(b.apiURL, client.NewMemoryTokenStore(s.Token), nil)

	partner, err := sdk.GetUser(ctx, partnerID)
	if err != nil {
		logger.Errorf("bot: собеседник %s: %v", partnerID, err)
		b.reply(ctx, chatID, genericErrorReply)
		return
	}
	if err := b.store.SetBotState(ctx, tgUserID, encodeReplyState(partnerID)); err != nil {
		logger.Errorf("bot: состояние ответа %d: %v", tgUserID, err)
		b.reply(ctx, chatID, genericErrorReply)
		return
	}

	parent := b.runCtx
	if parent == nil {
		parent = context.Background()
	}
	b.startMirror(parent, tgUserID, chatID, s.Token, sdk, s.User.ID, partnerID, partner.DisplayName)
	b.reply(ctx, chatID, fmt.Sprintf("Ответ для %s. Напишите сообщение (или /cancel).", partner.DisplayName))
}

// handleText интерпретирует свободный текст по текущему состоянию диалога.
// Состояние снимается после одной попытки — успешной или нет.
func (b *Bot) handleText(ctx context.Context, msg *telegram.Message, text string) {
	raw, err := b.store.GetBotState(ctx, msg.From.ID)
	if err != nil {
		logger.Errorf("bot: чтение состояния %d: %v", msg.From.ID, err)
		b.reply(ctx, msg.Chat.ID, genericErrorReply)
		return
	}
	if raw == "" {
		b.reply(ctx, msg.Chat.ID, "Не понимаю. /menu — главное меню.")
		return
	}

	if err := b.store.DeleteBotState(ctx, msg.From.ID); err != nil {
		logger.Errorf("bot: сброс состояния %d: %v", msg.From.ID, err)
	}

	name, payload := parseState(raw)
	switch name {
	case stateAwaitingName:
		b.applyProfileUpdate(ctx, msg, client.ProfileUpdate{DisplayName: &text}, "Имя обновлено.")
	case stateAwaitingStatus:
		b.applyProfileUpdate(ctx, msg, client.ProfileUpdate{UserStatus: &text}, "Статус обновлён.")
	case stateAwaitingReply:
		b.sendReply(ctx, msg, payload, text)
	case stateAwaitingWatchlist:
		b.addWatchlistEntry(ctx, msg, text)
	default:
		b.reply(ctx, msg.Chat.ID, "Не понимаю. /menu — главное меню.")
	}
}

func (b *Bot) applyProfileUpdate(ctx context.Context, msg *telegram.Message, upd client.ProfileUpdate, success string) {
	sdk, _, ok := b.session(ctx, msg.Chat.ID, msg.From.ID)
	if !ok {
		return
	}
	if _, err := sdk.UpdateProfile(ctx, upd); err != nil {
		if apiErr, isAPI := client.IsAPIError(err); isAPI {
			b.reply(ctx, msg.Chat.ID, apiErr.Message)
		} else {
			logger.Errorf("bot: обновление профиля %d: %v", msg.From.ID, err)
			b.reply(ctx, msg.Chat.ID, genericErrorReply)
		}
		return
	}
	b.reply(ctx, msg.Chat.ID, success)
}

func (b *Bot) sendReply(ctx context.Context, msg *telegram.Message, partnerID, text string) {
	defer b.stopMirror(msg.From.ID)

	sdk, _, ok := b.session(ctx, msg.Chat.ID, msg.From.ID)
	if !ok {
		return
	}
	_, err := sdk.SendMessage(ctx, client.SendMessageRequest{
		ReceiverID: partnerID,
		Content:    text,
		SentViaBot: true,
	})
	if err != nil {
		if apiErr, isAPI := client.IsAPIError(err); isAPI {
			b.reply(ctx, msg.Chat.ID, apiErr.Message)
		} else {
			logger.Errorf("bot: отправка сообщения %d: %v", msg.From.ID, err)
			b.reply(ctx, msg.Chat.ID, genericErrorReply)
		}
		return
	}
	b.reply(ctx, msg.Chat.ID, "Отправлено ✓")
}

// addWatchlistEntry разбирает «movie 603» / «tv 1399» и добавляет запись.
func (b *Bot) addWatchlistEntry(ctx context.Context, msg *telegram.Message, text string) {
	kind, idStr, ok := strings.Cut(strings.ToLower(strings.TrimSpace(text)), " ")
	mediaType := model.MediaType(kind)
	tmdbID, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
	if !ok || err != nil || tmdbID <= 0 || !model.ValidMediaType(mediaType) {
		b.reply(ctx, msg.Chat.ID, "Формат: «movie <tmdb_id>» или «tv <tmdb_id>», например «movie 603».")
		return
	}

	sdk, _, sessOK := b.session(ctx, msg.Chat.ID, msg.From.ID)
	if !sessOK {
		return
	}
	if err := sdk.AddToWatchlist(ctx, tmdbID, mediaType); err != nil {
		logger.Errorf("bot: добавление в watchlist %d: %v", msg.From.ID, err)
		b.reply(ctx, msg.Chat.ID, genericErrorReply)
		return
	}
	b.reply(ctx, msg.Chat.ID, "Добавлено в «посмотреть позже» ✓")
}

// reply отправляет простой текст, ошибки только логируются.
func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.tg.SendMessage(ctx, chatID, text, nil); err != nil {
		logger.Errorf("bot: отправка в чат %d: %v", chatID, err)
	}
}
