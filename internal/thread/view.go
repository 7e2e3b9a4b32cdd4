// Package thread — модель открытой переписки: страница истории, поллинг,
// push-кадры и ручная дозагрузка сливаются в один упорядоченный список
// без дублей.
package thread

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Vidrimers/watchRebel-sub002/internal/client"
	"github.com/Vidrimers/watchRebel-sub002/internal/logger"
	"github.com/Vidrimers/watchRebel-sub002/internal/model"
)

const (
	// PageSize — размер страницы истории.
	PageSize = 50
	// PollInterval — период фонового опроса открытой переписки.
	PollInterval = 5 * time.Second

	maxFiles    = 10
	maxFileSize = 50 << 20
)

var (
	ErrTooManyFiles = errors.New("too many files")
	ErrFileTooLarge = errors.New("file too large")
	ErrEmptyMessage = errors.New("empty message")
)

// API — часть клиентского SDK, нужная переписке.
type API interface {
	Messages(ctx context.Context, userID string, limit, offset int) ([]model.Message, error)
	SendMessage(ctx context.Context, req client.SendMessageRequest) (*model.Message, error)
	MarkConversationRead(ctx context.Context, userID string) error
}

// ComposeFile — файл, прикреплённый к черновику (уже загруженный на сервер).
type ComposeFile struct {
	Meta client.AttachmentMeta
}

// Compose — черновик сообщения.
type Compose struct {
	Text  string
	Files []ComposeFile
}

// View — состояние одной открытой переписки.
type View struct {
	api       API
	selfID    string
	partnerID string

	mu       sync.Mutex
	byID     map[string]model.Message
	order    []string
	hasMore  bool
	fetching bool
	// anchorID — верхнее сообщение перед дозагрузкой истории: после неё
	// вьюпорт выравнивается по нему, без прыжка.
	anchorID string
	compose  Compose
	lastID   string

	// OnUpdate вызывается после каждого слияния, изменившего список.
	OnUpdate func()
}

func NewView(api API, selfID, partnerID string) *View {
	return &View{
		api:       api,
		selfID:    selfID,
		partnerID: partnerID,
		byID:      make(map[string]model.Message),
		hasMore:   true,
	}
}

func (v *View) PartnerID() string { return v.partnerID }

// Apply сливает сообщения из любого источника (страница, поллинг, push).
// Слияние идемпотентно: ключ — id, порядок — (created_at, id).
func (v *View) Apply(msgs []model.Message) {
	v.mu.Lock()
	changed := false
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		if old, ok := v.byID[m.ID]; !ok {
			v.byID[m.ID] = m
			v.order = append(v.order, m.ID)
			changed = true
		} else if old.IsRead != m.IsRead {
			v.byID[m.ID] = m
			changed = true
		}
	}
	if changed {
		v.sortLocked()
		if n := len(v.order); n > 0 {
			v.lastID = v.order[n-1]
		}
	}
	onUpdate := v.OnUpdate
	v.mu.Unlock()
	if changed && onUpdate != nil {
		onUpdate()
	}
}

func (v *View) sortLocked() {
	sort.SliceStable(v.order, func(i, j int) bool {
		a, b := v.byID[v.order[i]], v.byID[v.order[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Messages — копия списка в хронологическом порядке.
func (v *View) Messages() []model.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.Message, 0, len(v.order))
	for _, id := range v.order {
		out = append(out, v.byID[id])
	}
	return out
}

func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.order)
}

// LastMessage — последнее сообщение или nil, если переписка пуста.
func (v *View) LastMessage() *model.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.order) == 0 {
		return nil
	}
	m := v.byID[v.order[len(v.order)-1]]
	return &m
}

// LoadNewest загружает последнюю страницу истории.
func (v *View) LoadNewest(ctx context.Context) error {
	msgs, err := v.api.Messages(ctx, v.partnerID, PageSize, 0)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.hasMore = len(msgs) == PageSize
	v.mu.Unlock()
	v.Apply(msgs)
	return nil
}

// HasMore сообщает, осталась ли недогруженная история.
func (v *View) HasMore() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.hasMore
}

// AnchorID — сообщение, по которому выравнивается вьюпорт после LoadOlder.
func (v *View) AnchorID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.anchorID
}

// LoadOlder догружает историю вверх. Пока запрос в полёте, повторные
// вызовы — no-op; верхнее сообщение до загрузки становится якорем.
func (v *View) LoadOlder(ctx context.Context) error {
	v.mu.Lock()
	if !v.hasMore || v.fetching {
		v.mu.Unlock()
		return nil
	}
	v.fetching = true
	offset := len(v.order)
	if offset > 0 {
		v.anchorID = v.order[0]
	}
	v.mu.Unlock()

	msgs, err := v.api.Messages(ctx, v.partnerID, PageSize, offset)

	v.mu.Lock()
	v.fetching = false
	if err == nil {
		v.hasMore = len(msgs) == PageSize
	}
	v.mu.Unlock()

	if err != nil {
		return err
	}
	v.Apply(msgs)
	return nil
}

// Poll запускает фоновый опрос последней страницы, пока ctx жив.
func (v *View) Poll(ctx context.Context) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := v.LoadNewest(ctx); err != nil {
				logger.Errorf("thread poll: %v", err)
			}
		}
	}
}

// MarkRead помечает входящие сообщения пары прочитанными.
func (v *View) MarkRead(ctx context.Context) error {
	return v.api.MarkConversationRead(ctx, v.partnerID)
}

// --- Черновик и отправка ---

func (v *View) Compose() Compose {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.compose
}

func (v *View) SetComposeText(text string) {
	v.mu.Lock()
	v.compose.Text = text
	v.mu.Unlock()
}

// AttachFile добавляет загруженный файл к черновику с проверкой лимитов.
func (v *View) AttachFile(meta client.AttachmentMeta) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.compose.Files) >= maxFiles {
		return ErrTooManyFiles
	}
	if meta.Size > maxFileSize {
		return ErrFileTooLarge
	}
	v.compose.Files = append(v.compose.Files, ComposeFile{Meta: meta})
	return nil
}

// ValidateAttachments проверяет набор файлов до загрузки: нарушение любого
// лимита блокирует отправку целиком.
func ValidateAttachments(sizes []int64) error {
	if len(sizes) > maxFiles {
		return ErrTooManyFiles
	}
	for _, size := range sizes {
		if size > maxFileSize {
			return ErrFileTooLarge
		}
	}
	return nil
}

// Send отправляет черновик. Поле ввода очищается оптимистически и
// восстанавливается (текст и вложения) при ошибке.
func (v *View) Send(ctx context.Context) (*model.Message, error) {
	v.mu.Lock()
	draft := v.compose
	if draft.Text == "" && len(draft.Files) == 0 {
		v.mu.Unlock()
		return nil, ErrEmptyMessage
	}
	v.compose = Compose{}
	v.mu.Unlock()

	req := client.SendMessageRequest{
		ReceiverID: v.partnerID,
		Content:    draft.Text,
	}
	for _, f := range draft.Files {
		req.Attachments = append(req.Attachments, f.Meta)
	}

	msg, err := v.api.SendMessage(ctx, req)
	if err != nil {
		v.mu.Lock()
		v.compose = draft
		v.mu.Unlock()
		return nil, err
	}
	v.Apply([]model.Message{*msg})
	return msg, nil
}

// --- Автоскролл ---

type ScrollDecision int

const (
	ScrollNone ScrollDecision = iota
	ScrollToBottom
	ShowNewMessages
)

// bottomThresholdPx — ближе этого расстояния до низа считается "у низа".
const bottomThresholdPx = 300

// DecideScroll — политика автоскролла при изменении последнего сообщения:
// своё сообщение прокручивает всегда, чужое — только если читатель у низа;
// иначе показывается индикатор новых сообщений.
func DecideScroll(ownMessage bool, distanceFromBottomPx float64) ScrollDecision {
	if ownMessage {
		return ScrollToBottom
	}
	if distanceFromBottomPx <= bottomThresholdPx {
		return ScrollToBottom
	}
	return ShowNewMessages
}

// OnLastMessageChanged вызывается вьюхой при смене последнего сообщения.
func (v *View) OnLastMessageChanged(distanceFromBottomPx float64) ScrollDecision {
	last := v.LastMessage()
	if last == nil {
		return ScrollNone
	}
	return DecideScroll(last.SenderID == v.selfID, distanceFromBottomPx)
}
