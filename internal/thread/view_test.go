package thread

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Vidrimers/watchRebel-sub002/internal/client"
	"github.com/Vidrimers/watchRebel-sub002/internal/model"
)

// fakeAPI — управляемая реализация API для тестов вьюхи.
type fakeAPI struct {
	mu        sync.Mutex
	pages     map[int][]model.Message // offset → страница
	calls     int
	block     chan struct{} // не nil — Messages висит до закрытия
	sendErr   error
	sent      []client.SendMessageRequest
	sendReply *model.Message
}

func (f *fakeAPI) Messages(ctx context.Context, userID string, limit, offset int) ([]model.Message, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	page := f.pages[offset]
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return page, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, req client.SendMessageRequest) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, req)
	if f.sendReply != nil {
		return f.sendReply, nil
	}
	return &model.Message{ID: "sent-1", SenderID: "self", ReceiverID: req.ReceiverID, Content: req.Content, CreatedAt: time.Now()}, nil
}

func (f *fakeAPI) MarkConversationRead(ctx context.Context, userID string) error { return nil }

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func msg(id string, at time.Time, sender string) model.Message {
	return model.Message{ID: id, SenderID: sender, CreatedAt: at}
}

func TestApplyMergesByIDWithoutDuplicates(t *testing.T) {
	v := NewView(&fakeAPI{}, "self", "partner")
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	page := []model.Message{
		msg("a", base, "partner"),
		msg("b", base.Add(time.Minute), "self"),
	}
	v.Apply(page)
	// Поллинг и push приносят пересечение с уже известными сообщениями.
	v.Apply([]model.Message{
		msg("b", base.Add(time.Minute), "self"),
		msg("c", base.Add(2*time.Minute), "partner"),
	})
	v.Apply(page)

	got := v.Messages()
	if len(got) != 3 {
		t.Fatalf("Len = %d, want 3", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i].ID != want {
			t.Errorf("order[%d] = %q, want %q", i, got[i].ID, want)
		}
	}
}

func TestApplyOrdersByCreatedAtThenID(t *testing.T) {
	v := NewView(&fakeAPI{}, "self", "partner")
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Одинаковый created_at: порядок детерминирован по id.
	v.Apply([]model.Message{msg("z", at, "self"), msg("a", at, "partner")})

	got := v.Messages()
	if got[0].ID != "a" || got[1].ID != "z" {
		t.Fatalf("order = [%s %s], want [a z]", got[0].ID, got[1].ID)
	}
}

func TestApplyUpdatesReadFlag(t *testing.T) {
	v := NewView(&fakeAPI{}, "self", "partner")
	at := time.Now()

	v.Apply([]model.Message{{ID: "a", CreatedAt: at, IsRead: false}})
	v.Apply([]model.Message{{ID: "a", CreatedAt: at, IsRead: true}})

	if got := v.Messages(); !got[0].IsRead {
		t.Fatal("IsRead после повторного Apply должен стать true")
	}
}

func TestLoadOlderSingleInFlight(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	older := make([]model.Message, PageSize)
	for i := range older {
		older[i] = msg(fmt.Sprintf("old-%03d", i), base.Add(time.Duration(i)*time.Second), "partner")
	}
	api := &fakeAPI{
		pages: map[int][]model.Message{1: older},
		block: make(chan struct{}),
	}
	v := NewView(api, "self", "partner")
	v.Apply([]model.Message{msg("top", base.Add(time.Hour), "partner")})

	done := make(chan error, 1)
	go func() { done <- v.LoadOlder(context.Background()) }()

	// Ждём, пока первый запрос повиснет в API.
	for api.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	// Повторный вызов при запросе в полёте — no-op без второго запроса.
	if err := v.LoadOlder(context.Background()); err != nil {
		t.Fatalf("повторный LoadOlder: %v", err)
	}
	if got := api.callCount(); got != 1 {
		t.Fatalf("API calls = %d, want 1", got)
	}

	close(api.block)
	if err := <-done; err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}

	if got := v.AnchorID(); got != "top" {
		t.Errorf("AnchorID = %q, want %q", got, "top")
	}
	if got := v.Len(); got != PageSize+1 {
		t.Errorf("Len = %d, want %d", got, PageSize+1)
	}
}

func TestLoadOlderNoopWithoutMoreHistory(t *testing.T) {
	api := &fakeAPI{pages: map[int][]model.Message{}}
	v := NewView(api, "self", "partner")

	// Неполная страница истории: дальше грузить нечего.
	if err := v.LoadNewest(context.Background()); err != nil {
		t.Fatalf("LoadNewest: %v", err)
	}
	if v.HasMore() {
		t.Fatal("HasMore после неполной страницы должен быть false")
	}

	before := api.callCount()
	if err := v.LoadOlder(context.Background()); err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if api.callCount() != before {
		t.Fatal("LoadOlder без hasMore не должен ходить в API")
	}
}

func TestSendRestoresDraftOnFailure(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("boom")}
	v := NewView(api, "self", "partner")

	v.SetComposeText("привет")
	if err := v.AttachFile(client.AttachmentMeta{Path: "/f/a.png", Size: 100}); err != nil {
		t.Fatalf("AttachFile: %v", err)
	}

	if _, err := v.Send(context.Background()); err == nil {
		t.Fatal("Send должен вернуть ошибку API")
	}

	draft := v.Compose()
	if draft.Text != "привет" {
		t.Errorf("текст черновика = %q, want %q", draft.Text, "привет")
	}
	if len(draft.Files) != 1 {
		t.Errorf("вложений в черновике = %d, want 1", len(draft.Files))
	}
}

func TestSendClearsDraftOnSuccess(t *testing.T) {
	api := &fakeAPI{}
	v := NewView(api, "self", "partner")
	v.SetComposeText("текст")

	sent, err := v.Send(context.Background())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if draft := v.Compose(); draft.Text != "" || len(draft.Files) != 0 {
		t.Fatal("черновик должен очиститься после успешной отправки")
	}
	// Отправленное сообщение попадает в ленту сразу, не дожидаясь поллинга.
	if got := v.Len(); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}
	if sent.ID == "" {
		t.Error("у отправленного сообщения должен быть id")
	}
}

func TestSendEmptyDraft(t *testing.T) {
	v := NewView(&fakeAPI{}, "self", "partner")
	if _, err := v.Send(context.Background()); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
}

func TestAttachFileLimits(t *testing.T) {
	v := NewView(&fakeAPI{}, "self", "partner")

	if err := v.AttachFile(client.AttachmentMeta{Size: maxFileSize + 1}); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("oversize: err = %v, want ErrFileTooLarge", err)
	}
	for i := 0; i < maxFiles; i++ {
		if err := v.AttachFile(client.AttachmentMeta{Size: 1}); err != nil {
			t.Fatalf("AttachFile #%d: %v", i, err)
		}
	}
	if err := v.AttachFile(client.AttachmentMeta{Size: 1}); !errors.Is(err, ErrTooManyFiles) {
		t.Errorf("11-й файл: err = %v, want ErrTooManyFiles", err)
	}
}

func TestValidateAttachments(t *testing.T) {
	ok := make([]int64, maxFiles)
	for i := range ok {
		ok[i] = 1 << 20
	}
	if err := ValidateAttachments(ok); err != nil {
		t.Errorf("валидный набор: %v", err)
	}
	if err := ValidateAttachments(append(ok, 1)); !errors.Is(err, ErrTooManyFiles) {
		t.Errorf("перебор файлов: err = %v, want ErrTooManyFiles", err)
	}
	// Один негодный файл блокирует отправку целиком.
	bad := []int64{1, maxFileSize + 1, 1}
	if err := ValidateAttachments(bad); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("крупный файл: err = %v, want ErrFileTooLarge", err)
	}
}

func TestDecideScroll(t *testing.T) {
	cases := []struct {
		name     string
		own      bool
		distance float64
		want     ScrollDecision
	}{
		{"своё сообщение у низа", true, 0, ScrollToBottom},
		{"своё сообщение далеко от низа", true, 5000, ScrollToBottom},
		{"чужое сообщение у низа", false, 120, ScrollToBottom},
		{"чужое сообщение на границе", false, 300, ScrollToBottom},
		{"чужое сообщение далеко", false, 301, ShowNewMessages},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DecideScroll(tc.own, tc.distance); got != tc.want {
				t.Errorf("DecideScroll(%v, %v) = %v, want %v", tc.own, tc.distance, got, tc.want)
			}
		})
	}
}

func TestOnLastMessageChanged(t *testing.T) {
	v := NewView(&fakeAPI{}, "self", "partner")
	if got := v.OnLastMessageChanged(0); got != ScrollNone {
		t.Fatalf("пустая переписка: %v, want ScrollNone", got)
	}

	v.Apply([]model.Message{msg("a", time.Now(), "partner")})
	if got := v.OnLastMessageChanged(1000); got != ShowNewMessages {
		t.Errorf("чужое сообщение далеко от низа: %v, want ShowNewMessages", got)
	}

	v.Apply([]model.Message{msg("b", time.Now().Add(time.Second), "self")})
	if got := v.OnLastMessageChanged(1000); got != ScrollToBottom {
		t.Errorf("своё сообщение: %v, want ScrollToBottom", got)
	}
}

func TestOnUpdateFiresOnlyOnChange(t *testing.T) {
	v := NewView(&fakeAPI{}, "self", "partner")
	var fired int
	v.OnUpdate = func() { fired++ }

	page := []model.Message{msg("a", time.Now(), "partner")}
	v.Apply(page)
	v.Apply(page) // без изменений

	if fired != 1 {
		t.Fatalf("OnUpdate вызван %d раз, want 1", fired)
	}
}
