package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/Vidrimers/watchRebel-sub002/internal/model"
	"github.com/Vidrimers/watchRebel-sub002/internal/repository"
	"github.com/Vidrimers/watchRebel-sub002/internal/storage"
	"github.com/Vidrimers/watchRebel-sub002/internal/storage/memory"
)

// fakeUsers — память вместо Postgres для тестов авторизации.
type fakeUsers struct {
	mu    sync.Mutex
	byID  map[string]*model.User
	byTG  map[int64]string
	email map[string]string
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		byID:  make(map[string]*model.User),
		byTG:  make(map[int64]string),
		email: make(map[string]string),
	}
}

func (f *fakeUsers) Create(ctx context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *u
	f.byID[u.ID] = &cp
	if u.Email != "" {
		f.email[u.Email] = u.ID
	}
	if u.TelegramUserID != nil {
		f.byTG[*u.TelegramUserID] = u.ID
	}
	return nil
}

func (f *fakeUsers) GetByID(ctx context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	id, ok := f.email[email]
	f.mu.Unlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return f.GetByID(ctx, id)
}

func (f *fakeUsers) GetByTelegramUserID(ctx context.Context, telegramUserID int64) (*model.User, error) {
	f.mu.Lock()
	id, ok := f.byTG[telegramUserID]
	f.mu.Unlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return f.GetByID(ctx, id)
}

func (f *fakeUsers) LinkTelegram(ctx context.Context, userID string, telegramUserID, telegramChatID int64, telegramUsername string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.TelegramUserID = &telegramUserID
	u.TelegramChatID = &telegramChatID
	u.TelegramUsername = telegramUsername
	f.byTG[telegramUserID] = userID
	return nil
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions []model.Session
}

func (f *fakeSessions) Create(ctx context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, *s)
	return nil
}

func (f *fakeSessions) Revoke(ctx context.Context, sessionID string) error { return nil }

func (f *fakeSessions) ListByUserID(ctx context.Context, userID string) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Session
	for _, s := range f.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

// fakeMailer запоминает последний отправленный код вместо похода в SMTP.
type fakeMailer struct {
	mu    sync.Mutex
	codes map[string]string
	sent  int
}

func newFakeMailer() *fakeMailer { return &fakeMailer{codes: make(map[string]string)} }

func (f *fakeMailer) SendOTP(ctx context.Context, to, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[to] = code
	f.sent++
	return nil
}

func (f *fakeMailer) lastCode(email string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codes[email]
}

func newTestAuth(t *testing.T) (*AuthService, *fakeUsers, *fakeMailer) {
	t.Helper()
	users := newFakeUsers()
	mailer := newFakeMailer()
	svc := NewAuthService(users, &fakeSessions{}, memory.New(), mailer, "")
	return svc, users, mailer
}

func TestValidateDisplayName(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"Марат", "Марат", false},
		{"  Марат  ", "Марат", false},
		{"ab", "ab", false},
		{strings.Repeat("я", 50), strings.Repeat("я", 50), false},
		{"a", "", true},
		{" a ", "", true},
		{"   ", "", true},
		{"", "", true},
		{strings.Repeat("я", 51), "", true},
	}
	for _, tc := range cases {
		got, err := ValidateDisplayName(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrValidation) {
				t.Errorf("ValidateDisplayName(%q): err = %v, want ErrValidation", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ValidateDisplayName(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ValidateDisplayName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidateUserStatus(t *testing.T) {
	if _, err := ValidateUserStatus(strings.Repeat("x", 101)); !errors.Is(err, ErrValidation) {
		t.Errorf("длинный статус: err = %v, want ErrValidation", err)
	}
	got, err := ValidateUserStatus("  смотрю твин пикс  ")
	if err != nil || got != "смотрю твин пикс" {
		t.Errorf("ValidateUserStatus = (%q, %v)", got, err)
	}
	// Пустой статус валиден: его можно стереть.
	if got, err := ValidateUserStatus(""); err != nil || got != "" {
		t.Errorf("пустой статус: (%q, %v)", got, err)
	}
}

func TestNewSessionTokenIsV4UUIDAndUnique(t *testing.T) {
	a := NewSessionToken()
	b := NewSessionToken()

	check := func(tok string) {
		parsed, err := uuid.Parse(tok)
		if err != nil {
			t.Fatalf("токен %q не UUID: %v", tok, err)
		}
		if parsed.Version() != 4 {
			t.Fatalf("версия UUID = %d, want 4", parsed.Version())
		}
	}
	check(a)
	check(b)

	if a == b {
		t.Fatal("два токена подряд не должны совпадать")
	}
}

func TestHashToken(t *testing.T) {
	h := HashToken("secret")
	if len(h) != 64 {
		t.Fatalf("len(hash) = %d, want 64 hex-символа", len(h))
	}
	if h != HashToken("secret") {
		t.Error("хеш должен быть детерминированным")
	}
	if h == HashToken("other") {
		t.Error("разные токены не должны давать одинаковый хеш")
	}
}

func TestRequestCodeRejectsInvalidEmail(t *testing.T) {
	svc, _, _ := newTestAuth(t)
	for _, email := range []string{"", "plain", "a@b", "@x.ru", "a b@c.ru"} {
		err := svc.RequestCode(context.Background(), email)
		if !errors.Is(err, ErrInvalidEmail) && !errors.Is(err, ErrValidation) {
			t.Errorf("RequestCode(%q): err = %v, want ошибку валидации", email, err)
		}
	}
}

func TestOTPLoginFlow(t *testing.T) {
	svc, _, mailer := newTestAuth(t)
	ctx := context.Background()
	const email = "kino@example.com"

	if err := svc.RequestCode(ctx, "  KINO@Example.COM "); err != nil {
		t.Fatalf("RequestCode: %v", err)
	}
	code := mailer.lastCode(email)
	if len(code) != 6 {
		t.Fatalf("код из письма %q, want 6 цифр", code)
	}

	// Неверный код не проходит.
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	if _, err := svc.VerifyCode(ctx, email, wrong); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("неверный код %q: err = %v, want ErrInvalidOTP", wrong, err)
	}

	res, err := svc.VerifyCode(ctx, email, code)
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if !res.IsNewUser {
		t.Error("первый вход должен создать пользователя")
	}
	if res.User.Email != email {
		t.Errorf("email = %q, want %q", res.User.Email, email)
	}
	if res.Token == "" || res.Session.TokenHash != HashToken(res.Token) {
		t.Error("в сессии хранится хеш выданного токена")
	}

	// Код одноразовый.
	if _, err := svc.VerifyCode(ctx, email, code); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("повторное использование кода: err = %v, want ErrInvalidOTP", err)
	}

	// Повторный вход: тот же пользователь, новый токен.
	if err := svc.RequestCode(ctx, email); err != nil {
		t.Fatalf("повторный RequestCode: %v", err)
	}
	res2, err := svc.VerifyCode(ctx, email, mailer.lastCode(email))
	if err != nil {
		t.Fatalf("повторный VerifyCode: %v", err)
	}
	if res2.IsNewUser {
		t.Error("повторный вход не должен создавать пользователя")
	}
	if res2.User.ID != res.User.ID {
		t.Error("повторный вход должен вернуть того же пользователя")
	}
	if res2.Token == res.Token {
		t.Error("каждый вход выпускает новый токен")
	}
}

func TestVerifyCodeAcceptsPastedCodeWithSpaces(t *testing.T) {
	svc, _, mailer := newTestAuth(t)
	ctx := context.Background()
	const email = "paste@example.com"

	if err := svc.RequestCode(ctx, email); err != nil {
		t.Fatalf("RequestCode: %v", err)
	}
	code := mailer.lastCode(email)
	spaced := code[:3] + " " + code[3:]

	if _, err := svc.VerifyCode(ctx, email, spaced); err != nil {
		t.Fatalf("код с пробелом из вставки должен проходить: %v", err)
	}
}

func TestRequestCodeRateLimit(t *testing.T) {
	svc, _, _ := newTestAuth(t)
	ctx := context.Background()
	const email = "spam@example.com"

	for i := 0; i < storage.OTPRateLimitMax; i++ {
		if err := svc.RequestCode(ctx, email); err != nil {
			t.Fatalf("RequestCode #%d: %v", i+1, err)
		}
	}
	if err := svc.RequestCode(ctx, email); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("сверх лимита: err = %v, want ErrRateLimitExceeded", err)
	}
}

func TestRequestCodeResendsLiveCode(t *testing.T) {
	svc, _, mailer := newTestAuth(t)
	ctx := context.Background()
	const email = "resend@example.com"

	if err := svc.RequestCode(ctx, email); err != nil {
		t.Fatalf("RequestCode: %v", err)
	}
	first := mailer.lastCode(email)
	// Живой код переотправляется как есть, не инвалидируя письмо в пути.
	if err := svc.RequestCode(ctx, email); err != nil {
		t.Fatalf("повторный RequestCode: %v", err)
	}
	if got := mailer.lastCode(email); got != first {
		t.Errorf("переотправленный код %q, want тот же %q", got, first)
	}
}

func TestVerifyCodeBlockedUser(t *testing.T) {
	svc, users, mailer := newTestAuth(t)
	ctx := context.Background()
	const email = "blocked@example.com"

	if err := svc.RequestCode(ctx, email); err != nil {
		t.Fatalf("RequestCode: %v", err)
	}
	res, err := svc.VerifyCode(ctx, email, mailer.lastCode(email))
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}

	users.mu.Lock()
	users.byID[res.User.ID].IsBlocked = true
	users.mu.Unlock()

	if err := svc.RequestCode(ctx, email); err != nil {
		t.Fatalf("RequestCode: %v", err)
	}
	if _, err := svc.VerifyCode(ctx, email, mailer.lastCode(email)); !errors.Is(err, ErrUserBlocked) {
		t.Fatalf("вход заблокированного: err = %v, want ErrUserBlocked", err)
	}
}

func TestLinkCodeFlow(t *testing.T) {
	svc, users, _ := newTestAuth(t)
	ctx := context.Background()

	u := &model.User{ID: uuid.New().String(), DisplayName: "linker"}
	if err := users.Create(ctx, u); err != nil {
		t.Fatalf("Create: %v", err)
	}

	code, _, err := svc.CreateLinkCode(ctx, u.ID)
	if err != nil {
		t.Fatalf("CreateLinkCode: %v", err)
	}

	linked, err := svc.ConsumeLinkCode(ctx, code, 777, 555, "tg_user")
	if err != nil {
		t.Fatalf("ConsumeLinkCode: %v", err)
	}
	if linked.ID != u.ID || linked.TelegramUsername != "tg_user" {
		t.Errorf("привязан %+v", linked)
	}

	// Код одноразовый.
	if _, err := svc.ConsumeLinkCode(ctx, code, 777, 555, "tg_user"); !errors.Is(err, ErrLinkCodeInvalid) {
		t.Fatalf("повторное использование кода привязки: err = %v, want ErrLinkCodeInvalid", err)
	}

	// После привязки бот получает сессию по telegram_user_id.
	res, err := svc.BotSession(ctx, 777)
	if err != nil {
		t.Fatalf("BotSession: %v", err)
	}
	if res.User.ID != u.ID {
		t.Errorf("BotSession вернул пользователя %s, want %s", res.User.ID, u.ID)
	}
	if res.Session.Client != model.SessionClientBot {
		t.Errorf("Client = %q, want bot", res.Session.Client)
	}
}

func TestBotSessionUnlinked(t *testing.T) {
	svc, _, _ := newTestAuth(t)
	if _, err := svc.BotSession(context.Background(), 404404); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("непривязанный: err = %v, want ErrNotFound", err)
	}
}
