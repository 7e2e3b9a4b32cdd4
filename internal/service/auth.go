package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	initdata "github.com/telegram-mini-apps/init-data-golang"

	"github.com/Vidrimers/watchRebel-sub002/internal/logger"
	"github.com/Vidrimers/watchRebel-sub002/internal/model"
	"github.com/Vidrimers/watchRebel-sub002/internal/repository"
	"github.com/Vidrimers/watchRebel-sub002/internal/storage"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrInvalidOTP        = errors.New("invalid or expired OTP")
	ErrInvalidEmail      = errors.New("invalid email format")
	ErrUserBlocked       = errors.New("user blocked")
	ErrInvalidInitData   = errors.New("invalid telegram init data")
	ErrLinkCodeInvalid   = errors.New("invalid or expired link code")
	ErrValidation        = errors.New("validation failed")
)

// UserStore — операции с пользователями, нужные авторизации.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByTelegramUserID(ctx context.Context, telegramUserID int64) (*model.User, error)
	LinkTelegram(ctx context.Context, userID string, telegramUserID, telegramChatID int64, telegramUsername string) error
}

// SessionStore — операции с сессиями.
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	Revoke(ctx context.Context, sessionID string) error
	ListByUserID(ctx context.Context, userID string) ([]model.Session, error)
}

// Mailer отправляет OTP-код на email.
type Mailer interface {
	SendOTP(ctx context.Context, to, code string) error
}

// AuthService — вход по email-коду и через Telegram, выпуск bearer-токенов.
type AuthService struct {
	users    UserStore
	sessions SessionStore
	store    storage.Store
	mailer   Mailer
	botToken string
}

func NewAuthService(users UserStore, sessions SessionStore, store storage.Store, mailer Mailer, botToken string) *AuthService {
	return &AuthService{users: users, sessions: sessions, store: store, mailer: mailer, botToken: botToken}
}

// Валидация email: допустимый формат (упрощённый, без полного RFC).
var emailRegexp = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// onlyDigits оставляет в строке только цифры (код из письма: убирает пробелы и невидимые символы при вставке).
func onlyDigits(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b = append(b, s[i])
		}
	}
	return string(b)
}

// ValidateDisplayName проверяет имя: после trim длина в [2,50] символах.
// Возвращает нормализованное имя.
func ValidateDisplayName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	n := utf8.RuneCountInString(trimmed)
	if n < 2 || n > 50 {
		return "", fmt.Errorf("%w: display_name должен быть от 2 до 50 символов", ErrValidation)
	}
	return trimmed, nil
}

// ValidateUserStatus проверяет статус: произвольный текст до 100 символов.
func ValidateUserStatus(status string) (string, error) {
	trimmed := strings.TrimSpace(status)
	if utf8.RuneCountInString(trimmed) > 100 {
		return "", fmt.Errorf("%w: user_status не длиннее 100 символов", ErrValidation)
	}
	return trimmed, nil
}

// NewSessionToken выпускает bearer-токен: случайный v4 UUID.
// Два вызова для одного пользователя всегда дают разные токены.
func NewSessionToken() string {
	return uuid.New().String()
}

// HashToken — sha256-хеш токена в hex; в БД хранится только хеш.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// AuthResult — итог успешного входа: токен наружу, сессия и пользователь внутрь.
type AuthResult struct {
	Token     string
	Session   *model.Session
	User      *model.User
	IsNewUser bool
}

// MintSession создаёт новую сессию и выпускает токен для неё.
func (s *AuthService) MintSession(ctx context.Context, user *model.User, client model.SessionClient) (*AuthResult, error) {
	token := NewSessionToken()
	now := time.Now().UTC()
	session := &model.Session{
		ID:         uuid.New().String(),
		UserID:     user.ID,
		TokenHash:  HashToken(token),
		Client:     client,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("mint session: %w", err)
	}
	return &AuthResult{Token: token, Session: session, User: user}, nil
}

// RequestCode отправляет 6-значный код на email. Если живой код ещё действителен
// больше 4 минут — переотправляет его же, не перезаписывая.
func (s *AuthService) RequestCode(ctx context.Context, rawEmail string) error {
	email := strings.TrimSpace(strings.ToLower(rawEmail))
	if email == "" {
		return fmt.Errorf("%w: email обязателен", ErrValidation)
	}
	if !emailRegexp.MatchString(email) {
		return ErrInvalidEmail
	}
	allowed, err := s.store.CheckOTPRateLimit(ctx, email)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrRateLimitExceeded
	}
	const minTTLToReuse = 4 * time.Minute
	if existing, _ := s.store.GetOTP(ctx, email); len(existing) == 6 {
		if ttl, _ := s.store.GetOTPTTL(ctx, email); ttl >= minTTLToReuse {
			logger.Infof("request-code: переотправка того же кода для otp:%s (TTL %.0fs)", email, ttl.Seconds())
			return s.mailer.SendOTP(ctx, email, existing)
		}
	}
	code := generateOTP(6)
	if err := s.store.SetOTP(ctx, email, code); err != nil {
		return err
	}
	return s.mailer.SendOTP(ctx, email, code)
}

// VerifyCode сверяет код и выпускает сессию; пользователь создаётся при первом входе.
func (s *AuthService) VerifyCode(ctx context.Context, rawEmail, rawCode string) (*AuthResult, error) {
	email := strings.TrimSpace(strings.ToLower(rawEmail))
	code := onlyDigits(strings.TrimSpace(rawCode))
	if email == "" || len(code) != 6 {
		return nil, ErrInvalidOTP
	}
	stored, err := s.store.GetOTP(ctx, email)
	if err != nil {
		logger.Errorf("verify-code: GetOTP email=%q: %v", email, err)
		return nil, ErrInvalidOTP
	}
	// Сравнение constant-time; код хранится как 6 цифр.
	if len(stored) != 6 || subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return nil, ErrInvalidOTP
	}
	if err := s.store.DeleteOTP(ctx, email); err != nil {
		logger.Errorf("verify-code: DeleteOTP email=%s: %v", email, err)
	}

	user, err := s.users.GetByEmail(ctx, email)
	isNew := false
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		user, err = s.createUserByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		isNew = true
	}
	if user.IsBlocked {
		return nil, ErrUserBlocked
	}
	res, err := s.MintSession(ctx, user, model.SessionClientWeb)
	if err != nil {
		return nil, err
	}
	res.IsNewUser = isNew
	return res, nil
}

// TelegramLogin валидирует init data Telegram WebApp/Login Widget и выпускает сессию.
// Пользователь создаётся при первом входе с этим telegram_user_id.
func (s *AuthService) TelegramLogin(ctx context.Context, initData string) (*AuthResult, error) {
	if s.botToken == "" {
		return nil, fmt.Errorf("telegram login: бот не настроен")
	}
	if err := initdata.Validate(initData, s.botToken, 24*time.Hour); err != nil {
		return nil, ErrInvalidInitData
	}
	parsed, err := initdata.Parse(initData)
	if err != nil {
		return nil, ErrInvalidInitData
	}
	if parsed.User.ID == 0 {
		return nil, ErrInvalidInitData
	}
	return s.loginTelegramUser(ctx, parsed.User.ID, parsed.User.Username, displayNameFromTelegram(parsed.User.FirstName, parsed.User.LastName, parsed.User.Username), parsed.User.PhotoURL)
}

// BotSession выпускает свежий токен для привязанного Telegram-пользователя.
// Каждый вызов — новая сессия с новым токеном (бот не переиспользует токены между сценариями).
func (s *AuthService) BotSession(ctx context.Context, telegramUserID int64) (*AuthResult, error) {
	user, err := s.users.GetByTelegramUserID(ctx, telegramUserID)
	if err != nil {
		return nil, err
	}
	if user.IsBlocked {
		return nil, ErrUserBlocked
	}
	return s.MintSession(ctx, user, model.SessionClientBot)
}

func (s *AuthService) loginTelegramUser(ctx context.Context, tgUserID int64, tgUsername, displayName, avatarURL string) (*AuthResult, error) {
	user, err := s.users.GetByTelegramUserID(ctx, tgUserID)
	isNew := false
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		now := time.Now().UTC()
		user = &model.User{
			ID:               uuid.New().String(),
			DisplayName:      displayName,
			TelegramUsername: tgUsername,
			TelegramUserID:   &tgUserID,
			AvatarURL:        avatarURL,
			Theme:            model.ThemeDark,
			LastSeenAt:       now,
			CreatedAt:        now,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, err
		}
		isNew = true
	}
	if user.IsBlocked {
		return nil, ErrUserBlocked
	}
	res, err := s.MintSession(ctx, user, model.SessionClientWeb)
	if err != nil {
		return nil, err
	}
	res.IsNewUser = isNew
	return res, nil
}

// CreateLinkCode выпускает одноразовый код привязки Telegram для текущего пользователя.
func (s *AuthService) CreateLinkCode(ctx context.Context, userID string) (code string, expiresAt time.Time, err error) {
	code = generateLinkCode(8)
	if err := s.store.SetLinkCode(ctx, code, userID); err != nil {
		return "", time.Time{}, err
	}
	return code, time.Now().UTC().Add(storage.LinkCodeTTL), nil
}

// ConsumeLinkCode связывает Telegram-аккаунт с пользователем по коду из /start ref_<code>.
func (s *AuthService) ConsumeLinkCode(ctx context.Context, code string, tgUserID, tgChatID int64, tgUsername string) (*model.User, error) {
	userID, err := s.store.ConsumeLinkCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, ErrLinkCodeInvalid
	}
	if err := s.users.LinkTelegram(ctx, userID, tgUserID, tgChatID, tgUsername); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, userID)
}

// Logout отзывает текущую сессию. Повторный выход — no-op, не ошибка.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Revoke(ctx, sessionID)
}

func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]model.Session, error) {
	return s.sessions.ListByUserID(ctx, userID)
}

func (s *AuthService) createUserByEmail(ctx context.Context, emailAddr string) (*model.User, error) {
	now := time.Now().UTC()
	u := &model.User{
		ID:          uuid.New().String(),
		DisplayName: deriveDisplayName(emailAddr),
		Email:       emailAddr,
		Theme:       model.ThemeDark,
		LastSeenAt:  now,
		CreatedAt:   now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func deriveDisplayName(emailAddr string) string {
	at := strings.Index(emailAddr, "@")
	if at <= 0 {
		return "user_" + uuid.New().String()[:8]
	}
	local := strings.ReplaceAll(emailAddr[:at], ".", "_")
	if utf8.RuneCountInString(local) > 50 {
		local = string([]rune(local)[:50])
	}
	if utf8.RuneCountInString(local) < 2 {
		return "user_" + uuid.New().String()[:8]
	}
	return local
}

func displayNameFromTelegram(first, last, username string) string {
	name := strings.TrimSpace(first + " " + last)
	if utf8.RuneCountInString(name) >= 2 {
		if utf8.RuneCountInString(name) > 50 {
			name = string([]rune(name)[:50])
		}
		return name
	}
	if utf8.RuneCountInString(username) >= 2 {
		return username
	}
	return "user_" + uuid.New().String()[:8]
}

func generateOTP(length int) string {
	const digits = "0123456789"
	b := make([]byte, length)
	for i := range b {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		b[i] = digits[n.Int64()]
	}
	return string(b)
}

// generateLinkCode — код для deep-link /start ref_<code>: только [a-z0-9] без похожих символов.
func generateLinkCode(length int) string {
	const alphabet = "abcdefghjkmnpqrstuvwxyz23456789"
	b := make([]byte, length)
	for i := range b {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		b[i] = alphabet[n.Int64()]
	}
	return string(b)
}
