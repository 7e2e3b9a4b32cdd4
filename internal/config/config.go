package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Vidrimers/watchRebel-sub002/internal/logger"
)

// loadEnv подхватывает .env только вне production (в контейнере/prod конфиг только из env).
// Ищет файл в текущем каталоге и до пяти уровней вверх (запуск из services/<name>).
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	path := ".env"
	for i := 0; i < 5; i++ {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				logger.Errorf("config: ошибка чтения %s: %v", path, err)
			}
			return
		}
		path = "../" + path
	}
}

// RedisConfig — Redis (OTP, link-коды, состояние бота, кеш сессий, push-подписки).
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SMTPConfig — SMTP для отправки OTP-кодов входа.
type SMTPConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
	UseTLS    bool   `yaml:"use_tls"`
}

// DatabaseConfig — настройки подключения к БД.
type DatabaseConfig struct {
	URL            string `yaml:"database_url"`
	MaxConnections int    `yaml:"db_max_connections"`
}

// TelegramConfig — токен бота и режим доставки обновлений.
// WebhookURL пустой — long polling (разработка); задан — webhook (production).
type TelegramConfig struct {
	BotToken   string `yaml:"-"`
	WebhookURL string `yaml:"-"`
}

// Config содержит настройки приложения, БД и внешних сервисов.
// Приоритет: переменные окружения > YAML-файл > значения по умолчанию.
type Config struct {
	// Сервер
	ServerAddr   string        `yaml:"server_addr"`
	ReadTimeout  time.Duration `yaml:"-"`
	WriteTimeout time.Duration `yaml:"-"`
	IdleTimeout  time.Duration `yaml:"-"`

	// PublicURL — внешний адрес API (ссылки в письмах и уведомлениях бота).
	PublicURL string `yaml:"public_url"`

	// База данных
	Database DatabaseConfig `yaml:"-"`

	// Вложения сообщений
	UploadDir      string `yaml:"upload_dir"`
	MaxUploadSize  int64  `yaml:"-"` // на один файл
	MaxUploadFiles int    `yaml:"max_upload_files"`

	// WebSocket
	MaxWSConnections int `yaml:"max_ws_connections"`
	WSSendBufferSize int `yaml:"ws_send_buffer_size"`

	// CORS
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"`

	// Логирование
	LogLevel string `yaml:"log_level"`

	// Redis и SMTP
	Redis RedisConfig `yaml:"-"`
	SMTP  SMTPConfig  `yaml:"-"`

	// Telegram
	Telegram TelegramConfig `yaml:"-"`

	// APIURL — адрес API для бота (клиент SDK).
	APIURL string `yaml:"-"`

	// PushServiceURL — URL микросервиса пуш-уведомлений. Пустой — пуши отключены.
	PushServiceURL string `yaml:"-"`
	// PushVAPIDPublicKey — публичный VAPID-ключ для подписки в браузере (отдаётся фронту).
	PushVAPIDPublicKey string `yaml:"-"`

	// BotNotifyURL — внутренний адрес бота для доставки уведомлений в Telegram. Пустой — отключено.
	BotNotifyURL string `yaml:"-"`
}

// yamlConfig — структура YAML-файла config/app.yaml.
type yamlConfig struct {
	ServerAddr         string `yaml:"server_addr"`
	PublicURL          string `yaml:"public_url"`
	ReadTimeout        int    `yaml:"read_timeout"`
	WriteTimeout       int    `yaml:"write_timeout"`
	IdleTimeout        int    `yaml:"idle_timeout"`
	UploadDir          string `yaml:"upload_dir"`
	MaxUploadSizeMB    int    `yaml:"max_upload_size_mb"`
	MaxUploadFiles     int    `yaml:"max_upload_files"`
	MaxWSConnections   int    `yaml:"max_ws_connections"`
	WSSendBufferSize   int    `yaml:"ws_send_buffer_size"`
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"`
	LogLevel           string `yaml:"log_level"`
}

// Load собирает конфигурацию: .env > YAML > значения по умолчанию, env поверх всего.
func Load() *Config {
	loadEnv()

	yc := yamlConfig{
		ServerAddr:         ":8080",
		ReadTimeout:        15,
		WriteTimeout:       30,
		IdleTimeout:        60,
		UploadDir:          "./uploads",
		MaxUploadSizeMB:    50,
		MaxUploadFiles:     10,
		MaxWSConnections:   10000,
		WSSendBufferSize:   256,
		CORSAllowedOrigins: "*",
		LogLevel:           "info",
	}
	for _, path := range []string{os.Getenv("APP_CONFIG_PATH"), "config/app.yaml"} {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: ошибка парсинга %s: %v (используются значения по умолчанию)", path, err)
		} else {
			logger.Infof("config: загружен %s", path)
		}
		break
	}

	addr := envStr("SERVER_ADDR", yc.ServerAddr)
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	dbMaxConn := envInt("DB_MAX_CONNECTIONS", 20)
	if dbMaxConn <= 0 {
		dbMaxConn = 20
	}

	smtpCfg := SMTPConfig{
		Host:      envStr("SMTP_HOST", "smtp.yandex.ru"),
		Port:      envInt("SMTP_PORT", 587),
		Username:  envStr("SMTP_USERNAME", ""),
		Password:  envStr("SMTP_PASSWORD", ""),
		FromEmail: envStr("SMTP_FROM_EMAIL", ""),
		FromName:  envStr("SMTP_FROM_NAME", "watchRebel"),
		UseTLS:    true,
	}

	cfg := &Config{
		ServerAddr:         addr,
		PublicURL:          envStr("PUBLIC_URL", yc.PublicURL),
		ReadTimeout:        time.Duration(envInt("READ_TIMEOUT", yc.ReadTimeout)) * time.Second,
		WriteTimeout:       time.Duration(envInt("WRITE_TIMEOUT", yc.WriteTimeout)) * time.Second,
		IdleTimeout:        time.Duration(envInt("IDLE_TIMEOUT", yc.IdleTimeout)) * time.Second,
		Database:           DatabaseConfig{URL: envStr("DATABASE_URL", ""), MaxConnections: dbMaxConn},
		UploadDir:          envStr("UPLOAD_DIR", yc.UploadDir),
		MaxUploadSize:      int64(envInt("MAX_UPLOAD_SIZE_MB", yc.MaxUploadSizeMB)) << 20,
		MaxUploadFiles:     envInt("MAX_UPLOAD_FILES", yc.MaxUploadFiles),
		MaxWSConnections:   envInt("MAX_WS_CONNECTIONS", yc.MaxWSConnections),
		WSSendBufferSize:   envInt("WS_SEND_BUFFER_SIZE", yc.WSSendBufferSize),
		CORSAllowedOrigins: envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
		LogLevel:           envStr("LOG_LEVEL", yc.LogLevel),
		Redis:              RedisConfig{URL: envStr("REDIS_URL", "")},
		SMTP:               smtpCfg,
		Telegram: TelegramConfig{
			BotToken:   envStr("TELEGRAM_BOT_TOKEN", ""),
			WebhookURL: envStr("WEBHOOK_URL", ""),
		},
		APIURL:             envStr("API_URL", "http://localhost:8080"),
		PushServiceURL:     envStr("PUSH_SERVICE_URL", ""),
		PushVAPIDPublicKey: envStr("PUSH_VAPID_PUBLIC_KEY", ""),
		BotNotifyURL:       envStr("BOT_NOTIFY_URL", ""),
	}

	if os.Getenv("APP_ENV") == "production" {
		if cfg.CORSAllowedOrigins == "" || cfg.CORSAllowedOrigins == "*" {
			logger.Errorf("config: в production задайте CORS_ALLOWED_ORIGINS (явный список origins, не *)")
		}
		if cfg.Database.URL == "" {
			logger.Errorf("config: в production задайте DATABASE_URL")
			os.Exit(1)
		}
	}

	return cfg
}

// envStr возвращает значение переменной окружения или fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt возвращает числовое значение переменной окружения или fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
