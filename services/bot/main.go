// Telegram-бот watchRebel: long polling в разработке, webhook в production,
// плюс внутренний HTTP-листенер доставки уведомлений из API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Vidrimers/watchRebel-sub002/internal/bot"
	"github.com/Vidrimers/watchRebel-sub002/internal/config"
	"github.com/Vidrimers/watchRebel-sub002/internal/logger"
	"github.com/Vidrimers/watchRebel-sub002/internal/middleware"
	"github.com/Vidrimers/watchRebel-sub002/internal/startup"
	"github.com/Vidrimers/watchRebel-sub002/internal/storage"
	"github.com/Vidrimers/watchRebel-sub002/internal/storage/memory"
	"github.com/Vidrimers/watchRebel-sub002/internal/telegram"
)

func main() {
	logger.SetPrefix("bot")
	logger.Info("запуск бота")

	cfg := config.Load()
	if cfg.Telegram.BotToken == "" {
		logger.Errorf("TELEGRAM_BOT_TOKEN не задан")
		os.Exit(1)
	}

	var store storage.Store
	if cfg.Redis.URL != "" {
		store = startup.ConnectRedisWithRetry(cfg.Redis.URL, 30*time.Second)
	} else {
		logger.Info("REDIS_URL не задан, состояние диалогов в памяти")
		store = memory.New()
	}
	defer store.Close()

	tg := telegram.NewClient(cfg.Telegram.BotToken, "")

	startCtx, startCancel := context.WithTimeout(context.Background(), 10*time.Second)
	me, err := tg.GetMe(startCtx)
	startCancel()
	if err != nil {
		logger.Errorf("getMe: %v", err)
		os.Exit(1)
	}
	logger.Infof("бот @%s (id %d)", me.Username, me.ID)

	b := bot.New(tg, cfg.APIURL, os.Getenv("INTERNAL_API_SECRET"), store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Внутренний листенер: API доставляет сюда уведомления для привязанных
	// Telegram-пользователей, плюс webhook-эндпоинт в webhook-режиме.
	updates := make(chan telegram.Update, 128)
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalOnly)
		r.Post("/internal/notify", notifyHandler(tg))
	})
	useWebhook := os.Getenv("APP_ENV") == "production" && cfg.Telegram.WebhookURL != ""
	if useWebhook {
		r.Method(http.MethodPost, "/webhook", telegram.WebhookHandler(updates))
	}

	addr := envStr("BOT_SERVER_ADDR", ":8083")
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("внутренний листенер на %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go func() {
		var err error
		if useWebhook {
			logger.Infof("режим webhook: %s", cfg.Telegram.WebhookURL)
			err = b.RunWebhook(ctx, cfg.Telegram.WebhookURL, updates)
		} else {
			logger.Info("режим long polling")
			err = b.RunLongPoll(ctx)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info("получен сигнал остановки")
	case err := <-errCh:
		logger.Errorf("фатальная ошибка: %v", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("остановка листенера: %v", err)
	}
	logger.Info("бот остановлен")
}

// notifyHandler принимает уведомления из API и шлёт их в Telegram.
func notifyHandler(tg *telegram.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TelegramChatID int64  `json:"telegram_chat_id"`
			Title          string `json:"title"`
			Body           string `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TelegramChatID == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		text := req.Body
		if req.Title != "" {
			text = req.Title + "\n" + req.Body
		}
		if _, err := tg.SendMessage(r.Context(), req.TelegramChatID, text, nil); err != nil {
			logger.Errorf("notify: чат %d: %v", req.TelegramChatID, err)
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
