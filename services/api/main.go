package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Vidrimers/watchRebel-sub002/internal/config"
	"github.com/Vidrimers/watchRebel-sub002/internal/email"
	"github.com/Vidrimers/watchRebel-sub002/internal/fileserver"
	"github.com/Vidrimers/watchRebel-sub002/internal/handler"
	"github.com/Vidrimers/watchRebel-sub002/internal/logger"
	"github.com/Vidrimers/watchRebel-sub002/internal/middleware"
	"github.com/Vidrimers/watchRebel-sub002/internal/notify"
	"github.com/Vidrimers/watchRebel-sub002/internal/push"
	"github.com/Vidrimers/watchRebel-sub002/internal/repository"
	"github.com/Vidrimers/watchRebel-sub002/internal/service"
	"github.com/Vidrimers/watchRebel-sub002/internal/startup"
	"github.com/Vidrimers/watchRebel-sub002/internal/storage"
	"github.com/Vidrimers/watchRebel-sub002/internal/storage/memory"
	"github.com/Vidrimers/watchRebel-sub002/internal/ws"
	"github.com/Vidrimers/watchRebel-sub002/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second)
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}

	userRepo := repository.NewUserRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	friendRepo := repository.NewFriendRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	postRepo := repository.NewPostRepository(pool)
	notifRepo := repository.NewNotificationRepository(pool)
	listRepo := repository.NewListRepository(pool)
	watchlistRepo := repository.NewWatchlistRepository(pool)
	progressRepo := repository.NewProgressRepository(pool)

	// После рестарта никто не в сети.
	resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := userRepo.ResetOnline(resetCtx); err != nil {
		logger.Errorf("reset online status: %v", err)
	}
	resetCancel()
	logger.Info("database connected, migrations applied")

	var store storage.Store
	if cfg.Redis.URL != "" {
		store = startup.ConnectRedisWithRetry(cfg.Redis.URL, 30*time.Second)
	} else {
		logger.Info("REDIS_URL not set, using in-memory storage")
		store = memory.New()
	}
	defer store.Close()

	mailer := email.NewSender(&cfg.SMTP)
	authSvc := service.NewAuthService(userRepo, sessionRepo, store, mailer, cfg.Telegram.BotToken)
	pushClient := push.NewClient(cfg.PushServiceURL)

	hub := ws.NewHub(wsAuth(sessionRepo, userRepo), userRepo, friendRepo, cfg.MaxWSConnections, cfg.WSSendBufferSize)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	notifier := notify.New(notifRepo, userRepo, hub, pushClient, cfg.BotNotifyURL)
	files := fileserver.New(cfg.UploadDir, cfg.MaxUploadSize, cfg.MaxUploadFiles)
	sendLimiter := middleware.NewSendLimiter(30, 5)

	authH := handler.NewAuthHandler(authSvc, userRepo)
	userH := handler.NewUserHandler(userRepo)
	friendH := handler.NewFriendHandler(friendRepo, userRepo, notifier)
	msgH := handler.NewMessageHandler(msgRepo, userRepo, hub, notifier, sendLimiter)
	notifH := handler.NewNotificationHandler(notifRepo, postRepo, userRepo)
	wallH := handler.NewWallHandler(postRepo, userRepo, notifier)
	listH := handler.NewListHandler(listRepo)
	watchlistH := handler.NewWatchlistHandler(watchlistRepo)
	progressH := handler.NewProgressHandler(progressRepo)
	fileH := handler.NewFileHandler(files)
	pushH := handler.NewPushHandler(pushClient)
	configH := handler.NewConfigHandler(cfg)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)
	adminH := handler.NewAdminHandler(userRepo, sessionRepo)
	botH := handler.NewBotHandler(authSvc)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket — иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/config/push", configH.GetPushConfig)
	r.Get("/api/files/{name}", fileH.Serve)

	r.Post("/api/auth/request-code", authH.RequestCode)
	r.Post("/api/auth/verify-code", authH.VerifyCode)
	r.Post("/api/auth/telegram", authH.Telegram)

	// WebSocket: апгрейд без авторизации, auth-кадр внутри соединения.
	r.Get("/ws", wsH.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(sessionRepo, userRepo))

		r.Get("/api/auth/me", authH.Me)
		r.Post("/api/auth/logout", authH.Logout)
		r.Get("/api/auth/sessions", authH.Sessions)
		r.Post("/api/telegram/link-code", authH.LinkCode)

		r.Get("/api/users/search", userH.Search)
		r.Patch("/api/users/me", userH.UpdateMe)
		r.Get("/api/users/{id}", userH.Get)
		r.Get("/api/users/{id}/wall", wallH.Wall)

		r.Get("/api/friends", friendH.Overview)
		r.Post("/api/friends/requests", friendH.CreateRequest)
		r.Post("/api/friends/requests/{id}/accept", friendH.Accept)
		r.Delete("/api/friends/{id}", friendH.Delete)

		r.Get("/api/conversations", msgH.Conversations)
		r.Get("/api/messages", msgH.Page)
		r.Post("/api/messages", msgH.Send)
		r.Post("/api/messages/read", msgH.MarkRead)
		r.Post("/api/files/upload", fileH.Upload)

		r.Get("/api/notifications", notifH.List)
		r.Get("/api/notifications/unread-count", notifH.UnreadCount)
		r.Post("/api/notifications/read-all", notifH.MarkAllRead)
		r.Post("/api/notifications/{id}/read", notifH.MarkRead)
		r.Get("/api/notifications/{id}/target", notifH.Target)

		r.Post("/api/wall/posts", wallH.CreatePost)
		r.Get("/api/wall/feed", wallH.Feed)
		r.Delete("/api/wall/posts/{id}", wallH.DeletePost)
		r.Post("/api/wall/posts/{id}/reactions", wallH.AddReaction)
		r.Delete("/api/wall/posts/{id}/reactions/{emoji}", wallH.RemoveReaction)

		r.Get("/api/lists", listH.List)
		r.Post("/api/lists", listH.Create)
		r.Get("/api/lists/{id}", listH.Get)
		r.Put("/api/lists/{id}", listH.Rename)
		r.Delete("/api/lists/{id}", listH.Delete)
		r.Post("/api/lists/{id}/items", listH.AddItem)
		r.Delete("/api/lists/{id}/items/{itemId}", listH.RemoveItem)

		r.Get("/api/watchlist", watchlistH.List)
		r.Post("/api/watchlist", watchlistH.Add)
		r.Delete("/api/watchlist/{mediaType}/{tmdbId}", watchlistH.Remove)

		r.Get("/api/series/{tmdbId}/progress", progressH.Series)
		r.Put("/api/series/{tmdbId}/seasons/{season}/episodes/{episode}", progressH.SetEpisode)

		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Get("/api/admin/users", adminH.ListUsers)
			r.Put("/api/admin/users/{id}/block", adminH.Block)
			r.Put("/api/admin/users/{id}/unblock", adminH.Unblock)
			r.Put("/api/admin/users/{id}/post-ban", adminH.PostBan)
			r.Delete("/api/admin/users/{id}", adminH.Delete)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalOnly)
		r.Post("/internal/bot/sessions", botH.Session)
		r.Post("/internal/bot/link", botH.Link)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

// wsAuth проверяет bearer-токен из auth-кадра WebSocket: живая сессия,
// незаблокированный пользователь.
func wsAuth(sessions *repository.SessionRepository, users *repository.UserRepository) ws.AuthFunc {
	return func(ctx context.Context, token string) (string, error) {
		sess, err := sessions.GetByTokenHash(ctx, service.HashToken(token))
		if err != nil {
			return "", err
		}
		user, err := users.GetByID(ctx, sess.UserID)
		if err != nil {
			return "", err
		}
		if user.IsBlocked {
			return "", service.ErrUserBlocked
		}
		if err := sessions.UpdateLastSeen(ctx, sess.ID, time.Now().UTC()); err != nil {
			logger.Errorf("ws auth last seen: %v", err)
		}
		return user.ID, nil
	}
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("list migrations: %v", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "watchrebel"
		password = "watchrebel_secret"
		database = "watchrebel"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
