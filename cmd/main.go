package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"talkstage/backend/internal/announce"
	"talkstage/backend/internal/api/handler"
	"talkstage/backend/internal/config"
	"talkstage/backend/internal/matchmaker"
	"talkstage/backend/internal/room"
	"talkstage/backend/internal/session"
	"talkstage/backend/internal/store"
	"talkstage/backend/internal/telegram"
)

const bannerPollInterval = 10 * time.Second

func main() {
	// No .env in containers; everything comes from real env vars.
	_ = godotenv.Load()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if cfg.Env == "production" {
		log = zerolog.New(os.Stderr).With().Timestamp().Logger()
		gin.SetMode(gin.ReleaseMode)
	}
	log.Info().Str("env", cfg.Env).Msg("starting talkstage backend")

	st, db := setupStore(cfg, log)

	var announceSvc *announce.Service
	if db != nil {
		announceSvc = setupAnnouncements(db, cfg, log)
	}

	cache := session.NewMemCache()
	matchSvc := matchmaker.New(st, cfg, log)
	roomSvc := room.New(st, cfg, log)
	h := handler.New(st, cfg, log, matchSvc, roomSvc, announceSvc, cache)

	if announceSvc != nil {
		watcher := announce.NewWatcher(announceSvc, log, bannerPollInterval, h.BroadcastBanner)
		go watcher.Run(context.Background())
	}

	r := gin.Default()
	r.GET("/anonid", h.GetAnonID)
	r.GET("/ws", h.ServeWebSocket)
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	log.Info().Str("addr", server.Addr).Msg("listening")
	if err := server.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

// setupStore connects Postgres and Redis when a DSN is configured and falls
// back to the in-memory store for local development. The returned *gorm.DB
// is nil in the in-memory case.
func setupStore(cfg *config.Config, log zerolog.Logger) (store.Store, *gorm.DB) {
	if cfg.DatabaseDSN == "" {
		log.Warn().Msg("no database_dsn, running on the in-memory store")
		return store.NewMemStore(), nil
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connect failed")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatal().Err(err).Msg("redis connect failed")
	}

	st, err := store.NewPgStore(db, rdb, log)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	log.Info().Msg("postgres and redis connected")
	return st, db
}

func setupAnnouncements(db *gorm.DB, cfg *config.Config, log zerolog.Logger) *announce.Service {
	storage, err := announce.NewGormStorage(db)
	if err != nil {
		log.Fatal().Err(err).Msg("announcement storage init failed")
	}

	var notifier announce.Notifier
	if cfg.TelegramBotToken != "" && cfg.TelegramAdminChatID != 0 {
		tg, err := telegram.NewNotifier(cfg.TelegramBotToken, cfg.TelegramAdminChatID, log)
		if err != nil {
			log.Error().Err(err).Msg("telegram notifier init failed, continuing without it")
		} else {
			notifier = tg
		}
	}
	return announce.NewService(storage, notifier, cfg, log)
}
