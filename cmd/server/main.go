package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logger"
	"github.com/Tyrowin/roomchat/internal/presence"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
	"github.com/Tyrowin/roomchat/internal/store/memory"
	"github.com/Tyrowin/roomchat/internal/store/postgres"
)

func main() {
	cfg, err := server.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *server.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	observers := []server.PresenceObserver{chat.NewLastSeenRecorder(st, log)}
	var lastSeen server.LastSeenSource
	if cfg.RedisAddr != "" {
		pres, err := presence.Dial(ctx, presence.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.PresenceTTL,
		}, log.Named("presence"))
		if err != nil {
			return err
		}
		defer func() { _ = pres.Close() }()
		observers = append(observers, pres)
		lastSeen = pres
		log.Info("presence mirror enabled", zap.String("addr", cfg.RedisAddr))
	}

	if cfg.JWTSecret == "change-me" {
		log.Warn("JWT_SECRET is the built-in default; set it outside development")
	}
	if !cfg.JoinRequiresParticipant {
		log.Info("join_chat does not check chat participation (JOIN_REQUIRES_PARTICIPANT=false)")
	}

	hub := server.NewHub(cfg, log.Named("hub"), observers...)
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	chats := chat.NewService(st, hub, log.Named("chat"))
	srv := server.New(cfg, server.Deps{
		Hub:      hub,
		Accounts: chat.NewAccounts(st, tokens),
		Chats:    chats,
		Presence: lastSeen,
		Log:      log.Named("server"),
	})

	gin.SetMode(gin.ReleaseMode)
	httpServer := server.CreateServer(cfg.Port, srv.SetupRoutes())

	errCh := make(chan error, 1)
	go func() { errCh <- server.StartServer(httpServer, log) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	return server.ShutdownServer(httpServer, hub, cfg.ShutdownTimeout)
}

func openStore(ctx context.Context, cfg *server.Config, log *zap.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Info("DATABASE_URL not set, using in-memory store")
		return memory.New(), func() {}, nil
	}
	pg, err := postgres.Open(ctx, cfg.DatabaseURL, log.Named("postgres"))
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
