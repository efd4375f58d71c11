package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/networkup/chat/internal/config"
	"github.com/networkup/chat/internal/handler"
	"github.com/networkup/chat/internal/logger"
	"github.com/networkup/chat/internal/push"
	"github.com/networkup/chat/internal/relay"
	"github.com/networkup/chat/internal/repository"
	"github.com/networkup/chat/internal/repository/memory"
	"github.com/networkup/chat/internal/service"
	"github.com/networkup/chat/internal/startup"
	"github.com/networkup/chat/internal/storage"
	submemory "github.com/networkup/chat/internal/storage/memory"
	subredis "github.com/networkup/chat/internal/storage/redis"
	"github.com/networkup/chat/internal/supervisor"
	"github.com/networkup/chat/internal/ws"
	"github.com/networkup/chat/migrations"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const connectWait = 60 * time.Second

var devMode bool

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&devMode, "dev", false, "start with embedded PostgreSQL (no external DB required)")
	return cmd
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	initLogger(cfg)
	logger.Info("starting chat API")

	if devMode {
		db, err := startEmbeddedPostgres(cfg)
		if err != nil {
			return err
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := db.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	svc, closeStore, err := openChatService(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var rdb *redis.Client
	if cfg.Relay == config.RelayRedis || (cfg.Push.Enabled && cfg.Store == config.StorePostgres) {
		rdb, err = startup.ConnectRedis(ctx, cfg.Redis.URL, connectWait)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	var rel relay.Relay = relay.NewLocal()
	if cfg.Relay == config.RelayRedis {
		rel = relay.NewRedis(rdb, relay.DefaultChannel)
	}

	var subs storage.SubscriptionStore = submemory.New()
	if rdb != nil {
		subs = subredis.New(rdb)
	}
	defer subs.Close()

	var keys *push.VAPIDKeys
	if cfg.Push.Enabled {
		if keys, err = push.EnsureVAPIDKeys(cfg.Push.VAPIDKeysFile); err != nil {
			logger.Errorf("push: VAPID-ключи недоступны, push отключены: %v", err)
			keys = nil
		}
	}
	notifier := push.NewNotifier(subs, keys, cfg.Push.Subscriber)

	hub := ws.NewHub(svc, ws.Options{
		MaxConns:       cfg.WS.MaxConnections,
		SendBufferSize: cfg.WS.SendBufferSize,
		WriteWait:      cfg.WS.WriteTimeout,
		PongWait:       cfg.WS.PongTimeout,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		OpTimeout:      cfg.WS.OpTimeout,
		Relay:          rel,
		Push:           notifier,
	})

	router := newRouter(cfg, routes{
		conversations: handler.NewConversationHandler(svc, hub),
		identities:    handler.NewIdentityHandler(svc),
		push:          handler.NewPushHandler(notifier),
		config:        handler.NewConfigHandler(notifier),
		ws:            handler.NewWSHandler(hub, cfg.CORSAllowedOrigins),
	})
	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddRealtimeService(hub)
	tree.AddRealtimeService(rel)
	tree.AddAPIService(supervisor.NewHTTPService(srv, 10*time.Second))

	logger.Log().Info().
		Str("addr", cfg.ServerAddr).
		Str("store", cfg.Store).
		Str("relay", cfg.Relay).
		Bool("push", notifier.Enabled()).
		Msg("chat API ready")

	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		logger.Errorf("services did not stop in time: %v", report)
	}
	logger.Info("chat API stopped")
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// openChatService собирает сервис поверх Postgres (с миграциями) или in-memory хранилища.
func openChatService(ctx context.Context, cfg *config.Config) (*service.ChatService, func(), error) {
	if cfg.Store == config.StoreMemory {
		logger.Info("store: in-memory (данные не сохраняются)")
		store := memory.New()
		return service.NewChatService(store.Conversations(), store.Messages(), store.Identities()), func() {}, nil
	}
	pool, err := startup.ConnectDB(ctx, cfg, connectWait)
	if err != nil {
		return nil, nil, err
	}
	if err := startup.RunMigrations(ctx, pool, migrations.Files); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("database connected, migrations applied")
	svc := service.NewChatService(
		repository.NewConversationRepository(pool),
		repository.NewMessageRepository(pool),
		repository.NewIdentityRepository(pool),
	)
	return svc, pool.Close, nil
}
