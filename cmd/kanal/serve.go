package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/kanalbot/kanal/internal/channel"
	"github.com/kanalbot/kanal/internal/channel/adapters/emailout"
	"github.com/kanalbot/kanal/internal/channel/adapters/instagram"
	"github.com/kanalbot/kanal/internal/channel/adapters/whatsapp"
	"github.com/kanalbot/kanal/internal/chatbot"
	"github.com/kanalbot/kanal/internal/config"
	"github.com/kanalbot/kanal/internal/conversation"
	"github.com/kanalbot/kanal/internal/db"
	"github.com/kanalbot/kanal/internal/dedup"
	"github.com/kanalbot/kanal/internal/handlers"
	"github.com/kanalbot/kanal/internal/logger"
	"github.com/kanalbot/kanal/internal/mailer"
	"github.com/kanalbot/kanal/internal/orchestrator"
	"github.com/kanalbot/kanal/internal/server"
	"github.com/kanalbot/kanal/internal/sweeper"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideConversationStore,
			provideTxStore,
			provideResolver,
			provideDedupStore,
			provideChatbotClient,
			provideChannelRegistry,
			provideOrchestrator,
			provideSweeper,
			provideMailer,
			provideServerHandler(providePingHandler),
			provideServerHandler(provideWhatsAppWebhookHandler),
			provideServerHandler(provideInstagramWebhookHandler),
			provideServerHandler(provideProcessHandler),
			provideServerHandler(provideDeliverHandler),
			provideServer,
		),
		fx.Invoke(
			startSweeper,
			startMailer,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	path := cfgPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	conn, err := db.Connect(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideConversationStore(log *slog.Logger, conn *pgxpool.Pool) *conversation.Store {
	return conversation.NewStore(log, conn)
}

func provideTxStore(log *slog.Logger, conn *pgxpool.Pool) *conversation.TxStore {
	return conversation.NewTxStore(log, conn)
}

func provideResolver(log *slog.Logger, store *conversation.Store) *conversation.Resolver {
	return conversation.NewResolver(log, store)
}

func provideDedupStore(log *slog.Logger, conn *pgxpool.Pool) *dedup.Store {
	return dedup.NewStore(log, conn)
}

func provideChatbotClient(log *slog.Logger, cfg config.Config) *chatbot.Client {
	return chatbot.NewClient(log, cfg.Chatbot)
}

func provideChannelRegistry(log *slog.Logger, cfg config.Config) *channel.Registry {
	registry := channel.NewRegistry()
	if cfg.WhatsApp.Configured() {
		registry.MustRegister(whatsapp.New(log, cfg.WhatsApp))
	}
	if cfg.Instagram.Configured() {
		registry.MustRegister(instagram.New(log, cfg.Instagram))
	}
	if cfg.Email.OutboundConfigured() {
		registry.MustRegister(emailout.New(log, cfg.Email))
	}
	return registry
}

func provideOrchestrator(log *slog.Logger, registry *channel.Registry, resolver *conversation.Resolver, store *conversation.Store, bot *chatbot.Client) *orchestrator.Orchestrator {
	return orchestrator.New(log, registry, resolver, store, bot)
}

func provideSweeper(log *slog.Logger, cfg config.Config, txStore *conversation.TxStore, registry *channel.Registry, bot *chatbot.Client) *sweeper.Sweeper {
	return sweeper.New(log, cfg.Session, txStore, registry, bot)
}

func provideMailer(log *slog.Logger, cfg config.Config, dedupStore *dedup.Store, orch *orchestrator.Orchestrator) *mailer.Manager {
	return mailer.NewManager(log, cfg.Email, dedupStore, orch.Process)
}

func providePingHandler(log *slog.Logger) *handlers.PingHandler {
	return handlers.NewPingHandler(log)
}

func provideWhatsAppWebhookHandler(log *slog.Logger, cfg config.Config, dedupStore *dedup.Store, orch *orchestrator.Orchestrator) *handlers.WebhookHandler {
	return handlers.NewWhatsAppWebhookHandler(log, cfg.WhatsApp.VerifyToken, dedupStore, orch)
}

func provideInstagramWebhookHandler(log *slog.Logger, cfg config.Config, dedupStore *dedup.Store, orch *orchestrator.Orchestrator) *handlers.WebhookHandler {
	return handlers.NewInstagramWebhookHandler(log, cfg.Instagram.VerifyToken, dedupStore, orch)
}

func provideProcessHandler(log *slog.Logger, orch *orchestrator.Orchestrator) *handlers.ProcessHandler {
	return handlers.NewProcessHandler(log, orch)
}

func provideDeliverHandler(log *slog.Logger, orch *orchestrator.Orchestrator) *handlers.DeliverHandler {
	return handlers.NewDeliverHandler(log, orch)
}

type serverParams struct {
	fx.In
	Logger   *slog.Logger
	Config   config.Config
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Server.APIKey, params.Handlers)
}

func startSweeper(lc fx.Lifecycle, sw *sweeper.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return sw.Start() },
		OnStop:  func(ctx context.Context) error { sw.Stop(); return nil },
	})
}

func startMailer(lc fx.Lifecycle, logger *slog.Logger, cfg config.Config, mgr *mailer.Manager) {
	if !cfg.Email.IngestConfigured() {
		logger.Info("email ingest not configured, skipping")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return mgr.Start(context.Background()) },
		OnStop:  func(ctx context.Context) error { mgr.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
