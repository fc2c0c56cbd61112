package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/quillchat/quill/internal/ai"
	"github.com/quillchat/quill/internal/config"
	"github.com/quillchat/quill/internal/db"
	"github.com/quillchat/quill/internal/handlers"
	"github.com/quillchat/quill/internal/janitor"
	"github.com/quillchat/quill/internal/message"
	"github.com/quillchat/quill/internal/models"
	"github.com/quillchat/quill/internal/pipeline"
	"github.com/quillchat/quill/internal/prompts"
	"github.com/quillchat/quill/internal/providers"
	"github.com/quillchat/quill/internal/rag"
	"github.com/quillchat/quill/internal/server"
	"github.com/quillchat/quill/internal/storage/localfs"
	"github.com/quillchat/quill/internal/users"
	"github.com/quillchat/quill/internal/websearch"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideFileStore,
			message.NewService,
			providers.NewService,
			models.NewService,
			prompts.NewService,
			users.NewService,
			provideSearchService,
			provideRAGService,
			provideAIService,
			provideSorter,
			provideQueryGenerator,
			providePreprocessor,
			provideClassifier,
			provideContextLoader,
			provideHandlerRegistry,
			provideProcessor,
			provideAgainProcessor,
			provideJanitor,
			handlers.NewPingHandler,
			provideAuthHandler,
			provideMessageHandler,
			provideServer,
		),
		fx.Invoke(
			startJanitor,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideFileStore(cfg config.Config) (*localfs.Provider, error) {
	provider, err := localfs.New(cfg.Storage.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("init file storage: %w", err)
	}
	return provider, nil
}

func provideSearchService(log *slog.Logger, cfg config.Config, pool *pgxpool.Pool) *websearch.Service {
	return websearch.NewService(log, cfg.Search, pool)
}

func provideRAGService(log *slog.Logger, cfg config.Config, modelsService *models.Service) (*rag.Service, error) {
	return rag.NewService(log, cfg.Qdrant, rag.NewHTTPEmbedder(modelsService))
}

func provideAIService(log *slog.Logger, modelsService *models.Service, files *localfs.Provider) *ai.Service {
	return ai.NewService(log, modelsService, files)
}

func provideSorter(log *slog.Logger, aiService *ai.Service, modelsService *models.Service) *pipeline.AISorter {
	return pipeline.NewAISorter(log, aiService, modelsService)
}

func provideQueryGenerator(log *slog.Logger, sorter *pipeline.AISorter) *websearch.QueryGenerator {
	return websearch.NewQueryGenerator(log, sorter)
}

func providePreprocessor(log *slog.Logger) *pipeline.Preprocessor {
	return pipeline.NewPreprocessor(log)
}

func provideClassifier(log *slog.Logger, messageService *message.Service, modelsService *models.Service, sorter *pipeline.AISorter) *pipeline.Classifier {
	return pipeline.NewClassifier(log, messageService, modelsService, sorter)
}

func provideContextLoader(log *slog.Logger, cfg config.Config, ragService *rag.Service, searchService *websearch.Service, queryGen *websearch.QueryGenerator) *pipeline.ContextLoader {
	return pipeline.NewContextLoader(log, cfg.Pipeline, ragService, searchService, queryGen)
}

func provideHandlerRegistry(log *slog.Logger, aiService *ai.Service, modelsService *models.Service, promptsService *prompts.Service, messageService *message.Service, files *localfs.Provider) *pipeline.Registry {
	chat := pipeline.NewChatHandler(log, aiService, modelsService, messageService, files)
	media := pipeline.NewMediaHandler(log, aiService, modelsService, promptsService, messageService, files)
	file := pipeline.NewFileHandler(log, aiService, files)
	return pipeline.NewRegistry(chat, media, file)
}

func provideProcessor(log *slog.Logger, cfg config.Config, pre *pipeline.Preprocessor, classifier *pipeline.Classifier, registry *pipeline.Registry, messageService *message.Service, modelsService *models.Service, promptsService *prompts.Service, loader *pipeline.ContextLoader) *pipeline.Processor {
	return pipeline.NewProcessor(log, cfg.Pipeline, pre, classifier, registry, messageService, modelsService, promptsService, loader)
}

func provideAgainProcessor(log *slog.Logger, messageService *message.Service, processor *pipeline.Processor) *pipeline.AgainProcessor {
	return pipeline.NewAgainProcessor(log, messageService, processor)
}

func provideJanitor(log *slog.Logger, cfg config.Config, messageService *message.Service, searchService *websearch.Service) *janitor.Service {
	return janitor.NewService(log, cfg.Janitor, messageService, searchService)
}

func provideAuthHandler(log *slog.Logger, cfg config.Config, userService *users.Service) (*handlers.AuthHandler, error) {
	expiresIn, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("parse jwt_expires_in: %w", err)
	}
	return handlers.NewAuthHandler(log, userService, cfg.Auth.JWTSecret, expiresIn), nil
}

func provideMessageHandler(log *slog.Logger, messageService *message.Service, processor *pipeline.Processor, again *pipeline.AgainProcessor) *handlers.MessageHandler {
	return handlers.NewMessageHandler(log, messageService, processor, again)
}

func provideServer(cfg config.Config, pingHandler *handlers.PingHandler, authHandler *handlers.AuthHandler, messageHandler *handlers.MessageHandler) *server.Server {
	return server.NewServer(cfg.Server.Addr, cfg.Auth.JWTSecret, pingHandler, authHandler, messageHandler)
}

func startJanitor(lc fx.Lifecycle, svc *janitor.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return svc.Start() },
		OnStop:  func(ctx context.Context) error { svc.Stop(); return nil },
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
			return srv.Shutdown(ctx)
		},
	})
}
