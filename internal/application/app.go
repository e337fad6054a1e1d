package application

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/llm-council/llm-council/gateway/internal/application/usecase"
	"github.com/llm-council/llm-council/gateway/internal/domain/repository"
	"github.com/llm-council/llm-council/gateway/internal/domain/service"
	"github.com/llm-council/llm-council/gateway/internal/infrastructure/config"
	"github.com/llm-council/llm-council/gateway/internal/infrastructure/llm"
	_ "github.com/llm-council/llm-council/gateway/internal/infrastructure/llm/local"  // register local backend factory
	_ "github.com/llm-council/llm-council/gateway/internal/infrastructure/llm/remote" // register remote backend factory
	"github.com/llm-council/llm-council/gateway/internal/infrastructure/persistence"
	httpServer "github.com/llm-council/llm-council/gateway/internal/interfaces/http"
	"github.com/llm-council/llm-council/gateway/pkg/safego"
)

// App is the dependency injection container for the gateway.
type App struct {
	settings *config.Settings
	logger   *zap.Logger
	db       *gorm.DB

	store       *config.Store
	stopWatch   func()
	modelClient service.ModelClient

	conversationRepo repository.ConversationRepository
	engine           *service.CouncilEngine
	chatUseCase      *usecase.CouncilChatUseCase

	httpServer *httpServer.Server
}

// NewApp assembles the gateway from settings.
func NewApp(settings *config.Settings, logger *zap.Logger) (*App, error) {
	app := &App{
		settings: settings,
		logger:   logger,
	}

	if err := app.initConfigStore(); err != nil {
		return nil, fmt.Errorf("failed to init config store: %w", err)
	}
	if err := app.initBackendClient(); err != nil {
		return nil, fmt.Errorf("failed to init backend client: %w", err)
	}
	if err := app.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}
	app.initServices()
	app.initInterfaces()

	return app, nil
}

func (app *App) initConfigStore() error {
	app.store = config.NewStoreFromSettings(app.settings, app.logger)

	stop, err := app.store.Watch()
	if err != nil {
		// The gateway still works without hot reload of the overlay file.
		app.logger.Warn("Config file watch unavailable", zap.Error(err))
		return nil
	}
	app.stopWatch = stop
	return nil
}

func (app *App) initBackendClient() error {
	// The backend mode is fixed at startup; runtime overlay changes to it
	// take effect on restart. Roster changes apply immediately.
	client, err := llm.CreateClient(app.settings.BackendMode, llm.ClientConfig{
		BaseURL: app.settings.BackendBaseURL,
		APIKey:  app.settings.BackendAPIKey,
		Timeout: app.settings.ModelTimeout,
	}, app.logger)
	if err != nil {
		return err
	}
	app.modelClient = client

	// Roster updates re-warm the new members so the next run is fast.
	if app.settings.BackendMode == config.BackendLocal {
		app.store.SetOnUpdate(func(o config.Overlay) {
			models := append([]string(nil), o.CouncilModels...)
			models = append(models, o.ChairmanModel)
			llm.PreloadModels(context.Background(), app.modelClient, models, app.logger)
		})
	}

	app.logger.Info("Backend client initialized",
		zap.String("mode", app.settings.BackendMode),
		zap.String("base_url", app.settings.BackendBaseURL),
	)
	return nil
}

func (app *App) initRepositories() error {
	if !app.settings.EnableDBStorage {
		app.logger.Info("Database storage disabled, conversations held in memory")
		app.conversationRepo = persistence.NewMemoryConversationRepository()
		return nil
	}

	db, err := persistence.NewPostgresConnection(app.settings.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.db = db
	app.conversationRepo = persistence.NewGormConversationRepository(db)

	app.logger.Info("Database storage enabled",
		zap.String("host", app.settings.Postgres.Host),
		zap.String("database", app.settings.Postgres.Database),
	)
	return nil
}

func (app *App) initServices() {
	app.engine = service.NewCouncilEngine(app.modelClient, app.store, app.logger)
	app.chatUseCase = usecase.NewCouncilChatUseCase(
		app.engine,
		app.conversationRepo,
		app.settings.EnableMarkdown,
		app.logger,
	)
}

func (app *App) initInterfaces() {
	mode := "release"
	if app.settings.LogLevel == "debug" {
		mode = "debug"
	}
	app.httpServer = httpServer.NewServer(
		httpServer.Config{
			Host:           app.settings.Host,
			Port:           app.settings.Port,
			Mode:           mode,
			AllowedOrigins: app.settings.AllowedOrigins,
			ForceStreaming: app.settings.ForceStreaming,
		},
		app.chatUseCase,
		app.store,
		app.modelClient,
		app.conversationRepo,
		app.logger,
	)
}

// Start brings the gateway up and kicks off model warm-up in the background.
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("Starting application")

	if err := app.httpServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// Warm the roster so the first request does not pay model load times.
	// Only local backends load weights; the remote client's Preload is a
	// no-op, so this is effectively local-only.
	if app.settings.BackendMode == config.BackendLocal {
		safego.Go(app.logger, "model-preload", func() {
			cfg := app.store.CouncilConfig()
			models := append([]string(nil), cfg.Members...)
			models = append(models, cfg.Chairman)
			llm.PreloadModels(context.Background(), app.modelClient, models, app.logger)
		})
	}

	app.logger.Info("Application started successfully")
	return nil
}

// Stop shuts the gateway down gracefully.
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("Stopping application")

	if err := app.httpServer.Stop(ctx); err != nil {
		app.logger.Error("Failed to stop HTTP server", zap.Error(err))
	}

	if app.stopWatch != nil {
		app.stopWatch()
	}

	if app.db != nil {
		if sqlDB, err := app.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				app.logger.Error("Failed to close database connection", zap.Error(err))
			}
		}
	}

	app.logger.Info("Application stopped successfully")
	return nil
}

// Logger returns the application logger.
func (app *App) Logger() *zap.Logger {
	return app.logger
}
