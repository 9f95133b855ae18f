// Package app provides the application initialization and lifecycle management
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tildaslashalef/kbpicker/internal/config"
	"github.com/tildaslashalef/kbpicker/internal/database"
	"github.com/tildaslashalef/kbpicker/internal/engine"
	"github.com/tildaslashalef/kbpicker/internal/journal"
	"github.com/tildaslashalef/kbpicker/internal/knowledgebase"
	"github.com/tildaslashalef/kbpicker/internal/lockfile"
	"github.com/tildaslashalef/kbpicker/internal/loggy"
	"github.com/tildaslashalef/kbpicker/internal/metrics"
	"github.com/tildaslashalef/kbpicker/internal/resource"
	"github.com/tildaslashalef/kbpicker/internal/stackai"
	"github.com/tildaslashalef/kbpicker/internal/status"
	"github.com/tildaslashalef/kbpicker/internal/utils"
	"github.com/urfave/cli/v2"
)

// ErrNoConnectionFound is returned when the account has no connection for
// the configured provider
var ErrNoConnectionFound = errors.New("no connection found")

// App represents the application instance with its dependencies
type App struct {
	Config    *config.Config
	Settings  *config.SettingsService
	Client    *stackai.Client
	Directory *resource.Directory
	Manager   *knowledgebase.Manager
	Trigger   *knowledgebase.Trigger
	Journal   *journal.SQLRepository
	Metrics   *metrics.Metrics
	Lock      *lockfile.Lock

	logger *loggy.Logger
}

// New initializes a new application instance with all its dependencies
func New() (*App, error) {
	// Initialize configuration
	cfg, err := initConfig()
	if err != nil {
		return nil, err
	}

	// Initialize logger
	if err := initLogger(cfg); err != nil {
		return nil, err
	}

	loggy.Info("Application initializing",
		"version", os.Getenv("VERSION"),
		"log_level", cfg.Logging.Level,
		"api", cfg.API.BaseURL,
	)

	// Initialize database
	if err := database.InitDB(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	applied, err := database.RunMigrations()
	if err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	if applied > 0 {
		loggy.Info("Applied migrations", "count", applied)
	}

	db, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	app, err := initServices(cfg, db)
	if err != nil {
		return nil, err
	}

	loggy.Info("Application initialized successfully")
	return app, nil
}

// initConfig loads and sets up the application configuration
func initConfig() (*config.Config, error) {
	cfg, err := config.LoadFromEnv("", "")
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	config.Set(cfg)
	return cfg, nil
}

// initLogger initializes the logging system
func initLogger(cfg *config.Config) error {
	err := loggy.Init(loggy.Config{
		Level:      config.ParseLogLevel(cfg.Logging.Level),
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// initServices initializes all application services
func initServices(cfg *config.Config, db *sql.DB) (*App, error) {
	logger := loggy.GetGlobalLogger()
	ctx := context.Background()

	settingsService := config.NewSettingsService(db, cfg, logger)
	if err := settingsService.LoadAuthSettings(ctx); err != nil {
		loggy.Warn("Failed to load auth settings from database", "error", err)
		// Continue anyway, commands that need a token will say so
	}

	return Wire(cfg, settingsService, journal.NewSQLRepository(db, logger), logger), nil
}

// Wire builds the remote and engine services on top of settings and the
// journal
func Wire(cfg *config.Config, settings *config.SettingsService, recorder *journal.SQLRepository, logger *loggy.Logger) *App {
	m := metrics.New()

	client := stackai.NewClient(cfg.ClientConfig(), stackai.NewSession(cfg.Auth.AccessToken), logger)
	client.SetObserver(m.ObserveRemote)

	dir := resource.NewDirectory(client, cfg.KnowledgeBase.CacheSize, cfg.KnowledgeBase.CacheTTL)

	return &App{
		Config:    cfg,
		Settings:  settings,
		Client:    client,
		Directory: dir,
		Manager:   knowledgebase.NewManager(client, dir, cfg.Indexing, cfg.KnowledgeBase.Description, logger),
		Trigger:   knowledgebase.NewTrigger(client, ""),
		Journal:   recorder,
		Metrics:   m,
		Lock:      lockfile.New(cfg.LocksDir(), "active"),
		logger:    logger,
	}
}

// OpenEngine builds an engine bound to the active knowledge base. Members
// are rehydrated from the remote so the engine starts in sync with it.
func (app *App) OpenEngine(ctx context.Context) (*engine.Engine, error) {
	kbID, connectionID, err := app.Settings.ActiveKnowledgeBase(ctx)
	if err != nil {
		return nil, err
	}

	var members []string
	if kbID != "" {
		var remoteConnection string
		members, remoteConnection, err = app.Manager.Members(ctx, kbID)
		if err != nil {
			return nil, fmt.Errorf("failed to load knowledge base %s: %w", kbID, err)
		}
		if remoteConnection != "" {
			connectionID = remoteConnection
		}
	}

	var recorder engine.Recorder
	if app.Journal != nil {
		recorder = app.Journal
	}

	return engine.New(app.Manager, app.Trigger, app.Directory, status.NewStore(), engine.Options{
		KnowledgeBaseID: kbID,
		ConnectionID:    connectionID,
		MemberIDs:       members,
		Name:            app.KnowledgeBaseName(),
		Journal:         recorder,
		Metrics:         app.Metrics,
		Logger:          app.logger,
	}), nil
}

// SaveEngineState persists the knowledge base the engine is bound to
func (app *App) SaveEngineState(ctx context.Context, e *engine.Engine) error {
	kbID := e.KnowledgeBaseID()
	if kbID == "" {
		return app.Settings.ForgetKnowledgeBase(ctx)
	}
	return app.Settings.SetActiveKnowledgeBase(ctx, kbID, e.ConnectionID())
}

// KnowledgeBaseName returns the configured name for new knowledge bases, or
// a generated one
func (app *App) KnowledgeBaseName() string {
	if app.Config.KnowledgeBase.Name != "" {
		return app.Config.KnowledgeBase.Name
	}
	return utils.GenerateKnowledgeBaseName()
}

// ConnectionID returns the stored connection id, looking up the first
// connection of the configured provider when none is stored yet
func (app *App) ConnectionID(ctx context.Context) (string, error) {
	_, connectionID, err := app.Settings.ActiveKnowledgeBase(ctx)
	if err != nil {
		return "", err
	}
	if connectionID != "" {
		return connectionID, nil
	}

	conns, err := app.Client.ListConnections(ctx, app.Config.API.Provider, 1)
	if err != nil {
		return "", fmt.Errorf("failed to list connections: %w", err)
	}
	if len(conns) == 0 {
		return "", fmt.Errorf("%w for provider %q", ErrNoConnectionFound, app.Config.API.Provider)
	}

	connectionID = conns[0].ConnectionID
	if err := app.Settings.SetSetting(ctx, config.KeyConnectionID, connectionID); err != nil {
		loggy.Warn("Failed to save connection id", "error", err)
	}
	app.logger.Debug("Resolved connection", "connection_id", connectionID, "name", conns[0].Name)
	return connectionID, nil
}

// Resolve walks the connection tree to the resource at p
func (app *App) Resolve(ctx context.Context, connectionID, p string) (resource.Resource, error) {
	return ResolvePath(ctx, app.Directory, connectionID, p)
}

// ConnectionLister lists one connection folder
type ConnectionLister interface {
	ConnectionChildren(ctx context.Context, connectionID, resourceID string) ([]resource.Resource, error)
}

// ResolvePath finds the resource at p by listing one folder per path element
func ResolvePath(ctx context.Context, lister ConnectionLister, connectionID, p string) (resource.Resource, error) {
	p = resource.NormalizePath(p)
	if p == "/" {
		return resource.Resource{}, fmt.Errorf("the connection root cannot be selected")
	}

	parentID := ""
	var current resource.Resource
	for _, name := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		children, err := lister.ConnectionChildren(ctx, connectionID, parentID)
		if err != nil {
			return resource.Resource{}, fmt.Errorf("failed to list %s: %w", parentLabel(current), err)
		}

		found := false
		for _, child := range children {
			if child.Name() == name {
				current, found = child, true
				break
			}
		}
		if !found {
			return resource.Resource{}, fmt.Errorf("%s: %w", p, resource.ErrPathNotFound)
		}
		if current.ConnectionID == "" {
			current.ConnectionID = connectionID
		}
		parentID = current.ID
	}
	return current, nil
}

func parentLabel(r resource.Resource) string {
	if r.ID == "" {
		return "connection root"
	}
	return resource.NormalizePath(r.Path)
}

// Shutdown gracefully shuts down the application
func (app *App) Shutdown() error {
	loggy.Info("Shutting down application")

	if app.Lock != nil && app.Lock.Locked() {
		if err := app.Lock.Unlock(); err != nil {
			loggy.Error("Error releasing lock", "error", err)
		}
	}

	if path := app.Config.Metrics.TextfilePath; path != "" {
		if err := app.Metrics.WriteTextfile(path); err != nil {
			loggy.Error("Error writing metrics", "error", err)
		}
	}

	// Close database connection
	if err := database.CloseDB(); err != nil {
		loggy.Error("Error closing database connection", "error", err)
	}

	return nil
}

// FromContext retrieves the App instance from the CLI context
func FromContext(c *cli.Context) (*App, error) {
	if c.App.Metadata == nil {
		return nil, fmt.Errorf("app metadata not found in context")
	}

	app, ok := c.App.Metadata["app"].(*App)
	if !ok {
		return nil, fmt.Errorf("app instance not found in context")
	}

	return app, nil
}
