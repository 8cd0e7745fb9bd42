package setup

import (
	"log"

	"github.com/dubblu/sentinel/internal/setup/config"
	"go.uber.org/zap"
)

// App contains the common setup components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
}

// InitializeApp performs common setup tasks and returns an App.
func InitializeApp(logDir string) (*App, error) {
	// Load configuration
	cfg, configPath, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	// Initialize logging
	logger, err := GetLogger(logDir, cfg.Debug.LogLevel, cfg.Debug.MaxLogsToKeep)
	if err != nil {
		return nil, err
	}

	logger.Info("Configuration loaded", zap.String("config_path", configPath))

	return &App{
		Config: cfg,
		Logger: logger,
	}, nil
}

// Cleanup performs cleanup tasks.
func (a *App) Cleanup() {
	if err := a.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}
}
