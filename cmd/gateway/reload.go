package main

import (
	"context"

	"github.com/vyrodovalexey/avapipe/internal/config"
	"github.com/vyrodovalexey/avapipe/internal/observability"
)

// startConfigWatcher starts the configuration watcher. Each valid change
// rebuilds the gateway and swaps it in; a failed rebuild keeps the
// current one.
func startConfigWatcher(
	ctx context.Context,
	app *application,
	configPath string,
	logger observability.Logger,
) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) error {
		logger.Info("configuration changed, reloading")
		return app.reload(newCfg)
	},
		config.WithLogger(logger),
		config.WithErrorCallback(func(error) {
			app.metrics.RecordReload(false)
		}),
	)
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		return watcher
	}

	return watcher
}
