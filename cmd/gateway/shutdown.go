package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyrodovalexey/avapipe/internal/config"
	"github.com/vyrodovalexey/avapipe/internal/observability"
)

// shutdownTimeout bounds the whole shutdown sequence.
const shutdownTimeout = 30 * time.Second

// exitFunc is replaced in tests.
var exitFunc = os.Exit

// fatalWithSync logs at error level, flushes the logger and exits.
func fatalWithSync(logger observability.Logger, msg string, fields ...observability.Field) {
	logger.Error(msg, fields...)
	_ = logger.Sync()
	exitFunc(1)
}

// runGateway runs the gateway and handles shutdown.
func runGateway(app *application, configPath string, logger observability.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.server.Start(ctx); err != nil {
		fatalWithSync(logger, "failed to start gateway", observability.Error(err))
		return
	}

	startMetricsServerIfEnabled(app, logger)
	watcher := startConfigWatcher(ctx, app, configPath, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	shutdown(app, watcher, logger)
}

// shutdown stops the watcher, the servers and the tracer, in that order.
func shutdown(app *application, watcher *config.Watcher, logger observability.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Warn("failed to stop config watcher", observability.Error(err))
		}
	}

	if app.metricsServer != nil {
		logger.Info("stopping metrics server")
		if err := app.metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to stop metrics server gracefully", observability.Error(err))
		}
	}

	if app.server.IsRunning() {
		if err := app.server.Stop(shutdownCtx); err != nil {
			logger.Error("failed to stop gateway gracefully", observability.Error(err))
		}
	}

	// Actions may hold Redis clients and limiter goroutines.
	if err := app.close(); err != nil {
		logger.Error("failed to release gateway resources", observability.Error(err))
	}

	if app.tracer != nil {
		if err := app.tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown tracer", observability.Error(err))
		}
	}

	logger.Info("gateway stopped")
}
