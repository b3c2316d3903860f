// Package app provides application lifecycle management for the composer.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/relengtools/composer/internal/config"
)

// ServeApp runs the compose watcher next to the status API and provides
// graceful shutdown
type ServeApp struct {
	config     *config.Config
	components *Components
	httpServer *http.Server
	logger     *slog.Logger

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start starts the watcher in the background and serves HTTP.
// It blocks until the HTTP server stops or encounters an error.
func (app *ServeApp) Start() error {
	go func() {
		if err := app.components.Watcher.Start(app.ctx); err != nil {
			app.logger.Error("Compose watcher failed", "error", err)
		}
	}()

	app.logger.Info("Server listening", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the application with the given timeout.
// The watcher is stopped first and waits for a running push to finish.
func (app *ServeApp) Stop(timeout time.Duration) error {
	app.logger.Info("Shutting down server...")

	if err := app.components.Watcher.Stop(); err != nil {
		app.logger.Error("Failed to stop compose watcher", "error", err)
	}

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	shutdownErr := app.httpServer.Shutdown(shutdownCtx)
	if err := app.components.Close(); err != nil {
		app.logger.Error("Failed to release components", "error", err)
	}
	if shutdownErr != nil {
		return fmt.Errorf("server forced to shutdown: %w", shutdownErr)
	}

	app.logger.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *ServeApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *ServeApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// Components returns the components the app runs
func (app *ServeApp) Components() *Components {
	return app.components
}
