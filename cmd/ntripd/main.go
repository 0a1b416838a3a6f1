// cmd/ntripd/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/entr0-pi/gnss-ntrip-client/internal/client"
	"github.com/entr0-pi/gnss-ntrip-client/internal/config"
	"github.com/entr0-pi/gnss-ntrip-client/internal/logging"
	"github.com/entr0-pi/gnss-ntrip-client/internal/routes"
	"github.com/entr0-pi/gnss-ntrip-client/internal/sink"
	"github.com/entr0-pi/gnss-ntrip-client/internal/utils"
)

// Application represents the main application
type Application struct {
	config *config.Config
	logger *zap.Logger
	server *http.Server

	client     *client.Client
	gnssSink   io.Writer
	sinkCloser io.Closer
}

func main() {
	app, err := NewApplication()
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, cfg.App.Name)
	serviceLogger.LogServiceStart(cfg.App.Version)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	if err := app.initializeSink(); err != nil {
		return nil, fmt.Errorf("failed to initialize GNSS sink: %w", err)
	}

	if err := app.initializeClient(); err != nil {
		return nil, fmt.Errorf("failed to initialize NTRIP client: %w", err)
	}

	app.initializeServer()

	return app, nil
}

// initializeSink opens the byte sink toward the GNSS receiver.
func (app *Application) initializeSink() error {
	switch app.config.Sink.Type {
	case "serial":
		s, err := sink.NewSerial(app.config.Sink, app.logger)
		if err != nil {
			return err
		}
		app.gnssSink = s
		app.sinkCloser = s
	default:
		app.logger.Info("No GNSS receiver configured, discarding stream bytes")
		app.gnssSink = sink.Discard()
	}
	return nil
}

// initializeClient builds and arms the stream supervisor.
func (app *Application) initializeClient() error {
	app.client = client.New(client.Options{
		Logger: logging.Zap(app.logger),
	})
	if err := app.client.Begin(app.config.Stream, app.gnssSink); err != nil {
		return err
	}
	return nil
}

// initializeServer builds the monitoring HTTP server.
func (app *Application) initializeServer() {
	router := routes.NewRouter(app.config, app.logger, app.client)

	app.server = &http.Server{
		Addr:         app.config.Server.Host + ":" + app.config.Server.Port,
		Handler:      router.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}
}

// Start runs the supervisor task and the HTTP server until a shutdown signal.
func (app *Application) Start() error {
	if err := app.client.StartTask(); err != nil {
		return fmt.Errorf("failed to start stream task: %w", err)
	}

	go func() {
		app.logger.Info("Monitoring API listening", zap.String("addr", app.server.Addr))
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	app.logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
	return app.Shutdown()
}

// Shutdown stops the stream task and drains the HTTP server.
func (app *Application) Shutdown() error {
	serviceLogger := utils.NewServiceLogger(app.logger, app.config.App.Name)
	serviceLogger.LogServiceStop("signal")

	app.client.StopTask()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	if app.sinkCloser != nil {
		if err := app.sinkCloser.Close(); err != nil {
			app.logger.Error("Failed to close GNSS sink", zap.Error(err))
		}
	}

	return utils.CloseLogger(app.logger)
}
