package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/garyjia/fleet-requests/internal/config"
	"github.com/garyjia/fleet-requests/internal/container"
	fleethttp "github.com/garyjia/fleet-requests/internal/interfaces/http"
	"github.com/garyjia/fleet-requests/pkg/utils"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := os.Getenv("FLEET_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
		Service:    "fleet-requests",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting fleet request service",
		zap.String("version", "1.0.0"),
		zap.String("storage", cfg.Storage.Driver),
		zap.Int("port", cfg.Server.Port))

	if err := run(cfg, logger); err != nil {
		logger.Error("Service stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Server exited successfully")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		c.Close()
		return err
	}
	defer c.Close()

	services := c.Services()
	server := fleethttp.NewServer(fleethttp.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, fleethttp.Services{
		Requests:          services.Requests,
		Assignments:       services.Assignments,
		Trips:             services.Trips,
		Notifications:     services.Notifications,
		Sockets:           c.Channels().Hub,
		MetricsHandler:    c.MetricsHandler(),
		MetricsMiddleware: c.Metrics().GinMiddleware(),
	}, utils.NewKeyValueLogger(logger))

	// Blocks until a shutdown signal arrives
	return server.Start(ctx)
}
