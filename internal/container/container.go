package container

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/fleet-requests/internal/application/dispatcher"
	"github.com/garyjia/fleet-requests/internal/application/port"
	"github.com/garyjia/fleet-requests/internal/application/service"
	"github.com/garyjia/fleet-requests/internal/config"
	"github.com/garyjia/fleet-requests/internal/domain/workflow"
	"github.com/garyjia/fleet-requests/internal/infrastructure/external/kafka"
	"github.com/garyjia/fleet-requests/internal/infrastructure/external/routing"
	"github.com/garyjia/fleet-requests/internal/observability"
	"github.com/garyjia/fleet-requests/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// It follows Clean Architecture principles with ordered initialization
// and reverse-order teardown.
type Container struct {
	config *config.Config
	logger *zap.Logger

	// Infrastructure - Data
	db           *database.DB
	txManager    port.TransactionManager
	repositories *RepositoryBundle
	locker       port.Locker
	redis        *redis.Client

	// Infrastructure - External
	channels  *ChannelBundle
	routing   *routing.Client
	publisher *kafka.Publisher

	// Observability
	registry *prometheus.Registry
	metrics  *observability.Metrics

	// Application
	engine     *workflow.Engine
	dispatcher dispatcher.Dispatcher
	services   *ServiceBundle

	// Lifecycle
	mu     sync.RWMutex
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Requests      port.RequestRepository
	Trips         port.TripRepository
	Users         port.UserRepository
	Drivers       port.DriverRepository
	Vehicles      port.VehicleRepository
	Offices       port.OfficeRepository
	Notifications port.NotificationRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Requests      map[workflow.Kind]service.RequestService
	Assignments   service.AssignmentService
	Trips         service.TripService
	Notifications service.NotificationService
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components in dependency order:
// 1. Storage, repositories and seed data
// 2. Assignment locker
// 3. External clients (notification channels, routing)
// 4. Metrics and event dispatcher
// 5. Workflow engine and application services
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")

	// Step 1: Storage
	if err := c.initStorage(ctx); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.logger.Info("Storage initialized", zap.String("driver", c.config.Storage.Driver))

	// Step 2: Locker
	locker, client, err := ProvideLocker(ctx, c.config, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize locker: %w", err)
	}
	c.locker = locker
	c.redis = client

	// Step 3: External clients
	c.channels = ProvideChannels(c.config, c.logger)
	c.routing = ProvideRouting(c.config, c.logger)
	c.logger.Info("External clients initialized", zap.Int("notification_channels", len(c.channels.Channels)))

	// Step 4: Metrics and dispatcher
	c.registry, c.metrics = ProvideMetrics()
	c.dispatcher, c.publisher = ProvideDispatcher(c.config, c.metrics, c.logger)

	// Step 5: Workflow engine and services
	c.engine = workflow.NewEngine(workflow.DefaultRegistry())
	services, err := ProvideServices(&ServiceDeps{
		Config:     c.config,
		Engine:     c.engine,
		Storage:    &StorageBundle{DB: c.db, TxManager: c.txManager, Repositories: c.repositories},
		Locker:     c.locker,
		Channels:   c.channels.Channels,
		Dispatcher: c.dispatcher,
		Metrics:    c.metrics,
		Routing:    c.routing,
		Logger:     c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.services = services
	c.logger.Info("Application services initialized", zap.Int("request_kinds", len(services.Requests)))

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

func (c *Container) initStorage(ctx context.Context) error {
	storage, err := ProvideStorage(c.config, c.logger)
	if err != nil {
		return err
	}
	c.db = storage.DB
	c.txManager = storage.TxManager
	c.repositories = storage.Repositories

	if c.config.Storage.SeedFile == "" {
		return nil
	}
	seed, err := LoadSeed(c.config.Storage.SeedFile)
	if err != nil {
		return err
	}
	return seed.Apply(ctx, c.repositories, c.logger)
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	// Step 1: Finish background notification deliveries
	if c.services != nil {
		c.services.Notifications.Close()
		c.logger.Info("Notification deliveries drained")
	}

	// Step 2: Close dispatcher, then the publisher its handlers write to
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			c.logger.Error("Failed to close kafka publisher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}

	// Step 3: Disconnect live sockets
	if c.channels != nil {
		c.channels.Hub.Close()
	}

	// Step 4: Locker
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.logger.Error("Failed to close redis client", zap.Error(err))
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	// Step 5: Close database
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, err error) {
		if err != nil {
			status.Components[name] = ComponentHealth{Healthy: false, Message: err.Error()}
			status.Overall = false
			return
		}
		status.Components[name] = ComponentHealth{Healthy: true}
	}

	switch {
	case c.db != nil:
		set("database", c.db.PingContext(ctx))
	case c.repositories != nil:
		status.Components["database"] = ComponentHealth{Healthy: true, Message: "in-memory"}
	default:
		set("database", fmt.Errorf("not initialized"))
	}

	if c.redis != nil {
		set("redis", c.redis.Ping(ctx).Err())
	}

	if c.dispatcher == nil {
		set("dispatcher", fmt.Errorf("not initialized"))
	} else {
		set("dispatcher", nil)
	}

	return status
}

// Getters for accessing container components

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Channels returns the notification channels.
func (c *Container) Channels() *ChannelBundle {
	return c.channels
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Metrics returns the fleet collectors.
func (c *Container) Metrics() *observability.Metrics {
	return c.metrics
}

// MetricsHandler serves the container's registry in the Prometheus exposition format.
func (c *Container) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *config.Config {
	return c.config
}
