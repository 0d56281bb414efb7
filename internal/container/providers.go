// Package container provides dependency injection and lifecycle management
// for the fleet request system following Clean Architecture principles.
package container

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/fleet-requests/internal/application/dispatcher"
	"github.com/garyjia/fleet-requests/internal/application/port"
	"github.com/garyjia/fleet-requests/internal/application/service"
	"github.com/garyjia/fleet-requests/internal/config"
	"github.com/garyjia/fleet-requests/internal/domain/workflow"
	"github.com/garyjia/fleet-requests/internal/infrastructure/external/kafka"
	"github.com/garyjia/fleet-requests/internal/infrastructure/external/lark"
	"github.com/garyjia/fleet-requests/internal/infrastructure/external/realtime"
	"github.com/garyjia/fleet-requests/internal/infrastructure/external/routing"
	"github.com/garyjia/fleet-requests/internal/infrastructure/lock"
	"github.com/garyjia/fleet-requests/internal/infrastructure/persistence/memory"
	"github.com/garyjia/fleet-requests/internal/infrastructure/persistence/repository"
	"github.com/garyjia/fleet-requests/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/fleet-requests/internal/observability"
	"github.com/garyjia/fleet-requests/migrations"
	"github.com/garyjia/fleet-requests/pkg/database"
	"github.com/garyjia/fleet-requests/pkg/utils"
)

// StorageBundle holds the repositories and the transaction manager over one backend.
// DB is nil for the memory driver.
type StorageBundle struct {
	DB           *database.DB
	TxManager    port.TransactionManager
	Repositories *RepositoryBundle
}

// ChannelBundle holds the notification delivery channels
type ChannelBundle struct {
	Hub      *realtime.Hub
	Lark     *lark.Notifier
	Channels []port.NotificationChannel
}

// ProvideStorage opens the configured backend and runs pending migrations
func ProvideStorage(cfg *config.Config, logger *zap.Logger) (*StorageBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if cfg.Storage.Driver == config.StorageMemory {
		store := memory.NewStore()
		logger.Warn("Using in-memory storage, data is lost on restart")
		return &StorageBundle{
			TxManager: store,
			Repositories: &RepositoryBundle{
				Requests:      store.Requests(),
				Trips:         store.Trips(),
				Users:         store.Users(),
				Drivers:       store.Drivers(),
				Vehicles:      store.Vehicles(),
				Offices:       store.Offices(),
				Notifications: store.Notifications(),
			},
		}, nil
	}

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		BusyTimeout:     cfg.Database.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).RunMigrations(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	tx := sqlite.NewDB(db.DB, logger)
	return &StorageBundle{
		DB:        db,
		TxManager: tx,
		Repositories: &RepositoryBundle{
			Requests:      repository.NewRequestRepository(tx, logger),
			Trips:         repository.NewTripRepository(tx, logger),
			Users:         repository.NewUserRepository(tx, logger),
			Drivers:       repository.NewDriverRepository(tx, logger),
			Vehicles:      repository.NewVehicleRepository(tx, logger),
			Offices:       repository.NewOfficeRepository(tx, logger),
			Notifications: repository.NewNotificationRepository(tx, logger),
		},
	}, nil
}

// ProvideLocker returns a Redis-backed locker when redis.addr is set, otherwise an in-process one.
// The returned client is nil for the in-process locker.
func ProvideLocker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.Locker, *redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return lock.NewMemoryLocker(cfg.Workflow.LockWait), nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
	}

	logger.Info("Using redis assignment lock", zap.String("addr", cfg.Redis.Addr))
	return lock.NewRedisLocker(client, cfg.Redis.KeyPrefix, cfg.Workflow.LockTTL, cfg.Workflow.LockWait, logger), client, nil
}

// ProvideChannels creates the websocket hub and, when configured, the Lark notifier
func ProvideChannels(cfg *config.Config, logger *zap.Logger) *ChannelBundle {
	bundle := &ChannelBundle{Hub: realtime.NewHub(logger)}
	bundle.Channels = append(bundle.Channels, bundle.Hub)

	if cfg.Lark.Enabled() {
		bundle.Lark = lark.NewNotifier(lark.Config{
			AppID:     cfg.Lark.AppID,
			AppSecret: cfg.Lark.AppSecret,
		}, logger)
		bundle.Channels = append(bundle.Channels, bundle.Lark)
	}
	return bundle
}

// ProvideRouting creates the distance and geocoding client
func ProvideRouting(cfg *config.Config, logger *zap.Logger) *routing.Client {
	return routing.NewClient(routing.Config{
		OSRMEndpoint:      cfg.Routing.OSRMEndpoint,
		NominatimEndpoint: cfg.Routing.NominatimEndpoint,
		UserAgent:         cfg.Routing.UserAgent,
		Timeout:           cfg.Routing.Timeout,
	}, logger)
}

// ProvideMetrics creates a registry with the process collectors and the fleet collectors
func ProvideMetrics() (*prometheus.Registry, *observability.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, observability.NewMetrics(reg)
}

// ProvideDispatcher creates the event dispatcher and subscribes the metrics and, when
// brokers are configured, the kafka publisher to it
func ProvideDispatcher(cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) (dispatcher.Dispatcher, *kafka.Publisher) {
	disp := dispatcher.NewDispatcher(
		dispatcher.WithLogger(utils.NewKeyValueLogger(logger)),
		dispatcher.WithHandlerTimeout(cfg.Workflow.EventTimeout),
	)
	metrics.Register(disp)

	if len(cfg.Kafka.Brokers) == 0 {
		return disp, nil
	}
	publisher := kafka.NewPublisher(kafka.Config{
		Brokers:      cfg.Kafka.Brokers,
		RequestTopic: cfg.Kafka.RequestTopic,
		TripTopic:    cfg.Kafka.TripTopic,
		WriteTimeout: cfg.Kafka.WriteTimeout,
	}, logger)
	publisher.Register(disp)
	logger.Info("Publishing events to kafka", zap.Strings("brokers", cfg.Kafka.Brokers))
	return disp, publisher
}

// ServiceDeps holds everything the application services are built from
type ServiceDeps struct {
	Config     *config.Config
	Engine     *workflow.Engine
	Storage    *StorageBundle
	Locker     port.Locker
	Channels   []port.NotificationChannel
	Dispatcher dispatcher.Dispatcher
	Metrics    service.Metrics
	Routing    *routing.Client
	Logger     *zap.Logger
}

// ProvideServices creates one request service per registered kind plus the fleet services
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Storage == nil || deps.Engine == nil {
		return nil, fmt.Errorf("storage and engine are required")
	}

	repos := deps.Storage.Repositories
	log := utils.NewKeyValueLogger(deps.Logger)
	wf := deps.Config.Workflow

	opts := []service.Option{
		service.WithDispatcher(deps.Dispatcher),
		service.WithMetrics(deps.Metrics),
		service.WithGeofenceRadius(wf.GeofenceRadius),
		service.WithLookupTimeout(wf.LookupTimeout),
	}
	if deps.Routing != nil {
		opts = append(opts, service.WithRouting(deps.Routing, deps.Routing))
	}

	requests := make(map[workflow.Kind]service.RequestService)
	for _, kind := range deps.Engine.Registry().Kinds() {
		requests[kind] = service.NewRequestService(kind, deps.Engine,
			repos.Requests, repos.Users, repos.Offices, deps.Storage.TxManager, log, opts...)
	}

	return &ServiceBundle{
		Requests: requests,
		Assignments: service.NewAssignmentService(deps.Engine,
			repos.Requests, repos.Trips, repos.Users, repos.Drivers,
			repos.Vehicles, repos.Offices, deps.Locker, deps.Storage.TxManager, log, opts...),
		Trips: service.NewTripService(deps.Engine,
			repos.Requests, repos.Trips, repos.Users, repos.Vehicles,
			repos.Offices, deps.Storage.TxManager, log, opts...),
		Notifications: service.NewNotificationService(repos.Notifications, repos.Users,
			deps.Channels, wf.NotificationTimeout, log, opts...),
	}, nil
}
