package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Lark     LarkConfig     `mapstructure:"lark"`
	Routing  RoutingConfig  `mapstructure:"routing"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// Storage drivers
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// StorageConfig selects the repository backend. SeedFile, when set, is a YAML
// directory of users, drivers, vehicles and offices upserted at startup.
type StorageConfig struct {
	Driver   string `mapstructure:"driver"`
	SeedFile string `mapstructure:"seed_file"`
}

// RedisConfig enables the distributed assignment lock when Addr is set
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// KafkaConfig enables event publishing when Brokers is non-empty
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	RequestTopic string        `mapstructure:"request_topic"`
	TripTopic    string        `mapstructure:"trip_topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LarkConfig enables Lark chat notifications when credentials are set
type LarkConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
}

// Enabled reports whether both credentials are present
func (l LarkConfig) Enabled() bool {
	return l.AppID != "" && l.AppSecret != ""
}

// RoutingConfig holds OSRM and Nominatim endpoints
type RoutingConfig struct {
	OSRMEndpoint      string        `mapstructure:"osrm_endpoint"`
	NominatimEndpoint string        `mapstructure:"nominatim_endpoint"`
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// WorkflowConfig tunes request processing
type WorkflowConfig struct {
	GeofenceRadius      float64       `mapstructure:"geofence_radius"`
	NotificationTimeout time.Duration `mapstructure:"notification_timeout"`
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
	LockWait            time.Duration `mapstructure:"lock_wait"`
	LookupTimeout       time.Duration `mapstructure:"lookup_timeout"`
	EventTimeout        time.Duration `mapstructure:"event_timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables.
// A .env file next to the process, if present, is applied to the environment first.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/fleet.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	v.SetDefault("storage.driver", StorageSQLite)
	v.SetDefault("storage.seed_file", "")

	v.SetDefault("redis.key_prefix", "fleet:lock:")

	v.SetDefault("kafka.request_topic", "fleet.requests")
	v.SetDefault("kafka.trip_topic", "fleet.trips")
	v.SetDefault("kafka.write_timeout", 5*time.Second)

	v.SetDefault("routing.user_agent", "fleet-requests")
	v.SetDefault("routing.timeout", 2*time.Second)

	// Workflow defaults
	v.SetDefault("workflow.geofence_radius", 50.0)
	v.SetDefault("workflow.notification_timeout", 10*time.Second)
	v.SetDefault("workflow.lock_ttl", 30*time.Second)
	v.SetDefault("workflow.lock_wait", 5*time.Second)
	v.SetDefault("workflow.lookup_timeout", 2*time.Second)
	v.SetDefault("workflow.event_timeout", 10*time.Second)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds the unprefixed variables deployments already use
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("lark.app_id", "FLEET_LARK_APP_ID", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", "FLEET_LARK_APP_SECRET", "LARK_APP_SECRET")
	_ = v.BindEnv("redis.addr", "FLEET_REDIS_ADDR", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "FLEET_REDIS_PASSWORD", "REDIS_PASSWORD")

	// comma separated
	brokers := os.Getenv("FLEET_KAFKA_BROKERS")
	if brokers == "" {
		brokers = os.Getenv("KAFKA_BROKERS")
	}
	if brokers != "" {
		v.Set("kafka.brokers", strings.Split(brokers, ","))
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	switch c.Storage.Driver {
	case StorageSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("storage.driver must be %q or %q", StorageSQLite, StorageMemory)
	}

	if (c.Lark.AppID == "") != (c.Lark.AppSecret == "") {
		return fmt.Errorf("lark.app_id and lark.app_secret must be set together")
	}

	if len(c.Kafka.Brokers) > 0 && (c.Kafka.RequestTopic == "" || c.Kafka.TripTopic == "") {
		return fmt.Errorf("kafka topics are required when brokers are set")
	}

	if c.Workflow.GeofenceRadius <= 0 {
		return fmt.Errorf("workflow.geofence_radius must be positive")
	}

	return nil
}
