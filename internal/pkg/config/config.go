package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

// EngineConfig tunes the ping processing engine.
type EngineConfig struct {
	Lanes                  int     `mapstructure:"lanes"`                    // per-user ordered processing lanes
	AccuracyThresholdM     float64 `mapstructure:"accuracy_threshold_m"`     // pings above this are low-confidence
	HysteresisCount        int     `mapstructure:"hysteresis_count"`         // consecutive readings to flip zone membership
	DwellThresholdMin      int     `mapstructure:"dwell_threshold_min"`      // minutes inside a zone before a dwell event
	ReorderWindowSec       int     `mapstructure:"reorder_window_sec"`       // late pings older than this are stale
	MinMovementM           float64 `mapstructure:"min_movement_m"`           // GPS jitter floor for trip distance
	TripInactivityMin      int     `mapstructure:"trip_inactivity_min"`      // silence before an open trip is auto-closed
	DestinationDwellMin    int     `mapstructure:"destination_dwell_min"`    // dwell at destination before a trip ends
	CatalogRefreshSec      int     `mapstructure:"catalog_refresh_sec"`      // zone snapshot reload interval
	FutureSkewSec          int     `mapstructure:"future_skew_sec"`          // allowed clock skew for future timestamps
	MaxRoutePoints         int     `mapstructure:"max_route_points"`         // route polyline decimation cap
	MembershipIdleEvictMin int     `mapstructure:"membership_idle_evict_min"` // drop silent users' zone state
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	TaskQueue string `mapstructure:"task_queue"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	OTLPAddr    string `mapstructure:"otlp_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "geotrack")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "geotrack")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("engine.lanes", 16)
	v.SetDefault("engine.accuracy_threshold_m", 50.0)
	v.SetDefault("engine.hysteresis_count", 2)
	v.SetDefault("engine.dwell_threshold_min", 30)
	v.SetDefault("engine.reorder_window_sec", 60)
	v.SetDefault("engine.min_movement_m", 10.0)
	v.SetDefault("engine.trip_inactivity_min", 30)
	v.SetDefault("engine.destination_dwell_min", 3)
	v.SetDefault("engine.catalog_refresh_sec", 30)
	v.SetDefault("engine.future_skew_sec", 30)
	v.SetDefault("engine.max_route_points", 500)
	v.SetDefault("engine.membership_idle_evict_min", 120)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.task_queue", "trip-audit-queue")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.otlp_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: GEOTRACK_DATABASE_HOST → database.host
	v.SetEnvPrefix("GEOTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Engine.Lanes <= 0 {
		errs = append(errs, "engine.lanes must be positive")
	}
	if c.Engine.HysteresisCount < 1 {
		errs = append(errs, "engine.hysteresis_count must be at least 1")
	}
	if c.Engine.ReorderWindowSec < 0 {
		errs = append(errs, "engine.reorder_window_sec must not be negative")
	}
	if c.Engine.AccuracyThresholdM <= 0 {
		errs = append(errs, "engine.accuracy_threshold_m must be positive")
	}
	if c.Engine.MinMovementM < 0 {
		errs = append(errs, "engine.min_movement_m must not be negative")
	}
	if c.Engine.DwellThresholdMin <= 0 {
		errs = append(errs, "engine.dwell_threshold_min must be positive")
	}
	if c.Engine.TripInactivityMin <= 0 {
		errs = append(errs, "engine.trip_inactivity_min must be positive")
	}
	if c.Temporal.HostPort == "" {
		errs = append(errs, "temporal.host_port is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
