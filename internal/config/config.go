// internal/config/config.go
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Engine      EngineConfig    `mapstructure:"engine"`
	Anomaly     AnomalyConfig   `mapstructure:"anomaly"`
	Broadcast   BroadcastConfig `mapstructure:"broadcast"`
	Simulator   SimulatorConfig `mapstructure:"simulator"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Kafka       KafkaConfig     `mapstructure:"kafka"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	DataPort        int           `mapstructure:"data_port"`
	UIPort          int           `mapstructure:"ui_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type EngineConfig struct {
	WindowCapacity   int           `mapstructure:"window_capacity"`
	AlertCapacity    int           `mapstructure:"alert_capacity"`
	SnapshotAlerts   int           `mapstructure:"snapshot_alerts"`
	StaleAfter       time.Duration `mapstructure:"stale_after"`
	MaxDevices       int           `mapstructure:"max_devices"` // 0 = unlimited
	MaxMagnitude     float64       `mapstructure:"max_magnitude"`
	Metrics          []string      `mapstructure:"metrics"`     // empty = accept every metric
	StrictInvariants bool          `mapstructure:"strict_invariants"`
}

type AnomalyConfig struct {
	StdDevs       float64         `mapstructure:"std_devs"`
	DedupCooldown time.Duration   `mapstructure:"dedup_cooldown"`
	Rules         map[string]Rule `mapstructure:"rules"`
}

// Rule configures anomaly checks for one metric. Min and Max are absolute
// bounds; Statistical enables the rolling std-dev check.
type Rule struct {
	Statistical bool     `mapstructure:"statistical"`
	StdDevs     float64  `mapstructure:"std_devs"` // 0 = use anomaly.std_devs
	Min         *float64 `mapstructure:"min"`
	Max         *float64 `mapstructure:"max"`
	Severity    string   `mapstructure:"severity"`
	LowKind     string   `mapstructure:"low_kind"`
	HighKind    string   `mapstructure:"high_kind"`
}

type BroadcastConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type SimulatorConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	Interval time.Duration     `mapstructure:"interval"`
	Seed     int64             `mapstructure:"seed"`
	Devices  []SimulatedDevice `mapstructure:"devices"`
}

type SimulatedDevice struct {
	DeviceID        string  `mapstructure:"device_id"`
	BaseTemperature float64 `mapstructure:"base_temperature"`
	BaseHumidity    float64 `mapstructure:"base_humidity"`
	Battery         float64 `mapstructure:"battery"`
	Vibration       float64 `mapstructure:"vibration"`
}

type AuthConfig struct {
	JWTSecret     string   `mapstructure:"jwt_secret"`
	JWTExpiration int      `mapstructure:"jwt_expiration"` // in minutes
	APIKeys       []string `mapstructure:"api_keys"`
	Users         []User   `mapstructure:"users"`
}

type User struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	SnapshotKey  string        `mapstructure:"snapshot_key"`
	SnapshotTTL  time.Duration `mapstructure:"snapshot_ttl"`
	AlertChannel string        `mapstructure:"alert_channel"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// IsProduction reports whether the gateway runs with production semantics.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// LoadConfig reads config.yaml from path (or ./config), then applies
// TELEMETRY_* environment overrides. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("./config")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("TELEMETRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, errors.Wrap(err, "error reading config file")
		}
		log.Warn().Str("path", path).Msg("No config file found, using defaults and environment")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unable to decode config")
	}
	if !v.IsSet("engine.strict_invariants") {
		cfg.Engine.StrictInvariants = !cfg.IsProduction()
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.data_port", 8080)
	v.SetDefault("server.ui_port", 8081)
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("engine.window_capacity", 48)
	v.SetDefault("engine.alert_capacity", 100)
	v.SetDefault("engine.snapshot_alerts", 20)
	v.SetDefault("engine.stale_after", "2m")
	v.SetDefault("engine.max_devices", 0)
	v.SetDefault("engine.max_magnitude", 1e15)

	v.SetDefault("anomaly.std_devs", 3.0)
	v.SetDefault("anomaly.dedup_cooldown", "60s")
	v.SetDefault("anomaly.rules", map[string]any{
		"temperature": map[string]any{"statistical": true},
		"humidity":    map[string]any{"statistical": true, "max": 68.0, "severity": "info"},
		"battery":     map[string]any{"min": 20.0, "severity": "danger", "low_kind": "BATTERY_LOW"},
	})

	v.SetDefault("broadcast.interval", "5s")

	v.SetDefault("simulator.enabled", true)
	v.SetDefault("simulator.interval", "5s")
	v.SetDefault("simulator.devices", []map[string]any{
		{"device_id": "edge-node-alpha", "base_temperature": 23.5, "base_humidity": 42.0, "battery": 92.0, "vibration": 0.12},
		{"device_id": "edge-node-bravo", "base_temperature": 28.1, "base_humidity": 37.0, "battery": 78.0, "vibration": 0.32},
		{"device_id": "edge-node-charlie", "base_temperature": 21.4, "base_humidity": 55.0, "battery": 64.0, "vibration": 0.05},
	})

	v.SetDefault("auth.jwt_expiration", 60)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.snapshot_key", "telemetry:snapshot")
	v.SetDefault("redis.snapshot_ttl", "30s")
	v.SetDefault("redis.alert_channel", "telemetry:alerts")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "sensors.data")
	v.SetDefault("kafka.group_id", "telemetry-gateway")

	v.SetDefault("metrics.enabled", true)
}
