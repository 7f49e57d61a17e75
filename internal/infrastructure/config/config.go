package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for rollcall.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Reader     ReaderConfig     `yaml:"reader"`
	Normalizer NormalizerConfig `yaml:"normalizer"`
	Directory  DirectoryConfig  `yaml:"directory"`
	Attendance AttendanceConfig `yaml:"attendance"`
}

// SiteConfig identifies the facility this instance records attendance for.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RateLimitConfig throttles manual scan submissions per client address.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ReaderConfig describes the card reader attached to this instance.
//
// The line parameters are fixed per installation and are never negotiated
// with the device.
type ReaderConfig struct {
	// Device is a serial port path (e.g. "/dev/ttyUSB0") or a stream URL
	// ("tcp://10.0.0.5:4001", "unix:///run/reader.sock").
	Device string `yaml:"device"`

	// AutoConnect opens Device at startup instead of waiting for an operator.
	AutoConnect bool `yaml:"auto_connect"`

	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	Parity   string `yaml:"parity"`
	StopBits int    `yaml:"stop_bits"`

	// ReadTimeoutMS bounds each blocking read so the loop can observe Close.
	ReadTimeoutMS int `yaml:"read_timeout_ms"`
}

// NormalizerConfig bounds the accepted credential length in hex characters.
type NormalizerConfig struct {
	MinLength int `yaml:"min_length"`
	MaxLength int `yaml:"max_length"`
}

// DirectoryConfig configures the person directory and its remote fallback.
type DirectoryConfig struct {
	// Remote selects the fallback source: "none", "http" or "redis".
	Remote   string `yaml:"remote"`
	URL      string `yaml:"url"`
	RedisURL string `yaml:"redis_url"`

	// TimeoutMS bounds a single remote lookup.
	TimeoutMS int `yaml:"timeout_ms"`

	// ProbeInterval is how often remote reachability is checked, in seconds.
	ProbeInterval int `yaml:"probe_interval"`

	// RefreshInterval is how often the local snapshot is rebuilt, in seconds.
	// Zero disables periodic refresh.
	RefreshInterval int `yaml:"refresh_interval"`
}

// AttendanceConfig contains attendance behaviour settings.
type AttendanceConfig struct {
	// DefaultMode is "check-in", "check-out" or "toggle".
	DefaultMode string `yaml:"default_mode"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ROLLCALL_SECTION_KEY
// For example: ROLLCALL_DATABASE_PATH, ROLLCALL_READER_DEVICE
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Rollcall",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/rollcall.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "rollcall",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				Burst:             10,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Reader: ReaderConfig{
			BaudRate:      9600,
			DataBits:      8,
			Parity:        "none",
			StopBits:      1,
			ReadTimeoutMS: 500,
		},
		Normalizer: NormalizerConfig{
			MinLength: 8,
			MaxLength: 16,
		},
		Directory: DirectoryConfig{
			Remote:          "none",
			TimeoutMS:       3000,
			ProbeInterval:   15,
			RefreshInterval: 300,
		},
		Attendance: AttendanceConfig{
			DefaultMode: "check-in",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ROLLCALL_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ROLLCALL_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("ROLLCALL_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ROLLCALL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ROLLCALL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("ROLLCALL_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("ROLLCALL_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("ROLLCALL_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("ROLLCALL_READER_DEVICE"); v != "" {
		cfg.Reader.Device = v
	}

	if v := os.Getenv("ROLLCALL_DIRECTORY_URL"); v != "" {
		cfg.Directory.URL = v
	}
	if v := os.Getenv("ROLLCALL_DIRECTORY_REDIS_URL"); v != "" {
		cfg.Directory.RedisURL = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Normalizer.MinLength < 1 {
		errs = append(errs, "normalizer.min_length must be at least 1")
	}
	if c.Normalizer.MaxLength < c.Normalizer.MinLength {
		errs = append(errs, "normalizer.max_length must not be less than normalizer.min_length")
	}

	switch c.Directory.Remote {
	case "", "none":
	case "http":
		if c.Directory.URL == "" {
			errs = append(errs, "directory.url is required when directory.remote is http")
		}
	case "redis":
		if c.Directory.RedisURL == "" {
			errs = append(errs, "directory.redis_url is required when directory.remote is redis")
		}
	default:
		errs = append(errs, "directory.remote must be none, http, or redis")
	}
	if c.Directory.TimeoutMS < 1 {
		errs = append(errs, "directory.timeout_ms must be positive")
	}

	switch strings.ToLower(c.Reader.Parity) {
	case "", "none", "odd", "even":
	default:
		errs = append(errs, "reader.parity must be none, odd, or even")
	}
	if c.Reader.DataBits != 0 && (c.Reader.DataBits < 5 || c.Reader.DataBits > 8) {
		errs = append(errs, "reader.data_bits must be between 5 and 8")
	}
	if c.Reader.StopBits != 0 && c.Reader.StopBits != 1 && c.Reader.StopBits != 2 {
		errs = append(errs, "reader.stop_bits must be 1 or 2")
	}

	switch c.Attendance.DefaultMode {
	case "check-in", "check-out", "toggle":
	default:
		errs = append(errs, "attendance.default_mode must be check-in, check-out, or toggle")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// LookupTimeout returns the bound on a single remote directory lookup.
func (d DirectoryConfig) LookupTimeout() time.Duration {
	return time.Duration(d.TimeoutMS) * time.Millisecond
}

// ReadTimeout returns the per-read deadline for the reader.
func (r ReaderConfig) ReadTimeout() time.Duration {
	return time.Duration(r.ReadTimeoutMS) * time.Millisecond
}
