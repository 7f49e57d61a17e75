package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
site:
  id: "north-campus"
database:
  path: "/tmp/test.db"
reader:
  device: "/dev/ttyACM0"
  auto_connect: true
normalizer:
  min_length: 8
  max_length: 14
directory:
  remote: "http"
  url: "http://directory.local"
  timeout_ms: 1500
attendance:
  default_mode: "toggle"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "north-campus" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "north-campus")
	}
	if cfg.Reader.Device != "/dev/ttyACM0" {
		t.Errorf("Reader.Device = %q, want %q", cfg.Reader.Device, "/dev/ttyACM0")
	}
	if !cfg.Reader.AutoConnect {
		t.Error("Reader.AutoConnect = false, want true")
	}
	if cfg.Normalizer.MaxLength != 14 {
		t.Errorf("Normalizer.MaxLength = %d, want 14", cfg.Normalizer.MaxLength)
	}
	if got := cfg.Directory.LookupTimeout(); got != 1500*time.Millisecond {
		t.Errorf("LookupTimeout() = %v, want 1.5s", got)
	}
	if cfg.Attendance.DefaultMode != "toggle" {
		t.Errorf("Attendance.DefaultMode = %q, want toggle", cfg.Attendance.DefaultMode)
	}

	// Line parameters keep their defaults when the file does not set them.
	if cfg.Reader.BaudRate != 9600 || cfg.Reader.DataBits != 8 || cfg.Reader.StopBits != 1 {
		t.Errorf("reader line = %d/%d/%d, want 9600/8/1",
			cfg.Reader.BaudRate, cfg.Reader.DataBits, cfg.Reader.StopBits)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
site:
  id: ""
`)

	if _, err := Load(path); err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(_ *Config) {}, false},
		{"missing site ID", func(c *Config) { c.Site.ID = "" }, true},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, true},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"invalid port low", func(c *Config) { c.API.Port = 0 }, true},
		{"invalid port high", func(c *Config) { c.API.Port = 70000 }, true},
		{"zero min length", func(c *Config) { c.Normalizer.MinLength = 0 }, true},
		{"max below min", func(c *Config) { c.Normalizer.MaxLength = 4 }, true},
		{"http remote without url", func(c *Config) { c.Directory.Remote = "http" }, true},
		{"redis remote without url", func(c *Config) { c.Directory.Remote = "redis" }, true},
		{"redis remote with url", func(c *Config) {
			c.Directory.Remote = "redis"
			c.Directory.RedisURL = "redis://localhost:6379/0"
		}, false},
		{"unknown remote", func(c *Config) { c.Directory.Remote = "ldap" }, true},
		{"zero lookup timeout", func(c *Config) { c.Directory.TimeoutMS = 0 }, true},
		{"bad parity", func(c *Config) { c.Reader.Parity = "mark" }, true},
		{"bad data bits", func(c *Config) { c.Reader.DataBits = 9 }, true},
		{"bad stop bits", func(c *Config) { c.Reader.StopBits = 3 }, true},
		{"bad mode", func(c *Config) { c.Attendance.DefaultMode = "register" }, true},
		{"influx without url", func(c *Config) { c.InfluxDB.Enabled = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		Reader: ReaderConfig{ReadTimeoutMS: 250},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.Reader.ReadTimeout(); got != 250*time.Millisecond {
		t.Errorf("Reader.ReadTimeout() = %v, want 250ms", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("ROLLCALL_DATABASE_PATH", "/custom/path.db")
	t.Setenv("ROLLCALL_MQTT_HOST", "mqtt.example.com")
	t.Setenv("ROLLCALL_MQTT_USERNAME", "testuser")
	t.Setenv("ROLLCALL_MQTT_PASSWORD", "testpass")
	t.Setenv("ROLLCALL_API_HOST", "192.168.1.1")
	t.Setenv("ROLLCALL_API_PORT", "9090")
	t.Setenv("ROLLCALL_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("ROLLCALL_READER_DEVICE", "tcp://10.0.0.5:4001")
	t.Setenv("ROLLCALL_DIRECTORY_URL", "http://dir.example.com")
	t.Setenv("ROLLCALL_DIRECTORY_REDIS_URL", "redis://cache:6379/2")

	applyEnvOverrides(cfg)

	checks := []struct {
		name, got, want string
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Reader.Device", cfg.Reader.Device, "tcp://10.0.0.5:4001"},
		{"Directory.URL", cfg.Directory.URL, "http://dir.example.com"},
		{"Directory.RedisURL", cfg.Directory.RedisURL, "redis://cache:6379/2"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.name, c.got, c.want)
		}
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("ROLLCALL_API_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want 8080", cfg.API.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaultConfig should validate: %v", err)
	}
	if cfg.Normalizer.MinLength != 8 || cfg.Normalizer.MaxLength != 16 {
		t.Errorf("normalizer bounds = %d..%d, want 8..16",
			cfg.Normalizer.MinLength, cfg.Normalizer.MaxLength)
	}
	if cfg.Reader.Parity != "none" {
		t.Errorf("Reader.Parity = %q, want none", cfg.Reader.Parity)
	}
}
