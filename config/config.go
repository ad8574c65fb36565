package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"grohe-sync-backend/internal/device"
)

// Config represents the overall application configuration.
type Config struct {
	Server                        ServerConfig     `yaml:"server"`
	Grohe                         GroheConfig      `yaml:"grohe"`
	Devices                       []DeviceConfig   `yaml:"devices"`
	MinPressureMeasurementVersion string           `yaml:"min_pressure_measurement_version"`
	Push                          PushConfig       `yaml:"push"`
	MQTT                          MQTTConfig       `yaml:"mqtt"`
	Logging                       LoggingConfig    `yaml:"logging"`
	WorkerPool                    WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	CacheTTLSeconds int           `yaml:"cache_ttl_seconds"`
	CacheTTL        time.Duration `yaml:"-"`
}

// GroheConfig holds the cloud API connection settings.
type GroheConfig struct {
	BaseURL                string         `yaml:"base_url"`
	TokenURL               string         `yaml:"token_url"`
	ClientID               string         `yaml:"client_id"`
	RefreshToken           string         `yaml:"refresh_token"`
	TimeoutSeconds         int            `yaml:"timeout_seconds"`
	Timeout                time.Duration  `yaml:"-"`
	RequestsPerSecond      float64        `yaml:"requests_per_second"`
	Timezone               string         `yaml:"timezone"`
	Location               *time.Location `yaml:"-"`
	PollingIntervalSeconds int            `yaml:"polling_interval_seconds"`
	PollingInterval        time.Duration  `yaml:"-"`
	HTTPProxy              string         `yaml:"http_proxy"`
}

// DeviceConfig identifies one appliance. Type is a kind name (sense, sense_guard,
// blue_home, blue_professional) or the numeric type code.
type DeviceConfig struct {
	Name                   string        `yaml:"name"`
	LocationID             string        `yaml:"location_id"`
	RoomID                 string        `yaml:"room_id"`
	ApplianceID            string        `yaml:"appliance_id"`
	Type                   string        `yaml:"type"`
	FirmwareVersion        string        `yaml:"firmware_version"`
	PollingIntervalSeconds int           `yaml:"polling_interval_seconds"`
	PollingInterval        time.Duration `yaml:"-"`
}

// Identity converts the entry into a device identity.
func (d DeviceConfig) Identity() (device.Identity, error) {
	kind, err := device.ParseKind(d.Type)
	if err != nil {
		return device.Identity{}, fmt.Errorf("device %q: %w", d.ApplianceID, err)
	}
	name := d.Name
	if name == "" {
		name = d.ApplianceID
	}
	return device.Identity{
		Name:            name,
		LocationID:      d.LocationID,
		RoomID:          d.RoomID,
		ApplianceID:     d.ApplianceID,
		Kind:            kind,
		FirmwareVersion: d.FirmwareVersion,
	}, nil
}

// PushConfig holds the VAPID keys and the receivers of web push alerts.
type PushConfig struct {
	PublicKey     string               `yaml:"vapid_public_key"`
	PrivateKey    string               `yaml:"vapid_private_key"`
	Subject       string               `yaml:"subject"`
	TTL           int                  `yaml:"ttl"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	WatchStatus   []string             `yaml:"watch_status"`
}

// Enabled reports whether alerts can be sent.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != "" && len(p.Subscriptions) > 0 && len(p.WatchStatus) > 0
}

// SubscriptionConfig is a browser push subscription.
type SubscriptionConfig struct {
	Endpoint string `yaml:"endpoint"`
	P256DH   string `yaml:"p256dh"`
	Auth     string `yaml:"auth"`
}

// MQTTConfig holds the broker the snapshots are mirrored to.
type MQTTConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Broker    string `yaml:"broker"`
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	TopicRoot string `yaml:"topic_root"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	VerboseResponses bool   `yaml:"verbose_responses"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size      int `yaml:"size"`
	QueueSize int `yaml:"queue_size"`
}

// LoadDotEnv loads variables from the given .env files (".env" when none are given).
// Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the configuration from the given path, applies environment overrides
// and fills in defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	applyEnv(&cfg)

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GROHE_REFRESH_TOKEN"); v != "" {
		cfg.Grohe.RefreshToken = v
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
}

func (cfg *Config) applyDefaults() error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 5
	}
	cfg.Server.CacheTTL = time.Duration(cfg.Server.CacheTTLSeconds) * time.Second

	if cfg.Grohe.BaseURL == "" {
		cfg.Grohe.BaseURL = "https://idp2-apigw.cloud.grohe.com/v3/iot"
	}
	if cfg.Grohe.TokenURL == "" {
		cfg.Grohe.TokenURL = cfg.Grohe.BaseURL + "/oidc/refresh"
	}
	if cfg.Grohe.ClientID == "" {
		cfg.Grohe.ClientID = "grohe-sync"
	}
	if cfg.Grohe.TimeoutSeconds <= 0 {
		cfg.Grohe.TimeoutSeconds = 10
	}
	cfg.Grohe.Timeout = time.Duration(cfg.Grohe.TimeoutSeconds) * time.Second
	if cfg.Grohe.RequestsPerSecond <= 0 {
		cfg.Grohe.RequestsPerSecond = 2
	}
	if cfg.Grohe.PollingIntervalSeconds <= 0 {
		cfg.Grohe.PollingIntervalSeconds = 300
	}
	cfg.Grohe.PollingInterval = time.Duration(cfg.Grohe.PollingIntervalSeconds) * time.Second

	loc, err := loadLocation(cfg.Grohe.Timezone)
	if err != nil {
		return err
	}
	cfg.Grohe.Location = loc

	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		if d.PollingIntervalSeconds <= 0 {
			d.PollingInterval = cfg.Grohe.PollingInterval
		} else {
			d.PollingInterval = time.Duration(d.PollingIntervalSeconds) * time.Second
		}
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "grohe-sync"
	}
	if cfg.MQTT.TopicRoot == "" {
		cfg.MQTT.TopicRoot = "grohe"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		cfg.WorkerPool.QueueSize = 64
	}
	return nil
}

func (cfg *Config) validate() error {
	if cfg.Grohe.RefreshToken == "" {
		return errors.New("grohe.refresh_token is required (or set GROHE_REFRESH_TOKEN)")
	}
	if len(cfg.Devices) == 0 {
		return errors.New("at least one device must be configured")
	}
	seen := make(map[string]bool, len(cfg.Devices))
	for i, d := range cfg.Devices {
		if d.ApplianceID == "" {
			return fmt.Errorf("devices[%d]: appliance_id is required", i)
		}
		if seen[d.ApplianceID] {
			return fmt.Errorf("devices[%d]: duplicate appliance_id %q", i, d.ApplianceID)
		}
		seen[d.ApplianceID] = true
		if _, err := d.Identity(); err != nil {
			return fmt.Errorf("devices[%d]: %w", i, err)
		}
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("grohe.timezone: %w", err)
	}
	return loc, nil
}
