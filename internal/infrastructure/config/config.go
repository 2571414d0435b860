package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Haier bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Account  AccountConfig  `yaml:"account"`
	Cloud    CloudConfig    `yaml:"cloud"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Devices  DevicesConfig  `yaml:"devices"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// AccountConfig identifies the vendor account the bridge acts for.
//
// AccessToken and ExpiresAt are optional seeds. Once the bridge has refreshed
// a token it persists the result in the database and the stored copy wins.
type AccountConfig struct {
	ClientID     string `yaml:"client_id"`
	RefreshToken string `yaml:"refresh_token"`
	AccessToken  string `yaml:"access_token"`
	// ExpiresAt is a unix timestamp in seconds.
	ExpiresAt int64 `yaml:"expires_at"`
}

// CloudConfig contains vendor cloud credentials and endpoints.
type CloudConfig struct {
	AppID       string               `yaml:"app_id"`
	AppKey      string               `yaml:"app_key"`
	Timezone    string               `yaml:"timezone"`
	Language    string               `yaml:"language"`
	HTTPTimeout int                  `yaml:"http_timeout"`
	Endpoints   CloudEndpointsConfig `yaml:"endpoints"`
}

// CloudEndpointsConfig lists the REST endpoints used by the bridge.
type CloudEndpointsConfig struct {
	RefreshToken  string `yaml:"refresh_token"`
	UserInfo      string `yaml:"user_info"`
	Devices       string `yaml:"devices"`
	GatewayAssign string `yaml:"gateway_assign"`
	DigitalModel  string `yaml:"digital_model"`
}

// GatewayConfig contains WebSocket gateway session settings (seconds).
type GatewayConfig struct {
	HeartbeatInterval int `yaml:"heartbeat_interval"`
	ReconnectDelay    int `yaml:"reconnect_delay"`
	HandshakeTimeout  int `yaml:"handshake_timeout"`
	WriteTimeout      int `yaml:"write_timeout"`
	HealthInterval    int `yaml:"health_interval"`
}

// DevicesConfig selects which devices the gateway session subscribes to.
type DevicesConfig struct {
	// FilterType is "include" or "exclude".
	FilterType string   `yaml:"filter_type"`
	Targets    []string `yaml:"targets"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
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
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains the HMAC secret used to verify API bearer tokens.
// An empty secret leaves the API unauthenticated.
type JWTConfig struct {
	Secret string `yaml:"secret"`

	// AccessTokenTTL is the lifetime in minutes of tokens minted by
	// haierbridge -issue-token.
	AccessTokenTTL int `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HAIER_SECTION_KEY
// For example: HAIER_REFRESH_TOKEN, HAIER_DATABASE_PATH
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

// defaultConfig returns a Config with the vendor's public app credentials
// and production endpoints.
func defaultConfig() *Config {
	return &Config{
		Cloud: CloudConfig{
			AppID:       "MB-SHEZJAPPWXXCX-0000",
			AppKey:      "79ce99cc7f9804663939676031b8a427",
			Timezone:    "+8",
			Language:    "zh-CN",
			HTTPTimeout: 15,
			Endpoints: CloudEndpointsConfig{
				RefreshToken:  "https://zj.haier.net/api-gw/oauthserver/account/v1/refreshToken",
				UserInfo:      "https://account-api.haier.net/v2/haier/userinfo",
				Devices:       "https://uws.haier.net/uds/v1/protected/deviceinfos",
				GatewayAssign: "https://uws.haier.net/gmsWS/wsag/assign",
				DigitalModel:  "https://uws.haier.net/shadow/v1/devdigitalmodels",
			},
		},
		Gateway: GatewayConfig{
			HeartbeatInterval: 60,
			ReconnectDelay:    30,
			HandshakeTimeout:  15,
			WriteTimeout:      10,
			HealthInterval:    30,
		},
		Devices: DevicesConfig{
			FilterType: "exclude",
		},
		Database: DatabaseConfig{
			Path:        "./data/haierbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "haier-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "haier",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8088,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
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
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60 * 24 * 30,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HAIER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Account
	if v := os.Getenv("HAIER_CLIENT_ID"); v != "" {
		cfg.Account.ClientID = v
	}
	if v := os.Getenv("HAIER_REFRESH_TOKEN"); v != "" {
		cfg.Account.RefreshToken = v
	}
	if v := os.Getenv("HAIER_ACCESS_TOKEN"); v != "" {
		cfg.Account.AccessToken = v
	}
	if v := os.Getenv("HAIER_EXPIRES_AT"); v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Account.ExpiresAt = ts
		}
	}

	// Database
	if v := os.Getenv("HAIER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("HAIER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HAIER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HAIER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("HAIER_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("HAIER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("HAIER_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Account validation
	if c.Account.ClientID == "" {
		errs = append(errs, "account.client_id is required (set HAIER_CLIENT_ID)")
	}
	if c.Account.RefreshToken == "" {
		errs = append(errs, "account.refresh_token is required (set HAIER_REFRESH_TOKEN)")
	}

	// Cloud validation
	if c.Cloud.AppID == "" || c.Cloud.AppKey == "" {
		errs = append(errs, "cloud.app_id and cloud.app_key are required")
	}

	// Gateway validation
	if c.Gateway.HeartbeatInterval < 1 {
		errs = append(errs, "gateway.heartbeat_interval must be at least 1 second")
	}
	if c.Gateway.ReconnectDelay < 1 {
		errs = append(errs, "gateway.reconnect_delay must be at least 1 second")
	}

	// Device filter validation
	switch c.Devices.FilterType {
	case "include", "exclude":
	default:
		errs = append(errs, "devices.filter_type must be include or exclude")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// A configured JWT secret must be long enough to resist brute force.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
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

// HeartbeatIntervalDuration returns the gateway heartbeat period as a Duration.
func (g GatewayConfig) HeartbeatIntervalDuration() time.Duration {
	return time.Duration(g.HeartbeatInterval) * time.Second
}

// ReconnectDelayDuration returns the fixed gateway reconnect delay as a Duration.
func (g GatewayConfig) ReconnectDelayDuration() time.Duration {
	return time.Duration(g.ReconnectDelay) * time.Second
}

// ExpiresAtTime returns the configured access token expiry, or the zero
// time when none is configured.
func (a AccountConfig) ExpiresAtTime() time.Time {
	if a.ExpiresAt <= 0 {
		return time.Time{}
	}
	return time.Unix(a.ExpiresAt, 0)
}
