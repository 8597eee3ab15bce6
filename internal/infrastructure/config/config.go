package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for brokerlink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Cluster       ClusterConfig   `yaml:"cluster"`
	Subscriptions []string        `yaml:"subscriptions"`
	Logging       LoggingConfig   `yaml:"logging"`
	Journal       JournalConfig   `yaml:"journal"`
	InfluxDB      InfluxDBConfig  `yaml:"influxdb"`
	Discovery     DiscoveryConfig `yaml:"discovery"`
	Console       ConsoleConfig   `yaml:"console"`
	API           APIConfig       `yaml:"api"`
	WebSocket     WebSocketConfig `yaml:"websocket"`
	Security      SecurityConfig  `yaml:"security"`
	Sidecar       SidecarConfig   `yaml:"sidecar"`
}

// ClusterConfig describes the candidate broker endpoints and how the
// supervisor moves between them.
type ClusterConfig struct {
	// RandomOrder selects the next endpoint uniformly at random instead of
	// advancing sequentially.
	RandomOrder bool `yaml:"random_order"`

	// MaxFallbackRetries is the number of consecutive fallovers allowed
	// before the supervisor deactivates.
	MaxFallbackRetries int `yaml:"max_fallback_retries"`

	// FallbackDelayMillis is the wait before moving to the next endpoint.
	FallbackDelayMillis int `yaml:"fallback_delay_ms"`

	// Dispatch controls inbound message delivery when several handlers are
	// registered for the same topic: "first" or "all".
	Dispatch string `yaml:"dispatch"`

	// Template holds cluster-wide endpoint defaults.
	Template EndpointOverrides `yaml:"template"`

	// Endpoints lists the candidate brokers. Each entry overrides Template.
	Endpoints []EndpointOverrides `yaml:"endpoints"`
}

// Dispatch modes.
const (
	DispatchFirst = "first"
	DispatchAll   = "all"
)

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// JournalConfig contains settings for the SQLite lifecycle journal.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays bounds how long entries are kept. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
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

// DiscoveryConfig contains mDNS endpoint discovery settings.
type DiscoveryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Service   string `yaml:"service"`
	Domain    string `yaml:"domain"`
	TimeoutMS int    `yaml:"timeout_ms"`
	Interface string `yaml:"interface"`
}

// ConsoleConfig contains interactive console settings.
type ConsoleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Prompt  string `yaml:"prompt"`
}

// APIConfig contains admin HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
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
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains settings for the live event stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// SecurityConfig contains API security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains bearer token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`

	// TokenTTL is the lifetime in minutes of tokens issued by
	// "brokerlink token".
	TokenTTL int `yaml:"token_ttl"`
}

// SidecarConfig describes a local broker process supervised by brokerlink
// and appended as the last-resort endpoint.
type SidecarConfig struct {
	Enabled bool     `yaml:"enabled"`
	Binary  string   `yaml:"binary"`
	Args    []string `yaml:"args"`
	WorkDir string   `yaml:"work_dir"`

	// Host and Port are where the local broker listens.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ReadyTimeout is how long, in seconds, to wait for the port to accept
	// connections after start.
	ReadyTimeout int `yaml:"ready_timeout"`

	// RestartDelay is the wait in seconds before restarting a crashed broker.
	RestartDelay int `yaml:"restart_delay"`

	// MaxRestarts limits restart attempts. 0 means unlimited.
	MaxRestarts int `yaml:"max_restarts"`

	// HealthInterval is the watchdog probe period in seconds.
	HealthInterval int `yaml:"health_interval"`
}

// minJWTSecretLength is the shortest HS256 secret accepted.
const minJWTSecretLength = 32

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BROKERLINK_SECTION_KEY
// For example: BROKERLINK_MQTT_USERNAME, BROKERLINK_JOURNAL_PATH
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
		Cluster: ClusterConfig{
			MaxFallbackRetries:  3,
			FallbackDelayMillis: 500,
			Dispatch:            DispatchFirst,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Journal: JournalConfig{
			Path:          "./data/brokerlink.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Discovery: DiscoveryConfig{
			Service:   "_mqtt._tcp",
			Domain:    "local.",
			TimeoutMS: 2000,
		},
		Console: ConsoleConfig{
			Prompt: "brokerlink> ",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8095,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				TokenTTL: 720,
			},
		},
		Sidecar: SidecarConfig{
			Binary:         "mosquitto",
			Host:           "127.0.0.1",
			Port:           1884,
			ReadyTimeout:   10,
			RestartDelay:   5,
			MaxRestarts:    10,
			HealthInterval: 30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Credentials land on the cluster template so every endpoint inherits them.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BROKERLINK_MQTT_USERNAME"); v != "" {
		cfg.Cluster.Template.Username = &v
	}
	if v := os.Getenv("BROKERLINK_MQTT_PASSWORD"); v != "" {
		cfg.Cluster.Template.Password = &v
	}
	if v := os.Getenv("BROKERLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("BROKERLINK_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv("BROKERLINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BROKERLINK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if len(c.Cluster.Endpoints) == 0 && !c.Discovery.Enabled && !c.Sidecar.Enabled {
		errs = append(errs, "cluster.endpoints must contain at least one endpoint")
	}
	errs = append(errs, c.Cluster.Template.validate("cluster.template")...)
	for i, o := range c.Cluster.Endpoints {
		errs = append(errs, o.validate(fmt.Sprintf("cluster.endpoints[%d]", i))...)
	}
	for i, ep := range c.Cluster.BuildEndpoints() {
		errs = append(errs, ep.validate(fmt.Sprintf("cluster.endpoints[%d]", i))...)
	}

	if c.Cluster.MaxFallbackRetries < 0 {
		errs = append(errs, "cluster.max_fallback_retries must not be negative")
	}
	if c.Cluster.FallbackDelayMillis < 0 {
		errs = append(errs, "cluster.fallback_delay_ms must not be negative")
	}
	switch c.Cluster.Dispatch {
	case DispatchFirst, DispatchAll:
	default:
		errs = append(errs, "cluster.dispatch must be \"first\" or \"all\"")
	}

	for i, topic := range c.Subscriptions {
		if strings.TrimSpace(topic) == "" {
			errs = append(errs, fmt.Sprintf("subscriptions[%d] must not be empty", i))
		}
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when the journal is enabled")
	}

	if c.Journal.RetentionDays < 0 {
		errs = append(errs, "journal.retention_days must not be negative")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if c.Discovery.Enabled && c.Discovery.Service == "" {
		errs = append(errs, "discovery.service is required when discovery is enabled")
	}

	if c.API.Enabled {
		if c.API.Port < 0 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 0 and 65535")
		}
		if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, fmt.Sprintf("security.jwt.secret must be at least %d characters when the api is enabled", minJWTSecretLength))
		}
		if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
			errs = append(errs, "api.tls.cert_file and api.tls.key_file are required when tls is enabled")
		}
		if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongTimeout <= 0 {
			errs = append(errs, "websocket.ping_interval and websocket.pong_timeout must be positive")
		}
	}

	if c.Sidecar.Enabled {
		if c.Sidecar.Binary == "" {
			errs = append(errs, "sidecar.binary is required when the sidecar is enabled")
		}
		if c.Sidecar.Port <= 0 || c.Sidecar.Port > 65535 {
			errs = append(errs, "sidecar.port must be between 1 and 65535")
		}
		if c.Sidecar.ReadyTimeout <= 0 {
			errs = append(errs, "sidecar.ready_timeout must be positive")
		}
		if c.Sidecar.MaxRestarts < 0 {
			errs = append(errs, "sidecar.max_restarts must not be negative")
		}
		if c.Sidecar.RestartDelay < 0 || c.Sidecar.HealthInterval < 0 {
			errs = append(errs, "sidecar.restart_delay and sidecar.health_interval must not be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// FallbackDelay returns the wait between fallovers as a Duration.
func (c ClusterConfig) FallbackDelay() time.Duration {
	return time.Duration(c.FallbackDelayMillis) * time.Millisecond
}

// Retention returns the journal retention window as a Duration.
func (c JournalConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// TokenLifetime returns the issued token lifetime as a Duration.
func (c JWTConfig) TokenLifetime() time.Duration {
	return time.Duration(c.TokenTTL) * time.Minute
}

// DiscoveryTimeout returns the mDNS browse window as a Duration.
func (c DiscoveryConfig) DiscoveryTimeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Address returns the host:port the sidecar broker listens on.
func (c SidecarConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
