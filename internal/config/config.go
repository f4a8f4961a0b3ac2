// ABOUTME: Configuration loading and parsing for the checkaso coordinator and agent
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/knyazev692/checkaso/internal/auth"
	"github.com/knyazev692/checkaso/internal/protocol"
)

// EnvConfigPath names the environment variable that points at the config file.
const EnvConfigPath = "CHECKASO_CONFIG"

// Config is shared by checkaso-admin and checkaso-agent. Each binary reads
// the sections it needs.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
	Coordinator CoordinatorConfig `yaml:"coordinator" toml:"coordinator"`
	Discovery   DiscoveryConfig   `yaml:"discovery" toml:"discovery"`
	Control     ControlConfig     `yaml:"control" toml:"control"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	Agent       AgentConfig       `yaml:"agent" toml:"agent"`
	DND         DNDConfig         `yaml:"dnd" toml:"dnd"`
	Notify      NotifyConfig      `yaml:"notify" toml:"notify"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	// File, when set, also writes logs to a size-rotated file.
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

// CoordinatorConfig holds the session server settings.
type CoordinatorConfig struct {
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr"`
	// AdvertiseIP is put in beacons. Empty means the outbound-route address.
	AdvertiseIP       string   `yaml:"advertise_ip" toml:"advertise_ip"`
	HandshakeTimeout  Duration `yaml:"handshake_timeout" toml:"handshake_timeout"`
	ReadTimeout       Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout      Duration `yaml:"write_timeout" toml:"write_timeout"`
	SendAttempts      int      `yaml:"send_attempts" toml:"send_attempts"`
	SendBackoff       Duration `yaml:"send_backoff" toml:"send_backoff"`
	InitialProbeDelay Duration `yaml:"initial_probe_delay" toml:"initial_probe_delay"`
	KeepAlive         Duration `yaml:"keepalive" toml:"keepalive"`
}

// DiscoveryConfig holds the UDP beacon settings used by both sides.
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
	Port    int  `yaml:"port" toml:"port"`
	// Broadcast is an IPv4 address or "auto".
	Broadcast string   `yaml:"broadcast" toml:"broadcast"`
	Interval  Duration `yaml:"interval" toml:"interval"`
}

// ControlConfig holds the HTTP control API settings.
type ControlConfig struct {
	// HTTPAddr is where the coordinator serves the API. Empty disables it.
	HTTPAddr  string `yaml:"http_addr" toml:"http_addr"`
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
	// URL and Token are used by the admin CLI to reach a running coordinator.
	URL   string `yaml:"url" toml:"url"`
	Token string `yaml:"token" toml:"token"`
	// IdempotencyTTL is how long Idempotency-Key responses are replayed.
	// Zero disables replay.
	IdempotencyTTL Duration `yaml:"idempotency_ttl" toml:"idempotency_ttl"`
}

// DatabaseConfig holds the session journal settings.
type DatabaseConfig struct {
	// Path of the SQLite journal. Empty disables journaling.
	Path string `yaml:"path" toml:"path"`
	// Retention prunes events older than this. Zero keeps everything.
	Retention Duration `yaml:"retention" toml:"retention"`
}

// AgentConfig holds the agent's connection manager settings.
type AgentConfig struct {
	// Hostname defaults to the OS hostname.
	Hostname string `yaml:"hostname" toml:"hostname"`
	// Coordinator is an optional static "ip:port" used instead of waiting
	// for a beacon.
	Coordinator       string   `yaml:"coordinator" toml:"coordinator"`
	ConnectTimeout    Duration `yaml:"connect_timeout" toml:"connect_timeout"`
	HandshakeTimeout  Duration `yaml:"handshake_timeout" toml:"handshake_timeout"`
	WriteTimeout      Duration `yaml:"write_timeout" toml:"write_timeout"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	LivenessTimeout   Duration `yaml:"liveness_timeout" toml:"liveness_timeout"`
	ReconnectDelay    Duration `yaml:"reconnect_delay" toml:"reconnect_delay"`
	MaxFailures       int      `yaml:"max_failures" toml:"max_failures"`
}

// DNDConfig says where the agent reads the phone's DND flag.
type DNDConfig struct {
	// File defaults to the MicroSIP ini in the user config directory.
	File         string   `yaml:"file" toml:"file"`
	PollInterval Duration `yaml:"poll_interval" toml:"poll_interval"`
}

// NotifyConfig holds the agent's desktop notification settings.
type NotifyConfig struct {
	// Command is argv with {title} and {body} placeholders. Empty uses the
	// platform default, and "log" only logs messages.
	Command []string `yaml:"command" toml:"command"`
	Timeout Duration `yaml:"timeout" toml:"timeout"`
	Rate    float64  `yaml:"rate" toml:"rate"`
	Burst   int      `yaml:"burst" toml:"burst"`
	Title   string   `yaml:"title" toml:"title"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Coordinator: CoordinatorConfig{
			ListenAddr:        fmt.Sprintf(":%d", protocol.DefaultSessionPort),
			HandshakeTimeout:  Duration(10 * time.Second),
			ReadTimeout:       Duration(30 * time.Second),
			WriteTimeout:      Duration(5 * time.Second),
			SendAttempts:      3,
			SendBackoff:       Duration(time.Second),
			InitialProbeDelay: Duration(time.Second),
			KeepAlive:         Duration(15 * time.Second),
		},
		Discovery: DiscoveryConfig{
			Enabled:   true,
			Port:      protocol.DefaultDiscoveryPort,
			Broadcast: "255.255.255.255",
			Interval:  Duration(5 * time.Second),
		},
		Control: ControlConfig{
			HTTPAddr:       "127.0.0.1:8082",
			URL:            "http://127.0.0.1:8082",
			IdempotencyTTL: Duration(10 * time.Minute),
		},
		Agent: AgentConfig{
			ConnectTimeout:    Duration(10 * time.Second),
			HandshakeTimeout:  Duration(10 * time.Second),
			WriteTimeout:      Duration(5 * time.Second),
			HeartbeatInterval: Duration(15 * time.Second),
			LivenessTimeout:   Duration(60 * time.Second),
			ReconnectDelay:    Duration(5 * time.Second),
			MaxFailures:       3,
		},
		DND: DNDConfig{
			PollInterval: Duration(2 * time.Second),
		},
		Notify: NotifyConfig{
			Timeout: Duration(10 * time.Second),
			Rate:    0.1,
			Burst:   3,
			Title:   "Message from server",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Keys missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// DefaultPath is $XDG_CONFIG_HOME/checkaso/checkaso.yaml, or the OS user
// config directory when XDG_CONFIG_HOME is unset.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		var err error
		if dir, err = os.UserConfigDir(); err != nil {
			return "checkaso.yaml"
		}
	}
	return filepath.Join(dir, "checkaso", "checkaso.yaml")
}

// Resolve picks the config path: the flag value, then $CHECKASO_CONFIG,
// then DefaultPath. explicit is false only for the default path.
func Resolve(flagPath string) (path string, explicit bool) {
	if flagPath != "" {
		return flagPath, true
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env, true
	}
	return DefaultPath(), false
}

// LoadResolved resolves the path and loads it. A missing default file
// yields Default(); a missing explicit file is an error.
func LoadResolved(flagPath string) (*Config, string, error) {
	path, explicit := Resolve(flagPath)
	cfg, err := Load(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), "", nil
		}
		return nil, path, err
	}
	return cfg, path, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	if c.Coordinator.ListenAddr == "" {
		return fmt.Errorf("coordinator.listen_addr is required")
	}
	if c.Coordinator.SendAttempts < 1 {
		return fmt.Errorf("coordinator.send_attempts must be at least 1")
	}
	if c.Coordinator.AdvertiseIP != "" {
		if ip := net.ParseIP(c.Coordinator.AdvertiseIP); ip == nil || ip.To4() == nil {
			return fmt.Errorf("coordinator.advertise_ip %q is not an IPv4 address", c.Coordinator.AdvertiseIP)
		}
	}

	if c.Discovery.Port < 1 || c.Discovery.Port > 65535 {
		return fmt.Errorf("discovery.port %d out of range", c.Discovery.Port)
	}
	if c.Discovery.Interval <= 0 {
		return fmt.Errorf("discovery.interval must be positive")
	}

	if c.Control.JWTSecret != "" && len(c.Control.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf("control.jwt_secret must be at least %d bytes", auth.MinSecretLength)
	}
	if c.Control.IdempotencyTTL < 0 {
		return fmt.Errorf("control.idempotency_ttl must not be negative")
	}
	if c.Database.Retention < 0 {
		return fmt.Errorf("database.retention must not be negative")
	}

	if c.Agent.Coordinator != "" {
		if _, err := protocol.ParseAddress(c.Agent.Coordinator); err != nil {
			return fmt.Errorf("agent.coordinator: %w", err)
		}
	}
	if c.Agent.Hostname != "" {
		if err := protocol.ValidateHostname(c.Agent.Hostname); err != nil {
			return fmt.Errorf("agent.hostname: %w", err)
		}
	}
	if c.Agent.MaxFailures < 1 {
		return fmt.Errorf("agent.max_failures must be at least 1")
	}
	for name, d := range map[string]Duration{
		"agent.heartbeat_interval": c.Agent.HeartbeatInterval,
		"agent.liveness_timeout":   c.Agent.LivenessTimeout,
		"agent.reconnect_delay":    c.Agent.ReconnectDelay,
		"dnd.poll_interval":        c.DND.PollInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Agent.LivenessTimeout <= c.Agent.HeartbeatInterval {
		return fmt.Errorf("agent.liveness_timeout must exceed agent.heartbeat_interval")
	}

	if c.Notify.Rate < 0 || c.Notify.Burst < 0 {
		return fmt.Errorf("notify.rate and notify.burst must not be negative")
	}

	return nil
}
