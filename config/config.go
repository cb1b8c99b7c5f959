// Package config loads threatmodel.yaml, the editor runtime configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/threatmodel/rules"
	"github.com/zero-day-ai/threatmodel/session"
)

// Default values used by the getters when a field is unset or invalid.
const (
	DefaultIdleDelay       = 2 * time.Second
	DefaultTextDebounce    = 300 * time.Millisecond
	DefaultRequestTimeout  = 30 * time.Second
	DefaultGridSize        = 10
	DefaultConnectionLabel = "Connection"
	DefaultSessionTTL      = 30 * time.Second
)

// Backend types.
const (
	BackendNone  = "none"
	BackendREST  = "rest"
	BackendRedis = "redis"
)

// FileNames are looked up, in order, when Load is given a directory.
var FileNames = []string{"threatmodel.yaml", "threatmodel.yml"}

// Config represents a threatmodel.yaml file.
type Config struct {
	// ProjectID is the project opened when none is given on the command line.
	ProjectID string `yaml:"project_id,omitempty"`

	Editor    *EditorConfig    `yaml:"editor,omitempty"`
	Autosave  *AutosaveConfig  `yaml:"autosave,omitempty"`
	Backend   BackendConfig    `yaml:"backend"`
	Presence  *PresenceConfig  `yaml:"presence,omitempty"`
	Session   *SessionConfig   `yaml:"session,omitempty"`
	Logging   *LoggingConfig   `yaml:"logging,omitempty"`
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`

	// Rules replaces the default connection rule table when non-empty.
	Rules []rules.Rule `yaml:"rules,omitempty"`
}

// EditorConfig holds canvas and input settings.
type EditorConfig struct {
	// GridSize is the snapping grid spacing. Default: 10
	GridSize float64 `yaml:"grid_size,omitempty" validate:"gte=0"`

	// ConnectionLabel prefixes synthesized connection names.
	// Default: "Connection"
	ConnectionLabel string `yaml:"connection_label,omitempty"`

	// TextDebounce delays commits of text edits.
	// Format: Go duration string (e.g., "300ms"). Default: 300ms
	TextDebounce string `yaml:"text_debounce,omitempty" validate:"omitempty,duration"`
}

// GetGridSize returns the configured grid size or the default value.
func (e *EditorConfig) GetGridSize() float64 {
	if e == nil || e.GridSize <= 0 {
		return DefaultGridSize
	}
	return e.GridSize
}

// GetConnectionLabel returns the configured label or the default value.
func (e *EditorConfig) GetConnectionLabel() string {
	if e == nil || e.ConnectionLabel == "" {
		return DefaultConnectionLabel
	}
	return e.ConnectionLabel
}

// GetTextDebounce parses the text debounce string and returns a duration.
// Returns the default value if not set or invalid.
func (e *EditorConfig) GetTextDebounce() time.Duration {
	if e == nil {
		return DefaultTextDebounce
	}
	return parseDuration(e.TextDebounce, DefaultTextDebounce)
}

// AutosaveConfig holds autosave timing.
type AutosaveConfig struct {
	// IdleDelay is how long edits must pause before a save is attempted.
	// Default: 2s
	IdleDelay string `yaml:"idle_delay,omitempty" validate:"omitempty,duration"`

	// Timeout bounds a single save request. Default: 30s
	Timeout string `yaml:"timeout,omitempty" validate:"omitempty,duration"`
}

// GetIdleDelay returns the idle delay or the default value.
func (a *AutosaveConfig) GetIdleDelay() time.Duration {
	if a == nil {
		return DefaultIdleDelay
	}
	return parseDuration(a.IdleDelay, DefaultIdleDelay)
}

// GetTimeout returns the save timeout or the default value.
func (a *AutosaveConfig) GetTimeout() time.Duration {
	if a == nil {
		return DefaultRequestTimeout
	}
	return parseDuration(a.Timeout, DefaultRequestTimeout)
}

// BackendConfig selects and configures where systems are stored.
type BackendConfig struct {
	// Type is "rest", "redis" or "none". When empty it is inferred from
	// which section is present, falling back to "none".
	Type string `yaml:"type,omitempty" validate:"omitempty,oneof=rest redis none"`

	REST  *RESTConfig  `yaml:"rest,omitempty"`
	Redis *RedisConfig `yaml:"redis,omitempty"`
}

// GetType returns the backend type.
func (b BackendConfig) GetType() string {
	switch {
	case b.Type != "":
		return b.Type
	case b.REST != nil:
		return BackendREST
	case b.Redis != nil:
		return BackendRedis
	default:
		return BackendNone
	}
}

// RESTConfig configures the REST backend.
type RESTConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`

	// Token is the bearer token. TokenEnv names an environment variable
	// to read it from instead.
	Token    string `yaml:"token,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`

	// RequestsPerSecond limits outgoing requests. Zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty" validate:"gte=0"`
}

// GetToken returns the token, resolving TokenEnv when Token is empty.
func (r *RESTConfig) GetToken() string {
	if r == nil {
		return ""
	}
	if r.Token != "" {
		return r.Token
	}
	if r.TokenEnv != "" {
		return os.Getenv(r.TokenEnv)
	}
	return ""
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	// URL is the Redis connection string. Default: redis://localhost:6379
	URL string `yaml:"url,omitempty"`

	// Prefix namespaces keys. Default: "threatmodel"
	Prefix string `yaml:"prefix,omitempty"`
}

// PresenceConfig enables collaborator presence over Redis.
type PresenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url,omitempty"`

	// Prefix namespaces presence keys and channels. Default: "presence"
	Prefix string `yaml:"prefix,omitempty"`
}

// IsEnabled reports whether presence is configured and enabled.
func (p *PresenceConfig) IsEnabled() bool {
	return p != nil && p.Enabled
}

// SessionConfig enables the etcd session registry.
type SessionConfig struct {
	Endpoints []string `yaml:"endpoints" validate:"required,min=1,dive,required"`
	Namespace string   `yaml:"namespace,omitempty"`

	// TTL is the session lease lifetime. Default: 30s
	TTL string `yaml:"ttl,omitempty" validate:"omitempty,duration"`

	TLS *session.TLSConfig `yaml:"tls,omitempty"`
}

// GetTTL returns the lease TTL or the default value.
func (s *SessionConfig) GetTTL() time.Duration {
	if s == nil {
		return DefaultSessionTTL
	}
	return parseDuration(s.TTL, DefaultSessionTTL)
}

// SessionRegistry converts the section to a session.Config.
func (s *SessionConfig) SessionRegistry() session.Config {
	return session.Config{
		Endpoints: s.Endpoints,
		Namespace: s.Namespace,
		TTL:       s.GetTTL(),
		TLS:       s.TLS,
	}
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error. Default: info
	Level string `yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`

	// Format is text or json. Default: text
	Format string `yaml:"format,omitempty" validate:"omitempty,oneof=text json"`
}

// GetLevel returns the slog level.
func (l *LoggingConfig) GetLevel() slog.Level {
	if l == nil {
		return slog.LevelInfo
	}
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GetFormat returns the log format or the default value.
func (l *LoggingConfig) GetFormat() string {
	if l == nil || l.Format == "" {
		return "text"
	}
	return l.Format
}

// TelemetryConfig selects trace and metric exporters.
type TelemetryConfig struct {
	// ServiceName is reported on every span and metric.
	// Default: "threatmodel"
	ServiceName string `yaml:"service_name,omitempty"`

	// Traces is "none" or "stdout". Default: "none"
	Traces string `yaml:"traces,omitempty" validate:"omitempty,oneof=none stdout"`

	// Metrics is "none" or "stdout". Default: "none"
	Metrics string `yaml:"metrics,omitempty" validate:"omitempty,oneof=none stdout"`
}

// GetServiceName returns the service name or the default value.
func (t *TelemetryConfig) GetServiceName() string {
	if t == nil || t.ServiceName == "" {
		return "threatmodel"
	}
	return t.ServiceName
}

// TracesEnabled reports whether spans are exported.
func (t *TelemetryConfig) TracesEnabled() bool {
	return t != nil && t.Traces == "stdout"
}

// MetricsEnabled reports whether metrics are exported.
func (t *TelemetryConfig) MetricsEnabled() bool {
	return t != nil && t.Metrics == "stdout"
}

// parseDuration returns def when s is empty, invalid or not positive.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

var validate *validator.Validate

func init() {
	validate = validator.New()

	_ = validate.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d > 0
	})
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Backend.GetType() == BackendREST && c.Backend.REST == nil {
		return fmt.Errorf("invalid configuration: backend.rest is required for the rest backend")
	}
	if c.Session != nil {
		if err := c.Session.TLS.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: session: %w", err)
		}
	}
	return nil
}

// Parse decodes and validates configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Load reads and parses a threatmodel.yaml file from the given path.
// If the path is a directory, it looks for one of FileNames in it.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range FileNames {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("%w in %s", ErrNotFound, path)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// ErrNotFound is returned when no configuration file exists.
var ErrNotFound = errors.New("no threatmodel.yaml found")

// LoadFromDir searches for threatmodel.yaml starting from the given
// directory and walking up to parent directories until found or root is
// reached. A file that exists but fails to parse stops the search.
func LoadFromDir(dir string) (*Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	for {
		config, err := Load(absDir)
		if err == nil {
			return config, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		parent := filepath.Dir(absDir)
		if parent == absDir {
			return nil, fmt.Errorf("%w in %s or parent directories", ErrNotFound, dir)
		}
		absDir = parent
	}
}

// Default returns the configuration used when no file exists: no backend
// and every default applied.
func Default() *Config {
	return &Config{}
}
