// Package config provides Viper-based configuration loading for the session hub.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// HTTPConfig holds the REST and websocket listener settings.
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// AllowedOrigins lists websocket origins accepted on upgrade. "*" accepts any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// ReadHeaderTimeout bounds the time to read request headers.
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	// ShutdownTimeout bounds the graceful drain of in-flight requests.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// GRPCConfig holds the gRPC health listener settings.
type GRPCConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns the "host:port" listen address.
func (g GRPCConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// JanusConfig holds media gateway settings.
type JanusConfig struct {
	// URL is the Janus REST endpoint, e.g. "http://janus:8088/janus".
	URL string `mapstructure:"url"`
	// Plugin is the plugin package attached for publishing.
	Plugin string `mapstructure:"plugin"`
	// PollTimeout bounds a single long-poll request for asynchronous events.
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// MediaConfig holds playback settings.
type MediaConfig struct {
	// Bitrate is the publisher bitrate cap in bits per second.
	Bitrate int `mapstructure:"bitrate"`
	// EncoderCommand is the executable that produces the WebRTC offer and streams media.
	EncoderCommand string `mapstructure:"encoder_command"`
	// EncoderArgs are prepended to the per-source arguments.
	EncoderArgs []string `mapstructure:"encoder_args"`
	// ICEServers are handed to the encoder for NAT traversal.
	ICEServers []string `mapstructure:"ice_servers"`
}

// LiveConfig holds live subscriber settings.
type LiveConfig struct {
	// SendBuffer is the per-subscriber outbound queue length.
	SendBuffer int `mapstructure:"send_buffer"`
	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PingInterval is the keepalive ping period; it must be shorter than PongWait.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// PongWait is the read deadline refreshed by every pong.
	PongWait time.Duration `mapstructure:"pong_wait"`
}

// RedisConfig holds the optional event mirror settings.
type RedisConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Addrs    []string `mapstructure:"addrs"`
	Password string   `mapstructure:"password"`
	Prefix   string   `mapstructure:"prefix"`
}

// Config is the top-level application configuration.
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Janus    JanusConfig    `mapstructure:"janus"`
	Media    MediaConfig    `mapstructure:"media"`
	Live     LiveConfig     `mapstructure:"live"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	validators := []func() error{
		func() error { return validateListener("http", c.HTTP.Host, c.HTTP.Port) },
		func() error { return validateListener("grpc", c.GRPC.Host, c.GRPC.Port) },
		func() error { return validateDatabase(c.Database) },
		func() error { return validateLogging(c.Logging) },
		func() error { return validateJanus(c.Janus) },
		func() error { return validateMedia(c.Media) },
		func() error { return validateLive(c.Live) },
		func() error { return validateRedis(c.Redis) },
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if c.HTTP.Port == c.GRPC.Port {
		errs = append(errs, "http.port and grpc.port must differ")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateListener(section, host string, port int) error {
	var errs []string
	if host == "" {
		errs = append(errs, fmt.Sprintf("%s.host must not be empty", section))
	}
	if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("%s.port must be 1-65535, got %d", section, port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateJanus(j JanusConfig) error {
	var errs []string
	u, err := url.Parse(j.URL)
	if j.URL == "" || err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("janus.url must be an absolute URL, got %q", j.URL))
	}
	if j.Plugin == "" {
		errs = append(errs, "janus.plugin must not be empty")
	}
	if j.PollTimeout <= 0 {
		errs = append(errs, "janus.poll_timeout must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateMedia(m MediaConfig) error {
	var errs []string
	if m.Bitrate < 1 {
		errs = append(errs, fmt.Sprintf("media.bitrate must be >= 1, got %d", m.Bitrate))
	}
	if m.EncoderCommand == "" {
		errs = append(errs, "media.encoder_command must not be empty")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLive(l LiveConfig) error {
	var errs []string
	if l.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("live.send_buffer must be >= 1, got %d", l.SendBuffer))
	}
	if l.WriteTimeout <= 0 {
		errs = append(errs, "live.write_timeout must be positive")
	}
	if l.PingInterval <= 0 || l.PingInterval >= l.PongWait {
		errs = append(errs, "live.ping_interval must be positive and shorter than live.pong_wait")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRedis(r RedisConfig) error {
	if !r.Enabled {
		return nil
	}
	var errs []string
	if len(r.Addrs) == 0 {
		errs = append(errs, "redis.addrs must not be empty when redis.enabled is set")
	}
	if r.Prefix == "" {
		errs = append(errs, "redis.prefix must not be empty when redis.enabled is set")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with HUB_ prefix
	v.SetEnvPrefix("HUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns a Viper instance carrying only the built-in defaults.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("http.read_header_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 9090)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "tabletop")
	v.SetDefault("database.password", "tabletop")
	v.SetDefault("database.name", "tabletop")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("janus.url", "http://localhost:8088/janus")
	v.SetDefault("janus.plugin", "janus.plugin.videoroom")
	v.SetDefault("janus.poll_timeout", "30s")

	v.SetDefault("media.bitrate", 2000000)
	v.SetDefault("media.encoder_command", "webrtc-encoder")

	v.SetDefault("live.send_buffer", 64)
	v.SetDefault("live.write_timeout", "10s")
	v.SetDefault("live.ping_interval", "54s")
	v.SetDefault("live.pong_wait", "60s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.prefix", "tabletop")
}
