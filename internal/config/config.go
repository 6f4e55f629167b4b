// Package config provides configuration types for diagscope.
//
// The schema covers the embedded diagnostic server only. Every section is
// optional: an empty file (or no file at all) yields a loopback server on
// an ephemeral port with the built-in diagnostic handlers.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for diagscope.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Files configures the file explorer handlers.
	Files FilesConfig `yaml:"files" mapstructure:"files"`

	// Databases configures the SQLite browser handlers.
	Databases DatabasesConfig `yaml:"databases" mapstructure:"databases"`

	// Notify configures the ready-event queue.
	Notify NotifyConfig `yaml:"notify" mapstructure:"notify"`

	// Tracing configures dispatch spans.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// Routes defines static responses matched by CEL expressions.
	Routes []RouteConfig `yaml:"routes" mapstructure:"routes" validate:"omitempty,dive"`

	// DevMode enables development features (debug logging, default roots).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address (e.g., "127.0.0.1:0", ":8080").
	// Defaults to "127.0.0.1:0": loopback only, ephemeral port.
	Addr string `yaml:"addr" mapstructure:"addr" validate:"required,listen_addr"`
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	// Defaults to "info".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	// ShutdownTimeout bounds graceful shutdown (e.g., "10s").
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty,duration"`
	// ReadHeaderTimeout bounds how long clients may take to send headers.
	ReadHeaderTimeout string `yaml:"read_header_timeout" mapstructure:"read_header_timeout" validate:"omitempty,duration"`
	// TrailingSlash is "strict" (paths as received) or "strip".
	TrailingSlash string `yaml:"trailing_slash" mapstructure:"trailing_slash" validate:"omitempty,oneof=strict strip"`
	// Compression enables gzip replies. Defaults to true.
	Compression bool `yaml:"compression" mapstructure:"compression"`
	// MaxBodyBytes limits request bodies. 0 means unlimited.
	MaxBodyBytes int64 `yaml:"max_body_bytes" mapstructure:"max_body_bytes" validate:"gte=0"`
}

// FilesConfig configures the file explorer.
type FilesConfig struct {
	// Root is the directory exposed by /api/files. Empty disables the explorer.
	Root string `yaml:"root" mapstructure:"root"`
	// AllowDelete enables DELETE /api/files. Defaults to false.
	AllowDelete bool `yaml:"allow_delete" mapstructure:"allow_delete"`
}

// DatabasesConfig configures the SQLite browser.
type DatabasesConfig struct {
	// Dir is scanned for SQLite files. Empty disables the browser.
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// NotifyConfig configures the ready-event queue.
type NotifyConfig struct {
	// QueueSize is the event buffer size. Defaults to 100.
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size" validate:"gte=0"`
}

// TracingConfig configures OpenTelemetry spans.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Exporter is "stdout" or "none". Defaults to "none".
	Exporter string `yaml:"exporter" mapstructure:"exporter" validate:"omitempty,oneof=stdout none"`
}

// RouteConfig is one static response served when Match evaluates to true.
type RouteConfig struct {
	// Name identifies the route in the index and metrics.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`
	// Match is a CEL expression over method, path, query, headers,
	// remote_addr and remote_ip.
	Match string `yaml:"match" mapstructure:"match" validate:"required"`
	// Priority orders the route against the built-in handlers (default 0).
	Priority int `yaml:"priority" mapstructure:"priority"`
	// Status defaults to 200.
	Status int `yaml:"status" mapstructure:"status" validate:"omitempty,min=200,max=599"`
	// MIMEType defaults to "text/plain".
	MIMEType string `yaml:"mime_type" mapstructure:"mime_type"`
	Body     string `yaml:"body" mapstructure:"body"`
}

// ShutdownTimeoutDuration returns Server.ShutdownTimeout parsed, or 10s.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	return parseDurationOr(c.Server.ShutdownTimeout, 10*time.Second)
}

// ReadHeaderTimeoutDuration returns Server.ReadHeaderTimeout parsed, or 10s.
func (c *Config) ReadHeaderTimeoutDuration() time.Duration {
	return parseDurationOr(c.Server.ReadHeaderTimeout, 10*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// SetDevDefaults applies permissive defaults for development mode.
// These defaults are applied BEFORE validation.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	c.Server.LogLevel = "debug"

	// Expose the working directory when nothing else is configured
	if c.Files.Root == "" {
		c.Files.Root = "."
	}
	if c.Databases.Dir == "" {
		c.Databases.Dir = "."
	}
	if !viper.IsSet("tracing.enabled") {
		c.Tracing.Enabled = true
		if c.Tracing.Exporter == "" || c.Tracing.Exporter == "none" {
			c.Tracing.Exporter = "stdout"
		}
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only. Users who need network access must set
	// server.addr explicitly, e.g. "0.0.0.0:8080".
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:0"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}
	if c.Server.ReadHeaderTimeout == "" {
		c.Server.ReadHeaderTimeout = "10s"
	}
	if c.Server.TrailingSlash == "" {
		c.Server.TrailingSlash = "strict"
	}
	// viper.IsSet distinguishes "not set" (zero value) from "explicitly false".
	if !viper.IsSet("server.compression") {
		c.Server.Compression = true
	}
	if c.Server.MaxBodyBytes == 0 && !viper.IsSet("server.max_body_bytes") {
		c.Server.MaxBodyBytes = 10 << 20
	}

	if c.Notify.QueueSize == 0 {
		c.Notify.QueueSize = 100
	}

	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "none"
	}

	for i := range c.Routes {
		if c.Routes[i].Status == 0 {
			c.Routes[i].Status = 200
		}
		if c.Routes[i].MIMEType == "" {
			c.Routes[i].MIMEType = "text/plain"
		}
	}
}
