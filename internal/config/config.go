// Package config handles loading and validation of application
// configuration. It supports YAML-based configuration files and provides
// the transport's documented defaults.
package config

import (
	"crypto/tls"
	"crypto/x509"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/romejiang/gelfrelay/internal/acl"
	"github.com/romejiang/gelfrelay/internal/transport"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConnectTimeoutMS bounds the dial to the collector.
	DefaultConnectTimeoutMS = 15000
	// DefaultReconnectIntervalSec is how long a connection is used before
	// rotation. Negative disables rotation; zero rotates on every call.
	DefaultReconnectIntervalSec = 300
	// DefaultMaxRetries is the number of additional delivery attempts.
	DefaultMaxRetries = 2
	// DefaultRetryDelayMS is the pause between delivery attempts.
	DefaultRetryDelayMS = 3000
	// DefaultHealthCheckAddr is the default healthcheck listen address.
	DefaultHealthCheckAddr = ":9099"
)

//go:embed config.template.yml
var configTemplate string

// CollectorTLSConfig holds TLS settings for the collector connection.
type CollectorTLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"ca_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// CollectorConfig identifies the remote collector and the transport's
// connection and retry policy. The integer settings are pointers because
// zero is meaningful for all of them (unbounded dial, rotate every call,
// no retries, no pause) and must be distinguishable from unset.
type CollectorConfig struct {
	Host                 string              `yaml:"host"`
	Port                 int                 `yaml:"port"`
	ConnectTimeoutMS     *int                `yaml:"connect_timeout_ms"`
	ReconnectIntervalSec *int                `yaml:"reconnect_interval_seconds"`
	MaxRetries           *int                `yaml:"max_retries"`
	RetryDelayMS         *int                `yaml:"retry_delay_ms"`
	TLS                  *CollectorTLSConfig `yaml:"tls"`
}

// Endpoint returns the collector endpoint.
func (c *CollectorConfig) Endpoint() transport.Endpoint {
	return transport.Endpoint{Host: c.Host, Port: c.Port}
}

// ManagerConfig returns the connection lifecycle settings.
func (c *CollectorConfig) ManagerConfig() transport.ManagerConfig {
	return transport.ManagerConfig{
		ConnectTimeout:    time.Duration(*c.ConnectTimeoutMS) * time.Millisecond,
		ReconnectInterval: time.Duration(*c.ReconnectIntervalSec) * time.Second,
	}
}

// SenderConfig returns the retry policy.
func (c *CollectorConfig) SenderConfig() transport.Config {
	return transport.Config{
		MaxRetries: *c.MaxRetries,
		RetryDelay: time.Duration(*c.RetryDelayMS) * time.Millisecond,
	}
}

// Dialer builds the dial capability for the collector: plain TCP, or TLS
// when enabled, loading the CA bundle if one is configured.
func (c *CollectorConfig) Dialer() (transport.Dialer, error) {
	if c.TLS == nil || !c.TLS.Enabled {
		return transport.NetDialer{}, nil
	}

	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         c.TLS.ServerName,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify, // #nosec G402 -- operator opt-in for self-signed collectors
	}
	if c.TLS.CAFile != "" {
		pem, err := os.ReadFile(c.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in CA file %s", c.TLS.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return transport.TLSDialer{Config: tlsCfg}, nil
}

// ListenerTLSConfig holds the ingress TLS certificate configuration.
// Both CertFile and KeyFile must be specified together.
type ListenerTLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ListenerConfig holds configuration for the relay ingress.
type ListenerConfig struct {
	Enabled       bool               `yaml:"enabled"`
	ListenAddr    string             `yaml:"listen_addr"`
	AllowedCIDRs  string             `yaml:"allowed_cidrs"`
	MaxFrameBytes int                `yaml:"max_frame_bytes"`
	TLS           *ListenerTLSConfig `yaml:"tls"`
}

// DLQConfig holds dead letter queue configuration.
type DLQConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// CircuitBreakerConfig holds delivery guard configuration for the
// ingress. Disabled by default so the transport's retry semantics are
// unchanged unless an operator opts in.
type CircuitBreakerConfig struct {
	Enabled          bool `yaml:"enabled"`
	FailureThreshold int  `yaml:"failure_threshold"`
	SuccessThreshold int  `yaml:"success_threshold"`
	CoolDownSeconds  int  `yaml:"cool_down_seconds"`
	HalfOpenMaxCalls int  `yaml:"half_open_max_calls"`
}

// Config represents the complete application configuration.
type Config struct {
	Collector          CollectorConfig       `yaml:"collector"`
	Listener           *ListenerConfig       `yaml:"listener"`
	DLQ                *DLQConfig            `yaml:"dlq"`
	CircuitBreaker     *CircuitBreakerConfig `yaml:"circuit_breaker"`
	HealthCheckEnabled bool                  `yaml:"health_check_enabled"`
	HealthCheckAddr    string                `yaml:"health_check_addr"`
	MetricsAddr        string                `yaml:"metrics_addr"`
}

// LoadConfig reads and validates configuration from the specified YAML
// file. Unset transport settings receive the documented defaults;
// explicit zeroes are preserved because they carry meaning.
func LoadConfig(configFile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("configuration file is required")
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configFile)
	}

	// #nosec G304 -- configFile is provided by the user via the --config
	// flag, which is the documented way to specify the configuration path.
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %v", err)
	}

	applyDefaults(config)

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	slog.Info("loaded configuration", "file", configFile)
	return config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Collector.ConnectTimeoutMS == nil {
		cfg.Collector.ConnectTimeoutMS = intPtr(DefaultConnectTimeoutMS)
	}
	if cfg.Collector.ReconnectIntervalSec == nil {
		cfg.Collector.ReconnectIntervalSec = intPtr(DefaultReconnectIntervalSec)
	}
	if cfg.Collector.MaxRetries == nil {
		cfg.Collector.MaxRetries = intPtr(DefaultMaxRetries)
	}
	if cfg.Collector.RetryDelayMS == nil {
		cfg.Collector.RetryDelayMS = intPtr(DefaultRetryDelayMS)
	}
	if cfg.HealthCheckAddr == "" {
		cfg.HealthCheckAddr = DefaultHealthCheckAddr
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Collector.Host == "" {
		return fmt.Errorf("collector.host is required")
	}
	if cfg.Collector.Port <= 0 || cfg.Collector.Port > 65535 {
		return fmt.Errorf("collector.port must be between 1 and 65535, got %d", cfg.Collector.Port)
	}
	if *cfg.Collector.ConnectTimeoutMS < 0 {
		return fmt.Errorf("collector.connect_timeout_ms must not be negative")
	}
	if *cfg.Collector.MaxRetries < 0 {
		return fmt.Errorf("collector.max_retries must not be negative")
	}
	if *cfg.Collector.RetryDelayMS < 0 {
		return fmt.Errorf("collector.retry_delay_ms must not be negative")
	}

	if cfg.Collector.TLS != nil && cfg.Collector.TLS.CAFile != "" {
		if _, err := os.Stat(cfg.Collector.TLS.CAFile); err != nil {
			return fmt.Errorf("collector TLS CA file not accessible: %w", err)
		}
	}

	if cfg.Listener != nil && cfg.Listener.Enabled {
		if cfg.Listener.ListenAddr == "" {
			return fmt.Errorf("listener.listen_addr is required when the listener is enabled")
		}
		if cfg.Listener.MaxFrameBytes < 0 {
			return fmt.Errorf("listener.max_frame_bytes must not be negative")
		}
		if cfg.Listener.AllowedCIDRs != "" {
			if _, err := acl.New(cfg.Listener.AllowedCIDRs); err != nil {
				return fmt.Errorf("listener.allowed_cidrs: %w", err)
			}
		}
		if cfg.Listener.TLS != nil {
			if (cfg.Listener.TLS.CertFile == "") != (cfg.Listener.TLS.KeyFile == "") {
				return fmt.Errorf("both listener tls.cert_file and tls.key_file must be specified or both omitted")
			}
			if cfg.Listener.TLS.CertFile != "" {
				if _, err := os.Stat(cfg.Listener.TLS.CertFile); err != nil {
					return fmt.Errorf("listener TLS cert file not accessible: %w", err)
				}
				if _, err := os.Stat(cfg.Listener.TLS.KeyFile); err != nil {
					return fmt.Errorf("listener TLS key file not accessible: %w", err)
				}
				if _, err := tls.LoadX509KeyPair(cfg.Listener.TLS.CertFile, cfg.Listener.TLS.KeyFile); err != nil {
					return fmt.Errorf("failed to load listener TLS certificate: %w", err)
				}
			}
		}
	}

	if cfg.DLQ != nil && cfg.DLQ.Enabled && cfg.DLQ.Dir == "" {
		return fmt.Errorf("dlq.dir is required when the DLQ is enabled")
	}

	if cfg.CircuitBreaker != nil && cfg.CircuitBreaker.Enabled {
		if cfg.CircuitBreaker.FailureThreshold < 0 {
			return fmt.Errorf("circuit_breaker.failure_threshold must not be negative")
		}
	}

	return nil
}

// GetTemplate returns the embedded YAML configuration template.
func GetTemplate() string {
	return configTemplate
}

func intPtr(v int) *int {
	return &v
}
