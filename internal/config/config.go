// Package config loads the solarmqtt command configuration from YAML with
// environment overrides.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/solarmqtt/mq/store"
)

// Config is the root configuration.
type Config struct {
	Broker  BrokerConfig  `yaml:"broker"`
	Session SessionConfig `yaml:"session"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
}

// BrokerConfig selects the server and credentials.
type BrokerConfig struct {
	Host     string    `yaml:"host"`
	Port     int       `yaml:"port"`
	TLS      TLSConfig `yaml:"tls"`
	ClientID string    `yaml:"client_id"`
	Username string    `yaml:"username"`
	Password string    `yaml:"password"`
	Version  int       `yaml:"protocol_version"` // 4 (3.1.1) or 5
}

// TLSConfig enables TLS towards the broker.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// SessionConfig holds the MQTT session parameters, in seconds where a
// duration is involved.
type SessionConfig struct {
	CleanSession   bool        `yaml:"clean_session"`
	KeepAlive      int         `yaml:"keepalive"`
	AutoReconnect  bool        `yaml:"auto_reconnect"`
	ConnectTimeout int         `yaml:"connect_timeout"`
	Retry          RetryConfig `yaml:"retry"`
}

// RetryConfig controls retransmission of unacknowledged publishes.
type RetryConfig struct {
	Interval   int `yaml:"interval"`
	MaxRetries int `yaml:"max_retries"`
}

// StoreConfig selects the session store: memory, file, sqlite or badger.
type StoreConfig struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// LoggingConfig configures the command's logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Store types.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreBadger = "badger"
)

// Load reads the file at path over the defaults, then applies environment
// overrides and validates. An empty path uses the defaults alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration: a clean session against
// localhost:1883 with a 60 second keepalive and no automatic reconnect.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:    "localhost",
			Port:    1883,
			Version: 4,
		},
		Session: SessionConfig{
			CleanSession:   true,
			KeepAlive:      60,
			ConnectTimeout: 30,
			Retry: RetryConfig{
				Interval:   10,
				MaxRetries: 5,
			},
		},
		Store: StoreConfig{
			Type: StoreMemory,
			Path: "./data",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SOLARMQTT_BROKER_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv("SOLARMQTT_BROKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Broker.Port = port
		}
	}
	if v := os.Getenv("SOLARMQTT_CLIENT_ID"); v != "" {
		cfg.Broker.ClientID = v
	}
	if v := os.Getenv("SOLARMQTT_USERNAME"); v != "" {
		cfg.Broker.Username = v
	}
	if v := os.Getenv("SOLARMQTT_PASSWORD"); v != "" {
		cfg.Broker.Password = v
	}
	if v := os.Getenv("SOLARMQTT_STORE_TYPE"); v != "" {
		cfg.Store.Type = v
	}
	if v := os.Getenv("SOLARMQTT_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SOLARMQTT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Broker.Host == "" {
		errs = append(errs, "broker.host is required")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, "broker.port must be between 1 and 65535")
	}
	if c.Broker.Version != 4 && c.Broker.Version != 5 {
		errs = append(errs, "broker.protocol_version must be 4 or 5")
	}
	if len(c.Broker.ClientID) > 23 {
		errs = append(errs, "broker.client_id must be at most 23 bytes")
	}
	if (c.Broker.TLS.CertFile == "") != (c.Broker.TLS.KeyFile == "") {
		errs = append(errs, "broker.tls.cert_file and broker.tls.key_file must be set together")
	}
	if c.Session.KeepAlive < 0 || c.Session.KeepAlive > 65535 {
		errs = append(errs, "session.keepalive must be between 0 and 65535")
	}
	if c.Session.ConnectTimeout < 0 {
		errs = append(errs, "session.connect_timeout must not be negative")
	}
	if c.Session.Retry.Interval < 0 {
		errs = append(errs, "session.retry.interval must not be negative")
	}
	switch c.Store.Type {
	case StoreMemory:
	case StoreFile, StoreSQLite, StoreBadger:
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for store.type "+c.Store.Type)
		}
		if c.Broker.ClientID == "" {
			errs = append(errs, "broker.client_id is required for store.type "+c.Store.Type)
		}
	default:
		errs = append(errs, "store.type must be memory, file, sqlite or badger")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Server returns the broker URL.
func (c *Config) Server() string {
	scheme := "tcp"
	if c.Broker.TLS.Enabled {
		scheme = "tls"
	}
	return scheme + "://" + net.JoinHostPort(c.Broker.Host, strconv.Itoa(c.Broker.Port))
}

// KeepAlive returns the keepalive interval.
func (c *Config) KeepAlive() time.Duration {
	return time.Duration(c.Session.KeepAlive) * time.Second
}

// ConnectTimeout returns the connect timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Session.ConnectTimeout) * time.Second
}

// RetryInterval returns the first retransmission wait.
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.Session.Retry.Interval) * time.Second
}

// TLSClientConfig builds the tls.Config for the broker connection, or nil
// when TLS is disabled.
func (c *Config) TLSClientConfig() (*tls.Config, error) {
	t := c.Broker.TLS
	if !t.Enabled {
		return nil, nil
	}
	cfg := &tls.Config{
		ServerName:         t.ServerName,
		InsecureSkipVerify: t.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
	if t.CAFile != "" {
		pem, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", t.CAFile)
		}
		cfg.RootCAs = pool
	}
	if t.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// OpenStore opens the configured session store for clientID.
func (c *Config) OpenStore(clientID string) (store.Store, error) {
	switch c.Store.Type {
	case StoreFile:
		return store.NewFileStore(c.Store.Path, clientID)
	case StoreSQLite:
		if err := os.MkdirAll(c.Store.Path, 0o700); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		return store.NewSQLiteStore(filepath.Join(c.Store.Path, "session.db"), clientID)
	case StoreBadger:
		return store.NewBadgerStore(filepath.Join(c.Store.Path, clientID))
	default:
		return store.NewMemoryStore(), nil
	}
}
