// Package config holds the settings of a chat client session.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/omochice/toy-chat-client/internal/transport"
)

const (
	DefaultHost         = "127.0.0.1"
	DefaultPort         = "12345"
	DefaultBufferSize   = 512
	DefaultWriteTimeout = 50 * time.Millisecond
	DefaultDialTimeout  = 10 * time.Second
	DefaultLogLevel     = "info"
)

// Environment variables that override explicit settings.
const (
	EnvHost     = "HOST"
	EnvPort     = "PORT"
	EnvUsername = "USERNAME"
)

var (
	ErrMissingUsername  = errors.New("username is required")
	ErrInvalidUsername  = errors.New("username must not contain line breaks")
	ErrInvalidPort      = errors.New("port must be a number between 1 and 65535")
	ErrMissingHost      = errors.New("host is required")
	ErrInvalidTransport = errors.New("transport must be tcp or ws")
	ErrInvalidBuffer    = errors.New("buffer size must be positive")
	ErrInvalidTimeout   = errors.New("write timeout must be positive")
)

// Config is the full client configuration.
type Config struct {
	Host      string            `yaml:"host"`
	Port      string            `yaml:"port"`
	Username  string            `yaml:"username"`
	Transport transport.Network `yaml:"transport"`
	// Path is the WebSocket request path.
	Path string `yaml:"path"`
	// BufferSize caps the size of one outbound message.
	BufferSize   int           `yaml:"buffer_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	LogLevel     string        `yaml:"log_level"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		Transport:    transport.NetworkTCP,
		Path:         "/",
		BufferSize:   DefaultBufferSize,
		WriteTimeout: DefaultWriteTimeout,
		DialTimeout:  DefaultDialTimeout,
		LogLevel:     DefaultLogLevel,
	}
}

// ApplyEnv overrides host, port and username from the environment.
// lookup is typically os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvHost); ok && v != "" {
		c.Host = v
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		c.Port = v
	}
	if v, ok := lookup(EnvUsername); ok && v != "" {
		c.Username = v
	}
}

// Validate checks that the configuration can start a session.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return ErrMissingHost
	}
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port %q: %w", c.Port, ErrInvalidPort)
	}
	if c.Username == "" {
		return ErrMissingUsername
	}
	if strings.ContainsAny(c.Username, "\r\n") {
		return ErrInvalidUsername
	}
	switch c.Transport {
	case transport.NetworkTCP, transport.NetworkWebSocket:
	default:
		return fmt.Errorf("transport %q: %w", c.Transport, ErrInvalidTransport)
	}
	if c.BufferSize <= 0 {
		return ErrInvalidBuffer
	}
	if c.WriteTimeout <= 0 {
		return ErrInvalidTimeout
	}
	return nil
}

// Address returns host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// URL returns the peer location for display.
func (c *Config) URL() string {
	u := url.URL{Scheme: string(c.Transport), Host: c.Address()}
	if c.Transport == transport.NetworkWebSocket {
		u.Path = c.Path
	}
	return u.String()
}

// DialOptions returns the transport options for this configuration.
func (c *Config) DialOptions() transport.Options {
	return transport.Options{
		Network: c.Transport,
		Address: c.Address(),
		Path:    c.Path,
		Timeout: c.DialTimeout,
	}
}
