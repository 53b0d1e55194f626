package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/omochice/toy-chat-client/internal/transport"
)

// ErrUnknownFormat is returned for a config file with an unsupported extension.
var ErrUnknownFormat = errors.New("unsupported config format")

type tomlConfig struct {
	Host         string `toml:"host"`
	Port         any    `toml:"port"`
	Username     string `toml:"username"`
	Transport    string `toml:"transport"`
	Path         string `toml:"path"`
	BufferSize   int    `toml:"buffer_size"`
	WriteTimeout string `toml:"write_timeout"`
	DialTimeout  string `toml:"dial_timeout"`
	LogLevel     string `toml:"log_level"`
}

// LoadFile merges the settings found in path into cfg. The format is
// chosen by extension: .toml, .yaml or .yml.
func LoadFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return loadTOML(path, cfg)
	case ".yaml", ".yml":
		return loadYAML(path, cfg)
	default:
		return fmt.Errorf("load config %s: %w", path, ErrUnknownFormat)
	}
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func loadTOML(path string, cfg *Config) error {
	var raw tomlConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}

	if meta.IsDefined("port") {
		switch v := raw.Port.(type) {
		case int64:
			cfg.Port = strconv.FormatInt(v, 10)
		case string:
			cfg.Port = strings.TrimSpace(v)
		default:
			return fmt.Errorf("parse port: unexpected type %T", raw.Port)
		}
	}

	if meta.IsDefined("username") {
		cfg.Username = raw.Username
	}

	if meta.IsDefined("transport") {
		cfg.Transport = transport.Network(strings.TrimSpace(raw.Transport))
	}

	if meta.IsDefined("path") {
		cfg.Path = strings.TrimSpace(raw.Path)
	}

	if meta.IsDefined("buffer_size") {
		cfg.BufferSize = raw.BufferSize
	}

	if meta.IsDefined("write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WriteTimeout))
		if err != nil {
			return fmt.Errorf("parse write_timeout: %w", err)
		}
		cfg.WriteTimeout = d
	}

	if meta.IsDefined("dial_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.DialTimeout))
		if err != nil {
			return fmt.Errorf("parse dial_timeout: %w", err)
		}
		cfg.DialTimeout = d
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	return nil
}
