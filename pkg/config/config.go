// Copyright 2024-2026 Aiku AI

// Package config loads the relay configuration file. The file on disk is
// merged onto the embedded example config so new keys appear with their
// defaults, and a few environment variables can override the result.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/whatsapp-relay/pkg/api"
	"github.com/aiku/whatsapp-relay/pkg/relay"
	"github.com/aiku/whatsapp-relay/pkg/relay/mediaconv"
	"github.com/aiku/whatsapp-relay/pkg/session"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config is the whole configuration file.
type Config struct {
	Relay   relay.Config      `yaml:"relay"`
	Session session.Config    `yaml:"session"`
	Media   MediaConfig       `yaml:"media"`
	API     api.Config        `yaml:"api"`
	Logging zeroconfig.Config `yaml:"logging"`
}

// MediaConfig tunes media recompression.
type MediaConfig struct {
	MaxWidth    int      `yaml:"max_width"`
	JPEGQuality int      `yaml:"jpeg_quality"`
	VideoArgs   []string `yaml:"video_args"`
}

// Apply copies the non-zero settings onto t.
func (mc MediaConfig) Apply(t *mediaconv.Transformer) {
	if mc.MaxWidth > 0 {
		t.MaxWidth = mc.MaxWidth
	}
	if mc.JPEGQuality > 0 {
		t.JPEGQuality = mc.JPEGQuality
	}
	if len(mc.VideoArgs) > 0 {
		t.VideoArgs = mc.VideoArgs
	}
}

// envOverrides are read after the file. Unset variables leave the file
// values alone.
type envOverrides struct {
	OperatorGroup   string `env:"OPERATOR_GROUP_ID"`
	PublicKey       string `env:"HMAC_PUBLIC_KEY"`
	SecretKey       string `env:"HMAC_SECRET_KEY"`
	Listen          string `env:"API_LISTEN"`
	DatabaseDialect string `env:"DATABASE_DIALECT"`
	DatabaseURI     string `env:"DATABASE_URI"`
	LogLevel        string `env:"LOG_LEVEL"`
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "relay", "operator_group")
	helper.Copy(up.Str, "relay", "dedup_window")
	helper.Copy(up.Str, "relay", "lookup_timeout")
	helper.Copy(up.Int, "relay", "video_threshold")
	helper.Copy(up.Str, "relay", "correlation_ttl")
	helper.Copy(up.Str, "relay", "live_location_timeout")
	helper.Copy(up.Str, "relay", "sweep_interval")
	helper.Copy(up.Int, "relay", "max_inline_caption")

	helper.Copy(up.Str, "session", "database_dialect")
	helper.Copy(up.Str, "session", "database_uri")
	helper.Copy(up.Int, "session", "queue_size")
	helper.Copy(up.Str, "session", "reconnect_min")
	helper.Copy(up.Str, "session", "reconnect_max")
	helper.Copy(up.Int|up.Float, "session", "send_rate")
	helper.Copy(up.Int, "session", "send_burst")

	helper.Copy(up.Int, "media", "max_width")
	helper.Copy(up.Int, "media", "jpeg_quality")
	helper.Copy(up.List, "media", "video_args")

	helper.Copy(up.Str, "api", "listen")
	helper.Copy(up.Str|up.Null, "api", "public_key")
	helper.Copy(up.Str|up.Null, "api", "secret_key")
	helper.Copy(up.Str, "api", "timestamp_skew")
	helper.Copy(up.Int, "api", "max_upload_size")
	helper.Copy(up.Str, "api", "fetch_timeout")
	helper.Copy(up.Str, "api", "request_timeout")

	helper.Copy(up.Map, "logging")
}

// Upgrader merges a config file onto ExampleConfig.
var Upgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Blocks: [][]string{
		{"relay"},
		{"session"},
		{"media"},
		{"api"},
		{"logging"},
	},
	Base: ExampleConfig,
}

// Load reads the config at path, merges it onto the example config,
// optionally writes the merged file back, then applies environment
// overrides and defaults.
func Load(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, Upgrader)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err = cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Relay = cfg.Relay.WithDefaults()
	cfg.Session = cfg.Session.WithDefaults()
	cfg.API = cfg.API.WithDefaults()
	return &cfg, nil
}

// Generate writes the example config to path, refusing to overwrite an
// existing file.
func Generate(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err = f.WriteString(ExampleConfig); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (c *Config) applyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	setIf(&c.Relay.OperatorGroup, o.OperatorGroup)
	setIf(&c.API.PublicKey, o.PublicKey)
	setIf(&c.API.SecretKey, o.SecretKey)
	setIf(&c.API.Listen, o.Listen)
	setIf(&c.Session.DatabaseDialect, o.DatabaseDialect)
	setIf(&c.Session.DatabaseURI, o.DatabaseURI)
	if o.LogLevel != "" {
		level, err := zerolog.ParseLevel(o.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		c.Logging.MinLevel = &level
	}
	return nil
}

func setIf(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	return errors.Join(c.Relay.Validate(), c.API.Validate())
}
