// Copyright 2024-2026 Aiku AI

package session

import "time"

const (
	DefaultQueueSize    = 256
	DefaultReconnectMin = 2 * time.Second
	DefaultReconnectMax = time.Minute
	DefaultSendRate     = 5.0
	DefaultSendBurst    = 10
)

// Config holds the session adapter configuration.
type Config struct {
	// DatabaseDialect is "sqlite3" or "postgres".
	DatabaseDialect string `yaml:"database_dialect"`
	DatabaseURI     string `yaml:"database_uri"`

	QueueSize    int           `yaml:"queue_size"`
	ReconnectMin time.Duration `yaml:"reconnect_min"`
	ReconnectMax time.Duration `yaml:"reconnect_max"`
	// SendRate is the sustained number of outgoing messages per second.
	SendRate  float64 `yaml:"send_rate"`
	SendBurst int     `yaml:"send_burst"`
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.DatabaseDialect == "" {
		c.DatabaseDialect = "sqlite3"
	}
	if c.DatabaseURI == "" && c.DatabaseDialect == "sqlite3" {
		c.DatabaseURI = "file:whatsapp-relay.db?_foreign_keys=on"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = DefaultReconnectMin
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = max(DefaultReconnectMax, c.ReconnectMin)
	}
	if c.SendRate <= 0 {
		c.SendRate = DefaultSendRate
	}
	if c.SendBurst <= 0 {
		c.SendBurst = DefaultSendBurst
	}
	return c
}
