// Copyright 2024-2026 Aiku AI

package api

import (
	"errors"
	"time"
)

const (
	DefaultListen         = ":3000"
	DefaultTimestampSkew  = 60 * time.Second
	DefaultMaxUploadSize  = 64 << 20
	DefaultFetchTimeout   = 30 * time.Second
	DefaultRequestTimeout = 2 * time.Minute
)

// Config holds the HTTP API configuration.
type Config struct {
	Listen string `yaml:"listen"`
	// PublicKey is compared with the x-key header, SecretKey signs the
	// x-timestamp header.
	PublicKey string `yaml:"public_key"`
	SecretKey string `yaml:"secret_key"`

	TimestampSkew  time.Duration `yaml:"timestamp_skew"`
	MaxUploadSize  int64         `yaml:"max_upload_size"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.TimestampSkew <= 0 {
		c.TimestampSkew = DefaultTimestampSkew
	}
	if c.MaxUploadSize <= 0 {
		c.MaxUploadSize = DefaultMaxUploadSize
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// Validate reports a half-configured key pair. With both keys empty the
// authenticated routes reject every request.
func (c Config) Validate() error {
	if (c.PublicKey == "") != (c.SecretKey == "") {
		return errors.New("api: public_key and secret_key must be set together")
	}
	return nil
}
