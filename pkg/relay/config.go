// Copyright 2024-2026 Aiku AI

package relay

import (
	"errors"
	"time"
)

// CommandPrefix marks a message body as a command.
const CommandPrefix = "!"

const (
	DefaultDedupWindow         = 60 * time.Second
	DefaultLookupTimeout       = 3 * time.Second
	DefaultVideoThreshold      = 16 << 20
	DefaultCorrelationTTL      = 24 * time.Hour
	DefaultLiveLocationTimeout = 15 * time.Minute
	DefaultSweepInterval       = 5 * time.Minute
	DefaultMaxInlineCaption    = 700
)

// Config holds the routing engine configuration.
type Config struct {
	// OperatorGroup is the chat identifier of the operator group. Forwarded
	// traffic goes there, and replies in it are routed back to senders.
	OperatorGroup string `yaml:"operator_group"`

	DedupWindow   time.Duration `yaml:"dedup_window"`
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
	// VideoThreshold is the payload size in bytes that separates videos
	// which are recompressed from videos that are forwarded as received.
	VideoThreshold int64 `yaml:"video_threshold"`

	CorrelationTTL      time.Duration `yaml:"correlation_ttl"`
	LiveLocationTimeout time.Duration `yaml:"live_location_timeout"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`

	// MaxInlineCaption is the longest original caption, in runes, that is
	// embedded into a forwarded image or video caption.
	MaxInlineCaption int `yaml:"max_inline_caption"`
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.DedupWindow <= 0 {
		c.DedupWindow = DefaultDedupWindow
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = DefaultLookupTimeout
	}
	if c.VideoThreshold <= 0 {
		c.VideoThreshold = DefaultVideoThreshold
	}
	if c.CorrelationTTL <= 0 {
		c.CorrelationTTL = DefaultCorrelationTTL
	}
	if c.LiveLocationTimeout <= 0 {
		c.LiveLocationTimeout = DefaultLiveLocationTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.MaxInlineCaption <= 0 {
		c.MaxInlineCaption = DefaultMaxInlineCaption
	}
	return c
}

// Validate checks the values that have no usable default.
func (c Config) Validate() error {
	if c.OperatorGroup == "" {
		return errors.New("relay: operator_group is required")
	}
	if !IsGroupID(c.OperatorGroup) {
		return errors.New("relay: operator_group must be a group identifier ending in " + GroupSuffix)
	}
	return nil
}
