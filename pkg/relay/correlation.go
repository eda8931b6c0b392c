// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type correlationEntry struct {
	target  string
	created time.Time
}

// LiveLocationSession tracks a sender that is streaming live location.
type LiveLocationSession struct {
	// OperatorMessageID is the operator-group message that announced the
	// share; updates quote it.
	OperatorMessageID string
	Started           time.Time
	LastUpdate        time.Time
}

// CorrelationStats is a point-in-time view of the map size.
type CorrelationStats struct {
	Entries      int
	LiveSessions int
}

// CorrelationMap maps operator-group message identifiers back to the chat
// they represent, and tracks live location sessions per sender. Entries
// expire after a TTL; expired entries are invisible to lookups and removed
// by Sweep.
type CorrelationMap struct {
	mu      sync.Mutex
	entries map[string]correlationEntry
	live    map[string]*LiveLocationSession

	ttl         time.Duration
	liveTimeout time.Duration
	now         func() time.Time
}

// NewCorrelationMap creates an empty map. Non-positive durations select the
// defaults.
func NewCorrelationMap(ttl, liveTimeout time.Duration) *CorrelationMap {
	if ttl <= 0 {
		ttl = DefaultCorrelationTTL
	}
	if liveTimeout <= 0 {
		liveTimeout = DefaultLiveLocationTimeout
	}
	return &CorrelationMap{
		entries:     make(map[string]correlationEntry),
		live:        make(map[string]*LiveLocationSession),
		ttl:         ttl,
		liveTimeout: liveTimeout,
		now:         time.Now,
	}
}

// Record maps an operator-group message to its target chat.
func (c *CorrelationMap) Record(operatorMsgID, target string) {
	if operatorMsgID == "" || target == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[operatorMsgID] = correlationEntry{target: target, created: c.now()}
}

// Lookup returns the target chat of an operator-group message.
func (c *CorrelationMap) Lookup(operatorMsgID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[operatorMsgID]
	if !ok || c.now().Sub(entry.created) > c.ttl {
		return "", false
	}
	return entry.target, true
}

// RefreshLive bumps the last update of the sender's live session and returns
// it, if the session is still live.
func (c *CorrelationMap) RefreshLive(sender string) (LiveLocationSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.live[sender]
	if !ok {
		return LiveLocationSession{}, false
	}
	now := c.now()
	if now.Sub(sess.LastUpdate) > c.liveTimeout {
		return LiveLocationSession{}, false
	}
	sess.LastUpdate = now
	return *sess, true
}

// StartLive opens a live session for sender announced by operatorMsgID,
// replacing any stale one.
func (c *CorrelationMap) StartLive(sender, operatorMsgID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.live[sender] = &LiveLocationSession{
		OperatorMessageID: operatorMsgID,
		Started:           now,
		LastUpdate:        now,
	}
}

// Sweep removes expired correlation entries and live sessions, returning how
// many were removed.
func (c *CorrelationMap) Sweep() (entries, live int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for id, entry := range c.entries {
		if now.Sub(entry.created) > c.ttl {
			delete(c.entries, id)
			entries++
		}
	}
	for sender, sess := range c.live {
		if now.Sub(sess.LastUpdate) > c.liveTimeout {
			delete(c.live, sender)
			live++
		}
	}
	return entries, live
}

// Stats returns the number of stored entries, expired ones included until
// the next sweep.
func (c *CorrelationMap) Stats() CorrelationStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CorrelationStats{Entries: len(c.entries), LiveSessions: len(c.live)}
}

// Watch sweeps the map every interval until ctx is done.
func (c *CorrelationMap) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	log := zerolog.Ctx(ctx).With().Str("component", "correlation_sweeper").Logger()
	log.Info().Dur("interval", interval).Msg("Starting correlation sweeper")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Correlation sweeper stopped")
			return
		case <-ticker.C:
			entries, live := c.Sweep()
			if entries > 0 || live > 0 {
				log.Debug().
					Int("entries", entries).
					Int("live_sessions", live).
					Msg("Evicted expired correlations")
			}
		}
	}
}
