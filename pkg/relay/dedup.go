// Copyright 2024-2026 Aiku AI

package relay

import (
	"time"

	"go.mau.fi/util/exsync"
)

// DedupGate admits each message identifier at most once within a retention
// window. Identifiers are forgotten when the window elapses whether or not
// processing succeeded, so a retried delivery is never processed twice.
type DedupGate struct {
	window time.Duration
	seen   *exsync.Set[string]
}

// NewDedupGate creates a gate that remembers identifiers for window.
func NewDedupGate(window time.Duration) *DedupGate {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &DedupGate{
		window: window,
		seen:   exsync.NewSet[string](),
	}
}

// Admit returns true the first time id is seen within the window. Empty
// identifiers are never admitted.
func (g *DedupGate) Admit(id string) bool {
	if id == "" {
		return false
	}
	if !g.seen.Add(id) {
		return false
	}
	time.AfterFunc(g.window, func() {
		g.seen.Remove(id)
	})
	return true
}

// Size returns the number of identifiers currently remembered.
func (g *DedupGate) Size() int {
	return g.seen.Size()
}
