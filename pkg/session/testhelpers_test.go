// Copyright 2024-2026 Aiku AI

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/whatsapp-relay/pkg/relay"
)

// fakeConn is an in-memory Conn. Tests drive it by calling emit.
type fakeConn struct {
	mu          sync.Mutex
	sink        func(Event)
	connectErr  error
	loggedIn    bool
	connected   bool
	disconnects int
	logouts     int
	sends       []string
	// onConnect runs after a successful Connect, outside the lock.
	onConnect func(*fakeConn)
}

func (c *fakeConn) emit(evt Event) { c.sink(evt) }

func (c *fakeConn) Connect(context.Context) error {
	c.mu.Lock()
	if c.connectErr != nil {
		c.mu.Unlock()
		return c.connectErr
	}
	c.connected = true
	hook := c.onConnect
	c.mu.Unlock()
	if hook != nil {
		hook(c)
	}
	return nil
}

// drop simulates the remote side closing the connection.
func (c *fakeConn) drop(reason string) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.emit(Event{Kind: EventDisconnected, Reason: reason})
}

func (c *fakeConn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnects++
}

func (c *fakeConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) IsLoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedIn
}

func (c *fakeConn) Logout(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logouts++
	c.loggedIn = false
	return nil
}

func (c *fakeConn) Send(_ context.Context, to string, out relay.Outgoing, _ relay.SendOptions) (relay.SentMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, to+": "+out.Text)
	return relay.SentMessage{ID: fmt.Sprintf("wa-%d", len(c.sends)), Timestamp: time.Now()}, nil
}

func (c *fakeConn) DownloadMedia(context.Context, *relay.InboundMessage) (*relay.MediaPayload, error) {
	return nil, relay.ErrMediaUnavailable
}

func (c *fakeConn) GetQuotedMessage(context.Context, *relay.InboundMessage) (*relay.InboundMessage, error) {
	return nil, relay.ErrNoQuotedMessage
}

func (c *fakeConn) GetChats(context.Context) ([]relay.Chat, error) {
	return []relay.Chat{{ID: "6281@c.us", Name: "Budi"}}, nil
}

func (c *fakeConn) GetGroups(context.Context) ([]relay.Chat, error) {
	return []relay.Chat{{ID: "1203@g.us", Name: "Ops", IsGroup: true, Participants: 3}}, nil
}

func (c *fakeConn) GetContactName(context.Context, string) (string, error) {
	return "Budi", nil
}

func (c *fakeConn) Sends() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sends...)
}

func (c *fakeConn) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// fakeDialer hands out fakeConns and records every dial.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	// failures is the number of upcoming dials that fail.
	failures int
	// gate, when set, blocks every dial after the first until closed.
	gate  chan struct{}
	calls atomic.Int32
	// onConnect, when set, is installed on every new conn with its index.
	onConnect func(idx int, c *fakeConn)
}

func (d *fakeDialer) Dial(ctx context.Context, sink func(Event)) (Conn, error) {
	n := d.calls.Add(1)
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil && n > 1 {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("dial failed")
	}
	conn := &fakeConn{sink: sink, loggedIn: true}
	if hook := d.onConnect; hook != nil {
		idx := len(d.conns)
		conn.onConnect = func(c *fakeConn) { hook(idx, c) }
	}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) Conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func testConfig() Config {
	return Config{
		QueueSize:    16,
		ReconnectMin: time.Millisecond,
		ReconnectMax: 5 * time.Millisecond,
		SendRate:     1000,
		SendBurst:    100,
	}
}

func newTestSupervisor(d *fakeDialer) *Supervisor {
	s := NewSupervisor(d.Dial, testConfig(), zerolog.Nop())
	s.QRWriter = nil
	return s
}

// startSupervisor runs s until the test ends and returns once the first
// connection is dialed.
func startSupervisor(t *testing.T, s *Supervisor, d *fakeDialer) *fakeConn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
	waitFor(t, "first dial", func() bool { return d.Count() >= 1 })
	return d.Conn(0)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// collector is a MessageHandler that records message ids.
type collector struct {
	mu  sync.Mutex
	ids []string
}

func (c *collector) handle(_ context.Context, msg *relay.InboundMessage) {
	c.mu.Lock()
	c.ids = append(c.ids, msg.ID)
	c.mu.Unlock()
}

func (c *collector) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func messageEvent(id string) Event {
	return Event{Kind: EventMessage, Message: &relay.InboundMessage{
		ID:      id,
		Sender:  "6281@c.us",
		Content: &relay.Text{Body: id},
	}}
}
