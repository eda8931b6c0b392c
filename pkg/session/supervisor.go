// Copyright 2024-2026 Aiku AI

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aiku/whatsapp-relay/pkg/relay"
)

// State is the lifecycle state of the supervised connection.
type State int32

const (
	StateStarting State = iota
	StateWaitingForQR
	StateAuthenticated
	StateReady
	StateDisconnected
	StateLoggedOut
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateWaitingForQR:
		return "waiting-for-qr"
	case StateAuthenticated:
		return "authenticated"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	case StateLoggedOut:
		return "logged-out"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// ErrDestroyed is returned by operations on a destroyed supervisor.
var ErrDestroyed = errors.New("session destroyed")

// Status is the snapshot reported by the status endpoint.
type Status struct {
	IsReady         bool   `json:"isReady"`
	IsAuthenticated bool   `json:"isAuthenticated"`
	State           string `json:"state"`
}

// Supervisor owns the current Conn and replaces it when it drops. It
// implements relay.Session and relay.MessageSource, so the relay subscribes
// once and keeps receiving messages across every rebuild.
type Supervisor struct {
	dial Dialer
	cfg  Config
	log  zerolog.Logger

	// QRWriter receives the rendered pairing code. Defaults to stdout.
	QRWriter io.Writer

	// connMu guards conn and runCtx.
	connMu sync.RWMutex
	conn   Conn
	runCtx context.Context

	state      atomic.Int32
	generation atomic.Uint64
	// reinitializing is held by the single goroutine allowed to rebuild.
	reinitializing atomic.Bool
	// rebuildPending is set when a rebuild request arrives while another
	// rebuild holds reinitializing.
	rebuildPending atomic.Bool
	destroyed      atomic.Bool

	handlerMu      sync.RWMutex
	handler        relay.MessageHandler
	onReady        []func()
	onDisconnected []func()

	queue   chan *relay.InboundMessage
	limiter *rate.Limiter

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

var (
	_ relay.Session       = (*Supervisor)(nil)
	_ relay.MessageSource = (*Supervisor)(nil)
)

// NewSupervisor creates a supervisor that builds connections with dial.
func NewSupervisor(dial Dialer, cfg Config, log zerolog.Logger) *Supervisor {
	cfg = cfg.WithDefaults()
	return &Supervisor{
		dial:     dial,
		cfg:      cfg,
		log:      log.With().Str("component", "session").Logger(),
		QRWriter: os.Stdout,
		queue:    make(chan *relay.InboundMessage, cfg.QueueSize),
		limiter:  rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst),
		runCtx:   context.Background(),
		stopChan: make(chan struct{}),
	}
}

// OnMessage installs the message subscriber. There is a single subscriber;
// a second call replaces the first.
func (s *Supervisor) OnMessage(h relay.MessageHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	if s.handler != nil {
		s.log.Warn().Msg("Replacing existing message subscriber")
	}
	s.handler = h
}

// OnReady registers a callback run every time a connection becomes ready.
func (s *Supervisor) OnReady(fn func()) {
	s.handlerMu.Lock()
	s.onReady = append(s.onReady, fn)
	s.handlerMu.Unlock()
}

// OnDisconnected registers a callback run every time the connection drops.
func (s *Supervisor) OnDisconnected(fn func()) {
	s.handlerMu.Lock()
	s.onDisconnected = append(s.onDisconnected, fn)
	s.handlerMu.Unlock()
}

// Run connects and delivers messages until ctx is cancelled or the
// supervisor is destroyed.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.destroyed.Load() {
		return ErrDestroyed
	}
	s.connMu.Lock()
	s.runCtx = ctx
	s.connMu.Unlock()
	s.wg.Add(1)
	go s.dispatchLoop(ctx)

	if err := s.connect(ctx); err != nil {
		s.log.Error().Err(err).Msg("Initial connection failed")
		go s.rebuild("initial connection failed")
	}

	select {
	case <-ctx.Done():
	case <-s.stopChan:
	}
	s.shutdown()
	s.wg.Wait()
	if s.destroyed.Load() {
		return nil
	}
	return ctx.Err()
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) setState(st State) {
	if s.destroyed.Load() && st != StateDestroyed {
		return
	}
	old := State(s.state.Swap(int32(st)))
	if old != st {
		s.log.Debug().Stringer("from", old).Stringer("to", st).Msg("Session state changed")
	}
}

func (s *Supervisor) runContext() context.Context {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.runCtx
}

func (s *Supervisor) current() Conn {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn
}

// connect dials a new connection under a fresh generation. Events from
// connections of older generations are dropped.
func (s *Supervisor) connect(ctx context.Context) error {
	gen := s.generation.Add(1)
	s.setState(StateStarting)
	conn, err := s.dial(ctx, s.sinkFor(gen))
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (s *Supervisor) sinkFor(gen uint64) func(Event) {
	return func(evt Event) {
		if cur := s.generation.Load(); cur != gen {
			s.log.Debug().
				Stringer("event", evt.Kind).
				Uint64("generation", gen).
				Uint64("current", cur).
				Msg("Dropping event from stale connection")
			return
		}
		s.handleEvent(evt)
	}
}

func (s *Supervisor) handleEvent(evt Event) {
	if s.destroyed.Load() {
		return
	}
	switch evt.Kind {
	case EventQR:
		s.setState(StateWaitingForQR)
		s.log.Info().Msg("Scan the QR code below to pair the session")
		if err := RenderQR(s.QRWriter, evt.QRCode); err != nil {
			s.log.Error().Err(err).Msg("Failed to render QR code")
		}
	case EventAuthenticated:
		s.setState(StateAuthenticated)
		s.log.Info().Msg("Session authenticated")
	case EventAuthFailure:
		s.log.Error().Str("reason", evt.Reason).Msg("Session authentication failed")
		s.setState(StateDisconnected)
		go s.rebuild("auth failure")
	case EventReady:
		s.setState(StateReady)
		s.log.Info().Msg("Session ready")
		s.runCallbacks(true)
	case EventDisconnected:
		s.log.Warn().Str("reason", evt.Reason).Msg("Session disconnected, reconnecting")
		s.setState(StateDisconnected)
		s.runCallbacks(false)
		go s.rebuild(evt.Reason)
	case EventLoggedOut:
		s.log.Warn().Str("reason", evt.Reason).Msg("Session logged out, waiting for new pairing")
		s.setState(StateLoggedOut)
		s.runCallbacks(false)
		go s.rebuild("logged out")
	case EventMessage:
		if evt.Message == nil {
			return
		}
		select {
		case s.queue <- evt.Message:
		case <-s.stopChan:
		}
	}
}

func (s *Supervisor) runCallbacks(ready bool) {
	s.handlerMu.RLock()
	cbs := s.onDisconnected
	if ready {
		cbs = s.onReady
	}
	cbs = append([]func(){}, cbs...)
	s.handlerMu.RUnlock()
	for _, cb := range cbs {
		cb()
	}
}

// rebuild tears down the current connection and dials a new one. Requests
// that arrive while a rebuild is running are remembered, and if the new
// connection has already dropped when the rebuild finishes it runs again.
func (s *Supervisor) rebuild(reason string) {
	if !s.reinitializing.CompareAndSwap(false, true) {
		s.rebuildPending.Store(true)
		s.log.Debug().Str("reason", reason).Msg("Rebuild already in progress, queued another")
		return
	}
	for {
		s.rebuildOnce(reason)
		s.reinitializing.Store(false)
		if !s.rebuildPending.Load() || s.destroyed.Load() || s.runContext().Err() != nil {
			return
		}
		if conn := s.current(); conn != nil && conn.IsConnected() {
			return
		}
		if !s.reinitializing.CompareAndSwap(false, true) {
			return
		}
		reason = "connection dropped during rebuild"
	}
}

// rebuildOnce retries connect with exponential backoff until it succeeds
// or the supervisor stops.
func (s *Supervisor) rebuildOnce(reason string) {
	ctx := s.runContext()
	// Invalidate the old connection before tearing it down so whatever it
	// emits while closing is ignored.
	s.generation.Add(1)
	if old := s.current(); old != nil {
		old.Disconnect()
	}

	backoff := s.cfg.ReconnectMin
	for attempt := 1; ; attempt++ {
		if s.destroyed.Load() || ctx.Err() != nil {
			return
		}
		// Only requests raised by the connection dialed below count.
		s.rebuildPending.Store(false)
		err := s.connect(ctx)
		if err == nil {
			s.log.Info().Int("attempt", attempt).Str("reason", reason).Msg("Session rebuilt")
			return
		}
		s.log.Error().Err(err).Int("attempt", attempt).Dur("retry_in", backoff).Msg("Failed to rebuild session")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		}
		backoff = min(backoff*2, s.cfg.ReconnectMax)
	}
}

// dispatchLoop delivers queued messages to the subscriber one at a time, in
// arrival order.
func (s *Supervisor) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case msg := <-s.queue:
			s.deliver(ctx, msg)
		}
	}
}

func (s *Supervisor) deliver(ctx context.Context, msg *relay.InboundMessage) {
	s.handlerMu.RLock()
	h := s.handler
	s.handlerMu.RUnlock()
	if h == nil {
		s.log.Debug().Str("message_id", msg.ID).Msg("No subscriber, dropping message")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Any("panic", r).
				Str("stack", string(debug.Stack())).
				Str("message_id", msg.ID).
				Msg("Message subscriber panicked")
		}
	}()
	h(ctx, msg)
}

func (s *Supervisor) shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.generation.Add(1)
	if conn := s.current(); conn != nil {
		conn.Disconnect()
	}
}

// Status reports readiness and authentication.
func (s *Supervisor) Status() Status {
	conn := s.current()
	return Status{
		IsReady:         s.IsReady(),
		IsAuthenticated: conn != nil && conn.IsLoggedIn(),
		State:           s.State().String(),
	}
}

// IsReady implements relay.Session.
func (s *Supervisor) IsReady() bool {
	return s.State() == StateReady && s.current() != nil
}

func (s *Supervisor) readyConn() (Conn, error) {
	if s.destroyed.Load() {
		return nil, ErrDestroyed
	}
	conn := s.current()
	if conn == nil || s.State() != StateReady {
		return nil, relay.ErrNotReady
	}
	return conn, nil
}

// Send implements relay.Session. Outgoing messages are rate limited.
func (s *Supervisor) Send(ctx context.Context, to string, out relay.Outgoing, opts relay.SendOptions) (relay.SentMessage, error) {
	conn, err := s.readyConn()
	if err != nil {
		return relay.SentMessage{}, err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return relay.SentMessage{}, fmt.Errorf("send rate limit: %w", err)
	}
	return conn.Send(ctx, to, out, opts)
}

// SendText sends a plain text message to a normalized chat id.
func (s *Supervisor) SendText(ctx context.Context, to, text string) (relay.SentMessage, error) {
	return s.Send(ctx, to, relay.Outgoing{Text: text}, relay.SendOptions{})
}

// SendMedia sends a media payload, picking the message kind from its MIME
// type.
func (s *Supervisor) SendMedia(ctx context.Context, to string, media *relay.MediaPayload, caption string) (relay.SentMessage, error) {
	if media.Size() == 0 {
		return relay.SentMessage{}, relay.ErrMediaUnavailable
	}
	return s.Send(ctx, to, relay.Outgoing{Media: media}, relay.SendOptions{
		Caption:   caption,
		MediaKind: KindForMime(media.MimeType),
	})
}

// DownloadMedia implements relay.Session.
func (s *Supervisor) DownloadMedia(ctx context.Context, msg *relay.InboundMessage) (*relay.MediaPayload, error) {
	conn, err := s.readyConn()
	if err != nil {
		return nil, err
	}
	return conn.DownloadMedia(ctx, msg)
}

// GetQuotedMessage implements relay.Session.
func (s *Supervisor) GetQuotedMessage(ctx context.Context, msg *relay.InboundMessage) (*relay.InboundMessage, error) {
	conn, err := s.readyConn()
	if err != nil {
		return nil, err
	}
	return conn.GetQuotedMessage(ctx, msg)
}

// GetChats implements relay.Session.
func (s *Supervisor) GetChats(ctx context.Context) ([]relay.Chat, error) {
	conn, err := s.readyConn()
	if err != nil {
		return nil, err
	}
	return conn.GetChats(ctx)
}

// GetGroups implements relay.Session.
func (s *Supervisor) GetGroups(ctx context.Context) ([]relay.Chat, error) {
	conn, err := s.readyConn()
	if err != nil {
		return nil, err
	}
	return conn.GetGroups(ctx)
}

// GetContactName implements relay.Session.
func (s *Supervisor) GetContactName(ctx context.Context, id string) (string, error) {
	conn, err := s.readyConn()
	if err != nil {
		return "", err
	}
	return conn.GetContactName(ctx, id)
}

// Logout unlinks the device. A fresh connection is then built so a new QR
// code can be scanned.
func (s *Supervisor) Logout(ctx context.Context) error {
	if s.destroyed.Load() {
		return ErrDestroyed
	}
	conn := s.current()
	if conn == nil || !conn.IsLoggedIn() {
		return relay.ErrNotReady
	}
	if err := conn.Logout(ctx); err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	s.setState(StateLoggedOut)
	s.runCallbacks(false)
	go s.rebuild("logout")
	return nil
}

// Destroy closes the connection for good. Run returns afterwards and no
// rebuild is attempted.
func (s *Supervisor) Destroy() {
	if !s.destroyed.CompareAndSwap(false, true) {
		return
	}
	s.state.Store(int32(StateDestroyed))
	s.log.Info().Msg("Destroying session")
	s.shutdown()
}
