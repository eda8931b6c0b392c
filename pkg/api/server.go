// Copyright 2024-2026 Aiku AI

// Package api serves the authenticated HTTP API used to send messages and
// manage the WhatsApp session from other services.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aiku/whatsapp-relay/pkg/relay"
	"github.com/aiku/whatsapp-relay/pkg/session"
)

// Backend is the session surface the API drives.
type Backend interface {
	Status() session.Status
	SendText(ctx context.Context, to, text string) (relay.SentMessage, error)
	SendMedia(ctx context.Context, to string, media *relay.MediaPayload, caption string) (relay.SentMessage, error)
	GetChats(ctx context.Context) ([]relay.Chat, error)
	GetGroups(ctx context.Context) ([]relay.Chat, error)
	Logout(ctx context.Context) error
	Destroy()
}

var _ Backend = (*session.Supervisor)(nil)

// Server is the HTTP API.
type Server struct {
	cfg     Config
	backend Backend
	client  *http.Client
	log     zerolog.Logger
	now     func() time.Time
}

// NewServer creates an API server for backend.
func NewServer(cfg Config, backend Backend, log zerolog.Logger) *Server {
	cfg = cfg.WithDefaults()
	return &Server{
		cfg:     cfg,
		backend: backend,
		client:  &http.Client{Timeout: cfg.FetchTimeout},
		log:     log.With().Str("component", "api").Logger(),
		now:     time.Now,
	}
}

// Handler returns the routed handler. Every route is also reachable under
// the /api prefix.
func (s *Server) Handler() http.Handler {
	wa := http.NewServeMux()
	wa.HandleFunc("GET /whatsapp/status", s.handleStatus)
	wa.HandleFunc("POST /whatsapp/send-message", s.handleSendMessage)
	wa.HandleFunc("POST /whatsapp/send-media", s.handleSendMedia)
	wa.HandleFunc("POST /whatsapp/send-message-group", s.handleSendMessageGroup)
	wa.HandleFunc("POST /whatsapp/send-media-group", s.handleSendMediaGroup)
	wa.HandleFunc("GET /whatsapp/chats", s.handleChats)
	wa.HandleFunc("GET /whatsapp/groups", s.handleGroups)
	wa.HandleFunc("POST /whatsapp/logout", s.handleLogout)
	wa.HandleFunc("POST /whatsapp/destroy", s.handleDestroy)

	mux := http.NewServeMux()
	mux.Handle("/whatsapp/", s.requireHMAC(wa))
	mux.HandleFunc("POST /public/send-message-global", s.handleSendMessageGlobal)

	root := http.NewServeMux()
	root.Handle("/", mux)
	root.Handle("/api/", http.StripPrefix("/api", mux))
	return s.withRequestLog(root)
}

// Run serves the API until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.PublicKey == "" {
		s.log.Warn().Msg("No API keys configured, authenticated routes will reject every request")
	}
	server := &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.RequestTimeout,
		WriteTimeout: s.cfg.RequestTimeout,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Listen).Msg("Starting HTTP API")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http api: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("HTTP API shutdown did not complete")
	}
	return <-errCh
}

// withRequestLog attaches a request-scoped logger carrying a request id.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		log := s.log.With().
			Str("request_id", reqID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		start := s.now()
		next.ServeHTTP(w, r.WithContext(log.WithContext(r.Context())))
		log.Debug().Dur("duration", s.now().Sub(start)).Str("remote_addr", r.RemoteAddr).Msg("Handled request")
	})
}

type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, resp response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Warn().Err(err).Msg("Failed to write response")
	}
}

func (s *Server) ok(w http.ResponseWriter, message string, data any) {
	s.writeJSON(w, http.StatusOK, response{Success: true, Message: message, Data: data})
}

func (s *Server) fail(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, response{Error: msg})
}

// failErr maps a backend error to a status code.
func (s *Server) failErr(w http.ResponseWriter, r *http.Request, fallback string, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()
	switch {
	case errors.Is(err, relay.ErrInvalidTarget):
		status = http.StatusBadRequest
	case errors.Is(err, relay.ErrNotReady):
		msg = "WhatsApp client is not ready"
	case errors.Is(err, session.ErrDestroyed):
		msg = "WhatsApp client has been destroyed"
	}
	if msg == "" {
		msg = fallback
	}
	zerolog.Ctx(r.Context()).Error().Err(err).Int("status", status).Msg(fallback)
	s.fail(w, status, msg)
}
