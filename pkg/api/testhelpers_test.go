// Copyright 2024-2026 Aiku AI

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/whatsapp-relay/pkg/relay"
	"github.com/aiku/whatsapp-relay/pkg/session"
)

const (
	testPublicKey = "test-public"
	testSecretKey = "test-secret"
)

// testNow is 2026-01-01T00:00:00Z.
var testNow = time.Unix(1767225600, 0)

type mediaCall struct {
	To      string
	Media   *relay.MediaPayload
	Caption string
}

// fakeBackend records calls and returns canned results.
type fakeBackend struct {
	mu        sync.Mutex
	status    session.Status
	sendErr   error
	texts     []string
	media     []mediaCall
	chats     []relay.Chat
	groups    []relay.Chat
	logouts   int
	destroyed bool
}

func (f *fakeBackend) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeBackend) SendText(_ context.Context, to, text string) (relay.SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return relay.SentMessage{}, f.sendErr
	}
	f.texts = append(f.texts, to+": "+text)
	return relay.SentMessage{ID: "wa-1"}, nil
}

func (f *fakeBackend) SendMedia(_ context.Context, to string, media *relay.MediaPayload, caption string) (relay.SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return relay.SentMessage{}, f.sendErr
	}
	f.media = append(f.media, mediaCall{To: to, Media: media, Caption: caption})
	return relay.SentMessage{ID: "wa-2"}, nil
}

func (f *fakeBackend) GetChats(context.Context) ([]relay.Chat, error) {
	return f.chats, nil
}

func (f *fakeBackend) GetGroups(context.Context) ([]relay.Chat, error) {
	return f.groups, nil
}

func (f *fakeBackend) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return nil
}

func (f *fakeBackend) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
}

func newTestServer(b *fakeBackend) *Server {
	s := NewServer(Config{PublicKey: testPublicKey, SecretKey: testSecretKey}, b, zerolog.Nop())
	s.now = func() time.Time { return testNow }
	return s
}

// signed builds a request carrying valid auth headers.
func signed(method, target string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	ts := strconv.FormatInt(testNow.Unix(), 10)
	req.Header.Set(headerKey, testPublicKey)
	req.Header.Set(headerTimestamp, ts)
	req.Header.Set(headerToken, Sign(testSecretKey, ts))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func serve(t *testing.T, s *Server, req *http.Request) (*httptest.ResponseRecorder, response) {
	t.Helper()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	var resp response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON (%d): %q", w.Code, w.Body.String())
	}
	return w, resp
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return data
}
