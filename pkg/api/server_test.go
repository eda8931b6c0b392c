// Copyright 2024-2026 Aiku AI

package api

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/whatsapp-relay/pkg/relay"
	"github.com/aiku/whatsapp-relay/pkg/session"
)

func TestSign(t *testing.T) {
	t.Parallel()
	const want = "dc7b841901df7cfc60f7536ffd844252b4c3f1892304cb2823656d7293c08280"
	if got := Sign("test-secret", "1767225600"); got != want {
		t.Errorf("Sign: got %q, want %q", got, want)
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()
	ts := strconv.FormatInt(testNow.Unix(), 10)
	stale := strconv.FormatInt(testNow.Unix()-61, 10)
	tests := []struct {
		name       string
		key, stamp string
		token      string
		wantStatus int
	}{
		{"valid", testPublicKey, ts, Sign(testSecretKey, ts), http.StatusOK},
		{"missing headers", "", "", "", http.StatusUnauthorized},
		{"wrong key", "other", ts, Sign(testSecretKey, ts), http.StatusUnauthorized},
		{"non-numeric timestamp", testPublicKey, "soon", Sign(testSecretKey, "soon"), http.StatusBadRequest},
		{"stale timestamp", testPublicKey, stale, Sign(testSecretKey, stale), http.StatusUnauthorized},
		{"wrong secret", testPublicKey, ts, Sign("guess", ts), http.StatusUnauthorized},
		{"token for other timestamp", testPublicKey, ts, Sign(testSecretKey, stale), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(&fakeBackend{})
			req := httptest.NewRequest(http.MethodGet, "/whatsapp/status", nil)
			if tt.key != "" {
				req.Header.Set(headerKey, tt.key)
			}
			if tt.stamp != "" {
				req.Header.Set(headerTimestamp, tt.stamp)
			}
			if tt.token != "" {
				req.Header.Set(headerToken, tt.token)
			}
			w, resp := serve(t, s, req)
			if w.Code != tt.wantStatus {
				t.Errorf("status: got %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK && resp.Error != "Unauthorized." {
				t.Errorf("error: got %q, want Unauthorized.", resp.Error)
			}
		})
	}
}

func TestAuthWithoutConfiguredKeys(t *testing.T) {
	t.Parallel()
	s := NewServer(Config{}, &fakeBackend{}, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/whatsapp/status", nil)
	req.Header.Set(headerKey, "")
	req.Header.Set(headerTimestamp, "1")
	req.Header.Set(headerToken, Sign("", "1"))
	if w, _ := serve(t, s, req); w.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", w.Code)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{status: session.Status{IsReady: true, IsAuthenticated: true, State: "ready"}}
	s := newTestServer(b)
	w, resp := serve(t, s, signed(http.MethodGet, "/whatsapp/status", nil))
	if w.Code != http.StatusOK || !resp.Success {
		t.Fatalf("got %d %+v", w.Code, resp)
	}
	data, _ := resp.Data.(map[string]any)
	if data["isReady"] != true || data["isAuthenticated"] != true || data["state"] != "ready" {
		t.Errorf("data: got %v", resp.Data)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("response should carry a request id")
	}
}

func TestSendMessage(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{}
	s := newTestServer(b)

	body := mustJSON(t, map[string]string{"to": "0812-3456", "message": "halo"})
	w, resp := serve(t, s, signed(http.MethodPost, "/whatsapp/send-message", body))
	if w.Code != http.StatusOK || resp.Message != "Message sent successfully" {
		t.Fatalf("got %d %+v", w.Code, resp)
	}
	if !slices.Equal(b.texts, []string{"628123456@c.us: halo"}) {
		t.Errorf("texts: got %v", b.texts)
	}

	// The same route is mounted under /api.
	w, _ = serve(t, s, signed(http.MethodPost, "/api/whatsapp/send-message", body))
	if w.Code != http.StatusOK {
		t.Errorf("/api prefix: got %d", w.Code)
	}
}

func TestSendMessageValidation(t *testing.T) {
	t.Parallel()
	s := newTestServer(&fakeBackend{})
	tests := []struct {
		name string
		body []byte
		want string
	}{
		{"missing message", mustJSON(t, map[string]string{"to": "0812"}), "Missing required fields: to and message"},
		{"missing to", mustJSON(t, map[string]string{"message": "x"}), "Missing required fields: to and message"},
		{"invalid json", []byte("{"), "Invalid JSON body"},
	}
	for _, tt := range tests {
		w, resp := serve(t, s, signed(http.MethodPost, "/whatsapp/send-message", tt.body))
		if w.Code != http.StatusBadRequest || resp.Error != tt.want {
			t.Errorf("%s: got %d %q, want 400 %q", tt.name, w.Code, resp.Error, tt.want)
		}
	}

	w, _ := serve(t, s, signed(http.MethodPost, "/whatsapp/send-message", mustJSON(t, map[string]string{"to": "nodigits", "message": "x"})))
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid target: got %d, want 400", w.Code)
	}
}

func TestSendMessageBackendErrors(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{sendErr: relay.ErrNotReady}
	s := newTestServer(b)
	body := mustJSON(t, map[string]string{"to": "0812", "message": "x"})
	w, resp := serve(t, s, signed(http.MethodPost, "/whatsapp/send-message", body))
	if w.Code != http.StatusInternalServerError || resp.Error != "WhatsApp client is not ready" {
		t.Errorf("not ready: got %d %q", w.Code, resp.Error)
	}

	b.sendErr = errors.New("socket closed")
	w, resp = serve(t, s, signed(http.MethodPost, "/whatsapp/send-message", body))
	if w.Code != http.StatusInternalServerError || resp.Error != "socket closed" {
		t.Errorf("transport: got %d %q", w.Code, resp.Error)
	}
}

func TestSendMessageGroup(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{}
	s := newTestServer(b)
	body := mustJSON(t, map[string]string{"groupId": "120363001", "message": "rapat"})
	w, resp := serve(t, s, signed(http.MethodPost, "/whatsapp/send-message-group", body))
	if w.Code != http.StatusOK {
		t.Fatalf("got %d %+v", w.Code, resp)
	}
	if !slices.Equal(b.texts, []string{"120363001@g.us: rapat"}) {
		t.Errorf("texts: got %v", b.texts)
	}
	w, resp = serve(t, s, signed(http.MethodPost, "/whatsapp/send-message-group", mustJSON(t, map[string]string{"to": "x", "message": "y"})))
	if w.Code != http.StatusBadRequest || resp.Error != "Missing required fields: groupId and message" {
		t.Errorf("missing groupId: got %d %q", w.Code, resp.Error)
	}
}

func TestSendMessageGlobal(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{}
	s := newTestServer(b)

	// Public route: no auth headers.
	req := httptest.NewRequest(http.MethodPost, "/public/send-message-global",
		bytes.NewReader(mustJSON(t, map[string]string{"to": "120363001@g.us", "message": "hi"})))
	w, _ := serve(t, s, req)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
	if !slices.Equal(b.texts, []string{"120363001@g.us: hi"}) {
		t.Errorf("texts: got %v", b.texts)
	}

	req = httptest.NewRequest(http.MethodPost, "/public/send-message-global",
		bytes.NewReader(mustJSON(t, map[string]string{"to": "0812", "message": "hi"})))
	if w, _ := serve(t, s, req); w.Code != http.StatusBadRequest {
		t.Errorf("bare number must be rejected: got %d", w.Code)
	}
}

func TestSendMediaFromURL(t *testing.T) {
	t.Parallel()
	png := []byte("\x89PNG\r\n\x1a\nfake")
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	}))
	defer origin.Close()

	b := &fakeBackend{}
	s := newTestServer(b)
	body := mustJSON(t, map[string]string{"to": "0812", "mediaUrl": origin.URL + "/img/logo.png", "caption": "logo"})
	w, resp := serve(t, s, signed(http.MethodPost, "/whatsapp/send-media", body))
	if w.Code != http.StatusOK || resp.Message != "Media sent successfully" {
		t.Fatalf("got %d %+v", w.Code, resp)
	}
	if len(b.media) != 1 {
		t.Fatalf("media sends: got %d, want 1", len(b.media))
	}
	got := b.media[0]
	if got.To != "62812@c.us" || got.Caption != "logo" {
		t.Errorf("send: %+v", got)
	}
	if got.Media.MimeType != "image/png" || got.Media.FileName != "logo.png" || !bytes.Equal(got.Media.Data, png) {
		t.Errorf("payload: %q %q %d bytes", got.Media.MimeType, got.Media.FileName, got.Media.Size())
	}

	body = mustJSON(t, map[string]string{"to": "0812", "mediaUrl": origin.URL + "/missing"})
	if w, _ := serve(t, s, signed(http.MethodPost, "/whatsapp/send-media", body)); w.Code != http.StatusInternalServerError {
		t.Errorf("missing origin file: got %d, want 500", w.Code)
	}
	body = mustJSON(t, map[string]string{"to": "0812", "mediaUrl": "file:///etc/passwd"})
	if w, _ := serve(t, s, signed(http.MethodPost, "/whatsapp/send-media", body)); w.Code != http.StatusBadRequest {
		t.Errorf("non-http url: got %d, want 400", w.Code)
	}
	body = mustJSON(t, map[string]string{"to": "0812"})
	if w, resp := serve(t, s, signed(http.MethodPost, "/whatsapp/send-media", body)); w.Code != http.StatusBadRequest || resp.Error != "Missing required fields: to and mediaUrl" {
		t.Errorf("missing url: got %d %q", w.Code, resp.Error)
	}
}

func multipartRequest(t *testing.T, fields map[string]string, fileName, fileType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if fileName != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
		h.Set("Content-Type", fileType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		part.Write(data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	req := signed(http.MethodPost, "/whatsapp/send-media", buf.Bytes())
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestSendMediaMultipart(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{}
	s := newTestServer(b)

	req := multipartRequest(t, map[string]string{"to": "0812", "caption": "invoice"}, "inv.pdf", "application/pdf", []byte("%PDF-1.4"))
	w, resp := serve(t, s, req)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d %+v", w.Code, resp)
	}
	got := b.media[0]
	if got.To != "62812@c.us" || got.Caption != "invoice" || got.Media.FileName != "inv.pdf" || got.Media.MimeType != "application/pdf" {
		t.Errorf("send: %+v %q %q", got, got.Media.FileName, got.Media.MimeType)
	}

	req = multipartRequest(t, map[string]string{"caption": "x"}, "inv.pdf", "application/pdf", []byte("%PDF"))
	if w, resp := serve(t, s, req); w.Code != http.StatusBadRequest || resp.Error != "to & file required" {
		t.Errorf("missing to: got %d %q", w.Code, resp.Error)
	}
	req = multipartRequest(t, map[string]string{"to": "0812"}, "", "", nil)
	if w, _ := serve(t, s, req); w.Code != http.StatusBadRequest {
		t.Errorf("missing file: got %d", w.Code)
	}
}

func TestSendMediaMultipartTooLarge(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{}
	s := NewServer(Config{PublicKey: testPublicKey, SecretKey: testSecretKey, MaxUploadSize: 1 << 20}, b, zerolog.Nop())
	s.now = func() time.Time { return testNow }

	req := multipartRequest(t, map[string]string{"to": "0812"}, "big.bin", "application/octet-stream", make([]byte, 1<<20+10))
	w, resp := serve(t, s, req)
	if w.Code != http.StatusBadRequest || resp.Error != "File too large (max 1MB)" {
		t.Errorf("got %d %q", w.Code, resp.Error)
	}
	if len(b.media) != 0 {
		t.Error("nothing should be sent")
	}
}

func TestChatsAndGroups(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{
		chats:  []relay.Chat{{ID: "6281@c.us", Name: "Budi"}},
		groups: []relay.Chat{{ID: "1203@g.us", Name: "Ops", IsGroup: true, Participants: 4}},
	}
	s := newTestServer(b)

	_, resp := serve(t, s, signed(http.MethodGet, "/whatsapp/chats", nil))
	chats, _ := resp.Data.([]any)
	if len(chats) != 1 || chats[0].(map[string]any)["id"] != "6281@c.us" {
		t.Errorf("chats: got %v", resp.Data)
	}
	_, resp = serve(t, s, signed(http.MethodGet, "/whatsapp/groups", nil))
	groups, _ := resp.Data.([]any)
	if len(groups) != 1 {
		t.Fatalf("groups: got %v", resp.Data)
	}
	g := groups[0].(map[string]any)
	if g["isGroup"] != true || g["participants"] != float64(4) {
		t.Errorf("group: got %v", g)
	}
}

func TestLogoutAndDestroy(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{}
	s := newTestServer(b)
	if w, resp := serve(t, s, signed(http.MethodPost, "/whatsapp/logout", nil)); w.Code != http.StatusOK || resp.Message != "Logged out successfully" {
		t.Errorf("logout: got %d %+v", w.Code, resp)
	}
	if w, resp := serve(t, s, signed(http.MethodPost, "/whatsapp/destroy", nil)); w.Code != http.StatusOK || resp.Message != "Client destroyed successfully" {
		t.Errorf("destroy: got %d %+v", w.Code, resp)
	}
	if b.logouts != 1 || !b.destroyed {
		t.Errorf("backend: logouts=%d destroyed=%v", b.logouts, b.destroyed)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	if err := (Config{PublicKey: "a"}).Validate(); err == nil {
		t.Error("half-configured keys should fail")
	}
	if err := (Config{}).Validate(); err != nil {
		t.Errorf("no keys: %v", err)
	}
	cfg := Config{}.WithDefaults()
	if cfg.Listen != DefaultListen || cfg.MaxUploadSize != 64<<20 || cfg.TimestampSkew != DefaultTimestampSkew {
		t.Errorf("defaults: %+v", cfg)
	}
}
