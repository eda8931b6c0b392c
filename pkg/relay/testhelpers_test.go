// Copyright 2024-2026 Aiku AI

package relay

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const (
	testOperatorGroup = "120363000000000001@g.us"
	testSender        = "6281111111111@c.us"
)

// sentCall records one Session.Send invocation.
type sentCall struct {
	To   string
	Out  Outgoing
	Opts SendOptions
	ID   string
}

// fakeSession is an in-memory Session. Sent messages get sequential ids.
type fakeSession struct {
	mu     sync.Mutex
	ready  bool
	sends  []sentCall
	nextID int

	// media maps message id to the payload returned by DownloadMedia.
	media map[string]*MediaPayload
	// quoted maps message id to the result of GetQuotedMessage.
	quoted map[string]*InboundMessage
	// failTo makes sends to the given chat fail.
	failTo map[string]error

	chats     []Chat
	groups    []Chat
	names     map[string]string
	nameDelay map[string]time.Duration
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		ready:     true,
		media:     make(map[string]*MediaPayload),
		quoted:    make(map[string]*InboundMessage),
		failTo:    make(map[string]error),
		names:     make(map[string]string),
		nameDelay: make(map[string]time.Duration),
	}
}

func (f *fakeSession) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeSession) Send(_ context.Context, to string, out Outgoing, opts SendOptions) (SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failTo[to]; err != nil {
		return SentMessage{}, err
	}
	f.nextID++
	id := fmt.Sprintf("sent-%d", f.nextID)
	f.sends = append(f.sends, sentCall{To: to, Out: out, Opts: opts, ID: id})
	return SentMessage{ID: id, Timestamp: time.Now()}, nil
}

func (f *fakeSession) DownloadMedia(_ context.Context, msg *InboundMessage) (*MediaPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.media[msg.ID]
	if !ok {
		return nil, ErrMediaUnavailable
	}
	cp := *p
	return &cp, nil
}

func (f *fakeSession) GetQuotedMessage(_ context.Context, msg *InboundMessage) (*InboundMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quoted[msg.ID]
	if !ok {
		return nil, ErrNoQuotedMessage
	}
	return q, nil
}

func (f *fakeSession) GetChats(context.Context) ([]Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Chat(nil), f.chats...), nil
}

func (f *fakeSession) GetGroups(context.Context) ([]Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Chat(nil), f.groups...), nil
}

func (f *fakeSession) GetContactName(ctx context.Context, id string) (string, error) {
	f.mu.Lock()
	delay := f.nameDelay[id]
	name := f.names[id]
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return name, nil
}

// Sends returns a copy of all recorded sends.
func (f *fakeSession) Sends() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]sentCall, len(f.sends))
	copy(cp, f.sends)
	return cp
}

// SendsTo returns the recorded sends addressed to chat.
func (f *fakeSession) SendsTo(chat string) []sentCall {
	var out []sentCall
	for _, s := range f.Sends() {
		if s.To == chat {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeSession) setReady(ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = ready
}

// recordingTransformer records which transform ran and marks its output.
type recordingTransformer struct {
	mu     sync.Mutex
	images int
	videos int
	empty  bool
}

func (r *recordingTransformer) Image(_ context.Context, in *MediaPayload) (*MediaPayload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images++
	return r.output(in, "image/jpeg"), nil
}

func (r *recordingTransformer) Video(_ context.Context, in *MediaPayload) (*MediaPayload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videos++
	return r.output(in, "video/mp4"), nil
}

func (r *recordingTransformer) output(in *MediaPayload, mime string) *MediaPayload {
	if r.empty {
		return &MediaPayload{MimeType: mime}
	}
	return &MediaPayload{Data: []byte("compressed"), MimeType: mime, FileName: in.FileName}
}

func (r *recordingTransformer) counts() (images, videos int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.images, r.videos
}

func newTestRelay(t *testing.T, sess Session, media MediaTransformer, extra ...Command) *Relay {
	t.Helper()
	r, err := New(Config{OperatorGroup: testOperatorGroup}, sess, media, zerolog.Nop(), extra...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func textMessage(id, sender, body string) *InboundMessage {
	return &InboundMessage{
		ID:        id,
		Sender:    sender,
		FromGroup: IsGroupID(sender),
		PushName:  "Tester",
		Timestamp: time.Now(),
		Content:   &Text{Body: body},
	}
}

func operatorReply(id, quotedID, body string) *InboundMessage {
	msg := textMessage(id, testOperatorGroup, body)
	msg.Author = "6289999999999@c.us"
	msg.QuotedID = quotedID
	return msg
}

func bytesOfSize(n int) []byte {
	return bytes.Repeat([]byte{0x42}, n)
}
