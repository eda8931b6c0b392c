// Copyright 2024-2026 Aiku AI

package relay

import (
	"strings"
	"time"
)

// Kind is the content kind of an inbound message.
type Kind string

const (
	KindText         Kind = "text"
	KindLocation     Kind = "location"
	KindLiveLocation Kind = "live-location"
	KindImage        Kind = "image"
	KindVideo        Kind = "video"
	KindAudio        Kind = "audio"
	KindVoice        Kind = "voice"
	KindSticker      Kind = "sticker"
	KindDocument     Kind = "document"
	KindSystem       Kind = "system"
)

// IsMedia reports whether the kind carries a downloadable payload.
func (k Kind) IsMedia() bool {
	switch k {
	case KindImage, KindVideo, KindAudio, KindVoice, KindSticker, KindDocument:
		return true
	default:
		return false
	}
}

// Content is the closed set of message payload variants. Only the types in
// this package implement it.
type Content interface {
	Kind() Kind
	isContent()
}

// Text is a plain text message.
type Text struct {
	Body string
}

// Location is a static or live location pin.
type Location struct {
	Latitude  float64
	Longitude float64
	// Accuracy in meters, zero when unknown.
	Accuracy float64
	Name     string
	Address  string
	Caption  string
	Live     bool
}

// Media describes a media attachment. The payload itself is fetched on
// demand through Session.DownloadMedia.
type Media struct {
	MediaKind Kind
	Caption   string
	MimeType  string
	FileName  string
	Size      int64
	// Handle is an opaque transport reference used by the session adapter to
	// download the payload.
	Handle any
}

// System is a status broadcast, protocol notice or any other content that is
// never relayed.
type System struct {
	Body string
}

func (*Text) Kind() Kind { return KindText }

func (l *Location) Kind() Kind {
	if l.Live {
		return KindLiveLocation
	}
	return KindLocation
}

func (m *Media) Kind() Kind { return m.MediaKind }

func (*System) Kind() Kind { return KindSystem }

func (*Text) isContent()     {}
func (*Location) isContent() {}
func (*Media) isContent()    {}
func (*System) isContent()   {}

// InboundMessage is a single message received from the session adapter.
// It is never modified after the adapter hands it over.
type InboundMessage struct {
	ID string
	// Sender is the chat the message arrived in: an individual (@c.us) or a
	// group (@g.us).
	Sender string
	// Author is the participant that wrote the message inside a group chat.
	Author    string
	PushName  string
	FromGroup bool
	// QuotedID is the identifier of the message this one replies to.
	QuotedID string
	// Quoted is the partially known quoted message, if the transport
	// delivered it alongside the reply.
	Quoted    *InboundMessage
	Timestamp time.Time
	Content   Content
}

// Kind returns the content kind, or KindSystem for messages without content.
func (m *InboundMessage) Kind() Kind {
	if m == nil || m.Content == nil {
		return KindSystem
	}
	return m.Content.Kind()
}

// Body returns the user-visible text of the message: the text body, the
// media caption or the location caption.
func (m *InboundMessage) Body() string {
	if m == nil {
		return ""
	}
	switch c := m.Content.(type) {
	case *Text:
		return c.Body
	case *Media:
		return c.Caption
	case *Location:
		return c.Caption
	default:
		return ""
	}
}

// Location returns the location content, if any.
func (m *InboundMessage) Location() (*Location, bool) {
	if m == nil {
		return nil, false
	}
	loc, ok := m.Content.(*Location)
	return loc, ok
}

// Media returns the media content, if any.
func (m *InboundMessage) Media() (*Media, bool) {
	if m == nil {
		return nil, false
	}
	media, ok := m.Content.(*Media)
	return media, ok
}

// DisplayName is the best human-readable name for the sender.
func (m *InboundMessage) DisplayName() string {
	if name := strings.TrimSpace(m.PushName); name != "" {
		return name
	}
	return NumberFromID(m.Sender)
}

// MediaPayload is downloaded or transformed media.
type MediaPayload struct {
	Data     []byte
	MimeType string
	FileName string
}

// Size returns the payload size in bytes.
func (p *MediaPayload) Size() int {
	if p == nil {
		return 0
	}
	return len(p.Data)
}

// Outgoing is the content of a message sent through the session adapter.
// Exactly one of Text, Media or Location is set.
type Outgoing struct {
	Text     string
	Media    *MediaPayload
	Location *Location
}

// SendOptions are per-send flags understood by the session adapter.
type SendOptions struct {
	Caption string
	// QuotedID makes the outgoing message a reply to an earlier message.
	QuotedID     string
	QuotedSender string
	MediaKind    Kind
	AsSticker    bool
	AsVoice      bool
	AsDocument   bool
}

// SentMessage is the handle of a message accepted by the network.
type SentMessage struct {
	ID        string
	Timestamp time.Time
}

// Chat is a conversation known to the session.
type Chat struct {
	ID      string
	Name    string
	IsGroup bool
	// Participants is only filled for groups.
	Participants int
}
