// Copyright 2024-2026 Aiku AI

// Package session keeps a WhatsApp connection alive for the relay. A
// Supervisor owns the current Conn, rebuilds it when it drops, and feeds
// inbound messages to one subscriber that survives every rebuild.
package session

import (
	"context"

	"github.com/aiku/whatsapp-relay/pkg/relay"
)

// EventKind identifies a connection lifecycle or message event.
type EventKind int

const (
	EventQR EventKind = iota + 1
	EventAuthenticated
	EventAuthFailure
	EventReady
	EventDisconnected
	EventLoggedOut
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventQR:
		return "qr"
	case EventAuthenticated:
		return "authenticated"
	case EventAuthFailure:
		return "auth-failure"
	case EventReady:
		return "ready"
	case EventDisconnected:
		return "disconnected"
	case EventLoggedOut:
		return "logged-out"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is emitted by a Conn on its own goroutine.
type Event struct {
	Kind    EventKind
	Message *relay.InboundMessage
	// QRCode is the pairing code to render, for EventQR.
	QRCode string
	Reason string
}

// Conn is a single underlying connection. It is discarded and replaced by a
// new one after it disconnects.
type Conn interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	IsLoggedIn() bool
	Logout(ctx context.Context) error

	Send(ctx context.Context, to string, out relay.Outgoing, opts relay.SendOptions) (relay.SentMessage, error)
	DownloadMedia(ctx context.Context, msg *relay.InboundMessage) (*relay.MediaPayload, error)
	GetQuotedMessage(ctx context.Context, msg *relay.InboundMessage) (*relay.InboundMessage, error)
	GetChats(ctx context.Context) ([]relay.Chat, error)
	GetGroups(ctx context.Context) ([]relay.Chat, error)
	GetContactName(ctx context.Context, id string) (string, error)
}

// Dialer creates a new Conn that reports its events to sink.
type Dialer func(ctx context.Context, sink func(Event)) (Conn, error)
