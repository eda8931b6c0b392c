// Copyright 2024-2026 Aiku AI

package relay

import "context"

// Session is the part of the session adapter the routing engine sends
// through. Implementations must be safe for concurrent use and keep working
// across reconnects.
type Session interface {
	// IsReady reports whether the underlying connection can send.
	IsReady() bool
	Send(ctx context.Context, to string, out Outgoing, opts SendOptions) (SentMessage, error)
	// DownloadMedia fetches the payload of a media message. It returns
	// ErrMediaUnavailable when the payload cannot be fetched.
	DownloadMedia(ctx context.Context, msg *InboundMessage) (*MediaPayload, error)
	// GetQuotedMessage resolves the message quoted by msg. It returns
	// ErrNoQuotedMessage when msg does not quote anything resolvable.
	GetQuotedMessage(ctx context.Context, msg *InboundMessage) (*InboundMessage, error)
	GetChats(ctx context.Context) ([]Chat, error)
	GetGroups(ctx context.Context) ([]Chat, error)
	// GetContactName returns the best known display name of a chat.
	GetContactName(ctx context.Context, id string) (string, error)
}

// MessageHandler consumes inbound messages.
type MessageHandler func(ctx context.Context, msg *InboundMessage)

// MessageSource delivers inbound messages to a single subscriber that stays
// registered across reconnects.
type MessageSource interface {
	OnMessage(handler MessageHandler)
}
