// Copyright 2024-2026 Aiku AI

package session

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/aiku/whatsapp-relay/pkg/relay"
)

// WhatsmeowConn is a Conn backed by a whatsmeow client.
type WhatsmeowConn struct {
	client *whatsmeow.Client
	sink   func(Event)
	log    zerolog.Logger
}

var _ Conn = (*WhatsmeowConn)(nil)

// NewWhatsmeowDialer returns a Dialer that builds a fresh whatsmeow client on
// the first device of container for every connection.
func NewWhatsmeowDialer(container *sqlstore.Container, log zerolog.Logger) Dialer {
	return func(ctx context.Context, sink func(Event)) (Conn, error) {
		device, err := container.GetFirstDevice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load device: %w", err)
		}
		connLog := log.With().Str("component", "wa_client").Logger()
		client := whatsmeow.NewClient(device, waLog.Zerolog(connLog))
		// Reconnects are driven by the supervisor, which builds a new client.
		client.EnableAutoReconnect = false
		c := &WhatsmeowConn{client: client, sink: sink, log: connLog}
		client.AddEventHandler(c.handleEvent)
		return c, nil
	}
}

// Connect opens the websocket. Unpaired devices get a QR channel whose codes
// are forwarded as EventQR.
func (c *WhatsmeowConn) Connect(ctx context.Context) error {
	if c.client.Store.ID != nil {
		return c.client.Connect()
	}
	qrChan, err := c.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to get QR channel: %w", err)
	}
	if err := c.client.Connect(); err != nil {
		return err
	}
	go c.watchQR(qrChan)
	return nil
}

func (c *WhatsmeowConn) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			c.sink(Event{Kind: EventQR, QRCode: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			c.log.Debug().Msg("QR pairing succeeded")
		case whatsmeow.QRChannelTimeout.Event:
			c.sink(Event{Kind: EventAuthFailure, Reason: "QR code timed out"})
		case whatsmeow.QRChannelEventError:
			c.sink(Event{Kind: EventAuthFailure, Reason: fmt.Sprint(item.Error)})
		default:
			c.log.Debug().Str("event", item.Event).Msg("Unhandled QR channel event")
		}
	}
}

func (c *WhatsmeowConn) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		c.resolvePhoneNumber(evt)
		msg := convertMessage(evt)
		if msg == nil {
			return
		}
		c.sink(Event{Kind: EventMessage, Message: msg})
	case *events.PairSuccess:
		c.log.Info().Str("jid", evt.ID.String()).Msg("Paired with phone")
		c.sink(Event{Kind: EventAuthenticated})
	case *events.Connected:
		c.sink(Event{Kind: EventReady})
	case *events.Disconnected:
		c.sink(Event{Kind: EventDisconnected, Reason: "connection closed"})
	case *events.StreamReplaced:
		c.sink(Event{Kind: EventDisconnected, Reason: "stream replaced by another client"})
	case *events.KeepAliveTimeout:
		c.log.Warn().Int("error_count", evt.ErrorCount).Msg("Keepalive timed out")
	case *events.LoggedOut:
		c.sink(Event{Kind: EventLoggedOut, Reason: fmt.Sprint(evt.Reason)})
	case *events.ConnectFailure:
		c.sink(Event{Kind: EventAuthFailure, Reason: fmt.Sprint(evt.Reason)})
	case *events.TemporaryBan:
		c.sink(Event{Kind: EventAuthFailure, Reason: evt.String()})
	}
}

// resolvePhoneNumber fills SenderAlt for LID-addressed messages that
// arrived without it, using the LID mapping in the device store.
func (c *WhatsmeowConn) resolvePhoneNumber(evt *events.Message) {
	src := &evt.Info.MessageSource
	lid := src.Sender
	if src.IsGroup || lid.Server != types.HiddenUserServer || !src.SenderAlt.IsEmpty() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pn, err := c.client.Store.LIDs.GetPNForLID(ctx, lid.ToNonAD())
	if err != nil {
		c.log.Warn().Err(err).Stringer("lid", lid).Msg("Failed to resolve phone number for LID")
		return
	}
	if !pn.IsEmpty() {
		src.SenderAlt = pn
	}
}

func (c *WhatsmeowConn) Disconnect() {
	c.client.Disconnect()
}

func (c *WhatsmeowConn) IsConnected() bool {
	return c.client.IsConnected()
}

func (c *WhatsmeowConn) IsLoggedIn() bool {
	return c.client.IsLoggedIn()
}

func (c *WhatsmeowConn) Logout(ctx context.Context) error {
	return c.client.Logout(ctx)
}

// Send uploads media when needed and sends the message.
func (c *WhatsmeowConn) Send(ctx context.Context, to string, out relay.Outgoing, opts relay.SendOptions) (relay.SentMessage, error) {
	jid, err := jidFromChatID(to)
	if err != nil {
		return relay.SentMessage{}, err
	}
	msg := textMessage(out.Text, opts)
	switch {
	case out.Media != nil:
		kind := sendKind(out.Media, opts)
		up, err := c.client.Upload(ctx, out.Media.Data, uploadType(kind))
		if err != nil {
			return relay.SentMessage{}, fmt.Errorf("failed to upload %s: %w", kind, err)
		}
		msg = mediaMessage(kind, out.Media, up, opts)
	case out.Location != nil:
		msg = locationMessage(out.Location, opts)
	}
	resp, err := c.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return relay.SentMessage{}, err
	}
	return relay.SentMessage{ID: resp.ID, Timestamp: resp.Timestamp}, nil
}

// DownloadMedia decrypts the payload referenced by a media message.
func (c *WhatsmeowConn) DownloadMedia(ctx context.Context, msg *relay.InboundMessage) (*relay.MediaPayload, error) {
	media, ok := msg.Media()
	if !ok {
		return nil, relay.ErrMediaUnavailable
	}
	dl, ok := media.Handle.(whatsmeow.DownloadableMessage)
	if !ok {
		return nil, fmt.Errorf("%w: message %s has no downloadable payload", relay.ErrMediaUnavailable, msg.ID)
	}
	data, err := c.client.Download(ctx, dl)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", relay.ErrMediaUnavailable, err)
	}
	return &relay.MediaPayload{Data: data, MimeType: media.MimeType, FileName: media.FileName}, nil
}

// GetQuotedMessage returns the quoted message carried in the context info.
// whatsmeow keeps no message history, so nothing else can be resolved.
func (c *WhatsmeowConn) GetQuotedMessage(_ context.Context, msg *relay.InboundMessage) (*relay.InboundMessage, error) {
	if msg == nil || msg.Quoted == nil {
		return nil, relay.ErrNoQuotedMessage
	}
	return msg.Quoted, nil
}

// GetChats lists joined groups followed by saved contacts, each sorted by
// name.
func (c *WhatsmeowConn) GetChats(ctx context.Context) ([]relay.Chat, error) {
	groups, err := c.GetGroups(ctx)
	if err != nil {
		return nil, err
	}
	contacts, err := c.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	users := make([]relay.Chat, 0, len(contacts))
	for jid, info := range contacts {
		if jid.Server != types.DefaultUserServer {
			continue
		}
		users = append(users, relay.Chat{ID: chatIDFromJID(jid), Name: contactName(info)})
	}
	sortChats(users)
	return append(groups, users...), nil
}

// GetGroups lists the groups the account has joined.
func (c *WhatsmeowConn) GetGroups(ctx context.Context) ([]relay.Chat, error) {
	infos, err := c.client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	groups := make([]relay.Chat, 0, len(infos))
	for _, info := range infos {
		groups = append(groups, relay.Chat{
			ID:           chatIDFromJID(info.JID),
			Name:         info.Name,
			IsGroup:      true,
			Participants: len(info.Participants),
		})
	}
	sortChats(groups)
	return groups, nil
}

// GetContactName looks up a group subject or a contact's saved name.
func (c *WhatsmeowConn) GetContactName(ctx context.Context, id string) (string, error) {
	jid, err := jidFromChatID(id)
	if err != nil {
		return "", err
	}
	if jid.Server == types.GroupServer {
		info, err := c.client.GetGroupInfo(ctx, jid)
		if err != nil {
			return "", fmt.Errorf("failed to get group info: %w", err)
		}
		return info.Name, nil
	}
	info, err := c.client.Store.Contacts.GetContact(ctx, jid)
	if err != nil {
		return "", fmt.Errorf("failed to get contact: %w", err)
	}
	return contactName(info), nil
}

func contactName(info types.ContactInfo) string {
	return cmp.Or(info.FullName, info.FirstName, info.BusinessName, info.PushName)
}

func sortChats(chats []relay.Chat) {
	slices.SortStableFunc(chats, func(a, b relay.Chat) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
}
