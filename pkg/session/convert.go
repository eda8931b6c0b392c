// Copyright 2024-2026 Aiku AI

package session

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/aiku/whatsapp-relay/pkg/relay"
)

// chatIDFromJID renders a JID in the "@c.us" / "@g.us" form the relay uses.
func chatIDFromJID(jid types.JID) string {
	switch jid.Server {
	case types.DefaultUserServer:
		return jid.User + relay.UserSuffix
	case types.GroupServer:
		return jid.User + relay.GroupSuffix
	case types.BroadcastServer:
		if jid.User == "status" {
			return relay.StatusBroadcastID
		}
	}
	return jid.String()
}

// jidFromChatID is the inverse of chatIDFromJID.
func jidFromChatID(id string) (types.JID, error) {
	switch {
	case strings.HasSuffix(id, relay.UserSuffix):
		return types.NewJID(strings.TrimSuffix(id, relay.UserSuffix), types.DefaultUserServer), nil
	case strings.HasSuffix(id, relay.GroupSuffix):
		return types.NewJID(strings.TrimSuffix(id, relay.GroupSuffix), types.GroupServer), nil
	case id == relay.StatusBroadcastID:
		return types.StatusBroadcastJID, nil
	}
	jid, err := types.ParseJID(id)
	if err != nil || jid.User == "" {
		return types.JID{}, fmt.Errorf("%w: %q", relay.ErrInvalidTarget, id)
	}
	return jid, nil
}

// convertMessage turns a whatsmeow message event into an inbound message.
// It returns nil for events the relay must never see.
func convertMessage(evt *events.Message) *relay.InboundMessage {
	if evt == nil || evt.Message == nil {
		return nil
	}
	// Our own messages come back as events; skip them so nothing we send is
	// relayed again.
	if evt.Info.IsFromMe {
		return nil
	}
	msg := &relay.InboundMessage{
		ID:        evt.Info.ID,
		Sender:    chatIDFromJID(phoneJID(evt.Info.Chat, evt.Info.SenderAlt)),
		PushName:  evt.Info.PushName,
		FromGroup: evt.Info.IsGroup,
		Timestamp: evt.Info.Timestamp,
		Content:   contentOf(evt.Message),
	}
	if evt.Info.IsGroup && !evt.Info.Sender.IsEmpty() {
		msg.Author = chatIDFromJID(phoneJID(evt.Info.Sender, evt.Info.SenderAlt))
	}
	if ci := contextInfoOf(evt.Message); ci != nil && ci.GetStanzaID() != "" {
		msg.QuotedID = ci.GetStanzaID()
		if qm := ci.GetQuotedMessage(); qm != nil {
			quoted := &relay.InboundMessage{
				ID:        ci.GetStanzaID(),
				Sender:    msg.Sender,
				FromGroup: msg.FromGroup,
				Content:   contentOf(qm),
			}
			if participant, err := types.ParseJID(ci.GetParticipant()); err == nil && !participant.IsEmpty() {
				quoted.Author = chatIDFromJID(participant.ToNonAD())
			}
			msg.Quoted = quoted
		}
	}
	return msg
}

// phoneJID returns the phone number JID behind a LID-addressed jid when alt
// carries it, and jid itself otherwise.
func phoneJID(jid, alt types.JID) types.JID {
	if jid.Server == types.HiddenUserServer && alt.Server == types.DefaultUserServer && alt.User != "" {
		return alt.ToNonAD()
	}
	return jid.ToNonAD()
}

func contentOf(m *waE2E.Message) relay.Content {
	switch {
	case m.GetConversation() != "":
		return &relay.Text{Body: m.GetConversation()}
	case m.GetExtendedTextMessage() != nil:
		return &relay.Text{Body: m.GetExtendedTextMessage().GetText()}
	case m.GetLocationMessage() != nil:
		loc := m.GetLocationMessage()
		return &relay.Location{
			Latitude:  loc.GetDegreesLatitude(),
			Longitude: loc.GetDegreesLongitude(),
			Accuracy:  float64(loc.GetAccuracyInMeters()),
			Name:      loc.GetName(),
			Address:   loc.GetAddress(),
			Caption:   loc.GetComment(),
			Live:      loc.GetIsLive(),
		}
	case m.GetLiveLocationMessage() != nil:
		loc := m.GetLiveLocationMessage()
		return &relay.Location{
			Latitude:  loc.GetDegreesLatitude(),
			Longitude: loc.GetDegreesLongitude(),
			Accuracy:  float64(loc.GetAccuracyInMeters()),
			Caption:   loc.GetCaption(),
			Live:      true,
		}
	case m.GetImageMessage() != nil:
		img := m.GetImageMessage()
		return &relay.Media{
			MediaKind: relay.KindImage,
			Caption:   img.GetCaption(),
			MimeType:  img.GetMimetype(),
			Size:      int64(img.GetFileLength()),
			Handle:    img,
		}
	case m.GetVideoMessage() != nil:
		vid := m.GetVideoMessage()
		return &relay.Media{
			MediaKind: relay.KindVideo,
			Caption:   vid.GetCaption(),
			MimeType:  vid.GetMimetype(),
			Size:      int64(vid.GetFileLength()),
			Handle:    vid,
		}
	case m.GetAudioMessage() != nil:
		audio := m.GetAudioMessage()
		kind := relay.KindAudio
		if audio.GetPTT() {
			kind = relay.KindVoice
		}
		return &relay.Media{
			MediaKind: kind,
			MimeType:  audio.GetMimetype(),
			Size:      int64(audio.GetFileLength()),
			Handle:    audio,
		}
	case m.GetStickerMessage() != nil:
		sticker := m.GetStickerMessage()
		return &relay.Media{
			MediaKind: relay.KindSticker,
			MimeType:  sticker.GetMimetype(),
			Size:      int64(sticker.GetFileLength()),
			Handle:    sticker,
		}
	case m.GetDocumentMessage() != nil:
		return documentContent(m.GetDocumentMessage())
	case m.GetDocumentWithCaptionMessage().GetMessage().GetDocumentMessage() != nil:
		return documentContent(m.GetDocumentWithCaptionMessage().GetMessage().GetDocumentMessage())
	default:
		return &relay.System{}
	}
}

func documentContent(doc *waE2E.DocumentMessage) *relay.Media {
	return &relay.Media{
		MediaKind: relay.KindDocument,
		Caption:   doc.GetCaption(),
		MimeType:  doc.GetMimetype(),
		FileName:  doc.GetFileName(),
		Size:      int64(doc.GetFileLength()),
		Handle:    doc,
	}
}

func contextInfoOf(m *waE2E.Message) *waE2E.ContextInfo {
	switch {
	case m.GetExtendedTextMessage() != nil:
		return m.GetExtendedTextMessage().GetContextInfo()
	case m.GetImageMessage() != nil:
		return m.GetImageMessage().GetContextInfo()
	case m.GetVideoMessage() != nil:
		return m.GetVideoMessage().GetContextInfo()
	case m.GetAudioMessage() != nil:
		return m.GetAudioMessage().GetContextInfo()
	case m.GetStickerMessage() != nil:
		return m.GetStickerMessage().GetContextInfo()
	case m.GetDocumentMessage() != nil:
		return m.GetDocumentMessage().GetContextInfo()
	case m.GetLocationMessage() != nil:
		return m.GetLocationMessage().GetContextInfo()
	case m.GetLiveLocationMessage() != nil:
		return m.GetLiveLocationMessage().GetContextInfo()
	default:
		return nil
	}
}

// sendKind decides which message type media is sent as.
func sendKind(media *relay.MediaPayload, opts relay.SendOptions) relay.Kind {
	switch {
	case opts.AsDocument:
		return relay.KindDocument
	case opts.AsSticker:
		return relay.KindSticker
	case opts.AsVoice:
		return relay.KindVoice
	case opts.MediaKind.IsMedia():
		return opts.MediaKind
	default:
		return KindForMime(media.MimeType)
	}
}

func uploadType(kind relay.Kind) whatsmeow.MediaType {
	switch kind {
	case relay.KindImage, relay.KindSticker:
		return whatsmeow.MediaImage
	case relay.KindVideo:
		return whatsmeow.MediaVideo
	case relay.KindAudio, relay.KindVoice:
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

// quoteContext builds the context info that turns a message into a reply.
func quoteContext(opts relay.SendOptions) *waE2E.ContextInfo {
	if opts.QuotedID == "" {
		return nil
	}
	ci := &waE2E.ContextInfo{
		StanzaID:      proto.String(opts.QuotedID),
		QuotedMessage: &waE2E.Message{Conversation: proto.String("")},
	}
	if opts.QuotedSender != "" {
		if jid, err := jidFromChatID(opts.QuotedSender); err == nil {
			ci.Participant = proto.String(jid.String())
		}
	}
	return ci
}

func textMessage(text string, opts relay.SendOptions) *waE2E.Message {
	if ci := quoteContext(opts); ci != nil {
		return &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(text),
			ContextInfo: ci,
		}}
	}
	return &waE2E.Message{Conversation: proto.String(text)}
}

func locationMessage(loc *relay.Location, opts relay.SendOptions) *waE2E.Message {
	comment := opts.Caption
	if comment == "" {
		comment = loc.Caption
	}
	out := &waE2E.LocationMessage{
		DegreesLatitude:  proto.Float64(loc.Latitude),
		DegreesLongitude: proto.Float64(loc.Longitude),
		ContextInfo:      quoteContext(opts),
	}
	if loc.Name != "" {
		out.Name = proto.String(loc.Name)
	}
	if loc.Address != "" {
		out.Address = proto.String(loc.Address)
	}
	if comment != "" {
		out.Comment = proto.String(comment)
	}
	return &waE2E.Message{LocationMessage: out}
}

// mediaMessage wraps an uploaded payload in the message type for kind.
func mediaMessage(kind relay.Kind, media *relay.MediaPayload, up whatsmeow.UploadResponse, opts relay.SendOptions) *waE2E.Message {
	var caption *string
	if opts.Caption != "" {
		caption = proto.String(opts.Caption)
	}
	ci := quoteContext(opts)
	mime := proto.String(media.MimeType)
	switch kind {
	case relay.KindImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      mime,
			Caption:       caption,
			ContextInfo:   ci,
		}}
	case relay.KindVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      mime,
			Caption:       caption,
			ContextInfo:   ci,
		}}
	case relay.KindAudio, relay.KindVoice:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      mime,
			PTT:           proto.Bool(kind == relay.KindVoice),
			ContextInfo:   ci,
		}}
	case relay.KindSticker:
		return &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      mime,
			ContextInfo:   ci,
		}}
	default:
		doc := &waE2E.DocumentMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      mime,
			Caption:       caption,
			ContextInfo:   ci,
		}
		if media.FileName != "" {
			doc.FileName = proto.String(media.FileName)
			doc.Title = proto.String(media.FileName)
		}
		return &waE2E.Message{DocumentMessage: doc}
	}
}
