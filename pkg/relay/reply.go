// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"
)

var overrideRe = regexp.MustCompile(`^\s*->\s*(\d+)\s*`)

// ParseOverride extracts a leading "-> <digits>" target override from an
// operator reply. It returns the digits and the body without the override.
func ParseOverride(body string) (number, rest string, ok bool) {
	m := overrideRe.FindStringSubmatchIndex(body)
	if m == nil {
		return "", body, false
	}
	return body[m[2]:m[3]], body[m[1]:], true
}

// DispatchReply relays an operator reply to the chat the quoted operator
// message was correlated with. The relayed reply is not correlated itself.
func (r *Relay) DispatchReply(ctx context.Context, msg *InboundMessage) error {
	target, ok := r.correlations.Lookup(msg.QuotedID)
	if !ok {
		return fmt.Errorf("%w %s", ErrUnknownCorrelation, msg.QuotedID)
	}
	log := zerolog.Ctx(ctx).With().Str("target", target).Logger()

	body := msg.Body()
	if number, rest, ok := ParseOverride(body); ok {
		target = MakeUserID(number)
		body = rest
		log = log.With().Str("override_target", target).Logger()
	}

	var out Outgoing
	var opts SendOptions
	switch c := msg.Content.(type) {
	case *Text:
		if body == "" {
			log.Debug().Msg("Dropping empty operator reply")
			return nil
		}
		out.Text = body
	case *Media:
		payload, err := r.session.DownloadMedia(ctx, msg)
		if err != nil || payload.Size() == 0 {
			log.Warn().Err(err).Msg("Dropping operator media reply, download failed")
			return nil
		}
		ensureFileName(payload, c)
		out.Media = payload
		opts = SendOptions{
			Caption:    body,
			MediaKind:  c.MediaKind,
			AsSticker:  c.MediaKind == KindSticker,
			AsVoice:    c.MediaKind == KindVoice,
			AsDocument: c.MediaKind == KindDocument,
		}
	case *Location:
		loc := *c
		loc.Caption = body
		out.Location = &loc
	default:
		log.Debug().Msg("Operator reply has no relayable content")
		return nil
	}

	sent, err := r.send(ctx, target, out, opts)
	if err != nil {
		return err
	}
	log.Info().Str("sent_id", sent.ID).Msg("Relayed operator reply")
	return nil
}
