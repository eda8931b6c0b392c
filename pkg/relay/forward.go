// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exmime"

	"github.com/aiku/whatsapp-relay/pkg/relay/opfmt"
)

func senderOf(msg *InboundMessage) opfmt.Sender {
	return opfmt.Sender{
		Name:   msg.DisplayName(),
		Number: NumberFromID(msg.Sender),
		Link:   WaLink(msg.Sender, ""),
	}
}

func placeOf(loc *Location) opfmt.Place {
	return opfmt.Place{
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Accuracy:  loc.Accuracy,
		Name:      loc.Name,
		Address:   loc.Address,
		Caption:   loc.Caption,
	}
}

// Forward renders msg into the operator group and correlates every posted
// message with the sender.
func (r *Relay) Forward(ctx context.Context, msg *InboundMessage) error {
	switch c := msg.Content.(type) {
	case *Text:
		return r.forwardText(ctx, msg, c)
	case *Location:
		if c.Live {
			return r.forwardLiveLocation(ctx, msg, c)
		}
		return r.forwardLocation(ctx, msg, c)
	case *Media:
		return r.forwardMedia(ctx, msg, c)
	default:
		zerolog.Ctx(ctx).Debug().Msg("Nothing to forward")
		return nil
	}
}

func (r *Relay) forwardText(ctx context.Context, msg *InboundMessage, text *Text) error {
	_, err := r.toOperator(ctx, msg.Sender, Outgoing{Text: opfmt.TextBlock(senderOf(msg), text.Body)}, SendOptions{})
	return err
}

func (r *Relay) forwardLocation(ctx context.Context, msg *InboundMessage, loc *Location) error {
	_, err := r.toOperator(ctx, msg.Sender, Outgoing{Text: opfmt.LocationBlock(senderOf(msg), placeOf(loc))}, SendOptions{})
	return err
}

// forwardLiveLocation posts the start of a live share once per sender. Later
// events of a still live share are posted as updates quoting the start and
// are not correlated.
func (r *Relay) forwardLiveLocation(ctx context.Context, msg *InboundMessage, loc *Location) error {
	if sess, ok := r.correlations.RefreshLive(msg.Sender); ok {
		text := opfmt.LiveUpdateBlock(senderOf(msg), placeOf(loc), msg.Timestamp)
		_, err := r.send(ctx, r.cfg.OperatorGroup, Outgoing{Text: text}, SendOptions{QuotedID: sess.OperatorMessageID})
		return err
	}
	sent, err := r.toOperator(ctx, msg.Sender, Outgoing{Text: opfmt.LiveLocationBlock(senderOf(msg), placeOf(loc))}, SendOptions{})
	if err != nil {
		return err
	}
	r.correlations.StartLive(msg.Sender, sent.ID)
	return nil
}

// forwardMedia downloads, shrinks and posts a media message. Download or
// transform problems drop the message without an error.
func (r *Relay) forwardMedia(ctx context.Context, msg *InboundMessage, media *Media) error {
	log := zerolog.Ctx(ctx)
	payload, err := r.session.DownloadMedia(ctx, msg)
	if err != nil || payload.Size() == 0 {
		log.Warn().Err(err).Msg("Dropping media message, download failed")
		return nil
	}
	payload, err = r.transformMedia(ctx, media.MediaKind, payload)
	if err != nil || payload.Size() == 0 {
		log.Warn().Err(err).Msg("Dropping media message, transform produced no payload")
		return nil
	}
	ensureFileName(payload, media)

	sender := senderOf(msg)
	kind := string(media.MediaKind)
	opts := SendOptions{MediaKind: media.MediaKind}

	switch media.MediaKind {
	case KindSticker, KindAudio, KindVoice:
		if _, err := r.toOperator(ctx, msg.Sender, Outgoing{Text: opfmt.MediaHeader(sender, kind)}, SendOptions{}); err != nil {
			return err
		}
		opts.AsSticker = media.MediaKind == KindSticker
		opts.AsVoice = media.MediaKind == KindVoice
		_, err := r.toOperator(ctx, msg.Sender, Outgoing{Media: payload}, opts)
		return err
	case KindDocument:
		opts.AsDocument = true
	}

	caption, overflow := opfmt.MediaCaption(sender, kind, media.Caption, r.cfg.MaxInlineCaption)
	opts.Caption = caption
	if _, err := r.toOperator(ctx, msg.Sender, Outgoing{Media: payload}, opts); err != nil {
		return err
	}
	if overflow != "" {
		if _, err := r.toOperator(ctx, msg.Sender, Outgoing{Text: overflow}, SendOptions{}); err != nil {
			return err
		}
	}
	return nil
}

// transformMedia recompresses images, and videos at or below the video
// threshold. Larger videos and every other kind pass through unchanged.
func (r *Relay) transformMedia(ctx context.Context, kind Kind, payload *MediaPayload) (*MediaPayload, error) {
	log := zerolog.Ctx(ctx)
	switch {
	case kind == KindImage:
		out, err := r.media.Image(ctx, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to recompress image: %w", err)
		}
		log.Debug().Int("in_size", payload.Size()).Int("out_size", out.Size()).Msg("Recompressed image")
		return out, nil
	case kind == KindVideo && int64(payload.Size()) <= r.cfg.VideoThreshold:
		out, err := r.media.Video(ctx, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to recompress video: %w", err)
		}
		log.Debug().Int("in_size", payload.Size()).Int("out_size", out.Size()).Msg("Recompressed video")
		return out, nil
	default:
		return payload, nil
	}
}

func ensureFileName(payload *MediaPayload, media *Media) {
	if payload.MimeType == "" {
		payload.MimeType = media.MimeType
	}
	if payload.FileName == "" {
		payload.FileName = media.FileName
	}
	if payload.FileName == "" {
		payload.FileName = string(media.MediaKind) + exmime.ExtensionFromMimetype(payload.MimeType)
	}
}
