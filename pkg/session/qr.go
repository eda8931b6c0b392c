// Copyright 2024-2026 Aiku AI

package session

import (
	"fmt"
	"io"
	"strings"

	"github.com/skip2/go-qrcode"

	"github.com/aiku/whatsapp-relay/pkg/relay"
)

// RenderQR writes code to w as a terminal-friendly QR code.
func RenderQR(w io.Writer, code string) error {
	if w == nil {
		return nil
	}
	if code == "" {
		return fmt.Errorf("empty QR code")
	}
	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("failed to encode QR code: %w", err)
	}
	_, err = io.WriteString(w, qr.ToSmallString(false))
	return err
}

// KindForMime maps a MIME type to the media kind used when sending it.
func KindForMime(mime string) relay.Kind {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case strings.HasPrefix(mime, "image/"):
		return relay.KindImage
	case strings.HasPrefix(mime, "video/"):
		return relay.KindVideo
	case strings.HasPrefix(mime, "audio/"):
		return relay.KindAudio
	default:
		return relay.KindDocument
	}
}
