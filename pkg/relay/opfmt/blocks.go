// Copyright 2024-2026 Aiku AI

package opfmt

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Sender identifies the external party a block is about.
type Sender struct {
	Name   string
	Number string
	// Link is a click-to-chat link for the sender, omitted when empty.
	Link string
}

// Place is a location pin as shown to operators.
type Place struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	Name      string
	Address   string
	Caption   string
}

// MapsLink returns a Google Maps link for the coordinates.
func MapsLink(lat, lon float64) string {
	return "https://maps.google.com/?q=" + Coordinates(lat, lon)
}

// Coordinates formats a coordinate pair with six decimals.
func Coordinates(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', 6, 64) + "," + strconv.FormatFloat(lon, 'f', 6, 64)
}

func writeSender(b *strings.Builder, s Sender) {
	fmt.Fprintf(b, "👤 *Name:* %s\n", Clean(s.Name))
	fmt.Fprintf(b, "📞 *Number:* %s\n", Clean(s.Number))
	if s.Link != "" {
		fmt.Fprintf(b, "🔗 %s\n", s.Link)
	}
}

// TextBlock renders an inbound text message.
func TextBlock(s Sender, body string) string {
	var b strings.Builder
	b.WriteString("📩 *New message*\n")
	writeSender(&b, s)
	b.WriteString("\n")
	b.WriteString(Clean(body))
	return b.String()
}

func writePlace(b *strings.Builder, p Place) {
	fmt.Fprintf(b, "📌 *Coordinates:* %s\n", Coordinates(p.Latitude, p.Longitude))
	if p.Accuracy > 0 {
		fmt.Fprintf(b, "🎯 *Accuracy:* %s m\n", strconv.FormatFloat(p.Accuracy, 'f', 0, 64))
	}
	if name := CleanOptional(p.Name); name != "" {
		fmt.Fprintf(b, "🏷️ *Place:* %s\n", name)
	}
	if addr := CleanOptional(p.Address); addr != "" {
		fmt.Fprintf(b, "🏠 *Address:* %s\n", addr)
	}
	if caption := CleanOptional(p.Caption); caption != "" {
		fmt.Fprintf(b, "💬 %s\n", caption)
	}
	b.WriteString("🗺️ " + MapsLink(p.Latitude, p.Longitude))
}

// LocationBlock renders a static location pin.
func LocationBlock(s Sender, p Place) string {
	var b strings.Builder
	b.WriteString("📍 *Location*\n")
	writeSender(&b, s)
	writePlace(&b, p)
	return b.String()
}

// LiveLocationBlock renders the first event of a live location share.
func LiveLocationBlock(s Sender, p Place) string {
	var b strings.Builder
	b.WriteString("🛰️ *Live location started*\n")
	writeSender(&b, s)
	writePlace(&b, p)
	return b.String()
}

// LiveUpdateBlock renders a follow-up event of an ongoing live location share.
func LiveUpdateBlock(s Sender, p Place, at time.Time) string {
	var b strings.Builder
	b.WriteString("🔄 *Live location update*\n")
	fmt.Fprintf(&b, "👤 %s (%s)\n", Clean(s.Name), Clean(s.Number))
	if !at.IsZero() {
		fmt.Fprintf(&b, "🕒 %s\n", at.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	writePlace(&b, p)
	return b.String()
}

// MediaHeader renders the identity block sent ahead of media kinds that
// cannot carry a caption.
func MediaHeader(s Sender, kind string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📎 *%s*\n", kindLabel(kind))
	writeSender(&b, s)
	return strings.TrimSuffix(b.String(), "\n")
}

// MediaCaption renders the inline caption of an image or video. When the
// original caption does not fit within maxInline runes it is returned
// separately as overflow, to be sent as its own message.
func MediaCaption(s Sender, kind, caption string, maxInline int) (inline, overflow string) {
	header := MediaHeader(s, kind)
	caption = CleanOptional(caption)
	if caption == "" {
		return header, ""
	}
	if maxInline > 0 && utf8.RuneCountInString(caption) > maxInline {
		return header, "💬 " + caption
	}
	return header + "\n\n💬 " + caption, ""
}

// MirrorBlock renders the operator-group copy of a message sent by command.
func MirrorBlock(target, body string) string {
	var b strings.Builder
	b.WriteString("📤 *Message sent*\n")
	fmt.Fprintf(&b, "➡️ *To:* %s\n\n", Clean(target))
	b.WriteString(Clean(body))
	return b.String()
}

func kindLabel(kind string) string {
	switch kind {
	case "image":
		return "Image"
	case "video":
		return "Video"
	case "audio":
		return "Audio"
	case "voice":
		return "Voice note"
	case "sticker":
		return "Sticker"
	case "document":
		return "Document"
	case "":
		return "Media"
	default:
		return strings.ToUpper(kind[:1]) + kind[1:]
	}
}
