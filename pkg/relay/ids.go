// Copyright 2024-2026 Aiku AI

package relay

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	// UserSuffix terminates individual chat identifiers.
	UserSuffix = "@c.us"
	// GroupSuffix terminates group chat identifiers.
	GroupSuffix = "@g.us"
	// StatusBroadcastID is the pseudo-chat that carries status updates.
	StatusBroadcastID = "status@broadcast"

	// DefaultCountryCode is prepended to numbers written in local format.
	DefaultCountryCode = "62"
)

var (
	nonDigitRe = regexp.MustCompile(`\D`)
	chatIDRe   = regexp.MustCompile(`^\S+@(c|g)\.us$`)
)

// FormatPhoneNumber canonicalizes a phone number to international digits:
// non-digits are removed, a leading 0 is replaced by the country code and
// the country code is added when missing.
func FormatPhoneNumber(number string) string {
	digits := nonDigitRe.ReplaceAllString(number, "")
	if digits == "" {
		return ""
	}
	if strings.HasPrefix(digits, "0") {
		digits = DefaultCountryCode + digits[1:]
	}
	if !strings.HasPrefix(digits, DefaultCountryCode) {
		digits = DefaultCountryCode + digits
	}
	return digits
}

// MakeUserID creates an individual chat identifier from a phone number.
func MakeUserID(number string) string {
	formatted := FormatPhoneNumber(number)
	if formatted == "" {
		return ""
	}
	return formatted + UserSuffix
}

// MakeGroupID creates a group chat identifier from a bare group id.
func MakeGroupID(groupID string) string {
	return strings.TrimSuffix(strings.TrimSpace(groupID), GroupSuffix) + GroupSuffix
}

// ToChatID converts a user-supplied target into a chat identifier. Targets
// already carrying a chat suffix are returned unchanged; bare targets are
// treated as phone numbers unless isGroup is set.
func ToChatID(target string, isGroup bool) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("%w: empty target", ErrInvalidTarget)
	}
	if strings.HasSuffix(target, UserSuffix) || strings.HasSuffix(target, GroupSuffix) {
		if !chatIDRe.MatchString(target) {
			return "", fmt.Errorf("%w: %q", ErrInvalidTarget, target)
		}
		return target, nil
	}
	if isGroup {
		return MakeGroupID(target), nil
	}
	id := MakeUserID(target)
	if id == "" {
		return "", fmt.Errorf("%w: %q has no digits", ErrInvalidTarget, target)
	}
	return id, nil
}

// ValidateChatID checks that id is a fully qualified chat identifier.
func ValidateChatID(id string) error {
	if !chatIDRe.MatchString(id) {
		return fmt.Errorf("%w: %q must end with %s or %s", ErrInvalidTarget, id, UserSuffix, GroupSuffix)
	}
	return nil
}

// IsGroupID reports whether id identifies a group chat.
func IsGroupID(id string) bool {
	return strings.HasSuffix(id, GroupSuffix)
}

// NumberFromID strips the chat suffix from an identifier.
func NumberFromID(id string) string {
	if at := strings.IndexByte(id, '@'); at >= 0 {
		return id[:at]
	}
	return id
}

// WaLink builds a click-to-chat link for an individual identifier or number.
func WaLink(to, text string) string {
	number := NumberFromID(to)
	number = nonDigitRe.ReplaceAllString(number, "")
	if strings.HasPrefix(number, "0") {
		number = DefaultCountryCode + number[1:]
	}
	link := "https://wa.me/" + number
	if text != "" {
		link += "?text=" + url.QueryEscape(text)
	}
	return link
}
