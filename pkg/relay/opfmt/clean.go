// Copyright 2024-2026 Aiku AI

// Package opfmt renders relayed WhatsApp traffic into the labeled text blocks
// posted to the operator group, and sanitizes every piece of user text that
// ends up in them.
package opfmt

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Placeholder replaces missing or blank content.
const Placeholder = "-"

// isZeroWidth reports whether r renders as nothing.
func isZeroWidth(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u200e', '\u200f',
		'\u2060', '\u2061', '\u2062', '\u2063', '\u2064',
		'\ufeff', '\u180e', '\u00ad':
		return true
	}
	return false
}

// StripInvisible removes control characters (except newline and tab) and
// zero-width characters from s.
func StripInvisible(s string) string {
	if s == "" {
		return s
	}
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || isZeroWidth(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, s)
}

// Clean NFC-normalizes s, strips invisible characters and surrounding
// whitespace, and returns Placeholder when nothing visible is left.
func Clean(s string) string {
	s = strings.TrimSpace(StripInvisible(norm.NFC.String(s)))
	if s == "" {
		return Placeholder
	}
	return s
}

// CleanOptional is Clean but returns "" instead of Placeholder, for optional
// fields that are omitted when blank.
func CleanOptional(s string) string {
	s = Clean(s)
	if s == Placeholder {
		return ""
	}
	return s
}

// Truncate shortens s to at most max runes, marking the cut with an ellipsis.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}
