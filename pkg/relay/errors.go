// Copyright 2024-2026 Aiku AI

package relay

import "errors"

var (
	// ErrNotReady is returned when the session cannot send yet.
	ErrNotReady = errors.New("session not ready")
	// ErrInvalidTarget is returned for targets that cannot be turned into a
	// chat identifier.
	ErrInvalidTarget = errors.New("invalid target")
	// ErrNoQuotedMessage is returned when a message does not quote anything
	// the session can resolve.
	ErrNoQuotedMessage = errors.New("no quoted message")
	// ErrMediaUnavailable is returned when a media payload cannot be
	// downloaded or is empty.
	ErrMediaUnavailable = errors.New("media unavailable")
	// ErrUnknownCorrelation is returned when an operator message has no
	// recorded origin.
	ErrUnknownCorrelation = errors.New("no correlation for operator message")
)
