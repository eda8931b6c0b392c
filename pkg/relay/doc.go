// Copyright 2024-2026 Aiku AI

// Package relay routes WhatsApp traffic between external chats and an
// operator group.
//
// Every inbound message passes through a dedup gate and is then classified:
//
//   - messages in the operator group that quote an earlier message are
//     operator replies, and are sent back to the chat the quoted message was
//     correlated with (optionally overridden with "-> <number>")
//   - messages whose body starts with "!" are commands
//   - direct messages from individuals are forwarded to the operator group
//   - everything else is ignored
//
// The relay never talks to the network directly; it sends through a
// Session, which keeps working across reconnects.
package relay
