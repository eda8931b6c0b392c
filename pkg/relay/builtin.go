// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/whatsapp-relay/pkg/relay/opfmt"
)

const (
	maxListedChats  = 10
	maxListedGroups = 50
	lookupWorkers   = 4
)

func (r *Relay) builtinCommands() []Command {
	return []Command{
		{Name: "ping", Description: "Check that the bot is alive", Usage: "!ping", Handler: r.cmdPing},
		{Name: "help", Description: "List available commands", Usage: "!help", Handler: r.cmdHelp},
		{Name: "send", Description: "Send a text message to a number or chat", Usage: "!send <number|chat id> <text>", Handler: r.cmdSend},
		{Name: "location", Description: "Show a location attached or quoted", Usage: "!location (attached to or replying to a location)", Handler: r.cmdLocation},
		{Name: "get-chat", Description: "List recent chats", Usage: "!get-chat", Handler: r.cmdGetChat},
		{Name: "groups", Description: "List joined groups", Usage: "!groups", Handler: r.cmdGroups},
		{Name: "id", Description: "Show the identifier of this chat", Usage: "!id", Handler: r.cmdID},
		{Name: "status", Description: "Show session and relay status", Usage: "!status", Handler: r.cmdStatus},
	}
}

func (r *Relay) usage(ctx context.Context, msg *InboundMessage, name string) error {
	cmd, _ := r.commands.Lookup(name)
	return r.reply(ctx, msg, "ℹ️ Usage: "+cmd.Usage)
}

func (r *Relay) cmdPing(ctx context.Context, msg *InboundMessage, _ []string) error {
	return r.reply(ctx, msg, "pong 🏓")
}

func (r *Relay) cmdHelp(ctx context.Context, msg *InboundMessage, _ []string) error {
	var b strings.Builder
	b.WriteString("*WhatsApp Bot Commands*")
	for _, cmd := range r.commands.List() {
		fmt.Fprintf(&b, "\n• %s%s: %s", CommandPrefix, cmd.Name, cmd.Description)
	}
	return r.reply(ctx, msg, b.String())
}

func (r *Relay) cmdSend(ctx context.Context, msg *InboundMessage, args []string) error {
	text := commandRemainder(msg.Body(), 2)
	if len(args) < 2 || text == "" {
		return r.usage(ctx, msg, "send")
	}
	to, err := ToChatID(args[0], false)
	if err != nil {
		return r.usage(ctx, msg, "send")
	}
	if _, err := r.send(ctx, to, Outgoing{Text: text}, SendOptions{}); err != nil {
		return err
	}

	mirror, err := r.toOperator(ctx, to, Outgoing{Text: opfmt.MirrorBlock(to, text)}, SendOptions{})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("target", to).Msg("Failed to mirror sent message to operator group")
	}
	zerolog.Ctx(ctx).Info().
		Str("target", to).
		Str("mirror_id", mirror.ID).
		Msg("Sent message by command")
	return r.reply(ctx, msg, "✅ Message sent to "+to)
}

func (r *Relay) cmdLocation(ctx context.Context, msg *InboundMessage, _ []string) error {
	owner := msg
	loc, ok := msg.Location()
	if !ok && msg.QuotedID != "" {
		quoted := msg.Quoted
		if _, has := quoted.Location(); !has {
			var err error
			quoted, err = r.session.GetQuotedMessage(ctx, msg)
			if errors.Is(err, ErrNoQuotedMessage) {
				return r.usage(ctx, msg, "location")
			} else if err != nil {
				return fmt.Errorf("failed to resolve quoted message: %w", err)
			}
		}
		if loc, ok = quoted.Location(); ok {
			owner = quoted
		}
	}
	if !ok {
		return r.usage(ctx, msg, "location")
	}
	return r.reply(ctx, msg, opfmt.LocationBlock(senderOf(owner), placeOf(loc)))
}

func (r *Relay) cmdGetChat(ctx context.Context, msg *InboundMessage, _ []string) error {
	chats, err := r.session.GetChats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chats: %w", err)
	}
	listed := make([]Chat, 0, maxListedChats)
	for _, chat := range chats {
		if chat.ID == "" {
			continue
		}
		listed = append(listed, chat)
		if len(listed) == maxListedChats {
			break
		}
	}

	lines := make([]string, len(listed))
	var eg errgroup.Group
	eg.SetLimit(lookupWorkers)
	for i, chat := range listed {
		eg.Go(func() error {
			lines[i] = r.describeChat(ctx, chat)
			return nil
		})
	}
	_ = eg.Wait()

	if len(lines) == 0 {
		return r.reply(ctx, msg, "*Get Chat*\nNo chats found")
	}
	return r.reply(ctx, msg, "*Get Chat*\n"+strings.Join(lines, "\n"))
}

// describeChat renders one chat line, falling back to the bare link when the
// name lookup does not finish within the lookup timeout.
func (r *Relay) describeChat(ctx context.Context, chat Chat) string {
	link := WaLink(chat.ID, "")
	if chat.IsGroup {
		link = chat.ID
	}
	name := chat.Name
	if name == "" {
		lookupCtx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
		defer cancel()
		resolved, err := r.session.GetContactName(lookupCtx, chat.ID)
		if err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Str("chat_id", chat.ID).Msg("Chat name lookup failed")
		}
		name = resolved
	}
	if name = opfmt.CleanOptional(name); name == "" {
		return link
	}
	return name + ": " + link
}

func (r *Relay) cmdGroups(ctx context.Context, msg *InboundMessage, _ []string) error {
	groups, err := r.session.GetGroups(ctx)
	if err != nil {
		return fmt.Errorf("failed to get groups: %w", err)
	}
	if len(groups) == 0 {
		return r.reply(ctx, msg, "*Groups*\nNot a member of any group")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*Groups* (%d)", len(groups))
	for i, g := range groups {
		if i == maxListedGroups {
			fmt.Fprintf(&b, "\n… and %d more", len(groups)-maxListedGroups)
			break
		}
		fmt.Fprintf(&b, "\n• %s (%d members)\n  %s", opfmt.Clean(g.Name), g.Participants, g.ID)
	}
	return r.reply(ctx, msg, b.String())
}

func (r *Relay) cmdID(ctx context.Context, msg *InboundMessage, _ []string) error {
	return r.reply(ctx, msg, "Chat ID: "+msg.Sender)
}

func (r *Relay) cmdStatus(ctx context.Context, msg *InboundMessage, _ []string) error {
	stats := r.correlations.Stats()
	ready := "no"
	if r.session.IsReady() {
		ready = "yes"
	}
	return r.reply(ctx, msg, fmt.Sprintf(
		"*Status*\nSession ready: %s\nCorrelations: %d\nLive locations: %d\nRecent messages: %d",
		ready, stats.Entries, stats.LiveSessions, r.dedup.Size(),
	))
}
