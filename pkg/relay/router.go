// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aiku/whatsapp-relay/pkg/relay/opfmt"
)

// Route is the path an admitted message takes.
type Route int

const (
	RouteIgnore Route = iota
	RouteOperatorReply
	RouteCommand
	RouteForward
)

func (r Route) String() string {
	switch r {
	case RouteOperatorReply:
		return "operator-reply"
	case RouteCommand:
		return "command"
	case RouteForward:
		return "forward"
	default:
		return "ignore"
	}
}

// Classify picks the route of msg. The first matching rule wins:
// operator-group messages are replies when they quote something and are
// ignored otherwise, prefixed bodies are commands, direct non-system
// messages are forwarded, and everything else is ignored.
func Classify(msg *InboundMessage, operatorGroup string) Route {
	if msg == nil {
		return RouteIgnore
	}
	if operatorGroup != "" && msg.Sender == operatorGroup {
		if msg.QuotedID != "" {
			return RouteOperatorReply
		}
		return RouteIgnore
	}
	if isCommand(msg.Body()) {
		return RouteCommand
	}
	if msg.FromGroup || IsGroupID(msg.Sender) {
		return RouteIgnore
	}
	if msg.Sender == StatusBroadcastID || msg.Kind() == KindSystem {
		return RouteIgnore
	}
	return RouteForward
}

func isCommand(body string) bool {
	return strings.HasPrefix(strings.TrimSpace(opfmt.StripInvisible(body)), CommandPrefix)
}

// HandleMessage is the MessageHandler registered with the session adapter.
// It admits msg through the dedup gate and routes it. It never panics and
// never returns an error; failures are logged.
func (r *Relay) HandleMessage(ctx context.Context, msg *InboundMessage) {
	if msg == nil {
		return
	}
	log := r.log.With().
		Str("message_id", msg.ID).
		Str("sender", msg.Sender).
		Str("kind", string(msg.Kind())).
		Logger()
	if !r.dedup.Admit(msg.ID) {
		log.Debug().Msg("Skipping duplicate or unidentified message")
		return
	}
	r.Route(log.WithContext(ctx), msg)
}

// Route dispatches an admitted message. Panics and errors raised by the
// handlers stop here.
func (r *Relay) Route(ctx context.Context, msg *InboundMessage) {
	log := zerolog.Ctx(ctx)
	route := RouteIgnore
	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Str("route", route.String()).
				Interface("panic", p).
				Str("stack", string(debug.Stack())).
				Msg("Recovered panic while routing message")
		}
	}()

	route = Classify(msg, r.cfg.OperatorGroup)
	var err error
	switch route {
	case RouteOperatorReply:
		err = r.DispatchReply(ctx, msg)
	case RouteCommand:
		r.runCommand(ctx, msg)
	case RouteForward:
		err = r.Forward(ctx, msg)
	default:
		log.Trace().Msg("Ignoring message")
		return
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownCorrelation):
		log.Info().Err(err).Str("quoted_id", msg.QuotedID).Msg("Dropping operator reply")
	default:
		log.Error().Err(err).Str("route", route.String()).Msg("Failed to handle message")
	}
}

const (
	unknownCommandReply = "❓ Command not recognized. Type *!help* for the list of commands."
	commandFailedReply  = "⚠️ Something went wrong while running the command."
)

func (r *Relay) runCommand(ctx context.Context, msg *InboundMessage) {
	log := zerolog.Ctx(ctx)
	name, args, _ := ParseCommand(msg.Body())

	outcome, err := r.dispatchRecovered(ctx, name, msg, args)
	if outcome == UnknownCommand {
		log.Debug().Str("command", name).Msg("Unknown command")
		if err := r.reply(ctx, msg, unknownCommandReply); err != nil {
			log.Warn().Err(err).Msg("Failed to send unknown command reply")
		}
		return
	}
	if err != nil {
		log.Error().Err(err).Str("command", name).Msg("Command failed")
		if err := r.reply(ctx, msg, commandFailedReply); err != nil {
			log.Warn().Err(err).Msg("Failed to send command failure reply")
		}
		return
	}
	log.Debug().Str("command", name).Int("args", len(args)).Msg("Command executed")
}

func (r *Relay) dispatchRecovered(ctx context.Context, name string, msg *InboundMessage, args []string) (outcome Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			zerolog.Ctx(ctx).Error().
				Interface("panic", p).
				Str("stack", string(debug.Stack())).
				Msg("Recovered panic in command handler")
			outcome, err = Executed, fmt.Errorf("command %q panicked: %v", name, p)
		}
	}()
	return r.commands.Dispatch(ctx, name, msg, args)
}
