// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// MediaTransformer shrinks media before it is forwarded to the operator group.
type MediaTransformer interface {
	Image(ctx context.Context, in *MediaPayload) (*MediaPayload, error)
	Video(ctx context.Context, in *MediaPayload) (*MediaPayload, error)
}

// passthrough is used when no transformer is configured.
type passthrough struct{}

func (passthrough) Image(_ context.Context, in *MediaPayload) (*MediaPayload, error) { return in, nil }
func (passthrough) Video(_ context.Context, in *MediaPayload) (*MediaPayload, error) { return in, nil }

// Relay is the message routing engine. It owns the dedup gate, the
// correlation map and the command table; everything else goes through the
// Session.
type Relay struct {
	cfg          Config
	session      Session
	media        MediaTransformer
	dedup        *DedupGate
	correlations *CorrelationMap
	commands     *CommandRegistry

	log zerolog.Logger
}

// New creates a relay. extra commands are registered after the built-in ones.
func New(cfg Config, session Session, media MediaTransformer, log zerolog.Logger, extra ...Command) (*Relay, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("relay: session is required")
	}
	if media == nil {
		media = passthrough{}
	}
	r := &Relay{
		cfg:          cfg,
		session:      session,
		media:        media,
		dedup:        NewDedupGate(cfg.DedupWindow),
		correlations: NewCorrelationMap(cfg.CorrelationTTL, cfg.LiveLocationTimeout),
		log:          log.With().Str("component", "relay").Logger(),
	}
	commands, err := NewCommandBuilder().
		Register(r.builtinCommands()...).
		Register(extra...).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build command table: %w", err)
	}
	r.commands = commands
	return r, nil
}

// Subscribe registers the relay as the single message consumer of src.
func (r *Relay) Subscribe(src MessageSource) {
	src.OnMessage(r.HandleMessage)
}

// Run sweeps expired correlations until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	r.correlations.Watch(r.log.WithContext(ctx), r.cfg.SweepInterval)
	return nil
}

// Config returns the effective configuration.
func (r *Relay) Config() Config {
	return r.cfg
}

// Correlations exposes the correlation map.
func (r *Relay) Correlations() *CorrelationMap {
	return r.correlations
}

// Commands exposes the command table.
func (r *Relay) Commands() *CommandRegistry {
	return r.commands
}

// send refuses to hand anything to a session that is not ready.
func (r *Relay) send(ctx context.Context, to string, out Outgoing, opts SendOptions) (SentMessage, error) {
	if !r.session.IsReady() {
		return SentMessage{}, ErrNotReady
	}
	sent, err := r.session.Send(ctx, to, out, opts)
	if err != nil {
		return SentMessage{}, fmt.Errorf("failed to send to %s: %w", to, err)
	}
	return sent, nil
}

// reply answers msg in its own chat, quoting it.
func (r *Relay) reply(ctx context.Context, msg *InboundMessage, text string) error {
	_, err := r.send(ctx, msg.Sender, Outgoing{Text: text}, SendOptions{
		QuotedID:     msg.ID,
		QuotedSender: quotedSender(msg),
	})
	return err
}

// toOperator posts to the operator group and correlates the posted message
// with target.
func (r *Relay) toOperator(ctx context.Context, target string, out Outgoing, opts SendOptions) (SentMessage, error) {
	sent, err := r.send(ctx, r.cfg.OperatorGroup, out, opts)
	if err != nil {
		return SentMessage{}, err
	}
	r.correlations.Record(sent.ID, target)
	return sent, nil
}

func quotedSender(msg *InboundMessage) string {
	if msg.Author != "" {
		return msg.Author
	}
	return msg.Sender
}
