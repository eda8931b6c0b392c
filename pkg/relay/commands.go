// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/aiku/whatsapp-relay/pkg/relay/opfmt"
)

// CommandFunc runs a command. Usage problems are answered by the handler
// itself; a returned error makes the router send an apology.
type CommandFunc func(ctx context.Context, msg *InboundMessage, args []string) error

// Command is an entry of the command table.
type Command struct {
	Name        string
	Description string
	Usage       string
	Handler     CommandFunc
}

// Outcome is the result of a dispatch.
type Outcome int

const (
	Executed Outcome = iota + 1
	UnknownCommand
)

func (o Outcome) String() string {
	switch o {
	case Executed:
		return "executed"
	case UnknownCommand:
		return "unknown-command"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// CommandBuilder collects commands before the table is frozen.
type CommandBuilder struct {
	commands []Command
}

// NewCommandBuilder creates an empty builder.
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{}
}

// Register appends commands to the table.
func (b *CommandBuilder) Register(cmds ...Command) *CommandBuilder {
	b.commands = append(b.commands, cmds...)
	return b
}

// Build validates the collected commands and returns the immutable table.
// Names are case-insensitive and must be unique.
func (b *CommandBuilder) Build() (*CommandRegistry, error) {
	reg := &CommandRegistry{
		ordered: make([]Command, 0, len(b.commands)),
		byName:  make(map[string]int, len(b.commands)),
	}
	for _, cmd := range b.commands {
		name := strings.ToLower(strings.TrimSpace(cmd.Name))
		if name == "" || strings.ContainsFunc(name, unicode.IsSpace) {
			return nil, fmt.Errorf("invalid command name %q", cmd.Name)
		}
		if cmd.Handler == nil {
			return nil, fmt.Errorf("command %q has no handler", name)
		}
		if _, dup := reg.byName[name]; dup {
			return nil, fmt.Errorf("command %q registered twice", name)
		}
		cmd.Name = name
		reg.byName[name] = len(reg.ordered)
		reg.ordered = append(reg.ordered, cmd)
	}
	return reg, nil
}

// CommandRegistry is the frozen command table. It is safe for concurrent
// use because it is never modified after Build.
type CommandRegistry struct {
	ordered []Command
	byName  map[string]int
}

// Lookup finds a command by case-insensitive name.
func (r *CommandRegistry) Lookup(name string) (Command, bool) {
	idx, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return Command{}, false
	}
	return r.ordered[idx], true
}

// Dispatch runs the named command. Unknown names run nothing.
func (r *CommandRegistry) Dispatch(ctx context.Context, name string, msg *InboundMessage, args []string) (Outcome, error) {
	cmd, ok := r.Lookup(name)
	if !ok {
		return UnknownCommand, nil
	}
	return Executed, cmd.Handler(ctx, msg, args)
}

// List returns the commands in registration order.
func (r *CommandRegistry) List() []Command {
	out := make([]Command, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// ParseCommand splits a prefixed body into a lower-cased command name and
// its whitespace-separated arguments. ok is false when body is not a command.
func ParseCommand(body string) (name string, args []string, ok bool) {
	body = strings.TrimSpace(opfmt.StripInvisible(body))
	if !strings.HasPrefix(body, CommandPrefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(body, CommandPrefix))
	if len(fields) == 0 {
		return "", nil, true
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// commandRemainder returns body without its first n whitespace-separated
// fields, keeping the spacing and line breaks of the rest.
func commandRemainder(body string, n int) string {
	s := strings.TrimSpace(opfmt.StripInvisible(body))
	for range n {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		idx := strings.IndexFunc(s, unicode.IsSpace)
		if idx < 0 {
			return ""
		}
		s = s[idx:]
	}
	return strings.TrimSpace(s)
}
