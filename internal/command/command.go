// Package command is the chat command dispatcher: a plain map keyed by
// command name holding closures of one uniform signature, not a
// type-erased handler registry; scopes are the explicit enum in
// internal/scope.
package command

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"songbot/internal/events"
	"songbot/internal/eventbus"
	"songbot/internal/scope"
)

// Invocation is everything a Handler needs about one chat-triggered call.
type Invocation struct {
	Channel     string
	User        string
	DisplayName string
	Badges      []string
	Args        string // raw text after the command name
}

// Handler runs a command and returns the chat response text, or "" to
// stay silent.
type Handler func(ctx context.Context, inv Invocation) string

// Command pairs one chat command name with its required scope and
// handler.
type Command struct {
	Name     string
	Required scope.Required
	Handler  Handler
}

// Dispatcher owns the command table and the Scope Gate that guards every
// invocation.
type Dispatcher struct {
	prefix   string
	commands map[string]Command
	gate     *scope.Gate
	bus      *eventbus.Bus
	log      *logrus.Entry

	alias func(ctx context.Context, channel, name string) (string, bool)
}

// SetAliasResolver installs a per-channel alias lookup consulted when an
// incoming name matches no registered command. resolve returns the target
// command name and whether an alias exists.
func (d *Dispatcher) SetAliasResolver(resolve func(ctx context.Context, channel, name string) (string, bool)) {
	d.alias = resolve
}

// New builds a Dispatcher. prefix is the leading character chat commands
// use, e.g. "!".
func New(prefix string, gate *scope.Gate, bus *eventbus.Bus, log *logrus.Entry) *Dispatcher {
	return &Dispatcher{
		prefix:   prefix,
		commands: make(map[string]Command),
		gate:     gate,
		bus:      bus,
		log:      log.WithField("component", "command"),
	}
}

// Register installs cmd, keyed by cmd.Name (case-insensitive). A second
// Register with the same name overwrites the first.
func (d *Dispatcher) Register(cmd Command) {
	d.commands[strings.ToLower(cmd.Name)] = cmd
}

// Dispatch parses text as "<prefix><name> <args>"; if it names a
// registered command, the Scope Gate is evaluated before Handler runs.
// Non-command text (no prefix, or an unknown command name) is silently
// ignored; denied commands respond with the fixed template and never
// reach their handler.
func (d *Dispatcher) Dispatch(ctx context.Context, channel, user, displayName string, badges []string, text string) {
	if !strings.HasPrefix(text, d.prefix) {
		return
	}
	body := strings.TrimPrefix(text, d.prefix)
	name, args, _ := strings.Cut(body, " ")
	name = strings.ToLower(name)
	if name == "" {
		return
	}

	cmd, ok := d.commands[name]
	if !ok && d.alias != nil {
		if target, found := d.alias(ctx, channel, name); found {
			cmd, ok = d.commands[strings.ToLower(target)]
		}
	}
	if !ok {
		return
	}

	if !d.gate.Allow(channel, user, badges, cmd.Required) {
		d.reply(channel, scope.DeniedTemplate)
		return
	}

	resp := cmd.Handler(ctx, Invocation{
		Channel:     channel,
		User:        user,
		DisplayName: displayName,
		Badges:      badges,
		Args:        strings.TrimSpace(args),
	})
	if resp != "" {
		d.reply(channel, resp)
	}
}

func (d *Dispatcher) reply(channel, text string) {
	d.bus.Publish(eventbus.Chat, events.ChatMessage{Channel: channel, Text: text})
}
