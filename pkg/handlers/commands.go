package handlers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sessamekesh/shardwire/pkg/errors"
	"go.uber.org/zap"
)

// Command is a prefix command. A non-empty reply is sent to the message's channel.
type Command interface {
	Execute(ctx context.Context, hctx *Context, msg *ChannelMessage, args []string) (string, error)
	Description() string
}

// AliasedCommand is implemented by commands reachable under extra names.
type AliasedCommand interface {
	Aliases() []string
}

type commandEntry struct {
	name    string
	keys    []string
	command Command
}

// CommandRouter is a MessageCreateHandler that routes "<prefix><name> args..."
// messages to registered commands.
type CommandRouter struct {
	Prefix        string
	CaseSensitive bool

	mut_commands sync.RWMutex
	byKey        map[string]*commandEntry
	entries      map[string]*commandEntry
}

func NewCommandRouter(prefix string, caseSensitive bool) *CommandRouter {
	return &CommandRouter{
		Prefix:        prefix,
		CaseSensitive: caseSensitive,
		byKey:         make(map[string]*commandEntry),
		entries:       make(map[string]*commandEntry),
	}
}

func (r *CommandRouter) key(name string) string {
	if r.CaseSensitive {
		return name
	}
	return strings.ToLower(name)
}

// RegisterCommand adds c under name and its aliases. Nothing is registered if any
// of those keys is taken.
func (r *CommandRouter) RegisterCommand(name string, c Command) error {
	keys := []string{r.key(name)}
	if aliased, ok := c.(AliasedCommand); ok {
		for _, alias := range aliased.Aliases() {
			keys = append(keys, r.key(alias))
		}
	}

	r.mut_commands.Lock()
	defer r.mut_commands.Unlock()

	seen := map[string]bool{}
	for _, k := range keys {
		if _, has := r.byKey[k]; has || seen[k] {
			return &errors.NameCollision{CollisionContext: "CommandRouter.RegisterCommand", Name: k}
		}
		seen[k] = true
	}

	entry := &commandEntry{name: keys[0], keys: keys, command: c}
	for _, k := range keys {
		r.byKey[k] = entry
	}
	r.entries[keys[0]] = entry
	return nil
}

func (r *CommandRouter) UnregisterCommand(name string) bool {
	r.mut_commands.Lock()
	defer r.mut_commands.Unlock()

	entry, has := r.entries[r.key(name)]
	if !has {
		return false
	}
	for _, k := range entry.keys {
		delete(r.byKey, k)
	}
	delete(r.entries, entry.name)
	return true
}

// Commands lists primary command names, sorted.
func (r *CommandRouter) Commands() []string {
	r.mut_commands.RLock()
	defer r.mut_commands.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *CommandRouter) lookup(name string) (*commandEntry, bool) {
	r.mut_commands.RLock()
	defer r.mut_commands.RUnlock()
	entry, has := r.byKey[r.key(name)]
	return entry, has
}

// Route parses msg and runs the matching command. handled is false when the
// message is not a command this router knows.
func (r *CommandRouter) Route(ctx context.Context, hctx *Context, msg *ChannelMessage) (reply string, handled bool, err error) {
	if r.Prefix == "" || !strings.HasPrefix(msg.Content, r.Prefix) {
		return "", false, nil
	}

	parts := strings.Fields(msg.Content[len(r.Prefix):])
	if len(parts) == 0 {
		return "", false, nil
	}

	entry, has := r.lookup(parts[0])
	if !has {
		hctx.Logger.Debug("Unknown command", zap.String("command", parts[0]))
		return "", false, nil
	}

	hctx.Logger.Info("Executing command",
		zap.String("command", entry.name),
		zap.String("author", msg.Author.ID),
		zap.Strings("args", parts[1:]))

	reply, err = entry.command.Execute(ctx, hctx, msg, parts[1:])
	if err != nil {
		return "", true, fmt.Errorf("command %s: %w", entry.name, err)
	}
	return reply, true, nil
}

func (r *CommandRouter) OnMessageCreate(ctx context.Context, hctx *Context, msg *ChannelMessage) error {
	if msg.Author.Bot {
		return nil
	}

	reply, handled, err := r.Route(ctx, hctx, msg)
	if err != nil || !handled || reply == "" || hctx.Rest == nil {
		return err
	}

	_, err = hctx.Rest.SendMessage(ctx, msg.ChannelID, reply)
	return err
}

// RegisterBuiltinCommands adds help, ping and echo.
func RegisterBuiltinCommands(r *CommandRouter) error {
	if err := r.RegisterCommand("help", &HelpCommand{Router: r}); err != nil {
		return err
	}
	if err := r.RegisterCommand("ping", PingCommand{}); err != nil {
		return err
	}
	return r.RegisterCommand("echo", EchoCommand{})
}

type HelpCommand struct {
	Router *CommandRouter
}

func (c *HelpCommand) Execute(ctx context.Context, hctx *Context, msg *ChannelMessage, args []string) (string, error) {
	prefix := c.Router.Prefix

	if len(args) > 0 {
		entry, has := c.Router.lookup(args[0])
		if !has {
			return fmt.Sprintf("Command `%s%s` not found.", prefix, args[0]), nil
		}
		return fmt.Sprintf("**%s%s**: %s", prefix, args[0], entry.command.Description()), nil
	}

	names := c.Router.Commands()
	if len(names) == 0 {
		return "No commands available.", nil
	}

	sb := strings.Builder{}
	fmt.Fprintf(&sb, "Available commands (prefix: `%s`):\n", prefix)
	for _, name := range names {
		fmt.Fprintf(&sb, "• `%s%s`\n", prefix, name)
	}
	fmt.Fprintf(&sb, "\nUse `%shelp <command>` for detailed help.", prefix)
	return sb.String(), nil
}

func (c *HelpCommand) Description() string {
	return "Show available commands or get help for a specific command"
}

func (c *HelpCommand) Aliases() []string {
	return []string{"h", "?"}
}

type PingCommand struct{}

func (PingCommand) Execute(ctx context.Context, hctx *Context, msg *ChannelMessage, args []string) (string, error) {
	return PongReply, nil
}

func (PingCommand) Description() string {
	return "Test if the bot is responding"
}

func (PingCommand) Aliases() []string {
	return []string{"pong"}
}

type EchoCommand struct{}

func (EchoCommand) Execute(ctx context.Context, hctx *Context, msg *ChannelMessage, args []string) (string, error) {
	if len(args) == 0 {
		return "Please provide text to echo!", nil
	}
	return strings.Join(args, " "), nil
}

func (EchoCommand) Description() string {
	return "Echo back the provided text"
}

func (EchoCommand) Aliases() []string {
	return []string{"repeat", "say"}
}
