package handlers

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/sessamekesh/shardwire/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuiltinRouter(t *testing.T) *CommandRouter {
	t.Helper()
	r := NewCommandRouter("!", false)
	require.NoError(t, RegisterBuiltinCommands(r))
	return r
}

func route(t *testing.T, r *CommandRouter, content string) (string, bool) {
	t.Helper()
	reply, handled, err := r.Route(context.Background(), testContext(nil), &ChannelMessage{Content: content})
	require.NoError(t, err)
	return reply, handled
}

func TestBuiltinCommands(t *testing.T) {
	r := newBuiltinRouter(t)

	cases := []struct {
		content string
		reply   string
	}{
		{"!ping", PongReply},
		{"!PONG", PongReply},
		{"!echo hello   there", "hello there"},
		{"!say hi", "hi"},
		{"!Repeat x y", "x y"},
		{"!echo", "Please provide text to echo!"},
		{"!help ping", "**!ping**: Test if the bot is responding"},
		{"!h nope", "Command `!nope` not found."},
	}
	for _, tc := range cases {
		reply, handled := route(t, r, tc.content)
		assert.True(t, handled, tc.content)
		assert.Equal(t, tc.reply, reply, tc.content)
	}
}

func TestHelpListsCommands(t *testing.T) {
	r := newBuiltinRouter(t)

	reply, handled := route(t, r, "!?")
	require.True(t, handled)
	assert.Equal(t, "Available commands (prefix: `!`):\n• `!echo`\n• `!help`\n• `!ping`\n\nUse `!help <command>` for detailed help.", reply)

	empty := NewCommandRouter("!", false)
	require.NoError(t, empty.RegisterCommand("help", &HelpCommand{Router: empty}))
	require.True(t, empty.UnregisterCommand("help"))
	assert.Empty(t, empty.Commands())
}

func TestNonCommandsIgnored(t *testing.T) {
	r := newBuiltinRouter(t)

	for _, content := range []string{"ping", "!", "!   ", "!unknown arg", "?ping"} {
		_, handled := route(t, r, content)
		assert.False(t, handled, content)
	}
}

func TestCaseSensitiveRouter(t *testing.T) {
	r := NewCommandRouter(">>", true)
	require.NoError(t, r.RegisterCommand("Ping", PingCommand{}))

	_, handled := route(t, r, ">>ping")
	assert.False(t, handled)
	reply, handled := route(t, r, ">>Ping")
	assert.True(t, handled)
	assert.Equal(t, PongReply, reply)
}

func TestRegisterCommandCollision(t *testing.T) {
	r := newBuiltinRouter(t)

	err := r.RegisterCommand("say", EchoCommand{})
	var collision *errors.NameCollision
	require.True(t, stderrors.As(err, &collision))
	assert.Equal(t, "say", collision.Name)

	// A collision on an alias registers nothing.
	err = r.RegisterCommand("fresh", PingCommand{})
	require.True(t, stderrors.As(err, &collision))
	_, handled := route(t, r, "!fresh")
	assert.False(t, handled)

	assert.True(t, r.UnregisterCommand("PING"))
	_, handled = route(t, r, "!pong")
	assert.False(t, handled, "aliases go with the command")
	assert.False(t, r.UnregisterCommand("ping"))
}

type failingCommand struct{}

func (failingCommand) Execute(ctx context.Context, hctx *Context, msg *ChannelMessage, args []string) (string, error) {
	return "", stderrors.New("nope")
}

func (failingCommand) Description() string { return "fails" }

func TestRouterSendsReplies(t *testing.T) {
	r := newBuiltinRouter(t)
	require.NoError(t, r.RegisterCommand("fail", failingCommand{}))
	rest := &recordingRest{}
	hctx := testContext(rest)

	require.NoError(t, r.OnMessageCreate(context.Background(), hctx, &ChannelMessage{ChannelID: "c9", Content: "!echo hi"}))
	require.NoError(t, r.OnMessageCreate(context.Background(), hctx, &ChannelMessage{ChannelID: "c9", Content: "!ping", Author: User{Bot: true}}))
	require.NoError(t, r.OnMessageCreate(context.Background(), hctx, &ChannelMessage{ChannelID: "c9", Content: "plain text"}))
	assert.Error(t, r.OnMessageCreate(context.Background(), hctx, &ChannelMessage{ChannelID: "c9", Content: "!fail"}))

	assert.Equal(t, []sentMessage{{channelID: "c9", content: "hi"}}, rest.messages())
}
