package gatewayframe

import (
	"fmt"
	"strings"
)

// Intents is the bitmask declared at identify time.
type Intents uint64

const (
	Intent_Guilds Intents = 1 << iota
	Intent_GuildMembers
	Intent_GuildModeration
	Intent_GuildExpressions
	Intent_GuildIntegrations
	Intent_GuildWebhooks
	Intent_GuildInvites
	Intent_GuildVoiceStates
	Intent_GuildPresences
	Intent_GuildMessages
	Intent_GuildMessageReactions
	Intent_GuildMessageTyping
	Intent_DirectMessages
	Intent_DirectMessageReactions
	Intent_DirectMessageTyping
	Intent_MessageContent
	Intent_GuildScheduledEvents
)

const (
	Intents_Default Intents = Intent_Guilds

	Intents_Messages Intents = Intent_Guilds | Intent_GuildMessages | Intent_DirectMessages | Intent_MessageContent

	Intents_Privileged Intents = Intent_GuildMembers | Intent_GuildPresences | Intent_MessageContent
)

func (i Intents) Has(flag Intents) bool {
	return i&flag == flag
}

var intentNames = map[string]Intents{
	"guilds":                   Intent_Guilds,
	"guild_members":            Intent_GuildMembers,
	"guild_moderation":         Intent_GuildModeration,
	"guild_expressions":        Intent_GuildExpressions,
	"guild_integrations":       Intent_GuildIntegrations,
	"guild_webhooks":           Intent_GuildWebhooks,
	"guild_invites":            Intent_GuildInvites,
	"guild_voice_states":       Intent_GuildVoiceStates,
	"guild_presences":          Intent_GuildPresences,
	"guild_messages":           Intent_GuildMessages,
	"guild_message_reactions":  Intent_GuildMessageReactions,
	"guild_message_typing":     Intent_GuildMessageTyping,
	"direct_messages":          Intent_DirectMessages,
	"direct_message_reactions": Intent_DirectMessageReactions,
	"direct_message_typing":    Intent_DirectMessageTyping,
	"message_content":          Intent_MessageContent,
	"guild_scheduled_events":   Intent_GuildScheduledEvents,
}

// ParseIntents ORs together intents given by snake_case name.
func ParseIntents(names []string) (Intents, error) {
	var out Intents
	for _, name := range names {
		flag, has := intentNames[strings.ToLower(strings.TrimSpace(name))]
		if !has {
			return 0, fmt.Errorf("unknown intent %q", name)
		}
		out |= flag
	}
	return out, nil
}
