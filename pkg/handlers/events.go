package handlers

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	gatewayframe "github.com/sessamekesh/shardwire/pkg/message/gateway_frame"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Category keys the registry. Any dispatch event name is a valid category; the
// constants below are the ones with typed payloads.
type Category string

const (
	Category_Ready         Category = "READY"
	Category_Resumed       Category = "RESUMED"
	Category_MessageCreate Category = "MESSAGE_CREATE"
	Category_MessageUpdate Category = "MESSAGE_UPDATE"
	Category_MessageDelete Category = "MESSAGE_DELETE"
	Category_GuildCreate   Category = "GUILD_CREATE"

	// Handlers registered here see every event, after that event's own category.
	Category_All Category = "*"
)

type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator,omitempty"`
	GlobalName    string `json:"global_name,omitempty"`
	Bot           bool   `json:"bot,omitempty"`
}

type ChannelMessage struct {
	ID              string `json:"id"`
	ChannelID       string `json:"channel_id"`
	GuildID         string `json:"guild_id,omitempty"`
	Author          User   `json:"author"`
	Content         string `json:"content"`
	Timestamp       string `json:"timestamp,omitempty"`
	EditedTimestamp string `json:"edited_timestamp,omitempty"`
	TTS             bool   `json:"tts,omitempty"`
	MentionEveryone bool   `json:"mention_everyone,omitempty"`
	Mentions        []User `json:"mentions,omitempty"`
}

type MessageDelete struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id,omitempty"`
}

type Guild struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MemberCount int    `json:"member_count,omitempty"`
	Unavailable bool   `json:"unavailable,omitempty"`
}

// Event is one dispatch as handlers see it. Payload holds the typed value for
// categories that have one (*ChannelMessage, *MessageDelete, *gatewayframe.Ready,
// *Guild) and is nil otherwise; Raw is always set.
type Event struct {
	Name     string
	Category Category
	ShardID  int
	Seq      int64
	Raw      jsoniter.RawMessage
	Payload  any
}

func decodeEvent(shardID int, ev gatewayframe.DispatchEvent) (*Event, error) {
	event := &Event{
		Name:     ev.Name,
		Category: Category(ev.Name),
		ShardID:  shardID,
		Seq:      ev.Seq,
		Raw:      ev.Data,
	}

	var payload any
	switch event.Category {
	case Category_MessageCreate, Category_MessageUpdate:
		payload = &ChannelMessage{}
	case Category_MessageDelete:
		payload = &MessageDelete{}
	case Category_Ready:
		payload = &gatewayframe.Ready{}
	case Category_GuildCreate:
		payload = &Guild{}
	default:
		return event, nil
	}

	if err := json.Unmarshal(ev.Data, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", ev.Name, err)
	}
	event.Payload = payload
	return event, nil
}
