package domain

import (
	"encoding/json"
	"strings"
)

const (
	gamePrefix = "game:"
	roomPrefix = "room:"

	// GlobalChannel is the application-wide event feed.
	GlobalChannel = "global"
)

// ChannelKind identifies which family a channel belongs to.
type ChannelKind string

const (
	KindGame   ChannelKind = "game"
	KindRoom   ChannelKind = "room"
	KindGlobal ChannelKind = "global"
	KindOther  ChannelKind = "other"
)

// Outbound message types.
const (
	TypeGameMove   = "game_move"
	TypeGameEvent  = "game_event"
	TypeNewMessage = "new_message"
	TypeEvent      = "event"
	TypeRejected   = "rejected"
	TypePong       = "pong"
)

func GameChannel(gameID string) string { return gamePrefix + strings.TrimSpace(gameID) }
func RoomChannel(roomID string) string { return roomPrefix + strings.TrimSpace(roomID) }

// KindOf classifies a channel key by its prefix.
func KindOf(channel string) ChannelKind {
	switch {
	case channel == GlobalChannel:
		return KindGlobal
	case strings.HasPrefix(channel, gamePrefix):
		return KindGame
	case strings.HasPrefix(channel, roomPrefix):
		return KindRoom
	default:
		return KindOther
	}
}

// EventType returns the tag used when a generic event is rebroadcast on channel.
func EventType(channel string) string {
	switch KindOf(channel) {
	case KindGame:
		return TypeGameEvent
	case KindRoom:
		return TypeNewMessage
	default:
		return TypeEvent
	}
}

// Envelope is the outbound broadcast frame: {type, channel, payload}.
type Envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope for channel.
func NewEnvelope(kind, channel string, payload any) (Envelope, error) {
	env := Envelope{Type: kind, Channel: channel}
	if payload == nil {
		return env, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		env.Payload = raw
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = raw
	return env, nil
}
