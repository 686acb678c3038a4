package wire

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Topic prefixes. Topic strings are part of the server contract and
// must be reproduced exactly.
const (
	TopicUserPrefix   = "user:"
	TopicTextPrefix   = "text-channel:"
	TopicVoicePrefix  = "voice-channel:"
	TopicServerPrefix = "server:"
)

func UserTopic(userID string) string { return TopicUserPrefix + userID }
func TextTopic(channelID string) string { return TopicTextPrefix + channelID }
func VoiceTopic(sessionID string) string { return TopicVoicePrefix + sessionID }
func ServerTopic(serverID string) string { return TopicServerPrefix + serverID }

// Events delivered on text channels.
const (
	EventMessageCreated = "message.created"
	EventMessageUpdated = "message.updated"
	EventMessageDeleted = "message.deleted"
)

// Events on the personal user channel.
const (
	EventTokenExpired = "token_expired"
	PushRefreshToken  = "refresh_token"
)

// Voice channel pushes.
const (
	PushOffer       = "offer"
	PushLeave       = "leave"
	PushStateChange = "state_change"
)

// Presence sync events.
const (
	EventPresenceState = "presence_state"
	EventPresenceDiff  = "presence_diff"
)

type MessageCreated struct {
	MessageID        string `json:"message_id" validate:"required"`
	ChannelID        string `json:"channel_id" validate:"required"`
	AuthorID         string `json:"author_id" validate:"required"`
	Content          string `json:"content"`
	CreatedAt        string `json:"created_at" validate:"required"`
	UpdatedAt        string `json:"updated_at,omitempty"`
	ReplyToMessageID string `json:"reply_to_message_id,omitempty"`
}

type MessageUpdated struct {
	MessageID string `json:"message_id" validate:"required"`
	Content   string `json:"content"`
	IsPinned  bool   `json:"is_pinned"`
}

type MessageDeleted struct {
	MessageID string `json:"message_id" validate:"required"`
	ChannelID string `json:"channel_id" validate:"required"`
}

// Offer is pushed on join; the synchronous reply carries OfferAnswer.
type Offer struct {
	SessionID string `json:"session_id" validate:"required"`
	OfferSDP  string `json:"offer_sdp" validate:"required"`
}

type OfferAnswer struct {
	AnswerSDP string `json:"answer_sdp" validate:"required"`
}

type VoiceLeave struct {
	SessionID string `json:"session_id" validate:"required"`
}

// StateChange announces the local enabled flags after a toggle.
type StateChange struct {
	Video bool `json:"video"`
	Audio bool `json:"audio"`
}

type RefreshToken struct {
	Token string `json:"token" validate:"required"`
}

// SignalDescription is the JSON shape exchanged over the in-call data
// channel for renegotiation. The initial offer/answer never travels
// this way.
type SignalDescription struct {
	Type string `json:"type" validate:"required,oneof=offer answer"`
	SDP  string `json:"sdp" validate:"required"`
	Ref  string `json:"ref,omitempty"`
}

var validate = validator.New()

// Decode unmarshals and validates an event payload at the channel
// boundary. Malformed payloads are rejected here instead of being
// processed as zero values downstream.
func Decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("decode payload: %w", err)
	}
	if err := validate.Struct(&v); err != nil {
		return v, fmt.Errorf("invalid payload: %w", err)
	}
	return v, nil
}
