package synchub

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Event Catalog
// ============================================================================

// EventType names one server-pushed event. The set is closed: every value
// the hub reacts to is listed in Catalog.
type EventType string

const (
	EventMessageNew         EventType = "message:new"
	EventMessageUpdated     EventType = "message:updated"
	EventMessageDeleted     EventType = "message:deleted"
	EventReactionAdded      EventType = "reaction:added"
	EventReactionRemoved    EventType = "reaction:removed"
	EventMessagePinned      EventType = "message:pinned"
	EventMessageUnpinned    EventType = "message:unpinned"
	EventThreadReplyCount   EventType = "thread:reply-count"
	EventMessageRead        EventType = "message:read"
	EventPresenceOnline     EventType = "presence:online"
	EventPresenceOffline    EventType = "presence:offline"
	EventVoiceUserJoined    EventType = "voice:user-joined"
	EventVoiceUserLeft      EventType = "voice:user-left"
	EventVoiceUserUpdated   EventType = "voice:user-updated"
	EventDMVoiceUserJoined  EventType = "dm-voice:user-joined"
	EventDMVoiceUserLeft    EventType = "dm-voice:user-left"
	EventMemberBanned       EventType = "member:banned"
	EventMemberKicked       EventType = "member:kicked"
	EventMemberTimeout      EventType = "member:timeout"
	EventMemberTimeoutEnded EventType = "member:timeout-removed"
	EventRoleCreated        EventType = "role:created"
	EventRoleUpdated        EventType = "role:updated"
	EventRoleDeleted        EventType = "role:deleted"
	EventRoleAssigned       EventType = "role:assigned"
	EventRoleUnassigned     EventType = "role:unassigned"
	EventCommunityUpdated   EventType = "community:updated"
	EventCommunityDeleted   EventType = "community:deleted"
	EventChannelCreated     EventType = "channel:created"
	EventChannelUpdated     EventType = "channel:updated"
	EventChannelDeleted     EventType = "channel:deleted"
	EventNotificationNew    EventType = "notification:new"
	EventNotificationRead   EventType = "notification:read"
)

// Outbound control messages. Both are fire-and-forget.
const (
	ControlSubscribeAll = "rooms:subscribe-all"
	ControlHeartbeat    = "presence:heartbeat"
)

var catalog = []EventType{
	EventMessageNew,
	EventMessageUpdated,
	EventMessageDeleted,
	EventReactionAdded,
	EventReactionRemoved,
	EventMessagePinned,
	EventMessageUnpinned,
	EventThreadReplyCount,
	EventMessageRead,
	EventPresenceOnline,
	EventPresenceOffline,
	EventVoiceUserJoined,
	EventVoiceUserLeft,
	EventVoiceUserUpdated,
	EventDMVoiceUserJoined,
	EventDMVoiceUserLeft,
	EventMemberBanned,
	EventMemberKicked,
	EventMemberTimeout,
	EventMemberTimeoutEnded,
	EventRoleCreated,
	EventRoleUpdated,
	EventRoleDeleted,
	EventRoleAssigned,
	EventRoleUnassigned,
	EventCommunityUpdated,
	EventCommunityDeleted,
	EventChannelCreated,
	EventChannelUpdated,
	EventChannelDeleted,
	EventNotificationNew,
	EventNotificationRead,
}

// Catalog returns every known event type in a stable order.
func Catalog() []EventType {
	return append([]EventType(nil), catalog...)
}

// ParseEventType validates a wire event name against the catalog.
func ParseEventType(name string) (EventType, error) {
	for _, t := range catalog {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEvent, name)
}

// Envelope is one event as received from the server and re-published on the bus.
type Envelope struct {
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"requestId,omitempty"`
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// DecodePayload unmarshals an envelope payload into a new T.
func DecodePayload[T any](env Envelope) (T, error) {
	var v T
	err := env.Decode(&v)
	return v, err
}

// ============================================================================
// Event Payload Types
// ============================================================================

// MessagePayload carries a full message (new, updated, pinned).
type MessagePayload struct {
	Message Message `json:"message"`
}

// MessageRefPayload identifies a message and, when the server knows it, its bucket.
type MessageRefPayload struct {
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId,omitempty"`
	GroupID   string `json:"groupId,omitempty"`
}

// ReactionPayload carries only the message id; the bucket comes from the
// context index.
type ReactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
}

// ThreadReplyCountPayload reports a new reply count for a thread parent.
type ThreadReplyCountPayload struct {
	MessageRefPayload
	ReplyCount int `json:"replyCount"`
}

// ReadReceiptPayload reports who has read a message.
type ReadReceiptPayload struct {
	MessageRefPayload
	ReadBy []string `json:"readBy"`
}

// PresencePayload reports one user's status change.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// VoiceJoinPayload adds a user to a voice roster. ChannelID is set for
// channel voice, GroupID for DM calls.
type VoiceJoinPayload struct {
	ChannelID string    `json:"channelId,omitempty"`
	GroupID   string    `json:"groupId,omitempty"`
	User      VoiceUser `json:"user"`
}

// VoiceLeavePayload removes a user from a voice roster.
type VoiceLeavePayload struct {
	ChannelID string `json:"channelId,omitempty"`
	GroupID   string `json:"groupId,omitempty"`
	UserID    string `json:"userId"`
}

// VoiceUpdatePayload replaces a participant's media state.
type VoiceUpdatePayload struct {
	ChannelID string    `json:"channelId"`
	User      VoiceUser `json:"user"`
}

// ModerationPayload covers ban, kick, timeout and timeout removal.
type ModerationPayload struct {
	CommunityID  string `json:"communityId"`
	UserID       string `json:"userId"`
	TimeoutUntil string `json:"timeoutUntil,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// RolePayload carries a full role.
type RolePayload struct {
	CommunityID string `json:"communityId"`
	Role        Role   `json:"role"`
}

// RoleRefPayload identifies a role, and for assignments the member.
type RoleRefPayload struct {
	CommunityID string `json:"communityId"`
	RoleID      string `json:"roleId"`
	UserID      string `json:"userId,omitempty"`
}

// CommunityPayload carries a full community.
type CommunityPayload struct {
	Community Community `json:"community"`
}

// CommunityRefPayload identifies a community.
type CommunityRefPayload struct {
	CommunityID string `json:"communityId"`
}

// ChannelPayload carries a full channel.
type ChannelPayload struct {
	Channel Channel `json:"channel"`
}

// ChannelRefPayload identifies a channel in a community.
type ChannelRefPayload struct {
	CommunityID string `json:"communityId"`
	ChannelID   string `json:"channelId"`
}

// NotificationPayload carries a full notification.
type NotificationPayload struct {
	Notification Notification `json:"notification"`
}

// NotificationReadPayload marks one notification read.
type NotificationReadPayload struct {
	NotificationID string `json:"notificationId"`
}
