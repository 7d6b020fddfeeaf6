package synchub

import (
	"errors"
	"fmt"
	"strings"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error body returned by the REST API.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Message)
	}
	return e.Code + ": " + e.Message
}

var (
	// ErrNotConnected is returned when emitting on a transport without a live connection.
	ErrNotConnected = errors.New("not connected")
	// ErrAckTimeout is returned when the server never acknowledges an EmitWithAck call.
	ErrAckTimeout = errors.New("ack timeout")
	// ErrUnknownEvent is returned for event names outside the catalog.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrRegistryIncomplete is returned when a registry misses a catalog event.
	ErrRegistryIncomplete = errors.New("registry incomplete")
	// ErrFetchCancelled is returned by Fetch when CancelInFlight or a write aborted it.
	ErrFetchCancelled = errors.New("fetch cancelled")
	// ErrConnectionLost is returned when a transport stops reconnecting.
	ErrConnectionLost = errors.New("connection lost")
	// ErrNoFetcher is returned when no fetcher is registered for a key.
	ErrNoFetcher = errors.New("no fetcher for key")
)

// ============================================================================
// Buckets
// ============================================================================

// BucketKind distinguishes community channels from direct-message groups.
type BucketKind string

const (
	BucketChannel BucketKind = "channel"
	BucketGroup   BucketKind = "group"
)

// Bucket is a conversation-scoped cache partition.
type Bucket struct {
	Kind BucketKind `json:"kind"`
	ID   string     `json:"id"`
}

// String encodes the bucket as "kind:id".
func (b Bucket) String() string {
	return string(b.Kind) + ":" + b.ID
}

// ParseBucket decodes the "kind:id" form produced by Bucket.String.
func ParseBucket(s string) (Bucket, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Bucket{}, fmt.Errorf("invalid bucket %q", s)
	}
	switch BucketKind(kind) {
	case BucketChannel, BucketGroup:
		return Bucket{Kind: BucketKind(kind), ID: id}, nil
	default:
		return Bucket{}, fmt.Errorf("invalid bucket kind %q", kind)
	}
}

// bucketOf resolves a bucket from the channelId/groupId pair every
// conversation payload carries. Channel wins if both are set.
func bucketOf(channelID, groupID string) (Bucket, bool) {
	switch {
	case channelID != "":
		return Bucket{Kind: BucketChannel, ID: channelID}, true
	case groupID != "":
		return Bucket{Kind: BucketGroup, ID: groupID}, true
	default:
		return Bucket{}, false
	}
}

// ============================================================================
// Messages
// ============================================================================

// Message is a chat message as cached in a conversation list.
type Message struct {
	ID         string     `json:"id"`
	ChannelID  string     `json:"channelId,omitempty"`
	GroupID    string     `json:"groupId,omitempty"`
	AuthorID   string     `json:"authorId"`
	Content    string     `json:"content"`
	ParentID   string     `json:"parentId,omitempty"`
	Reactions  []Reaction `json:"reactions,omitempty"`
	ReplyCount int        `json:"replyCount"`
	ReadBy     []string   `json:"readBy,omitempty"`
	Pinned     bool       `json:"pinned"`
	CreatedAt  string     `json:"createdAt"`
	EditedAt   string     `json:"editedAt,omitempty"`
}

func (m Message) RecordID() string { return m.ID }

// Bucket returns the conversation that owns the message.
func (m Message) Bucket() (Bucket, bool) {
	return bucketOf(m.ChannelID, m.GroupID)
}

// IsRead reports whether anyone other than the author has read the message.
// A single reader is enough; the server never distinguishes "all recipients".
func (m Message) IsRead() bool {
	return len(m.ReadBy) > 0
}

// Reaction aggregates every user who reacted with one emoji.
type Reaction struct {
	Emoji   string   `json:"emoji"`
	UserIDs []string `json:"userIds"`
	Count   int      `json:"count"`
}

// withReaction returns a copy of m with userID added to the emoji aggregate.
// The second return is false when the user had already reacted.
func (m Message) withReaction(emoji, userID string) (Message, bool) {
	reactions := make([]Reaction, 0, len(m.Reactions)+1)
	found := false
	for _, r := range m.Reactions {
		if r.Emoji == emoji {
			found = true
			if containsString(r.UserIDs, userID) {
				return m, false
			}
			r.UserIDs = append(append([]string(nil), r.UserIDs...), userID)
			r.Count = len(r.UserIDs)
		}
		reactions = append(reactions, r)
	}
	if !found {
		reactions = append(reactions, Reaction{Emoji: emoji, UserIDs: []string{userID}, Count: 1})
	}
	m.Reactions = reactions
	return m, true
}

// withoutReaction returns a copy of m with userID removed from the emoji
// aggregate; empty aggregates are dropped.
func (m Message) withoutReaction(emoji, userID string) (Message, bool) {
	reactions := make([]Reaction, 0, len(m.Reactions))
	changed := false
	for _, r := range m.Reactions {
		if r.Emoji == emoji && containsString(r.UserIDs, userID) {
			changed = true
			r.UserIDs = removeString(r.UserIDs, userID)
			r.Count = len(r.UserIDs)
			if r.Count == 0 {
				continue
			}
		}
		reactions = append(reactions, r)
	}
	if !changed {
		return m, false
	}
	m.Reactions = reactions
	return m, true
}

// UnreadCount is the per-bucket unread counter.
type UnreadCount struct {
	Kind     BucketKind `json:"kind"`
	BucketID string     `json:"bucketId"`
	Count    int        `json:"count"`
}

func (u UnreadCount) RecordID() string {
	return Bucket{Kind: u.Kind, ID: u.BucketID}.String()
}

// ============================================================================
// Presence & Voice
// ============================================================================

// PresenceStatus is a user's online status.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// PresenceMap maps user ids to their status. Handlers replace it wholesale.
type PresenceMap map[string]PresenceStatus

// VoiceUser is one participant of a voice roster.
type VoiceUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Muted    bool   `json:"muted"`
	Deafened bool   `json:"deafened"`
	Video    bool   `json:"video"`
}

func (u VoiceUser) RecordID() string { return u.UserID }

// VoiceRoster lists who is connected to a voice channel or DM call.
type VoiceRoster struct {
	Users []VoiceUser `json:"users"`
	Count int         `json:"count"`
}

// join appends u when absent and recounts.
func (r VoiceRoster) join(u VoiceUser) (VoiceRoster, bool) {
	for _, existing := range r.Users {
		if existing.UserID == u.UserID {
			return r, false
		}
	}
	users := make([]VoiceUser, 0, len(r.Users)+1)
	users = append(append(users, r.Users...), u)
	return VoiceRoster{Users: users, Count: len(users)}, true
}

// leave removes userID and recounts.
func (r VoiceRoster) leave(userID string) (VoiceRoster, bool) {
	users := FlatList[VoiceUser](r.Users).DeleteByID(userID)
	if len(users) == len(r.Users) {
		return r, false
	}
	return VoiceRoster{Users: users, Count: len(users)}, true
}

// ============================================================================
// Communities, channels, members, roles
// ============================================================================

// Community is a server/guild the user belongs to.
type Community struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IconURL string `json:"iconUrl,omitempty"`
	OwnerID string `json:"ownerId"`
}

func (c Community) RecordID() string { return c.ID }

// Channel is a text or voice channel inside a community.
type Channel struct {
	ID          string `json:"id"`
	CommunityID string `json:"communityId"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Position    int    `json:"position"`
}

func (c Channel) RecordID() string { return c.ID }

// Member is a community membership with its moderation state.
type Member struct {
	UserID       string   `json:"userId"`
	Username     string   `json:"username"`
	RoleIDs      []string `json:"roleIds,omitempty"`
	TimeoutUntil string   `json:"timeoutUntil,omitempty"`
}

func (m Member) RecordID() string { return m.UserID }

// Role is a community role.
type Role struct {
	ID          string `json:"id"`
	CommunityID string `json:"communityId"`
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Position    int    `json:"position"`
	Permissions int64  `json:"permissions"`
}

func (r Role) RecordID() string { return r.ID }

// ============================================================================
// Notifications
// ============================================================================

// Notification is an inbox entry (mention, reply, invite, ...).
type Notification struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Body      string `json:"body,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"createdAt"`
}

func (n Notification) RecordID() string { return n.ID }

// ============================================================================
// Helpers
// ============================================================================

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
