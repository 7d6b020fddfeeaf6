package synchub

import "strings"

// Key is a structured cache key: the resource name followed by its
// parameters, e.g. {"messages", "channel", "ch-1"}.
type Key []string

func (k Key) String() string {
	return strings.Join(k, "/")
}

// HasPrefix reports whether k starts with every segment of prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i, seg := range prefix {
		if k[i] != seg {
			return false
		}
	}
	return true
}

// KeyFilter selects cache keys for invalidation.
type KeyFilter struct {
	Prefix Key
	Exact  bool
}

// PrefixFilter matches every key starting with prefix.
func PrefixFilter(prefix ...string) KeyFilter {
	return KeyFilter{Prefix: Key(prefix)}
}

// ExactFilter matches key only.
func ExactFilter(key Key) KeyFilter {
	return KeyFilter{Prefix: key, Exact: true}
}

// Matches reports whether k is selected by the filter.
func (f KeyFilter) Matches(k Key) bool {
	if f.Exact {
		return len(k) == len(f.Prefix) && k.HasPrefix(f.Prefix)
	}
	return k.HasPrefix(f.Prefix)
}

func (f KeyFilter) String() string {
	if f.Exact {
		return f.Prefix.String()
	}
	return f.Prefix.String() + "/*"
}

// ============================================================================
// Key builders
// ============================================================================

const (
	resMessages      = "messages"
	resPins          = "pins"
	resUnreadCounts  = "unread-counts"
	resNotifications = "notifications"
	resVoicePresence = "voice-presence"
	resPresence      = "presence"
	resMembers       = "members"
	resBans          = "bans"
	resRoles         = "roles"
	resChannels      = "channels"
	resCommunities   = "communities"
	resCommunity     = "community"

	notificationsList  = "list"
	notificationsCount = "unread-count"
	voiceChannel       = "channel"
	voiceDM            = "dm"
)

// MessagesKey holds the *InfiniteList[Message] of a conversation.
func MessagesKey(b Bucket) Key { return Key{resMessages, string(b.Kind), b.ID} }

// PinsKey holds the FlatList[Message] of pinned messages of a conversation.
func PinsKey(b Bucket) Key { return Key{resPins, string(b.Kind), b.ID} }

// UnreadCountsKey holds the FlatList[UnreadCount] across all conversations.
func UnreadCountsKey() Key { return Key{resUnreadCounts} }

// NotificationsKey holds the FlatList[Notification] inbox.
func NotificationsKey() Key { return Key{resNotifications, notificationsList} }

// NotificationCountKey holds the int number of unread notifications.
func NotificationCountKey() Key { return Key{resNotifications, notificationsCount} }

// VoiceRosterKey holds the VoiceRoster of a voice channel.
func VoiceRosterKey(channelID string) Key { return Key{resVoicePresence, voiceChannel, channelID} }

// DMVoiceRosterKey holds the VoiceRoster of a DM group call.
func DMVoiceRosterKey(groupID string) Key { return Key{resVoicePresence, voiceDM, groupID} }

// PresenceKey holds the PresenceMap of every known user.
func PresenceKey() Key { return Key{resPresence} }

// MembersKey holds the FlatList[Member] of a community.
func MembersKey(communityID string) Key { return Key{resMembers, communityID} }

// BansKey holds the FlatList[Member] of banned users of a community.
func BansKey(communityID string) Key { return Key{resBans, communityID} }

// RolesKey holds the FlatList[Role] of a community.
func RolesKey(communityID string) Key { return Key{resRoles, communityID} }

// ChannelsKey holds the FlatList[Channel] of a community.
func ChannelsKey(communityID string) Key { return Key{resChannels, communityID} }

// CommunitiesKey holds the FlatList[Community] the user belongs to.
func CommunitiesKey() Key { return Key{resCommunities} }

// CommunityKey holds a single Community record.
func CommunityKey(id string) Key { return Key{resCommunity, id} }

// SessionKeys are the user-wide keys a client loads on start.
func SessionKeys() []Key {
	return []Key{CommunitiesKey(), UnreadCountsKey(), NotificationsKey(), NotificationCountKey(), PresenceKey()}
}

// CommunityKeys are the keys a community view needs.
func CommunityKeys(id string) []Key {
	return []Key{CommunityKey(id), ChannelsKey(id), MembersKey(id), RolesKey(id)}
}
