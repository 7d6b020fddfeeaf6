package synchub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Env is everything a handler may touch: the shared cache, the context
// index, and the local user's id (so own messages do not count as unread).
type Env struct {
	Store  Store
	Index  ContextIndex
	SelfID string
	Log    *logrus.Entry
}

func (e *Env) logger() *logrus.Entry {
	if e.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return e.Log
}

// Handler applies one event payload to the cache.
type Handler func(ctx context.Context, env *Env, payload json.RawMessage) error

// Registry maps every catalog event to its ordered handlers. Built once,
// never mutated.
type Registry map[EventType][]Handler

// DefaultRegistry returns the handler table for the whole catalog. Events
// with an empty slice are forwarded to the bus without touching the cache.
func DefaultRegistry() Registry {
	return Registry{
		EventMessageNew:       {handle(prependMessage), handle(bumpUnread)},
		EventMessageUpdated:   {handle(updateMessage)},
		EventMessageDeleted:   {handle(deleteMessage)},
		EventReactionAdded:    {handle(addReaction)},
		EventReactionRemoved:  {handle(removeReaction)},
		EventMessagePinned:    {handle(pinMessage)},
		EventMessageUnpinned:  {handle(unpinMessage)},
		EventThreadReplyCount: {handle(setReplyCount)},
		EventMessageRead:      {handle(setReadBy)},

		EventPresenceOnline:  {handle(presenceSetter(PresenceOnline))},
		EventPresenceOffline: {handle(presenceSetter(PresenceOffline))},

		EventVoiceUserJoined:   {handle(voiceJoin(VoiceRosterKey, voiceChannelID))},
		EventVoiceUserLeft:     {handle(voiceLeave(VoiceRosterKey, voiceLeaveChannelID))},
		EventVoiceUserUpdated:  {handle(voiceUpdate)},
		EventDMVoiceUserJoined: {handle(voiceJoin(DMVoiceRosterKey, voiceGroupID))},
		EventDMVoiceUserLeft:   {handle(voiceLeave(DMVoiceRosterKey, voiceLeaveGroupID))},

		EventMemberBanned:       {handle(banMember)},
		EventMemberKicked:       {handle(kickMember)},
		EventMemberTimeout:      {handle(timeoutMember)},
		EventMemberTimeoutEnded: {handle(clearMemberTimeout)},

		EventRoleCreated:    {handle(createRole)},
		EventRoleUpdated:    {handle(updateRole)},
		EventRoleDeleted:    {handle(deleteRole), handle(stripDeletedRole)},
		EventRoleAssigned:   {handle(assignRole)},
		EventRoleUnassigned: {handle(unassignRole)},

		EventCommunityUpdated: {handle(updateCommunity)},
		EventCommunityDeleted: {handle(deleteCommunity)},
		EventChannelCreated:   {handle(createChannel)},
		EventChannelUpdated:   {handle(updateChannel)},
		EventChannelDeleted:   {handle(deleteChannel)},

		EventNotificationNew:  {handle(addNotification)},
		EventNotificationRead: {handle(readNotification)},
	}
}

// Handlers returns the handlers for t.
func (r Registry) Handlers(t EventType) []Handler {
	return r[t]
}

// Validate fails when a catalog event has no entry, so adding an event type
// without deciding what it does to the cache is caught at construction.
func (r Registry) Validate() error {
	var missing []EventType
	for _, t := range catalog {
		if _, ok := r[t]; !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrRegistryIncomplete, missing)
	}
	for t := range r {
		if _, err := ParseEventType(string(t)); err != nil {
			return fmt.Errorf("registry: %w", err)
		}
	}
	return nil
}

// handle adapts a typed handler to the raw Handler signature.
func handle[P any](fn func(ctx context.Context, env *Env, p P) error) Handler {
	return func(ctx context.Context, env *Env, payload json.RawMessage) error {
		var p P
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return fn(ctx, env, p)
	}
}

// ============================================================================
// Write helpers
// ============================================================================

// write cancels any in-flight fetch of key, then applies updater. updater
// is first evaluated against the current value; when it reports no change
// (nil) the key is left alone and a running fetch is allowed to land.
func write(ctx context.Context, env *Env, key Key, updater func(old any) any) error {
	current, _ := env.Store.Get(key)
	if updater(current) == nil {
		return nil
	}
	if err := env.Store.CancelInFlight(ctx, key); err != nil {
		return fmt.Errorf("cancel fetch %s: %w", key, err)
	}
	env.Store.Set(key, updater)
	return nil
}

// writeFlat rewrites a FlatList[T] key. Absent or foreign values, and
// rewrites that return the list unchanged, are left alone.
func writeFlat[T Record](ctx context.Context, env *Env, key Key, fn func(FlatList[T]) FlatList[T]) error {
	return write(ctx, env, key, func(old any) any {
		list, ok := old.(FlatList[T])
		if !ok || list == nil {
			return nil
		}
		next := fn(list)
		if sameFlat(list, next) {
			return nil
		}
		return next
	})
}

// writeInfinite rewrites an *InfiniteList[T] key. Absent values, and
// rewrites that return the same list, are left alone.
func writeInfinite[T Record](ctx context.Context, env *Env, key Key, fn func(*InfiniteList[T]) *InfiniteList[T]) error {
	return write(ctx, env, key, func(old any) any {
		list, ok := old.(*InfiniteList[T])
		if !ok || list == nil {
			return nil
		}
		next := fn(list)
		if next == list {
			return nil
		}
		return next
	})
}

// sameFlat reports whether b is a as returned by a no-op primitive: same
// length over the same backing array.
func sameFlat[T Record](a, b FlatList[T]) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}

// resolveBucket prefers the bucket named in the payload and falls back to
// the context index.
func resolveBucket(ctx context.Context, env *Env, ref MessageRefPayload) (Bucket, bool, error) {
	if b, ok := bucketOf(ref.ChannelID, ref.GroupID); ok {
		return b, true, nil
	}
	b, ok, err := env.Index.Get(ctx, ref.MessageID)
	if err != nil {
		return Bucket{}, false, fmt.Errorf("resolve bucket for %s: %w", ref.MessageID, err)
	}
	if !ok {
		env.logger().WithField("message_id", ref.MessageID).Debug("no context for message, skipping")
	}
	return b, ok, nil
}

// patchMessage read-modify-writes one message of a bucket.
func patchMessage(ctx context.Context, env *Env, b Bucket, id string, fn func(Message) (Message, bool)) error {
	return writeInfinite(ctx, env, MessagesKey(b), func(l *InfiniteList[Message]) *InfiniteList[Message] {
		msg, ok := l.FindByID(id)
		if !ok {
			return l
		}
		next, changed := fn(msg)
		if !changed {
			return l
		}
		return l.UpdateByID(next)
	})
}
