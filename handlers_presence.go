package synchub

import (
	"context"
	"fmt"
)

// ── Presence ──

// presenceSetter returns a handler recording status for the payload's user.
// The map is copied on every write so readers holding the old value never
// see it change.
func presenceSetter(status PresenceStatus) func(context.Context, *Env, PresencePayload) error {
	return func(ctx context.Context, env *Env, p PresencePayload) error {
		if p.UserID == "" {
			return fmt.Errorf("presence event without user id")
		}
		return write(ctx, env, PresenceKey(), func(old any) any {
			current, _ := old.(PresenceMap)
			if s, ok := current[p.UserID]; ok && s == status {
				return nil
			}
			next := make(PresenceMap, len(current)+1)
			for id, s := range current {
				next[id] = s
			}
			next[p.UserID] = status
			return next
		})
	}
}

// ── Voice rosters ──

func voiceChannelID(p VoiceJoinPayload) string      { return p.ChannelID }
func voiceGroupID(p VoiceJoinPayload) string        { return p.GroupID }
func voiceLeaveChannelID(p VoiceLeavePayload) string { return p.ChannelID }
func voiceLeaveGroupID(p VoiceLeavePayload) string   { return p.GroupID }

// writeRoster rewrites the roster at key. When no roster is cached there is
// nothing to patch, so the key is invalidated and refetched instead.
func writeRoster(ctx context.Context, env *Env, key Key, fn func(VoiceRoster) (VoiceRoster, bool)) error {
	cached, ok := env.Store.Get(key)
	if _, isRoster := cached.(VoiceRoster); !ok || !isRoster {
		env.logger().WithField("key", key.String()).Debug("no cached roster, invalidating")
		env.Store.Invalidate(ctx, ExactFilter(key))
		return nil
	}
	return write(ctx, env, key, func(old any) any {
		roster, ok := old.(VoiceRoster)
		if !ok {
			return nil
		}
		next, changed := fn(roster)
		if !changed {
			return nil
		}
		return next
	})
}

func voiceJoin(keyFn func(string) Key, idFn func(VoiceJoinPayload) string) func(context.Context, *Env, VoiceJoinPayload) error {
	return func(ctx context.Context, env *Env, p VoiceJoinPayload) error {
		id := idFn(p)
		if id == "" {
			return fmt.Errorf("voice join for %s without room id", p.User.UserID)
		}
		return writeRoster(ctx, env, keyFn(id), func(r VoiceRoster) (VoiceRoster, bool) {
			return r.join(p.User)
		})
	}
}

func voiceLeave(keyFn func(string) Key, idFn func(VoiceLeavePayload) string) func(context.Context, *Env, VoiceLeavePayload) error {
	return func(ctx context.Context, env *Env, p VoiceLeavePayload) error {
		id := idFn(p)
		if id == "" {
			return fmt.Errorf("voice leave for %s without room id", p.UserID)
		}
		return writeRoster(ctx, env, keyFn(id), func(r VoiceRoster) (VoiceRoster, bool) {
			return r.leave(p.UserID)
		})
	}
}

func voiceUpdate(ctx context.Context, env *Env, p VoiceUpdatePayload) error {
	if p.ChannelID == "" {
		return fmt.Errorf("voice update for %s without channel id", p.User.UserID)
	}
	return writeRoster(ctx, env, VoiceRosterKey(p.ChannelID), func(r VoiceRoster) (VoiceRoster, bool) {
		users := FlatList[VoiceUser](r.Users)
		existing, ok := users.FindByID(p.User.UserID)
		if !ok || existing == p.User {
			return r, false
		}
		return VoiceRoster{Users: users.UpdateByID(p.User), Count: r.Count}, true
	})
}
