package synchub

import (
	"context"
	"fmt"
)

// ============================================================================
// Moderation
// ============================================================================

// patchMember read-modify-writes one member of a community.
func patchMember(ctx context.Context, env *Env, communityID, userID string, fn func(Member) (Member, bool)) error {
	return writeFlat(ctx, env, MembersKey(communityID), func(l FlatList[Member]) FlatList[Member] {
		m, ok := l.FindByID(userID)
		if !ok {
			return l
		}
		next, changed := fn(m)
		if !changed {
			return l
		}
		return l.UpdateByID(next)
	})
}

func banMember(ctx context.Context, env *Env, p ModerationPayload) error {
	if err := kickMember(ctx, env, p); err != nil {
		return err
	}
	env.Store.Invalidate(ctx, ExactFilter(BansKey(p.CommunityID)))
	return nil
}

func kickMember(ctx context.Context, env *Env, p ModerationPayload) error {
	if p.CommunityID == "" {
		return fmt.Errorf("moderation event for %s without community id", p.UserID)
	}
	return writeFlat(ctx, env, MembersKey(p.CommunityID), func(l FlatList[Member]) FlatList[Member] {
		return l.DeleteByID(p.UserID)
	})
}

func timeoutMember(ctx context.Context, env *Env, p ModerationPayload) error {
	return patchMember(ctx, env, p.CommunityID, p.UserID, func(m Member) (Member, bool) {
		if m.TimeoutUntil == p.TimeoutUntil {
			return m, false
		}
		m.TimeoutUntil = p.TimeoutUntil
		return m, true
	})
}

func clearMemberTimeout(ctx context.Context, env *Env, p ModerationPayload) error {
	return patchMember(ctx, env, p.CommunityID, p.UserID, func(m Member) (Member, bool) {
		if m.TimeoutUntil == "" {
			return m, false
		}
		m.TimeoutUntil = ""
		return m, true
	})
}

// ============================================================================
// Roles
// ============================================================================

func roleCommunity(p RolePayload) string {
	if p.CommunityID != "" {
		return p.CommunityID
	}
	return p.Role.CommunityID
}

func createRole(ctx context.Context, env *Env, p RolePayload) error {
	return writeFlat(ctx, env, RolesKey(roleCommunity(p)), func(l FlatList[Role]) FlatList[Role] {
		return l.AppendIfAbsent(p.Role)
	})
}

func updateRole(ctx context.Context, env *Env, p RolePayload) error {
	return writeFlat(ctx, env, RolesKey(roleCommunity(p)), func(l FlatList[Role]) FlatList[Role] {
		return l.UpdateByID(p.Role)
	})
}

func deleteRole(ctx context.Context, env *Env, p RoleRefPayload) error {
	return writeFlat(ctx, env, RolesKey(p.CommunityID), func(l FlatList[Role]) FlatList[Role] {
		return l.DeleteByID(p.RoleID)
	})
}

// stripDeletedRole removes a deleted role from every member holding it.
func stripDeletedRole(ctx context.Context, env *Env, p RoleRefPayload) error {
	return writeFlat(ctx, env, MembersKey(p.CommunityID), func(l FlatList[Member]) FlatList[Member] {
		out := l
		for _, m := range l {
			if !containsString(m.RoleIDs, p.RoleID) {
				continue
			}
			m.RoleIDs = removeString(m.RoleIDs, p.RoleID)
			out = out.UpdateByID(m)
		}
		return out
	})
}

func assignRole(ctx context.Context, env *Env, p RoleRefPayload) error {
	return patchMember(ctx, env, p.CommunityID, p.UserID, func(m Member) (Member, bool) {
		if containsString(m.RoleIDs, p.RoleID) {
			return m, false
		}
		m.RoleIDs = append(append([]string(nil), m.RoleIDs...), p.RoleID)
		return m, true
	})
}

func unassignRole(ctx context.Context, env *Env, p RoleRefPayload) error {
	return patchMember(ctx, env, p.CommunityID, p.UserID, func(m Member) (Member, bool) {
		if !containsString(m.RoleIDs, p.RoleID) {
			return m, false
		}
		m.RoleIDs = removeString(m.RoleIDs, p.RoleID)
		return m, true
	})
}

// ============================================================================
// Community & channel lifecycle
// ============================================================================

func updateCommunity(ctx context.Context, env *Env, p CommunityPayload) error {
	if err := writeFlat(ctx, env, CommunitiesKey(), func(l FlatList[Community]) FlatList[Community] {
		return l.UpdateByID(p.Community)
	}); err != nil {
		return err
	}
	return write(ctx, env, CommunityKey(p.Community.ID), func(old any) any {
		if current, ok := old.(Community); !ok || current == p.Community {
			return nil
		}
		return p.Community
	})
}

// deleteCommunity drops the community from the sidebar list and invalidates
// everything else keyed by it.
func deleteCommunity(ctx context.Context, env *Env, p CommunityRefPayload) error {
	if err := writeFlat(ctx, env, CommunitiesKey(), func(l FlatList[Community]) FlatList[Community] {
		return l.DeleteByID(p.CommunityID)
	}); err != nil {
		return err
	}
	env.Store.Invalidate(ctx, ExactFilter(CommunityKey(p.CommunityID)))
	env.Store.Invalidate(ctx, ExactFilter(ChannelsKey(p.CommunityID)))
	return nil
}

func createChannel(ctx context.Context, env *Env, p ChannelPayload) error {
	return writeFlat(ctx, env, ChannelsKey(p.Channel.CommunityID), func(l FlatList[Channel]) FlatList[Channel] {
		return l.AppendIfAbsent(p.Channel)
	})
}

func updateChannel(ctx context.Context, env *Env, p ChannelPayload) error {
	return writeFlat(ctx, env, ChannelsKey(p.Channel.CommunityID), func(l FlatList[Channel]) FlatList[Channel] {
		return l.UpdateByID(p.Channel)
	})
}

func deleteChannel(ctx context.Context, env *Env, p ChannelRefPayload) error {
	return writeFlat(ctx, env, ChannelsKey(p.CommunityID), func(l FlatList[Channel]) FlatList[Channel] {
		return l.DeleteByID(p.ChannelID)
	})
}
