package synchub

import "context"

func addNotification(ctx context.Context, env *Env, p NotificationPayload) error {
	inserted := false
	if err := writeFlat(ctx, env, NotificationsKey(), func(l FlatList[Notification]) FlatList[Notification] {
		next := l.PrependIfAbsent(p.Notification)
		inserted = len(next) != len(l)
		return next
	}); err != nil {
		return err
	}

	// Without the list cached there is no way to tell a replay from a new
	// entry, so the counter is only bumped when the insert was observed.
	if !inserted || p.Notification.Read {
		return nil
	}
	return adjustNotificationCount(ctx, env, 1)
}

func readNotification(ctx context.Context, env *Env, p NotificationReadPayload) error {
	found, wasUnread := false, false
	if err := writeFlat(ctx, env, NotificationsKey(), func(l FlatList[Notification]) FlatList[Notification] {
		found, wasUnread = false, false
		n, ok := l.FindByID(p.NotificationID)
		if !ok {
			return l
		}
		found = true
		if n.Read {
			return l
		}
		wasUnread = true
		n.Read = true
		return l.UpdateByID(n)
	}); err != nil {
		return err
	}

	switch {
	case wasUnread:
		return adjustNotificationCount(ctx, env, -1)
	case !found:
		env.Store.Invalidate(ctx, ExactFilter(NotificationCountKey()))
	}
	return nil
}

func adjustNotificationCount(ctx context.Context, env *Env, delta int) error {
	return write(ctx, env, NotificationCountKey(), func(old any) any {
		n, ok := old.(int)
		if !ok {
			return nil
		}
		next := max(n+delta, 0)
		if next == n {
			return nil
		}
		return next
	})
}
