package synchub

import "context"

// reconcileFilters are the push-driven caches that can silently miss events
// while the connection is down. The list is fixed.
var reconcileFilters = []KeyFilter{
	PrefixFilter(resMessages, string(BucketChannel)),
	PrefixFilter(resMessages, string(BucketGroup)),
	PrefixFilter(resUnreadCounts),
	PrefixFilter(resNotifications, notificationsCount),
	PrefixFilter(resNotifications, notificationsList),
	PrefixFilter(resVoicePresence, voiceChannel),
	PrefixFilter(resVoicePresence, voiceDM),
}

// ReconcileFilters returns the invalidations Reconcile issues, in order.
func ReconcileFilters() []KeyFilter {
	return append([]KeyFilter(nil), reconcileFilters...)
}

// Reconcile marks every cache that real-time events keep current as stale.
// There is no event log to replay after a reconnect, so refetching is the
// only way to recover what was missed.
func Reconcile(ctx context.Context, inv Invalidator) {
	for _, f := range reconcileFilters {
		inv.Invalidate(ctx, f)
	}
}
