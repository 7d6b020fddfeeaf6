package synchub

import (
	"context"
	"fmt"
	"slices"
)

// ============================================================================
// Message list handlers
// ============================================================================

func prependMessage(ctx context.Context, env *Env, p MessagePayload) error {
	b, ok := p.Message.Bucket()
	if !ok {
		return fmt.Errorf("message %s has no channel or group", p.Message.ID)
	}

	inserted := false
	err := writeInfinite(ctx, env, MessagesKey(b), func(l *InfiniteList[Message]) *InfiniteList[Message] {
		next := l.PrependIfAbsent(p.Message)
		inserted = next != l
		return next
	})
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}
	if err := env.Index.Set(ctx, p.Message.ID, b); err != nil {
		return fmt.Errorf("index message %s: %w", p.Message.ID, err)
	}
	return nil
}

// bumpUnread increments the counter of the message's bucket, appending a
// counter when the bucket has none yet.
func bumpUnread(ctx context.Context, env *Env, p MessagePayload) error {
	if env.SelfID != "" && p.Message.AuthorID == env.SelfID {
		return nil
	}
	b, ok := p.Message.Bucket()
	if !ok {
		return nil
	}
	id := b.String()
	return writeFlat(ctx, env, UnreadCountsKey(), func(l FlatList[UnreadCount]) FlatList[UnreadCount] {
		counter, found := l.FindByID(id)
		if !found {
			l = l.AppendIfAbsent(UnreadCount{Kind: b.Kind, BucketID: b.ID})
			counter, _ = l.FindByID(id)
		}
		counter.Count++
		return l.UpdateByID(counter)
	})
}

func updateMessage(ctx context.Context, env *Env, p MessagePayload) error {
	b, ok := p.Message.Bucket()
	if !ok {
		return fmt.Errorf("message %s has no channel or group", p.Message.ID)
	}
	if err := writeInfinite(ctx, env, MessagesKey(b), func(l *InfiniteList[Message]) *InfiniteList[Message] {
		return l.UpdateByID(p.Message)
	}); err != nil {
		return err
	}
	if !p.Message.Pinned {
		return nil
	}
	return writeFlat(ctx, env, PinsKey(b), func(l FlatList[Message]) FlatList[Message] {
		return l.UpdateByID(p.Message)
	})
}

func deleteMessage(ctx context.Context, env *Env, p MessageRefPayload) error {
	b, ok, err := resolveBucket(ctx, env, p)
	if err != nil || !ok {
		return err
	}
	if err := writeInfinite(ctx, env, MessagesKey(b), func(l *InfiniteList[Message]) *InfiniteList[Message] {
		return l.DeleteByID(p.MessageID)
	}); err != nil {
		return err
	}
	if err := writeFlat(ctx, env, PinsKey(b), func(l FlatList[Message]) FlatList[Message] {
		return l.DeleteByID(p.MessageID)
	}); err != nil {
		return err
	}
	if err := env.Index.Remove(ctx, p.MessageID); err != nil {
		return fmt.Errorf("unindex message %s: %w", p.MessageID, err)
	}
	return nil
}

// ============================================================================
// Reactions
// ============================================================================

func addReaction(ctx context.Context, env *Env, p ReactionPayload) error {
	b, ok, err := resolveBucket(ctx, env, MessageRefPayload{MessageID: p.MessageID})
	if err != nil || !ok {
		return err
	}
	return patchMessage(ctx, env, b, p.MessageID, func(m Message) (Message, bool) {
		return m.withReaction(p.Emoji, p.UserID)
	})
}

func removeReaction(ctx context.Context, env *Env, p ReactionPayload) error {
	b, ok, err := resolveBucket(ctx, env, MessageRefPayload{MessageID: p.MessageID})
	if err != nil || !ok {
		return err
	}
	return patchMessage(ctx, env, b, p.MessageID, func(m Message) (Message, bool) {
		return m.withoutReaction(p.Emoji, p.UserID)
	})
}

// ============================================================================
// Pins, threads, read receipts
// ============================================================================

func pinMessage(ctx context.Context, env *Env, p MessagePayload) error {
	b, ok := p.Message.Bucket()
	if !ok {
		return fmt.Errorf("message %s has no channel or group", p.Message.ID)
	}
	pinned := p.Message
	pinned.Pinned = true
	if err := patchMessage(ctx, env, b, pinned.ID, func(m Message) (Message, bool) {
		if m.Pinned {
			return m, false
		}
		m.Pinned = true
		return m, true
	}); err != nil {
		return err
	}
	return writeFlat(ctx, env, PinsKey(b), func(l FlatList[Message]) FlatList[Message] {
		return l.PrependIfAbsent(pinned)
	})
}

func unpinMessage(ctx context.Context, env *Env, p MessageRefPayload) error {
	b, ok, err := resolveBucket(ctx, env, p)
	if err != nil || !ok {
		return err
	}
	if err := patchMessage(ctx, env, b, p.MessageID, func(m Message) (Message, bool) {
		if !m.Pinned {
			return m, false
		}
		m.Pinned = false
		return m, true
	}); err != nil {
		return err
	}
	return writeFlat(ctx, env, PinsKey(b), func(l FlatList[Message]) FlatList[Message] {
		return l.DeleteByID(p.MessageID)
	})
}

func setReplyCount(ctx context.Context, env *Env, p ThreadReplyCountPayload) error {
	b, ok, err := resolveBucket(ctx, env, p.MessageRefPayload)
	if err != nil || !ok {
		return err
	}
	return patchMessage(ctx, env, b, p.MessageID, func(m Message) (Message, bool) {
		if m.ReplyCount == p.ReplyCount {
			return m, false
		}
		m.ReplyCount = p.ReplyCount
		return m, true
	})
}

func setReadBy(ctx context.Context, env *Env, p ReadReceiptPayload) error {
	b, ok, err := resolveBucket(ctx, env, p.MessageRefPayload)
	if err != nil || !ok {
		return err
	}
	return patchMessage(ctx, env, b, p.MessageID, func(m Message) (Message, bool) {
		if slices.Equal(m.ReadBy, p.ReadBy) {
			return m, false
		}
		m.ReadBy = append([]string(nil), p.ReadBy...)
		return m, true
	})
}
