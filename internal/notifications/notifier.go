// Package notifications publishes post events over Redis and fans them out to feed sockets.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"postservice/internal/middleware"
	"postservice/internal/observability"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PostEventsChannel carries every post event.
const PostEventsChannel = "posts:events"

// Post event types.
const (
	EventPostCreated = "post_created"
	EventPostLiked   = "post_liked"
)

// PostEvent describes a change to a post.
type PostEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	AuthorID  string    `json:"authorId"`
	PostID    string    `json:"postId"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPostEvent stamps an event with a fresh id and the current time.
func NewPostEvent(eventType, authorID, postID string) PostEvent {
	return PostEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		AuthorID:  authorID,
		PostID:    postID,
		Timestamp: time.Now().UTC(),
	}
}

// Notifier provides helpers to publish post events into Redis channels
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// PublishPostEvent publishes evt on PostEventsChannel. A nil client is a no-op.
func (n *Notifier) PublishPostEvent(ctx context.Context, evt PostEvent) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal post event: %w", err)
	}
	if err := n.rdb.Publish(ctx, PostEventsChannel, payload).Err(); err != nil {
		observability.PostEventsPublished.WithLabelValues(evt.Type, "error").Inc()
		return err
	}
	observability.PostEventsPublished.WithLabelValues(evt.Type, "ok").Inc()
	return nil
}

// StartPostEventSubscriber subscribes to PostEventsChannel and calls onMessage
// for each payload until ctx ends.
func (n *Notifier) StartPostEventSubscriber(ctx context.Context, onMessage func(payload string)) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	sub := n.rdb.Subscribe(ctx, PostEventsChannel)
	// Wait for the subscription to be confirmed so no event published
	// after this call returns is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", PostEventsChannel, err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							middleware.Logger.Error("panic in post event subscriber",
								slog.Any("panic", r),
								slog.String("stack", string(debug.Stack())),
							)
						}
					}()
					onMessage(msg.Payload)
				}()
			}
		}
	}()

	return nil
}
