package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestNotifier_NilClientIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	assert.NoError(t, n.PublishPostEvent(context.Background(), NewPostEvent(EventPostCreated, "a@x.com", "id")))
	assert.NoError(t, n.StartPostEventSubscriber(context.Background(), func(string) {}))

	var nilNotifier *Notifier
	assert.NoError(t, nilNotifier.PublishPostEvent(context.Background(), PostEvent{}))
}

func TestNewPostEvent(t *testing.T) {
	a := NewPostEvent(EventPostLiked, "a@x.com", "65a1b2c3d4e5f60718293a4b")
	b := NewPostEvent(EventPostLiked, "a@x.com", "65a1b2c3d4e5f60718293a4b")

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, EventPostLiked, a.Type)
	assert.WithinDuration(t, time.Now(), a.Timestamp, time.Second)
}

func TestNotifier_PublishAndSubscribe(t *testing.T) {
	_, rdb := setupRedis(t)
	n := NewNotifier(rdb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payloads := make(chan string, 1)
	require.NoError(t, n.StartPostEventSubscriber(ctx, func(payload string) {
		payloads <- payload
	}))

	evt := NewPostEvent(EventPostCreated, "a@x.com", "65a1b2c3d4e5f60718293a4b")
	require.NoError(t, n.PublishPostEvent(context.Background(), evt))

	select {
	case payload := <-payloads:
		var got PostEvent
		require.NoError(t, json.Unmarshal([]byte(payload), &got))
		assert.Equal(t, evt.ID, got.ID)
		assert.Equal(t, evt.AuthorID, got.AuthorID)
		assert.Equal(t, evt.PostID, got.PostID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestNotifier_SubscriberSurvivesPanic(t *testing.T) {
	_, rdb := setupRedis(t)
	n := NewNotifier(rdb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payloads := make(chan string, 2)
	require.NoError(t, n.StartPostEventSubscriber(ctx, func(payload string) {
		payloads <- payload
		if len(payloads) == 1 {
			panic("handler bug")
		}
	}))

	for i := 0; i < 2; i++ {
		require.NoError(t, n.PublishPostEvent(context.Background(), NewPostEvent(EventPostLiked, "a@x.com", "id")))
	}

	assert.Eventually(t, func() bool { return len(payloads) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestNotifier_PublishFailsWhenRedisDown(t *testing.T) {
	mr, rdb := setupRedis(t)
	n := NewNotifier(rdb)
	mr.Close()

	err := n.PublishPostEvent(context.Background(), NewPostEvent(EventPostCreated, "a@x.com", "id"))
	assert.Error(t, err)
}
