package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/podcastadmin/internal/model"
)

func newTestGuard(t *testing.T, ttl time.Duration) (*RedisRequestGuard, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := NewRedisClient(mr.Addr(), "", 0)
	t.Cleanup(func() { client.Close() })
	return NewRedisRequestGuard(client, ttl), mr
}

func TestRedisRequestGuard_ClaimOnce(t *testing.T) {
	guard, mr := newTestGuard(t, time.Minute)
	ctx := context.Background()

	ok, err := guard.Claim(ctx, "token-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Claim(ctx, "token-1")
	require.NoError(t, err)
	assert.False(t, ok, "second claim must fail")

	assert.True(t, mr.Exists(requestKeyPrefix+"token-1"))
	assert.Equal(t, time.Minute, mr.TTL(requestKeyPrefix+"token-1"))
}

func TestRedisRequestGuard_ExpiresAfterTTL(t *testing.T) {
	guard, mr := newTestGuard(t, time.Minute)
	ctx := context.Background()

	ok, err := guard.Claim(ctx, "token-2")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = guard.Claim(ctx, "token-2")
	require.NoError(t, err)
	assert.True(t, ok, "claim should succeed after expiry")
}

func TestRedisRequestGuard_Release(t *testing.T) {
	guard, mr := newTestGuard(t, time.Minute)
	ctx := context.Background()

	_, err := guard.Claim(ctx, "token-3")
	require.NoError(t, err)
	require.NoError(t, guard.Release(ctx, "token-3"))
	assert.False(t, mr.Exists(requestKeyPrefix+"token-3"))

	ok, err := guard.Claim(ctx, "token-3")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisRequestGuard_ServerDown_ReturnsError(t *testing.T) {
	guard, mr := newTestGuard(t, time.Minute)
	mr.Close()

	_, err := guard.Claim(context.Background(), "token-4")
	assert.Error(t, err)
}

func TestDispatcher_WithRedisGuard_DeduplicatesRequests(t *testing.T) {
	guard, _ := newTestGuard(t, time.Minute)
	q := &recordingQueue{}
	d := NewDispatcher(podcastFinder(&model.Podcast{ID: 5, Title: "Show"}), q, guard, nil)
	req := FetchRequest{PodcastID: 5, RequestKey: "form-token"}

	_, err := d.ScheduleFetch(context.Background(), req)
	require.NoError(t, err)
	_, err = d.ScheduleFetch(context.Background(), req)
	require.NoError(t, err)

	assert.Len(t, q.payloads, 1)
}
