package lock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestNoopLocker(t *testing.T) {
	release, ok, err := NoopLocker{}.Acquire(context.Background(), "txn-1", time.Second)
	assert.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, ok, err := l.Acquire(ctx, "txn-1", time.Second)
	assert.NoError(t, err)
	assert.True(t, ok)

	_, ok, _ = l.Acquire(ctx, "txn-1", time.Second)
	assert.False(t, ok, "second holder must be refused")

	other, ok, _ := l.Acquire(ctx, "txn-2", time.Second)
	assert.True(t, ok)
	other()

	release()
	release()
	again, ok, _ := l.Acquire(ctx, "txn-1", time.Second)
	assert.True(t, ok)
	again()
}

func TestRedisLocker_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	release, ok, err := NewRedisLocker(client, "booking:verify:").Acquire(context.Background(), "txn-1", time.Second)
	assert.Error(t, err)
	assert.False(t, ok)
	release()
}

func TestNewRedisClient_UnreachableReturnsNil(t *testing.T) {
	assert.Nil(t, NewRedisClient("127.0.0.1:1", "", 0))
}

func TestNewToken(t *testing.T) {
	a, err := newToken()
	assert.NoError(t, err)
	b, _ := newToken()
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
