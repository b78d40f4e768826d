package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amoylab/authcore/internal/common/config"
	"github.com/amoylab/authcore/internal/common/uow"
)

const stream = "authcore:test:resources"

func newPair(t *testing.T) (*RedisNotifier, *RedisNotifier) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := &config.RedisConfig{Addr: mr.Addr()}

	a, err := NewRedisNotifier(zap.NewNop(), cfg, stream)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := NewRedisNotifier(zap.NewNop(), cfg, stream)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	a.block = 50 * time.Millisecond
	b.block = 50 * time.Millisecond
	return a, b
}

func receive(t *testing.T, ch <-chan []uow.Event) []uow.Event {
	t.Helper()
	select {
	case events := <-ch:
		return events
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
		return nil
	}
}

func TestRedisNotifier_WatchAndNotify(t *testing.T) {
	sender, receiver := newPair(t)
	assert.NotEqual(t, sender.Origin(), receiver.Origin())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := receiver.Watch(ctx)
	require.NoError(t, err)

	batch := []uow.Event{{Aggregate: "secured_resource", ID: "r-1", Kind: uow.KindCreated}}
	require.NoError(t, sender.Notify(context.Background(), batch))

	assert.Equal(t, batch, receive(t, ch))
}

func TestRedisNotifier_SkipsOwnMessages(t *testing.T) {
	sender, receiver := newPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	own, err := sender.Watch(ctx)
	require.NoError(t, err)
	other, err := receiver.Watch(ctx)
	require.NoError(t, err)

	first := []uow.Event{{Aggregate: "secured_resource", ID: "r-1", Kind: uow.KindDeleted}}
	require.NoError(t, sender.Notify(context.Background(), first))
	assert.Equal(t, first, receive(t, other))

	second := []uow.Event{{Aggregate: "secured_resource", ID: "r-2", Kind: uow.KindUpdated}}
	require.NoError(t, receiver.Notify(context.Background(), second))
	assert.Equal(t, second, receive(t, own))
}

func TestRedisNotifier_StartsAfterExistingEntries(t *testing.T) {
	sender, receiver := newPair(t)
	old := []uow.Event{{Aggregate: "secured_resource", ID: "old", Kind: uow.KindCreated}}
	require.NoError(t, sender.Notify(context.Background(), old))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := receiver.Watch(ctx)
	require.NoError(t, err)

	fresh := []uow.Event{{Aggregate: "secured_resource", ID: "new", Kind: uow.KindCreated}}
	require.NoError(t, sender.Notify(context.Background(), fresh))
	assert.Equal(t, fresh, receive(t, ch))
}

func TestRedisNotifier_ChannelClosedOnCancel(t *testing.T) {
	_, receiver := newPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := receiver.Watch(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}

// failXRead makes every XREAD fail before it reaches the server.
type failXRead struct{}

func (failXRead) DialHook(next redis.DialHook) redis.DialHook { return next }

func (failXRead) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == "xread" {
			err := errors.New("stream unavailable")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (failXRead) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisNotifier_CancelDuringBackoff(t *testing.T) {
	_, receiver := newPair(t)
	receiver.block = time.Minute
	receiver.client.AddHook(failXRead{})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := receiver.Watch(ctx)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher kept sleeping after cancel")
	}
}

func TestRedisNotifier_EmptyBatchIsNotPublished(t *testing.T) {
	sender, _ := newPair(t)
	require.NoError(t, sender.Notify(context.Background(), nil))
	n, err := sender.client.Exists(context.Background(), stream).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNew(t *testing.T) {
	n, err := New(zap.NewNop(), &config.NotifierConfig{})
	assert.NoError(t, err)
	assert.Nil(t, n)

	_, err = New(zap.NewNop(), &config.NotifierConfig{Type: "kafka"})
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	n, err = New(zap.NewNop(), &config.NotifierConfig{
		Type: "redis", Stream: stream, Redis: config.RedisConfig{Addr: mr.Addr()},
	})
	require.NoError(t, err)
	assert.NoError(t, n.Close())
}
