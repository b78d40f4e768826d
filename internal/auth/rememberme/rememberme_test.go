package rememberme

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amoylab/authcore/internal/auth/storage"
	"github.com/amoylab/authcore/internal/common/config"
	"github.com/amoylab/authcore/internal/common/errorx"
)

func backends(t *testing.T, clock clockwork.Clock) map[string]storage.RememberMeStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rs, err := storage.NewRedisStorage(&config.RedisConfig{Addr: mr.Addr()}, clock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })
	return map[string]storage.RememberMeStore{
		"memory": storage.NewMemoryStorage(),
		"redis":  rs,
	}
}

func TestAutoLogin_Rotates(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	for name, store := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			svc := NewService(zap.NewNop(), store, clock, 0)
			ctx := context.Background()

			created, err := svc.Create(ctx, "alice")
			require.NoError(t, err)
			assert.NotEmpty(t, created.Series)
			assert.NotEqual(t, created.Series, created.Value)

			clock.Advance(time.Hour)
			got, err := svc.AutoLogin(ctx, created.Series, created.Value)
			require.NoError(t, err)
			assert.Equal(t, created.Series, got.Series)
			assert.NotEqual(t, created.Value, got.Value)
			assert.Equal(t, clock.Now(), got.LastUsedAt)

			stored, err := store.GetRememberMe(ctx, created.Series)
			require.NoError(t, err)
			assert.Equal(t, got.Value, stored.Value)
		})
	}
}

func TestAutoLogin_Theft(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	for name, store := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			svc := NewService(zap.NewNop(), store, clock, 0)
			ctx := context.Background()

			first, err := svc.Create(ctx, "bob")
			require.NoError(t, err)
			second, err := svc.Create(ctx, "bob")
			require.NoError(t, err)

			_, err = svc.AutoLogin(ctx, first.Series, "stolen-value")
			assert.ErrorIs(t, err, errorx.ErrRememberMeTheft)

			_, err = store.GetRememberMe(ctx, first.Series)
			assert.ErrorIs(t, err, errorx.ErrRememberMeNotFound)
			_, err = store.GetRememberMe(ctx, second.Series)
			assert.ErrorIs(t, err, errorx.ErrRememberMeNotFound)
		})
	}
}

func TestAutoLogin_Expired(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	store := storage.NewMemoryStorage()
	svc := NewService(zap.NewNop(), store, clock, 0)
	ctx := context.Background()

	keep, err := svc.Create(ctx, "carol")
	require.NoError(t, err)
	clock.Advance(time.Hour)
	stale, err := svc.Create(ctx, "carol")
	require.NoError(t, err)

	clock.Advance(config.DefaultRememberMeValidity)
	_, err = svc.AutoLogin(ctx, keep.Series, keep.Value)
	assert.ErrorIs(t, err, errorx.ErrRememberMeExpired)
	_, err = store.GetRememberMe(ctx, keep.Series)
	assert.ErrorIs(t, err, errorx.ErrRememberMeNotFound)

	_, err = svc.AutoLogin(ctx, stale.Series, stale.Value)
	assert.NoError(t, err)
}

func TestAutoLogin_UnknownSeries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc := NewService(zap.NewNop(), storage.NewMemoryStorage(), clock, 0)
	_, err := svc.AutoLogin(context.Background(), "nope", "nope")
	assert.ErrorIs(t, err, errorx.ErrRememberMeNotFound)
}

func TestLogout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := storage.NewMemoryStorage()
	svc := NewService(zap.NewNop(), store, clock, 0)
	ctx := context.Background()

	a, err := svc.Create(ctx, "dave")
	require.NoError(t, err)
	b, err := svc.Create(ctx, "erin")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, "dave"))
	_, err = store.GetRememberMe(ctx, a.Series)
	assert.ErrorIs(t, err, errorx.ErrRememberMeNotFound)
	_, err = store.GetRememberMe(ctx, b.Series)
	assert.NoError(t, err)
}

func TestCookie(t *testing.T) {
	tok := &storage.RememberMeToken{Series: "c2VyaWVz", Value: "dmFsdWU="}
	series, value, err := DecodeCookie(EncodeCookie(tok))
	require.NoError(t, err)
	assert.Equal(t, tok.Series, series)
	assert.Equal(t, tok.Value, value)

	_, _, err = DecodeCookie("!!!")
	assert.ErrorIs(t, err, errorx.ErrInvalidRequest)
	_, _, err = DecodeCookie("bm9jb2xvbg==")
	assert.ErrorIs(t, err, errorx.ErrInvalidRequest)
}
