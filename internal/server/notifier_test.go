package server

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amoylab/authcore/internal/auth/notifier"
	"github.com/amoylab/authcore/internal/auth/resource"
	"github.com/amoylab/authcore/internal/auth/storage"
	"github.com/amoylab/authcore/internal/common/config"
)

func TestResourceChangesReachPeers(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.AuthServerConfig{
		Notifier: config.NotifierConfig{Type: "redis", Redis: config.RedisConfig{Addr: mr.Addr()}},
	}
	cfg.SetDefaults()

	store := storage.NewMemoryStorage()
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	newPeer := func() *Server {
		s := NewWithStore(zap.NewNop(), cfg, clock, store)
		n, err := notifier.New(zap.NewNop(), &cfg.Notifier)
		require.NoError(t, err)
		s.AttachNotifier(n)
		require.NoError(t, s.Start(ctx))
		t.Cleanup(func() { _ = s.Close() })
		return s
	}
	a, b := newPeer(), newPeer()

	_, err := a.Resources.Create(ctx, resource.Input{Pattern: "/reports/**", Authorities: []string{"reports"}})
	require.NoError(t, err)

	// a reloads on commit, b once the stream message arrives
	assert.Equal(t, []string{"reports"}, a.Metadata.RequiredAuthorities("/reports/q3", "GET"))
	assert.Eventually(t, func() bool {
		return len(b.Metadata.RequiredAuthorities("/reports/q3", "GET")) == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNew_UnknownNotifier(t *testing.T) {
	cfg := &config.AuthServerConfig{Notifier: config.NotifierConfig{Type: "kafka"}}
	cfg.SetDefaults()
	_, err := New(zap.NewNop(), cfg, clockwork.NewFakeClock())
	assert.Error(t, err)
}
