package portlock_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitmine.dev/labbook/internal/config"
	"gitmine.dev/labbook/internal/coordinator/boltstore"
	"gitmine.dev/labbook/internal/labbookerr"
	"gitmine.dev/labbook/internal/obslog"
	"gitmine.dev/labbook/internal/portlock"
)

func testLogger() *obslog.Logger {
	return obslog.Component(logrus.New(), "portlock_test")
}

func newStore(t *testing.T) *boltstore.Store {
	t.Helper()
	store, err := boltstore.Open(t.TempDir() + "/coordinator.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAcquireExcludesConcurrentHolder(t *testing.T) {
	store := newStore(t)
	cfg := config.LockConfig{Timeout: 50 * time.Millisecond, Expire: time.Minute, AutoRenewal: false}
	mgr := portlock.New(store, cfg, testLogger())
	ctx := context.Background()

	h1, err := mgr.Acquire(ctx, "labbook-a")
	require.NoError(t, err)

	_, err = mgr.Acquire(ctx, "labbook-a")
	require.Error(t, err)
	assert.True(t, labbookerr.Is(err, labbookerr.KindLock))

	require.NoError(t, h1.Release(ctx))

	h2, err := mgr.Acquire(ctx, "labbook-a")
	require.NoError(t, err)
	require.NoError(t, h2.Release(ctx))
}

func TestAcquireTakesOverExpiredLock(t *testing.T) {
	store := newStore(t)
	cfg := config.LockConfig{Timeout: 200 * time.Millisecond, Expire: 10 * time.Millisecond, AutoRenewal: false}
	mgr := portlock.New(store, cfg, testLogger())
	ctx := context.Background()

	_, err := mgr.Acquire(ctx, "labbook-b")
	require.NoError(t, err)

	// Never released; its Expire is tiny, so a second Acquire should take
	// over once it has passed rather than waiting out the full Timeout.
	start := time.Now()
	h2, err := mgr.Acquire(ctx, "labbook-b")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), cfg.Timeout)
	require.NoError(t, h2.Release(ctx))
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestAllocateAssignsDistinctPortsAndReleaseFreesThem(t *testing.T) {
	store := newStore(t)
	cfg := config.LockConfig{Timeout: time.Second, Expire: time.Minute, AutoRenewal: false}
	locks := portlock.New(store, cfg, testLogger())
	ports := portlock.NewPortManager(store, locks, testLogger())
	ctx := context.Background()

	desired := freePort(t)

	a1, err := ports.Allocate(ctx, "labbook-1", "127.0.0.1", desired)
	require.NoError(t, err)

	a2, err := ports.Allocate(ctx, "labbook-2", "127.0.0.1", desired)
	require.NoError(t, err)
	assert.NotEqual(t, a1.Port, a2.Port)

	looked, err := ports.Lookup(ctx, "labbook-1")
	require.NoError(t, err)
	assert.Equal(t, a1, looked)

	require.NoError(t, ports.Release(ctx, "labbook-1"))
	_, err = ports.Lookup(ctx, "labbook-1")
	assert.True(t, labbookerr.Is(err, labbookerr.KindNotFound))

	require.NoError(t, ports.Release(ctx, "labbook-2"))
}

func TestLookupUnassignedFails(t *testing.T) {
	store := newStore(t)
	cfg := config.LockConfig{Timeout: time.Second, Expire: time.Minute}
	locks := portlock.New(store, cfg, testLogger())
	ports := portlock.NewPortManager(store, locks, testLogger())

	_, err := ports.Lookup(context.Background(), "never-allocated")
	assert.True(t, labbookerr.Is(err, labbookerr.KindNotFound))
}

func TestResetAllPortsClearsCoordinatorRecords(t *testing.T) {
	store := newStore(t)
	cfg := config.LockConfig{Timeout: time.Second, Expire: time.Minute}
	locks := portlock.New(store, cfg, testLogger())
	ports := portlock.NewPortManager(store, locks, testLogger())
	ctx := context.Background()

	desired := freePort(t)
	_, err := ports.Allocate(ctx, "labbook-x", "127.0.0.1", desired)
	require.NoError(t, err)

	require.NoError(t, ports.ResetAllPorts(ctx))

	_, err = ports.Lookup(ctx, "labbook-x")
	assert.True(t, labbookerr.Is(err, labbookerr.KindNotFound))
}
