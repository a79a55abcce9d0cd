package supervisor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitmine.dev/labbook/internal/coordinator/boltstore"
	"gitmine.dev/labbook/internal/obslog"
)

func testLogger() *obslog.Logger {
	return obslog.Component(logrus.New(), "supervisor_test")
}

type fakeDevEnv struct{ sessions []KernelSession }

func (f *fakeDevEnv) ListSessions(ctx context.Context) ([]KernelSession, error) { return f.sessions, nil }

type fakeDispatcher struct {
	dispatched  []string
	unscheduled bool
}

func (f *fakeDispatcher) DispatchMonitor(ctx context.Context, devEnvKey, kernelID string) (string, error) {
	f.dispatched = append(f.dispatched, kernelID)
	return "job-" + kernelID, nil
}

func (f *fakeDispatcher) UnscheduleSupervisor(ctx context.Context, devEnvKey string) (bool, error) {
	f.unscheduled = true
	return true, nil
}

func newTestStore(t *testing.T) *boltstore.Store {
	t.Helper()
	store, err := boltstore.Open(t.TempDir() + "/coordinator.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTickDispatchesNewKernelsAndSignalsGoneOnes(t *testing.T) {
	store := newTestStore(t)
	devenv := &fakeDevEnv{sessions: []KernelSession{{KernelID: "k1"}}}
	dispatcher := &fakeDispatcher{}
	sup := New(store, devenv, dispatcher, testLogger())
	ctx := context.Background()

	require.NoError(t, sup.Tick(ctx, "devenv-1"))
	assert.Equal(t, []string{"k1"}, dispatcher.dispatched)

	data, err := store.Get(ctx, monitorKey("devenv-1", "k1"))
	require.NoError(t, err)
	var record monitorRecord
	require.NoError(t, json.Unmarshal(data, &record))
	assert.True(t, record.Run)

	// Kernel k1 goes away; Tick should flip run=false rather than dispatch again.
	devenv.sessions = nil
	require.NoError(t, sup.Tick(ctx, "devenv-1"))
	assert.Len(t, dispatcher.dispatched, 1)

	data, err = store.Get(ctx, monitorKey("devenv-1", "k1"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &record))
	assert.False(t, record.Run)
}

func TestShutdownSignalsAllAndUnschedules(t *testing.T) {
	store := newTestStore(t)
	devenv := &fakeDevEnv{sessions: []KernelSession{{KernelID: "k1"}, {KernelID: "k2"}}}
	dispatcher := &fakeDispatcher{}
	sup := New(store, devenv, dispatcher, testLogger())
	ctx := context.Background()

	require.NoError(t, sup.Tick(ctx, "devenv-1"))
	require.NoError(t, sup.Shutdown(ctx, "devenv-1"))
	assert.True(t, dispatcher.unscheduled)

	for _, k := range []string{"k1", "k2"} {
		data, err := store.Get(ctx, monitorKey("devenv-1", k))
		require.NoError(t, err)
		var record monitorRecord
		require.NoError(t, json.Unmarshal(data, &record))
		assert.False(t, record.Run)
	}
}
