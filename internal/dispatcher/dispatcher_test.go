package dispatcher_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitmine.dev/labbook/internal/dispatcher"
	"gitmine.dev/labbook/internal/dispatcher/memqueue"
	"gitmine.dev/labbook/internal/obslog"
)

func testLogger() *obslog.Logger {
	return obslog.Component(logrus.New(), "dispatcher_test")
}

func newTestDispatcher() *dispatcher.Dispatcher {
	return dispatcher.New(memqueue.New(), testLogger())
}

func init() {
	dispatcher.RegisterJob("noop_ok", func(ctx context.Context, args []interface{}, kwargs map[string]string) (interface{}, error) {
		return "done", nil
	})
	dispatcher.RegisterJob("noop_fail", func(ctx context.Context, args []interface{}, kwargs map[string]string) (interface{}, error) {
		return nil, assertErr
	})
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

const assertErr = sentinelErr("boom")

func TestDispatchTaskRejectsUnregisteredFunction(t *testing.T) {
	d := newTestDispatcher()
	_, err := d.DispatchTask(context.Background(), "not_a_real_job", nil, nil, nil, "")
	assert.Error(t, err)
}

func TestRunOnceExecutesRegisteredJobAndRecordsResult(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	jobKey, err := d.DispatchTask(ctx, "noop_ok", nil, nil, nil, "")
	require.NoError(t, err)

	ran, err := d.RunOnce(ctx, "default", 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ran)

	record, err := d.QueryTask(ctx, jobKey)
	require.NoError(t, err)
	assert.Equal(t, dispatcher.StatusFinished, record.Status)
	assert.Equal(t, "done", record.Result)
}

func TestRunOnceRecordsFailureWithoutPromotingDependents(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	parentKey, err := d.DispatchTask(ctx, "noop_fail", nil, nil, nil, "")
	require.NoError(t, err)
	childKey, err := d.DispatchTask(ctx, "noop_ok", nil, nil, nil, parentKey)
	require.NoError(t, err)

	child, err := d.QueryTask(ctx, childKey)
	require.NoError(t, err)
	assert.Equal(t, dispatcher.StatusDeferred, child.Status)

	ran, err := d.RunOnce(ctx, "default", 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ran)

	parent, err := d.QueryTask(ctx, parentKey)
	require.NoError(t, err)
	assert.Equal(t, dispatcher.StatusFailed, parent.Status)

	// A failed dependent never promotes: the child stays deferred forever.
	child, err = d.QueryTask(ctx, childKey)
	require.NoError(t, err)
	assert.Equal(t, dispatcher.StatusDeferred, child.Status)

	failed, err := d.FailedJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestDependentJobPromotesOnceParentFinishes(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	parentKey, err := d.DispatchTask(ctx, "noop_ok", nil, nil, nil, "")
	require.NoError(t, err)
	childKey, err := d.DispatchTask(ctx, "noop_ok", nil, nil, nil, parentKey)
	require.NoError(t, err)

	child, err := d.QueryTask(ctx, childKey)
	require.NoError(t, err)
	assert.Equal(t, dispatcher.StatusDeferred, child.Status)

	// Running the default queue picks up only the parent; the child isn't
	// enqueued yet.
	ran, err := d.RunOnce(ctx, "default", 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ran)

	parent, err := d.QueryTask(ctx, parentKey)
	require.NoError(t, err)
	assert.Equal(t, dispatcher.StatusFinished, parent.Status)

	child, err = d.QueryTask(ctx, childKey)
	require.NoError(t, err)
	assert.Equal(t, dispatcher.StatusQueued, child.Status)

	ran, err = d.RunOnce(ctx, "default", 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ran)

	child, err = d.QueryTask(ctx, childKey)
	require.NoError(t, err)
	assert.Equal(t, dispatcher.StatusFinished, child.Status)

	finished, err := d.FinishedJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, finished, 2)
}

func TestRunOnceReturnsFalseWhenQueueEmpty(t *testing.T) {
	d := newTestDispatcher()
	ran, err := d.RunOnce(context.Background(), "default", 5*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestScheduleAndUnscheduleAreIdempotent(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	jobKey, err := d.ScheduleTask(ctx, "noop_ok", time.Minute, -1)
	require.NoError(t, err)

	ok, err := d.Unschedule(ctx, jobKey)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Unschedule(ctx, jobKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScheduleSupervisorUsesDeterministicKey(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	require.NoError(t, d.ScheduleSupervisor(ctx, "devenv-1", time.Minute))

	ok, err := d.UnscheduleSupervisor(ctx, "devenv-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Calling it again on an already-unscheduled supervisor is a no-op, not
	// an error.
	ok, err = d.UnscheduleSupervisor(ctx, "devenv-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
