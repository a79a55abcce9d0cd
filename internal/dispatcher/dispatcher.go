package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gitmine.dev/labbook/internal/labbookerr"
	"gitmine.dev/labbook/internal/obslog"
)

const defaultQueueName = "default"
const supervisorJobPrefix = "supervisor:"
const activityMonitorFn = "activity_monitor"

// Dispatcher is the task registry and queue front-end. It never assumes
// in-process execution: dispatch_task only enqueues a Job Record; some
// worker process dequeues and runs it later via RunOnce.
type Dispatcher struct {
	queue Queue
	log   *obslog.Logger
}

// New wraps an already-constructed Queue backend.
func New(queue Queue, log *obslog.Logger) *Dispatcher {
	return &Dispatcher{queue: queue, log: log}
}

// DispatchTask enqueues fnName with args/kwargs. fnName must be a
// previously-registered job; unknown names are rejected. If dependentJob is
// set, the job is created Deferred and is not enqueued until the dependent
// job finishes (see promoteDependents).
func (d *Dispatcher) DispatchTask(ctx context.Context, fnName string, args []interface{}, kwargs map[string]string, metadata map[string]string, dependentJob string) (string, error) {
	if _, ok := lookupJob(fnName); !ok {
		return "", labbookerr.New(labbookerr.KindValidation, "dispatcher.DispatchTask", "unregistered task: "+fnName, nil)
	}

	record := &JobRecord{
		JobKey:       uuid.NewString(),
		Queue:        defaultQueueName,
		FnName:       fnName,
		Args:         args,
		Kwargs:       kwargs,
		Metadata:     metadata,
		DependentJob: dependentJob,
		EnqueuedAt:   nowOrZero(ctx),
	}

	if dependentJob != "" {
		record.Status = StatusDeferred
		return record.JobKey, d.queue.Save(ctx, record)
	}

	record.Status = StatusQueued
	return record.JobKey, d.queue.Push(ctx, defaultQueueName, record)
}

// nowOrZero exists so tests that need deterministic timestamps can inject
// one via context; production callers get time.Now().
func nowOrZero(ctx context.Context) time.Time {
	if t, ok := ctx.Value(nowKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

type nowKey struct{}

// ScheduleTask registers a recurring (or, with repeat=0, one-shot) task.
func (d *Dispatcher) ScheduleTask(ctx context.Context, fnName string, interval time.Duration, repeat int) (string, error) {
	if _, ok := lookupJob(fnName); !ok {
		return "", labbookerr.New(labbookerr.KindValidation, "dispatcher.ScheduleTask", "unregistered task: "+fnName, nil)
	}
	record := &ScheduleRecord{
		JobKey:    uuid.NewString(),
		FnName:    fnName,
		Interval:  interval,
		Repeat:    repeat,
		NextRunAt: nowOrZero(ctx).Add(interval),
	}
	return record.JobKey, d.queue.SaveSchedule(ctx, record)
}

// Unschedule removes a schedule record. Idempotent: returns whether it was
// found, never an error for an already-removed key.
func (d *Dispatcher) Unschedule(ctx context.Context, jobKey string) (bool, error) {
	return d.queue.DeleteSchedule(ctx, jobKey)
}

// QueryTask loads the current state of a dispatched job.
func (d *Dispatcher) QueryTask(ctx context.Context, jobKey string) (*JobRecord, error) {
	record, err := d.queue.Get(ctx, jobKey)
	if err != nil {
		return nil, labbookerr.New(labbookerr.KindNotFound, "dispatcher.QueryTask", "job not found: "+jobKey, err)
	}
	return record, nil
}

// AllJobs, FailedJobs, and FinishedJobs enumerate by scanning queue state.
func (d *Dispatcher) AllJobs(ctx context.Context) ([]*JobRecord, error) { return d.queue.All(ctx) }

func (d *Dispatcher) FailedJobs(ctx context.Context) ([]*JobRecord, error) {
	return d.filterJobs(ctx, StatusFailed)
}

func (d *Dispatcher) FinishedJobs(ctx context.Context) ([]*JobRecord, error) {
	return d.filterJobs(ctx, StatusFinished)
}

func (d *Dispatcher) filterJobs(ctx context.Context, status JobStatus) ([]*JobRecord, error) {
	all, err := d.queue.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []*JobRecord
	for _, r := range all {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

// RunOnce dequeues and runs a single job from queueName, blocking up to
// timeout for one to become available. Returns false if no job was ready.
func (d *Dispatcher) RunOnce(ctx context.Context, queueName string, timeout time.Duration) (bool, error) {
	record, err := d.queue.Pop(ctx, queueName, timeout)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}

	fn, ok := lookupJob(record.FnName)
	if !ok {
		record.Status = StatusFailed
		record.FailureMessage = "unregistered task: " + record.FnName
		return true, d.queue.Save(ctx, record)
	}

	record.Status = StatusStarted
	record.StartedAt = nowOrZero(ctx)
	if err := d.queue.Save(ctx, record); err != nil {
		return true, err
	}

	result, runErr := fn(ctx, record.Args, record.Kwargs)
	record.FinishedAt = nowOrZero(ctx)
	if runErr != nil {
		record.Status = StatusFailed
		record.FailureMessage = runErr.Error()
		if err := d.queue.Save(ctx, record); err != nil {
			return true, err
		}
		return true, nil
	}

	record.Status = StatusFinished
	record.Result = result
	if err := d.queue.Save(ctx, record); err != nil {
		return true, err
	}

	return true, d.promoteDependents(ctx, record.JobKey)
}

// promoteDependents finds every Deferred job naming finishedJobKey as its
// dependent and enqueues it. A job whose dependent failed stays Deferred
// indefinitely — no auto-cancel, per spec.md §4.7.
func (d *Dispatcher) promoteDependents(ctx context.Context, finishedJobKey string) error {
	all, err := d.queue.All(ctx)
	if err != nil {
		return err
	}
	for _, r := range all {
		if r.Status == StatusDeferred && r.DependentJob == finishedJobKey {
			r.Status = StatusQueued
			if err := d.queue.Push(ctx, r.Queue, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// DispatchMonitor dispatches a long-running per-kernel activity monitor
// task, satisfying supervisor.MonitorDispatcher.
func (d *Dispatcher) DispatchMonitor(ctx context.Context, devEnvKey, kernelID string) (string, error) {
	return d.DispatchTask(ctx, activityMonitorFn, []interface{}{devEnvKey, kernelID}, nil, nil, "")
}

func supervisorJobKey(devEnvKey string) string {
	return fmt.Sprintf("%s%s", supervisorJobPrefix, devEnvKey)
}

// ScheduleSupervisor registers (or re-registers) the recurring supervisor
// reconciliation job for devEnvKey under a deterministic key, so
// UnscheduleSupervisor can find it without tracking a returned job key.
func (d *Dispatcher) ScheduleSupervisor(ctx context.Context, devEnvKey string, interval time.Duration) error {
	record := &ScheduleRecord{
		JobKey:    supervisorJobKey(devEnvKey),
		FnName:    activityMonitorFn,
		Interval:  interval,
		Repeat:    -1, // runs until explicitly unscheduled
		NextRunAt: nowOrZero(ctx).Add(interval),
	}
	return d.queue.SaveSchedule(ctx, record)
}

// UnscheduleSupervisor removes the recurring supervisor schedule for
// devEnvKey, satisfying supervisor.MonitorDispatcher.
func (d *Dispatcher) UnscheduleSupervisor(ctx context.Context, devEnvKey string) (bool, error) {
	return d.Unschedule(ctx, supervisorJobKey(devEnvKey))
}
