// Package dispatcher implements C7: a task registry and queue. Dispatched
// and scheduled work is persisted as Job Records and Schedule Records so
// any worker process, not just the one that enqueued a task, can run it.
package dispatcher

import "time"

// JobStatus is a Job Record's lifecycle state.
type JobStatus string

const (
	StatusQueued   JobStatus = "queued"
	StatusStarted  JobStatus = "started"
	StatusFinished JobStatus = "finished"
	StatusFailed   JobStatus = "failed"
	StatusDeferred JobStatus = "deferred"
)

// JobRecord is a single dispatched task: its invocation, current status,
// and its result or failure once run. Mutated only by the worker that owns
// it; read by QueryTask and the enumeration operations.
type JobRecord struct {
	JobKey         string            `json:"job_key"`
	Queue          string            `json:"queue"`
	FnName         string            `json:"fn_name"`
	Args           []interface{}     `json:"args"`
	Kwargs         map[string]string `json:"kwargs"`
	Metadata       map[string]string `json:"metadata"`
	Status         JobStatus         `json:"status"`
	Result         interface{}       `json:"result,omitempty"`
	FailureMessage string            `json:"failure_message,omitempty"`
	DependentJob   string            `json:"dependent_job,omitempty"`
	EnqueuedAt     time.Time         `json:"enqueued_at"`
	StartedAt      time.Time         `json:"started_at,omitempty"`
	FinishedAt     time.Time         `json:"finished_at,omitempty"`
}

// ScheduleRecord is a recurring task registration, distinct from a queued
// Job Record until the scheduler loop fires it.
type ScheduleRecord struct {
	JobKey    string        `json:"job_key"`
	FnName    string        `json:"fn_name"`
	Interval  time.Duration `json:"interval"`
	Repeat    int           `json:"repeat"` // 0 means fire once
	FireCount int           `json:"fire_count"`
	NextRunAt time.Time     `json:"next_run_at"`
}
