package dispatcher

import (
	"context"
	"time"
)

// Queue is the persistence and delivery contract a Dispatcher depends on.
// Two backends implement it: memqueue (in-process, for tests and a
// single-process deployment) and redisqueue (networked, for a multi-worker
// deployment), grounded respectively on the teacher's worker.Pool and
// queue/redis.Queue conventions.
type Queue interface {
	// Push appends record to the named queue and persists it by JobKey.
	Push(ctx context.Context, queueName string, record *JobRecord) error
	// Pop removes and returns the next record from queueName, blocking up
	// to timeout. Returns (nil, nil) on timeout with no job available.
	Pop(ctx context.Context, queueName string, timeout time.Duration) (*JobRecord, error)
	// Save persists record's current state without touching any queue list,
	// used to record status transitions (started, finished, failed).
	Save(ctx context.Context, record *JobRecord) error
	// Get loads a job record by key, regardless of queue membership.
	Get(ctx context.Context, jobKey string) (*JobRecord, error)
	// All returns every known job record.
	All(ctx context.Context) ([]*JobRecord, error)

	SaveSchedule(ctx context.Context, record *ScheduleRecord) error
	GetSchedule(ctx context.Context, jobKey string) (*ScheduleRecord, error)
	DeleteSchedule(ctx context.Context, jobKey string) (bool, error)
}
