// Package memqueue is an in-process dispatcher.Queue backend: a single
// mutex-protected map plus per-queue slices, enough for tests and a
// single-process deployment. Grounded on the teacher's worker.Pool, which
// holds its jobs the same way rather than shelling out to a broker.
package memqueue

import (
	"context"
	"sync"
	"time"

	"gitmine.dev/labbook/internal/dispatcher"
)

// Queue is a dispatcher.Queue backed by in-memory maps. Safe for concurrent
// use; Pop blocks (polling on a short interval) up to the given timeout.
type Queue struct {
	mu        sync.Mutex
	jobs      map[string]*dispatcher.JobRecord
	lists     map[string][]string // queueName -> ordered job keys awaiting Pop
	schedules map[string]*dispatcher.ScheduleRecord
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{
		jobs:      make(map[string]*dispatcher.JobRecord),
		lists:     make(map[string][]string),
		schedules: make(map[string]*dispatcher.ScheduleRecord),
	}
}

func clone(r *dispatcher.JobRecord) *dispatcher.JobRecord {
	cp := *r
	return &cp
}

func cloneSchedule(r *dispatcher.ScheduleRecord) *dispatcher.ScheduleRecord {
	cp := *r
	return &cp
}

// Push appends record to queueName and stores it by JobKey.
func (q *Queue) Push(ctx context.Context, queueName string, record *dispatcher.JobRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	record.Queue = queueName
	q.jobs[record.JobKey] = clone(record)
	q.lists[queueName] = append(q.lists[queueName], record.JobKey)
	return nil
}

// Pop removes and returns the oldest job on queueName, polling until timeout
// elapses if the queue is empty.
func (q *Queue) Pop(ctx context.Context, queueName string, timeout time.Duration) (*dispatcher.JobRecord, error) {
	deadline := time.Now().Add(timeout)
	for {
		if r := q.popOnce(queueName); r != nil {
			return r, nil
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *Queue) popOnce(queueName string) *dispatcher.JobRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.lists[queueName]
	if len(list) == 0 {
		return nil
	}
	key := list[0]
	q.lists[queueName] = list[1:]
	return clone(q.jobs[key])
}

// Save persists record's current state without touching any queue list.
func (q *Queue) Save(ctx context.Context, record *dispatcher.JobRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[record.JobKey] = clone(record)
	return nil
}

// Get loads a job record by key.
func (q *Queue) Get(ctx context.Context, jobKey string) (*dispatcher.JobRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.jobs[jobKey]
	if !ok {
		return nil, nil
	}
	return clone(r), nil
}

// All returns every known job record.
func (q *Queue) All(ctx context.Context) ([]*dispatcher.JobRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*dispatcher.JobRecord, 0, len(q.jobs))
	for _, r := range q.jobs {
		out = append(out, clone(r))
	}
	return out, nil
}

// SaveSchedule persists a recurring task registration.
func (q *Queue) SaveSchedule(ctx context.Context, record *dispatcher.ScheduleRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.schedules[record.JobKey] = cloneSchedule(record)
	return nil
}

// GetSchedule loads a schedule record by key.
func (q *Queue) GetSchedule(ctx context.Context, jobKey string) (*dispatcher.ScheduleRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.schedules[jobKey]
	if !ok {
		return nil, nil
	}
	return cloneSchedule(r), nil
}

// DeleteSchedule removes a schedule record, reporting whether it existed.
func (q *Queue) DeleteSchedule(ctx context.Context, jobKey string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.schedules[jobKey]
	delete(q.schedules, jobKey)
	return ok, nil
}

var _ dispatcher.Queue = (*Queue)(nil)
