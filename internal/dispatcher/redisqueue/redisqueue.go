// Package redisqueue is a networked dispatcher.Queue backend for
// multi-worker deployments, grounded on the teacher's queue/redis.Queue:
// the same RPush/BLPop list for delivery and a key prefix per deployment,
// plus plain string keys holding JSON for job and schedule state.
package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gitmine.dev/labbook/internal/dispatcher"
)

// Queue is a dispatcher.Queue backed by Redis.
type Queue struct {
	client *redis.Client
	prefix string
}

// New wraps an already-connected Redis client. prefix namespaces keys
// (defaults to "dispatcher:" if empty), mirroring the teacher's KeyPrefix.
func New(client *redis.Client, prefix string) *Queue {
	if prefix == "" {
		prefix = "dispatcher:"
	}
	return &Queue{client: client, prefix: prefix}
}

func (q *Queue) listKey(queueName string) string { return q.prefix + "list:" + queueName }
func (q *Queue) jobKey(jobKey string) string     { return q.prefix + "job:" + jobKey }
func (q *Queue) scheduleKey(jobKey string) string { return q.prefix + "schedule:" + jobKey }

// Push appends record to queueName and persists it by JobKey.
func (q *Queue) Push(ctx context.Context, queueName string, record *dispatcher.JobRecord) error {
	record.Queue = queueName
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	if err := q.client.Set(ctx, q.jobKey(record.JobKey), data, 0).Err(); err != nil {
		return fmt.Errorf("save job record: %w", err)
	}
	return q.client.RPush(ctx, q.listKey(queueName), record.JobKey).Err()
}

// Pop removes and returns the next record from queueName, blocking up to
// timeout via BLPOP. Returns (nil, nil) on timeout.
func (q *Queue) Pop(ctx context.Context, queueName string, timeout time.Duration) (*dispatcher.JobRecord, error) {
	result, err := q.client.BLPop(ctx, timeout, q.listKey(queueName)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if len(result) < 2 {
		return nil, nil
	}
	return q.Get(ctx, result[1])
}

// Save persists record's current state without touching any queue list.
func (q *Queue) Save(ctx context.Context, record *dispatcher.JobRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	return q.client.Set(ctx, q.jobKey(record.JobKey), data, 0).Err()
}

// Get loads a job record by key, regardless of queue membership.
func (q *Queue) Get(ctx context.Context, jobKey string) (*dispatcher.JobRecord, error) {
	data, err := q.client.Get(ctx, q.jobKey(jobKey)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job record: %w", err)
	}
	var record dispatcher.JobRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshal job record: %w", err)
	}
	return &record, nil
}

// All returns every known job record by scanning the prefix's job keys.
func (q *Queue) All(ctx context.Context) ([]*dispatcher.JobRecord, error) {
	var out []*dispatcher.JobRecord
	pattern := q.prefix + "job:*"
	iter := q.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		data, err := q.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scan job records: %w", err)
		}
		var record dispatcher.JobRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("unmarshal job record: %w", err)
		}
		out = append(out, &record)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan job records: %w", err)
	}
	return out, nil
}

// SaveSchedule persists a recurring task registration.
func (q *Queue) SaveSchedule(ctx context.Context, record *dispatcher.ScheduleRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal schedule record: %w", err)
	}
	return q.client.Set(ctx, q.scheduleKey(record.JobKey), data, 0).Err()
}

// GetSchedule loads a schedule record by key.
func (q *Queue) GetSchedule(ctx context.Context, jobKey string) (*dispatcher.ScheduleRecord, error) {
	data, err := q.client.Get(ctx, q.scheduleKey(jobKey)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load schedule record: %w", err)
	}
	var record dispatcher.ScheduleRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshal schedule record: %w", err)
	}
	return &record, nil
}

// DeleteSchedule removes a schedule record, reporting whether it existed.
func (q *Queue) DeleteSchedule(ctx context.Context, jobKey string) (bool, error) {
	n, err := q.client.Del(ctx, q.scheduleKey(jobKey)).Result()
	if err != nil {
		return false, fmt.Errorf("delete schedule record: %w", err)
	}
	return n > 0, nil
}

var _ dispatcher.Queue = (*Queue)(nil)
