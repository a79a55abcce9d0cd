// Package opstate tracks recent LabBook-mutating operations in a bounded
// in-memory ring, adapted from the teacher's generic service-operation
// tracker; the CLI records its new, publish and sync commands here — useful
// for a CLI "status" view.
package opstate

import (
	"sync"
	"time"
)

// Status is the lifecycle state of one tracked operation.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Operation records one LabBook call: which LabBook, which operation name
// ("new", "publish", "sync", "insert_file", ...), and its outcome.
type Operation struct {
	ID          string
	LabBookKey  string
	Name        string
	Status      Status
	StartedAt   time.Time
	CompletedAt *time.Time
	Duration    string
	Error       string
}

// Stats is an aggregate snapshot over the currently tracked operations.
type Stats struct {
	Total       int
	ByStatus    map[Status]int
	ByOperation map[string]int
}

// Tracker holds the last maxOperations operations across all LabBooks,
// evicting the oldest when full.
type Tracker struct {
	mu            sync.RWMutex
	operations    map[string]*Operation
	order         []string
	maxOperations int
}

// New returns a Tracker retaining at most maxOperations records (0 means the
// documented default of 1000).
func New(maxOperations int) *Tracker {
	if maxOperations == 0 {
		maxOperations = 1000
	}
	return &Tracker{
		operations:    make(map[string]*Operation),
		maxOperations: maxOperations,
	}
}

// Start begins tracking id as running against labbookKey under the given
// operation name.
func (t *Tracker) Start(id, labbookKey, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.order) >= t.maxOperations {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.operations, oldest)
	}

	t.operations[id] = &Operation{
		ID:         id,
		LabBookKey: labbookKey,
		Name:       name,
		Status:     StatusRunning,
		StartedAt:  time.Now(),
	}
	t.order = append(t.order, id)
}

// Finish records the outcome of id; err nil means success.
func (t *Tracker) Finish(id string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.operations[id]
	if !ok {
		return
	}
	now := time.Now()
	op.CompletedAt = &now
	op.Duration = now.Sub(op.StartedAt).String()
	if err != nil {
		op.Status = StatusFailed
		op.Error = err.Error()
	} else {
		op.Status = StatusCompleted
	}
}

// Get returns a copy of the tracked operation, or nil if id is unknown.
func (t *Tracker) Get(id string) *Operation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	op, ok := t.operations[id]
	if !ok {
		return nil
	}
	cp := *op
	return &cp
}

// List returns a copy of every tracked operation, oldest first.
func (t *Tracker) List() []*Operation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Operation, 0, len(t.order))
	for _, id := range t.order {
		cp := *t.operations[id]
		out = append(out, &cp)
	}
	return out
}

// Summarize aggregates the currently tracked operations.
func (t *Tracker) Summarize() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := Stats{ByStatus: make(map[Status]int), ByOperation: make(map[string]int)}
	for _, op := range t.operations {
		stats.Total++
		stats.ByStatus[op.Status]++
		stats.ByOperation[op.Name]++
	}
	return stats
}
