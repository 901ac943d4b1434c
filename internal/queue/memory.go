package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults for NewMemory.
const (
	DefaultCapacity = 100
	DefaultHistory  = 200
)

// Memory is an in-process queue. Intake enqueues into it and the poller
// drains it; finished jobs are kept for status queries up to a history limit.
type Memory struct {
	mu       sync.Mutex
	capacity int
	history  int
	jobs     map[string]*Job
	order    []string // jobs not yet finished, in arrival order
	finished []string // oldest first
	now      func() time.Time
}

// NewMemory creates a queue holding at most capacity unfinished jobs.
func NewMemory(capacity, history int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if history < 0 {
		history = DefaultHistory
	}
	return &Memory{
		capacity: capacity,
		history:  history,
		jobs:     make(map[string]*Job),
		now:      time.Now,
	}
}

// Enqueue stores job as PENDING and returns its 1-based queue position. An
// empty ID is filled with a new UUID.
func (m *Memory) Enqueue(job Job) (Job, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.order) >= m.capacity {
		return Job{}, 0, ErrQueueFull
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if _, exists := m.jobs[job.ID]; exists {
		return Job{}, 0, fmt.Errorf("%w: job %s already queued", ErrInvalidTransition, job.ID)
	}
	now := m.now()
	job.Status = StatusPending
	job.Error = ""
	job.CreatedAt, job.UpdatedAt = now, now

	stored := job
	m.jobs[job.ID] = &stored
	m.order = append(m.order, job.ID)
	return job, len(m.order), nil
}

// FetchPending implements Queue.
func (m *Memory) FetchPending(context.Context) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Job
	for _, id := range m.order {
		if j := m.jobs[id]; j.Status == StatusPending {
			out = append(out, *j)
		}
	}
	return out, nil
}

// MarkPrinting implements Queue.
func (m *Memory) MarkPrinting(_ context.Context, id string) error {
	return m.transition(id, StatusPrinting, "")
}

// MarkCompleted implements Queue.
func (m *Memory) MarkCompleted(_ context.Context, id string) error {
	return m.transition(id, StatusCompleted, "")
}

// MarkFailed implements Queue.
func (m *Memory) MarkFailed(_ context.Context, id string, reason string) error {
	return m.transition(id, StatusFailed, reason)
}

func (m *Memory) transition(id string, to Status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return updateErr(id, to, ErrNotFound)
	}
	if !CanTransition(j.Status, to) {
		return updateErr(id, to, transitionErr(j.Status, to))
	}
	j.Status = to
	j.Error = reason
	j.UpdatedAt = m.now()

	if to.Terminal() {
		m.retire(id)
	}
	return nil
}

func (m *Memory) retire(id string) {
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.finished = append(m.finished, id)
	for len(m.finished) > m.history {
		delete(m.jobs, m.finished[0])
		m.finished = m.finished[1:]
	}
}

// Get returns a copy of the job with the given id.
func (m *Memory) Get(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// List returns unfinished jobs in arrival order followed by retained
// finished jobs, newest first.
func (m *Memory) List() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Job, 0, len(m.order)+len(m.finished))
	for _, id := range m.order {
		out = append(out, *m.jobs[id])
	}
	for i := len(m.finished) - 1; i >= 0; i-- {
		out = append(out, *m.jobs[m.finished[i]])
	}
	return out
}

// Len is the number of unfinished jobs.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// Capacity is the maximum number of unfinished jobs.
func (m *Memory) Capacity() int { return m.capacity }
