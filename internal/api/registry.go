package api

import (
	"context"
	"sort"
	"sync"
	"time"

	"quantbt/internal/errors"
)

// Run lifecycle states as reported by the registry.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// minPushInterval throttles progress fan-out to roughly ten events per
// second per run; terminal events always go out.
const minPushInterval = 100 * time.Millisecond

// finishedRetention is how long finished runs stay queryable in the
// registry. Their full results live in the warehouse.
const finishedRetention = time.Hour

// RunState is the registry's view of one launched run.
type RunState struct {
	RunID       string     `json:"run_id"`
	Strategy    string     `json:"strategy"`
	Status      string     `json:"status"`
	Done        int        `json:"done"`
	Total       int        `json:"total"`
	CurrentDate time.Time  `json:"current_date"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ProgressEvent is one update pushed to run subscribers.
type ProgressEvent struct {
	RunID       string    `json:"run_id"`
	Status      string    `json:"status"`
	Done        int       `json:"done"`
	Total       int       `json:"total"`
	CurrentDate time.Time `json:"current_date"`
	Error       string    `json:"error,omitempty"`
}

// Registry tracks launched runs and fans progress out to subscribers.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*runEntry
}

type runEntry struct {
	state       RunState
	cancel      context.CancelFunc
	subscribers map[int]chan ProgressEvent
	nextSub     int
	lastPush    time.Time
}

// NewRegistry creates an empty run registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*runEntry)}
}

// Add registers a newly launched run in the running state.
func (r *Registry) Add(runID, strategy string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictFinishedLocked()
	r.runs[runID] = &runEntry{
		state: RunState{
			RunID:     runID,
			Strategy:  strategy,
			Status:    RunStatusRunning,
			StartedAt: time.Now(),
		},
		cancel:      cancel,
		subscribers: make(map[int]chan ProgressEvent),
	}
}

// Progress records one committed period and pushes a throttled event.
func (r *Registry) Progress(runID string, done, total int, date time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[runID]
	if !ok || e.state.Status != RunStatusRunning {
		return
	}
	e.state.Done = done
	e.state.Total = total
	e.state.CurrentDate = date

	now := time.Now()
	if done < total && now.Sub(e.lastPush) < minPushInterval {
		return
	}
	e.lastPush = now
	r.broadcastLocked(e, false)
}

// Complete marks a run finished successfully.
func (r *Registry) Complete(runID string) {
	r.finish(runID, RunStatusCompleted, "")
}

// Fail marks a run failed, or cancelled when the failure came from a
// cancellation request.
func (r *Registry) Fail(runID, errMsg string, cancelled bool) {
	status := RunStatusFailed
	if cancelled {
		status = RunStatusCancelled
	}
	r.finish(runID, status, errMsg)
}

func (r *Registry) finish(runID, status, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[runID]
	if !ok || e.state.Status != RunStatusRunning {
		return
	}
	now := time.Now()
	e.state.Status = status
	e.state.Error = errMsg
	e.state.FinishedAt = &now
	r.broadcastLocked(e, true)

	// 终态之后关闭所有订阅通道
	for id, ch := range e.subscribers {
		close(ch)
		delete(e.subscribers, id)
	}
}

// Get returns a snapshot of one run's state.
func (r *Registry) Get(runID string) (RunState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.runs[runID]
	if !ok {
		return RunState{}, errors.NewAppError(errors.ErrCodeRunNotFound, "run "+runID+" not found", nil)
	}
	return e.state, nil
}

// Running reports whether the run is known and still in flight.
func (r *Registry) Running(runID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.runs[runID]
	return ok && e.state.Status == RunStatusRunning
}

// Active returns snapshots of all in-flight runs, newest first.
func (r *Registry) Active() []RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]RunState, 0)
	for _, e := range r.runs {
		if e.state.Status == RunStatusRunning {
			active = append(active, e.state)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if !active[i].StartedAt.Equal(active[j].StartedAt) {
			return active[i].StartedAt.After(active[j].StartedAt)
		}
		return active[i].RunID < active[j].RunID
	})
	return active
}

// Cancel requests cancellation of an in-flight run. The run transitions
// to cancelled once its engine observes the context.
func (r *Registry) Cancel(runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[runID]
	if !ok {
		return errors.NewAppError(errors.ErrCodeRunNotFound, "run "+runID+" not found", nil)
	}
	if e.state.Status != RunStatusRunning {
		return errors.NewInvalidInputError("运行已结束, 不能取消")
	}
	e.cancel()
	return nil
}

// Remove drops a finished run from the registry. Running entries are
// left alone.
func (r *Registry) Remove(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[runID]
	if !ok || e.state.Status == RunStatusRunning {
		return false
	}
	delete(r.runs, runID)
	return true
}

// Subscribe returns a progress event channel for one run plus an
// unsubscribe function. The current state is delivered immediately;
// finished runs get that single snapshot and a closed channel.
func (r *Registry) Subscribe(runID string) (<-chan ProgressEvent, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[runID]
	if !ok {
		return nil, nil, errors.NewAppError(errors.ErrCodeRunNotFound, "run "+runID+" not found", nil)
	}

	ch := make(chan ProgressEvent, 64)
	ch <- stateEvent(&e.state)
	if e.state.Status != RunStatusRunning {
		close(ch)
		return ch, func() {}, nil
	}

	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = ch

	unsub := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		entry, ok := r.runs[runID]
		if !ok {
			return
		}
		if c, ok := entry.subscribers[id]; ok {
			delete(entry.subscribers, id)
			close(c)
		}
	}
	return ch, unsub, nil
}

// broadcastLocked pushes the current state to every subscriber without
// blocking; slow consumers miss intermediate updates, but a terminal
// event evicts the oldest queued update so it always lands.
func (r *Registry) broadcastLocked(e *runEntry, terminal bool) {
	ev := stateEvent(&e.state)
	for _, ch := range e.subscribers {
		select {
		case ch <- ev:
			continue
		default:
		}
		if !terminal {
			continue
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

func (r *Registry) evictFinishedLocked() {
	cutoff := time.Now().Add(-finishedRetention)
	for id, e := range r.runs {
		if e.state.Status == RunStatusRunning {
			continue
		}
		if e.state.FinishedAt != nil && e.state.FinishedAt.Before(cutoff) {
			delete(r.runs, id)
		}
	}
}

func stateEvent(s *RunState) ProgressEvent {
	return ProgressEvent{
		RunID:       s.RunID,
		Status:      s.Status,
		Done:        s.Done,
		Total:       s.Total,
		CurrentDate: s.CurrentDate,
		Error:       s.Error,
	}
}
