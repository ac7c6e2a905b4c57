// Package registry is the API-driven half of the scheduler: job definitions
// keyed by id, an execution-history store, and detached-task execution with
// at-most-once accounting per invocation.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"oss.nandlabs.io/dispatch/collections"
	"oss.nandlabs.io/dispatch/l3"
	"oss.nandlabs.io/dispatch/managers"
	"oss.nandlabs.io/dispatch/pool"
)

var logger = l3.Get()

// Registry holds job definitions and their execution history. The zero
// value is not usable; construct one with New.
type Registry struct {
	cfg Config

	jobs       managers.ItemManager[*jobEntry]
	executions managers.ItemManager[*execEntry]

	orderMu   sync.RWMutex
	execOrder map[string]collections.Queue[string] // jobID -> execution ids, oldest first

	concurrency pool.Pool[struct{}]
}

// New constructs a Registry. If cfg.MaxConcurrentJobs is non-zero, a token
// pool gates runJob so that no more than that many executions are Running
// at once.
func New(cfg Config) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Registry{
		cfg:        cfg,
		jobs:       managers.NewItemManager[*jobEntry](),
		executions: managers.NewItemManager[*execEntry](),
		execOrder:  make(map[string]collections.Queue[string]),
	}
	if cfg.MaxConcurrentJobs > 0 {
		p, err := pool.NewPool[struct{}](
			func() (struct{}, error) { return struct{}{}, nil },
			func(struct{}) error { return nil },
			0, int(cfg.MaxConcurrentJobs), 0,
		)
		if err != nil {
			return nil, fmt.Errorf("registry: building concurrency pool: %w", err)
		}
		r.concurrency = p
	}
	return r, nil
}

// Register creates a new Job and returns its id.
func (r *Registry) Register(name, description string, handler HandlerFunc, enabled bool) (string, error) {
	if !r.cfg.Enabled {
		return "", ErrDisabled
	}
	if handler == nil {
		return "", fmt.Errorf("registry: handler must not be nil")
	}
	now := time.Now()
	id := uuid.NewString()
	je := &jobEntry{
		id:          id,
		name:        name,
		description: description,
		handler:     handler,
		createdAt:   now,
		enabled:     enabled,
		updatedAt:   now,
	}
	r.jobs.Register(id, je)
	logger.InfoF("registry: registered job %s (%q)", id, name)
	return id, nil
}

// Unregister removes a Job and purges its execution history.
func (r *Registry) Unregister(jobID string) error {
	if r.jobs.Get(jobID) == nil {
		return ErrNotFound
	}
	r.jobs.Unregister(jobID)

	r.orderMu.Lock()
	queue := r.execOrder[jobID]
	delete(r.execOrder, jobID)
	r.orderMu.Unlock()

	purged := 0
	if queue != nil {
		for it := queue.Iterator(); it.HasNext(); {
			r.executions.Unregister(it.Next())
			purged++
		}
	}
	logger.InfoF("registry: unregistered job %s (%d executions purged)", jobID, purged)
	return nil
}

// SetEnabled flips a Job's enabled flag and bumps its UpdatedAt.
func (r *Registry) SetEnabled(jobID string, enabled bool) error {
	je := r.jobs.Get(jobID)
	if je == nil {
		return ErrNotFound
	}
	je.mu.Lock()
	je.enabled = enabled
	je.updatedAt = time.Now()
	je.mu.Unlock()
	return nil
}

// GetJob returns a Job projection, or ErrNotFound.
func (r *Registry) GetJob(jobID string) (*Job, error) {
	je := r.jobs.Get(jobID)
	if je == nil {
		return nil, ErrNotFound
	}
	return je.snapshot(), nil
}

// ListJobs returns every Job projection. When enabledFilter is non-nil only
// jobs whose Enabled flag matches it are returned.
func (r *Registry) ListJobs(enabledFilter *bool) []*Job {
	items := r.jobs.Items()
	out := make([]*Job, 0, len(items))
	for _, je := range items {
		snap := je.snapshot()
		if enabledFilter != nil && snap.Enabled != *enabledFilter {
			continue
		}
		out = append(out, snap)
	}
	return out
}

// RunJob is the core primitive: it validates, creates a Pending execution,
// and spawns a detached task that runs the handler. It returns as soon as
// the Pending record is stored — it never awaits the handler.
func (r *Registry) RunJob(jobID string, params any) (string, error) {
	if !r.cfg.Enabled {
		return "", ErrDisabled
	}
	je := r.jobs.Get(jobID)
	if je == nil {
		return "", ErrNotFound
	}
	je.mu.Lock()
	enabled := je.enabled
	je.mu.Unlock()
	if !enabled {
		return "", ErrDisabled
	}

	var token struct{}
	if r.concurrency != nil {
		var err error
		token, err = r.concurrency.Checkout()
		if err != nil {
			return "", ErrOverloaded
		}
	}

	execID := uuid.NewString()
	exec := &execEntry{
		id:         execID,
		jobID:      jobID,
		parameters: params,
		startTime:  time.Now(),
		status:     Pending,
	}
	r.executions.Register(execID, exec)
	r.appendExecution(jobID, execID)

	go r.runDetached(je, exec, token)
	return execID, nil
}

// GetExecution returns a JobExecution projection, or ErrNotFound.
func (r *Registry) GetExecution(executionID string) (*JobExecution, error) {
	ee := r.executions.Get(executionID)
	if ee == nil {
		return nil, ErrNotFound
	}
	return ee.snapshot(), nil
}

// ListExecutionsForJob returns the job's execution history, most recent
// first. Returns an empty slice for an unknown or history-less job.
func (r *Registry) ListExecutionsForJob(jobID string) []*JobExecution {
	r.orderMu.RLock()
	queue := r.execOrder[jobID]
	var ids []string
	if queue != nil {
		for it := queue.Iterator(); it.HasNext(); {
			ids = append(ids, it.Next())
		}
	}
	r.orderMu.RUnlock()

	out := make([]*JobExecution, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if ee := r.executions.Get(ids[i]); ee != nil {
			out = append(out, ee.snapshot())
		}
	}
	return out
}

// appendExecution records execID as the newest execution for jobID and
// evicts the oldest ones FIFO once MaxHistorySize is exceeded.
func (r *Registry) appendExecution(jobID, execID string) {
	r.orderMu.Lock()
	queue := r.execOrder[jobID]
	if queue == nil {
		queue = collections.NewSyncQueue[string]()
		r.execOrder[jobID] = queue
	}
	queue.Enqueue(execID)

	var evict []string
	for r.cfg.MaxHistorySize > 0 && uint(queue.Size()) > r.cfg.MaxHistorySize {
		id, err := queue.Dequeue()
		if err != nil {
			break
		}
		evict = append(evict, id)
	}
	r.orderMu.Unlock()

	for _, id := range evict {
		r.executions.Unregister(id)
	}
}

// runDetached runs je's handler against exec's parameters and finalizes the
// execution's terminal state. It holds no Registry lock while the handler
// is running.
func (r *Registry) runDetached(je *jobEntry, exec *execEntry, token struct{}) {
	defer func() {
		if r.concurrency != nil {
			r.concurrency.Checkin(token)
		}
	}()

	exec.mu.Lock()
	exec.status = Running
	exec.mu.Unlock()

	ctx := context.Background()
	var cancel context.CancelFunc
	if r.cfg.JobTimeoutSeconds > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.JobTimeoutSeconds)*time.Second)
		defer cancel()
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := invoke(ctx, je.handler, exec.parameters)
		done <- outcome{res, err}
	}()

	var res any
	var err error
	select {
	case o := <-done:
		res, err = o.result, o.err
	case <-ctx.Done():
		// The handler keeps running (documented, acceptable leak); the
		// execution is finalized as Failed("timeout") regardless.
		err = fmt.Errorf("timeout")
	}

	now := time.Now()
	exec.mu.Lock()
	exec.endTime = now
	if err != nil {
		exec.status = Failed
		exec.errMsg = err.Error()
	} else {
		exec.status = Completed
		exec.result = res
	}
	exec.mu.Unlock()

	je.mu.Lock()
	je.lastExecutionID = exec.id
	je.mu.Unlock()

	if err != nil {
		logger.WarnF("registry: execution %s (job %s) failed: %v", exec.id, je.id, err)
	} else {
		logger.DebugF("registry: execution %s (job %s) completed", exec.id, je.id)
	}
}

// invoke calls fn, converting a panic into an error so it never escapes the
// detached task.
func invoke(ctx context.Context, fn HandlerFunc, params any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx, params)
}
