// Package cron is the time-driven half of the scheduler: a single tick loop
// that fires registered jobs against a 6-field (with seconds) cron
// expression, parsed by github.com/robfig/cron/v3.
//
// The Engine does not persist schedules or coordinate across replicas; it
// holds its job set in memory for the lifetime of the process.
package cron

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	cronlib "github.com/robfig/cron/v3"

	"oss.nandlabs.io/dispatch/errutils"
	"oss.nandlabs.io/dispatch/l3"
	"oss.nandlabs.io/dispatch/managers"
)

var logger = l3.Get()

// Sentinel errors returned by Engine operations.
var (
	ErrNotFound        = errors.New("cron: scheduled job not found")
	ErrInvalidSchedule = errors.New("cron: invalid cron expression")
	ErrAlreadyRunning  = errors.New("cron: engine already running")
	ErrNotRunning      = errors.New("cron: engine not running")
)

// stopGracePeriod bounds how long Stop waits for the tick loop to notice the
// stop signal and exit before giving up.
const stopGracePeriod = 5 * time.Second

// JobFunc is the unit of work a scheduled job invokes when it fires.
type JobFunc func() error

// State is the observable state of a scheduled job at the instant it was
// last inspected.
type State int

const (
	// Idle means the job is not currently firing.
	Idle State = iota
	// Firing means the tick loop is inside this job's handler right now.
	Firing
)

func (s State) String() string {
	if s == Firing {
		return "firing"
	}
	return "idle"
}

// ScheduledJob is the read-only projection of a registered job returned by
// Get and List. It is a copy; mutating it has no effect on the engine.
type ScheduledJob struct {
	ID         string
	Expression string
	Enabled    bool
	CatchUp    bool
	State      State
	CreatedAt  time.Time
	NextFire   *time.Time
	LastFire   *time.Time
}

// entry is the engine's internal record for a single scheduled job. mu
// guards every field below it; the engine never holds mu while invoking fn.
type entry struct {
	id         string
	expression string
	schedule   cronlib.Schedule
	fn         JobFunc
	createdAt  time.Time

	mu       sync.Mutex
	enabled  bool
	catchUp  bool
	state    State
	nextFire time.Time
	lastFire time.Time
}

func (e *entry) snapshot() *ScheduledJob {
	e.mu.Lock()
	defer e.mu.Unlock()
	sj := &ScheduledJob{
		ID:         e.id,
		Expression: e.expression,
		Enabled:    e.enabled,
		CatchUp:    e.catchUp,
		State:      e.state,
		CreatedAt:  e.createdAt,
	}
	if !e.nextFire.IsZero() {
		nf := e.nextFire
		sj.NextFire = &nf
	}
	if !e.lastFire.IsZero() {
		lf := e.lastFire
		sj.LastFire = &lf
	}
	return sj
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithTickInterval overrides the default ~1s tick interval. Intended for
// tests that want a faster loop; production use should leave the default.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tickInterval = d
		}
	}
}

// Engine is the cron tick loop. The zero value is not usable; construct one
// with New.
type Engine struct {
	jobs         managers.ItemManager[*entry]
	parser       cronlib.Parser
	tickInterval time.Duration

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New constructs an Engine. It does not start the tick loop; call Start.
func New(opts ...Option) *Engine {
	e := &Engine{
		jobs:         managers.NewItemManager[*entry](),
		parser:       cronlib.NewParser(cronlib.Second | cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow),
		tickInterval: time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Add registers a new scheduled job and returns its generated id. expression
// is a 6-field cron expression including seconds; a 5-field expression is
// also accepted, with seconds fixed at 0 (see parseSchedule). catchUp controls
// whether a single make-up fire happens when the engine detects it has
// fallen more than one schedule period behind (see Engine.prepare).
func (e *Engine) Add(expression string, fn JobFunc, enabled bool, catchUp bool) (string, error) {
	if fn == nil {
		return "", errors.New("cron: fn must not be nil")
	}
	schedule, err := e.parseSchedule(expression)
	if err != nil {
		return "", err
	}
	now := time.Now()
	id := uuid.NewString()
	en := &entry{
		id:         id,
		expression: expression,
		schedule:   schedule,
		fn:         fn,
		createdAt:  now,
		enabled:    enabled,
		catchUp:    catchUp,
		state:      Idle,
		nextFire:   schedule.Next(now),
	}
	e.jobs.Register(id, en)
	logger.InfoF("cron: registered job %s (%q), enabled=%v catchUp=%v", id, expression, enabled, catchUp)
	return id, nil
}

// parseSchedule parses expression as a 6-field (with seconds) cron
// expression. Most hand-written schedules come from 5-field crontab syntax,
// so a parse failure is retried once with a leading "0 " seconds field
// before giving up. If both attempts fail, their errors are aggregated into
// an errutils.MultiError and returned wrapped in ErrInvalidSchedule.
func (e *Engine) parseSchedule(expression string) (cronlib.Schedule, error) {
	schedule, err := e.parser.Parse(expression)
	if err == nil {
		return schedule, nil
	}
	merr := errutils.NewMultiErr(err)
	fallback, fErr := e.parser.Parse("0 " + expression)
	if fErr == nil {
		return fallback, nil
	}
	merr.Add(fErr)
	return nil, errors.Join(ErrInvalidSchedule, merr)
}

// Remove unregisters a scheduled job. A currently-firing invocation is not
// interrupted; it simply won't be found by Get/List once it finishes.
func (e *Engine) Remove(id string) error {
	if e.jobs.Get(id) == nil {
		return ErrNotFound
	}
	e.jobs.Unregister(id)
	logger.InfoF("cron: unregistered job %s", id)
	return nil
}

// SetEnabled toggles whether a job fires on the tick loop. Disabling a job
// does not clear its nextFire; on the next tick nextFire is resynchronized
// past "now" so a later re-enable does not trigger a burst of catch-up fires.
func (e *Engine) SetEnabled(id string, enabled bool) error {
	en := e.jobs.Get(id)
	if en == nil {
		return ErrNotFound
	}
	en.mu.Lock()
	en.enabled = enabled
	en.mu.Unlock()
	return nil
}

// Get returns a snapshot of a scheduled job, or ErrNotFound.
func (e *Engine) Get(id string) (*ScheduledJob, error) {
	en := e.jobs.Get(id)
	if en == nil {
		return nil, ErrNotFound
	}
	return en.snapshot(), nil
}

// List returns a snapshot of every scheduled job, in no particular order.
func (e *Engine) List() []*ScheduledJob {
	items := e.jobs.Items()
	out := make([]*ScheduledJob, 0, len(items))
	for _, en := range items {
		out = append(out, en.snapshot())
	}
	return out
}

// Start begins the tick loop. Calling Start twice without an intervening
// Stop returns ErrAlreadyRunning.
func (e *Engine) Start() error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	go e.loop()
	logger.Info("cron: engine started")
	return nil
}

// Stop signals the tick loop to exit and waits up to a bounded grace period
// for it to do so. In-flight handler invocations are not cancelled.
func (e *Engine) Stop() error {
	if !e.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}
	close(e.stopCh)
	select {
	case <-e.doneCh:
	case <-time.After(stopGracePeriod):
		logger.WarnF("cron: tick loop did not exit within %s", stopGracePeriod)
	}
	logger.Info("cron: engine stopped")
	return nil
}

func (e *Engine) loop() {
	defer close(e.doneCh)
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case now := <-ticker.C:
			e.tick(now)
		}
	}
}

// tick scans the job set once and fires everything due. It never holds an
// entry's mutex while invoking the job's handler.
func (e *Engine) tick(now time.Time) {
	for _, en := range e.jobs.Items() {
		fireCount, fn := e.prepare(en, now)
		for i := 0; i < fireCount; i++ {
			if err := invoke(fn); err != nil {
				logger.ErrorF("cron: job %s handler error: %v", en.id, err)
			}
		}
		if fireCount > 0 {
			en.mu.Lock()
			en.state = Idle
			en.lastFire = now
			en.mu.Unlock()
		}
	}
}

// prepare decides how many times (0, 1, or 2) an entry should fire on this
// tick, advances nextFire, and flips state to Firing if it is about to
// invoke the handler. It returns the handler to call; the caller invokes it
// outside of en.mu.
func (e *Engine) prepare(en *entry, now time.Time) (fireCount int, fn JobFunc) {
	en.mu.Lock()
	defer en.mu.Unlock()

	due := !en.nextFire.IsZero() && !en.nextFire.After(now)
	if !en.enabled {
		if due {
			en.nextFire = en.schedule.Next(now)
		}
		return 0, nil
	}
	if !due {
		return 0, nil
	}

	fireCount = 1
	if en.catchUp {
		if next2 := en.schedule.Next(en.nextFire); !next2.After(now) {
			// More than one occurrence has been missed since the last tick;
			// fire once for the gap in addition to the regular due fire.
			fireCount = 2
		}
	}
	en.nextFire = en.schedule.Next(now)
	en.state = Firing
	fn = en.fn
	return fireCount, fn
}

func invoke(fn JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("cron: handler panicked")
		}
	}()
	return fn()
}
