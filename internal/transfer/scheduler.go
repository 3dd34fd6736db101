package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// Scheduler errors.
var (
	ErrJobRunning = errors.New("transfer: job is running")
	ErrUnknownJob = errors.New("transfer: job is not queued")
)

// Runner performs the byte transfer of a started job. It should return
// when the transfer ends or ctx is canceled, and observe Job.IsPaused.
type Runner interface {
	Run(ctx context.Context, j *Job) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, j *Job) error

func (f RunnerFunc) Run(ctx context.Context, j *Job) error { return f(ctx, j) }

// Hooks are the direction-specific steps of the pipeline.
type Hooks interface {
	// Provision negotiates the job's target with the API. An error marks
	// the job failed and moves it to finished.
	Provision(ctx context.Context, j *Job) error
	// Remove releases a batch of jobs leaving the scheduler.
	Remove(ctx context.Context, jobs []*Job)
}

// Completer is implemented by hooks that have work to do after the runner
// returns successfully, such as creating the node of an upload.
type Completer interface {
	Complete(ctx context.Context, j *Job) error
}

// Options configures a Scheduler.
type Options struct {
	// Name labels log lines and status events.
	Name string
	// MaxRunning caps the running set. Values below 1 are treated as 1.
	MaxRunning int
	// SortStartQueue keeps the start queue ordered by name.
	SortStartQueue bool

	Hooks     Hooks
	Runner    Runner
	Presenter Presenter
	Pool      *Pool
	Logger    *slog.Logger
}

// preTask is a deferred unit of pre-processing work.
type preTask struct {
	fn func(ctx context.Context) error
}

// Scheduler moves jobs through the preprocess, provision, waitstart,
// running, finished and remove queues. A job is in exactly one of them at a
// time. Run drives a single dispatch loop that hands each stage's drain to
// the worker pool, at most one drain per stage at once.
type Scheduler struct {
	name      string
	hooks     Hooks
	runner    Runner
	presenter Presenter
	pool      *Pool
	logger    *slog.Logger

	preprocess queue[*preTask]
	provision  queue[*Job]
	waitstart  queue[*Job]
	running    queue[*Job]
	finished   queue[*Job]
	remove     queue[*Job]

	preprocessing atomic.Bool
	provisioning  atomic.Bool
	starting      atomic.Bool
	removing      atomic.Bool

	// Jobs popped by a drain but not yet pushed to their next queue are
	// still counted in their stage.
	provisionInFlight atomic.Int32
	startInFlight     atomic.Int32

	preMu    sync.Mutex
	preCount int

	maxRunning atomic.Int32
	sortStart  atomic.Bool

	// allFinished is owned by the Run goroutine.
	allFinished bool

	notify chan struct{}
	jobs   sync.WaitGroup
}

// NewScheduler creates a scheduler. Nothing moves until Run is called.
func NewScheduler(opts Options) *Scheduler {
	s := &Scheduler{
		name:      opts.Name,
		hooks:     opts.Hooks,
		runner:    opts.Runner,
		presenter: opts.Presenter,
		pool:      opts.Pool,
		logger:    opts.Logger,
		notify:    make(chan struct{}, 1),
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	if s.presenter == nil {
		s.presenter = NopPresenter{}
	}

	s.logger = s.logger.With(slog.String("scheduler", s.name))
	s.SetMaxRunning(opts.MaxRunning)
	s.sortStart.Store(opts.SortStartQueue)

	return s
}

// Run dispatches stage work until ctx is canceled, then waits for started
// jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", slog.Int("max_running", s.MaxRunning()))

	for {
		s.dispatch(ctx)
		s.updateView()

		select {
		case <-ctx.Done():
			s.jobs.Wait()
			s.logger.Info("scheduler stopped")

			return fmt.Errorf("transfer: scheduler %s: %w", s.name, ctx.Err())
		case <-s.notify:
		}
	}
}

// Notify wakes the dispatch loop. It never blocks; wake-ups coalesce.
func (s *Scheduler) Notify() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatch(ctx context.Context) {
	if s.preprocess.Len() > 0 && s.preprocessing.CompareAndSwap(false, true) {
		s.submitStage(ctx, "preprocess", &s.preprocessing, s.drainPreprocess)
	}

	if s.provision.Len() > 0 && s.provisioning.CompareAndSwap(false, true) {
		s.allFinished = false
		s.submitStage(ctx, "provision", &s.provisioning, s.drainProvision)
	}

	if s.remove.Len() > 0 && s.removing.CompareAndSwap(false, true) {
		s.submitStage(ctx, "remove", &s.removing, s.drainRemove)
	}

	if s.waitstart.Len() > 0 && s.running.Len() < s.MaxRunning() && s.starting.CompareAndSwap(false, true) {
		s.submitStage(ctx, "start", &s.starting, s.drainStart)
	}
}

// submitStage hands drain to the pool. The stage flag is cleared and the
// loop notified when the drain returns, even if it panics.
func (s *Scheduler) submitStage(ctx context.Context, stage string, busy *atomic.Bool, drain func(ctx context.Context)) {
	err := s.pool.Submit(ctx, func(context.Context) {
		defer s.Notify()
		defer busy.Store(false)

		drain(ctx)
	})
	if err != nil {
		busy.Store(false)

		if ctx.Err() == nil {
			s.logger.Error("scheduler: cannot dispatch stage",
				slog.String("stage", stage),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *Scheduler) drainPreprocess(ctx context.Context) {
	for {
		t, ok := s.preprocess.Pop()
		if !ok {
			return
		}

		if err := t.fn(ctx); err != nil {
			s.logger.Warn("preprocessing failed", slog.String("error", err.Error()))
		}
	}
}

func (s *Scheduler) drainProvision(ctx context.Context) {
	for ctx.Err() == nil {
		s.provisionInFlight.Add(1)

		j, ok := s.provision.Pop()
		if !ok {
			s.provisionInFlight.Add(-1)
			return
		}

		s.provisionJob(ctx, j)
		s.provisionInFlight.Add(-1)
	}
}

func (s *Scheduler) provisionJob(ctx context.Context, j *Job) {
	s.logger.Debug("provisioning", slog.String("id", j.ID), slog.String("source", j.Source))

	if err := s.safeProvision(ctx, j); err != nil {
		s.logger.Warn("provisioning failed",
			slog.String("id", j.ID),
			slog.String("name", j.Name()),
			slog.String("error", err.Error()),
		)

		j.SetError(err)
		s.toFinished(j)

		return
	}

	j.setState(StateWaiting)
	s.waitstart.Push(j)

	if s.sortStart.Load() {
		s.SortStartQueue()
	}

	s.Notify()
}

// safeProvision turns a panicking hook into a job error.
func (s *Scheduler) safeProvision(ctx context.Context, j *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transfer: panic in provisioning: %v", r)
		}
	}()

	return s.hooks.Provision(ctx, j)
}

func (s *Scheduler) drainRemove(ctx context.Context) {
	batch := s.remove.Drain()
	if len(batch) == 0 {
		return
	}

	s.hooks.Remove(ctx, batch)

	for _, j := range batch {
		j.setState(StateRemoved)

		if j.isAttached() {
			s.presenter.Detach(j)
		}
	}

	s.logger.Debug("removed jobs", slog.Int("count", len(batch)))
}

func (s *Scheduler) drainStart(ctx context.Context) {
	for ctx.Err() == nil && s.running.Len() < s.MaxRunning() {
		s.startInFlight.Add(1)

		j, ok := s.waitstart.Pop()
		if !ok {
			s.startInFlight.Add(-1)
			return
		}

		s.start(ctx, j)
		s.startInFlight.Add(-1)
	}
}

func (s *Scheduler) start(ctx context.Context, j *Job) {
	j.setState(StateRunning)
	s.running.Push(j)

	if !j.markAttached() {
		s.presenter.Attach(j)
	}

	s.logger.Info("starting transfer", slog.String("id", j.ID), slog.String("name", j.Name()))

	s.jobs.Add(1)

	go s.run(ctx, j)

	s.Notify()
}

func (s *Scheduler) run(ctx context.Context, j *Job) {
	defer s.jobs.Done()

	err := s.safeRun(ctx, j)
	if err == nil {
		if c, ok := s.hooks.(Completer); ok {
			err = c.Complete(ctx, j)
		}
	}

	if err != nil {
		s.logger.Warn("transfer failed",
			slog.String("id", j.ID),
			slog.String("name", j.Name()),
			slog.String("error", err.Error()),
		)
		j.SetError(err)
	} else {
		s.logger.Info("transfer finished", slog.String("id", j.ID), slog.String("name", j.Name()))
	}

	// Join finished before leaving running: status never loses the job.
	s.toFinished(j)
	s.running.Remove(j)
	s.Notify()
}

func (s *Scheduler) safeRun(ctx context.Context, j *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transfer: panic in runner: %v", r)
		}
	}()

	return s.runner.Run(ctx, j)
}

func (s *Scheduler) toFinished(j *Job) {
	j.setState(StateFinished)

	if !j.markAttached() {
		s.presenter.Attach(j)
	}

	s.finished.Push(j)
	s.Notify()
}

// Submit queues jobs for provisioning.
func (s *Scheduler) Submit(jobs ...*Job) {
	for _, j := range jobs {
		j.setState(StateProvision)
	}

	s.provision.Push(jobs...)
	s.Notify()
}

// Preprocess queues deferred work, typically expanding a folder link into
// jobs passed to Submit. Errors are logged.
func (s *Scheduler) Preprocess(fn func(ctx context.Context) error) {
	s.preprocess.Push(&preTask{fn: fn})
	s.Notify()
}

// AddPreCount adjusts the count of items being pre-processed. The count
// never drops below zero.
func (s *Scheduler) AddPreCount(n int) {
	s.preMu.Lock()
	s.preCount = max(s.preCount+n, 0)
	s.preMu.Unlock()

	s.Notify()
}

// PreCount returns the pre-processing count.
func (s *Scheduler) PreCount() int {
	s.preMu.Lock()
	defer s.preMu.Unlock()

	return s.preCount
}

// Remove moves a queued or finished job to the remove queue. Running jobs
// must end first.
func (s *Scheduler) Remove(j *Job) error {
	if s.running.Contains(j) {
		return fmt.Errorf("%w: %s", ErrJobRunning, j.ID)
	}

	if !s.provision.Remove(j) && !s.waitstart.Remove(j) && !s.finished.Remove(j) {
		return fmt.Errorf("%w: %s", ErrUnknownJob, j.ID)
	}

	s.remove.Push(j)
	s.Notify()

	return nil
}

// PauseAll pauses every running job that is not already paused and returns
// how many were paused. Jobs stay in the running set.
func (s *Scheduler) PauseAll() int {
	n := 0

	for _, j := range s.running.Snapshot() {
		if j.Pause() {
			n++
		}
	}

	s.Notify()

	return n
}

// CloseAllFinished moves finished jobs without error to the remove queue.
// Failed jobs stay for inspection.
func (s *Scheduler) CloseAllFinished() int {
	ok := s.finished.Extract(func(j *Job) bool { return !j.IsError() })
	s.remove.Push(ok...)
	s.Notify()

	return len(ok)
}

// CloseAllWaiting drops everything not yet provisioned and moves jobs
// waiting to start to the remove queue.
func (s *Scheduler) CloseAllWaiting() {
	s.preprocess.Drain()

	s.preMu.Lock()
	s.preCount = 0
	s.preMu.Unlock()

	s.provision.Drain()
	s.remove.Push(s.waitstart.Drain()...)
	s.Notify()
}

// SortStartQueue orders the start queue by name, case-insensitively.
func (s *Scheduler) SortStartQueue() {
	s.waitstart.Sort(func(a, b *Job) int {
		return strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
	})
}

// SetMaxRunning changes the running cap. Lowering it does not stop jobs
// already running.
func (s *Scheduler) SetMaxRunning(n int) {
	s.maxRunning.Store(int32(max(n, 1))) //nolint:gosec // config-bounded

	s.Notify()
}

// MaxRunning returns the running cap.
func (s *Scheduler) MaxRunning() int {
	return int(s.maxRunning.Load())
}

// Waiting returns the start queue in start order.
func (s *Scheduler) Waiting() []*Job { return s.waitstart.Snapshot() }

// Running returns the jobs currently running.
func (s *Scheduler) Running() []*Job { return s.running.Snapshot() }

// Finished returns the jobs that have finished and not been removed.
func (s *Scheduler) Finished() []*Job { return s.finished.Snapshot() }

// Status computes the aggregate status.
func (s *Scheduler) Status() Status {
	st := Status{
		Scheduler: s.name,
		Pre:       s.PreCount(),
		Provision: s.provision.Len() + int(s.provisionInFlight.Load()),
		Waiting:   s.waitstart.Len() + int(s.startInFlight.Load()),
		Running:   s.running.Len(),
		Finished:  s.finished.Len(),
		Removing:  s.remove.Len(),
	}

	st.ShowPauseAll = s.running.Any(func(j *Job) bool { return !j.IsPaused() })
	st.CleanAllEnabled = s.preprocess.Len() > 0 || st.Provision > 0 || st.Waiting > 0
	st.ShowCloseFinished = s.finished.Any(func(j *Job) bool { return !j.IsError() })

	return st
}

// updateView publishes status and fires the all-finished notification once
// per batch.
func (s *Scheduler) updateView() {
	st := s.Status()

	if !s.allFinished && st.Finished > 0 && st.Pre+st.Provision+st.Waiting+st.Running == 0 {
		s.allFinished = true
		s.presenter.AllFinished()
	}

	s.presenter.Update(st)
}
