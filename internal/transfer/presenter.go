package transfer

import (
	"fmt"
	"log/slog"
	"sync"
)

// Status is the aggregate state of a scheduler as published after every
// dispatch cycle.
type Status struct {
	Scheduler string `json:"scheduler"`
	Pre       int    `json:"pre"`
	Provision int    `json:"provision"`
	Waiting   int    `json:"waiting"`
	Running   int    `json:"running"`
	Finished  int    `json:"finished"`
	Removing  int    `json:"removing"`

	// ShowPauseAll is set when some running job is not paused.
	ShowPauseAll bool `json:"show_pause_all"`
	// CleanAllEnabled is set when anything is queued ahead of the running set.
	CleanAllEnabled bool `json:"clean_all_enabled"`
	// ShowCloseFinished is set when a finished job without error exists.
	ShowCloseFinished bool `json:"show_close_finished"`
}

// Idle reports whether nothing is queued, running or finished.
func (s Status) Idle() bool {
	return s.Pre+s.Provision+s.Removing+s.Waiting+s.Running+s.Finished == 0
}

// String renders the one-line summary, or "" when idle.
func (s Status) String() string {
	if s.Idle() {
		return ""
	}

	return fmt.Sprintf("Pre: %d / Pro: %d / Wait: %d / Run: %d / Finish: %d / Rem: %d",
		s.Pre, s.Provision, s.Waiting, s.Running, s.Finished, s.Removing)
}

// Presenter is the surface a scheduler reports to. Calls come from the
// scheduler's goroutines and must not block for long.
type Presenter interface {
	// Attach is called once per job when it becomes visible (started, or
	// failed before starting).
	Attach(j *Job)
	// Detach is called when an attached job has been removed.
	Detach(j *Job)
	// Update publishes the aggregate status.
	Update(st Status)
	// AllFinished fires once per batch when every job has reached finished.
	AllFinished()
}

// NopPresenter discards everything.
type NopPresenter struct{}

func (NopPresenter) Attach(*Job)   {}
func (NopPresenter) Detach(*Job)   {}
func (NopPresenter) Update(Status) {}
func (NopPresenter) AllFinished()  {}

// LogPresenter reports through slog, emitting status lines only when they
// change.
type LogPresenter struct {
	Logger *slog.Logger

	mu   sync.Mutex
	last string
}

func (p *LogPresenter) Attach(j *Job) {
	p.Logger.Info("transfer started",
		slog.String("id", j.ID),
		slog.String("direction", j.Direction.String()),
		slog.String("name", j.Name()),
	)
}

func (p *LogPresenter) Detach(j *Job) {
	p.Logger.Debug("transfer removed", slog.String("id", j.ID))
}

func (p *LogPresenter) Update(st Status) {
	line := st.String()

	p.mu.Lock()
	changed := line != p.last
	p.last = line
	p.mu.Unlock()

	if changed && line != "" {
		p.Logger.Debug("transfer status", slog.String("scheduler", st.Scheduler), slog.String("status", line))
	}
}

func (p *LogPresenter) AllFinished() {
	p.Logger.Info("all transfers have finished")
}

// MultiPresenter fans every call out to each member in order.
type MultiPresenter []Presenter

func (m MultiPresenter) Attach(j *Job) {
	for _, p := range m {
		p.Attach(j)
	}
}

func (m MultiPresenter) Detach(j *Job) {
	for _, p := range m {
		p.Detach(j)
	}
}

func (m MultiPresenter) Update(st Status) {
	for _, p := range m {
		p.Update(st)
	}
}

func (m MultiPresenter) AllFinished() {
	for _, p := range m {
		p.AllFinished()
	}
}
