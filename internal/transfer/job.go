// Package transfer schedules download and upload jobs through a staged
// pipeline: pre-processing, provisioning against the MEGA API, a start
// queue, a bounded running set, completion and removal.
package transfer

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Direction is the transfer direction of a job.
type Direction int

// Directions.
const (
	Download Direction = iota
	Upload
)

func (d Direction) String() string {
	switch d {
	case Download:
		return "download"
	case Upload:
		return "upload"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection is the inverse of Direction.String.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "download":
		return Download, nil
	case "upload":
		return Upload, nil
	default:
		return 0, fmt.Errorf("transfer: unknown direction %q", s)
	}
}

// State is the pipeline stage a job currently occupies.
type State int

// Job states, in pipeline order.
const (
	StateProvision State = iota
	StateWaiting
	StateRunning
	StateFinished
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateProvision:
		return "provision"
	case StateWaiting:
		return "waiting"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateRemoved:
		return "removed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Target is what provisioning negotiated for a job: where the bytes go or
// come from and the key material the transport needs.
type Target struct {
	// URL is the download or upload URL.
	URL string `json:"url"`
	// Key is the link key of a download, URL-safe base64.
	Key string `json:"key,omitempty"`
	// UploadKey is the per-upload key (6 words).
	UploadKey []uint32 `json:"upload_key,omitempty"`
	// CompletionHandle and FileKey are filled in by the transport when an
	// upload's last chunk has been accepted.
	CompletionHandle string `json:"completion_handle,omitempty"`
	FileKey          []byte `json:"file_key,omitempty"`
	// Node is the handle of the created node once an upload is finished.
	Node string `json:"node,omitempty"`
}

// Job is one transfer moving through a Scheduler. ID, Direction, Source and
// Parent are fixed at creation; everything else may be read concurrently.
type Job struct {
	ID        string
	Direction Direction
	// Source is the share link of a download or the local path of an upload.
	Source string
	// Parent is the destination folder handle of an upload.
	Parent string

	mu       sync.Mutex
	name     string
	size     int64
	state    State
	err      error
	target   Target
	attached bool

	paused atomic.Bool
}

// NewJob creates a job with a fresh id.
func NewJob(dir Direction, source, parent string) *Job {
	return RestoreJob(uuid.New().String(), dir, source, parent)
}

// RestoreJob recreates a job under a previously issued id.
func RestoreJob(id string, dir Direction, source, parent string) *Job {
	j := &Job{ID: id, Direction: dir, Source: source, Parent: parent}

	if dir == Upload {
		j.name = filepath.Base(source)
	} else {
		j.name = source
	}

	return j
}

// Name returns the file name. Downloads carry their link until provisioning
// resolves the real name.
func (j *Job) Name() string {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.name
}

// SetName sets the file name.
func (j *Job) SetName(name string) {
	j.mu.Lock()
	j.name = name
	j.mu.Unlock()
}

// Size returns the file size in bytes, 0 if not yet known.
func (j *Job) Size() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.size
}

// SetSize sets the file size.
func (j *Job) SetSize(size int64) {
	j.mu.Lock()
	j.size = size
	j.mu.Unlock()
}

// State returns the current pipeline stage.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.state
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// Err returns the error that terminated the job, if any.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.err
}

// SetError marks the job as failed.
func (j *Job) SetError(err error) {
	j.mu.Lock()
	j.err = err
	j.mu.Unlock()
}

// IsError reports whether the job failed.
func (j *Job) IsError() bool {
	return j.Err() != nil
}

// Target returns a copy of the negotiated target.
func (j *Job) Target() Target {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.target
}

// SetTarget replaces the negotiated target.
func (j *Job) SetTarget(t Target) {
	j.mu.Lock()
	j.target = t
	j.mu.Unlock()
}

// markAttached records that the job has been handed to the presenter and
// reports whether it already was.
func (j *Job) markAttached() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	was := j.attached
	j.attached = true

	return was
}

func (j *Job) isAttached() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.attached
}

// Pause asks the job to pause. It returns false if it was already paused.
// The runner observes the flag; the job stays in the running set.
func (j *Job) Pause() bool {
	return j.paused.CompareAndSwap(false, true)
}

// Resume clears the pause flag.
func (j *Job) Resume() bool {
	return j.paused.CompareAndSwap(true, false)
}

// IsPaused reports the pause flag.
func (j *Job) IsPaused() bool {
	return j.paused.Load()
}
