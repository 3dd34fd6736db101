// Package statusfeed publishes scheduler events to websocket subscribers.
// A Feed is a transfer.Presenter; each connected client receives every
// event as a JSON text message.
package statusfeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/tonimelisma/mega-go/internal/transfer"
)

// Event types.
const (
	EventStatus      = "status"
	EventAttach      = "attach"
	EventDetach      = "detach"
	EventAllFinished = "all_finished"
)

const (
	// subscriberBuffer is how many events a slow client may lag behind
	// before events are dropped for it.
	subscriberBuffer = 64
	writeTimeout     = 5 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// Event is one message on the feed.
type Event struct {
	Type   string           `json:"type"`
	Time   time.Time        `json:"time"`
	Status *transfer.Status `json:"status,omitempty"`
	Job    *JobView         `json:"job,omitempty"`
}

// JobView is the wire form of a job.
type JobView struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	State     string `json:"state"`
	Paused    bool   `json:"paused,omitempty"`
	Error     string `json:"error,omitempty"`
}

func viewOf(j *transfer.Job) *JobView {
	v := &JobView{
		ID:        j.ID,
		Direction: j.Direction.String(),
		Name:      j.Name(),
		Size:      j.Size(),
		State:     j.State().String(),
		Paused:    j.IsPaused(),
	}

	if err := j.Err(); err != nil {
		v.Error = err.Error()
	}

	return v
}

// Feed fans presenter calls out to websocket subscribers.
type Feed struct {
	logger  *slog.Logger
	nowFunc func() time.Time

	mu   sync.Mutex
	subs map[chan Event]struct{}
	// last holds the latest status per scheduler, replayed to new
	// subscribers.
	last map[string]transfer.Status
}

// New creates an empty feed.
func New(logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}

	return &Feed{
		logger:  logger,
		nowFunc: time.Now,
		subs:    make(map[chan Event]struct{}),
		last:    make(map[string]transfer.Status),
	}
}

func (f *Feed) Attach(j *transfer.Job) {
	f.publish(Event{Type: EventAttach, Job: viewOf(j)})
}

func (f *Feed) Detach(j *transfer.Job) {
	f.publish(Event{Type: EventDetach, Job: viewOf(j)})
}

func (f *Feed) Update(st transfer.Status) {
	f.mu.Lock()
	prev, seen := f.last[st.Scheduler]
	f.last[st.Scheduler] = st
	f.mu.Unlock()

	if seen && prev == st {
		return
	}

	f.publish(Event{Type: EventStatus, Status: &st})
}

func (f *Feed) AllFinished() {
	f.publish(Event{Type: EventAllFinished})
}

// Subscribers returns the number of connected clients.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.subs)
}

func (f *Feed) publish(ev Event) {
	ev.Time = f.nowFunc().UTC()

	f.mu.Lock()
	defer f.mu.Unlock()

	for ch := range f.subs {
		select {
		case ch <- ev:
		default:
			f.logger.Debug("status feed: dropping event for slow subscriber", slog.String("type", ev.Type))
		}
	}
}

// subscribe registers a subscriber and returns its channel primed with the
// latest known statuses.
func (f *Feed) subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)

	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.nowFunc().UTC()

	for _, st := range f.last {
		if len(ch) == cap(ch) {
			break
		}

		ch <- Event{Type: EventStatus, Time: now, Status: &st}
	}

	f.subs[ch] = struct{}{}

	return ch
}

func (f *Feed) unsubscribe(ch chan Event) {
	f.mu.Lock()
	delete(f.subs, ch)
	f.mu.Unlock()
}

// ServeHTTP upgrades the request to a websocket and streams events until
// the client goes away.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		f.logger.Warn("status feed: accept failed", slog.String("error", err.Error()))
		return
	}

	ch := f.subscribe()
	defer f.unsubscribe(ch)

	f.logger.Debug("status feed: subscriber connected", slog.String("remote", r.RemoteAddr))

	// Clients never send; CloseRead handles control frames and cancels ctx
	// when the peer closes.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-ch:
			if err := f.write(ctx, conn, ev); err != nil {
				f.logger.Debug("status feed: write failed", slog.String("error", err.Error()))
				conn.Close(websocket.StatusGoingAway, "write failed")

				return
			}
		}
	}
}

func (f *Feed) write(ctx context.Context, conn *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, conn, ev); err != nil {
		return fmt.Errorf("statusfeed: writing %s event: %w", ev.Type, err)
	}

	return nil
}

// ListenAndServe serves the feed at /status on addr until ctx is canceled.
// ready, if non-nil, receives the bound address once listening.
func (f *Feed) ListenAndServe(ctx context.Context, addr string, ready func(net.Addr)) error {
	mux := http.NewServeMux()
	mux.Handle("/status", f)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// Hijacked websocket connections outlive Shutdown; tie them to ctx.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("statusfeed: listening on %s: %w", addr, err)
	}

	f.logger.Info("status feed listening", slog.String("addr", ln.Addr().String()))

	if ready != nil {
		ready(ln.Addr())
	}

	errc := make(chan error, 1)

	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return fmt.Errorf("statusfeed: serving: %w", err)
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("statusfeed: shutting down: %w", err)
	}

	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("statusfeed: serving: %w", err)
	}

	return nil
}
