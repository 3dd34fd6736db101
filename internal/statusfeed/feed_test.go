package statusfeed

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/mega-go/internal/transfer"
)

// testLogger returns a debug-level logger that writes to t.Log,
// so all activity appears in CI output.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

// dial connects a client to srv and waits until the feed has registered it.
func dial(t *testing.T, f *Feed, srv *httptest.Server, want int) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil) //nolint:bodyclose // websocket.Dial closes the response body internally
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	require.Eventually(t, func() bool { return f.Subscribers() == want }, 5*time.Second, 5*time.Millisecond)

	return conn
}

func read(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var ev Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))

	return ev
}

func TestFeed_BroadcastsPresenterCalls(t *testing.T) {
	t.Parallel()

	f := New(testLogger(t))
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	a := dial(t, f, srv, 1)
	b := dial(t, f, srv, 2)

	j := transfer.NewJob(transfer.Download, "movie.mkv", "")
	j.SetSize(1024)

	f.Attach(j)
	f.Update(transfer.Status{Scheduler: "download", Running: 1})
	f.AllFinished()

	for _, conn := range []*websocket.Conn{a, b} {
		ev := read(t, conn)
		assert.Equal(t, EventAttach, ev.Type)
		require.NotNil(t, ev.Job)
		assert.Equal(t, j.ID, ev.Job.ID)
		assert.Equal(t, "download", ev.Job.Direction)
		assert.Equal(t, int64(1024), ev.Job.Size)

		ev = read(t, conn)
		assert.Equal(t, EventStatus, ev.Type)
		require.NotNil(t, ev.Status)
		assert.Equal(t, 1, ev.Status.Running)

		ev = read(t, conn)
		assert.Equal(t, EventAllFinished, ev.Type)
		assert.False(t, ev.Time.IsZero())
	}
}

func TestFeed_ReplaysLastStatusAndSkipsDuplicates(t *testing.T) {
	t.Parallel()

	f := New(testLogger(t))
	f.Update(transfer.Status{Scheduler: "upload", Waiting: 3})

	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	conn := dial(t, f, srv, 1)

	ev := read(t, conn)
	assert.Equal(t, EventStatus, ev.Type)
	assert.Equal(t, 3, ev.Status.Waiting)

	// Unchanged status is not re-sent.
	f.Update(transfer.Status{Scheduler: "upload", Waiting: 3})
	f.Update(transfer.Status{Scheduler: "upload", Waiting: 2})

	ev = read(t, conn)
	assert.Equal(t, 2, ev.Status.Waiting)
}

func TestFeed_UnsubscribesOnClose(t *testing.T) {
	t.Parallel()

	f := New(testLogger(t))
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	conn := dial(t, f, srv, 1)
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))

	require.Eventually(t, func() bool { return f.Subscribers() == 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestFeed_ErrorJobView(t *testing.T) {
	t.Parallel()

	j := transfer.NewJob(transfer.Upload, "/tmp/a.bin", "P")
	j.SetError(errors.New("quota exceeded"))
	j.Pause()

	v := viewOf(j)
	assert.Equal(t, "a.bin", v.Name)
	assert.Equal(t, "quota exceeded", v.Error)
	assert.True(t, v.Paused)
}

func TestListenAndServe(t *testing.T) {
	t.Parallel()

	f := New(testLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	addrc := make(chan net.Addr, 1)
	errc := make(chan error, 1)

	go func() {
		errc <- f.ListenAndServe(ctx, "127.0.0.1:0", func(a net.Addr) { addrc <- a })
	}()

	var addr net.Addr
	select {
	case addr = <-addrc:
	case err := <-errc:
		t.Fatalf("ListenAndServe: %v", err)
	}

	dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dcancel()

	conn, _, err := websocket.Dial(dctx, "ws://"+addr.String()+"/status", nil) //nolint:bodyclose // websocket.Dial closes the response body internally
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.Subscribers() == 1 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-errc)

	conn.Close(websocket.StatusNormalClosure, "")
}
