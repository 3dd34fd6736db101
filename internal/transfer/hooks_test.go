package transfer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/mega-go/internal/mega"
)

type fakeClient struct {
	info      *mega.FileInfo
	infoErr   error
	url       string
	urlErr    error
	uploadURL string
	sizes     []int64
	finished  []*mega.UploadCompletion
}

func (c *fakeClient) FileMetadata(context.Context, string) (*mega.FileInfo, error) {
	return c.info, c.infoErr
}

func (c *fakeClient) FileDownloadURL(context.Context, string) (string, error) {
	return c.url, c.urlErr
}

func (c *fakeClient) InitUpload(_ context.Context, size int64) (string, error) {
	c.sizes = append(c.sizes, size)
	return c.uploadURL, nil
}

func (c *fakeClient) FinishUpload(_ context.Context, u *mega.UploadCompletion) (string, error) {
	c.finished = append(c.finished, u)
	return "NEWNODE1", nil
}

type memJournal struct {
	mu    sync.Mutex
	saved map[string]State
	err   error
}

func newMemJournal() *memJournal {
	return &memJournal{saved: make(map[string]State)}
}

func (m *memJournal) Save(_ context.Context, j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}

	m.saved[j.ID] = j.State()

	return nil
}

func (m *memJournal) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.saved, id)

	return nil
}

func (m *memJournal) Has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.saved[id]

	return ok
}

func TestDownloadHooks_Provision(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		info: &mega.FileInfo{Name: "movie.mkv", Size: 1 << 20, Key: "LINKKEY"},
		url:  "https://dl.example/x",
	}
	jr := newMemJournal()
	h := &DownloadHooks{Client: client, Journal: jr, Logger: testLogger(t)}

	j := NewJob(Download, "https://mega.nz/#!h!k", "")
	require.NoError(t, h.Provision(context.Background(), j))

	assert.Equal(t, "movie.mkv", j.Name())
	assert.Equal(t, int64(1<<20), j.Size())
	assert.Equal(t, Target{URL: "https://dl.example/x", Key: "LINKKEY"}, j.Target())
	assert.True(t, jr.Has(j.ID))

	h.Remove(context.Background(), []*Job{j})
	assert.False(t, jr.Has(j.ID))
}

func TestDownloadHooks_ProvisionErrors(t *testing.T) {
	t.Parallel()

	keyErr := &mega.ProtocolError{Code: mega.CodeKey, Action: "g"}
	h := &DownloadHooks{Client: &fakeClient{infoErr: keyErr}}

	err := h.Provision(context.Background(), NewJob(Download, "link", ""))
	require.Error(t, err)
	assert.True(t, mega.IsCode(err, mega.CodeKey))

	h = &DownloadHooks{Client: &fakeClient{
		info:   &mega.FileInfo{Name: "a"},
		urlErr: mega.ErrCorruptResponse,
	}}

	err = h.Provision(context.Background(), NewJob(Download, "link", ""))
	require.ErrorIs(t, err, mega.ErrCorruptResponse)
}

func TestDownloadHooks_JournalFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	jr := newMemJournal()
	jr.err = errors.New("disk full")

	h := &DownloadHooks{
		Client:  &fakeClient{info: &mega.FileInfo{Name: "a"}, url: "u"},
		Journal: jr,
		Logger:  testLogger(t),
	}

	require.NoError(t, h.Provision(context.Background(), NewJob(Download, "link", "")))
}

func TestUploadHooks_Provision(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o600))

	client := &fakeClient{uploadURL: "https://ul.example/1"}
	h := &UploadHooks{Client: client, Logger: testLogger(t)}

	j := NewJob(Upload, path, "PARENT01")
	require.NoError(t, h.Provision(context.Background(), j))

	assert.Equal(t, []int64{11}, client.sizes)
	assert.Equal(t, int64(11), j.Size())
	assert.Equal(t, "https://ul.example/1", j.Target().URL)
	assert.Len(t, j.Target().UploadKey, 6)
}

func TestUploadHooks_ProvisionRejects(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "big.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 100), 0o600))

	client := &fakeClient{}
	h := &UploadHooks{Client: client, MaxFileSize: 99}

	err := h.Provision(context.Background(), NewJob(Upload, path, "P"))
	require.ErrorIs(t, err, ErrTooLarge)

	err = h.Provision(context.Background(), NewJob(Upload, dir, "P"))
	require.Error(t, err)

	err = h.Provision(context.Background(), NewJob(Upload, filepath.Join(dir, "missing"), "P"))
	require.ErrorIs(t, err, os.ErrNotExist)

	assert.Empty(t, client.sizes)
}

func TestUploadHooks_Complete(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	h := &UploadHooks{Client: client, Logger: testLogger(t)}

	j := NewJob(Upload, "/data/report.pdf", "PARENT01")
	j.SetTarget(Target{
		URL:              "https://ul.example/1",
		UploadKey:        []uint32{1, 2, 3, 4, 5, 6},
		CompletionHandle: "COMPLETION",
		FileKey:          make([]byte, 32),
	})

	require.NoError(t, h.Complete(context.Background(), j))
	require.Len(t, client.finished, 1)

	u := client.finished[0]
	assert.Equal(t, "PARENT01", u.Parent)
	assert.Equal(t, "report.pdf", u.Name)
	assert.Equal(t, "COMPLETION", u.CompletionHandle)
	assert.Equal(t, "NEWNODE1", j.Target().Node)
}

func TestUploadHooks_CompleteWithoutHandleIsHandoff(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	h := &UploadHooks{Client: client, Logger: testLogger(t)}

	j := NewJob(Upload, "/data/report.pdf", "PARENT01")
	require.NoError(t, h.Complete(context.Background(), j))
	assert.Empty(t, client.finished)
}
