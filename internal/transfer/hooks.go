package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/tonimelisma/mega-go/internal/mega"
	"github.com/tonimelisma/mega-go/internal/megacrypto"
)

// ErrTooLarge is returned when an upload exceeds the configured size limit.
var ErrTooLarge = errors.New("transfer: file exceeds size limit")

// Journal persists jobs between provisioning and removal so interrupted
// runs can be resumed.
type Journal interface {
	Save(ctx context.Context, j *Job) error
	Delete(ctx context.Context, id string) error
}

// DownloadClient is the part of the API client download provisioning needs.
type DownloadClient interface {
	FileMetadata(ctx context.Context, link string) (*mega.FileInfo, error)
	FileDownloadURL(ctx context.Context, link string) (string, error)
}

// UploadClient is the part of the API client upload provisioning needs.
type UploadClient interface {
	InitUpload(ctx context.Context, size int64) (string, error)
	FinishUpload(ctx context.Context, u *mega.UploadCompletion) (string, error)
}

// DownloadHooks provision downloads: resolve the link's name and size, then
// a download URL.
type DownloadHooks struct {
	Client  DownloadClient
	Journal Journal // optional
	Logger  *slog.Logger
}

func (h *DownloadHooks) Provision(ctx context.Context, j *Job) error {
	info, err := h.Client.FileMetadata(ctx, j.Source)
	if err != nil {
		return fmt.Errorf("resolving metadata: %w", err)
	}

	j.SetName(info.Name)
	j.SetSize(info.Size)

	u, err := h.Client.FileDownloadURL(ctx, j.Source)
	if err != nil {
		return fmt.Errorf("resolving download URL: %w", err)
	}

	j.SetTarget(Target{URL: u, Key: info.Key})
	saveJournal(ctx, h.Journal, h.Logger, j)

	return nil
}

func (h *DownloadHooks) Remove(ctx context.Context, jobs []*Job) {
	forgetJournal(ctx, h.Journal, h.Logger, jobs)
}

// UploadHooks provision uploads: announce the size, obtain an upload URL and
// generate the upload key. Once the transport reports a completion handle,
// Complete creates the file node under the job's parent.
type UploadHooks struct {
	Client  UploadClient
	Journal Journal // optional
	// MaxFileSize rejects larger files; 0 means unlimited.
	MaxFileSize int64
	Logger      *slog.Logger
}

func (h *UploadHooks) Provision(ctx context.Context, j *Job) error {
	fi, err := os.Stat(j.Source)
	if err != nil {
		return fmt.Errorf("stat %s: %w", j.Source, err)
	}

	if fi.IsDir() {
		return fmt.Errorf("%s is a directory", j.Source)
	}

	if h.MaxFileSize > 0 && fi.Size() > h.MaxFileSize {
		return fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, j.Source, fi.Size())
	}

	j.SetSize(fi.Size())

	u, err := h.Client.InitUpload(ctx, fi.Size())
	if err != nil {
		return fmt.Errorf("initiating upload: %w", err)
	}

	j.SetTarget(Target{URL: u, UploadKey: megacrypto.GenUploadKey()})
	saveJournal(ctx, h.Journal, h.Logger, j)

	return nil
}

// Complete creates the node for a finished upload. A transport that hands
// the upload off without reporting a completion handle leaves node creation
// to whoever finishes the upload.
func (h *UploadHooks) Complete(ctx context.Context, j *Job) error {
	t := j.Target()

	if t.CompletionHandle == "" {
		logger(h.Logger).Info("upload handed off without completion handle",
			slog.String("id", j.ID),
			slog.String("name", j.Name()),
		)

		return nil
	}

	handle, err := h.Client.FinishUpload(ctx, &mega.UploadCompletion{
		Parent:           j.Parent,
		Name:             j.Name(),
		CompletionHandle: t.CompletionHandle,
		UploadKey:        t.UploadKey,
		FileKey:          t.FileKey,
	})
	if err != nil {
		return fmt.Errorf("finishing upload: %w", err)
	}

	t.Node = handle
	j.SetTarget(t)

	return nil
}

func (h *UploadHooks) Remove(ctx context.Context, jobs []*Job) {
	forgetJournal(ctx, h.Journal, h.Logger, jobs)
}

func saveJournal(ctx context.Context, jr Journal, l *slog.Logger, j *Job) {
	if jr == nil {
		return
	}

	if err := jr.Save(ctx, j); err != nil {
		logger(l).Warn("journal: save failed",
			slog.String("id", j.ID),
			slog.String("error", err.Error()),
		)
	}
}

func forgetJournal(ctx context.Context, jr Journal, l *slog.Logger, jobs []*Job) {
	if jr == nil {
		return
	}

	for _, j := range jobs {
		if err := jr.Delete(ctx, j.ID); err != nil {
			logger(l).Warn("journal: delete failed",
				slog.String("id", j.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}

	return l
}
