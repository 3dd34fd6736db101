package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/mega-go/internal/config"
	"github.com/tonimelisma/mega-go/internal/journal"
	"github.com/tonimelisma/mega-go/internal/statusfeed"
	"github.com/tonimelisma/mega-go/internal/transfer"
)

// journalPath is overridable for tests.
var journalPath = config.DefaultJournalPath

// removalPoll is how often a finished batch is checked for removal.
const removalPoll = 20 * time.Millisecond

var errTransfersFailed = errors.New("some transfers failed")

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <link>...",
		Short: "Queue downloads and emit their negotiated targets",
		Long: `Queue one or more file links for download. Each link is resolved to its
name, size and a temporary download URL, then written to stdout as one JSON
line for the transport that moves the bytes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runGet,
	}
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <path>...",
		Short: "Queue uploads and emit their negotiated targets",
		Long: `Queue one or more local files for upload. Each file gets an upload URL
and a fresh upload key, written to stdout as one JSON line for the
transport that moves the bytes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runPut,
	}

	cmd.Flags().String("parent", "", "handle of the destination folder (default: cloud drive root)")

	return cmd
}

func runGet(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	client := newMegaClient(currentConfig(), logger)

	jobs := make([]*transfer.Job, 0, len(args))
	for _, link := range args {
		jobs = append(jobs, transfer.NewJob(transfer.Download, link, ""))
	}

	return runTransfers(cmd.Context(), logger, transfer.Download, jobs, func(jr transfer.Journal) transfer.Hooks {
		return &transfer.DownloadHooks{Client: client, Journal: jr, Logger: logger}
	})
}

func runPut(cmd *cobra.Command, args []string) error {
	client, logger, err := loggedInClient(cmd.Context())
	if err != nil {
		return err
	}

	parent, err := cmd.Flags().GetString("parent")
	if err != nil {
		return err
	}

	if parent == "" {
		parent = client.RootID()
	}

	if parent == "" {
		return errors.New("cannot determine destination folder, pass --parent")
	}

	jobs := make([]*transfer.Job, 0, len(args))
	for _, p := range args {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", p, err)
		}

		jobs = append(jobs, transfer.NewJob(transfer.Upload, abs, parent))
	}

	maxSize := currentConfig().Transfers.MaxFileSizeBytes()

	return runTransfers(cmd.Context(), logger, transfer.Upload, jobs, func(jr transfer.Journal) transfer.Hooks {
		return &transfer.UploadHooks{Client: client, Journal: jr, MaxFileSize: maxSize, Logger: logger}
	})
}

// runTransfers drives one scheduler until every job has finished, then
// removes the successful ones. Failed jobs stay journaled for `queue resume`.
func runTransfers(
	parent context.Context, logger *slog.Logger, dir transfer.Direction,
	jobs []*transfer.Job, newHooks func(transfer.Journal) transfer.Hooks,
) error {
	ctx, cancel := shutdownContext(parent, logger)
	defer cancel()

	jr, err := openJournal(ctx, logger)
	if err != nil {
		return err
	}
	defer jr.Close()

	cfg := currentConfig()

	pool := transfer.NewPool(ctx, cfg.Transfers.PoolWorkers, logger)
	defer pool.Close()

	done := &batchDone{ch: make(chan struct{})}
	presenters := transfer.MultiPresenter{&transfer.LogPresenter{Logger: logger}, done}

	if !flagQuiet && isTerminal(os.Stderr) {
		presenters = append(presenters, &termPresenter{w: os.Stderr})
	}

	if addr := cfg.Status.ListenAddr; addr != "" {
		feed := statusfeed.New(logger)
		presenters = append(presenters, feed)

		go func() {
			if err := feed.ListenAndServe(ctx, addr, nil); err != nil {
				logger.Warn("status feed stopped", slog.String("error", err.Error()))
			}
		}()
	}

	sched := transfer.NewScheduler(transfer.Options{
		Name:           dir.String(),
		MaxRunning:     maxRunningFor(dir, cfg),
		SortStartQueue: cfg.Transfers.SortStartQueue,
		Hooks:          newHooks(jr),
		Runner:         &emitRunner{w: stdout},
		Presenter:      presenters,
		Pool:           pool,
		Logger:         logger,
	})

	watchConfig(ctx, logger, func(_, cur *config.Config) {
		sched.SetMaxRunning(maxRunningFor(dir, cur))
	})

	runErr := make(chan error, 1)

	go func() { runErr <- sched.Run(ctx) }()

	sched.Submit(jobs...)

	interrupted := false

	select {
	case <-done.ch:
		closeFinished(ctx, sched)
	case <-ctx.Done():
		interrupted = true
	}

	cancel()

	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if interrupted {
		return errors.New("transfers interrupted, run 'mega-go queue resume' to continue")
	}

	return reportFailures(sched.Finished())
}

func maxRunningFor(dir transfer.Direction, cfg *config.Config) int {
	if dir == transfer.Upload {
		return cfg.Transfers.MaxUploads
	}

	return cfg.Transfers.MaxDownloads
}

// watchConfig starts a config watcher when a config file is in use.
func watchConfig(ctx context.Context, logger *slog.Logger, onChange config.ChangeFunc) {
	if cfgHolder == nil {
		return
	}

	if _, err := os.Stat(cfgHolder.Path()); err != nil {
		return
	}

	w := config.NewWatcher(cfgHolder, onChange, logger)

	go func() {
		if err := w.Run(ctx); err != nil {
			logger.Warn("config watcher stopped", slog.String("error", err.Error()))
		}
	}()
}

// closeFinished removes successful jobs and waits until the removal has
// been applied.
func closeFinished(ctx context.Context, sched *transfer.Scheduler) {
	var closing []*transfer.Job

	for _, j := range sched.Finished() {
		if !j.IsError() {
			closing = append(closing, j)
		}
	}

	sched.CloseAllFinished()

	ticker := time.NewTicker(removalPoll)
	defer ticker.Stop()

	for {
		pending := false

		for _, j := range closing {
			if j.State() != transfer.StateRemoved {
				pending = true
				break
			}
		}

		if !pending {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func reportFailures(jobs []*transfer.Job) error {
	failed := 0

	for _, j := range jobs {
		if err := j.Err(); err != nil {
			failed++

			fmt.Fprintf(os.Stderr, "failed: %s: %v\n", j.Name(), err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of them", errTransfersFailed, failed)
	}

	return nil
}

func openJournal(ctx context.Context, logger *slog.Logger) (*journal.Store, error) {
	path := journalPath()
	if path == "" {
		return nil, errors.New("cannot determine journal path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	return journal.Open(ctx, path, logger)
}

// targetLine is one negotiated transfer on stdout.
type targetLine struct {
	ID        string          `json:"id"`
	Direction string          `json:"direction"`
	Source    string          `json:"source"`
	Parent    string          `json:"parent,omitempty"`
	Name      string          `json:"name"`
	Size      int64           `json:"size"`
	Target    transfer.Target `json:"target"`
}

// emitRunner hands each provisioned job to the byte-moving transport by
// writing its target as a JSON line.
type emitRunner struct {
	mu sync.Mutex
	w  io.Writer
}

func (r *emitRunner) Run(_ context.Context, j *transfer.Job) error {
	line, err := json.Marshal(targetLine{
		ID:        j.ID,
		Direction: j.Direction.String(),
		Source:    j.Source,
		Parent:    j.Parent,
		Name:      j.Name(),
		Size:      j.Size(),
		Target:    j.Target(),
	})
	if err != nil {
		return fmt.Errorf("encoding target: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := fmt.Fprintf(r.w, "%s\n", line); err != nil {
		return fmt.Errorf("writing target: %w", err)
	}

	return nil
}

// batchDone closes ch the first time the scheduler reports every job
// finished.
type batchDone struct {
	transfer.NopPresenter

	once sync.Once
	ch   chan struct{}
}

func (b *batchDone) AllFinished() {
	b.once.Do(func() { close(b.ch) })
}

// termPresenter redraws a one-line status on an interactive terminal.
type termPresenter struct {
	transfer.NopPresenter

	mu   sync.Mutex
	w    io.Writer
	last string
}

func (p *termPresenter) Update(st transfer.Status) {
	line := st.String()

	p.mu.Lock()
	defer p.mu.Unlock()

	if line == p.last {
		return
	}

	p.last = line
	fmt.Fprintf(p.w, "\r\033[K%s", line)
}

func (p *termPresenter) AllFinished() {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.w)
}
