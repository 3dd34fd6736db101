package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/mega-go/internal/journal"
	"github.com/tonimelisma/mega-go/internal/transfer"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and resume journaled transfers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List transfers left over from earlier runs",
		Args:  cobra.NoArgs,
		RunE:  runQueueLs,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "resume",
		Short: "Re-queue journaled transfers",
		Args:  cobra.NoArgs,
		RunE:  runQueueResume,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget all journaled transfers",
		Args:  cobra.NoArgs,
		RunE:  runQueueClear,
	})

	return cmd
}

// queueEntryJSON is the JSON schema for one `queue ls --json` entry.
type queueEntryJSON struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
	Source    string `json:"source"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
}

func pendingEntries(cmd *cobra.Command) ([]journal.Entry, error) {
	jr, err := openJournal(cmd.Context(), buildLogger())
	if err != nil {
		return nil, err
	}
	defer jr.Close()

	return jr.Pending(cmd.Context())
}

func runQueueLs(cmd *cobra.Command, _ []string) error {
	entries, err := pendingEntries(cmd)
	if err != nil {
		return err
	}

	if flagJSON {
		out := make([]queueEntryJSON, 0, len(entries))
		for _, e := range entries {
			out = append(out, queueEntryJSON{
				ID: e.ID, Direction: e.Direction.String(), Source: e.Source,
				Name: e.Name, Size: e.Size, State: e.State, Error: e.Error,
			})
		}

		return printJSON(stdout, out)
	}

	if len(entries) == 0 {
		statusf("No journaled transfers.\n")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.ID, e.Direction.String(), formatSize(e.Size), e.State, e.Name,
		})
	}

	printTable(stdout, []string{"ID", "DIRECTION", "SIZE", "STATE", "NAME"}, rows)

	return nil
}

func runQueueResume(cmd *cobra.Command, _ []string) error {
	entries, err := pendingEntries(cmd)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		statusf("Nothing to resume.\n")
		return nil
	}

	byDir := map[transfer.Direction][]*transfer.Job{}

	for i := range entries {
		j := entries[i].Job()
		byDir[j.Direction] = append(byDir[j.Direction], j)
	}

	statusf("Resuming %d download(s) and %d upload(s).\n",
		len(byDir[transfer.Download]), len(byDir[transfer.Upload]))

	if jobs := byDir[transfer.Download]; len(jobs) > 0 {
		logger := buildLogger()
		client := newMegaClient(currentConfig(), logger)

		err = runTransfers(cmd.Context(), logger, transfer.Download, jobs, func(jr transfer.Journal) transfer.Hooks {
			return &transfer.DownloadHooks{Client: client, Journal: jr, Logger: logger}
		})
		if err != nil {
			return err
		}
	}

	if jobs := byDir[transfer.Upload]; len(jobs) > 0 {
		client, logger, err := loggedInClient(cmd.Context())
		if err != nil {
			return err
		}

		maxSize := currentConfig().Transfers.MaxFileSizeBytes()

		return runTransfers(cmd.Context(), logger, transfer.Upload, jobs, func(jr transfer.Journal) transfer.Hooks {
			return &transfer.UploadHooks{Client: client, Journal: jr, MaxFileSize: maxSize, Logger: logger}
		})
	}

	return nil
}

func runQueueClear(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	jr, err := openJournal(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer jr.Close()

	n, err := jr.Clear(cmd.Context())
	if err != nil {
		return err
	}

	logger.Debug("queue cleared", slog.Int64("jobs", n))
	statusf("Forgot %d transfer(s).\n", n)

	return nil
}
