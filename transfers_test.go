package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/mega-go/internal/journal"
	"github.com/tonimelisma/mega-go/internal/mega"
	"github.com/tonimelisma/mega-go/internal/megacrypto"
	"github.com/tonimelisma/mega-go/internal/transfer"
)

// fileLink builds a public file link whose attributes decrypt to name.
func fileLink(t *testing.T, handle, name string) (link, attr string) {
	t.Helper()

	fileKey := append(megacrypto.GenShareKey(), megacrypto.GenShareKey()...)

	blob, err := megacrypto.EncryptAttributes(mega.Attributes{Name: name}, megacrypto.DecodeLinkKey(fileKey))
	require.NoError(t, err)

	return "https://mega.nz/file/" + handle + "#" + megacrypto.Base64Encode(fileKey), megacrypto.Base64Encode(blob)
}

func decodeLines(t *testing.T, out string) []targetLine {
	t.Helper()

	var lines []targetLine

	for _, s := range strings.Split(strings.TrimSpace(out), "\n") {
		if s == "" {
			continue
		}

		var tl targetLine
		require.NoError(t, json.Unmarshal([]byte(s), &tl))
		lines = append(lines, tl)
	}

	return lines
}

func pending(t *testing.T, env *cliEnv) []journal.Entry {
	t.Helper()

	jr, err := journal.Open(context.Background(), env.journal, testLogger(t))
	require.NoError(t, err)

	defer jr.Close()

	entries, err := jr.Pending(context.Background())
	require.NoError(t, err)

	return entries
}

func TestGet_EmitsTargetsAndForgetsFinishedJobs(t *testing.T) {
	linkA, attrA := fileLink(t, "HANDLEAA", "b.txt")
	linkB, attrB := fileLink(t, "HANDLEBB", "a.txt")

	attrs := map[string]string{"HANDLEAA": attrA, "HANDLEBB": attrB}

	srv, _ := newActionServer(t, func(action map[string]any) string {
		h, _ := action["p"].(string)
		return fmt.Sprintf(`[{"s":10,"at":%q,"g":"https://dl.example/%s"}]`, attrs[h], h)
	})

	env := newCLIEnv(t, srv.URL)

	out, err := env.run("get", linkA, linkB)
	require.NoError(t, err)

	lines := decodeLines(t, out)
	require.Len(t, lines, 2)

	byName := map[string]targetLine{}
	for _, l := range lines {
		byName[l.Name] = l
	}

	require.Contains(t, byName, "a.txt")
	assert.Equal(t, "download", byName["a.txt"].Direction)
	assert.Equal(t, int64(10), byName["a.txt"].Size)
	assert.Equal(t, "https://dl.example/HANDLEBB", byName["a.txt"].Target.URL)
	assert.Equal(t, linkB, byName["a.txt"].Source)

	assert.Empty(t, pending(t, env), "finished jobs are removed from the journal")
}

func TestGet_FailedProvisionIsReported(t *testing.T) {
	link, _ := fileLink(t, "HANDLEAA", "x.bin")

	srv, _ := newActionServer(t, func(map[string]any) string {
		return `[{"s":10,"at":"bm90IGVuY3J5cHRlZA"}]`
	})

	env := newCLIEnv(t, srv.URL)

	out, err := env.run("get", link)
	require.ErrorIs(t, err, errTransfersFailed)
	assert.Empty(t, strings.TrimSpace(out))
}

func TestPut_RequiresLogin(t *testing.T) {
	env := newCLIEnv(t, "http://127.0.0.1:1")

	_, err := env.run("put", filepath.Join(env.dir, "file.bin"))
	require.ErrorIs(t, err, errNotLoggedIn)
}

func TestQueue_LsResumeAndClear(t *testing.T) {
	link, attr := fileLink(t, "HANDLEAA", "resumed.txt")

	srv, _ := newActionServer(t, func(map[string]any) string {
		return fmt.Sprintf(`[{"s":3,"at":%q,"g":"https://dl.example/r"}]`, attr)
	})

	env := newCLIEnv(t, srv.URL)

	require.NoError(t, os.MkdirAll(filepath.Dir(env.journal), 0o700))

	jr, err := journal.Open(context.Background(), env.journal, testLogger(t))
	require.NoError(t, err)

	j := transfer.NewJob(transfer.Download, link, "")
	j.SetName("resumed.txt")
	require.NoError(t, jr.Save(context.Background(), j))
	require.NoError(t, jr.Close())

	out, err := env.run("queue", "ls", "--json")
	require.NoError(t, err)

	var listed []queueEntryJSON
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, j.ID, listed[0].ID)
	assert.Equal(t, "download", listed[0].Direction)

	out, err = env.run("queue", "resume")
	require.NoError(t, err)

	lines := decodeLines(t, out)
	require.Len(t, lines, 1)
	assert.Equal(t, j.ID, lines[0].ID, "resumed jobs keep their id")
	assert.Empty(t, pending(t, env))

	// Clear on an empty journal is fine too.
	_, err = env.run("queue", "clear")
	require.NoError(t, err)
}

func TestQueue_Clear(t *testing.T) {
	env := newCLIEnv(t, "http://127.0.0.1:1")

	require.NoError(t, os.MkdirAll(filepath.Dir(env.journal), 0o700))

	jr, err := journal.Open(context.Background(), env.journal, testLogger(t))
	require.NoError(t, err)
	require.NoError(t, jr.Save(context.Background(), transfer.NewJob(transfer.Upload, "/tmp/x", "PARENT01")))
	require.NoError(t, jr.Close())

	_, err = env.run("queue", "clear")
	require.NoError(t, err)
	assert.Empty(t, pending(t, env))
}

func TestEmitRunner_WritesOneLinePerJob(t *testing.T) {
	var buf bytes.Buffer

	r := &emitRunner{w: &buf}

	j := transfer.NewJob(transfer.Upload, "/data/song.mp3", "PARENT01")
	j.SetTarget(transfer.Target{URL: "https://up.example/1", UploadKey: []uint32{1, 2, 3, 4, 5, 6}})

	require.NoError(t, r.Run(context.Background(), j))

	lines := decodeLines(t, buf.String())
	require.Len(t, lines, 1)
	assert.Equal(t, "upload", lines[0].Direction)
	assert.Equal(t, "song.mp3", lines[0].Name)
	assert.Equal(t, "PARENT01", lines[0].Parent)
	assert.Equal(t, []uint32{1, 2, 3, 4, 5, 6}, lines[0].Target.UploadKey)
}

func TestTermPresenter_SkipsUnchangedStatus(t *testing.T) {
	var buf bytes.Buffer

	p := &termPresenter{w: &buf}

	st := transfer.Status{Running: 1}
	p.Update(st)
	p.Update(st)
	p.AllFinished()

	assert.Equal(t, 1, strings.Count(buf.String(), "Run: 1"))
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestBatchDone_ClosesOnce(t *testing.T) {
	b := &batchDone{ch: make(chan struct{})}

	b.AllFinished()
	b.AllFinished()

	_, open := <-b.ch
	assert.False(t, open)
}
