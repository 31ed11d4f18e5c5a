package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/jobs"
)

type recordingEnqueuer struct {
	mu   sync.Mutex
	reqs []jobs.EnqueueRequest
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, req jobs.EnqueueRequest) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return uuid.New(), nil
}

func (r *recordingEnqueuer) refs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.reqs))
	for _, req := range r.reqs {
		out = append(out, req.DocumentRef)
	}
	return out
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestIngestPathEnqueuesAndDeduplicates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Call.PDF")
	writeFile(t, path, "%PDF-1.7 call for projects")

	enq := &recordingEnqueuer{}
	ing := NewIngestor(enq, "", nil)

	res, err := ing.IngestPath(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, res.Deduplicated)
	assert.NotEqual(t, uuid.Nil, res.JobID)
	assert.Equal(t, constants.KindPDF, res.Kind)
	require.Len(t, enq.reqs, 1)
	assert.Equal(t, int64(len("%PDF-1.7 call for projects")), enq.reqs[0].SizeBytes)
	assert.Equal(t, constants.PriorityMedium, enq.reqs[0].Priority)

	res, err = ing.IngestPath(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, res.Deduplicated)
	assert.Len(t, enq.reqs, 1)

	// changed content is enqueued again
	writeFile(t, path, "%PDF-1.7 amended call")
	res, err = ing.IngestPath(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, res.Deduplicated)
	assert.Len(t, enq.reqs, 2)
}

func TestIngestPathRejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.jpg")
	writeFile(t, path, "jpeg")

	enq := &recordingEnqueuer{}
	_, err := NewIngestor(enq, "", nil).IngestPath(context.Background(), path)
	assert.True(t, common.HasCode(err, common.CodeUnsupportedFormat))
	assert.Empty(t, enq.reqs)

	_, err = NewIngestor(enq, "", nil).IngestPath(context.Background(), filepath.Join(dir, "gone.txt"))
	assert.True(t, common.HasCode(err, common.CodeSourceUnavailable))
}

func TestIngestDirectorySkipsHidden(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "sub", "b.html"), "<p>b</p>")
	writeFile(t, filepath.Join(dir, "notes.csv"), "x,y")
	writeFile(t, filepath.Join(dir, ".cache", "c.txt"), "c")
	writeFile(t, filepath.Join(dir, ".d.md"), "d")

	enq := &recordingEnqueuer{}
	results, stats, err := NewIngestor(enq, constants.PriorityHigh, nil).IngestDirectory(context.Background(), dir, true)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, uint32(2), stats.Matched)
	assert.Equal(t, uint32(2), stats.Succeeded)
	assert.Zero(t, stats.Failed)
	for _, req := range enq.reqs {
		assert.Equal(t, constants.PriorityHigh, req.Priority)
	}

	_, _, err = NewIngestor(enq, "", nil).IngestDirectory(context.Background(), " ", true)
	assert.Error(t, err)
}

func TestWatchPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "existing.txt"), "already here")

	enq := &recordingEnqueuer{}
	ing := NewIngestor(enq, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ing.Watch(ctx, WatchConfig{Roots: []string{dir}, InitialScan: true, Debounce: 20 * time.Millisecond})
	}()

	existing, _ := filepath.Abs(filepath.Join(dir, "existing.txt"))
	require.Eventually(t, func() bool { return contains(enq.refs(), existing) }, 5*time.Second, 10*time.Millisecond)

	fresh := filepath.Join(dir, "fresh.md")
	writeFile(t, fresh, "# Innovation voucher")
	freshAbs, _ := filepath.Abs(fresh)
	require.Eventually(t, func() bool { return contains(enq.refs(), freshAbs) }, 5*time.Second, 10*time.Millisecond)

	writeFile(t, filepath.Join(dir, "ignored.log"), "noise")

	cancel()
	require.NoError(t, <-done)
	for _, ref := range enq.refs() {
		assert.NotEqual(t, ".log", filepath.Ext(ref))
	}
}

func TestStartWatcherNeedsRoots(t *testing.T) {
	_, _, err := StartWatcher(context.Background(), WatchConfig{}, nil)
	assert.Error(t, err)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
