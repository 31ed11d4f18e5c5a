package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/jobs"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/repository"
)

func newTestClient(t *testing.T) (*Client, *jobs.Manager) {
	t.Helper()
	mgr := jobs.NewManager(repository.NewMemoryStore(), nil, nil)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	NewJobsService(mgr, nil).Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn), mgr
}

func TestEnqueueAndGet(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	id, err := c.Enqueue(ctx, jobs.EnqueueRequest{
		DocumentRef: "calls/green-farms.pdf",
		Kind:        constants.KindPDF,
		SizeBytes:   2048,
		Priority:    constants.PriorityHigh,
	})
	require.NoError(t, err)

	j, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, j.ID)
	assert.Equal(t, "calls/green-farms.pdf", j.DocumentRef)
	assert.Equal(t, constants.KindPDF, j.Kind)
	assert.Equal(t, int64(2048), j.SizeBytes)
	assert.Equal(t, constants.PriorityHigh, j.Priority)
	assert.Equal(t, constants.JobStatusQueued, j.Status)
	assert.Equal(t, 3, j.MaxAttempts)
}

func TestErrorsMapToStatusCodes(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.Enqueue(ctx, jobs.EnqueueRequest{DocumentRef: "clip.mp4", Kind: "video"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.Enqueue(ctx, jobs.EnqueueRequest{Kind: constants.KindText})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.Get(ctx, uuid.New())
	assert.Equal(t, codes.NotFound, status.Code(err))

	id, err := c.Enqueue(ctx, jobs.EnqueueRequest{DocumentRef: "a.txt", Kind: constants.KindText})
	require.NoError(t, err)
	_, err = c.Cancel(ctx, id)
	require.NoError(t, err)
	_, err = c.Cancel(ctx, id)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestWatchEndsOnTerminalStatus(t *testing.T) {
	c, mgr := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := c.Enqueue(ctx, jobs.EnqueueRequest{DocumentRef: "a.txt", Kind: constants.KindText})
	require.NoError(t, err)

	seen := make(chan constants.JobStatus, 8)
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, id, func(j *entity.ProcessingJob) { seen <- j.Status })
	}()

	// the first snapshot is sent once the subscription is in place
	select {
	case st := <-seen:
		assert.Equal(t, constants.JobStatusQueued, st)
	case <-ctx.Done():
		t.Fatal("no initial snapshot")
	}

	_, err = mgr.Cancel(ctx, id)
	require.NoError(t, err)

	require.NoError(t, <-done)
	close(seen)
	var last constants.JobStatus
	for st := range seen {
		last = st
	}
	assert.Equal(t, constants.JobStatusCanceled, last)
}
