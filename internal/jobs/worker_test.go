package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_Worker_TransitionsStatus(t *testing.T) {
	q := NewQueue(1, nil)
	q.Start(succeed)
	defer q.Stop()

	job, _ := q.Enqueue(EnqueueRequest{Source: "api", DedupeKey: "k1"})

	require.Eventually(t, func() bool {
		got, ok := q.Get(job.ID)
		return ok && got.Status == StatusSuccess
	}, time.Second, 10*time.Millisecond)

	got, _ := q.Get(job.ID)
	require.NotNil(t, got.Result)
	assert.Equal(t, "https://bucket/videos/out.mp4", got.Result.MediaURL)
	assert.InDelta(t, 1.5, got.Result.TotalCost, 1e-9)
}

func TestQueue_StopCancelsRunningJob(t *testing.T) {
	store := newMemoryStore()
	q := NewQueue(1, store)

	started := make(chan struct{})
	q.Start(func(ctx context.Context, _ *AssemblyJob) (*Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	job, _ := q.Enqueue(EnqueueRequest{Source: "api", DedupeKey: "slow"})
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("job never started")
	}

	q.Stop()

	got, ok := q.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, StatusPending, got.Status)
	assert.Empty(t, got.Error)
	assert.Equal(t, StatusPending, store.snapshot()[job.ID].Status)
}
