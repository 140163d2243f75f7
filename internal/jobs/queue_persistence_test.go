package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu   sync.Mutex
	jobs map[string]*AssemblyJob
}

func newMemoryStore() *memoryStore {
	return &memoryStore{jobs: make(map[string]*AssemblyJob)}
}

func (m *memoryStore) LoadJobs(_ context.Context) ([]*AssemblyJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]*AssemblyJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		ret = append(ret, cloneJob(j))
	}
	return ret, nil
}

func (m *memoryStore) UpsertJob(_ context.Context, job *AssemblyJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *memoryStore) DeleteJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

func (m *memoryStore) snapshot() map[string]*AssemblyJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make(map[string]*AssemblyJob, len(m.jobs))
	for id, j := range m.jobs {
		ret[id] = cloneJob(j)
	}
	return ret
}

func TestQueue_RecoversPendingAndRunningJobsFromStore(t *testing.T) {
	store := newMemoryStore()
	now := time.Now()
	store.jobs["job-1"] = &AssemblyJob{
		ID:        "job-1",
		Source:    "api",
		DedupeKey: "news-1",
		Status:    StatusPending,
		Payload:   payload("news-1"),
		CreatedAt: now,
		UpdatedAt: now,
	}
	store.jobs["job-2"] = &AssemblyJob{
		ID:        "job-2",
		Source:    "api",
		DedupeKey: "news-2",
		Status:    StatusRunning,
		Payload:   payload("news-2"),
		CreatedAt: now,
		UpdatedAt: now,
	}

	q := NewQueue(1, store)

	jobs := q.List()
	require.Len(t, jobs, 2)
	byID := map[string]*AssemblyJob{}
	for _, j := range jobs {
		byID[j.ID] = j
	}
	require.Contains(t, byID, "job-2")
	assert.Equal(t, StatusPending, byID["job-2"].Status)

	dup, created := q.Enqueue(EnqueueRequest{DedupeKey: "news-2"})
	assert.False(t, created)
	assert.Equal(t, "job-2", dup.ID)

	fresh, created := q.Enqueue(EnqueueRequest{DedupeKey: "news-3"})
	require.True(t, created)
	assert.Equal(t, "job-3", fresh.ID)

	q.Start(succeed)
	defer q.Stop()

	for _, id := range []string{"job-1", "job-2", "job-3"} {
		require.Eventually(t, func() bool {
			got, ok := q.Get(id)
			return ok && got.Status == StatusSuccess
		}, time.Second, 10*time.Millisecond)
	}

	require.Eventually(t, func() bool {
		persisted := store.snapshot()["job-2"]
		return persisted != nil && persisted.Result != nil &&
			persisted.Result.MediaURL == "https://bucket/videos/out.mp4"
	}, time.Second, 10*time.Millisecond)
}
