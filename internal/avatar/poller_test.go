package avatar

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedGetter struct {
	mu    sync.Mutex
	jobs  []Job
	errs  []error
	calls int
}

func (g *scriptedGetter) GetVideo(_ context.Context, id string) (Job, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	g.calls++
	if i < len(g.errs) && g.errs[i] != nil {
		return Job{}, g.errs[i]
	}
	if i >= len(g.jobs) {
		i = len(g.jobs) - 1
	}
	job := g.jobs[i]
	job.ID = id
	return job, nil
}

// recordingWait advances a fake clock instead of sleeping.
type recordingWait struct {
	clock time.Time
	waits []time.Duration
}

func (w *recordingWait) install(p *Poller) {
	p.now = func() time.Time { return w.clock }
	p.wait = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.waits = append(w.waits, d)
		w.clock = w.clock.Add(d)
		return nil
	}
}

func TestPoller_GeneratingThenReady(t *testing.T) {
	getter := &scriptedGetter{jobs: []Job{
		{Status: StatusGenerating},
		{Status: StatusGenerating},
		{Status: StatusGenerating},
		{Status: StatusReady, DownloadURL: "https://provider/out.mp4"},
	}}
	p := NewPoller(getter, 10*time.Second, 10, 0)
	w := &recordingWait{clock: time.Unix(0, 0)}
	w.install(p)

	res, err := p.PollUntilTerminal(context.Background(), "v-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeReady, res.Outcome)
	assert.Equal(t, "https://provider/out.mp4", res.URL)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second, 10 * time.Second}, w.waits)
}

func TestPoller_TerminalFailures(t *testing.T) {
	for _, status := range []Status{StatusError, StatusDeleted} {
		t.Run(string(status), func(t *testing.T) {
			getter := &scriptedGetter{jobs: []Job{{Status: StatusQueued}, {Status: status}}}
			p := NewPoller(getter, time.Second, 5, 0)
			(&recordingWait{}).install(p)

			res, err := p.PollUntilTerminal(context.Background(), "v-1")
			require.NoError(t, err)
			assert.Equal(t, OutcomeFailed, res.Outcome)
			assert.Equal(t, status, res.Status)
			assert.Empty(t, res.URL)
		})
	}
}

func TestPoller_ReadyWithoutURLIsFailure(t *testing.T) {
	getter := &scriptedGetter{jobs: []Job{{Status: StatusReady}}}
	p := NewPoller(getter, time.Second, 5, 0)
	(&recordingWait{}).install(p)

	res, err := p.PollUntilTerminal(context.Background(), "v-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
}

func TestPoller_MaxAttempts(t *testing.T) {
	getter := &scriptedGetter{jobs: []Job{{Status: StatusGenerating}}}
	p := NewPoller(getter, 10*time.Second, 3, 0)
	w := &recordingWait{}
	w.install(p)

	res, err := p.PollUntilTerminal(context.Background(), "v-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Equal(t, StatusGenerating, res.Status)
	assert.Equal(t, 3, getter.calls)
	assert.Len(t, w.waits, 2)
}

func TestPoller_MaxWait(t *testing.T) {
	getter := &scriptedGetter{jobs: []Job{{Status: StatusQueued}}}
	p := NewPoller(getter, 10*time.Second, 0, 35*time.Second)
	w := &recordingWait{clock: time.Unix(100, 0)}
	w.install(p)

	res, err := p.PollUntilTerminal(context.Background(), "v-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Equal(t, 4, getter.calls)
}

func TestPoller_UnknownStatusKeepsPolling(t *testing.T) {
	getter := &scriptedGetter{jobs: []Job{{Status: "rendering"}, {Status: StatusReady, DownloadURL: "u"}}}
	p := NewPoller(getter, time.Second, 5, 0)
	(&recordingWait{}).install(p)

	res, err := p.PollUntilTerminal(context.Background(), "v-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeReady, res.Outcome)
}

func TestPoller_TransportErrorPropagates(t *testing.T) {
	getter := &scriptedGetter{
		jobs: []Job{{Status: StatusGenerating}, {Status: StatusReady, DownloadURL: "u"}},
		errs: []error{nil, ErrTransport},
	}
	p := NewPoller(getter, time.Second, 10, 0)
	(&recordingWait{}).install(p)

	_, err := p.PollUntilTerminal(context.Background(), "v-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, 2, getter.calls, "polling must not resume after a transport error")
}

func TestPoller_ContextCancelStopsPolling(t *testing.T) {
	getter := &scriptedGetter{jobs: []Job{{Status: StatusGenerating}}}
	p := NewPoller(getter, time.Hour, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.PollUntilTerminal(ctx, "v-1")
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after cancellation")
	}
}
