package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/MimeLyc/news-video-assembler/internal/config"
	"github.com/MimeLyc/news-video-assembler/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	expr string
	err  error
}

func (f *fakeScheduler) Schedule(expr string) error {
	f.expr = expr
	return f.err
}

type fakeCron struct {
	started bool
	stopped bool
}

func (f *fakeCron) Start() {
	f.started = true
}

func (f *fakeCron) Stop() context.Context {
	f.stopped = true
	return context.Background()
}

type fakeWorkers struct {
	started bool
	stopped bool
}

func (f *fakeWorkers) Start(jobs.Executor) {
	f.started = true
}

func (f *fakeWorkers) Stop() {
	f.stopped = true
}

type fakeHTTP struct {
	listenCalled chan struct{}
	listenErr    error
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

func newFakeHTTP() *fakeHTTP {
	return &fakeHTTP{
		listenCalled: make(chan struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

func (f *fakeHTTP) ListenAndServe(string) error {
	close(f.listenCalled)
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.shutdownCh
	return http.ErrServerClosed
}

func (f *fakeHTTP) Shutdown(context.Context) error {
	f.shutdownOnce.Do(func() { close(f.shutdownCh) })
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		HTTP:    config.HTTPConfig{Addr: "127.0.0.1:0"},
		Janitor: config.JanitorConfig{CronExpr: "0 * * * *", Retention: time.Hour},
	}
}

func noopExecutor(context.Context, *jobs.AssemblyJob) (*jobs.Result, error) {
	return &jobs.Result{}, nil
}

func TestMain_StartsAndStopsComponents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := &fakeScheduler{}
	cronEngine := &fakeCron{}
	workers := &fakeWorkers{}
	httpSrv := newFakeHTTP()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- runWithComponents(ctx, testConfig(), sched, cronEngine, workers, noopExecutor, httpSrv)
	}()

	select {
	case <-httpSrv.listenCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("http server did not start")
	}

	cancel()

	select {
	case err := <-doneCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runWithComponents did not exit after cancellation")
	}

	assert.Equal(t, "0 * * * *", sched.expr)
	assert.True(t, cronEngine.started)
	assert.True(t, cronEngine.stopped)
	assert.True(t, workers.started)
	assert.True(t, workers.stopped)
}

func TestMain_ReturnsHTTPFailure(t *testing.T) {
	httpSrv := newFakeHTTP()
	httpSrv.listenErr = errors.New("address in use")
	workers := &fakeWorkers{}

	err := runWithComponents(context.Background(), testConfig(), &fakeScheduler{}, &fakeCron{}, workers, noopExecutor, httpSrv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
	assert.True(t, workers.stopped)
}

func TestMain_ScheduleFailureStartsNothing(t *testing.T) {
	cronEngine := &fakeCron{}
	workers := &fakeWorkers{}

	err := runWithComponents(context.Background(), testConfig(), &fakeScheduler{err: errors.New("bad cron")}, cronEngine, workers, noopExecutor, newFakeHTTP())
	require.Error(t, err)
	assert.False(t, cronEngine.started)
	assert.False(t, workers.started)
}
