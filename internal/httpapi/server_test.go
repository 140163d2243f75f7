package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MimeLyc/news-video-assembler/internal/batch"
	"github.com/MimeLyc/news-video-assembler/internal/billing"
	"github.com/MimeLyc/news-video-assembler/internal/config"
	"github.com/MimeLyc/news-video-assembler/internal/jobs"
	"github.com/MimeLyc/news-video-assembler/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const newsBatch = `{
	"batchId": "news-1",
	"ownerId": "u-1",
	"replicaId": "r-1",
	"videos": [
		{"title": "intro", "script": "hello", "hasAvatar": true},
		{"title": "clip", "sourceUrl": "https://cdn/clip.mp4"}
	]
}`

type fakeRunner struct {
	out  *service.Outcome
	err  error
	docs []batch.Document
}

func (f *fakeRunner) Run(_ context.Context, doc batch.Document) (*service.Outcome, error) {
	f.docs = append(f.docs, doc)
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

type fakeSettingsStore struct {
	current   config.RuntimeSettings
	updateErr error
}

func (f *fakeSettingsStore) GetRuntimeSettings() (config.RuntimeSettings, error) {
	return f.current, nil
}

func (f *fakeSettingsStore) UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error) {
	if f.updateErr != nil {
		return config.RuntimeSettings{}, f.updateErr
	}
	f.current = next
	return f.current, nil
}

type fakeLedger struct {
	events map[string][]billing.Event
}

func (f fakeLedger) ListCharges(_ context.Context, ownerID string) ([]billing.Event, error) {
	return f.events[ownerID], nil
}

func serve(srv *Server, method, target string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_GenerateVideo(t *testing.T) {
	record := batch.Document{"batchId": json.RawMessage(`"news-1"`), "status": json.RawMessage(`"active"`)}
	runner := &fakeRunner{out: &service.Outcome{UpdatedBatch: record, TotalCost: 0.636, MediaURL: "https://bucket/videos/m.mp4"}}
	srv := NewServer(runner, jobs.NewQueue(1, nil))

	rec := serve(srv, http.MethodPost, "/generateVideo", newsBatch)

	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		UpdatedBatch map[string]any `json:"updatedBatch"`
		TotalCost    float64        `json:"totalCost"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "active", got.UpdatedBatch["status"])
	assert.InDelta(t, 0.636, got.TotalCost, 1e-9)
	require.Len(t, runner.docs, 1)
	assert.JSONEq(t, `"u-1"`, string(runner.docs[0]["ownerId"]))
}

func TestServer_GenerateVideo_Failures(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		err         error
		wantCode    int
		wantDetails string
	}{
		{
			name:        "invalid json",
			body:        `{"batchId":`,
			wantCode:    http.StatusBadRequest,
			wantDetails: "invalid json body",
		},
		{
			name:        "pipeline failure",
			body:        newsBatch,
			err:         service.WrapError(errors.New("ffmpeg exited with status 1"), service.ErrMedia, "assembly failed"),
			wantCode:    http.StatusInternalServerError,
			wantDetails: "ffmpeg exited with status 1",
		},
		{
			name:        "validation",
			body:        `{"batchId":"b"}`,
			err:         service.WrapError(errors.New("batch b has no segments"), service.ErrValidation, "invalid batch"),
			wantCode:    http.StatusBadRequest,
			wantDetails: "batch b has no segments",
		},
		{
			name:        "different document in flight",
			body:        newsBatch,
			err:         service.NewError(service.ErrConflict, "a different document for this batch is already being assembled"),
			wantCode:    http.StatusConflict,
			wantDetails: "already being assembled",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(&fakeRunner{err: tt.err}, jobs.NewQueue(1, nil))
			rec := serve(srv, http.MethodPost, "/generateVideo", tt.body)

			require.Equal(t, tt.wantCode, rec.Code)
			var got map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, "Failed to process request", got["error"])
			assert.Contains(t, got["details"], tt.wantDetails)
		})
	}

	rec := serve(NewServer(&fakeRunner{}, jobs.NewQueue(1, nil)), http.MethodGet, "/generateVideo", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_CreateJob_DedupesByBatchID(t *testing.T) {
	queue := jobs.NewQueue(1, nil)
	srv := NewServer(&fakeRunner{}, queue)

	first := serve(srv, http.MethodPost, "/api/jobs", newsBatch)
	require.Equal(t, http.StatusAccepted, first.Code)
	var created enqueueJobResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &created))
	require.True(t, created.Created)
	assert.Equal(t, "news-1", created.Job.DedupeKey)
	assert.Equal(t, "api", created.Job.Source)
	assert.Equal(t, jobs.StatusPending, created.Job.Status)

	second := serve(srv, http.MethodPost, "/api/jobs?source=editor", newsBatch)
	require.Equal(t, http.StatusOK, second.Code)
	var dup enqueueJobResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &dup))
	assert.False(t, dup.Created)
	assert.Equal(t, created.Job.ID, dup.Job.ID)

	list := serve(srv, http.MethodGet, "/api/jobs?status=pending", "")
	require.Equal(t, http.StatusOK, list.Code)
	var listed []*jobs.AssemblyJob
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)
}

func TestServer_CreateJob_RejectsInvalidBatch(t *testing.T) {
	srv := NewServer(&fakeRunner{}, jobs.NewQueue(1, nil))

	rec := serve(srv, http.MethodPost, "/api/jobs", `{"batchId":"b","videos":[{"title":"x"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no avatar and no sourceUrl")

	rec = serve(srv, http.MethodPost, "/api/jobs", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Failed to process request", got["error"])
	assert.Contains(t, got["details"], "invalid json body")
}

func TestServer_GetJobDetail(t *testing.T) {
	queue := jobs.NewQueue(1, nil)
	srv := NewServer(&fakeRunner{}, queue)

	var doc batch.Document
	require.NoError(t, json.Unmarshal([]byte(newsBatch), &doc))
	job, _ := queue.Enqueue(jobs.EnqueueRequest{Source: "api", DedupeKey: "news-1", Payload: doc})

	rec := serve(srv, http.MethodGet, "/api/jobs/"+job.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got jobDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "news-1", got.BatchID)
	assert.Equal(t, "u-1", got.OwnerID)
	require.Len(t, got.Segments, 2)
	assert.Equal(t, "avatar", got.Segments[0].Path)
	assert.Equal(t, "transcription", got.Segments[1].Path)
	assert.Equal(t, "https://cdn/clip.mp4", got.Segments[1].SourceURL)

	assert.Equal(t, http.StatusNotFound, serve(srv, http.MethodGet, "/api/jobs/job-404", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(srv, http.MethodGet, "/api/jobs/"+job.ID+"/unknown", "").Code)
}

func TestServer_RetryJob(t *testing.T) {
	queue := jobs.NewQueue(1, nil)
	srv := NewServer(&fakeRunner{}, queue)

	var doc batch.Document
	require.NoError(t, json.Unmarshal([]byte(newsBatch), &doc))
	job, _ := queue.Enqueue(jobs.EnqueueRequest{Source: "api", DedupeKey: "news-1", Payload: doc})

	rec := serve(srv, http.MethodPost, "/api/jobs/"+job.ID+"/retry", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	queue.Start(func(context.Context, *jobs.AssemblyJob) (*jobs.Result, error) {
		return nil, errors.New("upload failed")
	})
	defer queue.Stop()
	require.Eventually(t, func() bool {
		got, ok := queue.Get(job.ID)
		return ok && got.Status == jobs.StatusFailed
	}, time.Second, 10*time.Millisecond)

	rec = serve(srv, http.MethodPost, "/api/jobs/"+job.ID+"/retry", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var retried enqueueJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &retried))
	assert.True(t, retried.Created)
	assert.Equal(t, "retry", retried.Job.Source)
	assert.NotEqual(t, job.ID, retried.Job.ID)
}

func TestServer_Settings(t *testing.T) {
	store := &fakeSettingsStore{current: config.RuntimeSettings{
		AvatarRatePerSecond:     0.0208,
		TranscribeRatePerMinute: 0.006,
		CleanupCronExpr:         "0 * * * *",
	}}
	var applied []config.RuntimeSettings
	srv := NewServer(&fakeRunner{}, jobs.NewQueue(1, nil),
		WithRuntimeSettingsStore(store),
		WithRuntimeSettingsApplier(func(next config.RuntimeSettings) error {
			applied = append(applied, next)
			return nil
		}),
	)

	rec := serve(srv, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got config.RuntimeSettings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, store.current, got)

	body := `{"avatar_rate_per_second":0.05,"transcribe_rate_per_minute":0.01,"cleanup_cron_expr":"*/30 * * * *"}`
	rec = serve(srv, http.MethodPut, "/api/settings", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, applied, 1)
	assert.InDelta(t, 0.05, applied[0].AvatarRatePerSecond, 1e-9)
	assert.Equal(t, "*/30 * * * *", store.current.CleanupCronExpr)

	rec = serve(srv, http.MethodPut, "/api/settings", `{"avatar_rate_per_second":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, applied, 1)
}

func TestServer_UpdateSettings_Failures(t *testing.T) {
	valid := `{"avatar_rate_per_second":0.05,"transcribe_rate_per_minute":0.01,"cleanup_cron_expr":"0 * * * *"}`

	srv := NewServer(&fakeRunner{}, jobs.NewQueue(1, nil),
		WithRuntimeSettingsStore(&fakeSettingsStore{updateErr: errors.New("disk full")}))
	rec := serve(srv, http.MethodPut, "/api/settings", valid)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	srv = NewServer(&fakeRunner{}, jobs.NewQueue(1, nil),
		WithRuntimeSettingsStore(&fakeSettingsStore{}),
		WithRuntimeSettingsApplier(func(config.RuntimeSettings) error { return errors.New("bad cron") }))
	rec = serve(srv, http.MethodPut, "/api/settings", valid)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "bad cron")

	rec = serve(NewServer(&fakeRunner{}, jobs.NewQueue(1, nil)), http.MethodGet, "/api/settings", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestServer_Charges(t *testing.T) {
	ledger := fakeLedger{events: map[string][]billing.Event{
		"u-1": {{OwnerID: "u-1", Amount: 0.5}, {OwnerID: "u-1", Amount: 0.25}},
	}}
	srv := NewServer(&fakeRunner{}, jobs.NewQueue(1, nil), WithChargeLedger(ledger))

	rec := serve(srv, http.MethodGet, "/api/charges?owner=u-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got chargesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.InDelta(t, 0.75, got.Total, 1e-9)
	assert.Len(t, got.Charges, 2)

	assert.Equal(t, http.StatusBadRequest, serve(srv, http.MethodGet, "/api/charges", "").Code)
}

func TestServer_Healthz(t *testing.T) {
	rec := serve(NewServer(&fakeRunner{}, jobs.NewQueue(1, nil)), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

// readEvent returns the data line of the next "jobs" event, skipping
// heartbeat comments.
func readEvent(t *testing.T, reader *bufio.Reader) []byte {
	t.Helper()
	for {
		line, err := reader.ReadBytes('\n')
		require.NoError(t, err)
		if bytes.HasPrefix(line, []byte("data: ")) {
			return bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data: ")))
		}
	}
}

func TestServer_JobStream(t *testing.T) {
	queue := jobs.NewQueue(1, nil)
	queue.Enqueue(jobs.EnqueueRequest{Source: "api", DedupeKey: "news-1"})
	srv := NewServer(&fakeRunner{}, queue, WithHeartbeatInterval(10*time.Millisecond))

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/jobs/stream?status=pending", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	reader := bufio.NewReader(resp.Body)

	var listed []*jobs.AssemblyJob
	require.NoError(t, json.Unmarshal(readEvent(t, reader), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "news-1", listed[0].DedupeKey)

	queue.Enqueue(jobs.EnqueueRequest{Source: "api", DedupeKey: "news-2"})
	require.NoError(t, json.Unmarshal(readEvent(t, reader), &listed))
	require.Len(t, listed, 2)
	assert.Equal(t, "news-2", listed[0].DedupeKey)
}
