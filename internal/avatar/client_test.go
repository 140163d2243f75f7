package avatar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{APIKey: "test-key", APIURL: server.URL + "/"})
	require.NoError(t, err)
	return client
}

func TestNewClient_InvalidConfig(t *testing.T) {
	_, err := NewClient(Config{APIURL: "https://tavusapi.com/v2"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestClient_CreateVideo(t *testing.T) {
	var got RenderRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/videos", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"video_id":"v-123","status":"queued"}`))
	})

	id, err := client.CreateVideo(context.Background(), RenderRequest{
		Script:        "Good morning",
		ReplicaID:     "r-1",
		VideoName:     "intro",
		BackgroundURL: "https://stock/bg.mp4",
	})
	require.NoError(t, err)
	assert.Equal(t, "v-123", id)
	assert.Equal(t, "Good morning", got.Script)
	assert.Equal(t, "r-1", got.ReplicaID)
	assert.Equal(t, "intro", got.VideoName)
	assert.Equal(t, "https://stock/bg.mp4", got.BackgroundURL)
	assert.Empty(t, got.BackgroundSourceURL)
}

func TestClient_CreateVideoRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid replica"}`))
	})

	_, err := client.CreateVideo(context.Background(), RenderRequest{ReplicaID: "bad"})
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusBadRequest, rejected.StatusCode)
	assert.Contains(t, rejected.Body, "invalid replica")
	assert.NotErrorIs(t, err, ErrTransport)
}

func TestClient_GetVideo(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/videos/v-9", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("verbose"))
		_, _ = w.Write([]byte(`{"status":"ready","download_url":"https://provider/v-9.mp4"}`))
	})

	job, err := client.GetVideo(context.Background(), "v-9")
	require.NoError(t, err)
	assert.Equal(t, "v-9", job.ID)
	assert.Equal(t, StatusReady, job.Status)
	assert.Equal(t, "https://provider/v-9.mp4", job.DownloadURL)
}

func TestClient_GetVideoTransportErrors(t *testing.T) {
	t.Run("bad body", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		})
		_, err := client.GetVideo(context.Background(), "v-1")
		assert.ErrorIs(t, err, ErrTransport)
	})

	t.Run("server error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		_, err := client.GetVideo(context.Background(), "v-1")
		assert.ErrorIs(t, err, ErrTransport)
	})

	t.Run("connection refused", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		addr := server.URL
		server.Close()

		client, err := NewClient(Config{APIKey: "k", APIURL: addr})
		require.NoError(t, err)
		_, err = client.GetVideo(context.Background(), "v-1")
		assert.ErrorIs(t, err, ErrTransport)
	})
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusReady.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.True(t, StatusDeleted.Terminal())
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusGenerating.Terminal())
	assert.False(t, Status("rendering").Terminal())
}
