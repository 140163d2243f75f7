package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MimeLyc/news-video-assembler/pkg/log"
)

// ErrTransport marks network or decoding failures talking to the provider.
// Callers may retry; the job itself may still be running.
var ErrTransport = errors.New("avatar provider transport error")

// Status is the provider-side lifecycle of a render job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusGenerating Status = "generating"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
	StatusDeleted    Status = "deleted"
)

// Terminal reports whether no further polling can change the outcome.
func (s Status) Terminal() bool {
	switch s {
	case StatusReady, StatusError, StatusDeleted:
		return true
	}
	return false
}

// RenderRequest is the body submitted to create a talking-head video.
type RenderRequest struct {
	Script              string `json:"script"`
	ReplicaID           string `json:"replica_id"`
	VideoName           string `json:"video_name"`
	BackgroundURL       string `json:"background_url"`
	BackgroundSourceURL string `json:"background_source_url"`
}

// Job is one observation of a render job.
type Job struct {
	ID          string `json:"video_id"`
	Status      Status `json:"status"`
	DownloadURL string `json:"download_url,omitempty"`
}

// RejectedError is returned when the provider answers a submission with a
// non-success status. The payload is kept verbatim for logging.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("avatar provider rejected request: status %d: %s", e.StatusCode, e.Body)
}

// Config configures the provider client.
type Config struct {
	APIKey  string
	APIURL  string
	Timeout time.Duration
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	return nil
}

// Client talks to the avatar rendering provider. Safe for concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// CreateVideo submits a render request and returns the provider's job id.
func (c *Client) CreateVideo(ctx context.Context, req RenderRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	body, status, err := c.do(ctx, http.MethodPost, "/videos", payload)
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		log.Warn("Avatar render request for %q rejected (%d): %s", req.VideoName, status, body)
		return "", &RejectedError{StatusCode: status, Body: string(body)}
	}

	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return "", fmt.Errorf("%w: decode create response: %v", ErrTransport, err)
	}
	if job.ID == "" {
		return "", &RejectedError{StatusCode: status, Body: string(body)}
	}
	return job.ID, nil
}

// GetVideo fetches the current status of a render job.
func (c *Client) GetVideo(ctx context.Context, id string) (Job, error) {
	path := "/videos/" + url.PathEscape(id) + "?verbose=true"
	body, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return Job{}, err
	}
	if status < 200 || status > 299 {
		return Job{}, fmt.Errorf("%w: status %d for job %s: %s", ErrTransport, status, id, body)
	}

	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return Job{}, fmt.Errorf("%w: decode status response: %v", ErrTransport, err)
	}
	if job.ID == "" {
		job.ID = id
	}
	return job, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}
	return data, resp.StatusCode, nil
}
