package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MimeLyc/news-video-assembler/internal/batch"
	"github.com/MimeLyc/news-video-assembler/pkg/log"
)

// Client writes the finished batch record back to the news/course service.
type Client struct {
	url        string
	httpClient *http.Client
}

func NewClient(url string, timeout time.Duration) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("batch metadata URL is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{url: url, httpClient: &http.Client{Timeout: timeout}}, nil
}

type updateRequest struct {
	BatchID  string         `json:"batchId"`
	NewBatch batch.Document `json:"newBatch"`
}

// UpdateBatch replaces the stored batch with record. Any non-2xx answer is an error.
func (c *Client) UpdateBatch(ctx context.Context, batchID string, record batch.Document) error {
	payload, err := json.Marshal(updateRequest{BatchID: batchID, NewBatch: record})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("update batch %s: %w", batchID, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("update batch %s failed with status %d: %s", batchID, resp.StatusCode, body)
	}

	log.Info("Batch %s updated", batchID)
	return nil
}
