package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/news-video-assembler/pkg/log"
	"github.com/google/uuid"
)

const videoContentType = "video/mp4"

// Store is a blob sink returning a durable hosted location for each object.
// size is -1 when unknown.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
}

// Publisher hosts pipeline media in a Store under a common key prefix.
type Publisher struct {
	store      Store
	prefix     string
	workDir    string
	httpClient *http.Client
	newKey     func() string
}

func NewPublisher(store Store, keyPrefix, workDir string, downloadTimeout time.Duration) *Publisher {
	if workDir == "" {
		workDir = os.TempDir()
	}
	if downloadTimeout <= 0 {
		downloadTimeout = 10 * time.Minute
	}
	return &Publisher{
		store:      store,
		prefix:     keyPrefix,
		workDir:    workDir,
		httpClient: &http.Client{Timeout: downloadTimeout},
		newKey:     uuid.NewString,
	}
}

// UploadFile publishes a local video under prefix+basename. The local file is
// left in place; callers own its cleanup.
func (p *Publisher) UploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	key := p.prefix + filepath.Base(path)
	location, err := p.store.Put(ctx, key, f, info.Size(), videoContentType)
	if err != nil {
		return "", err
	}
	log.Info("File uploaded successfully: %s", location)
	return location, nil
}

// Rehost copies a remote asset into the store so the pipeline no longer
// depends on the provider keeping it. The download is staged in the work dir
// and removed afterwards.
func (p *Publisher) Rehost(ctx context.Context, sourceURL string) (string, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return "", errors.New("source url is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %d", sourceURL, resp.StatusCode)
	}

	if err := os.MkdirAll(p.workDir, 0o755); err != nil {
		return "", err
	}
	staged := filepath.Join(p.workDir, p.newKey()+".mp4")
	defer func() {
		if err := os.Remove(staged); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("Failed to remove staged download %s: %v", staged, err)
		}
	}()

	f, err := os.Create(staged)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return "", fmt.Errorf("download %s: %w", sourceURL, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	location, err := p.UploadFile(ctx, staged)
	if err != nil {
		return "", fmt.Errorf("rehost %s: %w", sourceURL, err)
	}
	return location, nil
}
