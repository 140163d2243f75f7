package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/MimeLyc/news-video-assembler/pkg/log"
)

// Path identifies which resolution path produced a charge.
type Path string

const (
	PathAvatar     Path = "avatar"
	PathTranscribe Path = "transcribe"
)

// Event is one charge for one resolved segment. RunID tells apart repeated
// assemblies of the same batch.
type Event struct {
	OwnerID         string  `json:"ownerId"`
	BatchID         string  `json:"batchId,omitempty"`
	RunID           string  `json:"runId,omitempty"`
	Path            Path    `json:"path"`
	Amount          float64 `json:"amount"`
	DurationSeconds float64 `json:"durationSeconds"`
	SegmentIndex    int     `json:"segmentIndex"`
}

// Rates are the per-unit multipliers for each path.
type Rates struct {
	AvatarPerSecond     float64
	TranscribePerMinute float64
}

// RateCard holds the current rates. Rates may be replaced at runtime.
type RateCard struct {
	mu    sync.RWMutex
	rates Rates
}

func NewRateCard(rates Rates) *RateCard {
	return &RateCard{rates: rates}
}

func (c *RateCard) Rates() Rates {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rates
}

func (c *RateCard) Set(rates Rates) {
	c.mu.Lock()
	c.rates = rates
	c.mu.Unlock()
}

// AvatarEvent charges rendered video by the second.
func (c *RateCard) AvatarEvent(ownerID string, index int, seconds float64) Event {
	return Event{
		OwnerID:         ownerID,
		Path:            PathAvatar,
		Amount:          seconds * c.Rates().AvatarPerSecond,
		DurationSeconds: seconds,
		SegmentIndex:    index,
	}
}

// TranscribeEvent charges transcribed audio by the minute.
func (c *RateCard) TranscribeEvent(ownerID string, index int, seconds float64) Event {
	return Event{
		OwnerID:         ownerID,
		Path:            PathTranscribe,
		Amount:          seconds / 60 * c.Rates().TranscribePerMinute,
		DurationSeconds: seconds,
		SegmentIndex:    index,
	}
}

// Sink receives charges. Implementations must not block the pipeline on
// failures; Charge reports them only for logging.
type Sink interface {
	Charge(ctx context.Context, event Event) error
}

// LogSink records charges without forwarding them anywhere.
type LogSink struct{}

func (LogSink) Charge(_ context.Context, event Event) error {
	log.Info("Billing %s: %.4f for %.2fs (%s, batch %s run %s segment %d)",
		event.OwnerID, event.Amount, event.DurationSeconds, event.Path, event.BatchID, event.RunID, event.SegmentIndex)
	return nil
}

// HTTPSink posts {ownerId, newCredit} to the credit-balance endpoint.
type HTTPSink struct {
	url        string
	httpClient *http.Client
}

func NewHTTPSink(url string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSink{url: url, httpClient: &http.Client{Timeout: timeout}}
}

type chargeRequest struct {
	OwnerID   string  `json:"ownerId"`
	NewCredit float64 `json:"newCredit"`
}

func (s *HTTPSink) Charge(ctx context.Context, event Event) error {
	payload, err := json.Marshal(chargeRequest{OwnerID: event.OwnerID, NewCredit: event.Amount})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("billing request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("billing request failed with status %d: %s", resp.StatusCode, body)
	}
	log.Debug("Charged %s %.4f", event.OwnerID, event.Amount)
	return nil
}

// MultiSink forwards each charge to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Charge(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Charge(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Total sums the amounts of events.
func Total(events []Event) float64 {
	var sum float64
	for _, e := range events {
		sum += e.Amount
	}
	return sum
}
