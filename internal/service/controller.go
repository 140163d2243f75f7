package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/MimeLyc/news-video-assembler/internal/assembler"
	"github.com/MimeLyc/news-video-assembler/internal/batch"
	"github.com/MimeLyc/news-video-assembler/internal/billing"
	"github.com/MimeLyc/news-video-assembler/internal/config"
	"github.com/MimeLyc/news-video-assembler/internal/jobs"
	"github.com/MimeLyc/news-video-assembler/pkg/log"
	"golang.org/x/sync/singleflight"
)

const statusActive = "active"

type Assembler interface {
	Assemble(ctx context.Context, b batch.Batch) (*assembler.Result, error)
}

type MetadataSink interface {
	UpdateBatch(ctx context.Context, batchID string, record batch.Document) error
}

// Outcome is what a successful run hands back to its caller.
type Outcome struct {
	UpdatedBatch batch.Document  `json:"updatedBatch"`
	TotalCost    float64         `json:"totalCost"`
	MediaURL     string          `json:"mediaUrl"`
	Skipped      []int           `json:"skipped,omitempty"`
	Billing      []billing.Event `json:"-"`
}

// Controller runs one batch end to end: assemble, then persist the record.
// Concurrent runs of an identical document share a single execution; a
// different document for a batchId already in flight is rejected.
type Controller struct {
	assembler Assembler
	metadata  MetadataSink
	rates     *billing.RateCard
	group     singleflight.Group

	mu       sync.Mutex
	inflight map[string]*flight
}

type flight struct {
	digest string
	refs   int
}

func NewController(a Assembler, metadata MetadataSink, rates *billing.RateCard) *Controller {
	return &Controller{
		assembler: a,
		metadata:  metadata,
		rates:     rates,
		inflight:  make(map[string]*flight),
	}
}

// Run assembles the batch described by doc and writes the updated record to
// the metadata sink. Nothing is persisted unless assembly succeeded.
func (c *Controller) Run(ctx context.Context, doc batch.Document) (*Outcome, error) {
	b, err := doc.Batch()
	if err != nil {
		return nil, WrapError(err, ErrValidation, "invalid batch document")
	}
	if err := b.Validate(); err != nil {
		return nil, WrapError(err, ErrValidation, "invalid batch")
	}

	digest, err := documentDigest(doc)
	if err != nil {
		return nil, WrapError(err, ErrValidation, "invalid batch document")
	}
	release, err := c.acquire(b.BatchID, digest)
	if err != nil {
		return nil, err
	}
	defer release()

	v, err, shared := c.group.Do(b.BatchID+"@"+digest, func() (any, error) {
		var out *Outcome
		err := SafeExecute(func() error {
			var runErr error
			out, runErr = c.run(ctx, doc, b)
			return runErr
		})
		return out, err
	})
	if shared {
		log.Debug("Batch %s joined an in-flight run", b.BatchID)
	}
	if err != nil {
		return nil, err
	}
	return v.(*Outcome), nil
}

// acquire registers a caller for batchID. It fails while another document
// for the same batch is being assembled.
func (c *Controller) acquire(batchID, digest string) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.inflight[batchID]
	if ok && f.digest != digest {
		return nil, NewError(ErrConflict, "a different document for this batch is already being assembled").
			WithContext("batchId", batchID)
	}
	if !ok {
		f = &flight{digest: digest}
		c.inflight[batchID] = f
	}
	f.refs++

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if f.refs--; f.refs == 0 {
			delete(c.inflight, batchID)
		}
	}, nil
}

// documentDigest hashes the compact encoding of doc. Top-level keys are
// sorted by encoding/json, so field order and whitespace do not matter.
func documentDigest(doc batch.Document) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (c *Controller) run(ctx context.Context, doc batch.Document, b batch.Batch) (*Outcome, error) {
	log.Info("Assembling batch %s with %d segments", b.BatchID, len(b.Videos))

	res, err := c.assembler.Assemble(ctx, b)
	if err != nil {
		return nil, WrapError(err, classifyAssembly(err), "assembly failed").
			WithContext("batchId", b.BatchID)
	}

	record, err := buildRecord(doc, res)
	if err != nil {
		return nil, WrapError(err, ErrUnknown, "build batch record")
	}

	if err := c.metadata.UpdateBatch(ctx, b.BatchID, record); err != nil {
		return nil, WrapError(err, ErrPersistence, "update batch metadata").
			WithContext("batchId", b.BatchID).
			WithContext("mediaUrl", res.MergedLocation)
	}

	log.Info("Batch %s done: %s (cost %.4f, %d skipped)", b.BatchID, res.MergedLocation, res.TotalCost, len(res.Skipped))
	return &Outcome{
		UpdatedBatch: record,
		TotalCost:    res.TotalCost,
		MediaURL:     res.MergedLocation,
		Skipped:      res.Skipped,
		Billing:      res.Billing,
	}, nil
}

// buildRecord returns {...original, videos, status: "active", mediaUrl}.
func buildRecord(doc batch.Document, res *assembler.Result) (batch.Document, error) {
	record, err := doc.With("videos", res.Segments)
	if err != nil {
		return nil, err
	}
	if record, err = record.With("status", statusActive); err != nil {
		return nil, err
	}
	return record.With("mediaUrl", res.MergedLocation)
}

// ExecuteJob is the jobs.Executor for queued batches.
func (c *Controller) ExecuteJob(ctx context.Context, job *jobs.AssemblyJob) (*jobs.Result, error) {
	out, err := c.Run(ctx, job.Payload)
	if err != nil {
		return nil, err
	}
	return &jobs.Result{
		MediaURL:  out.MediaURL,
		TotalCost: out.TotalCost,
		Skipped:   out.Skipped,
	}, nil
}

// ApplyRuntimeSettings swaps the billing rates used by subsequent charges.
func (c *Controller) ApplyRuntimeSettings(next config.RuntimeSettings) error {
	if c.rates == nil {
		return fmt.Errorf("rate card is not configured")
	}
	c.rates.Set(billing.Rates{
		AvatarPerSecond:     next.AvatarRatePerSecond,
		TranscribePerMinute: next.TranscribeRatePerMinute,
	})
	log.Info("Billing rates updated: avatar=%.4f/s transcribe=%.4f/min",
		next.AvatarRatePerSecond, next.TranscribeRatePerMinute)
	return nil
}
