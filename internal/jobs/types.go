package jobs

import (
	"time"

	"github.com/MimeLyc/news-video-assembler/internal/batch"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

type EnqueueRequest struct {
	Source    string
	DedupeKey string
	Payload   batch.Document
}

// Result is what a successful assembly leaves on its job.
type Result struct {
	MediaURL  string  `json:"media_url"`
	TotalCost float64 `json:"total_cost"`
	Skipped   []int   `json:"skipped,omitempty"`
}

// AssemblyJob is one queued batch assembly. DedupeKey is the batchId.
type AssemblyJob struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"`
	DedupeKey string         `json:"dedupe_key"`
	Payload   batch.Document `json:"payload"`
	Status    Status         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Result    *Result        `json:"result,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
