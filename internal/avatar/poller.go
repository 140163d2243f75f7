package avatar

import (
	"context"
	"fmt"
	"time"

	"github.com/MimeLyc/news-video-assembler/pkg/log"
)

// Outcome classifies how polling ended when it did not fail outright.
type Outcome string

const (
	OutcomeReady    Outcome = "ready"
	OutcomeFailed   Outcome = "failed"
	OutcomeTimedOut Outcome = "timed_out"
)

// PollResult carries the terminal observation. URL is set only for OutcomeReady.
type PollResult struct {
	Outcome  Outcome
	Status   Status
	URL      string
	Attempts int
}

// StatusGetter is the part of Client the poller needs.
type StatusGetter interface {
	GetVideo(ctx context.Context, id string) (Job, error)
}

// Poller drives a render job to a terminal state with a fixed interval.
// At least one of MaxAttempts or MaxWait should be positive; a zero value
// disables that cap.
type Poller struct {
	Getter      StatusGetter
	Interval    time.Duration
	MaxAttempts int
	MaxWait     time.Duration

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error
}

func NewPoller(getter StatusGetter, interval time.Duration, maxAttempts int, maxWait time.Duration) *Poller {
	return &Poller{
		Getter:      getter,
		Interval:    interval,
		MaxAttempts: maxAttempts,
		MaxWait:     maxWait,
	}
}

// PollUntilTerminal polls the job until it is ready, failed, or a cap is hit.
// Provider-side failure and timeouts are reported through the result; only
// transport errors and context cancellation are returned as errors.
func (p *Poller) PollUntilTerminal(ctx context.Context, jobID string) (PollResult, error) {
	now := p.now
	if now == nil {
		now = time.Now
	}
	wait := p.wait
	if wait == nil {
		wait = sleepContext
	}

	start := now()
	var last Status
	for attempt := 1; ; attempt++ {
		job, err := p.Getter.GetVideo(ctx, jobID)
		if err != nil {
			return PollResult{Status: last, Attempts: attempt}, fmt.Errorf("poll job %s: %w", jobID, err)
		}
		last = job.Status

		switch job.Status {
		case StatusReady:
			if job.DownloadURL == "" {
				log.Warn("Job %s is ready but has no download URL", jobID)
				return PollResult{Outcome: OutcomeFailed, Status: job.Status, Attempts: attempt}, nil
			}
			log.Info("Job %s ready after %d polls", jobID, attempt)
			return PollResult{Outcome: OutcomeReady, Status: job.Status, URL: job.DownloadURL, Attempts: attempt}, nil
		case StatusError, StatusDeleted:
			log.Warn("Job %s ended with status %s", jobID, job.Status)
			return PollResult{Outcome: OutcomeFailed, Status: job.Status, Attempts: attempt}, nil
		case StatusQueued, StatusGenerating:
			log.Debug("Job %s is %s, waiting %s", jobID, job.Status, p.Interval)
		default:
			log.Warn("Job %s reported unknown status %q, waiting %s", jobID, job.Status, p.Interval)
		}

		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			log.Warn("Job %s still %s after %d polls, giving up", jobID, job.Status, attempt)
			return PollResult{Outcome: OutcomeTimedOut, Status: last, Attempts: attempt}, nil
		}
		if p.MaxWait > 0 && now().Sub(start)+p.Interval > p.MaxWait {
			log.Warn("Job %s still %s after %s, giving up", jobID, job.Status, now().Sub(start))
			return PollResult{Outcome: OutcomeTimedOut, Status: last, Attempts: attempt}, nil
		}

		if err := wait(ctx, p.Interval); err != nil {
			return PollResult{Status: last, Attempts: attempt}, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
