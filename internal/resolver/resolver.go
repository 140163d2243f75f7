package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/MimeLyc/news-video-assembler/internal/avatar"
	"github.com/MimeLyc/news-video-assembler/internal/batch"
	"github.com/MimeLyc/news-video-assembler/internal/billing"
	"github.com/MimeLyc/news-video-assembler/internal/transcribe"
	"github.com/MimeLyc/news-video-assembler/pkg/log"
	"golang.org/x/text/language"
)

// State is the explicit outcome of resolving one segment.
type State string

const (
	// Resolved: URL is playable and any billing has been charged.
	Resolved State = "resolved"
	// Degraded: URL is playable but derived data (the transcript) is missing.
	Degraded State = "degraded"
	// Skipped: the segment produced no media and is left out of the merge.
	Skipped State = "skipped"
)

// Resolution is the result of a non-fatal resolve. Hard failures are
// returned as errors instead.
type Resolution struct {
	State          State
	URL            string
	Script         string
	ScriptLanguage string
	Billing        *billing.Event
	Reason         string
}

// Usable reports whether the segment contributes media to the merge.
func (r Resolution) Usable() bool {
	return r.State == Resolved || r.State == Degraded
}

// BatchContext is the per-batch information a segment needs.
type BatchContext struct {
	BatchID string
	// RunID identifies one assembly attempt of the batch.
	RunID     string
	OwnerID   string
	ReplicaID string
	Index     int
}

type AvatarProvider interface {
	CreateVideo(ctx context.Context, req avatar.RenderRequest) (string, error)
}

type JobPoller interface {
	PollUntilTerminal(ctx context.Context, jobID string) (avatar.PollResult, error)
}

type MediaTool interface {
	ExtractAudio(ctx context.Context, source string) (string, error)
	ProbeDuration(ctx context.Context, path string) (float64, error)
	Remove(path string) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

type Rehoster interface {
	Rehost(ctx context.Context, sourceURL string) (string, error)
}

// Deps are the collaborators a Resolver dispatches to.
type Deps struct {
	Avatar      AvatarProvider
	Poller      JobPoller
	Media       MediaTool
	Transcriber Transcriber
	Rehoster    Rehoster
	Rates       *billing.RateCard
	Billing     billing.Sink
}

// Resolver turns a segment into playable media. hasAvatar alone selects the path.
type Resolver struct {
	deps Deps
}

func New(deps Deps) (*Resolver, error) {
	switch {
	case deps.Avatar == nil, deps.Poller == nil:
		return nil, fmt.Errorf("avatar provider and poller are required")
	case deps.Media == nil:
		return nil, fmt.Errorf("media tool is required")
	case deps.Transcriber == nil:
		return nil, fmt.Errorf("transcriber is required")
	case deps.Rehoster == nil:
		return nil, fmt.Errorf("rehoster is required")
	case deps.Rates == nil:
		return nil, fmt.Errorf("rate card is required")
	}
	if deps.Billing == nil {
		deps.Billing = billing.LogSink{}
	}
	return &Resolver{deps: deps}, nil
}

// Resolve dispatches seg to the avatar or transcription path.
func (r *Resolver) Resolve(ctx context.Context, seg batch.Segment, bc BatchContext) (Resolution, error) {
	if seg.HasAvatar {
		return r.resolveAvatar(ctx, seg, bc)
	}
	return r.resolveTranscription(ctx, seg, bc)
}

// RenderRequestFor maps the segment's background onto the provider fields:
// uploaded assets go to background_source_url, stock URLs to background_url.
func RenderRequestFor(seg batch.Segment, replicaID string) avatar.RenderRequest {
	req := avatar.RenderRequest{
		Script:    seg.Script,
		ReplicaID: replicaID,
		VideoName: seg.Title,
	}
	switch seg.BackgroundKind {
	case batch.BackgroundUploaded:
		req.BackgroundSourceURL = seg.BackgroundRef
	case batch.BackgroundStockURL:
		req.BackgroundURL = seg.BackgroundRef
	}
	return req
}

func (r *Resolver) resolveAvatar(ctx context.Context, seg batch.Segment, bc BatchContext) (Resolution, error) {
	sl := log.With("batch", bc.BatchID, "segment", bc.Index)

	jobID, err := r.deps.Avatar.CreateVideo(ctx, RenderRequestFor(seg, bc.ReplicaID))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Resolution{}, ctxErr
		}
		sl.Warn("Skipped %q: render request failed: %v", seg.Title, err)
		return skipped("render request failed: " + err.Error()), nil
	}
	sl.Info("Submitted as avatar job %s", jobID)

	res, err := r.deps.Poller.PollUntilTerminal(ctx, jobID)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Resolution{}, err
		}
		sl.Warn("Skipped: polling job %s failed: %v", jobID, err)
		return skipped("polling failed: " + err.Error()), nil
	}
	switch res.Outcome {
	case avatar.OutcomeReady:
	case avatar.OutcomeTimedOut:
		return skipped(fmt.Sprintf("job %s timed out after %d polls", jobID, res.Attempts)), nil
	default:
		return skipped(fmt.Sprintf("job %s ended with status %s", jobID, res.Status)), nil
	}

	seconds, err := r.deps.Media.ProbeDuration(ctx, res.URL)
	if err != nil {
		return Resolution{}, fmt.Errorf("probe rendered video for segment %d: %w", bc.Index, err)
	}
	event := r.charge(ctx, bc, r.deps.Rates.AvatarEvent(bc.OwnerID, bc.Index, seconds))

	hosted, err := r.deps.Rehoster.Rehost(ctx, res.URL)
	if err != nil {
		return Resolution{}, fmt.Errorf("rehost rendered video for segment %d: %w", bc.Index, err)
	}

	return Resolution{
		State:   Resolved,
		URL:     hosted,
		Script:  seg.Script,
		Billing: &event,
	}, nil
}

// resolveTranscription keeps the source clip and attaches its transcript.
// The extracted audio is always removed before returning.
func (r *Resolver) resolveTranscription(ctx context.Context, seg batch.Segment, bc BatchContext) (Resolution, error) {
	audio, err := r.deps.Media.ExtractAudio(ctx, seg.SourceURL)
	if err != nil {
		return Resolution{}, fmt.Errorf("extract audio for segment %d: %w", bc.Index, err)
	}
	defer r.removeAudio(audio)

	transcript, err := r.deps.Transcriber.Transcribe(ctx, audio)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Resolution{}, ctxErr
		}
		// No transcript was delivered, so nothing is probed or billed.
		log.With("batch", bc.BatchID, "segment", bc.Index).
			Warn("Transcription failed, keeping clip without script: %v", err)
		return Resolution{
			State:  Degraded,
			URL:    seg.SourceURL,
			Reason: "transcription failed: " + err.Error(),
		}, nil
	}

	seconds, err := r.deps.Media.ProbeDuration(ctx, audio)
	if err != nil {
		return Resolution{}, fmt.Errorf("probe audio for segment %d: %w", bc.Index, err)
	}
	event := r.charge(ctx, bc, r.deps.Rates.TranscribeEvent(bc.OwnerID, bc.Index, seconds))

	var lang string
	if tag := transcribe.DetectLanguage(transcript); tag != language.Und {
		lang = tag.String()
	}

	return Resolution{
		State:          Resolved,
		URL:            seg.SourceURL,
		Script:         transcript,
		ScriptLanguage: lang,
		Billing:        &event,
	}, nil
}

// charge tags event with the batch and run, then sends it to the sink.
func (r *Resolver) charge(ctx context.Context, bc BatchContext, event billing.Event) billing.Event {
	event.BatchID = bc.BatchID
	event.RunID = bc.RunID
	if err := r.deps.Billing.Charge(ctx, event); err != nil {
		log.Error("Billing %s for segment %d of batch %s failed: %v", event.OwnerID, event.SegmentIndex, bc.BatchID, err)
	}
	return event
}

func (r *Resolver) removeAudio(path string) {
	if err := r.deps.Media.Remove(path); err != nil {
		log.Warn("Error deleting audio file %s: %v", path, err)
	}
}

func skipped(reason string) Resolution {
	return Resolution{State: Skipped, Reason: reason}
}
