package assembler

import (
	"context"
	"errors"
	"fmt"

	"github.com/MimeLyc/news-video-assembler/internal/batch"
	"github.com/MimeLyc/news-video-assembler/internal/billing"
	"github.com/MimeLyc/news-video-assembler/internal/media"
	"github.com/MimeLyc/news-video-assembler/internal/resolver"
	"github.com/MimeLyc/news-video-assembler/pkg/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrEmptyBatch means no segment of the batch produced usable media.
var ErrEmptyBatch = errors.New("no segment of the batch could be resolved")

type SegmentResolver interface {
	Resolve(ctx context.Context, seg batch.Segment, bc resolver.BatchContext) (resolver.Resolution, error)
}

type MediaTool interface {
	Normalize(ctx context.Context, source string, target media.Target) (string, error)
	Concatenate(ctx context.Context, inputs []string) (string, error)
	Remove(path string) error
}

type Uploader interface {
	UploadFile(ctx context.Context, path string) (string, error)
}

// Options tunes an Assembler.
type Options struct {
	Target media.Target
	// Concurrency bounds how many segments resolve at once; <= 0 means 1.
	Concurrency int
}

// Result is everything a caller needs to persist one assembled batch.
type Result struct {
	MergedLocation string
	// Segments holds every input segment in batch order, skipped ones included,
	// each annotated with its resolution status.
	Segments  []batch.Segment
	Billing   []billing.Event
	TotalCost float64
	Skipped   []int
}

type Assembler struct {
	resolver SegmentResolver
	media    MediaTool
	uploader Uploader
	opts     Options
}

func New(r SegmentResolver, m MediaTool, u Uploader, opts Options) *Assembler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Assembler{resolver: r, media: m, uploader: u, opts: opts}
}

// Assemble resolves, normalizes, merges and uploads one batch. Segments that
// resolve to Skipped are dropped from the merge and reported in Result.Skipped.
func (a *Assembler) Assemble(ctx context.Context, b batch.Batch) (*Result, error) {
	resolutions, err := a.resolveAll(ctx, b)
	if err != nil {
		return nil, err
	}

	ret := &Result{Segments: make([]batch.Segment, len(b.Videos))}
	sources := make([]string, 0, len(b.Videos))
	for i, res := range resolutions {
		seg := b.Videos[i]
		seg.ResolutionStatus = batch.ResolutionStatus(res.State)
		if res.Usable() {
			seg.ResolvedURL = res.URL
			sources = append(sources, res.URL)
			if !seg.HasAvatar {
				seg.ResolvedScript = res.Script
				seg.ResolvedScriptLanguage = res.ScriptLanguage
			}
		} else {
			ret.Skipped = append(ret.Skipped, i)
			log.Warn("Segment %d of batch %s left out of the merge: %s", i, b.BatchID, res.Reason)
		}
		if res.Billing != nil {
			ret.Billing = append(ret.Billing, *res.Billing)
		}
		ret.Segments[i] = seg
	}
	ret.TotalCost = billing.Total(ret.Billing)

	if len(sources) == 0 {
		return nil, fmt.Errorf("batch %s: %w", b.BatchID, ErrEmptyBatch)
	}

	merged, err := a.merge(ctx, sources)
	if err != nil {
		return nil, err
	}

	location, err := a.uploader.UploadFile(ctx, merged)
	if err != nil {
		return nil, fmt.Errorf("upload merged video: %w", err)
	}
	if err := a.media.Remove(merged); err != nil {
		log.Warn("Error deleting merged file %s: %v", merged, err)
	}

	ret.MergedLocation = location
	log.Info("Batch %s assembled from %d/%d segments: %s", b.BatchID, len(sources), len(b.Videos), location)
	return ret, nil
}

// resolveAll fills one slot per segment so completion order cannot affect
// merge order.
func (a *Assembler) resolveAll(ctx context.Context, b batch.Batch) ([]resolver.Resolution, error) {
	slots := make([]resolver.Resolution, len(b.Videos))
	runID := uuid.NewString()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for i, seg := range b.Videos {
		bc := resolver.BatchContext{
			BatchID:   b.BatchID,
			RunID:     runID,
			OwnerID:   b.OwnerID,
			ReplicaID: b.ReplicaID,
			Index:     i,
		}
		g.Go(func() error {
			res, err := a.resolver.Resolve(gctx, seg, bc)
			if err != nil {
				return fmt.Errorf("resolve segment %d: %w", i, err)
			}
			slots[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return slots, nil
}

// merge normalizes every source then concatenates them in order. Normalized
// files are consumed by a successful concatenation; when the context is
// cancelled they are removed instead of being left for inspection.
func (a *Assembler) merge(ctx context.Context, sources []string) (string, error) {
	normalized := make([]string, 0, len(sources))
	discard := func() {
		if ctx.Err() == nil {
			return
		}
		for _, p := range normalized {
			if err := a.media.Remove(p); err != nil {
				log.Warn("Error deleting file %s: %v", p, err)
			}
		}
	}

	for i, src := range sources {
		out, err := a.media.Normalize(ctx, src, a.opts.Target)
		if err != nil {
			discard()
			return "", fmt.Errorf("normalize source %d: %w", i, err)
		}
		normalized = append(normalized, out)
	}

	merged, err := a.media.Concatenate(ctx, normalized)
	if err != nil {
		discard()
		return "", err
	}
	return merged, nil
}
