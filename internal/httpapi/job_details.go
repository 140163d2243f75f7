package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/MimeLyc/news-video-assembler/internal/batch"
	"github.com/MimeLyc/news-video-assembler/internal/jobs"
)

var (
	errJobNotFound   = errors.New("job not found")
	errJobInProgress = errors.New("job is still in progress")
	errJobNotFailed  = errors.New("only failed jobs can be retried")
)

type jobDetailResponse struct {
	Job      *jobs.AssemblyJob `json:"job"`
	BatchID  string            `json:"batch_id"`
	OwnerID  string            `json:"owner_id"`
	Segments []segmentSummary  `json:"segments"`
}

type segmentSummary struct {
	Index     int    `json:"index"`
	Title     string `json:"title"`
	Path      string `json:"path"`
	SourceURL string `json:"source_url,omitempty"`
	Skipped   bool   `json:"skipped"`
}

func (s *Server) handleJobDetailRoutes(w http.ResponseWriter, r *http.Request) {
	jobID, action, ok := parseJobRoute(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch action {
	case "":
		s.handleJobDetail(w, r, jobID)
	case "retry":
		s.handleRetryJob(w, r, jobID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func parseJobRoute(path string) (jobID string, action string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/api/jobs/")
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return "", "", false
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) > 2 {
		return "", "", false
	}
	rawID, err := url.PathUnescape(parts[0])
	if err != nil || strings.TrimSpace(rawID) == "" {
		return "", "", false
	}
	if len(parts) == 1 {
		return rawID, "", true
	}
	return rawID, parts[1], true
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	job, ok := s.queue.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, errJobNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, buildJobDetail(job))
}

// buildJobDetail summarizes the payload of job. A payload that no longer
// decodes still yields the job itself.
func buildJobDetail(job *jobs.AssemblyJob) jobDetailResponse {
	ret := jobDetailResponse{Job: job, Segments: []segmentSummary{}}
	b, err := job.Payload.Batch()
	if err != nil {
		return ret
	}
	ret.BatchID = b.BatchID
	ret.OwnerID = b.OwnerID

	var skipped []int
	if job.Result != nil {
		skipped = job.Result.Skipped
	}
	for i, seg := range b.Videos {
		ret.Segments = append(ret.Segments, segmentSummary{
			Index:     i,
			Title:     seg.Title,
			Path:      segmentPath(seg),
			SourceURL: seg.SourceURL,
			Skipped:   slices.Contains(skipped, i),
		})
	}
	return ret
}

func segmentPath(seg batch.Segment) string {
	if seg.HasAvatar {
		return "avatar"
	}
	return "transcription"
}

// handleRetryJob re-enqueues the payload of a failed job as a new job.
func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	job, ok := s.queue.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, errJobNotFound.Error())
		return
	}
	switch job.Status {
	case jobs.StatusFailed:
	case jobs.StatusPending, jobs.StatusRunning:
		writeError(w, http.StatusConflict, errJobInProgress.Error())
		return
	default:
		writeError(w, http.StatusBadRequest, errJobNotFailed.Error())
		return
	}

	next, created := s.queue.Enqueue(jobs.EnqueueRequest{
		Source:    "retry",
		DedupeKey: job.DedupeKey,
		Payload:   job.Payload,
	})
	code := http.StatusAccepted
	if !created {
		code = http.StatusOK
	}
	writeJSON(w, code, enqueueJobResponse{Created: created, Job: next})
}
