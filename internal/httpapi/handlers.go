package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MimeLyc/news-video-assembler/internal/batch"
	"github.com/MimeLyc/news-video-assembler/internal/billing"
	"github.com/MimeLyc/news-video-assembler/internal/config"
	"github.com/MimeLyc/news-video-assembler/internal/jobs"
	"github.com/MimeLyc/news-video-assembler/internal/service"
	"github.com/MimeLyc/news-video-assembler/pkg/log"
)

const failedToProcess = "Failed to process request"

// handleGenerateVideo runs one batch synchronously and answers with the
// updated batch record.
func (s *Server) handleGenerateVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var doc batch.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeFailure(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return
	}

	out, err := s.runner.Run(s.runCtx, doc)
	if err != nil {
		log.Error("Error processing request: %v", err)
		status := http.StatusInternalServerError
		switch {
		case service.IsErrorType(err, service.ErrValidation):
			status = http.StatusBadRequest
		case service.IsErrorType(err, service.ErrConflict):
			status = http.StatusConflict
		}
		writeFailure(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type enqueueJobResponse struct {
	Created bool              `json:"created"`
	Job     *jobs.AssemblyJob `json:"job"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list := s.queue.List()
		if status := r.URL.Query().Get("status"); status != "" {
			list = filterByStatus(list, jobs.Status(status))
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var doc batch.Document
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			writeFailure(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
			return
		}
		b, err := doc.Batch()
		if err == nil {
			err = b.Validate()
		}
		if err != nil {
			writeFailure(w, http.StatusBadRequest, err)
			return
		}

		source := strings.TrimSpace(r.URL.Query().Get("source"))
		if source == "" {
			source = "api"
		}
		job, created := s.queue.Enqueue(jobs.EnqueueRequest{
			Source:    source,
			DedupeKey: b.BatchID,
			Payload:   doc,
		})
		code := http.StatusAccepted
		if !created {
			code = http.StatusOK
		}
		writeJSON(w, code, enqueueJobResponse{Created: created, Job: job})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func filterByStatus(list []*jobs.AssemblyJob, status jobs.Status) []*jobs.AssemblyJob {
	ret := make([]*jobs.AssemblyJob, 0, len(list))
	for _, job := range list {
		if job.Status == status {
			ret = append(ret, job)
		}
	}
	return ret
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var req config.RuntimeSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		saved, err := s.settings.UpdateRuntimeSettings(req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if s.apply != nil {
			if err := s.apply(saved); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, saved)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type chargesResponse struct {
	OwnerID string          `json:"ownerId"`
	Total   float64         `json:"total"`
	Charges []billing.Event `json:"charges"`
}

func (s *Server) handleCharges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.ledger == nil {
		writeError(w, http.StatusNotImplemented, "charge ledger is not configured")
		return
	}
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}
	events, err := s.ledger.ListCharges(r.Context(), owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, chargesResponse{OwnerID: owner, Total: billing.Total(events), Charges: events})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

// writeFailure answers {error, details}, details being the underlying reason.
func writeFailure(w http.ResponseWriter, status int, err error) {
	details := err.Error()
	var pErr *service.PipelineError
	if errors.As(err, &pErr) {
		details = pErr.Details()
	}
	writeJSON(w, status, map[string]any{
		"error":   failedToProcess,
		"details": details,
	})
}
