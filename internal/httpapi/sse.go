package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MimeLyc/news-video-assembler/internal/jobs"
)

// handleJobStream pushes a "jobs" event with the job list every time the
// queue changes. Identical consecutive snapshots are not resent. Comment
// lines keep idle connections open through proxies.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	status := jobs.Status(strings.TrimSpace(r.URL.Query().Get("status")))
	changes, stopWatching := s.queue.Watch()
	defer stopWatching()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var (
		last []byte
		seq  int
	)
	publish := func() error {
		list := s.queue.List()
		if status != "" {
			list = filterByStatus(list, status)
		}
		payload, err := json.Marshal(list)
		if err != nil {
			return err
		}
		if last != nil && bytes.Equal(payload, last) {
			return nil
		}
		last = payload
		seq++
		if _, err := fmt.Fprintf(w, "id: %d\nevent: jobs\ndata: %s\n\n", seq, payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := publish(); err != nil {
		return
	}

	heartbeat := time.NewTicker(s.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.runCtx.Done():
			return
		case <-changes:
			if err := publish(); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
