package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MimeLyc/news-video-assembler/internal/batch"
	"github.com/MimeLyc/news-video-assembler/internal/billing"
	"github.com/MimeLyc/news-video-assembler/internal/config"
	"github.com/MimeLyc/news-video-assembler/internal/jobs"
	"github.com/MimeLyc/news-video-assembler/internal/service"
)

type pipelineRunner interface {
	Run(ctx context.Context, doc batch.Document) (*service.Outcome, error)
}

type runtimeSettingsStore interface {
	GetRuntimeSettings() (config.RuntimeSettings, error)
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
}

type runtimeSettingsApplier func(next config.RuntimeSettings) error

type chargeLedger interface {
	ListCharges(ctx context.Context, ownerID string) ([]billing.Event, error)
}

type Server struct {
	runner   pipelineRunner
	queue    *jobs.Queue
	settings runtimeSettingsStore
	apply    runtimeSettingsApplier
	ledger   chargeLedger

	heartbeatInterval time.Duration

	// runCtx outlives individual requests so a disconnecting client does
	// not abort a synchronous run. Shutdown cancels it.
	runCtx    context.Context
	cancelRun context.CancelFunc

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithRuntimeSettingsStore(store runtimeSettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

func WithRuntimeSettingsApplier(apply runtimeSettingsApplier) Option {
	return func(s *Server) {
		s.apply = apply
	}
}

func WithChargeLedger(ledger chargeLedger) Option {
	return func(s *Server) {
		s.ledger = ledger
	}
}

// WithHeartbeatInterval sets how often an idle job stream emits a keepalive.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeatInterval = d
		}
	}
}

func NewServer(runner pipelineRunner, queue *jobs.Queue, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		runner:            runner,
		queue:             queue,
		heartbeatInterval: 15 * time.Second,
		runCtx:            ctx,
		cancelRun:         cancel,
		mux:               http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown aborts synchronous runs still in flight, then drains connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelRun()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/generateVideo", s.handleGenerateVideo)
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/stream", s.handleJobStream)
	s.mux.HandleFunc("/api/jobs/", s.handleJobDetailRoutes)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
	s.mux.HandleFunc("/api/charges", s.handleCharges)
	s.mux.HandleFunc("/healthz", s.handleHealth)
}
