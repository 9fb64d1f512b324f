package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/complianceai/certpipe/pkg/contracts"
	"github.com/complianceai/certpipe/pkg/docstore"
	"github.com/complianceai/certpipe/pkg/queue"
)

// JobStore is the ingestion-job surface the API needs.
type JobStore interface {
	Create(ctx context.Context, job *contracts.IngestionJob) (string, error)
	Get(ctx context.Context, id string) (*contracts.IngestionJob, error)
}

// CertStore reads certificates and applies review approvals.
type CertStore interface {
	Get(ctx context.Context, id string) (*contracts.Certificate, error)
	ApproveReview(ctx context.Context, id string) error
}

// ActionStore reads and updates remedial actions.
type ActionStore interface {
	ListByCertificate(ctx context.Context, certificateID string) ([]*contracts.RemedialAction, error)
	UpdateStatus(ctx context.Context, id string, status contracts.ActionStatus, notes string, costActual *int64) error
}

// QueueAdmin exposes the queue's administrative operations.
type QueueAdmin interface {
	Stats(ctx context.Context) ([]queue.QueueStats, error)
	FailedJobs(ctx context.Context, queueName string, limit int) ([]*queue.Job, error)
	Resurrect(ctx context.Context, jobID string) error
}

// IncomingStore persists inbound integration bodies for replay.
type IncomingStore interface {
	LogIncoming(ctx context.Context, log *contracts.IncomingWebhookLog) (string, error)
	MarkIncomingProcessed(ctx context.Context, id, errorMessage string) error
}

// Deps collects the server's collaborators.
type Deps struct {
	Jobs     JobStore
	Certs    CertStore
	Actions  ActionStore
	Docs     docstore.Store
	Queue    QueueAdmin
	Incoming IncomingStore

	// Enqueue stages a created ingestion job for processing.
	Enqueue func(ctx context.Context, jobID string) (string, error)
	// ReplayEvent re-fans one staged webhook event.
	ReplayEvent func(ctx context.Context, eventID string) error
	// TriggerWatchdog enqueues an immediate watchdog sweep.
	TriggerWatchdog func(ctx context.Context) (string, error)

	// Events serves the SSE stream.
	Events http.Handler
	// RateLimit wraps the public endpoints; nil disables limiting.
	RateLimit func(http.Handler) http.Handler

	JWTSecret    string
	AdminKeyHash string
	Logger       *slog.Logger
}

// Server is the HTTP surface of the pipeline.
type Server struct {
	deps     Deps
	validate *validator.Validate
	logger   *slog.Logger
}

// NewServer builds the server and its validator.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Handler assembles the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	public := func(h http.HandlerFunc) http.Handler {
		if s.deps.RateLimit != nil {
			return s.deps.RateLimit(h)
		}
		return h
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("POST /ingestion-jobs", public(s.handleCreateIngestion))
	mux.Handle("GET /ingestion-jobs/{id}", public(s.handleGetIngestion))
	mux.Handle("GET /certificates/{id}", public(s.handleGetCertificate))
	mux.Handle("GET /certificates/{id}/actions", public(s.handleListActions))

	if s.deps.Events != nil {
		mux.Handle("GET /events", s.deps.Events)
	}

	mux.Handle("POST /integrations/hms/actions", s.integrationAuth(s.handleHMSActions))
	mux.Handle("POST /integrations/hms/work-orders", s.integrationAuth(s.handleHMSWorkOrders))

	mux.Handle("POST /certificates/{id}/approve", s.adminAuth(s.handleApproveCertificate))
	mux.Handle("GET /queue/stats", s.adminAuth(s.handleQueueStats))
	mux.Handle("GET /queue/failed", s.adminAuth(s.handleQueueFailed))
	mux.Handle("POST /queue/jobs/{id}/resurrect", s.adminAuth(s.handleResurrect))
	mux.Handle("POST /webhook-events/{id}/replay", s.adminAuth(s.handleReplayEvent))
	mux.Handle("POST /watchdog/trigger", s.adminAuth(s.handleWatchdogTrigger))

	return s.logRequests(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// logRequests is the outermost middleware: one structured line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("http request",
			"method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration_ms", time.Since(start).Milliseconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming working through the logging wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
