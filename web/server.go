// Package web serves the marketing pages and the converter form, and hosts
// one conversion workflow per browser session.
package web

import (
	"context"
	"embed"
	"io/fs"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"multisvg/content"
	"multisvg/models"
	"multisvg/workflow"
)

//go:embed static
var staticFiles embed.FS

const (
	maxUploadBytes = 10 << 20
	recordTimeout  = 10 * time.Second
	recordBuffer   = 16
)

// History persists submissions, outcomes and contact messages.
type History interface {
	RecordSubmission(ctx context.Context, submissionID string, sessionID string, filename string, params models.Params) error
	RecordOutcome(ctx context.Context, submissionID string, result *models.ConversionResult, elapsed time.Duration) error
	InsertContactMessage(ctx context.Context, name string, email string, message string) error
}

// Archiver queues produced artifacts for archival.
type Archiver interface {
	NewJob(submissionID string, downloadURL string) models.ArchiveJob
	Enqueue(ctx context.Context, job models.ArchiveJob) error
}

type Deps struct {
	Site      *content.Site
	Converter workflow.Converter
	Previews  workflow.PreviewStore
	// History and Archiver are optional.
	History  History
	Archiver Archiver

	// BackendURL enables the /api/ reverse proxy when set.
	BackendURL     *url.URL
	SessionTTL     time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	SecureCookies  bool
	TickInterval   time.Duration
}

type Server struct {
	site     *content.Site
	previews workflow.PreviewStore
	history  History
	archiver Archiver
	sessions *Sessions
	limiter  *IPLimiter
	proxy    http.Handler
}

func NewServer(d Deps) *Server {
	s := &Server{
		site:     d.Site,
		previews: d.Previews,
		history:  d.History,
		archiver: d.Archiver,
		limiter:  NewIPLimiter(d.RateLimitRPS, d.RateLimitBurst),
	}

	newController := func() *workflow.Controller {
		return workflow.NewController(d.Converter, d.Previews, workflow.Options{TickInterval: d.TickInterval})
	}
	s.sessions = NewSessions(newController, s.attach, d.SessionTTL)
	s.sessions.secure = d.SecureCookies

	if d.BackendURL != nil {
		proxy := httputil.NewSingleHostReverseProxy(d.BackendURL)
		proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			ComponentHandler(func(http.ResponseWriter, *http.Request) *Response {
				return jsonError(http.StatusBadGateway, workflow.FallbackMessage, err)
			}).ServeHTTP(w, r)
		}
		s.proxy = proxy
	}

	return s
}

func (s *Server) Sessions() *Sessions {
	return s.sessions
}

// Maintain sweeps idle sessions and rate-limit buckets until ctx is done.
func (s *Server) Maintain(ctx context.Context, interval time.Duration) {
	go s.sessions.SweepLoop(ctx, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Forget(interval)
		}
	}
}

func (s *Server) Routes() http.Handler {
	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("Failed to open embedded static files: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))
	mux.Handle("GET /{$}", ComponentHandler(s.landing))
	mux.Handle("GET /documentation", ComponentHandler(s.documentation))
	mux.Handle("GET /converter", ComponentHandler(s.converterPage))
	mux.Handle("POST /converter/file", ComponentHandler(s.selectFile))
	mux.Handle("POST /converter/params", ComponentHandler(s.updateParams))
	mux.Handle("POST /converter/submit", s.limiter.Limit(ComponentHandler(s.submit)))
	mux.Handle("POST /converter/clear", ComponentHandler(s.clear))
	mux.Handle("GET /converter/status", ComponentHandler(s.status))
	mux.Handle("GET /converter/events", ComponentHandler(s.events))
	mux.Handle("GET /previews/{id}", ComponentHandler(s.preview))
	mux.Handle("POST /contact", ComponentHandler(s.contact))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if s.proxy != nil {
		mux.Handle("/api/", s.limiter.Limit(s.proxy))
	}
	mux.Handle("/", ComponentHandler(s.notFound))

	return logRequests(mux)
}

// attach wires a new session's controller to history and archival. Events
// are recorded on a per-session goroutine so a slow store never holds up the
// controller.
func (s *Server) attach(sessionID string, ctrl *workflow.Controller) func() {
	if s.history == nil && s.archiver == nil {
		return nil
	}

	events := make(chan workflow.Event, recordBuffer)
	stop := make(chan struct{})

	go func() {
		for {
			select {
			case ev := <-events:
				s.record(sessionID, ev)
			case <-stop:
				for {
					select {
					case ev := <-events:
						s.record(sessionID, ev)
					default:
						return
					}
				}
			}
		}
	}()

	unsubscribe := ctrl.Subscribe(func(ev workflow.Event) {
		if ev.Kind != workflow.EventSubmitted && ev.Kind != workflow.EventCompleted {
			return
		}
		select {
		case events <- ev:
		default:
			log.Printf("[History] Dropped %s event for submission %s", ev.Kind, ev.Snapshot.SubmissionID)
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			close(stop)
		})
	}
}

func (s *Server) record(sessionID string, ev workflow.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	snap := ev.Snapshot
	switch ev.Kind {
	case workflow.EventSubmitted:
		if s.history != nil {
			if err := s.history.RecordSubmission(ctx, snap.SubmissionID, sessionID, snap.Filename, snap.Params); err != nil {
				log.Printf("[History] Failed to record submission %s: %v", snap.SubmissionID, err)
			}
		}
	case workflow.EventCompleted:
		if snap.Result == nil {
			return
		}
		if s.history != nil {
			if err := s.history.RecordOutcome(ctx, snap.SubmissionID, snap.Result, snap.Elapsed); err != nil {
				log.Printf("[History] Failed to record outcome %s: %v", snap.SubmissionID, err)
			}
		}
		if s.archiver != nil && snap.Result.Success {
			job := s.archiver.NewJob(snap.SubmissionID, snap.Result.DownloadURL)
			if err := s.archiver.Enqueue(ctx, job); err != nil {
				log.Printf("[Archive] Failed to enqueue %s: %v", snap.SubmissionID, err)
			}
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("[HTTP] %s %s %d (%s)", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}
