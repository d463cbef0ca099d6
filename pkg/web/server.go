package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ritzau/ds-audit/pkg/analyzer"
	"github.com/ritzau/ds-audit/pkg/audit"
	"github.com/ritzau/ds-audit/pkg/figma"
	"github.com/ritzau/ds-audit/pkg/learning"
	"github.com/ritzau/ds-audit/pkg/logging"
	"github.com/ritzau/ds-audit/pkg/output"
	"github.com/ritzau/ds-audit/pkg/pubsub"
	"github.com/ritzau/ds-audit/pkg/rules"
)

//go:embed static/*
var staticFiles embed.FS

// DefaultReportCacheSize is the number of reports kept for sharing.
const DefaultReportCacheSize = 64

const maxBodyBytes = 32 << 20

// Options configures a Server.
type Options struct {
	Threshold       int
	ReportCacheSize int
}

// Server represents the web server
type Server struct {
	router    *mux.Router
	runner    *audit.Runner
	learning  *learning.Service
	engine    *rules.Engine
	publisher pubsub.Publisher
	reports   *lru.Cache[string, *audit.Outcome]
	threshold int

	mu             sync.Mutex
	httpServer     *http.Server
	cancelRequests context.CancelFunc
	closed         bool
}

// NewServer creates a new web server. The publisher must be the one the
// runner reports progress to.
func NewServer(runner *audit.Runner, svc *learning.Service, engine *rules.Engine, publisher *pubsub.SSEPublisher, opts Options) (*Server, error) {
	size := opts.ReportCacheSize
	if size <= 0 {
		size = DefaultReportCacheSize
	}
	reports, err := lru.New[string, *audit.Outcome](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create report cache: %w", err)
	}

	// analysis_status: keep the last few events, replay only the current state
	publisher.ConfigureTopic(pubsub.TopicAnalysisStatus, pubsub.TopicConfig{
		BufferSize: 10,
		ReplayAll:  false,
	})
	publisher.ConfigureTopic(pubsub.TopicRules, pubsub.TopicConfig{
		BufferSize: 1,
		ReplayAll:  false,
	})

	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = output.DefaultThreshold
	}

	s := &Server{
		router:    mux.NewRouter(),
		runner:    runner,
		learning:  svc,
		engine:    engine,
		publisher: publisher,
		reports:   reports,
		threshold: threshold,
	}
	if err := s.setupRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

// Handler returns the root handler including request logging.
func (s *Server) Handler() http.Handler {
	return logging.RequestIDMiddleware(s.router)
}

func (s *Server) setupRoutes() error {
	// SSE subscription endpoints
	s.router.HandleFunc("/api/subscribe/{topic}", s.handleSubscribe).Methods(http.MethodGet)

	s.router.HandleFunc("/api/analyze", s.handleAnalyze).Methods(http.MethodPost)
	s.router.HandleFunc("/api/analysis/{id}", s.handleReport).Methods(http.MethodGet)
	s.router.HandleFunc("/api/analysis/{id}/csv", s.handleReportCSV).Methods(http.MethodGet)
	s.router.HandleFunc("/api/feedback", s.handleFeedback).Methods(http.MethodPost)
	s.router.HandleFunc("/api/corrections", s.handleCorrections).Methods(http.MethodPost)
	s.router.HandleFunc("/api/rules", s.handleRules).Methods(http.MethodGet)
	s.router.HandleFunc("/api/learning/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/api/learning/export", s.handleExport).Methods(http.MethodGet)
	s.router.HandleFunc("/api/suggestions", s.handleSuggestions).Methods(http.MethodPost)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Serve static files
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return fmt.Errorf("failed to load static files: %w", err)
	}
	s.router.PathPrefix("/").Handler(http.FileServer(http.FS(staticFS)))
	return nil
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]
	if topic != pubsub.TopicAnalysisStatus && topic != pubsub.TopicRules {
		http.Error(w, fmt.Sprintf("Unknown topic: %s", topic), http.StatusNotFound)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	sub, err := s.publisher.Subscribe(r.Context(), topic)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	// Send initial comment to establish connection (Safari compatibility)
	fmt.Fprintf(w, ": connected\n\n")
	flush(w)

	for event := range sub.Events() {
		if err := pubsub.WriteSSE(w, event); err != nil {
			logging.DebugContext(r.Context(), "failed to write SSE event", "error", err)
			return
		}
		flush(w)
	}
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

type analyzeRequest struct {
	URL      string      `json:"url"`
	Document *figma.Node `json:"document,omitempty"`
}

// reportResponse is the JSON shape of a stored report.
type reportResponse struct {
	ID string `json:"id"`
	output.Report
	Corrections *learning.Counts      `json:"corrections,omitempty"`
	Suggestions []analyzer.Suggestion `json:"suggestions"`
}

func (s *Server) newReportResponse(out *audit.Outcome) reportResponse {
	suggestions := out.Suggestions
	if suggestions == nil {
		suggestions = []analyzer.Suggestion{}
	}
	return reportResponse{
		ID:          out.ID,
		Report:      output.NewReport(out.Result, s.threshold),
		Corrections: out.Corrections,
		Suggestions: suggestions,
	}
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var (
		out *audit.Outcome
		err error
	)
	switch {
	case req.Document != nil:
		out, err = s.runner.AnalyzeNode(r.Context(), req.Document, req.URL)
	case strings.TrimSpace(req.URL) != "":
		out, err = s.runner.Run(r.Context(), req.URL)
	default:
		http.Error(w, "url or document required", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	s.reports.Add(out.ID, out)
	writeJSON(w, http.StatusOK, s.newReportResponse(out))
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	out, ok := s.reports.Get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Report not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.newReportResponse(out))
}

func (s *Server) handleReportCSV(w http.ResponseWriter, r *http.Request) {
	out, ok := s.reports.Get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Report not found", http.StatusNotFound)
		return
	}

	name := strings.ReplaceAll(out.Result.FrameInfo.NodeID, ":", "-")
	if name == "" {
		name = out.ID
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="ds-audit-%s.csv"`, name))
	if err := output.WriteCSV(w, out.Result); err != nil {
		logging.ErrorContext(r.Context(), "failed to write csv", "id", out.ID, "error", err)
	}
}

type feedbackRequest struct {
	FrameID  string         `json:"frameId"`
	Feedback rules.Feedback `json:"feedback"`
}

type feedbackResponse struct {
	Rules []rules.Rule `json:"rules"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}

	generated, err := s.learning.SubmitFeedback(r.Context(), req.FrameID, req.Feedback)
	if err != nil {
		writeError(w, err)
		return
	}
	if generated == nil {
		generated = []rules.Rule{}
	}
	writeJSON(w, http.StatusCreated, feedbackResponse{Rules: generated})
}

type correctionsRequest struct {
	FrameID string `json:"frameId"`
	learning.Counts
}

func (s *Server) handleCorrections(w http.ResponseWriter, r *http.Request) {
	var req correctionsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := s.learning.SetCorrections(r.Context(), req.FrameID, req.Counts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	set, err := s.engine.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, set.Rules())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.learning.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	exp, err := s.learning.Export(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="ds-audit-learning-%d.json"`, exp.ExportInfo.Timestamp))
	writeJSON(w, http.StatusOK, exp)
}

type suggestionsRequest struct {
	Document *figma.Node `json:"document"`
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	var req suggestionsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Document == nil {
		http.Error(w, "document required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, analyzer.SuggestMissedComponents(req.Document))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var apiErr *figma.APIError
	var compErr *rules.RuleCompilationError
	switch {
	case errors.Is(err, figma.ErrInvalidURL),
		errors.Is(err, learning.ErrInvalidFeedback),
		errors.Is(err, learning.ErrInvalidCorrections),
		errors.Is(err, analyzer.ErrNilRoot):
		return http.StatusBadRequest
	case errors.Is(err, audit.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, figma.ErrFrameNotFound),
		errors.Is(err, learning.ErrPatternNotFound):
		return http.StatusNotFound
	case errors.As(err, &compErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

// Start starts the web server on the specified port. It returns nil once
// Shutdown has been called.
func (s *Server) Start(port int) error {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	logging.Info("starting web server", "url", fmt.Sprintf("http://localhost:%d", port))
	return s.Serve(l)
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	baseCtx, cancel := context.WithCancel(context.Background())
	hs := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts end on shutdown so event streams return
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		l.Close()
		return nil
	}
	s.httpServer, s.cancelRequests = hs, cancel
	s.mu.Unlock()

	if err := hs.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, ends open event streams and waits
// for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	hs, cancel := s.httpServer, s.cancelRequests
	s.mu.Unlock()

	if hs == nil {
		return nil
	}
	cancel()
	logging.Info("stopping web server")
	return hs.Shutdown(ctx)
}
