// Package server exposes a contention session over HTTP: frame ingest,
// reset, tree exports, statistics and archived history.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/lockgraph/internal/formatter"
	"github.com/lockgraph/internal/lockcct"
	"github.com/lockgraph/internal/repository"
	"github.com/lockgraph/internal/session"
	"github.com/lockgraph/pkg/config"
	apperrors "github.com/lockgraph/pkg/errors"
	"github.com/lockgraph/pkg/utils"
	"github.com/lockgraph/pkg/writer"
)

// Server is the HTTP API over one session.
type Server struct {
	cfg     config.ServerConfig
	sess    *session.Session
	logger  utils.Logger
	tracer  trace.Tracer
	router  *httprouter.Router
	server  *http.Server
	limiter *rate.Limiter
	history repository.SnapshotRepository
	summary repository.SummaryRepository
}

// Option configures a Server.
type Option func(*Server)

// WithHistory enables the archived history routes.
func WithHistory(snapshots repository.SnapshotRepository, summary repository.SummaryRepository) Option {
	return func(s *Server) {
		s.history = snapshots
		s.summary = summary
	}
}

// New creates a server for sess.
func New(cfg config.ServerConfig, sess *session.Session, logger utils.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 16 << 20
	}
	s := &Server{
		cfg:    cfg,
		sess:   sess,
		logger: logger,
		tracer: otel.Tracer("lockgraph/server"),
	}
	if cfg.FrameRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.FrameRate), max(cfg.FrameBurst, 1))
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() *httprouter.Router {
	r := httprouter.New()
	s.handle(r, http.MethodPost, "/api/v1/frames/:bucket", s.handleFrames)
	s.handle(r, http.MethodPost, "/api/v1/reset", s.handleReset)
	s.handle(r, http.MethodGet, "/api/v1/tree/:mode", s.handleTree)
	s.handle(r, http.MethodGet, "/api/v1/top/:mode", s.handleTop)
	s.handle(r, http.MethodGet, "/api/v1/stats", s.handleStats)
	s.handle(r, http.MethodGet, "/api/v1/history", s.handleHistory)
	s.handle(r, http.MethodGet, "/api/v1/history/summary", s.handleHistorySummary)
	s.handle(r, http.MethodGet, "/healthz", s.handleHealth)
	r.PanicHandler = func(w http.ResponseWriter, req *http.Request, v interface{}) {
		s.logger.Error("panic serving %s %s: %v", req.Method, req.URL.Path, v)
		writeError(w, apperrors.Newf(apperrors.CodeUnknown, "internal error"))
	}
	return r
}

// handle registers h wrapped in a span named after the route.
func (s *Server) handle(r *httprouter.Router, method, path string, h httprouter.Handle) {
	name := method + " " + path
	r.Handle(method, path, func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		ctx, span := s.tracer.Start(req.Context(), name,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", method),
				attribute.String("http.route", path),
				attribute.String("session.id", s.sess.ID()),
			))
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, req.WithContext(ctx), ps)

		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
	})
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and blocks until the server
// stops. A graceful Shutdown, even one issued before Start, makes it return
// nil.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API at %s", s.cfg.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, apperrors.New(apperrors.CodeRateLimited, "frame rate limit exceeded"))
		return
	}
	frame, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxFrameBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, apperrors.Newf(apperrors.CodeInvalidInput, "frame exceeds %d bytes", s.cfg.MaxFrameBytes))
			return
		}
		writeError(w, apperrors.Wrap(apperrors.CodeInvalidInput, "failed to read frame", err))
		return
	}

	bucket := ps.ByName("bucket")
	if err := s.sess.Submit(r.Context(), bucket, frame); err != nil {
		writeError(w, err)
		return
	}
	// sync=true waits until the frame has been applied.
	if ok, _ := strconv.ParseBool(r.URL.Query().Get("sync")); ok {
		if err := s.sess.Sync(r.Context()); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"bucket": bucket,
		"bytes":  len(frame),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.sess.Closed() {
		writeError(w, apperrors.ErrSessionClosed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": s.sess.Reset()})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	mode, err := lockcct.ParseMode(ps.ByName("mode"))
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	opts, err := s.exportOptions(q.Get("sep"), q.Get("depth"), q.Get("sort"))
	if err != nil {
		writeError(w, err)
		return
	}
	format := q.Get("format")
	if format == "" {
		format = "json"
	}
	f, err := formatter.Get(format)
	if err != nil {
		writeError(w, err)
		return
	}

	root := s.sess.Tree(r.Context()).Root(mode)
	w.Header().Set("Content-Type", f.ContentType())
	if f.Name() == "pprof" {
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", string(mode)+f.Extension()))
	}
	if err := f.Format(w, root, opts); err != nil {
		s.logger.Error("export %s failed: %v", f.Name(), err)
	}
}

func (s *Server) exportOptions(sep, depth, sortBy string) (formatter.Options, error) {
	opts := formatter.DefaultOptions(s.sess.Status())
	if sep != "" {
		opts.Separator = sep
	}
	if depth != "" {
		d, err := strconv.Atoi(depth)
		if err != nil || d < 0 {
			return opts, apperrors.Newf(apperrors.CodeInvalidInput, "invalid depth %q", depth)
		}
		opts.MaxDepth = d
	}
	if sortBy != "" {
		by, err := lockcct.ParseSortBy(sortBy)
		if err != nil {
			return opts, err
		}
		opts.SortBy = by
	}
	return opts, nil
}

// Entity is one first-level thread or monitor of a view.
type Entity struct {
	Name    string  `json:"name"`
	Time    int64   `json:"time"`
	TimeMs  float64 `json:"time_ms"`
	Waits   int64   `json:"waits"`
	Percent float64 `json:"percent"`
}

// TopResponse lists the most contended entities of a view.
type TopResponse struct {
	Mode     lockcct.Mode `json:"mode"`
	Total    int64        `json:"total"`
	Waits    int64        `json:"waits"`
	Entities []Entity     `json:"entities"`
}

// TopEntities summarizes the limit most contended entities of root.
func TopEntities(root *lockcct.Node, mode lockcct.Mode, toMillis func(int64) float64, limit int) TopResponse {
	resp := TopResponse{Mode: mode, Total: root.Time(), Waits: root.Waits(), Entities: []Entity{}}
	for _, n := range lockcct.Top(root, limit) {
		resp.Entities = append(resp.Entities, Entity{
			Name:    n.Name(),
			Time:    n.Time(),
			TimeMs:  toMillis(n.Time()),
			Waits:   n.Waits(),
			Percent: n.TimeInPercent(),
		})
	}
	return resp
}

func (s *Server) handleTop(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	mode, err := lockcct.ParseMode(ps.ByName("mode"))
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := intParam(r, "limit", 10)
	if err != nil {
		writeError(w, err)
		return
	}
	root := s.sess.Tree(r.Context()).Root(mode)
	writeJSON(w, http.StatusOK, TopEntities(root, mode, s.millis, limit))
}

func (s *Server) millis(counts int64) float64 {
	return float64(s.sess.ToDuration(counts)) / float64(time.Millisecond)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.sess.Stats())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.history == nil {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "history is not configured"))
		return
	}
	limit, err := intParam(r, "limit", 20)
	if err != nil {
		writeError(w, err)
		return
	}
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = s.sess.ID()
	}
	recs, err := s.history.ListBySession(r.Context(), sessionID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []repository.SnapshotRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// HistorySummary aggregates a session's archived snapshots.
type HistorySummary struct {
	Totals   *repository.SessionTotals  `json:"totals"`
	Threads  []repository.EntitySummary `json:"threads"`
	Monitors []repository.EntitySummary `json:"monitors"`
}

func (s *Server) handleHistorySummary(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.summary == nil {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "history is not configured"))
		return
	}
	limit, err := intParam(r, "limit", 10)
	if err != nil {
		writeError(w, err)
		return
	}
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = s.sess.ID()
	}

	ctx := r.Context()
	var out HistorySummary
	if out.Totals, err = s.summary.SessionTotals(ctx, sessionID); err != nil {
		writeError(w, err)
		return
	}
	if out.Threads, err = s.summary.HotEntities(ctx, sessionID, repository.KindThread, limit); err != nil {
		writeError(w, err)
		return
	}
	if out.Monitors, err = s.summary.HotEntities(ctx, sessionID, repository.KindMonitor, limit); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	status, code := "ok", http.StatusOK
	if s.sess.Closed() {
		status, code = "closed", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status, "session": s.sess.ID()})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperrors.Newf(apperrors.CodeInvalidInput, "invalid %s %q", name, raw)
	}
	return v, nil
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = writer.NewJSONWriter[interface{}]().Write(v, w)
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.GetErrorCode(err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		code = apperrors.CodeTimeout
	}
	writeJSON(w, statusFor(code), ErrorResponse{Error: err.Error(), Code: code})
}

func statusFor(code string) int {
	switch code {
	case apperrors.CodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case apperrors.CodeSessionClosed, apperrors.CodeTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
