package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/elonfeng/tubepulse/internal/pipeline"
	"github.com/elonfeng/tubepulse/internal/store"
	"github.com/elonfeng/tubepulse/pkg/views"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Runner triggers a pipeline run on demand.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Result, error)
}

// Server provides the HTTP API.
type Server struct {
	store  store.Store
	engine *views.Engine
	runner Runner
	port   int
	logger *zap.Logger
}

// New creates a new HTTP server. runner may be nil, which disables POST /api/v1/run.
func New(s store.Store, engine *views.Engine, runner Runner, port int, logger *zap.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	return &Server{
		store:  s,
		engine: engine,
		runner: runner,
		port:   port,
		logger: logger,
	}
}

// Handler returns the router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/views", s.handleViews)
		r.Get("/views/{name}", s.handleView)
		r.Get("/snapshots", s.handleSnapshots)
		r.Get("/snapshots/{date}", s.handleSnapshot)
		r.Post("/run", s.handleRun)
	})
	return r
}

// ListenAndServe starts the HTTP server and shuts it down when ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("tubepulse server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimiddleware.GetReqID(r.Context())))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	latest, _, err := s.store.LatestDate(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "latest_date": latest})
}

type viewResponse struct {
	View       views.Name  `json:"view"`
	OK         bool        `json:"ok"`
	Rows       int         `json:"rows"`
	Kind       views.Kind  `json:"error_kind,omitempty"`
	Error      string      `json:"error,omitempty"`
	DurationMs float64     `json:"duration_ms"`
	Data       views.Table `json:"data"`
}

func toViewResponse(res views.Result) viewResponse {
	vr := viewResponse{
		View:       res.View,
		OK:         res.OK(),
		DurationMs: float64(res.Duration.Microseconds()) / 1000.0,
		Data:       res.Table,
	}
	if res.Table != nil {
		vr.Rows = res.Table.Len()
	}
	if res.Err != nil {
		vr.Kind = views.KindOf(res.Err)
		vr.Error = res.Err.Error()
	}
	return vr
}

func (s *Server) handleViews(w http.ResponseWriter, r *http.Request) {
	report := s.engine.Run(r.Context())

	out := make([]viewResponse, len(report.Results))
	for i, res := range report.Results {
		out[i] = toViewResponse(res)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":      report.RunID,
		"latest_date": report.LatestDate,
		"failed":      len(report.Failed()),
		"views":       out,
	})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	name := views.Name(chi.URLParam(r, "name"))
	if !name.Valid() {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("unknown view %q", name)})
		return
	}

	start := time.Now()
	var (
		table views.Table
		err   error
	)
	if raw := r.URL.Query().Get("limit"); raw != "" && name == views.TopVideosView {
		limit, convErr := strconv.Atoi(raw)
		if convErr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be an integer"})
			return
		}
		var top views.TopVideos
		top, err = s.engine.TopVideos(r.Context(), limit)
		if err == nil {
			table = top
		}
	} else {
		table, err = s.engine.Compute(r.Context(), name)
	}

	res := views.Result{View: name, Table: table, Err: err, Duration: time.Since(start)}
	if err != nil {
		writeJSON(w, statusFor(err), toViewResponse(res))
		return
	}
	writeJSON(w, http.StatusOK, toViewResponse(res))
}

func statusFor(err error) int {
	switch views.KindOf(err) {
	case views.KindConfig:
		return http.StatusBadRequest
	case views.KindConnectivity:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.DateSummaries(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if summaries == nil {
		summaries = []store.DateSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  summaries,
		"count": len(summaries),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if _, err := time.Parse(store.DateFormat, date); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
		return
	}

	rows, err := s.store.ListSnapshot(r.Context(), date)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if len(rows) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no snapshot for " + date})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  rows,
		"count": len(rows),
	})
}

type stepResponse struct {
	Name       string  `json:"name"`
	Summary    string  `json:"summary,omitempty"`
	Error      string  `json:"error,omitempty"`
	DurationMs float64 `json:"duration_ms"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "pipeline runs are not enabled"})
		return
	}

	res, err := s.runner.Run(r.Context())
	if errors.Is(err, pipeline.ErrRunInProgress) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	steps := make([]stepResponse, len(res.Steps))
	for i, st := range res.Steps {
		steps[i] = stepResponse{
			Name:       st.Name,
			Summary:    st.Summary,
			DurationMs: float64(st.Duration.Microseconds()) / 1000.0,
		}
		if st.Err != nil {
			steps[i].Error = st.Err.Error()
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":        res.RunID,
		"snapshot_date": res.SnapshotDate,
		"ok":            res.Err() == nil,
		"steps":         steps,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
