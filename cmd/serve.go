package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pharma-research/internal/docstore"
	"github.com/sells-group/pharma-research/internal/model"
	"github.com/sells-group/pharma-research/internal/pipeline"
)

const maxBodyBytes = 1 << 20

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analysis API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env, cfg.Server.CORSOrigins, 500*time.Millisecond),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

type server struct {
	env         *appEnv
	streamEvery time.Duration
}

// newRouter builds the HTTP API. streamEvery is the snapshot interval for
// progress streams.
func newRouter(env *appEnv, origins []string, streamEvery time.Duration) http.Handler {
	s := &server{env: env, streamEvery: streamEvery}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/analysis/start", s.startAnalysis)
		r.Get("/analysis/{id}", s.getJob)
		r.Get("/analysis/{id}/stream", s.streamJob)
		r.Get("/analysis/{id}/results", s.getResults)
		r.Get("/analyses", s.listJobs)

		r.Get("/kb/status", s.kbStatus)
		r.Post("/kb/search", s.kbSearch)
		r.Post("/kb/documents", s.kbAddDocument)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"knowledge_base": s.env.Ranker.Available(),
		"generative":     s.env.LLM.Available(),
	})
}

func (s *server) startAnalysis(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := s.env.Scheduler.Submit(r.Context(), req)
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, "molecule_name is required")
		return
	case errors.Is(err, pipeline.ErrUnknownAnalysis):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, pipeline.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	case err != nil:
		zap.L().Error("submit analysis failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not start analysis")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": id,
		"status": string(model.JobPending),
	})
}

func (s *server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.env.Scheduler.Job(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *server) getResults(w http.ResponseWriter, r *http.Request) {
	rep, err := s.env.Scheduler.Report(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, pipeline.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, pipeline.ErrNotReady):
		writeError(w, http.StatusConflict, "analysis has not finished")
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeJSON(w, http.StatusOK, rep)
	}
}

func (s *server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	jobs := s.env.Scheduler.List(limit, offset)
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":   jobs,
		"count":  len(jobs),
		"limit":  limit,
		"offset": offset,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

// streamJob pushes the job view as server-sent events until the job ends
// or the client goes away.
func (s *server) streamJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.env.Scheduler.Job(id); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(s.streamEvery)
	defer ticker.Stop()

	for {
		job, err := s.env.Scheduler.Job(id)
		if err != nil {
			return
		}
		event := "progress"
		if job.Status.Terminal() {
			event = "complete"
		}
		if err := writeEvent(w, event, job); err != nil {
			zap.L().Debug("stream closed", zap.String("job_id", id), zap.Error(err))
			return
		}
		flusher.Flush()
		if job.Status.Terminal() {
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return eris.Wrap(err, "marshal event")
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func (s *server) kbStatus(w http.ResponseWriter, r *http.Request) {
	st := s.env.Store
	if st == nil {
		writeJSON(w, http.StatusOK, map[string]any{"available": false, "documents": 0})
		return
	}
	n, err := st.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "knowledge base unavailable")
		return
	}
	cats, err := st.Categories(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "knowledge base unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available":  true,
		"documents":  n,
		"categories": cats,
	})
}

func (s *server) kbSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query    string `json:"query"`
		Limit    int    `json:"limit"`
		Category string `json:"category"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 5
	}
	ev := s.env.Ranker.Search(r.Context(), req.Query, req.Limit, req.Category)
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   req.Query,
		"results": ev,
	})
}

func (s *server) kbAddDocument(w http.ResponseWriter, r *http.Request) {
	if s.env.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge base disabled")
		return
	}
	var req struct {
		Filename string `json:"filename"`
		Content  string `json:"content"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Filename == "" {
		req.Filename = "upload.txt"
	}

	n, err := docstore.ReplaceFile(r.Context(), s.env.Store, req.Filename, req.Content)
	if err != nil {
		zap.L().Error("add documents failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not store document")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"filename": req.Filename,
		"chunks":   n,
	})
}
