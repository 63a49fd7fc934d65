package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/common"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/config"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/jobs"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/pipeline"
)

type Service struct {
	Log          *slog.Logger
	Cfg          *config.Config
	Orchestrator *pipeline.Orchestrator
	Status       *pipeline.StatusService
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc(http.MethodPost+" "+common.PathVideos, svc.withCommon(svc.handleSubmit))
	mux.HandleFunc(http.MethodGet+" "+common.PathVideos, svc.withCommon(svc.handleStatusByURL))
	mux.HandleFunc(http.MethodGet+" "+common.PathVideos+"/{id}", svc.withCommon(svc.handleStatus))

	s := &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      loggingMiddleware(recoveryMiddleware(mux), svc.Log),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
	return s
}

// withCommon enforces the optional static API key, requires a caller
// identity from the upstream gateway, and caps the request body.
func (svc *Service) withCommon(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if key := strings.TrimSpace(svc.Cfg.Server.APIKey); key != "" {
			if r.Header.Get(common.HeaderAPIKey) != key {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		if strings.TrimSpace(r.Header.Get(common.HeaderUserID)) == "" {
			http.Error(w, "missing "+common.HeaderUserID, http.StatusUnauthorized)
			return
		}
		if max := safeInt64(svc.Cfg.Server.MaxRequestBody); max > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		next.ServeHTTP(w, r)
	}
}

type submitRequest struct {
	URL     string `json:"url"`
	Options struct {
		IncludeTranscript bool `json:"includeTranscript"`
		ForceRefresh      bool `json:"forceRefresh"`
	} `json:"options"`
}

type submitResponse struct {
	Success         bool        `json:"success"`
	JobID           string      `json:"jobId"`
	Status          jobs.Status `json:"status"`
	EstimatedTimeMs int64       `json:"estimatedTimeMs"`
	PollIntervalMs  int64       `json:"pollIntervalMs"`
	Message         string      `json:"message"`
}

type errorResponse struct {
	Success bool                  `json:"success"`
	Error   *pipeline.StatusError `json:"error"`
}

func (svc *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ownerID := r.Header.Get(common.HeaderUserID)

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest,
			jobs.NewJobError(jobs.CodeInvalidURL, "request body must be JSON with a url field").WithDetails(err.Error()))
		return
	}

	res, jerr := svc.Orchestrator.Submit(r.Context(), ownerID, req.URL, pipeline.SubmitOptions{
		IncludeTranscript: req.Options.IncludeTranscript,
		ForceRefresh:      req.Options.ForceRefresh,
	})
	if jerr != nil {
		writeError(w, rejectionStatus(jerr.Code), jerr)
		return
	}

	code := http.StatusAccepted
	if res.Reused {
		code = http.StatusOK
	}
	writeJSON(w, code, submitResponse{
		Success:         true,
		JobID:           res.JobID,
		Status:          res.Status,
		EstimatedTimeMs: res.EstimatedTimeMs,
		PollIntervalMs:  res.PollIntervalMs,
		Message:         res.Message,
	})
}

type statusResponse struct {
	Success bool `json:"success"`
	*pipeline.StatusView
}

func (svc *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := svc.Status.Status(r.PathValue("id"))
	svc.writeStatus(w, view, err)
}

func (svc *Service) handleStatusByURL(w http.ResponseWriter, r *http.Request) {
	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, jobs.NewJobError(jobs.CodeInvalidURL, "a url query parameter is required"))
		return
	}
	view, err := svc.Status.StatusByURL(r.Header.Get(common.HeaderUserID), rawURL)
	svc.writeStatus(w, view, err)
}

func (svc *Service) writeStatus(w http.ResponseWriter, view *pipeline.StatusView, err error) {
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, jobs.NewJobError(jobs.CodeNotFound, "no such job"))
			return
		}
		svc.Log.Error("status read failed", "err", err)
		writeError(w, http.StatusInternalServerError, jobs.NewJobError(jobs.CodeInternalError, "could not read the job"))
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Success: true, StatusView: view})
}

// rejectionStatus maps synchronous rejection codes to HTTP status codes.
func rejectionStatus(code jobs.ErrorCode) int {
	switch code {
	case jobs.CodeInvalidURL:
		return http.StatusBadRequest
	case jobs.CodeUnsupportedPlatform, jobs.CodeUnsupportedContent:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, jerr *jobs.JobError) {
	writeJSON(w, status, errorResponse{
		Success: false,
		Error: &pipeline.StatusError{
			Code:               jerr.Code,
			Message:            jerr.Message,
			Details:            jerr.Details,
			RetryAfterMs:       jerr.RetryAfterMs,
			FallbackSuggestion: jobs.FallbackSuggestion(jerr.Code),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func safeInt64(u config.ByteSize) int64 {
	if u > config.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}

func loggingMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	// Fallback to a discard logger if none provided to avoid nil deref in tests or minimal setups.
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &writeWrap{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.code,
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr)
	})
}

type writeWrap struct {
	http.ResponseWriter
	code int
}

func (w *writeWrap) WriteHeader(statusCode int) {
	w.code = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
