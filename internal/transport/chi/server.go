// Package chi is the HTTP transport: routing, request decoding, and the
// mapping from domain errors to response codes.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/diagflow/internal/domain"
	healthuc "github.com/kailas-cloud/diagflow/internal/usecase/health"
	"github.com/kailas-cloud/diagflow/internal/usecase/pipeline"
	"github.com/kailas-cloud/diagflow/internal/version"
)

const maxRequestBody = 1 << 20

// Error codes returned to clients.
const (
	codeBadRequest       = "bad_request"
	codeValidationFailed = "validation_failed"
	codeRunNotResumable  = "run_not_resumable"
	codeIndexUnavailable = "index_unavailable"
	codeGenerationFailed = "generation_failed"
	codeProviderError    = "embedding_provider_error"
	codeInternalError    = "internal_error"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// StatusReader reports retriever readiness for the status endpoint.
type StatusReader interface {
	Ready() error
	ChunkCount() int
}

// Server exposes the diagnosis pipeline over HTTP.
type Server struct {
	engine        *pipeline.Engine
	retriever     StatusReader
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(engine *pipeline.Engine, retriever StatusReader, health *healthuc.Service, logger *zap.Logger) *Server {
	s := &Server{
		engine:    engine,
		retriever: retriever,
		health:    health,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrRunNotResumable, http.StatusConflict, codeRunNotResumable),
		sentinelHandler(domain.ErrIndexUnavailable, http.StatusServiceUnavailable, codeIndexUnavailable),
		sentinelHandler(domain.ErrMalformedOutput, http.StatusBadGateway, codeGenerationFailed),
		sentinelHandler(domain.ErrGenerationFailed, http.StatusBadGateway, codeGenerationFailed),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeProviderError),
	}
	return s
}

// Routes mounts all endpoints on a fresh chi router. Middleware is applied
// by the caller.
func (s *Server) Routes(r chi.Router) {
	r.Post("/api/v1/diagnoses", s.CreateDiagnosis)
	r.Post("/api/v1/diagnoses/resume", s.ResumeDiagnosis)
	r.Get("/api/v1/status", s.Status)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// DiagnosisRequest is the body of POST /api/v1/diagnoses.
type DiagnosisRequest struct {
	Query          string            `json:"query"`
	PatientContext map[string]string `json:"patient_context,omitempty"`
}

// ResumeRequest is the body of POST /api/v1/diagnoses/resume: the state
// exactly as returned by a suspended run, plus the collected answers.
type ResumeRequest struct {
	State   *domain.PipelineState `json:"state"`
	Answers map[string]string     `json:"answers"`
}

// DiagnosisResponse wraps a pipeline state with its run status.
type DiagnosisResponse struct {
	Status string                `json:"status"` // "complete" / "awaiting_answers" / "failed"
	State  *domain.PipelineState `json:"state"`
}

// CreateDiagnosis handles POST /api/v1/diagnoses. A run that fails inside
// the pipeline still answers 200 with the terminal "System Error" state; the
// pipeline's contract is that callers always receive a well-formed result.
func (s *Server) CreateDiagnosis(w http.ResponseWriter, r *http.Request) {
	var req DiagnosisRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "query is required")
		return
	}

	st, err := s.engine.Run(r.Context(), req.Query, req.PatientContext)
	if err != nil {
		s.logger.Warn("Diagnosis run failed", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, stateResponse(st))
}

// ResumeDiagnosis handles POST /api/v1/diagnoses/resume.
func (s *Server) ResumeDiagnosis(w http.ResponseWriter, r *http.Request) {
	var req ResumeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.State == nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "state is required")
		return
	}
	if len(req.Answers) == 0 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "answers are required")
		return
	}

	st, err := s.engine.Resume(r.Context(), req.State, req.Answers)
	if err != nil && errors.Is(err, domain.ErrRunNotResumable) {
		s.handleDomainError(w, err)
		return
	}
	if err != nil {
		s.logger.Warn("Resumed run failed", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, stateResponse(st))
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Version    string `json:"version"`
	Commit     string `json:"commit,omitempty"`
	IndexReady bool   `json:"index_ready"`
	ChunkCount int    `json:"chunk_count"`
}

// Status handles GET /api/v1/status.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Version:    version.Version,
		Commit:     version.Commit,
		IndexReady: s.retriever.Ready() == nil,
		ChunkCount: s.retriever.ChunkCount(),
	})
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func stateResponse(st *domain.PipelineState) DiagnosisResponse {
	status := "complete"
	switch st.CurrentStage {
	case domain.StageAwaitingAnswers:
		status = "awaiting_answers"
	case domain.StageFailed:
		status = "failed"
	}
	return DiagnosisResponse{Status: status, State: st}
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrRunNotResumable,
		domain.ErrIndexUnavailable,
		domain.ErrMalformedOutput,
		domain.ErrGenerationFailed,
		domain.ErrEmbeddingProviderError,
		domain.ErrEmptyCorpus,
		domain.ErrDimensionMismatch,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
