// internal/server/server.go
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cmux-cli/cdpscript/internal/executor"
	"github.com/cmux-cli/cdpscript/internal/registry"
	"github.com/cmux-cli/cdpscript/internal/report"
	"github.com/cmux-cli/cdpscript/internal/script"
	"github.com/cmux-cli/cdpscript/internal/validate"
)

const maxBodyBytes = 1 << 20

// Generator produces scripts from natural-language requests.
type Generator interface {
	GenerateWithRetry(ctx context.Context, request string) (*script.Script, error)
}

// Config configures the HTTP front-end.
type Config struct {
	Addr           string
	Policy         executor.Policy
	CommandTimeout time.Duration
	OutputDir      string
	Logger         *log.Logger
}

// Server exposes validation, execution and generation over HTTP. All runs
// share one browser session, so they are executed one at a time.
type Server struct {
	cfg       Config
	reg       *registry.Registry
	validator *validate.Validator
	session   executor.Session
	gen       Generator
	logger    *log.Logger

	runMu      sync.Mutex
	httpServer *http.Server
}

// New creates a server. gen may be nil, in which case /generate is
// unavailable.
func New(cfg Config, reg *registry.Registry, session executor.Session, gen Generator) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		cfg:       cfg,
		reg:       reg,
		validator: validate.New(reg),
		session:   session,
		gen:       gen,
		logger:    logger,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/health", s.handleHealth)
	router.Get("/commands", s.handleCommands)
	router.Post("/validate", s.handleValidate)
	router.Post("/run", s.handleRun)
	router.Post("/generate", s.handleGenerate)
	router.Post("/inference", s.handleGenerate)
	router.Get("/ws/run", s.handleRunWebSocket)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return router
}

// Start serves HTTP until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Printf("[server] listening on %s", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Printf("[server] shutting down")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// RunResponse is the envelope returned by /run and /generate.
type RunResponse struct {
	Status      string           `json:"status"`
	Message     string           `json:"message"`
	RunID       string           `json:"run_id,omitempty"`
	ScriptSteps int              `json:"script_steps,omitzero"`
	Script      *script.Script   `json:"script,omitzero"`
	Validation  *validate.Result `json:"validation,omitzero"`
	Report      *report.Report   `json:"execution_report,omitzero"`
}

const (
	statusSuccess = "success"
	statusFailed  = "failed"
	statusInvalid = "invalid"
	statusError   = "error"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"service":  "cdpscript",
		"commands": s.reg.Len(),
	})
}

type commandInfo struct {
	Method   string   `json:"method"`
	Summary  string   `json:"summary"`
	Required []string `json:"required"`
	Optional []string `json:"optional"`
	Saves    bool     `json:"saves_output"`
	Example  string   `json:"example"`
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	out := make([]commandInfo, 0, s.reg.Len())
	for _, e := range s.reg.Entries() {
		out = append(out, commandInfo{
			Method:   e.Method,
			Summary:  e.Summary,
			Required: e.Schema.Required,
			Optional: e.Schema.Optional,
			Saves:    e.SavesOutput,
			Example:  e.Example,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	res := s.validator.ValidateJSON(body)
	observeValidation(res.Valid)
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	policy, err := s.policyFor(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	res := s.validator.ValidateJSON(body)
	observeValidation(res.Valid)
	if !res.Valid {
		metricRuns.WithLabelValues(statusInvalid).Inc()
		respondJSON(w, http.StatusUnprocessableEntity, &RunResponse{
			Status:     statusInvalid,
			Message:    fmt.Sprintf("script failed validation with %d error(s)", len(res.Errors)),
			Validation: res,
		})
		return
	}
	sc, err := script.Parse(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	resp := s.execute(r.Context(), sc, policy, nil)
	resp.Validation = res
	respondJSON(w, httpStatus(resp), resp)
}

type generateRequest struct {
	Prompt  string `json:"prompt"`
	Execute *bool  `json:"execute,omitzero"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.gen == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("script generation is not configured"))
		return
	}
	policy, err := s.policyFor(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	var req generateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	if req.Prompt == "" {
		respondError(w, http.StatusBadRequest, errors.New("prompt is required"))
		return
	}

	sc, err := s.gen.GenerateWithRetry(r.Context(), req.Prompt)
	if err != nil {
		s.logger.Printf("[server] generation failed: %v", err)
		respondJSON(w, http.StatusBadGateway, &RunResponse{
			Status:  statusError,
			Message: fmt.Sprintf("Generation failed: %v", err),
		})
		return
	}

	if req.Execute != nil && !*req.Execute {
		respondJSON(w, http.StatusOK, &RunResponse{
			Status:      statusSuccess,
			Message:     "Script generated",
			ScriptSteps: len(sc.Commands),
			Script:      sc,
		})
		return
	}

	resp := s.execute(r.Context(), sc, policy, nil)
	resp.Script = sc
	if resp.Status == statusSuccess {
		resp.Message = "Script generated and executed"
	}
	respondJSON(w, httpStatus(resp), resp)
}

func (s *Server) policyFor(r *http.Request) (executor.Policy, error) {
	if p := r.URL.Query().Get("policy"); p != "" {
		return executor.ParsePolicy(p)
	}
	return s.cfg.Policy, nil
}

// execute runs sc on the shared session. observe, if set, receives every
// step after the metrics are updated.
func (s *Server) execute(ctx context.Context, sc *script.Script, policy executor.Policy, observe func(runID string, res report.Result)) *RunResponse {
	runID := uuid.NewString()
	resp := &RunResponse{RunID: runID, ScriptSteps: len(sc.Commands)}

	metricRunsInFlight.Inc()
	defer metricRunsInFlight.Dec()

	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.logger.Printf("[server] run %s: %q (%d commands)", runID, sc.Name, len(sc.Commands))
	exec := executor.New(s.reg, s.session,
		executor.WithPolicy(policy),
		executor.WithCommandTimeout(s.cfg.CommandTimeout),
		executor.WithOutputDir(s.cfg.OutputDir),
		executor.WithLogger(s.logger),
		executor.WithObserver(func(res report.Result) {
			observeStep(res)
			if observe != nil {
				observe(runID, res)
			}
		}),
	)

	rep, err := exec.Run(ctx, sc)
	resp.Report = rep
	switch {
	case err != nil:
		resp.Status = statusError
		resp.Message = fmt.Sprintf("Execution failed: %v", err)
	case rep.IsSuccess():
		resp.Status = statusSuccess
		resp.Message = rep.Summary()
	default:
		resp.Status = statusFailed
		resp.Message = rep.FailureMessage()
		if resp.Message == "" {
			resp.Message = rep.Summary()
		}
	}
	metricRuns.WithLabelValues(resp.Status).Inc()
	s.logger.Printf("[server] run %s: %s", runID, resp.Message)
	return resp
}

func httpStatus(resp *RunResponse) int {
	if resp.Status == statusError {
		return http.StatusBadGateway
	}
	return http.StatusOK
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) == 0 {
		return nil, errors.New("request body is empty")
	}
	return body, nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.MarshalWrite(w, payload, jsontext.WithIndent("  "))
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{
		"error":  err.Error(),
		"status": status,
	})
}
