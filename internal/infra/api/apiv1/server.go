package apiv1

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-analysis-pipeline/internal/domain"
	"ai-analysis-pipeline/internal/domain/model"
	"ai-analysis-pipeline/internal/domain/ports/adapter"
	"ai-analysis-pipeline/internal/domain/ports/repository"
	"ai-analysis-pipeline/internal/infra/api"
	"ai-analysis-pipeline/internal/infra/logging"
	"ai-analysis-pipeline/internal/infra/metrics"
	red "ai-analysis-pipeline/internal/infra/redis"
	"ai-analysis-pipeline/internal/usecase"
)

const (
	maxBodyBytes = 1 << 20
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	writeWait    = 10 * time.Second
)

// RateLimiter counts submissions per key inside a fixed window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// ReportReader loads stored analysis bundles.
type ReportReader interface {
	GetAnalysis(ctx context.Context, reportID string) (*model.AnalysisBundle, error)
}

type Options struct {
	RateLimit  int
	RateWindow time.Duration // 0 disables rate limiting
	// RequestTimeout bounds report reads. Submissions run under the
	// orchestrator's stage timeouts instead.
	RequestTimeout time.Duration
	// AllowUnknownSubjects lets clients watch a subject before it exists.
	AllowUnknownSubjects bool
	AllowAnyOrigin       bool
}

type Deps struct {
	Orchestrator usecase.OrchestratorUseCase
	Reports      ReportReader
	Subjects     repository.SubjectRepository
	Progress     adapter.ProgressBroadcaster
	Limiter      RateLimiter // optional
	Auth         *api.AuthManager
}

type Server struct {
	deps     Deps
	opts     Options
	upgrader websocket.Upgrader
	log      *zerolog.Logger

	closeOnce sync.Once
	closing   chan struct{}
}

func NewServer(deps Deps, opts Options, logger *zerolog.Logger) *Server {
	compLog := logger.With().Str("component", "APIv1").Logger()
	up := websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	if opts.AllowAnyOrigin {
		up.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return &Server{deps: deps, opts: opts, upgrader: up, log: &compLog, closing: make(chan struct{})}
}

// CloseStreams ends every open progress stream.
func (s *Server) CloseStreams() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// RegisterAPIV1 mounts the versioned routes on r.
func RegisterAPIV1(r chi.Router, s *Server) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(api.Authenticate(s.deps.Auth))
		r.Post("/tasks", s.submitTask)
		r.With(api.Timeout(s.requestTimeout())).Get("/reports/{id}", s.getReport)
		r.Get("/subjects/{id}/progress", s.streamProgress)
	})
}

func (s *Server) requestTimeout() time.Duration {
	if s.opts.RequestTimeout <= 0 {
		return 15 * time.Second
	}
	return s.opts.RequestTimeout
}

type submitTaskRequest struct {
	TaskID    string          `json:"task_id"`
	Type      model.TaskType  `json:"type"`
	SubjectID string          `json:"subject_id"`
	Priority  int             `json:"priority"`
	Payload   json.RawMessage `json:"payload"`
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	p, _ := api.PrincipalFrom(r.Context())
	l := logging.With(r.Context(), s.log)

	var req submitTaskRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !s.allow(r.Context(), p.AccountID, l) {
		metrics.IncRateLimited()
		writeError(w, http.StatusTooManyRequests, "too many submissions")
		return
	}

	task := model.Task{
		ID:        strings.TrimSpace(req.TaskID),
		Type:      req.Type,
		SubjectID: strings.TrimSpace(req.SubjectID),
		AccountID: p.AccountID,
		Tier:      p.Tier,
		Priority:  req.Priority,
	}
	payload, err := decodePayload(req.Type, req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	task.Payload = payload

	res := s.deps.Orchestrator.Submit(r.Context(), task)
	writeJSON(w, statusFor(res), res)
}

// allow fails open when the limiter backend is down.
func (s *Server) allow(ctx context.Context, accountID string, l *zerolog.Logger) bool {
	if s.deps.Limiter == nil || s.opts.RateWindow <= 0 {
		return true
	}
	ok, err := s.deps.Limiter.Allow(ctx, red.AccountSubmitKey(accountID), s.opts.RateLimit, s.opts.RateWindow)
	if err != nil {
		l.Warn().Err(err).Msg("rate limiter unavailable")
		return true
	}
	return ok
}

// decodePayload picks the payload shape from the task type. Unknown types
// are passed on without a payload so the orchestrator reports them.
func decodePayload(t model.TaskType, raw json.RawMessage) (model.TaskPayload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	switch t {
	case model.TaskTypeAnalyze, model.TaskTypeAssess:
		var p model.AnalyzePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, errors.New("invalid analyze payload")
		}
		return p, nil
	case model.TaskTypeGeneratePlan:
		var p model.GeneratePlanPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, errors.New("invalid plan payload")
		}
		return p, nil
	default:
		return nil, nil
	}
}

func statusFor(res model.Result) int {
	if res.Status != model.ResultFailed {
		return http.StatusOK
	}
	switch res.ErrorKind() {
	case model.ErrKindUpgradeRequired:
		return http.StatusPaymentRequired
	case model.ErrKindQuotaExceeded:
		return http.StatusTooManyRequests
	case model.ErrKindUnknownTaskType, model.ErrKindInvalidTask:
		return http.StatusBadRequest
	case model.ErrKindNotFound:
		return http.StatusNotFound
	case model.ErrKindAlreadyInProgress:
		return http.StatusConflict
	case model.ErrKindCapabilityNotConfigured:
		return http.StatusServiceUnavailable
	case model.ErrKindCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	p, _ := api.PrincipalFrom(r.Context())
	id := chi.URLParam(r, "id")

	b, err := s.deps.Reports.GetAnalysis(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		logging.With(r.Context(), s.log).Error().Err(err).Str("report_id", id).Msg("load report")
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return
	}
	// reports of other accounts are indistinguishable from missing ones
	if b.Report.AccountID != p.AccountID {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	p, _ := api.PrincipalFrom(r.Context())
	subjectID := chi.URLParam(r, "id")
	l := logging.With(logging.WithSubjectID(r.Context(), subjectID), s.log)

	if status, ok := s.canWatch(r.Context(), p, subjectID, l); !ok {
		writeError(w, status, http.StatusText(status))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events, unsubscribe := s.deps.Progress.Subscribe(ctx, subjectID)
	defer unsubscribe()

	// The read side only handles control frames; any error ends the stream.
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-s.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				l.Debug().Err(err).Msg("progress write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) canWatch(ctx context.Context, p api.Principal, subjectID string, l *zerolog.Logger) (int, bool) {
	if subjectID == "" {
		return http.StatusBadRequest, false
	}
	if s.deps.Subjects == nil {
		return 0, true
	}
	subj, err := s.deps.Subjects.FindByID(ctx, repository.NoTX, subjectID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if s.opts.AllowUnknownSubjects {
			return 0, true
		}
		return http.StatusNotFound, false
	case err != nil:
		l.Error().Err(err).Msg("load subject")
		return http.StatusInternalServerError, false
	case subj.AccountID != "" && subj.AccountID != p.AccountID:
		return http.StatusNotFound, false
	}
	return 0, true
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
