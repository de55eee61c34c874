package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/meetjot/internal/application"
	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/logging"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options wires the services behind the approval API. Sessions may be nil,
// in which case the session routes answer 503.
type Options struct {
	Staging      *application.StagingService
	Dispatcher   *application.ExecutionDispatcher
	Sessions     *application.SessionService
	Gatherer     prometheus.Gatherer
	AutoDispatch bool
}

// Server exposes the approval interface and session control over HTTP.
type Server struct {
	echo   *echo.Echo
	opts   Options
	logger *logging.Logger
}

func NewServer(opts Options, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Debug(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})

	s := &Server{echo: e, opts: opts, logger: logger}
	e.HTTPErrorHandler = s.handleError
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.opts.Gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/drafts", s.handleListDrafts)
	v1.GET("/drafts/:id", s.handleGetDraft)
	v1.PUT("/drafts/:id/payload", s.handleEditDraft)
	v1.POST("/drafts/:id/approve", s.handleApproveDraft)
	v1.POST("/drafts/:id/reject", s.handleRejectDraft)
	v1.POST("/drafts/:id/retry", s.handleRetryDraft)
	v1.POST("/drafts/:id/execute", s.handleExecuteDraft)

	v1.GET("/session", s.handleActiveSession)
	v1.POST("/session/start", s.handleStartSession)
	v1.POST("/session/stop", s.handleStopSession)
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

type HealthResponse struct {
	Status  string `json:"status"`
	Session string `json:"session,omitempty"`
}

// PayloadRequest is the body for payload edits and approval overrides.
type PayloadRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// StartSessionRequest selects channels; empty means the configured ones.
type StartSessionRequest struct {
	Channels []string `json:"channels"`
}

type ErrorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if s.opts.Sessions != nil {
		if info, ok := s.opts.Sessions.ActiveSession(); ok {
			resp.Session = info.ID
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListDrafts(c echo.Context) error {
	var filter domain.DraftFilter
	for _, raw := range c.QueryParams()["status"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, err := domain.ParseStatus(part)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	drafts, err := s.opts.Staging.ListDrafts(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	if drafts == nil {
		drafts = []domain.ActionDraft{}
	}
	return c.JSON(http.StatusOK, drafts)
}

func (s *Server) handleGetDraft(c echo.Context) error {
	draft, err := s.opts.Staging.GetDraft(c.Request().Context(), draftID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, draft)
}

func (s *Server) handleEditDraft(c echo.Context) error {
	req, err := bindPayload(c)
	if err != nil {
		return err
	}
	if len(req.Payload) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "payload is required")
	}

	result, err := s.opts.Staging.EditDraft(c.Request().Context(), draftID(c), req.Payload)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleApproveDraft(c echo.Context) error {
	req, err := bindPayload(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	result, err := s.opts.Staging.ApproveDraft(ctx, draftID(c), req.Payload)
	if err != nil {
		return err
	}
	if result.Applied() && s.opts.AutoDispatch {
		s.enqueue(ctx, result.Draft.ID)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleRejectDraft(c echo.Context) error {
	result, err := s.opts.Staging.RejectDraft(c.Request().Context(), draftID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleRetryDraft(c echo.Context) error {
	ctx := c.Request().Context()
	result, err := s.opts.Staging.RetryDraft(ctx, draftID(c))
	if err != nil {
		return err
	}
	if result.Applied() && s.opts.AutoDispatch {
		s.enqueue(ctx, result.Draft.ID)
	}
	return c.JSON(http.StatusOK, result)
}

// handleExecuteDraft commits an APPROVED draft synchronously.
func (s *Server) handleExecuteDraft(c echo.Context) error {
	if s.opts.Dispatcher == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "execution is not configured")
	}
	result, err := s.opts.Dispatcher.Execute(c.Request().Context(), draftID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleActiveSession(c echo.Context) error {
	if s.opts.Sessions == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "capture is not configured")
	}
	info, ok := s.opts.Sessions.ActiveSession()
	if !ok {
		return domain.ErrNoActiveSession
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleStartSession(c echo.Context) error {
	if s.opts.Sessions == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "capture is not configured")
	}

	var req StartSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	channels := make([]domain.Channel, 0, len(req.Channels))
	for _, raw := range req.Channels {
		channel, err := domain.ParseChannel(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		channels = append(channels, channel)
	}

	info, err := s.opts.Sessions.StartSession(c.Request().Context(), channels)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, info)
}

func (s *Server) handleStopSession(c echo.Context) error {
	if s.opts.Sessions == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "capture is not configured")
	}

	summary, err := s.opts.Sessions.StopSession(c.Request().Context())
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveSession) {
			return err
		}
		// The session did stop; the summary still reports what was staged.
		s.logger.Warn(c.Request().Context(), "session stopped with error", zap.Error(err))
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) enqueue(ctx context.Context, id domain.DraftID) {
	if s.opts.Dispatcher == nil {
		return
	}
	if err := s.opts.Dispatcher.Enqueue(ctx, id); err != nil {
		s.logger.Warn(logging.WithDraftID(ctx, string(id)), "enqueue draft execution", zap.Error(err))
	}
}

func (s *Server) Start(addr string) error {
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

func draftID(c echo.Context) domain.DraftID {
	return domain.DraftID(c.Param("id"))
}

func bindPayload(c echo.Context) (PayloadRequest, error) {
	var req PayloadRequest
	if err := c.Bind(&req); err != nil {
		return PayloadRequest{}, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if string(req.Payload) == "null" {
		req.Payload = nil
	}
	return req, nil
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrDraftNotFound), errors.Is(err, domain.ErrNoActiveSession):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrStatusConflict),
		errors.Is(err, domain.ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidPayload):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrCaptureFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		msg, ok := httpErr.Message.(string)
		if !ok {
			msg = http.StatusText(httpErr.Code)
		}
		_ = c.JSON(httpErr.Code, ErrorResponse{Error: msg})
		return
	}

	code := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		resp.Problems = validation.Problems
	}
	if code == http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed", zap.Error(err))
		resp.Error = "internal error"
	}
	_ = c.JSON(code, resp)
}
