package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/SudoKMaar/CodeSentinel/internal/config"
	"github.com/SudoKMaar/CodeSentinel/internal/session"
)

// createRequest carries an optional session id plus analysis config
// overrides. Fields absent from the body keep their defaults.
type createRequest struct {
	ID     string          `json:"id"`
	Config json.RawMessage `json:"config"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// sessionStatus is the wire view of a session: counts and state only.
// Partial results can grow with the codebase and are served by the
// report endpoint instead.
type sessionStatus struct {
	ID            string         `json:"id"`
	Status        session.Status `json:"status"`
	Processed     int            `json:"processed"`
	Pending       int            `json:"pending"`
	Skipped       int            `json:"skipped"`
	Progress      float64        `json:"progress"`
	FailureReason string         `json:"failure_reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	CheckpointAt  time.Time      `json:"checkpoint_at"`
}

func statusOf(sess *session.Session) sessionStatus {
	return sessionStatus{
		ID:            sess.ID,
		Status:        sess.Status,
		Processed:     len(sess.Processed),
		Pending:       len(sess.Pending),
		Skipped:       len(sess.Skipped),
		Progress:      sess.Progress(),
		FailureReason: sess.FailureReason,
		CreatedAt:     sess.CreatedAt,
		CheckpointAt:  sess.CheckpointAt,
	}
}

func (s *Server) handleCreate(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	cfg := config.NewDefaultAnalysisConfig()
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid config: " + err.Error()})
		}
	}
	if err := cfg.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	sess, err := s.coord.Start(c.Request().Context(), req.ID, cfg)
	if err != nil {
		return s.mapError(c, err)
	}
	s.metrics.sessionsStarted.Inc()
	return c.JSON(http.StatusCreated, statusOf(sess))
}

func (s *Server) handleList(c echo.Context) error {
	var filter []session.Status
	if raw := c.QueryParam("status"); raw != "" {
		filter = append(filter, session.Status(raw))
	}
	sessions, err := s.coord.List(c.Request().Context(), filter...)
	if err != nil {
		return s.mapError(c, err)
	}
	out := make([]sessionStatus, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, statusOf(sess))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGet(c echo.Context) error {
	sess, err := s.coord.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, statusOf(sess))
}

func (s *Server) handlePause(c echo.Context) error {
	sess, err := s.coord.Pause(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(c, err)
	}
	s.metrics.sessionsPaused.Inc()
	return c.JSON(http.StatusOK, statusOf(sess))
}

func (s *Server) handleResume(c echo.Context) error {
	sess, err := s.coord.Resume(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(c, err)
	}
	s.metrics.sessionsResumed.Inc()
	return c.JSON(http.StatusOK, statusOf(sess))
}

func (s *Server) handleCancel(c echo.Context) error {
	sess, err := s.coord.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(c, err)
	}
	s.metrics.sessionsCanceled.Inc()
	return c.JSON(http.StatusOK, statusOf(sess))
}

func (s *Server) handleReport(c echo.Context) error {
	report, err := s.coord.Report(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleHealth(c echo.Context) error {
	health, err := s.store.CheckHealth(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": health,
	})
}

func (s *Server) mapError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrDuplicateSession):
		status = http.StatusConflict
	case errors.Is(err, session.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, session.ErrNotReady):
		status = http.StatusConflict
	case errors.Is(err, session.ErrCorruptState):
		status = http.StatusUnprocessableEntity
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}
