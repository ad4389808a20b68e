package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	aierrors "github.com/hrygo/mindloop/internal/errors"
	"github.com/hrygo/mindloop/internal/observability"
	"github.com/hrygo/mindloop/plugin/ai/memory"
	"github.com/hrygo/mindloop/plugin/ai/pipeline"
)

// ChatService exposes the turn pipeline over HTTP.
type ChatService struct {
	Pipeline *pipeline.Pipeline
	// Gateway is optional; when set its counters are reported by GetMetrics.
	Gateway *memory.Gateway
}

// ChatRequest is the body of both chat endpoints.
type ChatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
	Debug   bool   `json:"debug"`
}

// ErrorResponse is returned for failed requests and carried by SSE error events.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MetricsResponse is the body of GET /api/v1/metrics.
type MetricsResponse struct {
	observability.Snapshot
	MemoryStored int64 `json:"memory_stored"`
	MemoryFailed int64 `json:"memory_failed"`
}

// NewChatService creates a ChatService.
func NewChatService(p *pipeline.Pipeline, gateway *memory.Gateway) *ChatService {
	return &ChatService{Pipeline: p, Gateway: gateway}
}

// RegisterRoutes mounts the chat API on e.
func (s *ChatService) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.Use(middleware.CORS())
	g.POST("/chat", s.Chat)
	g.POST("/chat/stream", s.ChatStream)
	g.GET("/sessions/:user", s.GetSession)
	g.DELETE("/sessions/:user", s.ClearSession)
	g.GET("/metrics", s.GetMetrics)
}

// Chat runs one batch turn.
// POST /api/v1/chat
func (s *ChatService) Chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: string(aierrors.ErrCodeInvalidArgument), Message: "invalid request body"})
	}
	turn, err := s.Pipeline.Chat(c.Request().Context(), req.Message, pipeline.ChatOptions{UserID: req.UserID, Debug: req.Debug})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, turn)
}

// ChatStream runs one turn and streams its events as server-sent events.
// Each event is written as "event: <type>" with a JSON data line.
// POST /api/v1/chat/stream
func (s *ChatService) ChatStream(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: string(aierrors.ErrCodeInvalidArgument), Message: "invalid request body"})
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)

	events := s.Pipeline.ChatStream(ctx, req.Message, pipeline.ChatOptions{UserID: req.UserID, Debug: req.Debug})
	for ev := range events {
		if err := writeEvent(w, ev); err != nil {
			slog.Warn("sse write failed, abandoning turn", "user_id", req.UserID, "error", err)
			cancel()
			for range events {
			}
			return nil
		}
		w.Flush()
	}
	return nil
}

// GetSession returns the user's session.
// GET /api/v1/sessions/:user
func (s *ChatService) GetSession(c echo.Context) error {
	sess, ok := s.Pipeline.GetSession(c.Request().Context(), c.Param("user"))
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Code: "NOT_FOUND", Message: "session not found"})
	}
	return c.JSON(http.StatusOK, sess)
}

// ClearSession discards the user's session.
// DELETE /api/v1/sessions/:user
func (s *ChatService) ClearSession(c echo.Context) error {
	if err := s.Pipeline.ClearSession(c.Request().Context(), c.Param("user")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetMetrics returns pipeline and persistence counters.
// GET /api/v1/metrics
func (s *ChatService) GetMetrics(c echo.Context) error {
	resp := MetricsResponse{Snapshot: s.Pipeline.Metrics().Snapshot()}
	if s.Gateway != nil {
		resp.MemoryStored, resp.MemoryFailed = s.Gateway.Stats()
	}
	return c.JSON(http.StatusOK, resp)
}

func writeError(c echo.Context, err error) error {
	var aiErr *aierrors.AIError
	if errors.As(err, &aiErr) {
		return c.JSON(aiErr.HTTPStatus(), ErrorResponse{Code: string(aiErr.Code), Message: aiErr.Message})
	}
	slog.Error("unclassified request failure", "error", err)
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "INTERNAL", Message: "internal error"})
}

func writeEvent(w *echo.Response, ev pipeline.Event) error {
	var payload any = ev
	if ev.Type == pipeline.EventError {
		code := aierrors.GetCodeFromError(ev.Err, aierrors.ErrCodeGenerationFailed)
		msg := "turn failed"
		var aiErr *aierrors.AIError
		if errors.As(ev.Err, &aiErr) {
			msg = aiErr.Message
		}
		payload = ErrorResponse{Code: string(code), Message: msg}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
