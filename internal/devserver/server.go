// Package devserver is a mock agent backend for local development and
// integration tests. It speaks the same wire protocol the real backend does:
// "data: <json>\n\n" framed event streams, background run creation, and
// point-in-time run status queries.
package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/agentconsole/internal/assembly"
	"github.com/agentconsole/internal/statusstore"
	"github.com/agentconsole/internal/stream"
)

// pollsUntilDone is how many status queries a mock run answers with
// pending/running before reporting its outcome.
const pollsUntilDone = 2

// mockRun is one background job tracked by the dev server. Outcome is
// selected by keywords in the submitted message: "fail" ends in error,
// "cancel" in cancelled, "vanish" makes every status query 404 (the orphan
// path); anything else succeeds.
type mockRun struct {
	agentID   string
	threadID  string
	message   string
	outcome   statusstore.Status
	vanished  bool
	polls     int
	errorText string
}

// Server holds the mock backend's in-memory state.
type Server struct {
	echo *echo.Echo

	mu      sync.Mutex
	runs    map[string]*mockRun
	threads map[string][]*assembly.Message
}

// New builds the server and its routes.
func New() *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		runs:    make(map[string]*mockRun),
		threads: make(map[string][]*assembly.Message),
	}

	api := e.Group("/api/agents/:agent")
	api.POST("/streams", s.openStream)
	api.POST("/runs", s.createRun)
	api.GET("/runs/:run", s.runStatus)
	api.GET("/threads/:thread/messages", s.threadMessages)

	return s
}

// Handler exposes the server for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks serving on addr.
func (s *Server) Start(addr string) error {
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dev server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type submitRequest struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

// openStream answers a submit with a scripted event stream. A message
// containing "tool" exercises the tool-call path, fragments included.
func (s *Server) openStream(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.WriteHeader(http.StatusOK)

	reply := "You said: " + req.Message
	var events []stream.Event
	for _, word := range strings.SplitAfter(reply, " ") {
		events = append(events, event(stream.EventToken, map[string]any{"content": word}))
	}
	if strings.Contains(req.Message, "tool") {
		events = append(events,
			event(stream.EventToolCall, []map[string]any{{"name": "echo_tool"}}),
			event(stream.EventToolCall, []map[string]any{{"args": `{"input":`}}),
			event(stream.EventToolCall, []map[string]any{{"args": fmt.Sprintf("%q}", req.Message)}}),
			event(stream.EventToolResult, map[string]any{"result": "tool ok"}),
		)
	}
	events = append(events, event(stream.EventEnd, map[string]any{"thread_id": threadID}))

	for _, ev := range events {
		raw, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(resp, "data: %s\n\n", raw); err != nil {
			return nil // client went away
		}
		resp.Flush()
	}

	s.recordTurn(threadID, req.Message, reply)
	return nil
}

func event(name string, data any) stream.Event {
	raw, _ := json.Marshal(data)
	return stream.Event{Name: name, Data: raw}
}

func (s *Server) recordTurn(threadID, message, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[threadID] = append(s.threads[threadID],
		&assembly.Message{ID: uuid.NewString(), Role: assembly.RoleHuman, Content: message},
		&assembly.Message{ID: uuid.NewString(), Role: assembly.RoleAI, Content: reply},
	)
}

func (s *Server) createRun(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	run := &mockRun{
		agentID:  c.Param("agent"),
		threadID: threadID,
		message:  req.Message,
		outcome:  statusstore.StatusSuccess,
	}
	switch {
	case strings.Contains(req.Message, "vanish"):
		run.vanished = true
	case strings.Contains(req.Message, "fail"):
		run.outcome = statusstore.StatusError
		run.errorText = "mock run failed"
	case strings.Contains(req.Message, "cancel"):
		run.outcome = statusstore.StatusCancelled
	}

	runID := uuid.NewString()
	s.mu.Lock()
	s.runs[runID] = run
	s.mu.Unlock()

	go func() {
		// The background "work".
		time.Sleep(50 * time.Millisecond)
		s.recordTurn(threadID, req.Message, "Background reply to: "+req.Message)
	}()

	return c.JSON(http.StatusOK, map[string]string{"run_id": runID, "thread_id": threadID})
}

func (s *Server) runStatus(c echo.Context) error {
	runID := c.Param("run")

	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok || run.vanished {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}

	run.polls++
	status := statusstore.StatusRunning
	errorText := ""
	if run.polls == 1 {
		status = statusstore.StatusPending
	}
	if run.polls > pollsUntilDone {
		status = run.outcome
		errorText = run.errorText
	}

	return c.JSON(http.StatusOK, map[string]any{
		"run_id": runID,
		"status": status,
		"error":  errorText,
	})
}

func (s *Server) threadMessages(c echo.Context) error {
	threadID := c.Param("thread")
	s.mu.Lock()
	messages := s.threads[threadID]
	s.mu.Unlock()
	if messages == nil {
		messages = []*assembly.Message{}
	}
	return c.JSON(http.StatusOK, messages)
}
