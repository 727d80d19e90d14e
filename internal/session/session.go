// Package session owns the conversational state behind one open thread
// view: the ordered message list, the loading/error flags, and the active
// background run.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentconsole/internal/agentapi"
	"github.com/agentconsole/internal/assembly"
	"github.com/agentconsole/internal/backgroundrun"
	"github.com/agentconsole/internal/statusstore"
	"github.com/agentconsole/internal/stream"
)

// Transport is the slice of the agent API a session needs. *agentapi.Client
// satisfies it.
type Transport interface {
	OpenStream(ctx context.Context, agentID, threadID, message string) (io.ReadCloser, error)
	CreateRun(ctx context.Context, agentID, threadID, message string) (agentapi.CreateRunResponse, error)
	History(ctx context.Context, agentID, threadID string) ([]*assembly.Message, error)
	backgroundrun.StatusFetcher
}

// BackgroundRun identifies the run this session is currently tracking.
type BackgroundRun struct {
	RunID    string
	ThreadID string
}

// Session is created empty when a conversation view mounts and reset when
// the user starts a new thread. The thread id stays empty until the first
// successful submit or an explicit history load.
type Session struct {
	agentID      string
	transport    Transport
	store        *statusstore.Store
	pollInterval time.Duration

	mu        sync.Mutex
	threadID  string
	messages  []*assembly.Message
	isLoading bool
	lastError error
	activeRun *BackgroundRun
	poller    *backgroundrun.Poller
}

// New creates an empty session for one agent.
func New(agentID string, transport Transport, store *statusstore.Store, pollInterval time.Duration) *Session {
	return &Session{
		agentID:      agentID,
		transport:    transport,
		store:        store,
		pollInterval: pollInterval,
	}
}

// Submit sends a message, appends the human turn plus an AI placeholder, and
// blocks while the placeholder fills in from the stream. Callers drive it
// from their own goroutine and watch Messages/IsLoading for updates.
// Cancellation ends the stream quietly; only genuine transport failures set
// LastError and return.
func (s *Session) Submit(ctx context.Context, text string) error {
	placeholder := assembly.NewAIPlaceholder()

	s.mu.Lock()
	s.messages = append(s.messages, assembly.NewHumanMessage(text), placeholder)
	s.isLoading = true
	s.lastError = nil
	threadID := s.threadID
	s.mu.Unlock()

	body, err := s.transport.OpenStream(ctx, s.agentID, threadID, text)
	if err != nil {
		return s.finishStream(ctx, err)
	}
	defer body.Close()

	asm := assembly.NewAssembler(placeholder)
	asm.OnThreadID = func(id string) {
		s.mu.Lock()
		s.threadID = id
		s.mu.Unlock()
	}
	return s.finishStream(ctx, asm.Consume(ctx, stream.NewDecoder(body)))
}

// finishStream clears the loading flag and classifies the stream's outcome:
// an intentional cancellation is a normal ending, anything else surfaces.
func (s *Session) finishStream(ctx context.Context, err error) error {
	if err != nil && (errors.Is(err, context.Canceled) || ctx.Err() != nil) {
		err = nil
	}
	s.mu.Lock()
	s.isLoading = false
	s.lastError = err
	s.mu.Unlock()
	return err
}

// SubmitBackground creates a background run for the message instead of
// holding a stream open, records it as pending in the status store, and
// starts the per-thread poller. The returned run id is also observable by
// the global scanner; whichever observer sees completion first wins, and
// both converge on the same terminal entry.
func (s *Session) SubmitBackground(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	threadID := s.threadID
	s.mu.Unlock()

	resp, err := s.transport.CreateRun(ctx, s.agentID, threadID, text)
	if err != nil {
		s.mu.Lock()
		s.lastError = err
		s.mu.Unlock()
		return "", err
	}

	s.mu.Lock()
	s.messages = append(s.messages, assembly.NewHumanMessage(text))
	s.threadID = resp.ThreadID
	s.activeRun = &BackgroundRun{RunID: resp.RunID, ThreadID: resp.ThreadID}
	if s.poller != nil {
		s.poller.StopPolling()
	}
	s.poller = backgroundrun.NewPoller(s.agentID, resp.ThreadID, s.transport, s.pollInterval, func(record backgroundrun.RunRecord) {
		s.onRunComplete(resp.ThreadID, record)
	})
	poller := s.poller
	s.mu.Unlock()

	if err := s.store.Set(resp.ThreadID, statusstore.RunStatus{RunID: resp.RunID, Status: statusstore.StatusPending}); err != nil {
		log.Warn().Err(err).Str("run_id", resp.RunID).Msg("Could not persist background run entry")
	}
	poller.StartPolling(resp.RunID)
	return resp.RunID, nil
}

func (s *Session) onRunComplete(threadID string, record backgroundrun.RunRecord) {
	// Update, not Set: if the scanner (or another view) already applied the
	// terminal status, or the user cleared the entry, this is a no-op.
	if err := s.store.Update(threadID, record.Status); err != nil {
		log.Warn().Err(err).Str("thread_id", threadID).Msg("Could not record run completion")
	}
	s.mu.Lock()
	if s.activeRun != nil && s.activeRun.RunID == record.RunID {
		s.activeRun = nil
	}
	s.mu.Unlock()
}

// LoadHistory replaces the session's state with a persisted thread.
func (s *Session) LoadHistory(ctx context.Context, threadID string) error {
	messages, err := s.transport.History(ctx, s.agentID, threadID)
	if err != nil {
		s.mu.Lock()
		s.lastError = err
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.threadID = threadID
	s.messages = messages
	s.lastError = nil
	s.mu.Unlock()
	return nil
}

// Reset returns the session to the empty state for a new thread.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poller != nil {
		s.poller.StopPolling()
		s.poller = nil
	}
	s.threadID = ""
	s.messages = nil
	s.isLoading = false
	s.lastError = nil
	s.activeRun = nil
}

// SetVisible forwards visibility changes to the active poller.
func (s *Session) SetVisible(visible bool) {
	s.mu.Lock()
	poller := s.poller
	s.mu.Unlock()
	if poller != nil {
		poller.SetVisible(visible)
	}
}

// ThreadID returns the server-assigned thread id, empty until assigned.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// Messages returns the ordered message list. The slice is a copy; the
// messages themselves are shared and must be treated as read-only by
// callers.
func (s *Session) Messages() []*assembly.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*assembly.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// IsLoading reports whether a stream is being consumed.
func (s *Session) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isLoading
}

// LastError returns the most recent surfaced failure, if any.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// ActiveRun returns the tracked background run, or nil.
func (s *Session) ActiveRun() *BackgroundRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeRun == nil {
		return nil
	}
	run := *s.activeRun
	return &run
}
