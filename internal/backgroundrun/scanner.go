package backgroundrun

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentconsole/internal/notify"
	"github.com/agentconsole/internal/statusstore"
)

// DefaultEvictAfter is how many consecutive failed status queries mark an
// entry as orphaned.
const DefaultEvictAfter = 3

// Scanner is the process-wide sweep over every persisted run entry, across
// every agent namespace, independent of whatever per-thread pollers are
// doing. It writes terminal results back through the same read-merge-write
// discipline as everyone else, evicts orphans after repeated query failures,
// and is the only component that raises cross-view user notifications.
type Scanner struct {
	storage    statusstore.Storage
	changes    *notify.Broadcaster
	fetcher    StatusFetcher
	notices    Notices
	interval   time.Duration
	evictAfter int

	mu      sync.Mutex
	started bool
	visible bool
	cancel  context.CancelFunc
}

// NewScanner builds a scanner. notices may be nil when no UI is attached.
// interval <= 0 selects DefaultPollInterval.
func NewScanner(storage statusstore.Storage, changes *notify.Broadcaster, fetcher StatusFetcher, notices Notices, interval time.Duration) *Scanner {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Scanner{
		storage:    storage,
		changes:    changes,
		fetcher:    fetcher,
		notices:    notices,
		interval:   interval,
		evictAfter: DefaultEvictAfter,
		visible:    true,
	}
}

// SetEvictAfter overrides the orphan eviction threshold. Values below 1 are
// ignored.
func (s *Scanner) SetEvictAfter(n int) {
	if n >= 1 {
		s.evictAfter = n
	}
}

// Start begins sweeping. Calling Start on a running scanner is a no-op.
func (s *Scanner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	if s.visible {
		s.startLoopLocked()
	}
}

// Stop halts sweeping.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.stopLocked()
}

// SetVisible pauses the sweep entirely while the hosting page is hidden and
// resumes with an immediate sweep on restore.
func (s *Scanner) SetVisible(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visible == visible {
		return
	}
	s.visible = visible
	if !visible {
		s.stopLocked()
		return
	}
	if s.started {
		s.startLoopLocked()
	}
}

func (s *Scanner) startLoopLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.loop(ctx)
}

func (s *Scanner) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Scanner) loop(ctx context.Context) {
	s.SweepOnce(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce polls every non-terminal entry in every namespace exactly once.
func (s *Scanner) SweepOnce(ctx context.Context) {
	namespaces, err := s.storage.Namespaces()
	if err != nil {
		log.Warn().Err(err).Msg("Run scan could not list namespaces")
		return
	}
	for _, agentID := range namespaces {
		entries, err := s.storage.Load(agentID)
		if err != nil {
			log.Warn().Err(err).Str("agent_id", agentID).Msg("Run scan could not load namespace")
			continue
		}
		for threadID, entry := range entries {
			if entry.Status.Terminal() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.checkRun(ctx, agentID, threadID, entry)
		}
	}
}

func (s *Scanner) checkRun(ctx context.Context, agentID, threadID string, entry statusstore.RunStatus) {
	record, fetchErr := s.fetcher.RunStatus(ctx, agentID, threadID, entry.RunID)

	var completed, orphaned bool
	err := statusstore.Mutate(s.storage, s.changes, agentID, func(entries map[string]statusstore.RunStatus) bool {
		current, ok := entries[threadID]
		if !ok || current.RunID != entry.RunID {
			// Removed or replaced since the sweep loaded it.
			return false
		}
		if current.Status.Terminal() {
			// Another observer already applied the terminal status.
			return false
		}

		if fetchErr != nil {
			current.FailCount++
			if current.FailCount >= s.evictAfter {
				delete(entries, threadID)
				orphaned = true
				return true
			}
			entries[threadID] = current
			return true
		}

		switch record.Status {
		case statusstore.StatusSuccess, statusstore.StatusError:
			if current.Viewed {
				// Terminal plus viewed leaves nothing to track.
				delete(entries, threadID)
			} else {
				current.Status = record.Status
				current.FailCount = 0
				entries[threadID] = current
			}
			completed = true
			return true
		case statusstore.StatusCancelled:
			if current.Viewed {
				delete(entries, threadID)
				return true
			}
			current.Status = record.Status
			current.FailCount = 0
			entries[threadID] = current
			return true
		default:
			if current.FailCount != 0 {
				// The query streak recovered.
				current.FailCount = 0
				entries[threadID] = current
				return true
			}
			return false
		}
	})
	if err != nil {
		log.Warn().Err(err).Str("agent_id", agentID).Str("thread_id", threadID).Msg("Run scan write failed")
		return
	}

	if s.notices == nil {
		return
	}
	if completed {
		s.notices.RunCompleted(agentID, threadID, record)
	}
	if orphaned {
		s.notices.RunOrphaned(agentID, threadID, entry.RunID)
	}
}

var (
	globalMu      sync.Mutex
	globalScanner *Scanner
)

// EnsureGlobalScanner starts the single process-wide scanner on first call
// and returns it; later calls return the existing one regardless of how many
// views come and go.
func EnsureGlobalScanner(build func() *Scanner) *Scanner {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalScanner == nil {
		globalScanner = build()
		globalScanner.Start()
	}
	return globalScanner
}
