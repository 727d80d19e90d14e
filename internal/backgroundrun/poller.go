package backgroundrun

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentconsole/internal/statusstore"
)

// Poller watches one run for one (agent, thread) pair: an immediate poll on
// start, then a fixed interval until the run reaches a terminal status.
// Transient fetch failures are swallowed and retried on the next tick.
// Hiding the hosting view suspends the interval entirely; restoring it
// issues an immediate poll and resumes.
type Poller struct {
	agentID    string
	threadID   string
	fetcher    StatusFetcher
	interval   time.Duration
	onComplete func(RunRecord)

	mu      sync.Mutex
	runID   string
	active  bool
	visible bool
	cancel  context.CancelFunc
}

// NewPoller builds a poller for one thread. onComplete fires once, with the
// final record, when the run ends in success or error; a cancelled run stops
// polling silently. interval <= 0 selects DefaultPollInterval.
func NewPoller(agentID, threadID string, fetcher StatusFetcher, interval time.Duration, onComplete func(RunRecord)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		agentID:    agentID,
		threadID:   threadID,
		fetcher:    fetcher,
		interval:   interval,
		onComplete: onComplete,
		visible:    true,
	}
}

// StartPolling begins watching runID. Any poll already in progress is
// stopped first, so a poller never carries more than one active interval.
func (p *Poller) StartPolling(runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.runID = runID
	p.active = true
	if p.visible {
		p.startLoopLocked()
	}
}

// StopPolling cancels the interval and clears the tracked run id. A response
// already in flight is not cancelled; it is discarded when it lands because
// the run id no longer matches.
func (p *Poller) StopPolling() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.runID = ""
	p.active = false
}

// SetVisible suspends the interval while the hosting view is hidden and
// resumes, with an immediate poll, when it becomes visible again.
func (p *Poller) SetVisible(visible bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.visible == visible {
		return
	}
	p.visible = visible
	if !visible {
		p.stopLocked()
		return
	}
	if p.active {
		p.startLoopLocked()
	}
}

func (p *Poller) startLoopLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.loop(ctx, p.runID)
}

func (p *Poller) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Poller) loop(ctx context.Context, runID string) {
	p.pollOnce(ctx, runID)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx, runID)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, runID string) {
	record, err := p.fetcher.RunStatus(ctx, p.agentID, p.threadID, runID)
	if err != nil {
		if ctx.Err() == nil {
			log.Debug().Err(err).Str("run_id", runID).Msg("Run status poll failed, will retry")
		}
		return
	}

	p.mu.Lock()
	if p.runID != runID {
		// A late response for a run this poller no longer tracks.
		p.mu.Unlock()
		return
	}

	switch record.Status {
	case statusstore.StatusSuccess, statusstore.StatusError:
		p.stopLocked()
		p.runID = ""
		p.active = false
		callback := p.onComplete
		p.mu.Unlock()
		if callback != nil {
			callback(record)
		}
	case statusstore.StatusCancelled:
		p.stopLocked()
		p.runID = ""
		p.active = false
		p.mu.Unlock()
	default:
		p.mu.Unlock()
	}
}
