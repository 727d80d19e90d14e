package backgroundrun

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agentconsole/internal/statusstore"
)

// fetchFunc adapts a function to StatusFetcher.
type fetchFunc func(ctx context.Context, agentID, threadID, runID string) (RunRecord, error)

func (f fetchFunc) RunStatus(ctx context.Context, agentID, threadID, runID string) (RunRecord, error) {
	return f(ctx, agentID, threadID, runID)
}

// countingFetcher scripts per-run responses and counts queries.
type countingFetcher struct {
	mu      sync.Mutex
	counts  map[string]int
	respond func(runID string, call int) (RunRecord, error)
}

func newCountingFetcher(respond func(runID string, call int) (RunRecord, error)) *countingFetcher {
	return &countingFetcher{counts: map[string]int{}, respond: respond}
}

func (c *countingFetcher) RunStatus(_ context.Context, _, _, runID string) (RunRecord, error) {
	c.mu.Lock()
	c.counts[runID]++
	call := c.counts[runID]
	c.mu.Unlock()
	return c.respond(runID, call)
}

func (c *countingFetcher) count(runID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[runID]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func running(runID string) (RunRecord, error) {
	return RunRecord{RunID: runID, Status: statusstore.StatusRunning}, nil
}

func TestPoller_StopsAndCallsBackOnSuccess(t *testing.T) {
	fetcher := newCountingFetcher(func(runID string, call int) (RunRecord, error) {
		if call < 3 {
			return running(runID)
		}
		return RunRecord{RunID: runID, Status: statusstore.StatusSuccess}, nil
	})

	var mu sync.Mutex
	var completions []RunRecord
	p := NewPoller("a1", "t1", fetcher, 10*time.Millisecond, func(rec RunRecord) {
		mu.Lock()
		completions = append(completions, rec)
		mu.Unlock()
	})
	defer p.StopPolling()

	p.StartPolling("r1")
	waitFor(t, "completion callback", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(completions) > 0
	})

	settled := fetcher.count("r1")
	time.Sleep(60 * time.Millisecond)
	if got := fetcher.count("r1"); got != settled {
		t.Errorf("Poller kept polling after terminal status: %d -> %d", settled, got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(completions) != 1 || completions[0].Status != statusstore.StatusSuccess {
		t.Errorf("Expected exactly one success completion, got %v", completions)
	}
}

func TestPoller_CancelledStopsWithoutCallback(t *testing.T) {
	fetcher := newCountingFetcher(func(runID string, call int) (RunRecord, error) {
		return RunRecord{RunID: runID, Status: statusstore.StatusCancelled}, nil
	})

	called := false
	p := NewPoller("a1", "t1", fetcher, 10*time.Millisecond, func(RunRecord) { called = true })
	p.StartPolling("r1")
	defer p.StopPolling()

	waitFor(t, "first poll", func() bool { return fetcher.count("r1") >= 1 })
	time.Sleep(60 * time.Millisecond)
	if called {
		t.Error("Cancelled run must not invoke the completion callback")
	}
	if fetcher.count("r1") > 1 {
		t.Errorf("Poller kept polling a cancelled run: %d polls", fetcher.count("r1"))
	}
}

func TestPoller_TransientFailuresKeepPolling(t *testing.T) {
	fetcher := newCountingFetcher(func(runID string, call int) (RunRecord, error) {
		if call < 4 {
			return RunRecord{}, errors.New("connection refused")
		}
		return RunRecord{RunID: runID, Status: statusstore.StatusSuccess}, nil
	})

	done := make(chan RunRecord, 1)
	p := NewPoller("a1", "t1", fetcher, 10*time.Millisecond, func(rec RunRecord) { done <- rec })
	p.StartPolling("r1")
	defer p.StopPolling()

	select {
	case rec := <-done:
		if rec.Status != statusstore.StatusSuccess {
			t.Errorf("Expected success after transient failures, got %v", rec)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Transient failures stopped the poller")
	}
}

func TestPoller_RestartReplacesPriorInterval(t *testing.T) {
	fetcher := newCountingFetcher(func(runID string, call int) (RunRecord, error) {
		return running(runID)
	})

	p := NewPoller("a1", "t1", fetcher, 10*time.Millisecond, nil)
	p.StartPolling("r1")
	p.StartPolling("r2")
	defer p.StopPolling()

	waitFor(t, "several r2 polls", func() bool { return fetcher.count("r2") >= 3 })
	r1Settled := fetcher.count("r1")
	time.Sleep(60 * time.Millisecond)
	if got := fetcher.count("r1"); got != r1Settled {
		t.Errorf("First interval still alive after restart: %d -> %d r1 polls", r1Settled, got)
	}
}

func TestPoller_LateResponseForReplacedRunIgnored(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var completed []string

	fetcher := fetchFunc(func(_ context.Context, _, _, runID string) (RunRecord, error) {
		if runID == "r1" {
			<-release
			return RunRecord{RunID: runID, Status: statusstore.StatusSuccess}, nil
		}
		return running(runID)
	})

	p := NewPoller("a1", "t1", fetcher, time.Hour, func(rec RunRecord) {
		mu.Lock()
		completed = append(completed, rec.RunID)
		mu.Unlock()
	})

	p.StartPolling("r1")
	p.StartPolling("r2")
	close(release) // r1's in-flight response lands after the run id changed
	defer p.StopPolling()

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(completed) != 0 {
		t.Errorf("Late response for a replaced run must be ignored, got completions %v", completed)
	}
}

func TestPoller_VisibilitySuspendsAndResumes(t *testing.T) {
	fetcher := newCountingFetcher(func(runID string, call int) (RunRecord, error) {
		return running(runID)
	})

	p := NewPoller("a1", "t1", fetcher, 10*time.Millisecond, nil)
	p.StartPolling("r1")
	defer p.StopPolling()

	waitFor(t, "initial polls", func() bool { return fetcher.count("r1") >= 2 })

	p.SetVisible(false)
	time.Sleep(30 * time.Millisecond) // drain any in-flight tick
	suspended := fetcher.count("r1")
	time.Sleep(60 * time.Millisecond)
	if got := fetcher.count("r1"); got != suspended {
		t.Errorf("Hidden poller still issuing requests: %d -> %d", suspended, got)
	}

	p.SetVisible(true)
	waitFor(t, "immediate poll on visibility restore", func() bool { return fetcher.count("r1") > suspended })
}

func TestPoller_StartWhileHiddenWaitsForVisibility(t *testing.T) {
	fetcher := newCountingFetcher(func(runID string, call int) (RunRecord, error) {
		return running(runID)
	})

	p := NewPoller("a1", "t1", fetcher, 10*time.Millisecond, nil)
	p.SetVisible(false)
	p.StartPolling("r1")
	defer p.StopPolling()

	time.Sleep(50 * time.Millisecond)
	if fetcher.count("r1") != 0 {
		t.Error("Hidden poller polled before becoming visible")
	}

	p.SetVisible(true)
	waitFor(t, "poll after visibility", func() bool { return fetcher.count("r1") >= 1 })
}
