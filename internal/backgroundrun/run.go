// Package backgroundrun observes asynchronous agent jobs whose completion
// arrives by polling rather than a live connection. A per-thread Poller
// watches the run a view started; the process-wide Scanner sweeps every
// persisted run across all agents. Both may observe the same completion;
// convergence on the terminal status, not mutual exclusion, is the
// correctness property.
package backgroundrun

import (
	"context"
	"time"

	"github.com/agentconsole/internal/statusstore"
)

// DefaultPollInterval is shared by the per-thread poller and the global
// scanner.
const DefaultPollInterval = 2 * time.Second

// RunRecord is the point-in-time answer to a background job status query.
type RunRecord struct {
	RunID  string             `json:"run_id"`
	Status statusstore.Status `json:"status"`
	Error  string             `json:"error,omitempty"`
}

// StatusFetcher issues one status query for a run. Implemented by the agent
// API client; fakes stand in for it in tests.
type StatusFetcher interface {
	RunStatus(ctx context.Context, agentID, threadID, runID string) (RunRecord, error)
}

// Notices receives the user-facing notifications only the global scanner
// raises. Per-thread pollers report back to the view that started them
// through their completion callback instead.
type Notices interface {
	// RunCompleted fires when the scanner observes a run reach success or
	// error.
	RunCompleted(agentID, threadID string, record RunRecord)
	// RunOrphaned fires when a run's entry is evicted after repeated failed
	// status queries; the job likely no longer exists server-side and may
	// have been cancelled.
	RunOrphaned(agentID, threadID, runID string)
}
