// Package statusstore persists per-thread background-run status, shared by
// every view instance tracking the same agent. Multiple independent writers
// (per-thread pollers, the global scanner, the UI) mutate the same persisted
// map, so every mutation follows a read-merge-write discipline: re-read the
// backend, apply the change, write back, then broadcast a change
// notification so other instances refresh.
package statusstore

// Status is the lifecycle state of a background run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusError, StatusCancelled:
		return true
	}
	return false
}

// RunStatus is one persisted entry, keyed by thread id inside an agent
// namespace. FailCount tracks the scanner's consecutive failed status
// queries; Viewed records that the UI has shown the terminal outcome.
type RunStatus struct {
	RunID     string `json:"run_id"`
	Status    Status `json:"status"`
	Viewed    bool   `json:"viewed"`
	FailCount int    `json:"fail_count"`
}
