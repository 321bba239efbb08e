// internal/workers/push/dispatch-notifications/models.go
package dispatchnotifications

// Outcome is the fate of one processing attempt.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeRetryable Outcome = "retryable"
	OutcomeTerminal  Outcome = "terminal"
)

// Per-job result tags reported to the caller.
const (
	ResultSent   = "sent"
	ResultFailed = "failed"
)

// StatusLeaseLost is reported instead of a job status when the attempt's
// claim was swept and the job is no longer this invocation's to record.
const StatusLeaseLost = "lease_lost"

// JobResult is the per-job line of a dispatch summary.
type JobResult struct {
	ID           string   `json:"id"`
	Result       string   `json:"result"`
	Kind         string   `json:"kind,omitempty"`
	Devices      int      `json:"devices"`
	SuccessCount int      `json:"successCount"`
	Errors       []string `json:"errors,omitempty"`
	Status       string   `json:"status"`
	Error        string   `json:"error,omitempty"`
}

// Summary is returned by one dispatch invocation.
type Summary struct {
	RunID     string      `json:"runId"`
	Processed int         `json:"processed"`
	Reclaimed int64       `json:"reclaimed,omitempty"`
	Summary   []JobResult `json:"summary"`
}
