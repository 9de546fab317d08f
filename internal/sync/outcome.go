package sync

import "time"

// Status is the terminal state of one execution.
type Status string

const (
	// Succeeded means every round completed; individual participants may
	// still have reported Failed.
	Succeeded Status = "succeeded"

	// RetryNeeded means a round failed as a whole (transport or top-level
	// response problem). Progress persisted by earlier rounds is kept.
	RetryNeeded Status = "retry_needed"
)

// Outcome is the terminal result of one execution, shared by every caller
// that joined it.
type Outcome struct {
	// ID identifies the execution.
	ID string

	Status Status

	// Err is the cause of RetryNeeded, for logging. It is nil on success.
	Err error

	// Rounds is the number of transport calls issued.
	Rounds int

	StartedAt  time.Time
	FinishedAt time.Time

	// Participants maps participant name to the last result it reported.
	// Participants that returned no initial request are absent.
	Participants map[string]ResultKind
}

// Succeeded reports whether the execution reached Succeeded.
func (o Outcome) Succeeded() bool {
	return o.Status == Succeeded
}

// Duration returns how long the execution took.
func (o Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}
