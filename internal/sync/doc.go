// Package sync coordinates incremental synchronization with a remote GraphQL
// API on behalf of several independent participants.
//
// Overview
//
// Each participant owns one entity type. An execution proceeds in rounds:
//
//	Coordinator ──InitialRequest──▶ participants
//	     │
//	     ├── merge requests ──▶ one transport call
//	     │
//	     ├── response ──SaveResponse──▶ each participant
//	     │                                 NewData(next) | NewData(nil) | NoData | Failed
//	     │
//	     └── next round with only the participants that returned NewData(next)
//
// The execution ends Succeeded when no participant has outstanding work, or
// RetryNeeded as soon as a round fails as a whole.
//
// Failure Handling
//
// Failures are classified at two granularities:
//
//   - Participant-level: a malformed slice or a storage error. The participant
//     reports Failed and drops out; the other participants continue.
//   - Batch-level: connection failure, non-2xx status, a body that is not a
//     JSON object, or a top-level "errors" array. The execution ends
//     RetryNeeded. Records and cursors written by earlier rounds are kept.
//
// Neither kind is returned to callers as an error.
//
// Concurrency
//
// Trigger and Sync may be called from any goroutine. A single execution is in
// flight at a time; callers that arrive while it runs join it and receive the
// same Outcome. Results and Updates feed every outcome to subscribers without
// blocking the execution.
//
// A transport call that never returns stalls the execution and with it every
// joined caller. Bound calls with transport.BatchConfig.Timeout.
//
// Usage
//
//	batch := transport.NewBatch(httpTransport, transport.BatchConfig{Timeout: 30 * time.Second})
//	coord := sync.New(batch, &sync.Config{Logger: logger})
//	p, err := paging.New[Experience](experiences, cursors, "experiences", logger)
//	if err != nil {
//		return err
//	}
//	coord.Register(p)
//
//	outcome, err := coord.Sync(ctx)
package sync
