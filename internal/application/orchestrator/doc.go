// Package orchestrator implements the durable story pipeline.
//
// The orchestrator manager drives each story by:
//   - Validating the pitch and creating a persisted instance
//   - Running stage activities through the resilient invoker
//   - Saving every step by compare-and-swap under a lease, so a restart
//     resumes from the first unrecorded step
//   - Waiting for the editor approval signal or its deadline
//   - Holding scheduled stories until their publish time
//
// The validator adds intake rules on top of the pitch's own validation.
package orchestrator
