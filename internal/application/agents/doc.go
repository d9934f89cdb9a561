// Package agents implements the agent host that runs one newsroom role.
//
// A host:
//   - Subscribes to the topics of its role on the message bus
//   - Serializes envelopes of one story through a keyed dispatch queue
//   - Skips envelopes it already handled, using the dedup store
//   - Invokes the handler registered for the envelope type through the resilient invoker
//   - Dead-letters or discards envelopes whose handling failed
//
// The health monitor tracks slot usage and logs metrics.
package agents
