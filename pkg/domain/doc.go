// Package domain defines the newsroom's core types: story identifiers, the
// stage lifecycle, the payload kinds carried in envelopes, and the persisted
// orchestration instance.
//
// Stage order:
//
//	Pitched → Assigned → Reporting → Drafting → FactChecking → CopyEdit →
//	Packaging → ReadyToPublish → (Scheduled) → Published → Distributed → Archived
//
// FactChecking may branch to AwaitingApproval before CopyEdit, and any
// non-terminal stage may fall back to Rework.
package domain
