// Package events publishes job-queue and liveness state-change
// notifications to an optional NATS broker. Per spec §5, "queues may be
// held in an external broker or in the same database — the design is
// agnostic": Postgres remains the source of truth regardless of whether a
// broker is configured, so every publish here is best-effort.
package events

// Subject constants. Format: sentryscan.<domain>.<action>
const (
	SubjectJobQueued      = "sentryscan.job.queued"
	SubjectJobReclaimed   = "sentryscan.job.reclaimed"
	SubjectJobExpired     = "sentryscan.job.expired"
	SubjectScanCompleted  = "sentryscan.scan.completed"
	SubjectLivenessChange = "sentryscan.liveness.change"
)
