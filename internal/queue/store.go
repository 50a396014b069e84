package queue

import "context"

// Store is the claim/lease protocol plus scheduler operations over the
// durable job queue. Claim and Finish must be atomic: two concurrent claims
// never return overlapping jobs, and finishing an already-finished job is a
// no-op.
type Store interface {
	// Claim atomically flips up to limit eligible pending jobs to
	// processing, increments their attempts and returns them.
	Claim(ctx context.Context, limit int) ([]ClaimedJob, error)

	// Finish records the outcome of a claimed job. Exactly one of price and
	// errMsg is meaningful: a price marks the job done and propagates it to
	// the catalog item; an error marks the job failed.
	Finish(ctx context.Context, jobID int64, price *float64, errMsg *string) error

	// EnqueueAll creates one pending job per active, non-manually-priced
	// catalog item that has no pending or processing job yet.
	EnqueueAll(ctx context.Context) (EnqueueResult, error)

	// EnqueueDueScheduled performs EnqueueAll when the schedule is enabled
	// and due, then advances the schedule.
	EnqueueDueScheduled(ctx context.Context) (ScheduleRun, error)

	// SetSchedule enables or disables the bulk-refresh schedule.
	SetSchedule(ctx context.Context, enabled bool, frequencyMinutes int) error

	// IsAdmin reports whether the store credential may mutate the queue.
	IsAdmin(ctx context.Context) (bool, error)
}

// TruncateError bounds a diagnostic message to MaxErrorLength runes.
func TruncateError(msg string) string {
	runes := []rune(msg)
	if len(runes) <= MaxErrorLength {
		return msg
	}
	return string(runes[:MaxErrorLength])
}
