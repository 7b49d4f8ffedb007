package publish

import "time"

// Queue scores. The ready queue is a sorted set drained minimum-first, so the
// score decides claim order. Fresh submissions are scored by priority and
// creation time; retries and recovered orphans are scored with a raw unix
// timestamp marking when they become eligible again. The two ranges overlap
// for priorities >= 2, so retries interleave with fresh high-priority work
// rather than forming a strict band. This mirrors the wire format of existing
// deployments and must not change without a migration.
const (
	// scorePriorityWeight spaces priority tiers far enough apart that the
	// time component never crosses tiers.
	scorePriorityWeight = 1_000_000

	// scoreEpochCeiling inverts creation time within a tier: later-created
	// tasks get smaller scores and drain first among equals.
	scoreEpochCeiling = 2_147_483_647
)

// queueScore computes the ready-queue score for a fresh or approved task.
func queueScore(priority int, createdAt int64) float64 {
	return float64(priority)*scorePriorityWeight + float64(scoreEpochCeiling-createdAt)
}

// retryScore marks a retried task eligible at now+delay.
func retryScore(now time.Time, delay time.Duration) float64 {
	return float64(now.Add(delay).Unix())
}

// recoveryScore is used when re-queueing orphans found in the in-flight set
// at startup; they become eligible immediately.
func recoveryScore(now time.Time) float64 {
	return float64(now.Unix())
}
