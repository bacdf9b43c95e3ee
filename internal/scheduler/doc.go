// ABOUTME: Package scheduler runs proactive agent tasks on cron schedules
// ABOUTME: Tasks persist through a narrow Store; every run is written to the audit log

// Package scheduler owns the collection of proactive tasks. A task pairs a
// five-field cron expression with an agent role and a prompt. The ticker loop
// claims due tasks under the lock, advances their next run past now and runs
// them outside the lock through a Runner. Each run appends a bounded result
// to the task and exactly one audit entry.
//
// Store writes go through one write mutex and always persist the task as it
// is when the write happens, skipping tasks that were deleted meanwhile.
package scheduler
