package domain

import "strings"

// JobStatus is the normalized state of a provider-side batch job
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// ParseJobStatus maps the status strings of OpenAI-compatible batch APIs onto
// JobStatus. Unknown values count as running so polling continues.
func ParseJobStatus(raw string) JobStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "validating", "queued", "pre_schedule":
		return JobQueued
	case "completed":
		return JobCompleted
	case "failed", "expired":
		return JobFailed
	case "canceled", "cancelled":
		return JobCanceled
	default:
		return JobRunning
	}
}

// Terminal reports whether polling should stop
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCanceled:
		return true
	}
	return false
}

// Job is a snapshot of a batch job. It is polled, never mutated locally.
type Job struct {
	ID           string
	Status       JobStatus
	RawStatus    string
	Total        int
	Completed    int
	Failed       int
	OutputFileID string
	ErrorFileID  string
}
