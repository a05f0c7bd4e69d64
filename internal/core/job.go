package core

import "time"

// JobStatus is the lifecycle state of an import job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobPartial    JobStatus = "partial"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobPartial, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// JobProgress tracks how far a job has advanced through its rows.
type JobProgress struct {
	Current    int `json:"current"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// JobSummary is the running tally kept by a job worker.
type JobSummary struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Created    int `json:"created"`
	Updated    int `json:"updated"`
}

// JobRowError records a row that failed during execution.
type JobRowError struct {
	RowNumber int    `json:"rowNumber"`
	Row       RawRow `json:"row"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
}

// ImportJob is the mutable record of one background execution run.
// Only the job's own worker mutates it; readers get copies from the Registry.
type ImportJob struct {
	ID                  string         `json:"jobId"`
	SessionID           string         `json:"sessionId"`
	EntityKey           string         `json:"entity"`
	ActorID             string         `json:"actorId,omitempty"`
	Status              JobStatus      `json:"status"`
	Progress            JobProgress    `json:"progress"`
	Summary             JobSummary     `json:"summary"`
	Errors              []JobRowError  `json:"errors"`
	Error               string         `json:"error,omitempty"` // Non-empty if the job failed as a whole
	CreatedAt           time.Time      `json:"createdAt"`
	StartedAt           time.Time      `json:"startedAt"`
	CompletedAt         *time.Time     `json:"completedAt,omitempty"`
	EstimatedCompletion *time.Time     `json:"estimatedCompletion,omitempty"`
	Duration            *time.Duration `json:"duration,omitempty"`
}

// Clone returns a deep copy safe to hand to readers.
func (j ImportJob) Clone() ImportJob {
	out := j
	if j.Errors != nil {
		out.Errors = make([]JobRowError, len(j.Errors))
		copy(out.Errors, j.Errors)
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	if j.EstimatedCompletion != nil {
		t := *j.EstimatedCompletion
		out.EstimatedCompletion = &t
	}
	if j.Duration != nil {
		d := *j.Duration
		out.Duration = &d
	}
	return out
}

// advance records one processed row and recomputes percentage and ETA
// as a linear extrapolation of the mean time per row since StartedAt.
func (j *ImportJob) advance(now time.Time) {
	j.Progress.Current++
	j.Progress.Percentage = percentage(j.Progress.Current, j.Progress.Total)

	if j.Progress.Current == 0 {
		return
	}
	elapsed := now.Sub(j.StartedAt)
	perRow := elapsed / time.Duration(j.Progress.Current)
	eta := now.Add(perRow * time.Duration(j.Progress.Total-j.Progress.Current))
	j.EstimatedCompletion = &eta
}

// finish moves the job to a terminal status and stamps timing fields.
func (j *ImportJob) finish(status JobStatus, now time.Time) {
	j.Status = status
	j.CompletedAt = &now
	d := now.Sub(j.StartedAt)
	j.Duration = &d
	j.Progress.Percentage = percentage(j.Progress.Current, j.Progress.Total)
	if status == JobCompleted || status == JobPartial {
		j.EstimatedCompletion = &now
	}
}

// percentage rounds current/total to a whole percent. It only reports 100
// once every row is done, so rounding never claims completion early.
func percentage(current, total int) int {
	if total <= 0 || current >= total {
		return 100
	}
	if current <= 0 {
		return 0
	}
	p := (current*200 + total) / (total * 2)
	if p > 99 {
		p = 99
	}
	return p
}
