package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
)

// ProcessingJob is one unit of asynchronous work over a single document.
type ProcessingJob struct {
	ID              uuid.UUID              `json:"id"`
	DocumentRef     string                 `json:"document_ref"`
	Kind            constants.DocumentKind `json:"kind"`
	SizeBytes       int64                  `json:"size_bytes"`
	Priority        constants.Priority     `json:"priority"`
	Status          constants.JobStatus    `json:"status"`
	Attempts        int                    `json:"attempts"`
	MaxAttempts     int                    `json:"max_attempts"`
	ScheduledFor    time.Time              `json:"scheduled_for"`
	LastError       *JobError              `json:"last_error,omitempty"`
	Progress        int                    `json:"progress"`
	ResultRef       string                 `json:"result_ref,omitempty"`
	CancelRequested bool                   `json:"cancel_requested"`
	// MalformedResponses counts attempts that failed on an unparseable
	// capability response.
	MalformedResponses int       `json:"malformed_responses"`
	Version            int64     `json:"version"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// JobError is the classified error retained on a job.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (j *ProcessingJob) Clone() *ProcessingJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.LastError != nil {
		e := *j.LastError
		c.LastError = &e
	}
	return &c
}
