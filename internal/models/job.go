package models

import (
	"time"
)

// JobState is the externally visible state of an extraction job.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// ExtractionPayload is what an extraction job carries.
type ExtractionPayload struct {
	DocumentID string `json:"documentId"`
	PrimaryURL string `json:"primaryUrl"`
	DirectURL  string `json:"directUrl,omitempty"`
}

// JobResult summarises a successful extraction run.
type JobResult struct {
	ContentVersion  int            `json:"contentVersion"`
	ContentHash     string         `json:"contentHash"`
	PageCount       int            `json:"pageCount"`
	WordCount       int            `json:"wordCount"`
	SummaryStatus   ArtifactStatus `json:"summaryStatus,omitempty"`
	QuestionsStatus ArtifactStatus `json:"questionsStatus,omitempty"`
	ChunkCount      int            `json:"chunkCount"`
}

type JobStatus struct {
	JobID         string     `json:"jobId"`
	DocumentID    string     `json:"documentId,omitempty"`
	State         JobState   `json:"state"`
	Progress      int        `json:"progressPercent"`
	Attempt       int        `json:"attempt,omitempty"`
	Result        *JobResult `json:"result,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// EnqueueResult reports whether work went to the queue. Queued is false when the
// extraction ran inline because the queue was unavailable. Duplicate is set when a job
// for the same document was already in flight and nothing new was enqueued.
type EnqueueResult struct {
	Queued    bool   `json:"queued"`
	JobID     string `json:"jobId,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}
