package models

import "time"

type ArchiveJob struct {
	SubmissionID string    `json:"submissionId"`
	DownloadURL  string    `json:"downloadUrl"`
	ObjectKey    string    `json:"objectKey"`
	RetryCount   int       `json:"retryCount"`
	MaxRetries   int       `json:"maxRetries"`
	CreatedAt    time.Time `json:"createdAt"`
	Timeout      int       `json:"timeout"`
}
