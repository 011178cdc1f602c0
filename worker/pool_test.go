package worker

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"multisvg/config"
	"multisvg/models"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestRetryDelay_BacksOffAndCaps(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryDelay(1))
	assert.Equal(t, 8*time.Second, retryDelay(3))
	assert.Equal(t, maxRetryDelay, retryDelay(5))
	assert.Equal(t, maxRetryDelay, retryDelay(12))
}

func TestIsStale(t *testing.T) {
	now := time.Now()

	assert.False(t, isStale(models.ArchiveJob{CreatedAt: now.Add(-time.Minute)}, now))
	assert.True(t, isStale(models.ArchiveJob{CreatedAt: now.Add(-6 * time.Minute)}, now))
}

func TestNewJob_UsesConfigLimits(t *testing.T) {
	p := &Pool{config: &config.Config{MaxRetries: 4, ArchiveTimeout: 60}}

	job := p.NewJob("sub-9", "/api/download/files.zip")

	assert.Equal(t, "sub-9", job.SubmissionID)
	assert.Equal(t, "artifacts/sub-9/files.zip", job.ObjectKey)
	assert.Equal(t, 4, job.MaxRetries)
	assert.Equal(t, 60, job.Timeout)
	assert.Zero(t, job.RetryCount)
	assert.WithinDuration(t, time.Now(), job.CreatedAt, time.Second)
}

type failingStatus struct{}

func (failingStatus) UpdateArchiveStatus(context.Context, string, string, string, map[string]interface{}) error {
	return errors.New("db down")
}

func (failingStatus) UpdateArchiveError(context.Context, string, string) error {
	return errors.New("db down")
}

func (failingStatus) IncrementArchiveRetry(context.Context, string) error {
	return errors.New("db down")
}

func TestFailJob_LogsStoreErrors(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	defer client.Close()

	p := &Pool{
		config:      &config.Config{FailedQueue: "archive:failed", StatusKeyPrefix: "archive:status:"},
		redisClient: client,
		status:      failingStatus{},
	}

	p.failJob(context.Background(), "sub-1", `{"submissionId":"sub-1"}`, "S3 upload failed")

	out := buf.String()
	assert.Contains(t, out, "Failed to move sub-1 to failed queue")
	assert.Contains(t, out, "Failed to update status of sub-1")
	assert.Contains(t, out, "Failed to record error of sub-1")
}
