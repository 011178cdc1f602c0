package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"multisvg/config"
	"multisvg/models"
	"multisvg/services"

	"github.com/redis/go-redis/v9"
)

const (
	tempDir        = "/tmp/multisvg-archive"
	staleAfter     = 5 * time.Minute
	maxRetryDelay  = 30 * time.Second
	recoveryPeriod = 5 * time.Minute
)

// StatusStore records archive progress. The database service implements it.
type StatusStore interface {
	UpdateArchiveStatus(ctx context.Context, submissionID string, status string, objectKey string, metadata map[string]interface{}) error
	UpdateArchiveError(ctx context.Context, submissionID string, errorMsg string) error
	IncrementArchiveRetry(ctx context.Context, submissionID string) error
}

type Pool struct {
	config      *config.Config
	redisClient *redis.Client
	backend     *services.BackendClient
	s3Svc       *services.S3Service
	status      StatusStore
}

// NewPool wires the archival pool. status may be nil when history is off.
func NewPool(cfg *config.Config, redisClient *redis.Client, backend *services.BackendClient, status StatusStore) *Pool {
	return &Pool{
		config:      cfg,
		redisClient: redisClient,
		backend:     backend,
		s3Svc:       services.NewS3Service(cfg),
		status:      status,
	}
}

// NewJob builds the archive job for a successful submission.
func (p *Pool) NewJob(submissionID string, downloadURL string) models.ArchiveJob {
	return models.ArchiveJob{
		SubmissionID: submissionID,
		DownloadURL:  downloadURL,
		ObjectKey:    services.ArtifactKey(submissionID, downloadURL),
		MaxRetries:   p.config.MaxRetries,
		CreatedAt:    time.Now(),
		Timeout:      p.config.ArchiveTimeout,
	}
}

func (p *Pool) Enqueue(ctx context.Context, job models.ArchiveJob) error {
	jobJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode archive job: %w", err)
	}

	if err := p.redisClient.LPush(ctx, p.config.PendingQueue, jobJSON).Err(); err != nil {
		return fmt.Errorf("failed to enqueue archive job: %w", err)
	}

	p.setStatus(ctx, job.SubmissionID, "queued", nil)
	p.updateStatus(ctx, job.SubmissionID, "queued", "", nil)
	return nil
}

func (p *Pool) StartWorker(ctx context.Context, workerID int) {
	log.Printf("[Worker %d] Starting", workerID)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Worker %d] Shutting down", workerID)
			return
		default:
			// Atomic pop from pending and push to processing
			result, err := p.redisClient.BRPopLPush(
				ctx,
				p.config.PendingQueue,
				p.config.ProcessingQueue,
				30*time.Second,
			).Result()

			if err == redis.Nil {
				continue
			}

			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				log.Printf("[Worker %d] Redis error: %v", workerID, err)
				time.Sleep(5 * time.Second)
				continue
			}

			var job models.ArchiveJob
			if err := json.Unmarshal([]byte(result), &job); err != nil {
				log.Printf("[Worker %d] Failed to parse job: %v", workerID, err)
				p.redisClient.LRem(ctx, p.config.ProcessingQueue, 1, result)
				continue
			}

			p.processJob(ctx, workerID, &job, result)
		}
	}
}

func (p *Pool) processJob(ctx context.Context, workerID int, job *models.ArchiveJob, jobJSON string) {
	log.Printf("[Worker %d] Archiving submission %s (%s)", workerID, job.SubmissionID, job.DownloadURL)

	p.updateStatus(ctx, job.SubmissionID, "processing", "", nil)

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(job.Timeout)*time.Second)
	defer cancel()

	startTime := time.Now()

	localPath, contentType, err := p.backend.DownloadToTemp(timeoutCtx, job.DownloadURL, tempDir, job.SubmissionID)
	if err != nil {
		p.handleJobFailure(ctx, workerID, job, jobJSON, fmt.Sprintf("Artifact download failed: %v", err))
		return
	}
	defer p.s3Svc.Cleanup(localPath)

	if err := p.s3Svc.Upload(timeoutCtx, localPath, job.ObjectKey, contentType); err != nil {
		p.handleJobFailure(ctx, workerID, job, jobJSON, fmt.Sprintf("S3 upload failed: %v", err))
		return
	}

	duration := time.Since(startTime)
	metadata := map[string]interface{}{
		"worker_id":   workerID,
		"duration_ms": duration.Milliseconds(),
		"retries":     job.RetryCount,
	}

	p.updateStatus(ctx, job.SubmissionID, "completed", job.ObjectKey, metadata)
	p.setStatus(ctx, job.SubmissionID, "completed", map[string]interface{}{"object_key": job.ObjectKey})

	p.redisClient.LRem(ctx, p.config.ProcessingQueue, 1, jobJSON)

	log.Printf("[Worker %d] Submission %s archived to %s (%.2fs)", workerID, job.SubmissionID, job.ObjectKey, duration.Seconds())
}

// retryDelay is the exponential backoff before retry n, capped.
func retryDelay(n int) time.Duration {
	delay := time.Duration(math.Pow(2, float64(n))) * time.Second
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

func (p *Pool) handleJobFailure(ctx context.Context, workerID int, job *models.ArchiveJob, jobJSON string, errorMsg string) {
	log.Printf("[Worker %d] Archive of %s failed: %s", workerID, job.SubmissionID, errorMsg)

	p.redisClient.LRem(ctx, p.config.ProcessingQueue, 1, jobJSON)

	if p.status != nil {
		if err := p.status.IncrementArchiveRetry(ctx, job.SubmissionID); err != nil {
			log.Printf("[Worker %d] Failed to record retry: %v", workerID, err)
		}
	}

	if job.RetryCount < job.MaxRetries {
		job.RetryCount++
		newJobJSON, err := json.Marshal(job)
		if err != nil {
			log.Printf("[Worker %d] Failed to encode retry of %s: %v", workerID, job.SubmissionID, err)
			p.failJob(ctx, job.SubmissionID, jobJSON, errorMsg)
			return
		}
		delay := retryDelay(job.RetryCount)
		retry, maxRetries, submissionID := job.RetryCount, job.MaxRetries, job.SubmissionID

		time.AfterFunc(delay, func() {
			if err := p.redisClient.LPush(context.Background(), p.config.PendingQueue, newJobJSON).Err(); err != nil {
				log.Printf("[Worker %d] Failed to requeue %s: %v", workerID, submissionID, err)
				return
			}
			log.Printf("[Worker %d] Requeued retry %d/%d for %s after %v",
				workerID, retry, maxRetries, submissionID, delay)
		})
		return
	}

	p.failJob(ctx, job.SubmissionID, jobJSON, errorMsg)
	log.Printf("[Worker %d] Submission %s moved to failed queue after %d retries",
		workerID, job.SubmissionID, job.MaxRetries)
}

// failJob parks a job on the failed queue and records why.
func (p *Pool) failJob(ctx context.Context, submissionID string, jobJSON string, errorMsg string) {
	if err := p.redisClient.LPush(ctx, p.config.FailedQueue, jobJSON).Err(); err != nil {
		log.Printf("[Archive] Failed to move %s to failed queue: %v", submissionID, err)
	}

	p.updateStatus(ctx, submissionID, "failed", "", nil)
	if p.status != nil {
		if err := p.status.UpdateArchiveError(ctx, submissionID, errorMsg); err != nil {
			log.Printf("[Archive] Failed to record error of %s: %v", submissionID, err)
		}
	}
	p.setStatus(ctx, submissionID, "failed", map[string]interface{}{"error": errorMsg})
}

func (p *Pool) updateStatus(ctx context.Context, submissionID string, status string, objectKey string, metadata map[string]interface{}) {
	if p.status == nil {
		return
	}
	if err := p.status.UpdateArchiveStatus(ctx, submissionID, status, objectKey, metadata); err != nil {
		log.Printf("[Archive] Failed to update status of %s: %v", submissionID, err)
	}
}

// setStatus mirrors the archive state into a redis hash for quick lookups.
func (p *Pool) setStatus(ctx context.Context, submissionID string, status string, extra map[string]interface{}) {
	fields := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().Format(time.RFC3339),
	}
	for k, v := range extra {
		fields[k] = v
	}
	p.redisClient.HSet(ctx, p.config.StatusKeyPrefix+submissionID, fields)
}

func (p *Pool) RecoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(recoveryPeriod)
	defer ticker.Stop()

	log.Println("[Recovery] Starting stale archive job recovery loop")

	for {
		select {
		case <-ctx.Done():
			log.Println("[Recovery] Shutting down")
			return
		case <-ticker.C:
			p.recoverStaleJobs(ctx)
		}
	}
}

func isStale(job models.ArchiveJob, now time.Time) bool {
	return now.Sub(job.CreatedAt) > staleAfter
}

func (p *Pool) recoverStaleJobs(ctx context.Context) {
	jobs, err := p.redisClient.LRange(ctx, p.config.ProcessingQueue, 0, -1).Result()
	if err != nil {
		log.Printf("[Recovery] Failed to get processing queue: %v", err)
		return
	}

	recovered := 0
	now := time.Now()
	for _, jobJSON := range jobs {
		var job models.ArchiveJob
		if err := json.Unmarshal([]byte(jobJSON), &job); err != nil {
			continue
		}

		if !isStale(job, now) {
			continue
		}

		p.redisClient.LRem(ctx, p.config.ProcessingQueue, 1, jobJSON)

		if job.RetryCount >= job.MaxRetries {
			p.failJob(ctx, job.SubmissionID, jobJSON, "Archive timeout - exceeded 5 minutes")
			continue
		}

		job.RetryCount++
		job.CreatedAt = now
		newJobJSON, err := json.Marshal(job)
		if err != nil {
			log.Printf("[Recovery] Failed to encode %s: %v", job.SubmissionID, err)
			p.failJob(ctx, job.SubmissionID, jobJSON, err.Error())
			continue
		}
		if err := p.redisClient.LPush(ctx, p.config.PendingQueue, newJobJSON).Err(); err != nil {
			log.Printf("[Recovery] Failed to requeue %s: %v", job.SubmissionID, err)
			continue
		}
		if p.status != nil {
			if err := p.status.IncrementArchiveRetry(ctx, job.SubmissionID); err != nil {
				log.Printf("[Recovery] Failed to record retry of %s: %v", job.SubmissionID, err)
			}
		}
		recovered++
	}

	if recovered > 0 {
		log.Printf("[Recovery] Recovered %d stale archive jobs", recovered)
	}
}
