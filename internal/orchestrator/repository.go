package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Repository defines the concurrency-safe contract for recording transcode
// jobs. Status changes are monotonic: Pending -> Running -> {Succeeded, Failed}.
type Repository interface {
	// CreateJob records a new Pending job. ErrJobExists if the asset id is taken.
	CreateJob(ctx context.Context, assetID string, ladder Ladder) (TranscodeJob, error)

	// MarkRunning moves a Pending job to Running.
	MarkRunning(ctx context.Context, assetID string) error

	// MarkSucceeded moves a Running job to Succeeded and records its outputs.
	MarkSucceeded(ctx context.Context, assetID string, outputs map[string]string) error

	// MarkFailed moves a non-terminal job to Failed with the cause's message.
	MarkFailed(ctx context.Context, assetID string, cause error) error

	// GetJob returns a snapshot of the job, or ErrJobNotFound.
	GetJob(ctx context.Context, assetID string) (TranscodeJob, error)

	// ActiveJobCount returns the number of jobs not yet terminal. Used for metrics.
	ActiveJobCount(ctx context.Context) (int, error)

	// ActiveJobs returns snapshots of every job not yet terminal.
	ActiveJobs(ctx context.Context) ([]TranscodeJob, error)
}

// JobRepository is a concurrency-safe implementation of Repository over a Store.
type JobRepository struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
}

// NewInMemoryRepository constructs a repository with a default in-memory store.
func NewInMemoryRepository() *JobRepository {
	return NewRepositoryWithStore(NewInMemoryStore())
}

// NewRepositoryWithStore constructs a repository that uses the given Store.
func NewRepositoryWithStore(store Store) *JobRepository {
	return &JobRepository{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// CreateJob implements Repository.CreateJob.
func (r *JobRepository) CreateJob(ctx context.Context, assetID string, ladder Ladder) (TranscodeJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists, err := r.store.GetJob(ctx, assetID); err != nil {
		return TranscodeJob{}, err
	} else if exists {
		return TranscodeJob{}, ErrJobExists
	}

	now := r.now()
	job := TranscodeJob{
		AssetID:    assetID,
		Renditions: append(Ladder(nil), ladder...),
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.store.PutJob(ctx, job); err != nil {
		return TranscodeJob{}, err
	}
	return job.clone(), nil
}

// MarkRunning implements Repository.MarkRunning.
func (r *JobRepository) MarkRunning(ctx context.Context, assetID string) error {
	return r.transition(ctx, assetID, StatusRunning, nil)
}

// MarkSucceeded implements Repository.MarkSucceeded.
func (r *JobRepository) MarkSucceeded(ctx context.Context, assetID string, outputs map[string]string) error {
	return r.transition(ctx, assetID, StatusSucceeded, func(job *TranscodeJob) {
		job.Outputs = make(map[string]string, len(outputs))
		for k, v := range outputs {
			job.Outputs[k] = v
		}
	})
}

// MarkFailed implements Repository.MarkFailed.
func (r *JobRepository) MarkFailed(ctx context.Context, assetID string, cause error) error {
	return r.transition(ctx, assetID, StatusFailed, func(job *TranscodeJob) {
		job.Outputs = nil
		if cause != nil {
			job.Error = cause.Error()
		}
	})
}

// GetJob implements Repository.GetJob.
func (r *JobRepository) GetJob(ctx context.Context, assetID string) (TranscodeJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok, err := r.store.GetJob(ctx, assetID)
	if err != nil {
		return TranscodeJob{}, err
	}
	if !ok {
		return TranscodeJob{}, ErrJobNotFound
	}
	return job, nil
}

// ActiveJobCount implements Repository.ActiveJobCount.
func (r *JobRepository) ActiveJobCount(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.store.CountByStatus(ctx, StatusPending, StatusRunning)
}

// ActiveJobs implements Repository.ActiveJobs.
func (r *JobRepository) ActiveJobs(ctx context.Context) ([]TranscodeJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.store.ListByStatus(ctx, StatusPending, StatusRunning)
}

func (r *JobRepository) transition(ctx context.Context, assetID string, next JobStatus, mutate func(*TranscodeJob)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok, err := r.store.GetJob(ctx, assetID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrJobNotFound
	}
	if !job.Status.canTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, next)
	}

	job.Status = next
	job.UpdatedAt = r.now()
	if mutate != nil {
		mutate(&job)
	}
	return r.store.PutJob(ctx, job)
}
