package orchestrator

import (
	"context"
	"sort"
)

// Store is the persistence abstraction for transcode jobs.
// Implementations can be in-memory or SQLite-backed. The Repository uses Store
// for all reads and writes and serializes access to it; callers of Repository
// do not need to know which Store is used.
type Store interface {
	GetJob(ctx context.Context, assetID string) (TranscodeJob, bool, error)
	PutJob(ctx context.Context, job TranscodeJob) error
	CountByStatus(ctx context.Context, statuses ...JobStatus) (int, error)
	ListByStatus(ctx context.Context, statuses ...JobStatus) ([]TranscodeJob, error)
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	jobs map[string]TranscodeJob
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		jobs: make(map[string]TranscodeJob),
	}
}

// GetJob implements Store.GetJob.
func (s *InMemoryStore) GetJob(_ context.Context, assetID string) (TranscodeJob, bool, error) {
	job, ok := s.jobs[assetID]
	if !ok {
		return TranscodeJob{}, false, nil
	}
	return job.clone(), true, nil
}

// PutJob implements Store.PutJob.
func (s *InMemoryStore) PutJob(_ context.Context, job TranscodeJob) error {
	s.jobs[job.AssetID] = job.clone()
	return nil
}

// CountByStatus implements Store.CountByStatus.
func (s *InMemoryStore) CountByStatus(_ context.Context, statuses ...JobStatus) (int, error) {
	n := 0
	for _, job := range s.jobs {
		for _, st := range statuses {
			if job.Status == st {
				n++
				break
			}
		}
	}
	return n, nil
}

// ListByStatus implements Store.ListByStatus. Jobs are ordered by asset id.
func (s *InMemoryStore) ListByStatus(_ context.Context, statuses ...JobStatus) ([]TranscodeJob, error) {
	var out []TranscodeJob
	for _, job := range s.jobs {
		for _, st := range statuses {
			if job.Status == st {
				out = append(out, job.clone())
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}
