package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"RLSignal/internal/domain/models"
	domrepo "RLSignal/internal/domain/repository"
	"RLSignal/pkg/cache"
)

const (
	jobKeyPrefix    = "job"
	stateKey        = "state"
	trainingLockKey = "lock:training"
)

// CacheJobStore keeps training jobs and the state snapshot in a cache
// service: Redis-backed in production, in-memory when Redis is disabled.
type CacheJobStore struct {
	c   cache.Service
	ttl time.Duration
}

func NewCacheJobStore(c cache.Service, ttl time.Duration) *CacheJobStore {
	return &CacheJobStore{c: c, ttl: ttl}
}

func (s *CacheJobStore) SaveJob(ctx context.Context, job models.TrainingJob) error {
	if job.ID == "" {
		return fmt.Errorf("save job: empty id")
	}
	if err := s.c.Set(ctx, cache.Key(jobKeyPrefix, job.ID), job, s.ttl); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *CacheJobStore) GetJob(ctx context.Context, id string) (models.TrainingJob, error) {
	var job models.TrainingJob
	if err := s.c.Get(ctx, cache.Key(jobKeyPrefix, id), &job); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return job, domrepo.ErrNotFound
		}
		return job, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// SaveState stores the snapshot without expiry.
func (s *CacheJobStore) SaveState(ctx context.Context, st models.StateSnapshot) error {
	if err := s.c.Set(ctx, stateKey, st, 0); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (s *CacheJobStore) LoadState(ctx context.Context) (models.StateSnapshot, bool, error) {
	var st models.StateSnapshot
	if err := s.c.Get(ctx, stateKey, &st); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return st, false, nil
		}
		return st, false, fmt.Errorf("load state: %w", err)
	}
	return st, true, nil
}

func (s *CacheJobStore) AcquireTrainingLock(ctx context.Context, jobID string, ttl time.Duration) (bool, error) {
	if jobID == "" {
		return false, fmt.Errorf("acquire training lock: empty job id")
	}
	ok, err := s.c.TryLock(ctx, trainingLockKey, jobID, ttl)
	if err != nil {
		return false, fmt.Errorf("acquire training lock for %s: %w", jobID, err)
	}
	return ok, nil
}

// TrainingLockHolder returns the job holding the lock; false when it is
// free or expired.
func (s *CacheJobStore) TrainingLockHolder(ctx context.Context) (string, bool, error) {
	id, held, err := s.c.LockOwner(ctx, trainingLockKey)
	if err != nil {
		return "", false, fmt.Errorf("read training lock: %w", err)
	}
	return id, held, nil
}

// ReleaseTrainingLock frees the lock if jobID still holds it.
func (s *CacheJobStore) ReleaseTrainingLock(ctx context.Context, jobID string) (bool, error) {
	released, err := s.c.Unlock(ctx, trainingLockKey, jobID)
	if err != nil {
		return false, fmt.Errorf("release training lock for %s: %w", jobID, err)
	}
	return released, nil
}
