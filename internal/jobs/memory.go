package jobs

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job), now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.Token]; ok {
		return ErrExists
	}
	job.Version = 0
	stamp(job, s.now())
	s.jobs[job.Token] = job.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, token string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[token]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) Replace(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.Token]
	if !ok {
		return ErrNotFound
	}
	job.Version = current.Version
	stamp(job, s.now())
	s.jobs[job.Token] = job.Clone()
	return nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, expected int64, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.Token]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expected {
		return ErrVersionMismatch
	}
	job.Version = expected
	stamp(job, s.now())
	s.jobs[job.Token] = job.Clone()
	return nil
}
