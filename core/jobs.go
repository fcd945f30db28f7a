package core

import (
	"log"
	"sync"
	"time"
)

// JobStore abstracts the job registry so it can be backed by an in-process
// map here and by a shared store in a multi-process deployment.
type JobStore interface {
	Get(id string) (*Job, bool)
	Put(job *Job)
	Delete(id string)
	List() []*Job
}

// MemoryJobStore keeps jobs in an in-memory map. One coordinator task writes
// each job; polling callers read concurrently. Get and List return copies so
// readers never see a record mid-mutation.
type MemoryJobStore struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	retention time.Duration
	ticker    *time.Ticker
	done      chan struct{}
}

func NewMemoryJobStore(retention time.Duration) *MemoryJobStore {
	s := &MemoryJobStore{
		jobs:      make(map[string]*Job),
		retention: retention,
		done:      make(chan struct{}),
	}
	if retention > 0 {
		s.ticker = time.NewTicker(time.Minute)
		go s.sweep()
	}
	return s
}

func (s *MemoryJobStore) Get(id string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	cp := *job
	return &cp, true
}

func (s *MemoryJobStore) Put(job *Job) {
	cp := *job
	cp.UpdatedAt = time.Now()
	s.mu.Lock()
	s.jobs[job.ID] = &cp
	s.mu.Unlock()
}

func (s *MemoryJobStore) Delete(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}

func (s *MemoryJobStore) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		cp := *job
		jobs = append(jobs, &cp)
	}
	return jobs
}

func (s *MemoryJobStore) Close() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.done)
}

// sweep evicts terminal jobs once they age past the retention window.
func (s *MemoryJobStore) sweep() {
	for {
		select {
		case <-s.done:
			return
		case <-s.ticker.C:
			s.evictExpired(time.Now())
		}
	}
}

func (s *MemoryJobStore) evictExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, job := range s.jobs {
		if job.Terminal() && !job.CompletedAt.IsZero() && now.Sub(job.CompletedAt) > s.retention {
			delete(s.jobs, id)
			log.Printf("[%s] evicted job after retention window", id)
		}
	}
}
