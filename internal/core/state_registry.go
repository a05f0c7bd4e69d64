package core

import (
	"context"
	"sync"
	"time"
)

// Registry is keyed storage for validation sessions and import jobs.
// Implementations must hand out copies so readers never share memory
// with the job's worker.
type Registry interface {
	PutSession(ctx context.Context, s ValidationSession) error
	GetSession(ctx context.Context, id string) (ValidationSession, bool, error)
	DeleteSession(ctx context.Context, id string) error

	PutJob(ctx context.Context, j ImportJob) error
	GetJob(ctx context.Context, id string) (ImportJob, bool, error)
	// UpdateJob applies fn to the stored job under the registry's lock and
	// returns the updated copy.
	UpdateJob(ctx context.Context, id string, fn func(*ImportJob)) (ImportJob, error)

	// Sweep removes sessions expired at now and terminal jobs completed
	// more than jobRetention before now. A zero retention keeps jobs.
	Sweep(ctx context.Context, now time.Time, jobRetention time.Duration) (SweepResult, error)
}

// SweepResult reports what one sweep removed.
type SweepResult struct {
	Sessions int
	Jobs     int
}

// MemoryRegistry is an in-process Registry backed by mutex-guarded maps.
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]ValidationSession
	jobs     map[string]ImportJob
}

// NewMemoryRegistry creates an empty in-process registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		sessions: make(map[string]ValidationSession),
		jobs:     make(map[string]ImportJob),
	}
}

var _ Registry = (*MemoryRegistry)(nil)

func (r *MemoryRegistry) PutSession(_ context.Context, s ValidationSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s.clone()
	return nil
}

func (r *MemoryRegistry) GetSession(_ context.Context, id string) (ValidationSession, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return ValidationSession{}, false, nil
	}
	return s.clone(), true, nil
}

func (r *MemoryRegistry) DeleteSession(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *MemoryRegistry) PutJob(_ context.Context, j ImportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j.Clone()
	return nil
}

func (r *MemoryRegistry) GetJob(_ context.Context, id string) (ImportJob, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return ImportJob{}, false, nil
	}
	return j.Clone(), true, nil
}

func (r *MemoryRegistry) UpdateJob(_ context.Context, id string, fn func(*ImportJob)) (ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return ImportJob{}, ErrJobNotFound
	}
	fn(&j)
	r.jobs[id] = j
	return j.Clone(), nil
}

func (r *MemoryRegistry) Sweep(_ context.Context, now time.Time, jobRetention time.Duration) (SweepResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res SweepResult
	for id, s := range r.sessions {
		if s.Expired(now) {
			delete(r.sessions, id)
			res.Sessions++
		}
	}

	if jobRetention <= 0 {
		return res, nil
	}
	for id, j := range r.jobs {
		if !j.Status.Terminal() || j.CompletedAt == nil {
			continue
		}
		if now.Sub(*j.CompletedAt) >= jobRetention {
			delete(r.jobs, id)
			res.Jobs++
		}
	}
	return res, nil
}

// Counts returns the number of stored sessions and jobs.
func (r *MemoryRegistry) Counts() (sessions, jobs int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), len(r.jobs)
}

// clone copies the slices so callers cannot alias registry storage.
func (s ValidationSession) clone() ValidationSession {
	out := s
	if s.Rows != nil {
		out.Rows = make([]RawRow, len(s.Rows))
		copy(out.Rows, s.Rows)
	}
	if s.Outcomes != nil {
		out.Outcomes = make([]RowOutcome, len(s.Outcomes))
		copy(out.Outcomes, s.Outcomes)
	}
	return out
}
