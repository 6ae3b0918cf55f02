package jobs

import (
	"fmt"
	"time"
)

// Store holds every job. It is owned by the coordinator and is not safe for
// concurrent use. Updates replace the whole record so a reader never observes
// a half-applied change.
type Store struct {
	jobs  map[string]Job
	order []string
}

func NewStore() *Store {
	return &Store{jobs: make(map[string]Job)}
}

func (s *Store) Add(job Job) error {
	if _, found := s.jobs[job.ID]; found {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	return nil
}

// Get returns a copy of the job.
func (s *Store) Get(id string) (Job, bool) {
	job, found := s.jobs[id]
	return job, found
}

// Update commits a new version of an existing job.
func (s *Store) Update(job Job) error {
	current, found := s.jobs[job.ID]
	if !found {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	if !CanTransition(current.Status, job.Status) {
		return newTransitionError(job.ID, current.Status, job.Status)
	}
	if job.Status != StatusError {
		job.Error = ""
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[job.ID] = job
	return nil
}

func (s *Store) Remove(id string) bool {
	if _, found := s.jobs[id]; !found {
		return false
	}
	delete(s.jobs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *Store) Clear() {
	s.jobs = make(map[string]Job)
	s.order = nil
}

// List returns all jobs in creation order.
func (s *Store) List() []Job {
	out := make([]Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.jobs[id])
	}
	return out
}

func (s *Store) Len() int {
	return len(s.jobs)
}

func (s *Store) CountByStatus() map[Status]int {
	counts := make(map[Status]int, len(AllStatuses))
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts
}

// Active reports whether any job is still moving through the pipeline.
func (s *Store) Active() bool {
	for _, job := range s.jobs {
		if !job.Status.IsTerminal() {
			return true
		}
	}
	return false
}
