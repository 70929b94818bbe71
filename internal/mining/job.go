package mining

import (
	"sync"
	"sync/atomic"
)

// Job is one unit of pool work. Jobs are immutable once installed;
// workers copy the blob before writing a nonce into it.
type Job struct {
	ID         string
	Blob       []byte
	SeedHash   string
	NextSeed   string
	Height     uint64
	Difficulty uint64
	Algorithm  Algorithm
	Target     *Target
	CleanJobs  bool
}

// NonceRange is a half-open interval [Start, Start+Count) of nonces
// assigned to one worker batch.
type NonceRange struct {
	Start uint64
	Count uint64
}

// NonceAllocator hands out disjoint nonce ranges from a shared cursor.
type NonceAllocator struct {
	mu   sync.Mutex
	next uint64
}

// Allocate reserves count nonces and returns their range. Successive
// calls return pairwise disjoint ranges forming a contiguous prefix.
func (a *NonceAllocator) Allocate(count uint64) NonceRange {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := NonceRange{Start: a.next, Count: count}
	a.next += count
	return r
}

// Reset rewinds the cursor to zero. Called when a new job is installed.
func (a *NonceAllocator) Reset() {
	a.mu.Lock()
	a.next = 0
	a.mu.Unlock()
}

// JobState is the shared view of the current job. Install replaces the
// job wholesale and bumps the version; hot loops poll Version with a
// lock-free read to detect staleness between snapshots.
type JobState struct {
	mu        sync.Mutex
	current   *Job
	version   atomic.Uint64
	allocator NonceAllocator
}

// NewJobState returns an empty job state at version zero.
func NewJobState() *JobState {
	return &JobState{}
}

// Install replaces the current job, bumps the version and rewinds the
// nonce allocator. The previous job is never mutated in place.
func (s *JobState) Install(job *Job) uint64 {
	s.mu.Lock()
	s.current = job
	v := s.version.Add(1)
	s.mu.Unlock()

	s.allocator.Reset()
	return v
}

// Snapshot returns the current job and its version. The job may be nil
// before the first install.
func (s *JobState) Snapshot() (*Job, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.version.Load()
}

// Version returns the current version without taking the mutex.
func (s *JobState) Version() uint64 {
	return s.version.Load()
}

// Allocator returns the shared nonce allocator.
func (s *JobState) Allocator() *NonceAllocator {
	return &s.allocator
}
