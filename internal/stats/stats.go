// Package stats tracks session counters and reporting. Counters are
// created once at process start and shared by workers and the protocol
// listener; they survive reconnects and algorithm switches.
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// SessionStats holds the cumulative mining counters.
type SessionStats struct {
	start time.Time

	cpuHashes atomic.Uint64
	gpuHashes atomic.Uint64

	sharesSent     atomic.Uint64
	sharesAccepted atomic.Uint64
	sharesRejected atomic.Uint64

	mu             sync.Mutex
	lastShareError string
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Uptime         time.Duration
	CPUHashes      uint64
	GPUHashes      uint64
	TotalHashes    uint64
	SharesSent     uint64
	SharesAccepted uint64
	SharesRejected uint64
	LastShareError string
}

// New returns zeroed session stats with the clock started.
func New() *SessionStats {
	return &SessionStats{start: time.Now()}
}

// AddCPUHashes adds a flushed batch of CPU hashes.
func (s *SessionStats) AddCPUHashes(n uint64) {
	s.cpuHashes.Add(n)
}

// AddGPUHashes adds a flushed batch of GPU hashes.
func (s *SessionStats) AddGPUHashes(n uint64) {
	s.gpuHashes.Add(n)
}

// ShareSent records a submitted share and returns the new sent total.
func (s *SessionStats) ShareSent() uint64 {
	return s.sharesSent.Add(1)
}

// ShareAccepted records a pool accept and returns the new accepted total.
func (s *SessionStats) ShareAccepted() uint64 {
	return s.sharesAccepted.Add(1)
}

// ShareRejected records a pool reject with its error text and returns
// the new rejected total.
func (s *SessionStats) ShareRejected(reason string) uint64 {
	s.mu.Lock()
	s.lastShareError = reason
	s.mu.Unlock()
	return s.sharesRejected.Add(1)
}

// TotalHashes returns CPU plus GPU hashes.
func (s *SessionStats) TotalHashes() uint64 {
	return s.cpuHashes.Load() + s.gpuHashes.Load()
}

// Accepted returns the accepted share count.
func (s *SessionStats) Accepted() uint64 {
	return s.sharesAccepted.Load()
}

// Rejected returns the rejected share count.
func (s *SessionStats) Rejected() uint64 {
	return s.sharesRejected.Load()
}

// Sent returns the sent share count.
func (s *SessionStats) Sent() uint64 {
	return s.sharesSent.Load()
}

// Snapshot copies all counters.
func (s *SessionStats) Snapshot() Snapshot {
	s.mu.Lock()
	lastErr := s.lastShareError
	uptime := time.Since(s.start)
	s.mu.Unlock()

	cpu := s.cpuHashes.Load()
	gpu := s.gpuHashes.Load()

	return Snapshot{
		Uptime:         uptime,
		CPUHashes:      cpu,
		GPUHashes:      gpu,
		TotalHashes:    cpu + gpu,
		SharesSent:     s.sharesSent.Load(),
		SharesAccepted: s.sharesAccepted.Load(),
		SharesRejected: s.sharesRejected.Load(),
		LastShareError: lastErr,
	}
}

// Reset zeroes all counters and restarts the clock. Only explicit user
// action calls this; reconnects and algorithm switches never do.
func (s *SessionStats) Reset() {
	s.cpuHashes.Store(0)
	s.gpuHashes.Store(0)
	s.sharesSent.Store(0)
	s.sharesAccepted.Store(0)
	s.sharesRejected.Store(0)

	s.mu.Lock()
	s.lastShareError = ""
	s.start = time.Now()
	s.mu.Unlock()
}

// AcceptRate returns accepted/(accepted+rejected) as a percentage, or
// 100 when no share has resolved yet.
func (sn Snapshot) AcceptRate() float64 {
	resolved := sn.SharesAccepted + sn.SharesRejected
	if resolved == 0 {
		return 100.0
	}
	return float64(sn.SharesAccepted) / float64(resolved) * 100.0
}
