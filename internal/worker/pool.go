// Package worker runs the hashing loops: N CPU goroutines plus an
// optional GPU goroutine, all fed from a shared job state and nonce
// allocator.
package worker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zion-network/zminer/internal/hasher"
	"github.com/zion-network/zminer/internal/mining"
	"github.com/zion-network/zminer/internal/stats"
	"github.com/zion-network/zminer/pkg/log"
)

const (
	// CPU nonce batch per allocation.
	cpuBatchSize = 1000

	// Stop, pause and staleness are re-checked every 32 hashes.
	checkMask = 31

	// Hash counters are flushed in batches, never per hash.
	flushThreshold = 64
	flushInterval  = time.Second

	// Upper bound on one GPU dispatch regardless of configuration.
	maxGPUBatch = 50000

	// GPU digest scans re-check flags every this many entries.
	gpuScanCheck = 1024

	idleWait = 100 * time.Millisecond
)

// Submitter receives shares found by workers.
type Submitter interface {
	SubmitShare(jobID string, nonce uint32, digest [32]byte) error
}

// Config sizes the pool.
type Config struct {
	CPUThreads   int
	GPUBatchSize int
	GPUEnabled   bool
}

// Pool owns the worker goroutines for one session. Build a fresh pool
// after every reconnect or algorithm switch; the shared stats survive.
type Pool struct {
	cfg       Config
	logger    *log.Logger
	stats     *stats.SessionStats
	jobs      *mining.JobState
	submitter Submitter
	provider  hasher.Provider
	batch     hasher.BatchProvider
	algorithm mining.Algorithm

	stop       atomic.Bool
	paused     atomic.Bool
	gpuEnabled atomic.Bool

	wg sync.WaitGroup
}

// New creates a worker pool. The GPU loop only starts when the
// algorithm has a GPU path; the enabled flag can still be toggled at
// runtime without rebuilding the pool.
func New(cfg Config, algo mining.Algorithm, provider hasher.Provider,
	jobs *mining.JobState, submitter Submitter, st *stats.SessionStats,
	logger *log.Logger) *Pool {

	if cfg.CPUThreads < 1 {
		cfg.CPUThreads = 1
	}
	if cfg.GPUBatchSize < 1 || cfg.GPUBatchSize > maxGPUBatch {
		cfg.GPUBatchSize = maxGPUBatch
	}

	p := &Pool{
		cfg:       cfg,
		logger:    logger.WithComponent("worker"),
		stats:     st,
		jobs:      jobs,
		submitter: submitter,
		provider:  provider,
		batch:     hasher.AsBatch(provider),
		algorithm: algo,
	}
	p.gpuEnabled.Store(cfg.GPUEnabled && algo.SupportsGPU())
	return p
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.cfg.CPUThreads; i++ {
		p.wg.Add(1)
		go p.cpuLoop(i)
	}

	if p.algorithm.SupportsGPU() {
		p.wg.Add(1)
		go p.gpuLoop()
	}

	p.logger.Info("workers started",
		"cpu_threads", p.cfg.CPUThreads,
		"gpu", p.algorithm.SupportsGPU(),
		"gpu_enabled", p.gpuEnabled.Load())
}

// Stop signals every loop and waits for them to drain.
func (p *Pool) Stop() {
	p.stop.Store(true)
	p.wg.Wait()
}

// Pause halts hashing without tearing the pool down.
func (p *Pool) Pause() { p.paused.Store(true) }

// Resume restarts hashing after a Pause.
func (p *Pool) Resume() { p.paused.Store(false) }

// Paused reports whether the pool is paused.
func (p *Pool) Paused() bool { return p.paused.Load() }

// SetGPUEnabled toggles the GPU loop. Forced off when the algorithm
// has no GPU path.
func (p *Pool) SetGPUEnabled(enabled bool) {
	p.gpuEnabled.Store(enabled && p.algorithm.SupportsGPU())
}

// GPUEnabled reports whether the GPU loop is active.
func (p *Pool) GPUEnabled() bool { return p.gpuEnabled.Load() }

// cpuLoop is one CPU hashing goroutine. It snapshots the current job,
// claims a nonce batch and hashes it, re-checking staleness and control
// flags every few iterations.
func (p *Pool) cpuLoop(index int) {
	defer p.wg.Done()

	logger := p.logger.WithWorker("cpu", index)

	for !p.stop.Load() {
		if p.paused.Load() {
			time.Sleep(idleWait)
			continue
		}

		job, version := p.jobs.Snapshot()
		if job == nil {
			time.Sleep(idleWait)
			continue
		}

		r := p.jobs.Allocator().Allocate(cpuBatchSize)

		// Local copy: the installed job's blob is shared and immutable.
		blob := make([]byte, len(job.Blob))
		copy(blob, job.Blob)

		var pending uint64
		lastFlush := time.Now()

		for i := uint64(0); i < r.Count; i++ {
			if i&checkMask == 0 {
				if p.stop.Load() || p.paused.Load() || p.jobs.Version() != version {
					break
				}
				if pending > 0 && time.Since(lastFlush) >= flushInterval {
					p.stats.AddCPUHashes(pending)
					pending = 0
					lastFlush = time.Now()
				}
			}

			nonce := r.Start + i

			if job.Algorithm.NonceInBlob() {
				if err := mining.ApplyNonce(blob, uint32(nonce)); err != nil {
					logger.WithError(err).Error("blob too short, abandoning batch")
					break
				}
			}

			digest, err := p.provider.Compute(blob, nonce)
			if err != nil {
				// Skip this nonce, no retry.
				continue
			}
			pending++

			if job.Target.Meets(digest) {
				p.submit(logger, job, uint32(nonce), digest, "cpu")
			}

			if pending >= flushThreshold {
				p.stats.AddCPUHashes(pending)
				pending = 0
				lastFlush = time.Now()
			}
		}

		if pending > 0 {
			p.stats.AddCPUHashes(pending)
		}
	}
}

// gpuLoop dispatches large batches through the provider's batch path
// and scans the returned digests.
func (p *Pool) gpuLoop() {
	defer p.wg.Done()

	logger := p.logger.WithWorker("gpu", 0)

	for !p.stop.Load() {
		if p.paused.Load() || !p.gpuEnabled.Load() {
			time.Sleep(idleWait)
			continue
		}

		job, version := p.jobs.Snapshot()
		if job == nil {
			time.Sleep(idleWait)
			continue
		}

		r := p.jobs.Allocator().Allocate(uint64(p.cfg.GPUBatchSize))

		digests, err := p.batch.ComputeBatch(job.Blob, r.Start, int(r.Count))
		if err != nil {
			logger.WithError(err).Error("batch compute failed")
			time.Sleep(idleWait)
			continue
		}

		scanned := 0
		for i, digest := range digests {
			if i%gpuScanCheck == 0 {
				if p.stop.Load() || !p.gpuEnabled.Load() || p.jobs.Version() != version {
					break
				}
			}
			scanned++

			if job.Target.Meets(digest) {
				p.submit(logger, job, uint32(r.Start+uint64(i)), digest, "gpu")
			}
		}

		p.stats.AddGPUHashes(uint64(scanned))
	}
}

func (p *Pool) submit(logger *log.Logger, job *mining.Job, nonce uint32, digest [32]byte, backend string) {
	logger.LogShareFound(job.ID, uint64(nonce), backend)

	if err := p.submitter.SubmitShare(job.ID, nonce, digest); err != nil {
		logger.WithError(err).Warn("share submission failed")
	}
}
