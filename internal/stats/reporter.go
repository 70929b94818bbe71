package stats

import (
	"context"
	"time"

	"github.com/hako/durafmt"

	"github.com/zion-network/zminer/internal/mining"
	"github.com/zion-network/zminer/pkg/log"
)

// SessionInfo supplies the live session fields the reporter cannot get
// from the counters alone.
type SessionInfo func() (algorithm, state string, gpuEnabled bool)

// Reporter logs a periodic status line and keeps the stats file fresh.
type Reporter struct {
	logger   *log.Logger
	stats    *SessionStats
	jobs     *mining.JobState
	info     SessionInfo
	interval time.Duration
	filePath string

	lastTotal uint64
	lastCPU   uint64
	lastGPU   uint64
	lastAt    time.Time
}

// NewReporter creates a reporter. filePath may be empty to disable the
// stats file.
func NewReporter(logger *log.Logger, st *SessionStats, jobs *mining.JobState,
	info SessionInfo, interval time.Duration, filePath string) *Reporter {

	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reporter{
		logger:   logger.WithComponent("stats"),
		stats:    st,
		jobs:     jobs,
		info:     info,
		interval: interval,
		filePath: filePath,
		lastAt:   time.Now(),
	}
}

// Run reports until the context is cancelled, then prints the final
// session summary.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.FinalSummary()
			return
		case <-ticker.C:
			r.report()
		}
	}
}

// report logs one status line and refreshes the stats file.
func (r *Reporter) report() {
	snap := r.stats.Snapshot()
	now := time.Now()
	window := now.Sub(r.lastAt).Seconds()
	if window <= 0 {
		window = 1
	}

	totalHps := float64(snap.TotalHashes-r.lastTotal) / window
	cpuHps := float64(snap.CPUHashes-r.lastCPU) / window
	gpuHps := float64(snap.GPUHashes-r.lastGPU) / window

	r.lastTotal = snap.TotalHashes
	r.lastCPU = snap.CPUHashes
	r.lastGPU = snap.GPUHashes
	r.lastAt = now

	job, _ := r.jobs.Snapshot()
	algo, state, gpu := r.info()

	logger := r.logger.WithFields(
		"algorithm", algo,
		"state", state,
		"accepted", snap.SharesAccepted,
		"rejected", snap.SharesRejected,
		"accept_rate_pct", snap.AcceptRate(),
	)
	if job != nil {
		logger = logger.WithJob(job.ID, job.Height).
			WithFields("difficulty", job.Difficulty)
	}
	logger.LogHashrate(totalHps, cpuHps, gpuHps)

	if r.filePath != "" {
		snapshot := buildFileSnapshot(snap, job, algo, state, gpu, totalHps, cpuHps, gpuHps)
		if err := WriteStatsFile(r.filePath, snapshot); err != nil {
			r.logger.WithError(err).Warn("stats file write failed")
		}
	}
}

// FinalSummary logs cumulative totals for the whole run.
func (r *Reporter) FinalSummary() {
	snap := r.stats.Snapshot()

	avgHps := 0.0
	if secs := snap.Uptime.Seconds(); secs > 0 {
		avgHps = float64(snap.TotalHashes) / secs
	}

	r.logger.Info("session summary",
		"uptime", durafmt.Parse(snap.Uptime.Round(time.Second)).String(),
		"total_hashes", snap.TotalHashes,
		"cpu_hashes", snap.CPUHashes,
		"gpu_hashes", snap.GPUHashes,
		"avg_hps", avgHps,
		"shares_sent", snap.SharesSent,
		"accepted", snap.SharesAccepted,
		"rejected", snap.SharesRejected,
		"accept_rate_pct", snap.AcceptRate(),
	)
}
