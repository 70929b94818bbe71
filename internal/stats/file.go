package stats

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hako/durafmt"

	"github.com/zion-network/zminer/internal/mining"
)

// FileSnapshot is the JSON document dashboards poll. Key names are part
// of the dashboard contract.
type FileSnapshot struct {
	UpdatedAt     string  `json:"updated_at"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Uptime        string  `json:"uptime"`

	Algorithm string `json:"algorithm"`
	State     string `json:"state"`

	Hashrate    float64 `json:"hashrate"`
	CPUHashrate float64 `json:"cpu_hashrate"`
	GPUHashrate float64 `json:"gpu_hashrate"`
	CPUHashes   uint64  `json:"cpu_hashes"`
	GPUHashes   uint64  `json:"gpu_hashes"`
	TotalHashes uint64  `json:"total_hashes"`

	SharesSent     uint64  `json:"shares_sent"`
	SharesAccepted uint64  `json:"shares_accepted"`
	SharesRejected uint64  `json:"shares_rejected"`
	AcceptRate     float64 `json:"accept_rate"`
	LastShareError string  `json:"last_share_error,omitempty"`

	GPUEnabled bool `json:"gpu_enabled"`

	JobID      string `json:"job_id,omitempty"`
	Height     uint64 `json:"height,omitempty"`
	Difficulty uint64 `json:"difficulty,omitempty"`
}

func buildFileSnapshot(snap Snapshot, job *mining.Job, algo, state string,
	gpu bool, totalHps, cpuHps, gpuHps float64) FileSnapshot {

	fs := FileSnapshot{
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: snap.Uptime.Seconds(),
		Uptime:        durafmt.Parse(snap.Uptime.Round(time.Second)).String(),

		Algorithm: algo,
		State:     state,

		Hashrate:    totalHps,
		CPUHashrate: cpuHps,
		GPUHashrate: gpuHps,
		CPUHashes:   snap.CPUHashes,
		GPUHashes:   snap.GPUHashes,
		TotalHashes: snap.TotalHashes,

		SharesSent:     snap.SharesSent,
		SharesAccepted: snap.SharesAccepted,
		SharesRejected: snap.SharesRejected,
		AcceptRate:     snap.AcceptRate(),
		LastShareError: snap.LastShareError,

		GPUEnabled: gpu,
	}

	if job != nil {
		fs.JobID = job.ID
		fs.Height = job.Height
		fs.Difficulty = job.Difficulty
	}
	return fs
}

// WriteStatsFile writes the snapshot atomically: a temp file in the
// same directory, then rename. Readers never see a partial document.
func WriteStatsFile(path string, snapshot FileSnapshot) error {
	data, err := sonic.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".zminer-stats-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp stats file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write stats: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close stats: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename stats: %w", err)
	}
	return nil
}
