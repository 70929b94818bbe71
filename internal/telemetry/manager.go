// Package telemetry publishes miner metrics and events to optional
// external sinks: InfluxDB time series, a Redis live-stats hash and a
// Kafka event stream. Every sink is best-effort; telemetry failures
// never stop mining.
package telemetry

import (
	"context"
	"time"

	"github.com/zion-network/zminer/internal/mining"
	"github.com/zion-network/zminer/internal/stats"
	"github.com/zion-network/zminer/pkg/circuit"
	"github.com/zion-network/zminer/pkg/log"
)

// Config enables each sink when its section is non-nil.
type Config struct {
	Worker   string
	Interval time.Duration

	Influx *InfluxConfig
	Redis  *RedisConfig
	Kafka  *KafkaConfig
}

// Manager coordinates the configured sinks. It implements the session
// event sink and runs a periodic metrics publisher.
type Manager struct {
	logger *log.Logger
	cfg    Config

	stats *stats.SessionStats
	jobs  *mining.JobState
	info  stats.SessionInfo

	influx *InfluxSink
	redis  *RedisSink
	kafka  *KafkaSink

	// Gates Redis writes so a dead endpoint stops costing a timeout
	// per tick.
	redisBreaker *circuit.Breaker

	events chan event

	lastTotal uint64
	lastCPU   uint64
	lastGPU   uint64
	lastAt    time.Time
}

// NewManager initializes whichever sinks are configured. A sink that
// fails to initialize is logged and skipped, never fatal.
func NewManager(cfg Config, logger *log.Logger, st *stats.SessionStats,
	jobs *mining.JobState, info stats.SessionInfo) *Manager {

	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}

	m := &Manager{
		logger:       logger.WithComponent("telemetry"),
		cfg:          cfg,
		stats:        st,
		jobs:         jobs,
		info:         info,
		redisBreaker: circuit.New(nil),
		events:       make(chan event, 64),
		lastAt:       time.Now(),
	}

	if cfg.Influx != nil {
		sink, err := NewInfluxSink(cfg.Influx)
		if err != nil {
			m.logger.WithError(err).Warn("influx sink disabled")
		} else {
			m.influx = sink
			m.logger.Info("influx sink enabled", "url", cfg.Influx.URL)
		}
	}

	if cfg.Redis != nil {
		sink, err := NewRedisSink(cfg.Redis)
		if err != nil {
			m.logger.WithError(err).Warn("redis sink disabled")
		} else {
			m.redis = sink
			m.logger.Info("redis sink enabled", "addr", cfg.Redis.Addr)
		}
	}

	if cfg.Kafka != nil {
		sink, err := NewKafkaSink(cfg.Kafka)
		if err != nil {
			m.logger.WithError(err).Warn("kafka sink disabled")
		} else {
			m.kafka = sink
			m.logger.Info("kafka sink enabled", "topic", cfg.Kafka.Topic)
		}
	}

	return m
}

// Enabled reports whether any sink is live.
func (m *Manager) Enabled() bool {
	return m.influx != nil || m.redis != nil || m.kafka != nil
}

// SessionEvent queues a lifecycle event for the Kafka stream. Never
// blocks; events are dropped when the queue is full.
func (m *Manager) SessionEvent(kind string, fields map[string]any) {
	if m.kafka == nil {
		return
	}
	select {
	case m.events <- event{Worker: m.cfg.Worker, Kind: kind, Fields: fields}:
	default:
		m.logger.Debug("event queue full, dropping", "kind", kind)
	}
}

// Run publishes metrics on the configured interval and drains the
// event queue until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	if !m.Enabled() {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.close()
			return
		case <-ticker.C:
			m.publishMetrics(ctx)
		case ev := <-m.events:
			m.publishEvent(ctx, ev)
		}
	}
}

func (m *Manager) publishMetrics(ctx context.Context) {
	snap := m.stats.Snapshot()
	now := time.Now()
	window := now.Sub(m.lastAt).Seconds()
	if window <= 0 {
		window = 1
	}

	totalHps := float64(snap.TotalHashes-m.lastTotal) / window
	cpuHps := float64(snap.CPUHashes-m.lastCPU) / window
	gpuHps := float64(snap.GPUHashes-m.lastGPU) / window

	m.lastTotal = snap.TotalHashes
	m.lastCPU = snap.CPUHashes
	m.lastGPU = snap.GPUHashes
	m.lastAt = now

	algo, state, gpu := m.info()

	if m.influx != nil {
		m.influx.WriteHashrateMetric(m.cfg.Worker, algo, totalHps, cpuHps, gpuHps)
		m.influx.WriteShareMetric(m.cfg.Worker, algo,
			snap.SharesSent, snap.SharesAccepted, snap.SharesRejected)
	}

	if m.redis != nil {
		job, _ := m.jobs.Snapshot()
		fs := buildRedisSnapshot(snap, job, algo, state, gpu, totalHps, cpuHps, gpuHps)

		err := m.redisBreaker.Execute(ctx, func() error {
			pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return m.redis.PublishSnapshot(pubCtx, m.cfg.Worker, fs)
		})
		if err != nil {
			m.logger.WithError(err).Debug("redis publish failed")
		}
	}
}

func buildRedisSnapshot(snap stats.Snapshot, job *mining.Job, algo, state string,
	gpu bool, totalHps, cpuHps, gpuHps float64) stats.FileSnapshot {

	fs := stats.FileSnapshot{
		UpdatedAt:      time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds:  snap.Uptime.Seconds(),
		Algorithm:      algo,
		State:          state,
		Hashrate:       totalHps,
		CPUHashrate:    cpuHps,
		GPUHashrate:    gpuHps,
		CPUHashes:      snap.CPUHashes,
		GPUHashes:      snap.GPUHashes,
		TotalHashes:    snap.TotalHashes,
		SharesSent:     snap.SharesSent,
		SharesAccepted: snap.SharesAccepted,
		SharesRejected: snap.SharesRejected,
		AcceptRate:     snap.AcceptRate(),
		LastShareError: snap.LastShareError,
		GPUEnabled:     gpu,
	}
	if job != nil {
		fs.JobID = job.ID
		fs.Height = job.Height
		fs.Difficulty = job.Difficulty
	}
	return fs
}

func (m *Manager) publishEvent(ctx context.Context, ev event) {
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := m.kafka.PublishEvent(pubCtx, ev.Worker, ev.Kind, ev.Fields); err != nil {
		m.logger.WithError(err).Debug("kafka publish failed", "kind", ev.Kind)
	}
}

func (m *Manager) close() {
	if m.influx != nil {
		m.influx.Close()
	}
	if m.redis != nil {
		_ = m.redis.Close()
	}
	if m.kafka != nil {
		_ = m.kafka.Close()
	}
}
