// Package session drives the mining session lifecycle: connect,
// handshake, mine, and the transitions between pause, reconnect,
// algorithm switch and shutdown.
package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/zion-network/zminer/internal/hasher"
	"github.com/zion-network/zminer/internal/mining"
	"github.com/zion-network/zminer/internal/stats"
	"github.com/zion-network/zminer/internal/stratum"
	"github.com/zion-network/zminer/internal/worker"
	"github.com/zion-network/zminer/pkg/circuit"
	"github.com/zion-network/zminer/pkg/log"
	"github.com/zion-network/zminer/pkg/retry"
)

// State is the controller's lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateMining
	StatePaused
	StateReconnecting
	StateSwitchingAlgorithm
	StateQuitting
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateMining:
		return "mining"
	case StatePaused:
		return "paused"
	case StateReconnecting:
		return "reconnecting"
	case StateSwitchingAlgorithm:
		return "switching_algorithm"
	case StateQuitting:
		return "quitting"
	default:
		return "unknown"
	}
}

// Command is an operator request delivered to the running controller.
type Command int

const (
	CmdPause Command = iota
	CmdToggleGPU
	CmdCycleAlgorithm
	CmdReconnect
	CmdQuit
)

// action is what one mined session asks the outer loop to do next.
type action int

const (
	actionReconnect action = iota
	actionSwitchAlgo
	actionQuit
)

// firstJobWait bounds how long a fresh handshake waits for the pool to
// send work before the attempt is abandoned.
const firstJobWait = 5 * time.Second

// pollInterval is how often the mining loop checks the job mailbox and
// connection health.
const pollInterval = 250 * time.Millisecond

// EventSink receives session lifecycle events. Implementations must be
// non-blocking and best-effort; a nil sink is valid.
type EventSink interface {
	SessionEvent(kind string, fields map[string]any)
}

// Config holds everything one controller needs to mine.
type Config struct {
	PoolAddr  string
	Wallet    string
	Worker    string
	UserAgent string

	Algorithm mining.Algorithm

	CPUThreads   int
	GPUBatchSize int
	GPUEnabled   bool

	// ProviderVariant forces a specific hash provider instead of the
	// per-algorithm preference order. Used by benchmarks and dev runs.
	ProviderVariant hasher.Variant

	// Duration bounds the mining run; zero means mine until told to stop.
	Duration time.Duration
}

// Controller owns one mining lifecycle: it builds and tears down
// clients, providers and worker pools across reconnects and algorithm
// switches while the stats and job version counter persist.
type Controller struct {
	cfg    Config
	logger *log.Logger
	stats  *stats.SessionStats
	events EventSink

	jobs    *mining.JobState
	breaker *circuit.Breaker

	state      atomic.Int32
	algorithm  atomic.Value // mining.Algorithm
	gpuDesired atomic.Bool

	cmds chan Command
}

// New creates a controller. events may be nil.
func New(cfg Config, logger *log.Logger, st *stats.SessionStats, events EventSink) *Controller {
	c := &Controller{
		cfg:     cfg,
		logger:  logger.WithComponent("session"),
		stats:   st,
		events:  events,
		jobs:    mining.NewJobState(),
		breaker: circuit.New(nil),
		cmds:    make(chan Command, 8),
	}
	c.algorithm.Store(cfg.Algorithm)
	c.gpuDesired.Store(cfg.GPUEnabled)
	return c
}

// SetEvents installs an event sink. Must be called before Run.
func (c *Controller) SetEvents(events EventSink) {
	c.events = events
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Algorithm returns the algorithm currently mined.
func (c *Controller) Algorithm() mining.Algorithm {
	return c.algorithm.Load().(mining.Algorithm)
}

// Jobs exposes the shared job state for reporting.
func (c *Controller) Jobs() *mining.JobState {
	return c.jobs
}

// GPUDesired reports the operator's GPU preference. The effective state
// may be off when the algorithm has no GPU path.
func (c *Controller) GPUDesired() bool {
	return c.gpuDesired.Load()
}

// Send queues an operator command. Drops the command if the controller
// is too far behind, which only happens during shutdown.
func (c *Controller) Send(cmd Command) {
	select {
	case c.cmds <- cmd:
	default:
	}
}

func (c *Controller) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.logger.Info("state change", "from", old.String(), "to", s.String())
		c.emit("state_change", map[string]any{
			"from": old.String(), "to": s.String(),
		})
	}
}

func (c *Controller) emit(kind string, fields map[string]any) {
	if c.events != nil {
		c.events.SessionEvent(kind, fields)
	}
}

// Run mines until quit, a fatal error, context cancellation or the
// configured duration elapses. Counters and the job version survive
// every reconnect and algorithm switch.
func (c *Controller) Run(ctx context.Context) error {
	var deadline <-chan time.Time
	if c.cfg.Duration > 0 {
		timer := time.NewTimer(c.cfg.Duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		// Commands can arrive while no session is up.
		if act, handled := c.drainCommands(); handled && act == actionQuit {
			c.setState(StateQuitting)
			return nil
		}

		act, err := c.runSession(ctx, deadline)
		if err != nil {
			c.setState(StateQuitting)
			return err
		}

		switch act {
		case actionQuit:
			c.setState(StateQuitting)
			c.emit("quit", nil)
			return nil

		case actionSwitchAlgo:
			c.setState(StateSwitchingAlgorithm)
			c.switchAlgorithm()

		case actionReconnect:
			c.setState(StateReconnecting)
		}

		if ctx.Err() != nil {
			c.setState(StateQuitting)
			return ctx.Err()
		}
	}
}

// drainCommands handles commands that arrived while no session was up.
// Quit wins; pause and gpu toggles are remembered where it makes sense.
func (c *Controller) drainCommands() (action, bool) {
	for {
		select {
		case cmd := <-c.cmds:
			switch cmd {
			case CmdQuit:
				return actionQuit, true
			case CmdToggleGPU:
				c.gpuDesired.Store(!c.gpuDesired.Load())
			case CmdCycleAlgorithm:
				c.setState(StateSwitchingAlgorithm)
				c.switchAlgorithm()
			}
		default:
			return 0, false
		}
	}
}

// switchAlgorithm advances to the next algorithm in the cycle, skipping
// any whose provider cannot initialize.
func (c *Controller) switchAlgorithm() {
	current := c.Algorithm()
	next := current.Next()

	for next != current {
		if p, err := c.newProvider(next); err == nil {
			_ = p.Close()
			break
		} else {
			c.logger.WithError(err).WithAlgorithm(next.String()).
				Warn("no provider for algorithm, skipping")
			next = next.Next()
		}
	}

	if next == current {
		c.logger.WithAlgorithm(current.String()).
			Warn("no other algorithm available, staying")
		return
	}

	c.algorithm.Store(next)
	c.logger.Info("algorithm switched",
		"from", current.String(), "to", next.String())
	c.emit("algorithm_switch", map[string]any{
		"from": current.String(), "to": next.String(),
	})
}

func (c *Controller) newProvider(algo mining.Algorithm) (hasher.Provider, error) {
	if c.cfg.ProviderVariant != "" {
		return hasher.New(c.cfg.ProviderVariant)
	}
	return hasher.ForAlgorithm(algo)
}

// runSession runs one connect-to-teardown cycle and reports what the
// outer loop should do next. Only non-retryable setup failures (a
// missing provider at startup) surface as errors.
func (c *Controller) runSession(ctx context.Context, deadline <-chan time.Time) (action, error) {
	algo := c.Algorithm()

	provider, err := c.newProvider(algo)
	if err != nil {
		return actionQuit, err
	}
	defer func() { _ = provider.Close() }()

	client, err := c.establish(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return actionQuit, ctx.Err()
		}
		// A dead pool is not fatal; keep trying until told to stop.
		c.logger.WithError(err).Warn("could not establish session")
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return actionQuit, ctx.Err()
		}
		return actionReconnect, nil
	}
	defer func() { _ = client.Close() }()

	// The handshake is not complete until the pool sends work.
	first := client.WaitForJob(ctx, firstJobWait)
	if first == nil {
		c.logger.Warn("no job after handshake, reconnecting")
		return actionReconnect, nil
	}
	c.installJob(first, algo, client.Difficulty())

	pool := worker.New(worker.Config{
		CPUThreads:   c.cfg.CPUThreads,
		GPUBatchSize: c.cfg.GPUBatchSize,
		GPUEnabled:   c.gpuDesired.Load(),
	}, algo, provider, c.jobs, client, c.stats, c.logger)

	pool.Start()
	defer pool.Stop()

	c.setState(StateMining)
	c.emit("mining_started", map[string]any{
		"algorithm": algo.String(), "pool": c.cfg.PoolAddr,
	})

	return c.mineLoop(ctx, deadline, client, pool, algo), nil
}

// establish dials and handshakes with retry and the circuit breaker
// gating each attempt.
func (c *Controller) establish(ctx context.Context) (*stratum.Client, error) {
	c.setState(StateConnecting)

	workerID := c.cfg.Wallet
	if c.cfg.Worker != "" {
		workerID = c.cfg.Wallet + "." + c.cfg.Worker
	}

	attempt := func() (*stratum.Client, error) {
		client := stratum.NewClient(c.cfg.PoolAddr, workerID, c.logger, c.stats)

		if err := client.Connect(ctx); err != nil {
			return nil, err
		}

		c.setState(StateHandshaking)
		if _, err := client.Subscribe(ctx, c.cfg.UserAgent); err != nil {
			_ = client.Close()
			return nil, err
		}
		if err := client.Authorize(ctx, c.cfg.Wallet, c.cfg.Worker, c.Algorithm().String()); err != nil {
			_ = client.Close()
			return nil, err
		}
		return client, nil
	}

	return retry.DoWithResult(ctx, retry.ReconnectConfig(), func() (*stratum.Client, error) {
		var client *stratum.Client
		err := c.breaker.Execute(ctx, func() error {
			var err error
			client, err = attempt()
			return err
		})
		if err != nil {
			c.setState(StateConnecting)
			return nil, err
		}
		return client, nil
	})
}

// mineLoop services commands and the job mailbox until something ends
// this session.
func (c *Controller) mineLoop(ctx context.Context, deadline <-chan time.Time,
	client *stratum.Client, pool *worker.Pool, algo mining.Algorithm) action {

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return actionQuit

		case <-deadline:
			c.logger.Info("mining duration reached")
			return actionQuit

		case cmd := <-c.cmds:
			switch cmd {
			case CmdPause:
				if pool.Paused() {
					pool.Resume()
					c.setState(StateMining)
				} else {
					pool.Pause()
					c.setState(StatePaused)
				}

			case CmdToggleGPU:
				desired := !c.gpuDesired.Load()
				c.gpuDesired.Store(desired)
				pool.SetGPUEnabled(desired)
				c.logger.Info("gpu toggled",
					"desired", desired,
					"effective", pool.GPUEnabled(),
					"algorithm_supports_gpu", algo.SupportsGPU())

			case CmdCycleAlgorithm:
				return actionSwitchAlgo

			case CmdReconnect:
				c.logger.Info("reconnect requested")
				return actionReconnect

			case CmdQuit:
				return actionQuit
			}

		case <-ticker.C:
			if !client.Connected() {
				c.logger.Warn("connection lost",
					"reason", client.DisconnectReason())
				c.emit("disconnected", map[string]any{
					"reason": client.DisconnectReason(),
				})
				return actionReconnect
			}
			if job := client.NextJob(); job != nil {
				c.installJob(job, algo, client.Difficulty())
			}
		}
	}
}

// installJob converts a wire notification into an immutable job with a
// precomputed target and publishes it. Jobs without their own
// difficulty fall back to the pool's pushed difficulty.
func (c *Controller) installJob(n *stratum.JobNotification, algo mining.Algorithm, poolDiff uint64) {
	diff := n.Difficulty
	if diff == 0 {
		diff = poolDiff
	}
	if diff == 0 {
		diff = 1
	}

	job := &mining.Job{
		ID:         n.JobID,
		Blob:       n.Blob,
		SeedHash:   n.SeedHash,
		NextSeed:   n.NextSeed,
		Height:     n.Height,
		Difficulty: diff,
		Algorithm:  algo,
		Target:     mining.NewTarget(algo, diff),
		CleanJobs:  n.CleanJobs,
	}

	version := c.jobs.Install(job)
	c.logger.LogJobReceived(job.ID, job.Height, job.Difficulty, version)
}
