// zminer is a pool mining client. It speaks line-delimited JSON-RPC to
// the pool, fans nonce search across CPU workers and an optional GPU
// worker, and reports stats to the log, a stats file and optional
// telemetry sinks.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/zion-network/zminer/internal/config"
	"github.com/zion-network/zminer/internal/hasher"
	"github.com/zion-network/zminer/internal/mining"
	"github.com/zion-network/zminer/internal/session"
	"github.com/zion-network/zminer/internal/stats"
	"github.com/zion-network/zminer/internal/telemetry"
	"github.com/zion-network/zminer/pkg/log"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	benchmark := flag.Bool("benchmark", false, "run an offline hashrate benchmark and exit")
	benchDuration := flag.Duration("duration", time.Minute, "benchmark duration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zminer: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)

	algo, err := mining.ParseAlgorithm(cfg.Algorithm)
	if err != nil {
		logger.WithError(err).Error("invalid algorithm")
		os.Exit(1)
	}

	if *benchmark {
		if err := runBenchmark(cfg, logger, algo, *benchDuration); err != nil {
			logger.WithError(err).Error("benchmark failed")
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, logger, algo); err != nil {
		logger.WithError(err).Error("miner exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *log.Logger, algo mining.Algorithm) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := stats.New()

	workerID := cfg.Wallet
	if cfg.Worker != "" {
		workerID = cfg.Wallet + "." + cfg.Worker
	}

	controller := session.New(session.Config{
		PoolAddr:        cfg.PoolAddr(),
		Wallet:          cfg.Wallet,
		Worker:          cfg.Worker,
		UserAgent:       cfg.UserAgent,
		Algorithm:       algo,
		CPUThreads:      cfg.CPUThreads,
		GPUBatchSize:    cfg.GPUBatchSize,
		GPUEnabled:      cfg.GPUEnabled,
		ProviderVariant: hasher.Variant(cfg.ProviderVariant),
		Duration:        cfg.Duration,
	}, logger, st, nil)

	info := func() (string, string, bool) {
		return controller.Algorithm().String(), controller.State().String(), controller.GPUDesired()
	}

	var wg sync.WaitGroup

	var tm *telemetry.Manager
	if cfg.TelemetryEnabled() {
		tcfg := telemetry.Config{
			Worker:   workerID,
			Interval: cfg.StatsInterval,
		}
		if cfg.InfluxURL != "" {
			tcfg.Influx = &telemetry.InfluxConfig{
				URL: cfg.InfluxURL, Token: cfg.InfluxToken,
				Org: cfg.InfluxOrg, Bucket: cfg.InfluxBucket,
			}
		}
		if cfg.RedisAddr != "" {
			tcfg.Redis = &telemetry.RedisConfig{
				Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB,
			}
		}
		if len(cfg.KafkaBrokers) > 0 {
			tcfg.Kafka = &telemetry.KafkaConfig{
				Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic,
			}
		}

		tm = telemetry.NewManager(tcfg, logger, st, controller.Jobs(), info)
		controller.SetEvents(tm)
		wg.Add(1)
		go func() {
			defer wg.Done()
			tm.Run(ctx)
		}()
	}

	reporter := stats.NewReporter(logger, st, controller.Jobs(), info,
		cfg.StatsInterval, cfg.StatsFile)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reporter.Run(ctx)
	}()

	// Signals quit cleanly; a second signal kills hard via the default
	// handler once we stop catching.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("signal received, shutting down")
		controller.Send(session.CmdQuit)
		signal.Stop(sigCh)
	}()

	go readCommands(controller, reporter, st, logger)

	logger.Info("starting miner",
		"pool", cfg.PoolAddr(),
		"wallet", cfg.Wallet,
		"worker", cfg.Worker,
		"algorithm", algo.String(),
		"cpu_threads", cfg.CPUThreads,
		"gpu_enabled", cfg.GPUEnabled,
	)

	err := controller.Run(ctx)

	cancel()
	wg.Wait()
	return err
}

// readCommands mirrors the interactive hotkeys on stdin, one command
// per line.
func readCommands(controller *session.Controller, reporter *stats.Reporter,
	st *stats.SessionStats, logger *log.Logger) {

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.ToLower(scanner.Text()))
		if line == "" {
			continue
		}

		switch line[0] {
		case 'h':
			fmt.Println("commands: h(elp) s(ummary) p(ause) g(pu toggle) r(econnect) a(lgo next) x(reset stats) q(uit)")
		case 's':
			reporter.FinalSummary()
		case 'p':
			controller.Send(session.CmdPause)
		case 'g':
			controller.Send(session.CmdToggleGPU)
		case 'r':
			controller.Send(session.CmdReconnect)
		case 'a':
			controller.Send(session.CmdCycleAlgorithm)
		case 'x':
			st.Reset()
			logger.Info("stats reset")
		case 'q':
			controller.Send(session.CmdQuit)
			return
		default:
			fmt.Println("unknown command, h for help")
		}
	}
}

// runBenchmark measures offline hashrate with the configured provider.
func runBenchmark(cfg *config.Config, logger *log.Logger, algo mining.Algorithm,
	duration time.Duration) error {

	var provider hasher.Provider
	var err error
	if cfg.ProviderVariant != "" {
		provider, err = hasher.New(hasher.Variant(cfg.ProviderVariant))
	} else {
		provider, err = hasher.ForAlgorithm(algo)
	}
	if err != nil {
		return err
	}
	defer func() { _ = provider.Close() }()

	logger.Info("benchmark starting",
		"algorithm", algo.String(),
		"provider", string(provider.Variant()),
		"threads", cfg.CPUThreads,
		"duration", duration.String(),
	)

	blob := make([]byte, 76)
	var total atomic.Uint64
	var stop atomic.Bool

	var wg sync.WaitGroup
	for i := 0; i < cfg.CPUThreads; i++ {
		wg.Add(1)
		go func(offset uint64) {
			defer wg.Done()
			local := make([]byte, len(blob))
			copy(local, blob)

			var count uint64
			for nonce := offset; !stop.Load(); nonce += uint64(cfg.CPUThreads) {
				if algo.NonceInBlob() {
					if err := mining.ApplyNonce(local, uint32(nonce)); err != nil {
						return
					}
				}
				if _, err := provider.Compute(local, nonce); err != nil {
					continue
				}
				count++
				if count%1024 == 0 {
					total.Add(1024)
				}
			}
			total.Add(count % 1024)
		}(uint64(i))
	}

	time.Sleep(duration)
	stop.Store(true)
	wg.Wait()

	hashes := total.Load()
	hps := float64(hashes) / duration.Seconds()
	logger.Info("benchmark complete",
		"hashes", hashes,
		"hps", hps,
		"khps", hps/1000.0,
	)
	return nil
}
