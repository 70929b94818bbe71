package telemetry

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// InfluxConfig holds InfluxDB connection configuration
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxSink writes miner time-series metrics.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// NewInfluxSink connects and verifies InfluxDB health.
func NewInfluxSink(cfg *InfluxConfig) (*InfluxSink, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		client.Close()
		return nil, fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}, nil
}

// WriteHashrateMetric writes one hashrate measurement window.
func (s *InfluxSink) WriteHashrateMetric(worker, algorithm string, totalHps, cpuHps, gpuHps float64) {
	tags := map[string]string{
		"worker":    worker,
		"algorithm": algorithm,
	}

	fields := map[string]interface{}{
		"hashrate":     totalHps,
		"cpu_hashrate": cpuHps,
		"gpu_hashrate": gpuHps,
	}

	point := write.NewPoint("miner_hashrate", tags, fields, time.Now())
	s.writeAPI.WritePoint(point)
}

// WriteShareMetric writes cumulative share counters.
func (s *InfluxSink) WriteShareMetric(worker, algorithm string, sent, accepted, rejected uint64) {
	tags := map[string]string{
		"worker":    worker,
		"algorithm": algorithm,
	}

	fields := map[string]interface{}{
		"sent":     int64(sent),
		"accepted": int64(accepted),
		"rejected": int64(rejected),
	}

	point := write.NewPoint("miner_shares", tags, fields, time.Now())
	s.writeAPI.WritePoint(point)
}

// Close flushes pending points and shuts the connection.
func (s *InfluxSink) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}
