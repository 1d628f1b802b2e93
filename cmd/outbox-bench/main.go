// Command outbox-bench measures capture and relay throughput against MySQL.
//
// Producers place events through Store.Transact, so every event goes through the capture
// path, then a relay drains the table while the command records batch durations and the
// latency from placement to handling. The result is printed as JSON.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	outbox "github.com/velmie/txoutbox"
	"github.com/velmie/txoutbox/mysql"
)

const (
	defaultEvents       = 10000
	defaultProducers    = 4
	defaultWorkers      = 4
	defaultBatchSize    = 100
	defaultEventsPerTx  = 1
	defaultDrainTimeout = 2 * time.Minute
	benchPollInterval   = 10 * time.Millisecond
	percentileP50       = 0.50
	percentileP95       = 0.95
	percentileP99       = 0.99
)

var (
	errDSNRequired       = errors.New("outbox-bench: dsn is required")
	errProcessedMismatch = errors.New("outbox-bench: processed records mismatch")
)

type benchConfig struct {
	dsn          string
	table        string
	events       int
	eventsPerTx  int
	producers    int
	workers      int
	batchSize    int
	reset        bool
	drainTimeout time.Duration
}

type result struct {
	Events            int     `json:"events"`
	EventsPerTx       int     `json:"events_per_tx"`
	Producers         int     `json:"producers"`
	Workers           int     `json:"workers"`
	BatchSize         int     `json:"batch_size"`
	CaptureSeconds    float64 `json:"capture_seconds"`
	CaptureThroughput float64 `json:"capture_events_per_sec"`
	RelaySeconds      float64 `json:"relay_seconds"`
	RelayThroughput   float64 `json:"relay_events_per_sec"`
	Processed         int64   `json:"processed"`
	LatencyP50Ms      float64 `json:"latency_p50_ms"`
	LatencyP95Ms      float64 `json:"latency_p95_ms"`
	LatencyP99Ms      float64 `json:"latency_p99_ms"`
	LatencyMaxMs      float64 `json:"latency_max_ms"`
	BatchP50Ms        float64 `json:"batch_p50_ms"`
	BatchP95Ms        float64 `json:"batch_p95_ms"`
	BatchP99Ms        float64 `json:"batch_p99_ms"`
	BatchSamples      int     `json:"batch_samples"`
}

// benchPlaced carries its placement time so the handler can measure delivery latency.
type benchPlaced struct {
	Seq      int64     `json:"seq"`
	PlacedAt time.Time `json:"placedAt"`
}

func (benchPlaced) EventType() string { return "BenchPlaced" }

type placement struct {
	outbox.Recorder
}

func main() {
	cfg := benchConfig{}
	flag.StringVar(&cfg.dsn, "dsn", "", "MySQL DSN")
	flag.StringVar(&cfg.table, "table", "outbox_bench", "Outbox table name")
	flag.IntVar(&cfg.events, "events", defaultEvents, "Events to place")
	flag.IntVar(&cfg.eventsPerTx, "events-per-tx", defaultEventsPerTx, "Events raised per transaction")
	flag.IntVar(&cfg.producers, "producers", defaultProducers, "Concurrent producers")
	flag.IntVar(&cfg.workers, "workers", defaultWorkers, "Relay workers")
	flag.IntVar(&cfg.batchSize, "batch-size", defaultBatchSize, "Relay batch size")
	flag.BoolVar(&cfg.reset, "reset", true, "Drop and recreate the table first")
	flag.DurationVar(&cfg.drainTimeout, "drain-timeout", defaultDrainTimeout, "Max time to drain the table")
	flag.Parse()

	res, err := run(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res)
}

func run(cfg benchConfig) (result, error) {
	if cfg.dsn == "" {
		return result{}, errDSNRequired
	}
	cfg.eventsPerTx = max(cfg.eventsPerTx, 1)
	cfg.producers = max(cfg.producers, 1)

	db, err := mysql.Open(cfg.dsn)
	if err != nil {
		return result{}, err
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.producers + cfg.workers + 2)

	store, err := mysql.NewStore(db, mysql.WithTable(cfg.table))
	if err != nil {
		return result{}, err
	}
	ctx := context.Background()
	if cfg.reset {
		if err := resetTable(ctx, db, store.Table()); err != nil {
			return result{}, err
		}
	}

	res := result{
		Events:      cfg.events,
		EventsPerTx: cfg.eventsPerTx,
		Producers:   cfg.producers,
		Workers:     cfg.workers,
		BatchSize:   cfg.batchSize,
	}

	start := time.Now()
	if err := produce(ctx, store, cfg); err != nil {
		return res, err
	}
	res.CaptureSeconds = time.Since(start).Seconds()
	res.CaptureThroughput = perSecond(cfg.events, res.CaptureSeconds)

	latency := &durationStats{}
	metrics := &benchMetrics{target: int64(cfg.events)}
	start = time.Now()
	if err := drain(ctx, store, cfg, metrics, latency); err != nil {
		return res, err
	}
	res.RelaySeconds = time.Since(start).Seconds()
	res.RelayThroughput = perSecond(cfg.events, res.RelaySeconds)
	res.Processed = metrics.Processed()
	if res.Processed < int64(cfg.events) {
		return res, fmt.Errorf("%w: processed %d of %d", errProcessedMismatch, res.Processed, cfg.events)
	}

	lat := latency.Snapshot()
	res.LatencyP50Ms, res.LatencyP95Ms = msFloat(lat.P50), msFloat(lat.P95)
	res.LatencyP99Ms, res.LatencyMaxMs = msFloat(lat.P99), msFloat(lat.Max)
	batches := metrics.batch.Snapshot()
	res.BatchP50Ms, res.BatchP95Ms, res.BatchP99Ms = msFloat(batches.P50), msFloat(batches.P95), msFloat(batches.P99)
	res.BatchSamples = batches.Count

	return res, nil
}

func resetTable(ctx context.Context, db *sql.DB, table string) error {
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("drop table: %w", err)
	}
	schema, err := mysql.Schema(table)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	return nil
}

func produce(ctx context.Context, store *mysql.Store, cfg benchConfig) error {
	var (
		next int64
		wg   sync.WaitGroup
	)
	errCh := make(chan error, cfg.producers)

	for i := 0; i < cfg.producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				first := atomic.AddInt64(&next, int64(cfg.eventsPerTx)) - int64(cfg.eventsPerTx)
				if first >= int64(cfg.events) {
					return
				}
				last := min(first+int64(cfg.eventsPerTx), int64(cfg.events))

				err := store.Transact(ctx, func(_ context.Context, _ *sql.Tx, session *outbox.Session) error {
					source := &placement{}
					for seq := first; seq < last; seq++ {
						source.Raise(benchPlaced{Seq: seq, PlacedAt: time.Now()})
					}
					session.Track(source)

					return nil
				})
				if err != nil {
					errCh <- fmt.Errorf("transact: %w", err)
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errCh)

	return <-errCh
}

func drain(ctx context.Context, store *mysql.Store, cfg benchConfig, metrics *benchMetrics, latency *durationStats) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.drainTimeout)
	defer cancel()
	metrics.cancel = cancel

	registry := outbox.NewRegistry()
	outbox.MustRegister[benchPlaced](registry)
	router := outbox.NewRouter()
	outbox.On(router, func(_ context.Context, event benchPlaced) error {
		latency.Add(time.Since(event.PlacedAt))
		return nil
	})

	relay := outbox.NewRelay(store, registry, router,
		outbox.WithBatchSize(cfg.batchSize),
		outbox.WithWorkers(cfg.workers),
		outbox.WithPollInterval(benchPollInterval),
		outbox.WithIdleInterval(benchPollInterval),
		outbox.WithMetrics(metrics),
	)

	return relay.Run(ctx)
}

// benchMetrics counts processed records and stops the relay once the target is reached.
type benchMetrics struct {
	outbox.NopMetrics

	processed int64
	target    int64
	cancel    func()
	batch     durationStats
}

func (m *benchMetrics) ObserveBatchDuration(d time.Duration) {
	m.batch.Add(d)
}

func (m *benchMetrics) AddProcessed(n int) {
	if n == 0 {
		return
	}
	total := atomic.AddInt64(&m.processed, int64(n))
	if m.target > 0 && m.cancel != nil && total >= m.target {
		m.cancel()
	}
}

func (m *benchMetrics) Processed() int64 {
	return atomic.LoadInt64(&m.processed)
}

type durationStats struct {
	mu      sync.Mutex
	samples []time.Duration
}

func (s *durationStats) Add(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.samples = append(s.samples, d)
	s.mu.Unlock()
}

func (s *durationStats) Snapshot() snapshot {
	s.mu.Lock()
	samples := append([]time.Duration(nil), s.samples...)
	s.mu.Unlock()
	if len(samples) == 0 {
		return snapshot{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	return snapshot{
		P50:   percentile(samples, percentileP50),
		P95:   percentile(samples, percentileP95),
		P99:   percentile(samples, percentileP99),
		Max:   samples[len(samples)-1],
		Count: len(samples),
	}
}

type snapshot struct {
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
	Count int
}

func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(samples)))) - 1
	idx = max(idx, 0)
	idx = min(idx, len(samples)-1)

	return samples[idx]
}

func perSecond(count int, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}

	return float64(count) / seconds
}

func msFloat(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
