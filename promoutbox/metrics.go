// Package promoutbox reports relay activity to Prometheus.
package promoutbox

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	outbox "github.com/velmie/txoutbox"
)

const defaultNamespace = "outbox"

// Metrics implements outbox.Metrics with Prometheus collectors.
type Metrics struct {
	batchDuration prometheus.Histogram
	processed     prometheus.Counter
	errors        prometheus.Counter
	retries       prometheus.Counter
	dead          prometheus.Counter
	skipped       prometheus.Counter
	pollErrors    prometheus.Counter
	fastPath      prometheus.Counter
	pending       prometheus.Gauge
}

var _ outbox.Metrics = (*Metrics)(nil)

// New creates the collectors under namespace and registers them with reg.
// An empty namespace defaults to "outbox".
func New(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}

	m := &Metrics{
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time spent processing one fetched batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		processed:  counter("records_processed_total", "Records dispatched and acknowledged by the relay."),
		errors:     counter("records_failed_total", "Records whose dispatch failed."),
		retries:    counter("records_retried_total", "Failed records left pending for a later attempt."),
		dead:       counter("records_dead_total", "Records moved to the dead-letter state."),
		skipped:    counter("records_skipped_total", "Records left untouched because their type key is unknown."),
		pollErrors: counter("poll_errors_total", "Failed fetch or flush attempts."),
		fastPath:   counter("fast_path_delivered_total", "Records delivered right after commit."),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_pending",
			Help:      "Pending records at the last sample.",
		}),
	}

	if reg != nil {
		var errs []error
		for _, c := range m.collectors() {
			errs = append(errs, reg.Register(c))
		}
		if err := errors.Join(errs...); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.batchDuration, m.processed, m.errors, m.retries, m.dead,
		m.skipped, m.pollErrors, m.fastPath, m.pending,
	}
}

func (m *Metrics) ObserveBatchDuration(d time.Duration) { m.batchDuration.Observe(d.Seconds()) }
func (m *Metrics) AddProcessed(count int)              { m.processed.Add(float64(count)) }
func (m *Metrics) AddErrors(count int)                 { m.errors.Add(float64(count)) }
func (m *Metrics) AddRetries(count int)                { m.retries.Add(float64(count)) }
func (m *Metrics) AddDead(count int)                   { m.dead.Add(float64(count)) }
func (m *Metrics) AddSkipped(count int)                { m.skipped.Add(float64(count)) }
func (m *Metrics) AddPollErrors(count int)             { m.pollErrors.Add(float64(count)) }
func (m *Metrics) AddFastPath(count int)               { m.fastPath.Add(float64(count)) }
func (m *Metrics) SetPending(count int)                { m.pending.Set(float64(count)) }
