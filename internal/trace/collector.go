// Package trace records latency and outcome metrics for gated tool-call
// batches and server-manager operations.
package trace

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"aegis/internal/safety"
)

// recentSampleCap bounds the in-memory sample ring kept for status queries.
const recentSampleCap = 128

// Outcome labels a completed batch.
type Outcome string

const (
	OutcomeExecuted   Outcome = "executed"
	OutcomeHeld       Outcome = "held"
	OutcomeDenied     Outcome = "denied"
	OutcomeFailed     Outcome = "failed"
	OutcomeRolledBack Outcome = "rolled_back"
)

// Sample is one recorded batch observation.
type Sample struct {
	ID        string                `json:"id"`
	BatchSize int                   `json:"batch_size"`
	Decision  safety.DecisionStatus `json:"decision"`
	RiskLevel safety.RiskLevel      `json:"risk_level"`
	Outcome   Outcome               `json:"outcome"`
	Duration  time.Duration         `json:"duration"`
	At        time.Time             `json:"at"`
}

// Config controls metric export. Disabled collectors still keep the recent
// sample ring; they just emit no metrics.
type Config struct {
	Enabled bool
}

// Collector records batch observations. Safe for concurrent use.
type Collector struct {
	batches   metric.Int64Counter
	latency   metric.Float64Histogram
	rollbacks metric.Int64Counter

	recent *lru.Cache[string, Sample]
}

// NewCollector builds a collector; when cfg.Enabled, it wires an OTel meter
// backed by a Prometheus exporter so samples are scrapeable.
func NewCollector(cfg Config) (*Collector, error) {
	recent, err := lru.New[string, Sample](recentSampleCap)
	if err != nil {
		return nil, fmt.Errorf("create sample ring: %w", err)
	}

	c := &Collector{recent: recent}
	if !cfg.Enabled {
		return c, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("aegis")

	c.batches, err = meter.Int64Counter(
		"aegis.gate.batches.total",
		metric.WithDescription("Total number of gated tool-call batches"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create batch counter: %w", err)
	}

	c.latency, err = meter.Float64Histogram(
		"aegis.gate.latency",
		metric.WithDescription("Gate decision-to-outcome latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create latency histogram: %w", err)
	}

	c.rollbacks, err = meter.Int64Counter(
		"aegis.gate.rollbacks.total",
		metric.WithDescription("Total number of batch rollbacks"),
		metric.WithUnit("{rollback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rollback counter: %w", err)
	}

	return c, nil
}

// Handler returns the Prometheus scrape handler.
func (c *Collector) Handler() http.Handler {
	return promclient.Handler()
}

// Record stores one observation. A missing id gets generated so the sample
// is addressable in the ring.
func (c *Collector) Record(ctx context.Context, sample Sample) Sample {
	if sample.ID == "" {
		sample.ID = uuid.NewString()
	}
	if sample.At.IsZero() {
		sample.At = time.Now()
	}
	c.recent.Add(sample.ID, sample)

	attrs := metric.WithAttributes(
		attribute.String("decision", string(sample.Decision)),
		attribute.String("risk_level", string(sample.RiskLevel)),
		attribute.String("outcome", string(sample.Outcome)),
	)
	if c.batches != nil {
		c.batches.Add(ctx, 1, attrs)
	}
	if c.latency != nil {
		c.latency.Record(ctx, sample.Duration.Seconds(), attrs)
	}
	if c.rollbacks != nil && sample.Outcome == OutcomeRolledBack {
		c.rollbacks.Add(ctx, 1)
	}

	return sample
}

// Recent returns the retained samples, oldest first.
func (c *Collector) Recent() []Sample {
	keys := c.recent.Keys()
	samples := make([]Sample, 0, len(keys))
	for _, key := range keys {
		if sample, ok := c.recent.Peek(key); ok {
			samples = append(samples, sample)
		}
	}
	return samples
}

// Lookup returns one retained sample by id.
func (c *Collector) Lookup(id string) (Sample, bool) {
	return c.recent.Peek(id)
}
